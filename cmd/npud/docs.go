package main

// General API documentation for swaggo. Run `swag init -g cmd/npud/docs.go`
// to generate docs.
//
// @title           npud API
// @version         1.0
// @description     HTTP API for NPU resource management and inference.
//
// @contact.name   npud maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
