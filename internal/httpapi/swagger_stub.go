//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger does nothing unless built with -tags=swagger; /swagger/*
// then falls through to the router's 404.
func MountSwagger(chi.Router) {}
