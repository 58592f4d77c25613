package manager

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// tooBusyError signals a draining model or pinned model for 429 mapping.
type tooBusyError struct {
	modelID string
	reason  string
}

func (e tooBusyError) Error() string {
	if e.reason == "" {
		return "too busy: " + e.modelID
	}
	return "too busy: " + e.modelID + ": " + e.reason
}
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }
func (e tooBusyError) Kind() string    { return "too_busy" }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string   { return "model not found: " + e.id }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }
func (e modelNotFoundError) Kind() string    { return "model_not_found" }

// ErrModelNotFound returns an error when a requested model id is not present in the catalog.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// deviceUnavailableError signals that no accelerator is usable.
type deviceUnavailableError struct{ msg string }

func (e deviceUnavailableError) Error() string   { return "device unavailable: " + e.msg }
func (e deviceUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }
func (e deviceUnavailableError) Kind() string    { return "device_unavailable" }

func ErrDeviceUnavailable(msg string) error { return deviceUnavailableError{msg: msg} }

func IsDeviceUnavailable(err error) bool {
	var e deviceUnavailableError
	return errors.As(err, &e)
}

// ExhaustedKind names the admission constraint that failed.
type ExhaustedKind string

const (
	ExhaustedConcurrency ExhaustedKind = "concurrency"
	ExhaustedMemory      ExhaustedKind = "memory"
)

type resourceExhaustedError struct {
	kind        ExhaustedKind
	requestedMB uint64
	usedMB      uint64
	limitMB     uint64
	active      uint32
	maxActive   uint32
}

func (e resourceExhaustedError) Error() string {
	if e.kind == ExhaustedConcurrency {
		return fmt.Sprintf("resource exhausted (concurrency): %d/%d models active", e.active, e.maxActive)
	}
	return fmt.Sprintf("resource exhausted (memory): %d MB requested, %d/%d MB in use", e.requestedMB, e.usedMB, e.limitMB)
}
func (e resourceExhaustedError) StatusCode() int { return http.StatusTooManyRequests }
func (e resourceExhaustedError) Kind() string    { return "resource_exhausted" }

// IsResourceExhausted reports whether admission was denied.
func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}

// ExhaustedKindOf returns which constraint denied admission.
func ExhaustedKindOf(err error) (ExhaustedKind, bool) {
	var e resourceExhaustedError
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

type compilationFailedError struct {
	modelID string
	err     error
}

func (e compilationFailedError) Error() string {
	return fmt.Sprintf("compilation failed for %s: %v", e.modelID, e.err)
}
func (e compilationFailedError) Unwrap() error   { return e.err }
func (e compilationFailedError) StatusCode() int { return http.StatusBadGateway }
func (e compilationFailedError) Kind() string    { return "compilation_failed" }

func IsCompilationFailed(err error) bool {
	var e compilationFailedError
	return errors.As(err, &e)
}

type loadFailedError struct {
	modelID string
	err     error
}

func (e loadFailedError) Error() string   { return fmt.Sprintf("load failed for %s: %v", e.modelID, e.err) }
func (e loadFailedError) Unwrap() error   { return e.err }
func (e loadFailedError) StatusCode() int { return http.StatusBadGateway }
func (e loadFailedError) Kind() string    { return "load_failed" }

func IsLoadFailed(err error) bool {
	var e loadFailedError
	return errors.As(err, &e)
}

// errNotResident is the cause when a shared load finished but the entry was
// gone before the waiter could pin it.
var errNotResident = errors.New("not resident after load")

type validationFailedError struct{ msg string }

func (e validationFailedError) Error() string   { return "validation failed: " + e.msg }
func (e validationFailedError) StatusCode() int { return http.StatusBadRequest }
func (e validationFailedError) Kind() string    { return "validation_failed" }

// ErrValidation builds a validation error.
func ErrValidation(format string, args ...any) error {
	return validationFailedError{msg: fmt.Sprintf(format, args...)}
}

func IsValidationFailed(err error) bool {
	var e validationFailedError
	return errors.As(err, &e)
}

type predictionFailedError struct {
	modelID     string
	attempts    int
	recoverable bool
	err         error
}

func (e predictionFailedError) Error() string {
	return fmt.Sprintf("prediction failed for %s after %d attempt(s): %v", e.modelID, e.attempts, e.err)
}
func (e predictionFailedError) Unwrap() error   { return e.err }
func (e predictionFailedError) StatusCode() int { return http.StatusBadGateway }
func (e predictionFailedError) Kind() string    { return "prediction_failed" }

func IsPredictionFailed(err error) bool {
	var e predictionFailedError
	return errors.As(err, &e)
}

// Recoverable reports whether a prediction failure was of a retryable kind.
func Recoverable(err error) bool {
	var e predictionFailedError
	return errors.As(err, &e) && e.recoverable
}

// Attempts returns how many predict attempts a failed request made.
func Attempts(err error) int {
	var e predictionFailedError
	if errors.As(err, &e) {
		return e.attempts
	}
	return 0
}

// timeoutError means the caller stopped waiting; the native call may still
// be running.
type timeoutError struct {
	modelID string
	after   time.Duration
}

func (e timeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.after, e.modelID)
}
func (e timeoutError) StatusCode() int { return http.StatusGatewayTimeout }
func (e timeoutError) Kind() string    { return "timeout" }

func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

type invalidConfigError struct {
	field string
	msg   string
}

func (e invalidConfigError) Error() string   { return "invalid " + e.field + ": " + e.msg }
func (e invalidConfigError) StatusCode() int { return http.StatusBadRequest }
func (e invalidConfigError) Kind() string    { return "invalid_config" }

func IsInvalidConfig(err error) bool {
	var e invalidConfigError
	return errors.As(err, &e)
}
