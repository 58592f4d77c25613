package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"npud/internal/manager"
	"npud/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// kinder is implemented by errors that carry a machine-readable kind.
type kinder interface {
	Kind() string
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

// statusOf maps a service error to an HTTP status and kind.
func statusOf(err error) (int, string) {
	var kind string
	var k kinder
	if errors.As(err, &k) {
		kind = k.Kind()
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, kind
}

// writeError renders err and counts 429s as backpressure.
func writeError(w http.ResponseWriter, err error) int {
	status, kind := statusOf(err)
	if status == http.StatusTooManyRequests {
		reason := kind
		if ek, ok := manager.ExhaustedKindOf(err); ok {
			reason = string(ek)
		}
		IncrementBackpressure(reason)
	}
	writeJSONError(w, status, err.Error(), kind)
	return status
}
