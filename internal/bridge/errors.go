package bridge

import (
	"errors"
	"fmt"
)

// Code classifies a bridge failure.
type Code int

const (
	CodeUnknown Code = iota
	// Recoverable codes.
	CodeTimeout
	CodeBusy
	CodeTransient
	// Fatal codes.
	CodeInvalidModel
	CodeInvalidInput
	CodeUnsupported
	CodeUnavailable
	CodeInternal
)

var codeNames = map[Code]string{
	CodeUnknown:      "unknown",
	CodeTimeout:      "timeout",
	CodeBusy:         "busy",
	CodeTransient:    "transient",
	CodeInvalidModel: "invalid_model",
	CodeInvalidInput: "invalid_input",
	CodeUnsupported:  "unsupported",
	CodeUnavailable:  "unavailable",
	CodeInternal:     "internal",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Recoverable reports whether a retry may succeed.
func (c Code) Recoverable() bool {
	switch c {
	case CodeTimeout, CodeBusy, CodeTransient:
		return true
	}
	return false
}

// Error is the structured failure returned by every bridge operation.
type Error struct {
	Op   string
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("bridge %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("bridge %s: %s: %s", e.Op, e.Code, e.Msg)
}

// Recoverable reports whether the failure is worth retrying.
func (e *Error) Recoverable() bool { return e.Code.Recoverable() }

// Errorf builds an *Error.
func Errorf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code of err; errors not produced by a bridge are
// CodeUnknown.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}

// IsRecoverable reports whether err is a recoverable bridge error. Unknown
// errors are treated as fatal.
func IsRecoverable(err error) bool {
	return CodeOf(err).Recoverable()
}
