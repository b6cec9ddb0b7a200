// Package apperr carries the error taxonomy every API caller sees: a stable
// machine-readable kind plus a human-readable message. Engine failures pass
// through with their original message under KindRuntime.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindRuntime        Kind = "runtime_error"
	KindRestartTimeout Kind = "restart_timeout"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps the underlying error reachable through errors.Is/As while the
// caller-visible message stays verbatim.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindRuntime
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusForbidden
	case KindRestartTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
