package api

import (
	"errors"
	"fmt"
)

// Kind classifies a remote-call failure.
type Kind string

const (
	KindInvalidURL      Kind = "invalidURL"
	KindInvalidResponse Kind = "invalidResponse"
	KindUnauthorized    Kind = "unauthorized"
	KindServerError     Kind = "serverError"
	KindDecodingError   Kind = "decodingError"
	KindNetworkError    Kind = "networkError"
)

// Error is the typed failure every remote call may raise.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Retryable reports whether the failure is transient: a retry on a later
// drain pass can change the outcome. Auth and decode failures cannot be
// fixed by retrying.
func Retryable(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == KindNetworkError || apiErr.Kind == KindServerError
}
