package identity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies identity service failures so callers can branch
// without inspecting status codes.
type ErrorKind string

const (
	// KindUnauthorized means the service explicitly rejected the credential
	KindUnauthorized ErrorKind = "unauthorized"

	// KindValidation means the request itself was rejected (bad credentials,
	// locked account, malformed input). The service's detail message is
	// surfaced verbatim.
	KindValidation ErrorKind = "validation"

	// KindServer means the service failed (5xx)
	KindServer ErrorKind = "server"

	// KindNetwork means the request never produced a usable response
	// (connection refused, timeout, DNS failure)
	KindNetwork ErrorKind = "network"
)

// Error is a tagged identity service error
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.cause != nil {
		return fmt.Sprintf("identity service %s error: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("identity service %s error (status %d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsUnauthorized reports whether err is an explicit credential rejection.
// This is the only failure the session layer treats as fatal for a
// previously trusted credential.
func IsUnauthorized(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindUnauthorized
}

// IsNetwork reports whether err is a transport-level failure with no
// verdict on the credential.
func IsNetwork(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindNetwork
}
