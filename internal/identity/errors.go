package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshFailed is matched by every *RefreshFailure.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrExchangeFailed is matched by every *ExchangeFailure.
	ErrExchangeFailed = errors.New("token exchange failed")

	// ErrIntrospectionFailed is matched by every *IntrospectionFailure.
	ErrIntrospectionFailed = errors.New("token introspection failed")
)

// IntrospectionFailure is a transport error or non-2xx response from the
// introspection endpoint. It is logged and counted, never returned: the
// token is simply treated as invalid.
type IntrospectionFailure struct {
	Status int
	Err    error
}

func (e *IntrospectionFailure) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d", ErrIntrospectionFailed, e.Status)
	}
	return fmt.Sprintf("%s: %v", ErrIntrospectionFailed, e.Err)
}

func (e *IntrospectionFailure) Is(target error) bool { return target == ErrIntrospectionFailed }
func (e *IntrospectionFailure) Unwrap() error       { return e.Err }

// RefreshFailure reports an unreachable refresh endpoint, a non-2xx response
// or a response missing any bundle field.
type RefreshFailure struct {
	// Status is the HTTP status, or 0 for transport errors.
	Status int
	Err    error
}

func (e *RefreshFailure) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", ErrRefreshFailed, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrRefreshFailed, e.Err)
}

func (e *RefreshFailure) Is(target error) bool { return target == ErrRefreshFailed }
func (e *RefreshFailure) Unwrap() error       { return e.Err }

// ExchangeFailure reports a third-party token exchange that was rejected or
// ran out of attempts.
type ExchangeFailure struct {
	// Message is the last error's message.
	Message string
	// Attempts is how many calls were made.
	Attempts int
	// Status is the last HTTP status, or 0 if the last attempt failed in transport.
	Status int
	Err    error
}

func (e *ExchangeFailure) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", ErrExchangeFailed, e.Attempts, e.Message)
}

func (e *ExchangeFailure) Is(target error) bool { return target == ErrExchangeFailed }
func (e *ExchangeFailure) Unwrap() error       { return e.Err }

// Rejected reports whether the provider refused the request with a 4xx.
// Retrying a rejected exchange cannot succeed.
func (e *ExchangeFailure) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}
