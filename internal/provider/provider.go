package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Channel delivers one text message to one destination on an external
// messaging service. Implementations retry transient failures internally;
// the returned error is the final outcome.
type Channel interface {
	Send(ctx context.Context, credential, destination, text string) error
}

// NetworkError is a transport failure: refused or reset connections, DNS
// failures, unreachable hosts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a per-attempt deadline expiry.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// RemoteError is a response the remote service rejected. It is never retried.
type RemoteError struct {
	StatusCode  int
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: status %d: %s", e.StatusCode, e.Description)
}

// classify maps a transport error to TimeoutError or NetworkError, and
// returns nil for errors that must not be retried.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return &NetworkError{Err: err}
	}
	return nil
}

// IsTransient reports whether err is a failure worth retrying.
func IsTransient(err error) bool {
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}
