package errors

import (
	"context"
	"errors"
	"net"
)

// Remote store errors.
var (
	ErrNotFound    = errors.New("remote resource not found")
	ErrForbidden   = errors.New("remote operation forbidden")
	ErrConflict    = errors.New("remote resource changed concurrently")
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// Key material errors.
var (
	ErrKeyCollectionMissing = errors.New("remote key collection missing")
	ErrKeyMaterialMissing   = errors.New("local key material missing")
	ErrInvalidPassphrase    = errors.New("passphrase does not unlock key material")
)

// Sync errors.
var (
	ErrAutoSyncDisabled = errors.New("master auto-sync is disabled")
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later. That covers an
// explicit TransientError anywhere in the chain, deadline expiry, and
// network-level failures (timeouts, DNS, refused or reset connections).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
