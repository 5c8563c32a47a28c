package types

import (
	"errors"
	"fmt"
)

// ErrTokenNotFound is returned by registry lookups for token ids that have
// no known market mapping.
var ErrTokenNotFound = errors.New("token id not found in registry")

// MalformedEventError marks a fill event that fails structural validation.
// Counted and skipped, never fatal to a batch.
type MalformedEventError struct {
	TxHash string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed fill event %s: %s", e.TxHash, e.Reason)
}

// UnresolvedMarketError marks a token id whose market could not be resolved
// after discovery retries were exhausted. The event is parked for a later
// pass, not dropped.
type UnresolvedMarketError struct {
	TokenID string
	Cause   error
}

func (e *UnresolvedMarketError) Error() string {
	return fmt.Sprintf("market unresolved for token %s: %v", e.TokenID, e.Cause)
}

func (e *UnresolvedMarketError) Unwrap() error { return e.Cause }

// ConflictingMarketError marks metadata that contradicts an existing
// token→market mapping. The prior mapping is kept.
type ConflictingMarketError struct {
	TokenID          string
	ExistingMarketID string
	NewMarketID      string
}

func (e *ConflictingMarketError) Error() string {
	return fmt.Sprintf("token %s already mapped to market %s, rejecting conflicting market %s",
		e.TokenID, e.ExistingMarketID, e.NewMarketID)
}

// TransientNetworkError wraps a feed or discovery call failure that is
// retryable with backoff.
type TransientNetworkError struct {
	Op    string
	Cause error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error in %s: %v", e.Op, e.Cause)
}

func (e *TransientNetworkError) Unwrap() error { return e.Cause }

// FatalConfigurationError marks a required input source that is unreachable
// or missing at stage start. The stage aborts and its checkpoint is left
// untouched.
type FatalConfigurationError struct {
	Reason string
}

func (e *FatalConfigurationError) Error() string {
	return "fatal configuration error: " + e.Reason
}

// IsTransient reports whether err is, or wraps, a TransientNetworkError.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}
