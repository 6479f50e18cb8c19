package domain

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable indicates the ledger source could not be reached or
// returned an unusable response. The poll loop converts it into a backoff,
// never a crash.
var ErrSourceUnavailable = errors.New("ledger source unavailable")

// ErrInvalidProgress indicates an attempt to move the progress cursor
// backward. This is a programming-error class: tests fail on it, the poll
// loop logs and continues.
var ErrInvalidProgress = errors.New("progress cursor cannot move backward")

// EnrichmentError wraps a failed or timed-out generation call. Callers
// substitute a fallback narrative and continue.
type EnrichmentError struct {
	Err error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed: %v", e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// DeliveryError wraps a rejected or timed-out notification delivery.
// The dispatcher requeues the job once, then drops it.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// CacheIOError wraps a failed persistence read or write in the cache
// layer. The operation degrades to memory-only.
type CacheIOError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }
