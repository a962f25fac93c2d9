package types

import (
	"errors"
	"fmt"
	"time"
)

// Normalization errors. A record failing with one of these is skipped; the
// rest of the batch continues.
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrOutOfRange           = errors.New("value out of range")
	ErrUnknownSchema        = errors.New("unknown source schema")
	ErrInvalidValue         = errors.New("invalid field value")
)

// Store errors.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrStaleWrite      = errors.New("stale write")
	ErrStorage         = errors.New("storage unavailable")
	ErrStoreClosed     = errors.New("store is closed")
	ErrInvalidID       = errors.New("invalid entity ID")
	ErrInvalidName     = errors.New("invalid name")
	ErrDuplicateName   = errors.New("name already in use")
	ErrInvalidData     = errors.New("invalid entity data")
	ErrEntryNotInBag   = errors.New("entry does not belong to the bag")
	ErrPlasticNotFound = errors.New("plastic not found")
)

// Query errors.
var (
	ErrEmptyCatalog       = errors.New("catalog is empty")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidOrientation = errors.New("invalid orientation")
	ErrInvalidGrid        = errors.New("invalid grid configuration")
	ErrUnresolvedDisc     = errors.New("bag references a disc missing from the catalog")
)

// Sync errors.
var (
	ErrNoFeed          = errors.New("no feed configured")
	ErrFeedUnavailable = errors.New("feed unavailable")
)

// NormalizationError describes why one raw record could not be normalized.
type NormalizationError struct {
	Kind   error // one of the normalization sentinels
	Source string
	Schema string
	Field  string
	Value  any
}

func (e *NormalizationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("normalize %s/%s: %s: %v (%v)", e.Source, e.Schema, e.Field, e.Kind, e.Value)
	}
	return fmt.Sprintf("normalize %s/%s: %s: %v", e.Source, e.Schema, e.Field, e.Kind)
}

func (e *NormalizationError) Unwrap() error { return e.Kind }

// StaleWriteError is returned when an incoming record is not newer than the
// stored one. Callers decide how to resolve it; the store never drops the
// write silently.
type StaleWriteError struct {
	ID       string
	Stored   time.Time
	Incoming time.Time
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for %s: stored %s, incoming %s",
		e.ID, e.Stored.Format(time.RFC3339Nano), e.Incoming.Format(time.RFC3339Nano))
}

func (e *StaleWriteError) Unwrap() error { return ErrStaleWrite }

// QueryError carries the offending input of a rejected query.
type QueryError struct {
	Kind   error
	Detail string
}

func (e *QueryError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *QueryError) Unwrap() error { return e.Kind }
