package domain

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// NormalizationError is fatal for one record only.
type NormalizationError struct {
	SourceID int64
	Field    string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize review %d: %s: %v", e.SourceID, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// MismatchError: the review exists but belongs to another listing.
type MismatchError struct {
	ReviewID string
	Claimed  string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("review %s belongs to listing %s, not %s", e.ReviewID, e.Actual, e.Claimed)
}

// PersistenceError wraps a store failure. Callers may retry.
type PersistenceError struct {
	Op       string
	EntityID string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Persist wraps err as a PersistenceError unless it is nil or already a domain
// error the caller should see as-is.
func Persist(op, id string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, EntityID: id, Err: err}
}

// AuditWriteError is reported but never rolls back the approval it describes.
type AuditWriteError struct {
	ReviewID string
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit append for %s: %v", e.ReviewID, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
