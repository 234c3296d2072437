package reconcile

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

var (
	ErrInvalidBatch = errors.New("invalid batch record")
	errNoTimestamp  = errors.New("batch timestamp missing")
	errNoBatchID    = errors.New("batch id missing")
)

// ValidationError rejects input before any query is issued.
type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

// RetrievalError means the order store could not be queried for Date. No
// decision is written when a run fails this way.
type RetrievalError struct {
	Date civil.Date
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieving orders for %s: %v", e.Date, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// PersistError means the decision for BatchID could not be written.
type PersistError struct {
	BatchID string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persisting decision for batch %s: %v", e.BatchID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// ValidateBatch rejects records a run cannot evaluate.
func ValidateBatch(batch BatchRecord) error {
	if batch.ID == "" {
		return ValidationError{reason: fmt.Errorf("%w: %w", ErrInvalidBatch, errNoBatchID)}
	}
	if batch.Timestamp.IsZero() {
		return ValidationError{reason: fmt.Errorf("%w: %w", ErrInvalidBatch, errNoTimestamp)}
	}
	return nil
}
