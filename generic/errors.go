/*
errors.go - Base error types shared by the engine and its stores

PURPOSE:
  Errors that are not specific to perks: malformed periods, storage
  failures and optimistic-concurrency conflicts. The perks package
  defines the business taxonomy (already redeemed, insufficient
  remaining value, ...) on top of these.

ERROR CATEGORIES:
  1. Validation errors - Malformed cycle configuration
  2. Store errors - Database-level failures, duplicate active rows

USAGE:
  if errors.Is(err, generic.ErrStorage) {
      // connectivity / constraint problem, surface as 500
  }

SEE ALSO:
  - perks/errors.go: Business errors returned by the redemption ledger
  - store/sqlite/sqlite.go: Maps driver errors onto these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a cycle config cannot produce a window.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrStorage matches every StorageError.
	ErrStorage = errors.New("storage failure")

	// ErrConcurrentModification is returned when a write would leave two active
	// rows for the same user and perk.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateActiveRecord is returned by stores whose unique index
	// rejected a second row for the same cycle.
	ErrDuplicateActiveRecord = errors.New("duplicate active record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StorageError wraps a failed store operation. It is propagated unchanged
// to callers and never retried by the engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage wraps err as a StorageError unless it already is one.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsStorageError returns true for failures of the underlying store.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsConflict returns true if the error reports a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrDuplicateActiveRecord)
}
