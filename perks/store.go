/*
store.go - Storage collaborator interfaces

PURPOSE:
  Defines the logical CRUD surface the engine consumes: insert, query by
  filter, delete by filter, plus catalog and enrollment lookups. The
  engine issues these operations; transaction and consistency guarantees
  belong to the implementation.

KEY INTERFACES:
  Store:           Redemption records (redemption_records table)
  TxStore:         Store + atomic multi-write (top-up = delete + insert)
  CatalogStore:    Read-mostly perk definitions (perk_definitions)
  EnrollmentStore: Card enrollments with soft delete (card_enrollments)
  Backend:         Everything above, what the service needs

IMPLEMENTATIONS:
  - perks/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite via database/sql

SEE ALSO:
  - ledger.go: The only writer of redemption records
*/
package perks

import (
	"context"
	"errors"
	"time"
)

// ErrUnscopedFilter is returned by stores asked to delete without a scope.
var ErrUnscopedFilter = errors.New("delete filter must name a user or record ids")

// =============================================================================
// FILTER
// =============================================================================

// RecordFilter selects redemption records. Zero fields match everything.
type RecordFilter struct {
	IDs              []RecordID
	UserID           UserID
	PerkIDs          []PerkID
	CardEnrollmentID EnrollmentID

	// ActiveAt keeps records whose CycleResetAt is after the instant.
	ActiveAt *time.Time

	// RedeemedFrom / RedeemedTo bound RedeemedAt, both inclusive.
	RedeemedFrom *time.Time
	RedeemedTo   *time.Time
}

// Scoped reports whether the filter is narrow enough for deletes.
func (f RecordFilter) Scoped() bool {
	return f.UserID != "" || len(f.IDs) > 0
}

// Matches evaluates the filter in memory.
func (f RecordFilter) Matches(r RedemptionRecord) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, r.ID) {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if len(f.PerkIDs) > 0 && !containsPerk(f.PerkIDs, r.PerkDefinitionID) {
		return false
	}
	if f.CardEnrollmentID != "" && r.CardEnrollmentID != f.CardEnrollmentID {
		return false
	}
	if f.ActiveAt != nil && !r.IsActive(*f.ActiveAt) {
		return false
	}
	if f.RedeemedFrom != nil && r.RedeemedAt.Before(*f.RedeemedFrom) {
		return false
	}
	if f.RedeemedTo != nil && r.RedeemedAt.After(*f.RedeemedTo) {
		return false
	}
	return true
}

func containsID(ids []RecordID, id RecordID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func containsPerk(ids []PerkID, id PerkID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Store persists redemption records.
type Store interface {
	// InsertRecord writes one row. Stores with a uniqueness index return an
	// error matching generic.ErrDuplicateActiveRecord on conflict.
	InsertRecord(ctx context.Context, r RedemptionRecord) error

	// QueryRecords returns matching rows ordered by RedeemedAt.
	QueryRecords(ctx context.Context, f RecordFilter) ([]RedemptionRecord, error)

	// DeleteRecords removes matching rows and reports how many went away.
	DeleteRecords(ctx context.Context, f RecordFilter) (int, error)

	// GetRecord returns nil, nil when the id is unknown.
	GetRecord(ctx context.Context, id RecordID) (*RedemptionRecord, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error, every write made through the inner Store is undone.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

type CatalogStore interface {
	SaveDefinition(ctx context.Context, d PerkDefinition) error
	GetDefinition(ctx context.Context, id PerkID) (*PerkDefinition, error)
	// ListDefinitions returns the whole catalog when cardProductID is empty.
	ListDefinitions(ctx context.Context, cardProductID CardProductID) ([]PerkDefinition, error)
}

type EnrollmentStore interface {
	SaveEnrollment(ctx context.Context, e CardEnrollment) error
	// GetEnrollment also returns soft-deleted enrollments.
	GetEnrollment(ctx context.Context, id EnrollmentID) (*CardEnrollment, error)
	ListEnrollments(ctx context.Context, userID UserID, includeDeleted bool) ([]CardEnrollment, error)
	SoftDeleteEnrollment(ctx context.Context, id EnrollmentID, at time.Time) error
	// ListUsers returns every user with at least one live enrollment.
	ListUsers(ctx context.Context) ([]UserID, error)
}

// Backend is the full storage collaborator.
type Backend interface {
	TxStore
	CatalogStore
	EnrollmentStore
}
