/*
Package perks implements the cycle accounting and redemption-ledger engine
for recurring, capped-value card benefits.

PURPOSE:
  A perk is a credit attached to a card product ("$15 rideshare credit,
  monthly"). Every renewal cycle the credit becomes fully available again.
  This package answers, at any instant, whether each perk is available,
  partially used or fully used, and derives savings totals, streaks and
  reminder schedules from the same cycle math.

KEY CONCEPTS IN THIS FILE (types.go):
  - PerkDefinition: Immutable catalog entry (value, period, reset policy)
  - CardEnrollment: A user holding a card product; soft-deleted on removal
  - RedemptionRecord: The ledger's unit of truth, one per user/perk/cycle
  - PerkStatusView: Derived, never stored

COMPONENTS:
  ledger.go:      Redemption Ledger (uniqueness and partial/full transitions)
  status.go:      Status Aggregator
  streak.go:      Streak Tracker
  reminders.go:   Reminder Scheduler
  coordinator.go: Optimistic Update Coordinator
  service.go:     Facade used by the HTTP layer

SEE ALSO:
  - generic/period.go: Cycle boundary calculator
  - store.go: Storage collaborator interfaces
*/
package perks

import (
	"time"

	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type PerkID string
type CardProductID string
type EnrollmentID string
type RecordID string

// =============================================================================
// PERK DEFINITION - Shared catalog entry
// =============================================================================

type PerkDefinition struct {
	ID            PerkID
	CardProductID CardProductID
	Name          string
	Value         generic.Amount
	PeriodMonths  int
	ResetPolicy   generic.ResetPolicy
	Category      string

	// Providers lists the external targets a single perk can be redeemed
	// through (e.g. two rideshare apps). Selection is redemption metadata.
	Providers []string
}

// Cycle returns the renewal config for this perk. Anniversary perks are
// anchored at the enrollment's open date when one is known.
func (d PerkDefinition) Cycle(anchor *time.Time) generic.CycleConfig {
	cfg := generic.CycleConfig{PeriodMonths: d.PeriodMonths, Policy: d.ResetPolicy}
	if cfg.Policy == "" {
		cfg.Policy = generic.ResetCalendar
	}
	if cfg.Policy == generic.ResetAnniversary && anchor != nil && !anchor.IsZero() {
		cfg = cfg.WithAnchor(*anchor)
	}
	return cfg
}

// =============================================================================
// CARD ENROLLMENT
// =============================================================================

type CardEnrollment struct {
	ID            EnrollmentID
	UserID        UserID
	CardProductID CardProductID
	Nickname      string
	OpenedAt      time.Time
	CreatedAt     time.Time
	DeletedAt     *time.Time
}

func (e CardEnrollment) IsActive() bool { return e.DeletedAt == nil }

// anchor returns the open date for anniversary cycles, or nil.
func (e CardEnrollment) anchor() *time.Time {
	if e.OpenedAt.IsZero() {
		return nil
	}
	t := e.OpenedAt
	return &t
}

// Perk is a definition as held by one enrollment.
type Perk struct {
	Definition PerkDefinition
	Enrollment CardEnrollment
}

func (p Perk) Cycle() generic.CycleConfig {
	return p.Definition.Cycle(p.Enrollment.anchor())
}

// =============================================================================
// REDEMPTION RECORD - Ledger entry
// =============================================================================

type RecordStatus string

const (
	StatusPartiallyRedeemed RecordStatus = "partially_redeemed"
	StatusRedeemed          RecordStatus = "redeemed"
)

// RedemptionRecord is one ledger row.
//
// INVARIANTS:
//   - RemainingValue = TotalValue - ValueRedeemed >= 0
//   - RemainingValue is zero exactly when Status is StatusRedeemed
//   - At most one record per (UserID, PerkDefinitionID) has CycleResetAt > now
type RedemptionRecord struct {
	ID               RecordID
	UserID           UserID
	PerkDefinitionID PerkID
	CardEnrollmentID EnrollmentID
	RedeemedAt       time.Time
	CycleResetAt     time.Time
	Status           RecordStatus
	ValueRedeemed    generic.Amount
	TotalValue       generic.Amount
	RemainingValue   generic.Amount
	ParentRecordID   RecordID
	IsAutoRedemption bool
	Provider         string
}

// IsActive reports whether the record's cycle is still open at now.
func (r RedemptionRecord) IsActive(now time.Time) bool {
	return r.CycleResetAt.After(now)
}

// newRecordValues computes status and remaining value for a redeemed amount,
// capping the redeemed value at the total.
func newRecordValues(redeemed, total generic.Amount) (RecordStatus, generic.Amount, generic.Amount) {
	if redeemed.GreaterOrEqual(total) {
		return StatusRedeemed, total, total.Zero()
	}
	return StatusPartiallyRedeemed, redeemed, total.Sub(redeemed)
}

// =============================================================================
// STATUS VIEW - Derived per perk
// =============================================================================

type Status string

const (
	Available         Status = "available"
	PartiallyRedeemed Status = "partially_redeemed"
	Redeemed          Status = "redeemed"
)

type PerkStatusView struct {
	PerkDefinitionID PerkID
	CardEnrollmentID EnrollmentID
	Name             string
	Status           Status
	RemainingValue   generic.Amount
	TotalValue       generic.Amount
	ActiveRecordID   RecordID
	StreakCount      int
	ColdStreakCount  int
	StreakVisible    bool
	CycleStart       time.Time
	CycleEnd         time.Time
}
