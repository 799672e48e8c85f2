/*
ledger.go - Redemption ledger with per-cycle uniqueness

PURPOSE:
  The ledger is the single source of truth for perk usage. It records
  redemptions, tops up partial redemptions and removes the active record
  when a user marks a perk available again. Status views, totals,
  streaks and reminders are all re-derived from its rows.

INVARIANTS:
  1. UNIQUE PER CYCLE: at most one active record (CycleResetAt > now) per
     (user, perk).
  2. CAPPED: ValueRedeemed never exceeds TotalValue; RemainingValue >= 0.
  3. STATUS: RemainingValue == 0 exactly when Status == redeemed.
  4. HISTORY: records whose cycle has ended are never touched.

HOW UNIQUENESS IS ENFORCED:
  Read-then-write inside one store transaction: the active set is read
  immediately before the write and read again after it. A second active
  row seen after the write (or a unique-index violation from the store)
  rolls the transaction back and surfaces as a StorageError wrapping
  generic.ErrConcurrentModification. The ledger never retries.

TRANSITIONS:
  none     --redeem(< value)-->  partially_redeemed
  none     --redeem(>= value)--> redeemed
  partial  --top up(< rest)-->   partially_redeemed (replaced, parent = old)
  partial  --top up(>= rest)-->  redeemed (replaced, capped at value)
  redeemed --redeem-->           AlreadyRedeemedError
  any      --delete active-->    none (history untouched)

SEE ALSO:
  - store.go: Storage interfaces
  - coordinator.go: The only caller allowed to mutate through the ledger
*/
package perks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// REQUEST
// =============================================================================

// RedeemRequest describes one redemption. A nil Amount redeems whatever is
// left of the perk this cycle. A non-empty UserID must own the enrollment.
type RedeemRequest struct {
	UserID           UserID
	PerkID           PerkID
	CardEnrollmentID EnrollmentID
	Amount           *generic.Amount
	ParentRecordID   RecordID
	IsAuto           bool
	Provider         string
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store  Backend
	Now    func() time.Time
	Logger logrus.FieldLogger
}

func NewLedger(store Backend) *Ledger {
	return &Ledger{store: store, Now: time.Now, Logger: logrus.StandardLogger()}
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *Ledger) log() logrus.FieldLogger {
	if l.Logger == nil {
		return logrus.StandardLogger()
	}
	return l.Logger
}

// RecordRedemption applies a redemption to the perk's active cycle.
func (l *Ledger) RecordRedemption(ctx context.Context, req RedeemRequest) (RedemptionRecord, error) {
	if req.Amount != nil && !req.Amount.IsPositive() {
		return RedemptionRecord{}, ErrInvalidAmount
	}

	perk, err := l.resolve(ctx, req.UserID, req.PerkID, req.CardEnrollmentID)
	if err != nil {
		return RedemptionRecord{}, err
	}

	now := l.now()
	userID := perk.Enrollment.UserID
	def := perk.Definition
	if req.Amount != nil {
		// Amounts are always in the perk's own unit.
		a := generic.Amount{Value: req.Amount.Value, Unit: def.Value.Unit}
		req.Amount = &a
	}

	var written RedemptionRecord
	err = l.store.WithTx(ctx, func(s Store) error {
		if req.ParentRecordID != "" {
			if err := l.checkParent(ctx, s, perk, req, now); err != nil {
				return err
			}
		}

		active, err := activeRecords(ctx, s, userID, def.ID, now)
		if err != nil {
			return err
		}
		if len(active) > 1 {
			return &generic.StorageError{Op: "read active", Err: generic.ErrConcurrentModification}
		}

		var rec RedemptionRecord
		if len(active) == 1 {
			existing := active[0]
			if existing.Status == StatusRedeemed {
				return &AlreadyRedeemedError{
					PerkID:       def.ID,
					RecordID:     existing.ID,
					CycleResetAt: existing.CycleResetAt.Format(time.RFC3339),
				}
			}
			rec = topUp(existing, amountOrRest(req.Amount, existing.RemainingValue), now)
			if _, err := s.DeleteRecords(ctx, RecordFilter{IDs: []RecordID{existing.ID}}); err != nil {
				return generic.WrapStorage("delete partial", err)
			}
		} else {
			cycle := perk.Cycle().BoundsFor(now)
			rec = fresh(perk, amountOrRest(req.Amount, def.Value), cycle, now)
		}
		rec.IsAutoRedemption = req.IsAuto
		rec.Provider = req.Provider

		if err := s.InsertRecord(ctx, rec); err != nil {
			return generic.WrapStorage("insert record", err)
		}

		after, err := activeRecords(ctx, s, userID, def.ID, now)
		if err != nil {
			return err
		}
		if len(after) != 1 {
			return &generic.StorageError{Op: "verify active", Err: generic.ErrConcurrentModification}
		}

		written = rec
		return nil
	})
	if err != nil {
		return RedemptionRecord{}, err
	}

	l.log().WithFields(logrus.Fields{
		"op":        "record_redemption",
		"user_id":   userID,
		"perk_id":   def.ID,
		"record_id": written.ID,
		"status":    written.Status,
		"remaining": written.RemainingValue.Value.String(),
	}).Debug("redemption recorded")
	return written, nil
}

// checkParent validates an explicitly referenced parent record. A parent
// from another perk or user, or from a closed cycle, has nothing left to
// give.
func (l *Ledger) checkParent(ctx context.Context, s Store, perk Perk, req RedeemRequest, now time.Time) error {
	parent, err := s.GetRecord(ctx, req.ParentRecordID)
	if err != nil {
		return generic.WrapStorage("get parent", err)
	}

	zero := perk.Definition.Value.Zero()
	requested := amountOrRest(req.Amount, zero)
	if parent == nil || parent.UserID != perk.Enrollment.UserID || parent.PerkDefinitionID != perk.Definition.ID {
		return &InsufficientRemainingValueError{ParentRecordID: req.ParentRecordID, Remaining: zero, Requested: requested}
	}
	if parent.Status == StatusRedeemed {
		return &ParentAlreadyRedeemedError{ParentRecordID: parent.ID}
	}
	if !parent.IsActive(now) {
		return &InsufficientRemainingValueError{ParentRecordID: parent.ID, Remaining: zero, Requested: requested}
	}
	if req.Amount != nil && parent.RemainingValue.LessThan(*req.Amount) {
		return &InsufficientRemainingValueError{
			ParentRecordID: parent.ID,
			Remaining:      parent.RemainingValue,
			Requested:      *req.Amount,
		}
	}
	return nil
}

// DeleteActiveRedemption removes the perk's active record for the user and
// returns what was removed. Historical records are untouched; no active
// record is not an error.
func (l *Ledger) DeleteActiveRedemption(ctx context.Context, userID UserID, perkID PerkID) ([]RedemptionRecord, error) {
	now := l.now()
	var removed []RedemptionRecord
	err := l.store.WithTx(ctx, func(s Store) error {
		active, err := activeRecords(ctx, s, userID, perkID, now)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}
		ids := make([]RecordID, len(active))
		for i, r := range active {
			ids[i] = r.ID
		}
		if _, err := s.DeleteRecords(ctx, RecordFilter{IDs: ids}); err != nil {
			return generic.WrapStorage("delete active", err)
		}
		removed = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		l.log().WithFields(logrus.Fields{
			"op":      "delete_active",
			"user_id": userID,
			"perk_id": perkID,
			"removed": len(removed),
		}).Debug("active redemption removed")
	}
	return removed, nil
}

// Restore re-inserts a record captured before a compensated action. It
// refuses when the perk already has a different active record.
func (l *Ledger) Restore(ctx context.Context, rec RedemptionRecord) error {
	now := l.now()
	return l.store.WithTx(ctx, func(s Store) error {
		active, err := activeRecords(ctx, s, rec.UserID, rec.PerkDefinitionID, now)
		if err != nil {
			return err
		}
		if len(active) > 0 && rec.IsActive(now) {
			return &generic.StorageError{Op: "restore", Err: generic.ErrConcurrentModification}
		}
		return generic.WrapStorage("restore", s.InsertRecord(ctx, rec))
	})
}

// ListActive returns the user's records still open at asOf.
func (l *Ledger) ListActive(ctx context.Context, userID UserID, perkIDs []PerkID, asOf time.Time) ([]RedemptionRecord, error) {
	recs, err := l.store.QueryRecords(ctx, RecordFilter{UserID: userID, PerkIDs: perkIDs, ActiveAt: &asOf})
	return recs, generic.WrapStorage("list active", err)
}

// ListForWindow returns records redeemed within [start, end].
func (l *Ledger) ListForWindow(ctx context.Context, userID UserID, perkIDs []PerkID, start, end time.Time) ([]RedemptionRecord, error) {
	recs, err := l.store.QueryRecords(ctx, RecordFilter{
		UserID:       userID,
		PerkIDs:      perkIDs,
		RedeemedFrom: &start,
		RedeemedTo:   &end,
	})
	return recs, generic.WrapStorage("list window", err)
}

// ListAll returns the user's full history, active and historical.
func (l *Ledger) ListAll(ctx context.Context, userID UserID) ([]RedemptionRecord, error) {
	recs, err := l.store.QueryRecords(ctx, RecordFilter{UserID: userID})
	return recs, generic.WrapStorage("list all", err)
}

// resolve finds the live enrollment and the perk definition it holds.
func (l *Ledger) resolve(ctx context.Context, userID UserID, perkID PerkID, enrollmentID EnrollmentID) (Perk, error) {
	enr, err := l.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return Perk{}, generic.WrapStorage("get enrollment", err)
	}
	if enr == nil || !enr.IsActive() || (userID != "" && enr.UserID != userID) {
		l.log().WithFields(logrus.Fields{
			"card_enrollment_id": enrollmentID,
			"perk_id":            perkID,
		}).Warn("redemption aborted: card enrollment not found")
		return Perk{}, &CardLinkageNotFoundError{CardEnrollmentID: enrollmentID, PerkID: perkID}
	}

	def, err := l.store.GetDefinition(ctx, perkID)
	if err != nil {
		return Perk{}, generic.WrapStorage("get definition", err)
	}
	if def == nil || (def.CardProductID != "" && def.CardProductID != enr.CardProductID) {
		return Perk{}, fmt.Errorf("%w: %s on card %s", ErrPerkNotFound, perkID, enr.CardProductID)
	}
	return Perk{Definition: *def, Enrollment: *enr}, nil
}

// =============================================================================
// RECORD CONSTRUCTION
// =============================================================================

func activeRecords(ctx context.Context, s Store, userID UserID, perkID PerkID, now time.Time) ([]RedemptionRecord, error) {
	recs, err := s.QueryRecords(ctx, RecordFilter{UserID: userID, PerkIDs: []PerkID{perkID}, ActiveAt: &now})
	if err != nil {
		return nil, generic.WrapStorage("read active", err)
	}
	return recs, nil
}

func amountOrRest(amount *generic.Amount, rest generic.Amount) generic.Amount {
	if amount == nil {
		return rest
	}
	return *amount
}

// fresh builds the first record of a cycle. CycleResetAt is the instant the
// perk becomes available again, one instant after the cycle's last.
func fresh(perk Perk, amount generic.Amount, cycle generic.Period, now time.Time) RedemptionRecord {
	total := perk.Definition.Value
	status, redeemed, remaining := newRecordValues(amount, total)
	return RedemptionRecord{
		ID:               RecordID(uuid.NewString()),
		UserID:           perk.Enrollment.UserID,
		PerkDefinitionID: perk.Definition.ID,
		CardEnrollmentID: perk.Enrollment.ID,
		RedeemedAt:       now,
		CycleResetAt:     cycle.End.Add(generic.Instant),
		Status:           status,
		ValueRedeemed:    redeemed,
		TotalValue:       total,
		RemainingValue:   remaining,
	}
}

// topUp replaces a partial record with one carrying the cumulative amount.
func topUp(existing RedemptionRecord, amount generic.Amount, now time.Time) RedemptionRecord {
	status, redeemed, remaining := newRecordValues(existing.ValueRedeemed.Add(amount), existing.TotalValue)
	return RedemptionRecord{
		ID:               RecordID(uuid.NewString()),
		UserID:           existing.UserID,
		PerkDefinitionID: existing.PerkDefinitionID,
		CardEnrollmentID: existing.CardEnrollmentID,
		RedeemedAt:       now,
		CycleResetAt:     existing.CycleResetAt,
		Status:           status,
		ValueRedeemed:    redeemed,
		TotalValue:       existing.TotalValue,
		RemainingValue:   remaining,
		ParentRecordID:   existing.ID,
	}
}

// =============================================================================
// PERK RESOLUTION
// =============================================================================

// Perks returns every perk the user holds through a live enrollment. A
// definition offered by two of the user's cards is listed once, under the
// earliest enrollment.
func (l *Ledger) Perks(ctx context.Context, userID UserID) ([]Perk, error) {
	enrollments, err := l.store.ListEnrollments(ctx, userID, false)
	if err != nil {
		return nil, generic.WrapStorage("list enrollments", err)
	}
	sort.SliceStable(enrollments, func(i, j int) bool {
		return enrollments[i].CreatedAt.Before(enrollments[j].CreatedAt)
	})

	seen := make(map[PerkID]bool)
	var out []Perk
	for _, enr := range enrollments {
		defs, err := l.store.ListDefinitions(ctx, enr.CardProductID)
		if err != nil {
			return nil, generic.WrapStorage("list definitions", err)
		}
		for _, def := range defs {
			if seen[def.ID] {
				continue
			}
			seen[def.ID] = true
			out = append(out, Perk{Definition: def, Enrollment: enr})
		}
	}
	return out, nil
}

// PerkFor resolves one perk for the user.
func (l *Ledger) PerkFor(ctx context.Context, userID UserID, perkID PerkID) (Perk, error) {
	def, err := l.store.GetDefinition(ctx, perkID)
	if err != nil {
		return Perk{}, generic.WrapStorage("get definition", err)
	}
	if def == nil {
		return Perk{}, fmt.Errorf("%w: %s", ErrPerkNotFound, perkID)
	}

	held, err := l.Perks(ctx, userID)
	if err != nil {
		return Perk{}, err
	}
	for _, p := range held {
		if p.Definition.ID == perkID {
			return p, nil
		}
	}

	l.log().WithFields(logrus.Fields{
		"user_id": userID,
		"perk_id": perkID,
	}).Warn("no live card enrollment holds perk")
	return Perk{}, &CardLinkageNotFoundError{PerkID: perkID}
}

// History returns every record the user has for the perk, oldest first.
func (l *Ledger) History(ctx context.Context, perk Perk) ([]RedemptionRecord, error) {
	recs, err := l.store.QueryRecords(ctx, RecordFilter{
		UserID:  perk.Enrollment.UserID,
		PerkIDs: []PerkID{perk.Definition.ID},
	})
	return recs, generic.WrapStorage("history", err)
}
