package perks

import (
	"errors"
	"fmt"

	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyRedeemed matches AlreadyRedeemedError.
	ErrAlreadyRedeemed = errors.New("perk already redeemed this cycle")

	// ErrInsufficientRemainingValue matches InsufficientRemainingValueError.
	ErrInsufficientRemainingValue = errors.New("insufficient remaining value")

	// ErrParentAlreadyRedeemed matches ParentAlreadyRedeemedError.
	ErrParentAlreadyRedeemed = errors.New("parent record already redeemed")

	// ErrCardLinkageNotFound matches CardLinkageNotFoundError.
	ErrCardLinkageNotFound = errors.New("card enrollment not found")

	// ErrPerkNotFound is returned when the perk is not in the catalog or not
	// attached to the card.
	ErrPerkNotFound = errors.New("perk not found")

	// ErrUnknownCardProduct is returned when enrolling a card product the
	// catalog has no perks for.
	ErrUnknownCardProduct = errors.New("unknown card product")

	// ErrInvalidGrouping is returned for an unknown aggregate grouping.
	ErrInvalidGrouping = errors.New("invalid grouping")

	// ErrInvalidAmount is returned for zero or negative redemption amounts.
	ErrInvalidAmount = errors.New("redemption amount must be positive")

	// ErrUndoExpired is returned when an undo is invoked after its window or
	// a second time.
	ErrUndoExpired = errors.New("undo no longer available")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AlreadyRedeemedError: an active, fully redeemed record exists this cycle.
type AlreadyRedeemedError struct {
	PerkID       PerkID
	RecordID     RecordID
	CycleResetAt string
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("perk %s already redeemed until %s (record %s)", e.PerkID, e.CycleResetAt, e.RecordID)
}

func (e *AlreadyRedeemedError) Unwrap() error { return ErrAlreadyRedeemed }

// InsufficientRemainingValueError: the amount exceeds what the referenced
// parent record has left.
type InsufficientRemainingValueError struct {
	ParentRecordID RecordID
	Remaining      generic.Amount
	Requested      generic.Amount
}

func (e *InsufficientRemainingValueError) Error() string {
	return fmt.Sprintf("insufficient remaining value on %s: remaining %s, requested %s",
		e.ParentRecordID, e.Remaining.Display(), e.Requested.Display())
}

func (e *InsufficientRemainingValueError) Unwrap() error { return ErrInsufficientRemainingValue }

// ParentAlreadyRedeemedError: the referenced parent is fully redeemed.
type ParentAlreadyRedeemedError struct {
	ParentRecordID RecordID
}

func (e *ParentAlreadyRedeemedError) Error() string {
	return fmt.Sprintf("parent record %s already redeemed", e.ParentRecordID)
}

func (e *ParentAlreadyRedeemedError) Unwrap() error { return ErrParentAlreadyRedeemed }

// CardLinkageNotFoundError: no live enrollment backs the redemption. This is
// a data-consistency fault; nothing is written.
type CardLinkageNotFoundError struct {
	CardEnrollmentID EnrollmentID
	PerkID           PerkID
}

func (e *CardLinkageNotFoundError) Error() string {
	return fmt.Sprintf("no card enrollment %q for perk %s", e.CardEnrollmentID, e.PerkID)
}

func (e *CardLinkageNotFoundError) Unwrap() error { return ErrCardLinkageNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusinessError returns true for expected conditions the user can act on.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrInsufficientRemainingValue) ||
		errors.Is(err, ErrParentAlreadyRedeemed)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidGrouping) ||
		errors.Is(err, ErrUndoExpired)
}

// IsNotFound returns true if the error indicates a missing perk or card.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPerkNotFound) ||
		errors.Is(err, ErrCardLinkageNotFound) ||
		errors.Is(err, ErrUnknownCardProduct)
}
