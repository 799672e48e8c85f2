/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.decode before the engine sees them. Amount sign is left to the
  ledger so its error is the one clients see.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON (catalog import body)
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

// =============================================================================
// SHARED
// =============================================================================

// AmountDTO is a money or points value.
type AmountDTO struct {
	Value   string `json:"value"`
	Unit    string `json:"unit"`
	Display string `json:"display"`
}

func toAmountDTO(a generic.Amount) AmountDTO {
	return AmountDTO{Value: a.Value.String(), Unit: string(a.Unit), Display: a.Display()}
}

// toAmountDTOs lists per-unit totals, dollars first.
func toAmountDTOs(t generic.Totals) []AmountDTO {
	out := make([]AmountDTO, 0, len(t))
	for _, a := range t.Amounts() {
		out = append(out, toAmountDTO(a))
	}
	return out
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// =============================================================================
// PERK STATUS
// =============================================================================

type PerkViewDTO struct {
	PerkID           string    `json:"perk_id"`
	CardEnrollmentID string    `json:"card_enrollment_id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	RemainingValue   AmountDTO `json:"remaining_value"`
	TotalValue       AmountDTO `json:"total_value"`
	ActiveRecordID   string    `json:"active_record_id,omitempty"`
	StreakCount      int       `json:"streak_count"`
	ColdStreakCount  int       `json:"cold_streak_count"`
	StreakVisible    bool      `json:"streak_visible"`
	CycleStart       string    `json:"cycle_start"`
	CycleEnd         string    `json:"cycle_end"`
}

func toPerkViewDTO(v perks.PerkStatusView) PerkViewDTO {
	return PerkViewDTO{
		PerkID:           string(v.PerkDefinitionID),
		CardEnrollmentID: string(v.CardEnrollmentID),
		Name:             v.Name,
		Status:           string(v.Status),
		RemainingValue:   toAmountDTO(v.RemainingValue),
		TotalValue:       toAmountDTO(v.TotalValue),
		ActiveRecordID:   string(v.ActiveRecordID),
		StreakCount:      v.StreakCount,
		ColdStreakCount:  v.ColdStreakCount,
		StreakVisible:    v.StreakVisible,
		CycleStart:       formatTime(v.CycleStart),
		CycleEnd:         formatTime(v.CycleEnd),
	}
}

// RedeemRequest is the body of POST .../perks/{perkID}/redeem. An empty body
// redeems the full remaining value.
type RedeemRequest struct {
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	ParentRecordID   string           `json:"parent_record_id,omitempty" validate:"omitempty,max=64"`
	CardEnrollmentID string           `json:"card_enrollment_id,omitempty" validate:"omitempty,max=64"`
	Provider         string           `json:"provider,omitempty" validate:"omitempty,max=64"`
	IsAuto           bool             `json:"is_auto,omitempty"`
}

func (r RedeemRequest) toEngine(perkID perks.PerkID) perks.RedeemRequest {
	req := perks.RedeemRequest{
		PerkID:           perkID,
		CardEnrollmentID: perks.EnrollmentID(r.CardEnrollmentID),
		ParentRecordID:   perks.RecordID(r.ParentRecordID),
		IsAuto:           r.IsAuto,
		Provider:         r.Provider,
	}
	if r.Amount != nil {
		req.Amount = &generic.Amount{Value: *r.Amount}
	}
	return req
}

// ActionResponse is returned by redeem, mark-available and undo.
type ActionResponse struct {
	View          PerkViewDTO  `json:"view"`
	Previous      *PerkViewDTO `json:"previous,omitempty"`
	UndoToken     string       `json:"undo_token,omitempty"`
	UndoExpiresAt string       `json:"undo_expires_at,omitempty"`
}

// RecordDTO is one ledger row.
type RecordDTO struct {
	ID               string    `json:"id"`
	PerkID           string    `json:"perk_id"`
	CardEnrollmentID string    `json:"card_enrollment_id"`
	RedeemedAt       string    `json:"redeemed_at"`
	CycleResetAt     string    `json:"cycle_reset_at"`
	Status           string    `json:"status"`
	ValueRedeemed    AmountDTO `json:"value_redeemed"`
	TotalValue       AmountDTO `json:"total_value"`
	RemainingValue   AmountDTO `json:"remaining_value"`
	ParentRecordID   string    `json:"parent_record_id,omitempty"`
	IsAuto           bool      `json:"is_auto,omitempty"`
	Provider         string    `json:"provider,omitempty"`
}

func toRecordDTO(r perks.RedemptionRecord) RecordDTO {
	return RecordDTO{
		ID:               string(r.ID),
		PerkID:           string(r.PerkDefinitionID),
		CardEnrollmentID: string(r.CardEnrollmentID),
		RedeemedAt:       formatTime(r.RedeemedAt),
		CycleResetAt:     formatTime(r.CycleResetAt),
		Status:           string(r.Status),
		ValueRedeemed:    toAmountDTO(r.ValueRedeemed),
		TotalValue:       toAmountDTO(r.TotalValue),
		RemainingValue:   toAmountDTO(r.RemainingValue),
		ParentRecordID:   string(r.ParentRecordID),
		IsAuto:           r.IsAutoRedemption,
		Provider:         r.Provider,
	}
}

// =============================================================================
// AGGREGATES, REMINDERS, SAVINGS
// =============================================================================

// AggregateDTO carries one value entry per unit in the group.
type AggregateDTO struct {
	RedeemedValue []AmountDTO `json:"redeemed_value"`
	PossibleValue []AmountDTO `json:"possible_value"`
	RedeemedCount int         `json:"redeemed_count"`
	TotalCount    int         `json:"total_count"`
}

type ReminderDTO struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	FireAt       string `json:"fire_at"`
	PeriodMonths int    `json:"period_months"`
	OffsetDays   int    `json:"offset_days"`
	CycleEnd     string `json:"cycle_end"`
}

func toReminderDTO(r perks.ScheduledReminder) ReminderDTO {
	return ReminderDTO{
		Title:        r.Title,
		Body:         r.Body,
		FireAt:       formatTime(r.FireAt),
		PeriodMonths: r.PeriodMonths,
		OffsetDays:   r.OffsetDays,
		CycleEnd:     formatTime(r.CycleEnd),
	}
}

// =============================================================================
// CARDS AND CATALOG
// =============================================================================

type CardDTO struct {
	ID            string `json:"id"`
	CardProductID string `json:"card_product_id"`
	Nickname      string `json:"nickname,omitempty"`
	OpenedAt      string `json:"opened_at"`
	CreatedAt     string `json:"created_at"`
}

func toCardDTO(e perks.CardEnrollment) CardDTO {
	return CardDTO{
		ID:            string(e.ID),
		CardProductID: string(e.CardProductID),
		Nickname:      e.Nickname,
		OpenedAt:      e.OpenedAt.Format("2006-01-02"),
		CreatedAt:     formatTime(e.CreatedAt),
	}
}

// EnrollRequest is the body of POST .../cards.
type EnrollRequest struct {
	CardProductID string `json:"card_product_id" validate:"required,max=64"`
	Nickname      string `json:"nickname,omitempty" validate:"max=64"`
	OpenedAt      string `json:"opened_at,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type PerkDefinitionDTO struct {
	ID            string    `json:"id"`
	CardProductID string    `json:"card_product_id"`
	Name          string    `json:"name"`
	Value         AmountDTO `json:"value"`
	PeriodMonths  int       `json:"period_months"`
	ResetPolicy   string    `json:"reset_policy"`
	Category      string    `json:"category,omitempty"`
	Providers     []string  `json:"providers,omitempty"`
}

func toDefinitionDTO(d perks.PerkDefinition) PerkDefinitionDTO {
	return PerkDefinitionDTO{
		ID:            string(d.ID),
		CardProductID: string(d.CardProductID),
		Name:          d.Name,
		Value:         toAmountDTO(d.Value),
		PeriodMonths:  d.PeriodMonths,
		ResetPolicy:   string(d.ResetPolicy),
		Category:      d.Category,
		Providers:     d.Providers,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
