/*
status.go - Status Aggregator

PURPOSE:
  Derives what the user sees from a ledger snapshot: per-perk status and
  remaining value, grouped redeemed-vs-possible totals, and lifetime
  savings per card. Nothing here is persisted; every call recomputes from
  the records it is given.

AGGREGATE SEMANTICS:
  PossibleValue / TotalCount  every perk in the group, any status
  RedeemedValue               ValueRedeemed of partial and full records
  RedeemedCount               fully redeemed perks only

SEE ALSO:
  - streak.go: Streak counters folded into PerkStatusView
  - coordinator.go: ProjectRedemption feeds the tentative view
*/
package perks

import (
	"strconv"
	"time"

	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// PER-PERK STATUS
// =============================================================================

// StatusFor mirrors the single active record, or reports the full value as
// available when there is none.
func StatusFor(def PerkDefinition, active []RedemptionRecord, now time.Time) (Status, generic.Amount) {
	rec := latestActive(active, def.ID, now)
	if rec == nil {
		return Available, def.Value
	}
	if rec.Status == StatusRedeemed {
		return Redeemed, rec.RemainingValue.Zero()
	}
	return PartiallyRedeemed, rec.RemainingValue
}

// latestActive picks the newest active record for the perk. The ledger keeps
// at most one; the newest wins if a store ever returns more.
func latestActive(records []RedemptionRecord, perkID PerkID, now time.Time) *RedemptionRecord {
	var found *RedemptionRecord
	for i := range records {
		r := &records[i]
		if r.PerkDefinitionID != perkID || !r.IsActive(now) {
			continue
		}
		if found == nil || r.RedeemedAt.After(found.RedeemedAt) {
			found = r
		}
	}
	return found
}

// BuildView composes status, cycle bounds and streak for one perk. records
// is the perk's history; other perks' rows are ignored.
func BuildView(perk Perk, records []RedemptionRecord, now time.Time) PerkStatusView {
	def := perk.Definition
	cfg := perk.Cycle()
	cycle := cfg.BoundsFor(now)

	status, remaining := StatusFor(def, records, now)
	view := PerkStatusView{
		PerkDefinitionID: def.ID,
		CardEnrollmentID: perk.Enrollment.ID,
		Name:             def.Name,
		Status:           status,
		RemainingValue:   remaining,
		TotalValue:       def.Value,
		StreakVisible:    def.PeriodMonths == 1,
		CycleStart:       cycle.Start,
		CycleEnd:         cycle.End,
	}
	if rec := latestActive(records, def.ID, now); rec != nil {
		view.ActiveRecordID = rec.ID
		view.TotalValue = rec.TotalValue
	}

	own := recordsFor(records, def.ID)
	st := DeriveStreak(cfg, own, streakSince(perk, own), now)
	view.StreakCount = st.Streak
	view.ColdStreakCount = st.Cold
	return view
}

// ProjectRedemption computes the view a successful redemption would produce.
// A fully redeemed view is returned unchanged; the ledger rejects it.
func ProjectRedemption(view PerkStatusView, amount *generic.Amount) PerkStatusView {
	if view.Status == Redeemed {
		return view
	}
	spend := view.RemainingValue
	if amount != nil {
		spend = *amount
	}

	out := view
	out.RemainingValue = view.RemainingValue.Sub(spend).ClampZero()
	if out.RemainingValue.IsZero() {
		out.Status = Redeemed
		out.StreakCount = view.StreakCount + 1
		out.ColdStreakCount = 0
	} else {
		out.Status = PartiallyRedeemed
	}
	return out
}

// ProjectAvailable computes the view after the active record is removed.
func ProjectAvailable(view PerkStatusView) PerkStatusView {
	out := view
	out.Status = Available
	out.RemainingValue = view.TotalValue
	out.ActiveRecordID = ""
	if view.Status == Redeemed && out.StreakCount > 0 {
		out.StreakCount--
	}
	return out
}

func recordsFor(records []RedemptionRecord, perkID PerkID) []RedemptionRecord {
	var out []RedemptionRecord
	for _, r := range records {
		if r.PerkDefinitionID == perkID {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// AGGREGATES
// =============================================================================

type GroupBy string

const (
	GroupByPeriod   GroupBy = "period"
	GroupByCard     GroupBy = "card"
	GroupByCategory GroupBy = "category"
)

// Valid accepts the empty value as the period default.
func (g GroupBy) Valid() bool {
	switch g {
	case "", GroupByPeriod, GroupByCard, GroupByCategory:
		return true
	}
	return false
}

// AggregateTotals sums values per unit, so a points perk never inflates a
// dollar total. Counts cover every perk in the group.
type AggregateTotals struct {
	RedeemedValue generic.Totals
	PossibleValue generic.Totals
	RedeemedCount int
	TotalCount    int
}

// Aggregate groups the perks and totals their current-cycle usage.
func Aggregate(held []Perk, records []RedemptionRecord, now time.Time, by GroupBy) map[string]AggregateTotals {
	out := make(map[string]AggregateTotals)
	for _, p := range held {
		key := groupKey(p, by)
		t := out[key]

		t.PossibleValue = t.PossibleValue.Add(p.Definition.Value)
		t.RedeemedValue = t.RedeemedValue.Include(p.Definition.Value.Unit)
		t.TotalCount++

		if rec := latestActive(records, p.Definition.ID, now); rec != nil {
			t.RedeemedValue = t.RedeemedValue.Add(rec.ValueRedeemed)
			if rec.Status == StatusRedeemed {
				t.RedeemedCount++
			}
		}
		out[key] = t
	}
	return out
}

func groupKey(p Perk, by GroupBy) string {
	switch by {
	case GroupByCard:
		return string(p.Enrollment.ID)
	case GroupByCategory:
		if p.Definition.Category == "" {
			return "uncategorized"
		}
		return p.Definition.Category
	default:
		return strconv.Itoa(p.Definition.PeriodMonths)
	}
}

// CumulativeSavedPerCard sums ValueRedeemed over active and historical
// records for each card enrollment, per unit.
func CumulativeSavedPerCard(records []RedemptionRecord) map[EnrollmentID]generic.Totals {
	out := make(map[EnrollmentID]generic.Totals)
	for _, r := range records {
		out[r.CardEnrollmentID] = out[r.CardEnrollmentID].Add(r.ValueRedeemed)
	}
	return out
}
