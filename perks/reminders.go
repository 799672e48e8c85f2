/*
reminders.go - Reminder Scheduler

PURPOSE:
  Computes "use it before it resets" reminders for the perks still
  available in the current cycle. The scheduler only produces
  {title, body, fireAt} values; delivery belongs to a notify.Sink.

FIRE TIMES:
  For each offset d (days before the cycle ends):
    fireAt = (date of cycleEnd - (d-1) days) at the configured time of day
  d = 1 therefore fires on the cycle's last day. Fire times that are not
  strictly in the future, or not strictly before cycleEnd, are dropped.

DEFAULT OFFSETS:
  monthly     1, 3, 7
  quarterly   7, 14
  semi-annual 14, 30
  annual      30, 60
  other       monthly offsets

SEE ALSO:
  - api/scheduler.go: Periodic dispatch to the notification sink
*/
package perks

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type ReminderConfig struct {
	// Offsets maps a period length in months to days-before-end offsets.
	Offsets map[int][]int
	Hour    int
	Minute  int
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		Offsets: map[int][]int{
			1:  {1, 3, 7},
			3:  {7, 14},
			6:  {14, 30},
			12: {30, 60},
		},
		Hour: 9,
	}
}

// OffsetsFor returns the offsets for a period, falling back to the monthly
// set for lengths without their own entry.
func (rc ReminderConfig) OffsetsFor(periodMonths int) []int {
	if o, ok := rc.Offsets[periodMonths]; ok {
		return o
	}
	if o, ok := rc.Offsets[1]; ok {
		return o
	}
	return DefaultReminderConfig().Offsets[1]
}

// =============================================================================
// TYPES
// =============================================================================

// AvailablePerk is a perk without a fully redeemed record this cycle.
// Partially redeemed perks qualify with their remaining value.
type AvailablePerk struct {
	PerkID    PerkID
	Name      string
	Remaining generic.Amount
}

type ScheduledReminder struct {
	Title        string
	Body         string
	FireAt       time.Time
	PeriodMonths int
	OffsetDays   int
	CycleEnd     time.Time
}

// =============================================================================
// SCHEDULING
// =============================================================================

// ScheduleFor returns the reminders still ahead of now for one cycle group,
// ordered by fire time. No available perks means no reminders.
func ScheduleFor(cfg generic.CycleConfig, available []AvailablePerk, now time.Time, rc ReminderConfig) []ScheduledReminder {
	if len(available) == 0 {
		return nil
	}

	ranked := make([]AvailablePerk, len(available))
	copy(ranked, available)
	sort.SliceStable(ranked, func(i, j int) bool {
		// Dollar perks lead; values are only compared within a unit.
		ui, uj := unitRank(ranked[i].Remaining), unitRank(ranked[j].Remaining)
		if ui != uj {
			return ui < uj
		}
		if ranked[i].Remaining.Unit != ranked[j].Remaining.Unit {
			return ranked[i].Remaining.Unit < ranked[j].Remaining.Unit
		}
		if !ranked[i].Remaining.Equal(ranked[j].Remaining) {
			return ranked[i].Remaining.GreaterThan(ranked[j].Remaining)
		}
		return ranked[i].Name < ranked[j].Name
	})

	cycleEnd := cfg.BoundsFor(now).End
	body := reminderBody(ranked)

	var out []ScheduledReminder
	for _, d := range rc.OffsetsFor(cfg.PeriodMonths) {
		if d < 1 {
			continue
		}
		fireAt := generic.AtTimeOfDay(cycleEnd.AddDate(0, 0, -(d - 1)), rc.Hour, rc.Minute)
		if !fireAt.After(now) || !fireAt.Before(cycleEnd) {
			continue
		}
		out = append(out, ScheduledReminder{
			Title:        reminderTitle(cfg.PeriodMonths, d),
			Body:         body,
			FireAt:       fireAt,
			PeriodMonths: cfg.PeriodMonths,
			OffsetDays:   d,
			CycleEnd:     cycleEnd,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func reminderTitle(periodMonths, days int) string {
	if days == 1 {
		return fmt.Sprintf("Your %s perks reset tomorrow", periodLabel(periodMonths))
	}
	return fmt.Sprintf("Your %s perks reset in %d days", periodLabel(periodMonths), days)
}

// reminderBody leads with the headline perk, then counts what is left.
func reminderBody(ranked []AvailablePerk) string {
	head := ranked[0]
	var total generic.Totals
	for _, p := range ranked {
		total = total.Add(p.Remaining)
	}

	if len(ranked) == 1 {
		return fmt.Sprintf("%s: %s left to use.", head.Name, head.Remaining.Display())
	}
	return fmt.Sprintf("%s: %s left. %d perks worth %s remain this cycle.",
		head.Name, head.Remaining.Display(), len(ranked), total.Display())
}

func unitRank(a generic.Amount) int {
	if a.Unit == generic.UnitUSD || a.Unit == "" {
		return 0
	}
	return 1
}

func periodLabel(months int) string {
	switch months {
	case 1:
		return "monthly"
	case 3:
		return "quarterly"
	case 6:
		return "semi-annual"
	case 12:
		return "annual"
	}
	return fmt.Sprintf("%d-month", months)
}
