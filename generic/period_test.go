package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/generic"
)

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// =============================================================================
// CALENDAR POLICY
// =============================================================================

func TestBoundsFor_Calendar_StandardPeriods(t *testing.T) {
	now := at(2025, time.August, 17)

	tests := []struct {
		name      string
		months    int
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"monthly", 1, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
		{"quarterly", 3, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"semi-annual", 6, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"annual", 12, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := generic.BoundsFor(tt.months, generic.ResetCalendar, now)
			assert.Equal(t, tt.wantStart, p.Start)
			assert.Equal(t, tt.wantEnd.Add(-generic.Instant), p.End, "end is the last instant of the cycle")
		})
	}
}

func TestBoundsFor_Calendar_ContainsNowForEveryDayOfTheYear(t *testing.T) {
	// Property: start <= now <= end, and the span matches the calendar unit.
	for _, months := range []int{1, 3, 6, 12} {
		day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		for day.Year() == 2024 {
			for _, now := range []time.Time{day, day.Add(23*time.Hour + 59*time.Minute)} {
				p := generic.BoundsFor(months, generic.ResetCalendar, now)
				require.False(t, now.Before(p.Start), "months=%d now=%s start=%s", months, now, p.Start)
				require.False(t, now.After(p.End), "months=%d now=%s end=%s", months, now, p.End)
				assert.Equal(t, p.Start.AddDate(0, months, 0), p.End.Add(generic.Instant))
			}
			day = day.AddDate(0, 0, 1)
		}
	}
}

func TestBoundsFor_Calendar_MonthlySpanCoversDaysInMonth(t *testing.T) {
	p := generic.BoundsFor(1, generic.ResetCalendar, at(2024, time.February, 10))
	assert.Equal(t, 29, p.End.Day(), "leap February")
	assert.Equal(t, 28, generic.DaysBetween(p.Start, p.End))

	p = generic.BoundsFor(1, generic.ResetCalendar, at(2025, time.June, 15))
	assert.Equal(t, 30, p.End.Day())
}

func TestBoundsFor_Calendar_LastInstantStillBelongsToCycle(t *testing.T) {
	end := time.Date(2025, time.March, 31, 23, 59, 59, 999999999, time.UTC)
	p := generic.BoundsFor(3, generic.ResetCalendar, end)
	assert.Equal(t, time.January, p.Start.Month())
	assert.Equal(t, end, p.End)

	next := generic.BoundsFor(3, generic.ResetCalendar, end.Add(generic.Instant))
	assert.Equal(t, time.April, next.Start.Month())
}

func TestBoundsFor_Calendar_NonStandardPeriodStartsThisMonth(t *testing.T) {
	now := at(2025, time.June, 15)
	p := generic.BoundsFor(2, generic.ResetCalendar, now)

	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC).Add(-generic.Instant), p.End)
	assert.True(t, p.Contains(now))
}

func TestBoundsFor_KeepsLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2025, time.June, 30, 22, 0, 0, 0, ny) // already July in UTC
	p := generic.BoundsFor(1, generic.ResetCalendar, now)

	assert.Equal(t, time.June, p.Start.Month())
	assert.Equal(t, ny, p.Start.Location())
}

// =============================================================================
// ANNIVERSARY POLICY
// =============================================================================

func TestBoundsFor_Anniversary_NoAnchor(t *testing.T) {
	now := at(2025, time.June, 15)
	p := generic.BoundsFor(12, generic.ResetAnniversary, now)

	assert.Equal(t, now, p.Start)
	assert.Equal(t, at(2026, time.June, 15), p.End)
}

func TestBoundsFor_Anniversary_Anchored(t *testing.T) {
	cfg := generic.CycleConfig{PeriodMonths: 12, Policy: generic.ResetAnniversary}.
		WithAnchor(time.Date(2022, time.September, 10, 0, 0, 0, 0, time.UTC))

	p := cfg.BoundsFor(at(2025, time.June, 15))
	assert.Equal(t, time.Date(2024, time.September, 10, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, time.September, 10, 0, 0, 0, 0, time.UTC).Add(-generic.Instant), p.End)

	p = cfg.BoundsFor(at(2025, time.September, 10))
	assert.Equal(t, 2025, p.Start.Year())
}

func TestBoundsFor_Anniversary_BeforeAnchor(t *testing.T) {
	cfg := generic.CycleConfig{PeriodMonths: 3, Policy: generic.ResetAnniversary}.
		WithAnchor(time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC))

	now := at(2025, time.January, 5)
	p := cfg.BoundsFor(now)
	assert.True(t, p.Contains(now), "period %s must contain %s", p, now)
}

func TestBoundsFor_Anniversary_MonthEndAnchorClamps(t *testing.T) {
	// GIVEN: A monthly anniversary perk opened on January 31
	utc := func(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }
	cfg := generic.CycleConfig{PeriodMonths: 1, Policy: generic.ResetAnniversary}.
		WithAnchor(utc(time.January, 31))

	// WHEN: Looking at mid February
	feb := cfg.BoundsFor(utc(time.February, 15))

	// THEN: The cycle ends on the last day of February, not in March
	assert.Equal(t, utc(time.January, 31), feb.Start)
	assert.Equal(t, utc(time.February, 28).Add(-generic.Instant), feb.End)

	// WHEN: Stepping forward
	mar := cfg.Next(feb)
	apr := cfg.Next(mar)

	// THEN: Each renewal returns to the anchor day when the month has it
	assert.Equal(t, utc(time.February, 28), mar.Start)
	assert.Equal(t, utc(time.March, 31).Add(-generic.Instant), mar.End)
	assert.Equal(t, utc(time.March, 31), apr.Start)
	assert.Equal(t, utc(time.April, 30).Add(-generic.Instant), apr.End)
	assert.Equal(t, feb, cfg.Previous(mar))
}

func TestBoundsFor_Anniversary_LeapDayAnchor(t *testing.T) {
	cfg := generic.CycleConfig{PeriodMonths: 12, Policy: generic.ResetAnniversary}.
		WithAnchor(time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC))

	p := cfg.BoundsFor(at(2025, time.June, 15))
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC).Add(-generic.Instant), p.End)
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		n    int
		want time.Time
	}{
		{"plain", time.Date(2025, time.May, 10, 8, 30, 0, 0, time.UTC), 1, time.Date(2025, time.June, 10, 8, 30, 0, 0, time.UTC)},
		{"clamps to february", time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"leap year", time.Date(2024, time.January, 30, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{"across year", time.Date(2025, time.October, 31, 0, 0, 0, 0, time.UTC), 4, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"backwards", time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.AddMonthsClamped(tt.from, tt.n))
		})
	}
}

// =============================================================================
// NAVIGATION AND IDENTIFIERS
// =============================================================================

func TestCycleConfig_PreviousAndNext(t *testing.T) {
	cfg := generic.CycleConfig{PeriodMonths: 3, Policy: generic.ResetCalendar}
	cur := cfg.BoundsFor(at(2025, time.May, 2))

	prev := cfg.Previous(cur)
	assert.Equal(t, time.January, prev.Start.Month())
	assert.Equal(t, cur.Start.Add(-generic.Instant), prev.End)

	next := cfg.Next(cur)
	assert.Equal(t, time.July, next.Start.Month())
	assert.Equal(t, cur, cfg.Previous(next))
}

func TestCycleConfig_IDChangesOnRollover(t *testing.T) {
	cfg := generic.CycleConfig{PeriodMonths: 1, Policy: generic.ResetCalendar}

	june := cfg.IDFor(at(2025, time.June, 1))
	assert.Equal(t, june, cfg.IDFor(at(2025, time.June, 30)))
	assert.NotEqual(t, june, cfg.IDFor(at(2025, time.July, 1)))
	assert.Equal(t, generic.CycleID{Year: 2025, Index: 5}, june)
	assert.Equal(t, "2025-05", june.String())
}

func TestCycleConfig_Validate(t *testing.T) {
	assert.NoError(t, generic.CycleConfig{PeriodMonths: 1, Policy: generic.ResetCalendar}.Validate())
	assert.ErrorIs(t, generic.CycleConfig{PeriodMonths: 0}.Validate(), generic.ErrInvalidPeriod)
	assert.ErrorIs(t, generic.CycleConfig{PeriodMonths: 1, Policy: "weekly"}.Validate(), generic.ErrInvalidPeriod)
}

// =============================================================================
// AMOUNT
// =============================================================================

func TestAmount_Display(t *testing.T) {
	assert.Equal(t, "$50", generic.NewAmount(50, generic.UnitUSD).Display())
	assert.Equal(t, "$12.50", generic.NewAmount(12.5, generic.UnitUSD).Display())
	assert.Equal(t, "300 points", generic.NewAmountFromInt(300, generic.UnitPoints).Display())
}

func TestStorageError_Matching(t *testing.T) {
	err := generic.WrapStorage("insert", generic.ErrDuplicateActiveRecord)

	assert.True(t, generic.IsStorageError(err))
	assert.True(t, generic.IsConflict(err))
	assert.Same(t, err, generic.WrapStorage("outer", err), "already wrapped errors are not wrapped twice")
	assert.Nil(t, generic.WrapStorage("noop", nil))
}
