package perks_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

var monthly = generic.CycleConfig{PeriodMonths: 1, Policy: generic.ResetCalendar}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 12, 0, 0, 0, time.UTC)
}

// redeemedIn builds a fully redeemed record for the monthly cycle containing at.
func redeemedIn(at time.Time) perks.RedemptionRecord {
	end := monthly.BoundsFor(at).End.Add(generic.Instant)
	return record("dining", "card", perks.StatusRedeemed, 50, 50, at, end)
}

func TestStreakState_AdvanceIsIdempotentPerCycle(t *testing.T) {
	var st perks.StreakState
	june := generic.CycleID{Year: 2025, Index: 5}

	st.Advance(june, true)
	st.Advance(june, true)
	assert.Equal(t, 1, st.Streak, "same cycle counts once")

	st.Advance(generic.CycleID{Year: 2025, Index: 6}, false)
	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 1, st.Cold)
}

func TestDeriveStreak_RedeemedTwoCyclesInARow(t *testing.T) {
	// GIVEN: Redeemed in May and June
	// WHEN: July begins
	// THEN: streak 2, cold 0

	records := []perks.RedemptionRecord{redeemedIn(day(time.May, 10)), redeemedIn(day(time.June, 10))}

	st := perks.DeriveStreak(monthly, records, day(time.May, 1), day(time.July, 5))
	assert.Equal(t, 2, st.Streak)
	assert.Equal(t, 0, st.Cold)
}

func TestDeriveStreak_MissedCycleGoesCold(t *testing.T) {
	// GIVEN: Redeemed in May, not in June
	// WHEN: July begins
	// THEN: streak 0, cold 1

	records := []perks.RedemptionRecord{redeemedIn(day(time.May, 10))}

	st := perks.DeriveStreak(monthly, records, day(time.May, 1), day(time.July, 5))
	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 1, st.Cold)
}

func TestDeriveStreak_OpenCycleCountsOnce(t *testing.T) {
	records := []perks.RedemptionRecord{redeemedIn(day(time.May, 10)), redeemedIn(day(time.June, 10))}

	st := perks.DeriveStreak(monthly, records, day(time.May, 1), day(time.June, 20))
	assert.Equal(t, 2, st.Streak, "May closed plus June already redeemed")
	assert.Equal(t, generic.CycleID{Year: 2025, Index: 5}, st.Last)

	// Not yet redeemed in the open cycle: only closed cycles count.
	st = perks.DeriveStreak(monthly, records[:1], day(time.May, 1), day(time.June, 20))
	assert.Equal(t, 1, st.Streak)
	assert.Equal(t, 0, st.Cold)
}

func TestDeriveStreak_PartialDoesNotCount(t *testing.T) {
	partial := record("dining", "card", perks.StatusPartiallyRedeemed, 10, 50, day(time.May, 10), day(time.June, 1))

	st := perks.DeriveStreak(monthly, []perks.RedemptionRecord{partial}, day(time.May, 1), day(time.June, 2))
	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 1, st.Cold)
}

func TestDeriveStreak_QuarterlyMovesAtQuarterBoundaries(t *testing.T) {
	quarterly := generic.CycleConfig{PeriodMonths: 3, Policy: generic.ResetCalendar}
	q1 := record("lounge", "card", perks.StatusRedeemed, 100, 100, day(time.February, 1), day(time.April, 1))

	st := perks.DeriveStreak(quarterly, []perks.RedemptionRecord{q1}, day(time.January, 1), day(time.June, 30))
	assert.Equal(t, 1, st.Streak, "Q2 is still open")

	st = perks.DeriveStreak(quarterly, []perks.RedemptionRecord{q1}, day(time.January, 1), day(time.July, 1))
	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 1, st.Cold)
}

func TestDeriveStreak_NoHistory(t *testing.T) {
	st := perks.DeriveStreak(monthly, nil, time.Time{}, day(time.June, 15))
	assert.Equal(t, perks.StreakState{}, st)
}
