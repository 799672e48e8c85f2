package perks_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

func TestScheduleFor_MonthlyTwoPerks(t *testing.T) {
	// GIVEN: Two monthly perks still available on June 15
	// WHEN: Scheduling with offsets {1, 3, 7}
	// THEN: Three reminders, all before the cycle ends, headline = $20 perk

	available := []perks.AvailablePerk{
		{PerkID: "rides", Name: "Rideshare Credit", Remaining: usd(15)},
		{PerkID: "dining", Name: "Dining Credit", Remaining: usd(20)},
	}
	rc := perks.DefaultReminderConfig()

	got := perks.ScheduleFor(monthly, available, june15(), rc)
	require.Len(t, got, 3)

	cycleEnd := monthly.BoundsFor(june15()).End
	wantDays := []int{24, 28, 30}
	for i, r := range got {
		assert.True(t, r.FireAt.Before(cycleEnd), "fire %s before %s", r.FireAt, cycleEnd)
		assert.True(t, r.FireAt.After(june15()))
		assert.Equal(t, wantDays[i], r.FireAt.Day())
		assert.Equal(t, 9, r.FireAt.Hour())
		assert.Equal(t, cycleEnd, r.CycleEnd)

		dining := strings.Index(r.Body, "Dining Credit")
		rides := strings.Index(r.Body, "Rideshare")
		assert.True(t, dining >= 0 && (rides < 0 || dining < rides), "higher value perk first: %q", r.Body)
		assert.Contains(t, r.Body, "2 perks worth $35")
	}
	assert.Equal(t, 1, got[2].OffsetDays)
	assert.Equal(t, "Your monthly perks reset tomorrow", got[2].Title)
}

func TestScheduleFor_DropsPastFireTimes(t *testing.T) {
	available := []perks.AvailablePerk{{PerkID: "dining", Name: "Dining", Remaining: usd(20)}}

	got := perks.ScheduleFor(monthly, available, time.Date(2025, time.June, 29, 8, 0, 0, 0, time.UTC), perks.DefaultReminderConfig())
	require.Len(t, got, 1)
	assert.Equal(t, 30, got[0].FireAt.Day())

	got = perks.ScheduleFor(monthly, available, time.Date(2025, time.June, 30, 9, 0, 0, 0, time.UTC), perks.DefaultReminderConfig())
	assert.Empty(t, got, "a fire time equal to now is not in the future")
}

func TestScheduleFor_NoAvailablePerks(t *testing.T) {
	assert.Nil(t, perks.ScheduleFor(monthly, nil, june15(), perks.DefaultReminderConfig()))
}

func TestScheduleFor_TiesBrokenByName(t *testing.T) {
	available := []perks.AvailablePerk{
		{PerkID: "b", Name: "Zoo Pass", Remaining: usd(10)},
		{PerkID: "a", Name: "Art Museum", Remaining: usd(10)},
	}
	got := perks.ScheduleFor(monthly, available, june15(), perks.DefaultReminderConfig())
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0].Body, "Art Museum"))
}

func TestScheduleFor_Quarterly(t *testing.T) {
	quarterly := generic.CycleConfig{PeriodMonths: 3, Policy: generic.ResetCalendar}
	available := []perks.AvailablePerk{{PerkID: "lounge", Name: "Lounge", Remaining: usd(100)}}

	got := perks.ScheduleFor(quarterly, available, june15(), perks.DefaultReminderConfig())
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, time.June, 17, 9, 0, 0, 0, time.UTC), got[0].FireAt, "14 days before")
	assert.Equal(t, time.Date(2025, time.June, 24, 9, 0, 0, 0, time.UTC), got[1].FireAt, "7 days before")
	assert.Equal(t, "Lounge: $100 left to use.", got[0].Body)
}

func TestReminderConfig_OffsetsFor(t *testing.T) {
	rc := perks.DefaultReminderConfig()
	assert.Equal(t, []int{1, 3, 7}, rc.OffsetsFor(1))
	assert.Equal(t, []int{30, 60}, rc.OffsetsFor(12))
	assert.Equal(t, []int{1, 3, 7}, rc.OffsetsFor(2), "unknown periods use monthly offsets")
}
