package perks

import (
	"time"

	"github.com/warp/perk-engine/generic"
)

// =============================================================================
// STREAK TRACKER
// =============================================================================

// maxReplayCycles bounds how far back DeriveStreak walks.
const maxReplayCycles = 600

// StreakState counts consecutive fully-used (Streak) and unused (Cold)
// cycles. It only moves when the cycle identifier changes.
type StreakState struct {
	Streak int
	Cold   int
	Last   generic.CycleID
}

// Advance applies the outcome of cycle id. Calling it again for the same
// cycle is a no-op, so a redo after an undo never double counts.
func (s *StreakState) Advance(id generic.CycleID, redeemed bool) {
	if !s.Last.IsZero() && s.Last == id {
		return
	}
	if redeemed {
		s.Streak++
		s.Cold = 0
	} else {
		s.Streak = 0
		s.Cold++
	}
	s.Last = id
}

// DeriveStreak replays every closed cycle from since up to now, then credits
// the open cycle once if it already holds a fully redeemed record.
func DeriveStreak(cfg generic.CycleConfig, records []RedemptionRecord, since, now time.Time) StreakState {
	var st StreakState
	if since.IsZero() || since.After(now) {
		since = now
	}
	months := cfg.PeriodMonths
	if months <= 0 {
		months = 1
	}
	if floor := now.AddDate(0, -months*maxReplayCycles, 0); since.Before(floor) {
		since = floor
	}

	p := cfg.BoundsFor(since)
	for i := 0; i < maxReplayCycles && p.End.Before(now); i++ {
		st.Advance(cfg.IDOf(p), redeemedWithin(records, p))
		p = cfg.Next(p)
	}

	for _, r := range records {
		if r.Status == StatusRedeemed && r.IsActive(now) {
			st.Advance(cfg.IDOf(p), true)
			break
		}
	}
	return st
}

func redeemedWithin(records []RedemptionRecord, p generic.Period) bool {
	for _, r := range records {
		if r.Status == StatusRedeemed && p.Contains(r.RedeemedAt) {
			return true
		}
	}
	return false
}

// streakSince is where the replay starts: the enrollment's open date or the
// first record, whichever is earlier.
func streakSince(perk Perk, records []RedemptionRecord) time.Time {
	since := perk.Enrollment.OpenedAt
	for _, r := range records {
		if since.IsZero() || r.RedeemedAt.Before(since) {
			since = r.RedeemedAt
		}
	}
	return since
}
