package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - A closed time window [Start, End]
// =============================================================================

// Period is a renewal window. End is the last instant that still belongs to
// the window, so the next window starts at End + Instant.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// =============================================================================
// RESET POLICY
// =============================================================================

// ResetPolicy decides whether cycles align to calendar units or run from an
// anniversary.
type ResetPolicy string

const (
	ResetCalendar    ResetPolicy = "calendar"    // Months, quarters, halves, years
	ResetAnniversary ResetPolicy = "anniversary" // periodMonths from an anchor
)

func (r ResetPolicy) Valid() bool {
	return r == ResetCalendar || r == ResetAnniversary
}

// =============================================================================
// CYCLE IDENTIFIER - Names a renewal window, used to detect rollover
// =============================================================================

type CycleID struct {
	Year  int
	Index int
}

func (c CycleID) String() string { return fmt.Sprintf("%d-%02d", c.Year, c.Index) }
func (c CycleID) IsZero() bool   { return c.Year == 0 && c.Index == 0 }

// =============================================================================
// CYCLE CONFIG - The cycle boundary calculator
// =============================================================================

// CycleConfig describes how a perk renews.
//
// Calendar cycles for 1, 3, 6 and 12 months align to months, calendar
// quarters, Jan-Jun / Jul-Dec halves and calendar years. Any other length
// starts on the first of the current month.
//
// Anniversary cycles run PeriodMonths from Anchor. An anchor day the month
// does not have falls on its last day, so a Jan 31 anchor renews on Feb 28
// and again on Mar 31. Without an anchor the cycle is simply
// [now, now + PeriodMonths].
type CycleConfig struct {
	PeriodMonths int
	Policy       ResetPolicy
	Anchor       *time.Time
}

// BoundsFor is the functional form of CycleConfig.BoundsFor.
func BoundsFor(periodMonths int, policy ResetPolicy, now time.Time) Period {
	return CycleConfig{PeriodMonths: periodMonths, Policy: policy}.BoundsFor(now)
}

// Validate rejects configs that cannot produce a cycle.
func (c CycleConfig) Validate() error {
	if c.PeriodMonths <= 0 {
		return fmt.Errorf("%w: period of %d months", ErrInvalidPeriod, c.PeriodMonths)
	}
	if c.Policy != "" && !c.Policy.Valid() {
		return fmt.Errorf("%w: unknown reset policy %q", ErrInvalidPeriod, c.Policy)
	}
	return nil
}

// WithAnchor returns a copy anchored at t.
func (c CycleConfig) WithAnchor(t time.Time) CycleConfig {
	c.Anchor = &t
	return c
}

func (c CycleConfig) months() int {
	if c.PeriodMonths <= 0 {
		return 1
	}
	return c.PeriodMonths
}

// BoundsFor returns the cycle containing now. The result always satisfies
// Start <= now <= End. Boundaries are computed in now's location.
func (c CycleConfig) BoundsFor(now time.Time) Period {
	if c.Policy == ResetAnniversary {
		return c.anniversaryBounds(now)
	}
	return c.calendarBounds(now)
}

func (c CycleConfig) calendarBounds(now time.Time) Period {
	m := c.months()
	switch m {
	case 1, 3, 6, 12:
		firstMonth := (int(now.Month())-1)/m*m + 1
		start := time.Date(now.Year(), time.Month(firstMonth), 1, 0, 0, 0, 0, now.Location())
		return Period{Start: start, End: start.AddDate(0, m, 0).Add(-Instant)}
	}

	start := StartOfMonth(now)
	end := start.AddDate(0, m, 0).Add(-Instant)
	for end.Before(now) {
		start = start.AddDate(0, m, 0)
		end = start.AddDate(0, m, 0).Add(-Instant)
	}
	return Period{Start: start, End: end}
}

func (c CycleConfig) anniversaryBounds(now time.Time) Period {
	m := c.months()
	if c.Anchor == nil {
		return Period{Start: now, End: now.AddDate(0, m, 0)}
	}

	anchor := c.Anchor.In(now.Location())
	k := monthsBetween(anchor, now) / m
	if monthsBetween(anchor, now) < 0 {
		k--
	}
	start := AddMonthsClamped(anchor, k*m)
	for start.After(now) {
		k--
		start = AddMonthsClamped(anchor, k*m)
	}
	for {
		next := AddMonthsClamped(anchor, (k+1)*m)
		if next.After(now) {
			return Period{Start: start, End: next.Add(-Instant)}
		}
		k++
		start = next
	}
}

// floating reports whether cycles are positioned relative to now rather than
// to fixed boundaries.
func (c CycleConfig) floating() bool {
	if c.Policy == ResetAnniversary {
		return c.Anchor == nil
	}
	switch c.months() {
	case 1, 3, 6, 12:
		return false
	}
	return true
}

// Previous returns the cycle immediately before p.
func (c CycleConfig) Previous(p Period) Period {
	if c.floating() {
		return Period{Start: p.Start.AddDate(0, -c.months(), 0), End: p.Start.Add(-Instant)}
	}
	return c.BoundsFor(p.Start.Add(-Instant))
}

// Next returns the cycle immediately after p.
func (c CycleConfig) Next(p Period) Period {
	if c.floating() {
		start := p.End.Add(Instant)
		return Period{Start: start, End: start.AddDate(0, c.months(), 0).Add(-Instant)}
	}
	return c.BoundsFor(p.End.Add(Instant))
}

// IDFor names the cycle containing now.
func (c CycleConfig) IDFor(now time.Time) CycleID {
	return c.IDOf(c.BoundsFor(now))
}

// IDOf names a cycle by its start.
func (c CycleConfig) IDOf(p Period) CycleID {
	if c.Policy == ResetAnniversary {
		return CycleID{Year: p.Start.Year(), Index: p.Start.YearDay()}
	}
	switch m := c.months(); m {
	case 1, 3, 6, 12:
		return CycleID{Year: p.Start.Year(), Index: (int(p.Start.Month()) - 1) / m}
	}
	return CycleID{Year: p.Start.Year(), Index: int(p.Start.Month()) - 1}
}
