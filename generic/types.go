/*
Package generic provides the domain-agnostic primitives of the perk engine.

PURPOSE:
  This package contains the building blocks that carry no knowledge of
  cards or perks: money amounts, calendar helpers, renewal cycles and the
  base storage errors. The perks package builds the redemption ledger,
  status aggregation, streaks and reminders on top of these.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity with a unit (e.g., $50, 1000 points)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Purity: Nothing in this package performs I/O or reads the wall clock
     implicitly; callers pass "now"

USAGE:
  credit := generic.NewAmount(50, generic.UnitUSD)
  left := credit.Sub(generic.NewAmount(20, generic.UnitUSD)) // $30

SEE ALSO:
  - period.go: Cycle boundary calculation
  - errors.go: Storage errors shared by all store implementations
*/
package generic

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit (currency for perks)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitUSD    Unit = "USD"
	UnitPoints Unit = "points"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(s string, unit Unit) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Unit: unit}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.Value.GreaterThanOrEqual(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampZero returns the amount, or zero if it is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

// Display formats the amount for humans: "$50", "$12.50", "300 points".
func (a Amount) Display() string {
	s := a.Value.StringFixed(2)
	if a.Value.Equal(a.Value.Truncate(0)) {
		s = a.Value.Truncate(0).String()
	}
	if a.Unit == UnitUSD || a.Unit == "" {
		return "$" + s
	}
	return s + " " + string(a.Unit)
}

func (a Amount) String() string {
	return a.Value.String() + " " + string(a.Unit)
}

// =============================================================================
// TOTALS - Per-unit sums
// =============================================================================

// Totals sums amounts per unit. Dollars and points are never added together.
type Totals map[Unit]Amount

func unitOf(a Amount) Unit {
	if a.Unit == "" {
		return UnitUSD
	}
	return a.Unit
}

// Add returns the totals with a added to its unit's sum. A nil receiver
// starts a new set.
func (t Totals) Add(a Amount) Totals {
	if t == nil {
		t = make(Totals)
	}
	u := unitOf(a)
	sum, ok := t[u]
	if !ok {
		sum = Amount{Value: decimal.Zero, Unit: u}
	}
	t[u] = sum.Add(a)
	return t
}

// Include makes sure unit u has an entry, zero if nothing was added.
func (t Totals) Include(u Unit) Totals {
	if u == "" {
		u = UnitUSD
	}
	return t.Add(Amount{Value: decimal.Zero, Unit: u})
}

// Get returns the sum for one unit, zero when absent.
func (t Totals) Get(u Unit) Amount {
	if u == "" {
		u = UnitUSD
	}
	if a, ok := t[u]; ok {
		return a
	}
	return Amount{Value: decimal.Zero, Unit: u}
}

// Units lists the units present, dollars first, then by name.
func (t Totals) Units() []Unit {
	units := make([]Unit, 0, len(t))
	for u := range t {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		if (units[i] == UnitUSD) != (units[j] == UnitUSD) {
			return units[i] == UnitUSD
		}
		return units[i] < units[j]
	})
	return units
}

// Amounts returns one Amount per unit in Units order.
func (t Totals) Amounts() []Amount {
	out := make([]Amount, 0, len(t))
	for _, u := range t.Units() {
		out = append(out, t[u])
	}
	return out
}

// Display joins the per-unit sums: "$250 + 35000 points".
func (t Totals) Display() string {
	if len(t) == 0 {
		return "$0"
	}
	parts := make([]string, 0, len(t))
	for _, a := range t.Amounts() {
		parts = append(parts, a.Display())
	}
	return strings.Join(parts, " + ")
}
