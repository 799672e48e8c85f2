package perks_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
	"github.com/warp/perk-engine/perks/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCard perks.CardProductID = "test-card"

func june15() time.Time {
	return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
}

func usd(v float64) generic.Amount { return generic.NewAmount(v, generic.UnitUSD) }

func amt(v float64) *generic.Amount {
	a := usd(v)
	return &a
}

// clock is a settable time source shared by every component of a fixture.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	backend *store.Memory
	svc     *perks.Service
	ledger  *perks.Ledger
	clock   *clock
	logs    *test.Hook
	user    perks.UserID
	card    perks.CardEnrollment
}

// newFixture enrolls one user in testCard, which carries defs (a $50
// calendar-monthly perk when none are given).
func newFixture(t *testing.T, now time.Time, defs ...perks.PerkDefinition) *fixture {
	t.Helper()
	ctx := context.Background()

	if len(defs) == 0 {
		defs = []perks.PerkDefinition{perks.MonthlyCredit("dining", testCard, "Dining Credit", 50, "dining")}
	}

	backend := store.NewMemory()
	for _, d := range defs {
		require.NoError(t, backend.SaveDefinition(ctx, d))
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	clk := &clock{t: now}
	svc := perks.NewService(backend, perks.Options{Now: clk.Now, Logger: logger})

	card, err := svc.Enroll(ctx, "user-1", testCard, "My Card", time.Time{})
	require.NoError(t, err)

	return &fixture{
		backend: backend,
		svc:     svc,
		ledger:  svc.Ledger(),
		clock:   clk,
		logs:    hook,
		user:    "user-1",
		card:    card,
	}
}

func (f *fixture) redeem(t *testing.T, perkID perks.PerkID, amount *generic.Amount) (perks.RedemptionRecord, error) {
	t.Helper()
	return f.ledger.RecordRedemption(context.Background(), perks.RedeemRequest{
		PerkID:           perkID,
		CardEnrollmentID: f.card.ID,
		Amount:           amount,
	})
}

func (f *fixture) active(t *testing.T, perkID perks.PerkID) []perks.RedemptionRecord {
	t.Helper()
	recs, err := f.ledger.ListActive(context.Background(), f.user, []perks.PerkID{perkID}, f.clock.Now())
	require.NoError(t, err)
	return recs
}

// record builds a ledger row for pure-function tests.
func record(perkID perks.PerkID, card perks.EnrollmentID, status perks.RecordStatus, redeemed, total float64, at, resetAt time.Time) perks.RedemptionRecord {
	return perks.RedemptionRecord{
		ID:               perks.RecordID(string(perkID) + "-" + at.Format("20060102")),
		UserID:           "user-1",
		PerkDefinitionID: perkID,
		CardEnrollmentID: card,
		RedeemedAt:       at,
		CycleResetAt:     resetAt,
		Status:           status,
		ValueRedeemed:    usd(redeemed),
		TotalValue:       usd(total),
		RemainingValue:   usd(total - redeemed),
	}
}
