package perks_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/perks"
)

func TestCoordinator_RedeemThenUndo(t *testing.T) {
	// GIVEN: An available $50 perk
	// WHEN: Redeeming it and invoking the undo
	// THEN: The view returns to available and the undo cannot be reused

	f := newFixture(t, june15())
	ctx := context.Background()
	coord := f.svc.Coordinator()

	out, err := coord.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining"})
	require.NoError(t, err)
	assert.Equal(t, perks.Redeemed, out.View.Status)
	assert.Equal(t, perks.Available, out.Previous.Status)
	assert.Equal(t, june15().Add(perks.DefaultUndoWindow), out.Expires)

	pending, ok := coord.Pending(f.user, "dining")
	require.True(t, ok)
	assert.Equal(t, out.View, pending)

	view, err := out.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, perks.Available, view.Status)
	assert.Empty(t, f.active(t, "dining"))

	_, err = out.Undo(ctx)
	assert.ErrorIs(t, err, perks.ErrUndoExpired, "undo runs once")
}

func TestCoordinator_UndoExpires(t *testing.T) {
	f := newFixture(t, june15())
	ctx := context.Background()

	out, err := f.svc.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining", Amount: amt(10)})
	require.NoError(t, err)

	f.clock.Advance(perks.DefaultUndoWindow + time.Second)
	_, err = out.Undo(ctx)
	assert.ErrorIs(t, err, perks.ErrUndoExpired)
	assert.Len(t, f.active(t, "dining"), 1, "expired undo leaves the redemption")
}

func TestCoordinator_FailureRevertsLocalState(t *testing.T) {
	// GIVEN: The perk is already fully redeemed
	// WHEN: Redeeming again
	// THEN: AlreadyRedeemedError and the local view is the pre-action view

	f := newFixture(t, june15())
	ctx := context.Background()
	coord := f.svc.Coordinator()

	first, err := coord.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining"})
	require.NoError(t, err)

	out, err := coord.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining", Amount: amt(5)})
	assert.ErrorIs(t, err, perks.ErrAlreadyRedeemed)
	assert.Nil(t, out.Undo)

	pending, ok := coord.Pending(f.user, "dining")
	require.True(t, ok)
	assert.Equal(t, first.View, pending)
}

func TestCoordinator_UndoTopUpRestoresPartial(t *testing.T) {
	f := newFixture(t, june15())
	ctx := context.Background()

	_, err := f.svc.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining", Amount: amt(20)})
	require.NoError(t, err)
	out, err := f.svc.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining", Amount: amt(30)})
	require.NoError(t, err)
	require.Equal(t, perks.Redeemed, out.View.Status)

	view, err := out.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, perks.PartiallyRedeemed, view.Status)
	assert.True(t, view.RemainingValue.Equal(usd(30)))
	assert.Len(t, f.active(t, "dining"), 1)
}

func TestCoordinator_MarkAvailableThenUndo(t *testing.T) {
	f := newFixture(t, june15())
	ctx := context.Background()

	redeemed, err := f.svc.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining"})
	require.NoError(t, err)

	out, err := f.svc.MarkAvailable(ctx, f.user, "dining")
	require.NoError(t, err)
	assert.Equal(t, perks.Available, out.View.Status)
	assert.Empty(t, f.active(t, "dining"))

	view, err := out.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, perks.Redeemed, view.Status)
	assert.Equal(t, redeemed.View.ActiveRecordID, view.ActiveRecordID, "the same record is back")
	assert.Equal(t, redeemed.View.StreakCount, view.StreakCount, "redo does not double count")
}

func TestCoordinator_ConcurrentRedeemsSerialize(t *testing.T) {
	// GIVEN: Two simultaneous full redemptions of one perk
	// THEN: Exactly one succeeds, the other sees AlreadyRedeemedError

	f := newFixture(t, june15())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Redeem(ctx, f.user, perks.RedeemRequest{PerkID: "dining"})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case perks.IsBusinessError(err):
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Len(t, f.active(t, "dining"), 1)
}

func TestCoordinator_UnknownPerk(t *testing.T) {
	f := newFixture(t, june15())

	_, err := f.svc.Redeem(context.Background(), f.user, perks.RedeemRequest{PerkID: "nope"})
	assert.ErrorIs(t, err, perks.ErrPerkNotFound)
	assert.True(t, perks.IsNotFound(err))
}

// =============================================================================
// LOCKER
// =============================================================================

func TestKeyedLocker_WaitHonoursContext(t *testing.T) {
	l := perks.NewKeyedLocker()
	key := perks.LockKey("u", "p")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), perks.LockKey("u", "other"))
	require.NoError(t, err, "different perks do not block each other")
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}
