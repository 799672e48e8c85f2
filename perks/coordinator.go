/*
coordinator.go - Optimistic Update Coordinator

PURPOSE:
  The only entry point allowed to mutate the ledger. Each action applies a
  tentative view to local state, calls the ledger, then either keeps the
  result (handing back a time-boxed undo) or reverts local state to the
  view it had before the action.

PROTOCOL:
  1. Lock (user, perk); a second action on the same perk waits.
  2. Derive the current view from the ledger; that is the "previous" view.
  3. Apply the projected view locally.
  4. Call the ledger.
  5a. Failure: re-apply the previous view, return the error.
  5b. Success: re-derive the view from the ledger, apply it, return an
      Outcome whose Undo performs the inverse ledger operation.

UNDO:
  An undo is a new compensating action, not a cancellation. It runs under
  the same per-perk lock, may be invoked once, and only until Expires.
    redeem from available  -> delete active record
    redeem from partial    -> delete active record, restore the partial
    mark available         -> restore the removed records

SEE ALSO:
  - locker.go: Per-key mutual exclusion (redislock for multi-instance)
  - ledger.go: The operations being coordinated
*/
package perks

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultUndoWindow is how long an undo stays available.
const DefaultUndoWindow = 5 * time.Second

// Outcome is the result of a coordinated action.
type Outcome struct {
	View     PerkStatusView
	Previous PerkStatusView
	Undo     func(ctx context.Context) (PerkStatusView, error)
	Expires  time.Time
}

type Coordinator struct {
	ledger     *Ledger
	locker     Locker
	UndoWindow time.Duration
	Now        func() time.Time
	Logger     logrus.FieldLogger

	mu    sync.RWMutex
	views map[string]PerkStatusView
}

// NewCoordinator uses an in-process KeyedLocker when locker is nil.
func NewCoordinator(ledger *Ledger, locker Locker) *Coordinator {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Coordinator{
		ledger:     ledger,
		locker:     locker,
		UndoWindow: DefaultUndoWindow,
		Now:        time.Now,
		Logger:     logrus.StandardLogger(),
		views:      make(map[string]PerkStatusView),
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Coordinator) log() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// Pending returns the locally applied view for the perk, if any.
func (c *Coordinator) Pending(userID UserID, perkID PerkID) (PerkStatusView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[LockKey(userID, perkID)]
	return v, ok
}

func (c *Coordinator) apply(key string, v PerkStatusView) {
	c.mu.Lock()
	c.views[key] = v
	c.mu.Unlock()
}

// =============================================================================
// ACTIONS
// =============================================================================

// Redeem records a redemption. req.PerkID must be set; the card enrollment is
// resolved from the user's cards when empty.
func (c *Coordinator) Redeem(ctx context.Context, userID UserID, req RedeemRequest) (Outcome, error) {
	key := LockKey(userID, req.PerkID)
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	perk, err := c.ledger.PerkFor(ctx, userID, req.PerkID)
	if err != nil {
		return Outcome{}, err
	}
	req.UserID = userID
	if req.CardEnrollmentID == "" {
		req.CardEnrollmentID = perk.Enrollment.ID
	}

	previous, history, err := c.current(ctx, perk)
	if err != nil {
		return Outcome{}, err
	}
	prior := latestActive(history, perk.Definition.ID, c.now())

	c.apply(key, ProjectRedemption(previous, req.Amount))
	if _, err := c.ledger.RecordRedemption(ctx, req); err != nil {
		c.apply(key, previous)
		c.log().WithFields(logrus.Fields{
			"op":      "redeem",
			"user_id": userID,
			"perk_id": req.PerkID,
		}).WithError(err).Info("redemption reverted")
		return Outcome{View: previous, Previous: previous}, err
	}

	inverse := func(ctx context.Context) error {
		if _, err := c.ledger.DeleteActiveRedemption(ctx, userID, req.PerkID); err != nil {
			return err
		}
		if prior != nil {
			return c.ledger.Restore(ctx, *prior)
		}
		return nil
	}
	return c.settle(ctx, key, perk, previous, inverse), nil
}

// MarkAvailable removes the perk's active record.
func (c *Coordinator) MarkAvailable(ctx context.Context, userID UserID, perkID PerkID) (Outcome, error) {
	key := LockKey(userID, perkID)
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	perk, err := c.ledger.PerkFor(ctx, userID, perkID)
	if err != nil {
		return Outcome{}, err
	}
	previous, _, err := c.current(ctx, perk)
	if err != nil {
		return Outcome{}, err
	}

	c.apply(key, ProjectAvailable(previous))
	removed, err := c.ledger.DeleteActiveRedemption(ctx, userID, perkID)
	if err != nil {
		c.apply(key, previous)
		return Outcome{View: previous, Previous: previous}, err
	}

	inverse := func(ctx context.Context) error {
		for _, r := range removed {
			if err := c.ledger.Restore(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}
	return c.settle(ctx, key, perk, previous, inverse), nil
}

// current derives the perk's view from a fresh ledger read.
func (c *Coordinator) current(ctx context.Context, perk Perk) (PerkStatusView, []RedemptionRecord, error) {
	history, err := c.ledger.History(ctx, perk)
	if err != nil {
		return PerkStatusView{}, nil, err
	}
	return BuildView(perk, history, c.now()), history, nil
}

// settle re-derives the committed view and wraps the inverse operation in a
// single-use, time-boxed undo.
func (c *Coordinator) settle(ctx context.Context, key string, perk Perk, previous PerkStatusView, inverse func(context.Context) error) Outcome {
	view, _, err := c.current(ctx, perk)
	if err != nil {
		// Committed, but the read-back failed; keep the tentative view.
		view, _ = c.Pending(perk.Enrollment.UserID, perk.Definition.ID)
	}
	c.apply(key, view)

	expires := c.now().Add(c.undoWindow())
	var (
		mu   sync.Mutex
		used bool
	)
	undo := func(ctx context.Context) (PerkStatusView, error) {
		mu.Lock()
		spent := used
		used = true
		mu.Unlock()
		if spent || c.now().After(expires) {
			return view, ErrUndoExpired
		}

		unlock, err := c.locker.Lock(ctx, key)
		if err != nil {
			return view, err
		}
		defer unlock()

		c.apply(key, previous)
		if err := inverse(ctx); err != nil {
			c.apply(key, view)
			c.log().WithFields(logrus.Fields{
				"op":      "undo",
				"user_id": perk.Enrollment.UserID,
				"perk_id": perk.Definition.ID,
			}).WithError(err).Warn("undo failed")
			return view, err
		}

		restored, _, err := c.current(ctx, perk)
		if err != nil {
			return previous, nil
		}
		c.apply(key, restored)
		return restored, nil
	}

	return Outcome{View: view, Previous: previous, Undo: undo, Expires: expires}
}

func (c *Coordinator) undoWindow() time.Duration {
	if c.UndoWindow <= 0 {
		return DefaultUndoWindow
	}
	return c.UndoWindow
}
