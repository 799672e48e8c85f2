/*
scheduler.go - Automated reminder dispatcher

PURPOSE:
  Periodically computes every user's reminder schedule and hands the
  reminders that came due since the last check to the notification sink.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each check covers the window (last check, now]; the first check looks
    back one interval
  - Users are processed concurrently (errgroup, bounded by Concurrency)
  - A reminder is claimed in the delivery log before it is sent, so a
    restart or an overlapping instance never sends it twice; a failed send
    releases the claim and is retried on the next check while it is still
    inside the window

USAGE:
  d := NewReminderDispatcher(svc, store, store, sink, metrics)
  d.Start()
  // ... later
  d.Stop()

SEE ALSO:
  - perks/reminders.go: Schedule computation
  - notify/notify.go: Sinks
  - store/sqlite/sqlite.go: reminder_deliveries table
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/notify"
	"github.com/warp/perk-engine/perks"
	"golang.org/x/sync/errgroup"
)

// UserLister lists users with at least one live card.
type UserLister interface {
	ListUsers(ctx context.Context) ([]perks.UserID, error)
}

// DeliveryLog remembers which reminders went out.
type DeliveryLog interface {
	// ClaimReminder reports false when the reminder was already claimed.
	ClaimReminder(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) (bool, error)
	ReleaseReminder(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) error
}

// ReminderDispatcher delivers due reminders on a ticker.
type ReminderDispatcher struct {
	Service       *perks.Service
	Users         UserLister
	Deliveries    DeliveryLog
	Sink          notify.Sink
	Metrics       *Metrics
	Logger        logrus.FieldLogger
	CheckInterval time.Duration
	Concurrency   int

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewReminderDispatcher creates a dispatcher checking once a minute.
func NewReminderDispatcher(svc *perks.Service, users UserLister, deliveries DeliveryLog, sink notify.Sink, metrics *Metrics) *ReminderDispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &ReminderDispatcher{
		Service:       svc,
		Users:         users,
		Deliveries:    deliveries,
		Sink:          sink,
		Metrics:       metrics,
		Logger:        logrus.StandardLogger(),
		CheckInterval: time.Minute,
		Concurrency:   8,
	}
}

// Start begins the dispatcher.
func (d *ReminderDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker != nil {
		return
	}
	d.ticker = time.NewTicker(d.CheckInterval)
	d.stop = make(chan struct{})
	d.wg.Add(1)

	go d.run(d.ticker, d.stop)

	d.Logger.WithField("interval", d.CheckInterval).Info("reminder dispatcher started")
}

// Stop stops the dispatcher and waits for an in-flight check.
func (d *ReminderDispatcher) Stop() {
	d.mu.Lock()
	if d.ticker == nil {
		d.mu.Unlock()
		return
	}
	d.ticker.Stop()
	close(d.stop)
	d.ticker = nil
	d.mu.Unlock()

	d.wg.Wait()
	d.Logger.Info("reminder dispatcher stopped")
}

func (d *ReminderDispatcher) run(ticker *time.Ticker, stop chan struct{}) {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	d.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			d.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow delivers everything due since the previous check and returns how
// many reminders were sent.
func (d *ReminderDispatcher) RunNow(ctx context.Context) (int, error) {
	now := d.Service.Now()

	d.mu.Lock()
	since := d.lastRun
	if since.IsZero() {
		since = now.Add(-d.CheckInterval)
	}
	d.mu.Unlock()

	sent, err := d.dispatch(ctx, since, now)
	if err != nil {
		d.Logger.WithError(err).Error("reminder check failed")
		return sent, err
	}

	d.mu.Lock()
	d.lastRun = now
	d.mu.Unlock()

	if sent > 0 {
		d.Logger.WithField("sent", sent).Info("reminders delivered")
	}
	return sent, nil
}

func (d *ReminderDispatcher) dispatch(ctx context.Context, since, now time.Time) (int, error) {
	users, err := d.Users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			n, err := d.dispatchUser(gctx, userID, since, now)
			sent.Add(int64(n))
			if err != nil {
				// One user's failure does not stop the others.
				d.Logger.WithFields(logrus.Fields{"op": "dispatch", "user_id": userID}).
					WithError(err).Warn("reminder dispatch failed for user")
			}
			return nil
		})
	}
	err = g.Wait()
	return int(sent.Load()), err
}

func (d *ReminderDispatcher) dispatchUser(ctx context.Context, userID perks.UserID, since, now time.Time) (int, error) {
	reminders, err := d.Service.GetReminders(ctx, userID, since)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range reminders {
		if r.FireAt.After(now) {
			break
		}

		claimed, err := d.Deliveries.ClaimReminder(ctx, userID, r)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		if err := d.Sink.Deliver(ctx, userID, r); err != nil {
			d.Metrics.ReminderFailures.Inc()
			if rerr := d.Deliveries.ReleaseReminder(ctx, userID, r); rerr != nil {
				d.Logger.WithField("user_id", userID).WithError(rerr).Error("failed to release reminder claim")
			}
			return sent, err
		}
		d.Metrics.RemindersDelivered.Inc()
		sent++
	}
	return sent, nil
}
