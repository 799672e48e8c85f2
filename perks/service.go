/*
service.go - Facade for the presentation layer

PURPOSE:
  Everything a client can ask of the engine, keyed by user. Reads are
  recomputed from a fresh ledger snapshot on every call; writes go through
  the Coordinator so they are serialized per perk and undoable.

OPERATIONS:
  GetStatus / ListStatuses   PerkStatusView per perk
  Redeem / MarkAvailable     Coordinated mutations with undo
  GetAggregates              Redeemed vs possible, grouped
  GetReminders               Upcoming reminders for the current cycles
  LifetimeSavings            Per-card cumulative value redeemed
  Enroll / RemoveEnrollment  Card selection (soft delete)
*/
package perks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/generic"
)

type Options struct {
	Locker     Locker
	UndoWindow time.Duration
	Reminders  ReminderConfig
	Now        func() time.Time
	Logger     logrus.FieldLogger
}

type Service struct {
	backend     Backend
	ledger      *Ledger
	coordinator *Coordinator
	reminders   ReminderConfig
	now         func() time.Time
	log         logrus.FieldLogger
}

func NewService(backend Backend, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Reminders.Offsets == nil {
		opts.Reminders = DefaultReminderConfig()
	}

	ledger := NewLedger(backend)
	ledger.Now = opts.Now
	ledger.Logger = opts.Logger

	coord := NewCoordinator(ledger, opts.Locker)
	coord.Now = opts.Now
	coord.Logger = opts.Logger
	if opts.UndoWindow > 0 {
		coord.UndoWindow = opts.UndoWindow
	}

	return &Service{
		backend:     backend,
		ledger:      ledger,
		coordinator: coord,
		reminders:   opts.Reminders,
		now:         opts.Now,
		log:         opts.Logger,
	}
}

func (s *Service) Ledger() *Ledger           { return s.ledger }
func (s *Service) Coordinator() *Coordinator { return s.coordinator }
func (s *Service) Now() time.Time            { return s.now() }
func (s *Service) Reminders() ReminderConfig { return s.reminders }

// =============================================================================
// READS
// =============================================================================

// snapshot loads the user's perks and full record history.
func (s *Service) snapshot(ctx context.Context, userID UserID) ([]Perk, []RedemptionRecord, error) {
	held, err := s.ledger.Perks(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.ledger.ListAll(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return held, records, nil
}

func (s *Service) GetStatus(ctx context.Context, userID UserID, perkID PerkID) (PerkStatusView, error) {
	perk, err := s.ledger.PerkFor(ctx, userID, perkID)
	if err != nil {
		return PerkStatusView{}, err
	}
	history, err := s.ledger.History(ctx, perk)
	if err != nil {
		return PerkStatusView{}, err
	}
	return BuildView(perk, history, s.now()), nil
}

// ListStatuses returns a view per held perk, ordered by period then name.
func (s *Service) ListStatuses(ctx context.Context, userID UserID) ([]PerkStatusView, error) {
	held, records, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sort.SliceStable(held, func(i, j int) bool {
		a, b := held[i].Definition, held[j].Definition
		if a.PeriodMonths != b.PeriodMonths {
			return a.PeriodMonths < b.PeriodMonths
		}
		return a.Name < b.Name
	})

	views := make([]PerkStatusView, 0, len(held))
	for _, p := range held {
		views = append(views, BuildView(p, records, now))
	}
	return views, nil
}

func (s *Service) GetAggregates(ctx context.Context, userID UserID, by GroupBy) (map[string]AggregateTotals, error) {
	if !by.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGrouping, by)
	}
	held, records, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Aggregate(held, records, s.now(), by), nil
}

func (s *Service) LifetimeSavings(ctx context.Context, userID UserID) (map[EnrollmentID]generic.Totals, error) {
	records, err := s.ledger.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	return CumulativeSavedPerCard(records), nil
}

// GetReminders schedules reminders for every cycle the user's perks are in.
// Perks sharing a period length and cycle end are reminded about together.
func (s *Service) GetReminders(ctx context.Context, userID UserID, now time.Time) ([]ScheduledReminder, error) {
	held, records, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	type group struct {
		cfg       generic.CycleConfig
		available []AvailablePerk
	}
	groups := make(map[string]*group)
	var order []string

	for _, p := range held {
		cfg := p.Cycle()
		key := fmt.Sprintf("%d|%s", cfg.PeriodMonths, cfg.BoundsFor(now).End.Format(time.RFC3339Nano))
		g, ok := groups[key]
		if !ok {
			g = &group{cfg: cfg}
			groups[key] = g
			order = append(order, key)
		}

		status, remaining := StatusFor(p.Definition, records, now)
		if status == Redeemed {
			continue
		}
		g.available = append(g.available, AvailablePerk{
			PerkID:    p.Definition.ID,
			Name:      p.Definition.Name,
			Remaining: remaining,
		})
	}

	var out []ScheduledReminder
	for _, key := range order {
		g := groups[key]
		out = append(out, ScheduleFor(g.cfg, g.available, now, s.reminders)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

func (s *Service) Redeem(ctx context.Context, userID UserID, req RedeemRequest) (Outcome, error) {
	return s.coordinator.Redeem(ctx, userID, req)
}

func (s *Service) MarkAvailable(ctx context.Context, userID UserID, perkID PerkID) (Outcome, error) {
	return s.coordinator.MarkAvailable(ctx, userID, perkID)
}

// =============================================================================
// CATALOG AND CARDS
// =============================================================================

func (s *Service) Catalog(ctx context.Context) ([]PerkDefinition, error) {
	defs, err := s.backend.ListDefinitions(ctx, "")
	return defs, generic.WrapStorage("list catalog", err)
}

// ImportCatalog saves definitions, replacing entries with the same id.
func (s *Service) ImportCatalog(ctx context.Context, defs []PerkDefinition) error {
	for _, d := range defs {
		if err := s.backend.SaveDefinition(ctx, d); err != nil {
			return generic.WrapStorage("save definition", err)
		}
	}
	s.log.WithField("count", len(defs)).Info("catalog imported")
	return nil
}

func (s *Service) ListCards(ctx context.Context, userID UserID) ([]CardEnrollment, error) {
	cards, err := s.backend.ListEnrollments(ctx, userID, false)
	return cards, generic.WrapStorage("list enrollments", err)
}

// Enroll adds a card product to the user's wallet. A zero openedAt means the
// card was opened now; anniversary perks renew on that date.
func (s *Service) Enroll(ctx context.Context, userID UserID, card CardProductID, nickname string, openedAt time.Time) (CardEnrollment, error) {
	defs, err := s.backend.ListDefinitions(ctx, card)
	if err != nil {
		return CardEnrollment{}, generic.WrapStorage("list definitions", err)
	}
	if len(defs) == 0 {
		return CardEnrollment{}, fmt.Errorf("%w: %s", ErrUnknownCardProduct, card)
	}

	now := s.now()
	if openedAt.IsZero() {
		openedAt = now
	}
	enr := CardEnrollment{
		ID:            EnrollmentID(uuid.NewString()),
		UserID:        userID,
		CardProductID: card,
		Nickname:      nickname,
		OpenedAt:      openedAt,
		CreatedAt:     now,
	}
	if err := s.backend.SaveEnrollment(ctx, enr); err != nil {
		return CardEnrollment{}, generic.WrapStorage("save enrollment", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":            userID,
		"card_enrollment_id": enr.ID,
		"card_product_id":    card,
	}).Info("card enrolled")
	return enr, nil
}

// RemoveEnrollment soft-deletes the card. Its records stay in the ledger and
// keep counting toward lifetime savings.
func (s *Service) RemoveEnrollment(ctx context.Context, userID UserID, id EnrollmentID) error {
	enr, err := s.backend.GetEnrollment(ctx, id)
	if err != nil {
		return generic.WrapStorage("get enrollment", err)
	}
	if enr == nil || enr.UserID != userID || !enr.IsActive() {
		return &CardLinkageNotFoundError{CardEnrollmentID: id}
	}
	return generic.WrapStorage("remove enrollment", s.backend.SoftDeleteEnrollment(ctx, id, s.now()))
}
