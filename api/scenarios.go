/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  wallets for demos. Each scenario seeds the demo catalog, enrolls the
  demo user and records redemptions through the ledger.

AVAILABLE SCENARIOS:
  fresh-wallet:   Platinum + Gold, nothing redeemed yet
  mid-cycle:      Partial dining credit, rideshare used via one provider
  streak-builder: Gold dining credit redeemed three months running
  removed-card:   Savings survive removing the card they were earned on

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import perks.DemoCatalog()
 3. Enroll the demo user
 4. Record redemptions (back-dated ones through a ledger with a fixed clock)

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "mid-cycle"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - perks/catalog.go: Demo card products
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

// DemoUser owns every scenario's data.
const DemoUser perks.UserID = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-wallet",
		Name:        "Fresh Wallet",
		Description: "Platinum and Gold cards, every perk available",
	},
	{
		ID:          "mid-cycle",
		Name:        "Mid-Cycle",
		Description: "$8 of the $20 dining credit used, rideshare fully used via uber",
	},
	{
		ID:          "streak-builder",
		Name:        "Streak Builder",
		Description: "Gold dining credit redeemed in each of the last three months",
	},
	{
		ID:          "removed-card",
		Name:        "Removed Card",
		Description: "Platinum perks redeemed, then the card removed; lifetime savings remain",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("%w: %s", err, req.ScenarioID))
			return
		}
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"user_id":  string(DemoUser),
	})
}

// ResetDatabase clears all data and re-seeds the demo catalog.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"fresh-wallet":   h.loadFreshWallet,
		"mid-cycle":      h.loadMidCycle,
		"streak-builder": h.loadStreakBuilder,
		"removed-card":   h.loadRemovedCard,
	}
	load, ok := loaders[id]
	if !ok {
		return errUnknownScenario
	}

	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.WithField("scenario", id).Info("scenario loaded")
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return generic.WrapStorage("reset", err)
	}
	return h.Service.ImportCatalog(ctx, perks.DemoCatalog())
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFreshWallet(ctx context.Context) error {
	if _, err := h.Service.Enroll(ctx, DemoUser, perks.CardPlatinum, "Everyday", time.Time{}); err != nil {
		return err
	}
	_, err := h.Service.Enroll(ctx, DemoUser, perks.CardGold, "Groceries", time.Time{})
	return err
}

func (h *Handler) loadMidCycle(ctx context.Context) error {
	if err := h.loadFreshWallet(ctx); err != nil {
		return err
	}

	eight := generic.NewAmount(8, generic.UnitUSD)
	if _, err := h.Service.Redeem(ctx, DemoUser, perks.RedeemRequest{PerkID: "platinum-dining", Amount: &eight}); err != nil {
		return err
	}
	_, err := h.Service.Redeem(ctx, DemoUser, perks.RedeemRequest{PerkID: "platinum-rideshare", Provider: "uber"})
	return err
}

func (h *Handler) loadStreakBuilder(ctx context.Context) error {
	now := h.Service.Now()
	card, err := h.Service.Enroll(ctx, DemoUser, perks.CardGold, "", now.AddDate(-1, 0, 0))
	if err != nil {
		return err
	}

	// One redemption mid-month in each of the three previous months.
	month := generic.StartOfMonth(now)
	for back := 3; back >= 1; back-- {
		at := month.AddDate(0, -back, 14)
		ledger := perks.NewLedger(h.Store)
		ledger.Now = func() time.Time { return at }
		ledger.Logger = h.Logger
		if _, err := ledger.RecordRedemption(ctx, perks.RedeemRequest{
			UserID:           DemoUser,
			PerkID:           "gold-dining",
			CardEnrollmentID: card.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadRemovedCard(ctx context.Context) error {
	card, err := h.Service.Enroll(ctx, DemoUser, perks.CardPlatinum, "Old Platinum", time.Time{})
	if err != nil {
		return err
	}
	for _, id := range []perks.PerkID{"platinum-dining", "platinum-rideshare"} {
		if _, err := h.Service.Redeem(ctx, DemoUser, perks.RedeemRequest{PerkID: id}); err != nil {
			return err
		}
	}
	if _, err := h.Service.Enroll(ctx, DemoUser, perks.CardGold, "", time.Time{}); err != nil {
		return err
	}
	return h.Service.RemoveEnrollment(ctx, DemoUser, card.ID)
}
