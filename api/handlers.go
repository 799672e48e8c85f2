/*
handlers.go - HTTP API handlers for the perk engine

PURPOSE:
  Exposes the perk engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to perks.Service.

ENDPOINTS:
  Perks (per user):
    GET    /api/users/{userID}/perks                    All perk views
    GET    /api/users/{userID}/perks/{perkID}           One perk view
    POST   /api/users/{userID}/perks/{perkID}/redeem    Redeem (full or partial)
    POST   /api/users/{userID}/perks/{perkID}/available Mark available again
    POST   /api/users/{userID}/undo/{token}             Undo the last action
    GET    /api/users/{userID}/history                  Redemption records

  Totals:
    GET    /api/users/{userID}/aggregates?group_by=     period|card|category
    GET    /api/users/{userID}/reminders                Upcoming reminders
    GET    /api/users/{userID}/savings                  Lifetime savings per card

  Cards:
    GET    /api/users/{userID}/cards                    Live enrollments
    POST   /api/users/{userID}/cards                    Enroll a card product
    DELETE /api/users/{userID}/cards/{cardID}           Remove (soft delete)

  Catalog:
    GET    /api/catalog                                 Perk definitions
    POST   /api/catalog                                 Import (factory JSON)

UNDO TOKENS:
  Redeem and mark-available responses carry an undo_token. The server holds
  the action's undo under that token until it expires; the token is bound
  to the user it was issued to.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid amount/grouping, expired undo
  - 404: Perk, card or card product not found
  - 409: Already redeemed, insufficient remaining value, parent redeemed
  - 500: Storage errors

SECURITY NOTE:
  No authentication. The user id in the path is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/factory"
	"github.com/warp/perk-engine/perks"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ScenarioStore is the backend plus the reset used by demo scenarios.
type ScenarioStore interface {
	perks.Backend
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *perks.Service
	Store   ScenarioStore
	Metrics *Metrics
	Logger  logrus.FieldLogger

	validate *validator.Validate
	undos    *undoRegistry

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. A nil metrics gets a private registry.
func NewHandler(svc *perks.Service, store ScenarioStore, metrics *Metrics, logger logrus.FieldLogger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Service:  svc,
		Store:    store,
		Metrics:  metrics,
		Logger:   logger,
		validate: validator.New(),
		undos:    newUndoRegistry(svc.Now),
	}
}

func userParam(r *http.Request) perks.UserID {
	return perks.UserID(chi.URLParam(r, "userID"))
}

func perkParam(r *http.Request) perks.PerkID {
	return perks.PerkID(chi.URLParam(r, "perkID"))
}

// =============================================================================
// PERK STATUS
// =============================================================================

// ListPerks returns every perk view for the user.
func (h *Handler) ListPerks(w http.ResponseWriter, r *http.Request) {
	views, err := h.Service.ListStatuses(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list perks", err)
		return
	}

	dtos := make([]PerkViewDTO, len(views))
	for i, v := range views {
		dtos[i] = toPerkViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPerk returns one perk view.
func (h *Handler) GetPerk(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetStatus(r.Context(), userParam(r), perkParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get perk", err)
		return
	}
	writeJSON(w, http.StatusOK, toPerkViewDTO(view))
}

// GetHistory returns all of the user's redemption records.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Ledger().ListAll(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list history", err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// RedeemPerk records a full or partial redemption.
// POST /api/users/{userID}/perks/{perkID}/redeem
func (h *Handler) RedeemPerk(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	userID := userParam(r)
	out, err := h.Service.Redeem(r.Context(), userID, req.toEngine(perkParam(r)))
	h.respondAction(w, userID, "redeem", out, err)
}

// MarkAvailable removes the active redemption of the perk.
// POST /api/users/{userID}/perks/{perkID}/available
func (h *Handler) MarkAvailable(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	out, err := h.Service.MarkAvailable(r.Context(), userID, perkParam(r))
	h.respondAction(w, userID, "mark_available", out, err)
}

func (h *Handler) respondAction(w http.ResponseWriter, userID perks.UserID, action string, out perks.Outcome, err error) {
	h.Metrics.Redemptions.WithLabelValues(action, resultLabel(err)).Inc()
	if err != nil {
		h.writeDomainError(w, "Action failed", err)
		return
	}

	prev := toPerkViewDTO(out.Previous)
	resp := ActionResponse{View: toPerkViewDTO(out.View), Previous: &prev}
	if out.Undo != nil {
		resp.UndoToken = h.undos.put(userID, out)
		resp.UndoExpiresAt = formatTime(out.Expires)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Undo runs the compensating action behind an undo token.
// POST /api/users/{userID}/undo/{token}
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	undo, ok := h.undos.take(chi.URLParam(r, "token"), userParam(r))
	if !ok {
		h.Metrics.Undos.WithLabelValues("expired").Inc()
		writeError(w, http.StatusBadRequest, "Undo not available", perks.ErrUndoExpired)
		return
	}

	view, err := undo(r.Context())
	h.Metrics.Undos.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		h.writeDomainError(w, "Undo failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{View: toPerkViewDTO(view)})
}

// =============================================================================
// TOTALS
// =============================================================================

// GetAggregates returns redeemed/possible totals grouped by period (default),
// card or category.
func (h *Handler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	by := perks.GroupBy(r.URL.Query().Get("group_by"))
	totals, err := h.Service.GetAggregates(r.Context(), userParam(r), by)
	if err != nil {
		h.writeDomainError(w, "Failed to aggregate", err)
		return
	}

	dtos := make(map[string]AggregateDTO, len(totals))
	for key, t := range totals {
		dtos[key] = AggregateDTO{
			RedeemedValue: toAmountDTOs(t.RedeemedValue),
			PossibleValue: toAmountDTOs(t.PossibleValue),
			RedeemedCount: t.RedeemedCount,
			TotalCount:    t.TotalCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReminders returns the reminders scheduled from now, or from ?at=.
func (h *Handler) GetReminders(w http.ResponseWriter, r *http.Request) {
	now := h.Service.Now()
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use RFC3339)", err)
			return
		}
		now = t
	}

	reminders, err := h.Service.GetReminders(r.Context(), userParam(r), now)
	if err != nil {
		h.writeDomainError(w, "Failed to schedule reminders", err)
		return
	}

	dtos := make([]ReminderDTO, len(reminders))
	for i, rem := range reminders {
		dtos[i] = toReminderDTO(rem)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSavings returns cumulative redeemed value per card, removed cards included.
func (h *Handler) GetSavings(w http.ResponseWriter, r *http.Request) {
	saved, err := h.Service.LifetimeSavings(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to compute savings", err)
		return
	}

	dtos := make(map[string][]AmountDTO, len(saved))
	for id, t := range saved {
		dtos[string(id)] = toAmountDTOs(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CARDS
// =============================================================================

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Service.ListCards(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list cards", err)
		return
	}

	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) EnrollCard(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	var openedAt time.Time
	if req.OpenedAt != "" {
		// Validated by the datetime tag.
		openedAt, _ = time.ParseInLocation("2006-01-02", req.OpenedAt, h.Service.Now().Location())
	}

	card, err := h.Service.Enroll(r.Context(), userParam(r), perks.CardProductID(req.CardProductID), req.Nickname, openedAt)
	if err != nil {
		h.writeDomainError(w, "Failed to enroll card", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardDTO(card))
}

func (h *Handler) RemoveCard(w http.ResponseWriter, r *http.Request) {
	id := perks.EnrollmentID(chi.URLParam(r, "cardID"))
	if err := h.Service.RemoveEnrollment(r.Context(), userParam(r), id); err != nil {
		h.writeDomainError(w, "Failed to remove card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Service.Catalog(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list catalog", err)
		return
	}

	dtos := make([]PerkDefinitionDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toDefinitionDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportCatalog upserts the perks of a factory.CatalogJSON body.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	defs, err := factory.ParseCatalogJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}
	if err := h.Service.ImportCatalog(r.Context(), defs); err != nil {
		h.writeDomainError(w, "Failed to import catalog", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": len(defs)})
}

// =============================================================================
// UNDO REGISTRY
// =============================================================================

type undoFunc func(ctx context.Context) (perks.PerkStatusView, error)

type pendingUndo struct {
	userID  perks.UserID
	undo    undoFunc
	expires time.Time
}

// undoRegistry keeps outcome undos reachable by token until they expire.
type undoRegistry struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]pendingUndo
}

func newUndoRegistry(now func() time.Time) *undoRegistry {
	return &undoRegistry{now: now, entries: make(map[string]pendingUndo)}
}

func (u *undoRegistry) put(userID perks.UserID, out perks.Outcome) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	for token, e := range u.entries {
		if now.After(e.expires) {
			delete(u.entries, token)
		}
	}

	token := uuid.NewString()
	u.entries[token] = pendingUndo{userID: userID, undo: out.Undo, expires: out.Expires}
	return token
}

// take removes and returns the undo; tokens of other users are not found.
func (u *undoRegistry) take(token string, userID perks.UserID) (undoFunc, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[token]
	if !ok || e.userID != userID {
		return nil, false
	}
	delete(u.entries, token)
	if u.now().After(e.expires) {
		return nil, false
	}
	return e.undo, true
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. allowEmpty accepts a missing body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !allowEmpty || !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case perks.IsBusinessError(err):
		return http.StatusConflict
	case perks.IsNotFound(err):
		return http.StatusNotFound
	case perks.IsClientError(err), errors.Is(err, factory.ErrInvalidCatalog):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
