/*
handlers.go - HTTP API handlers for the recognition ledger

PURPOSE:
  Exposes the rewards service and the aggregator via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Writes (caller identity from X-Actor-ID):
    POST   /api/awards                      Manual award
    POST   /api/game-awards                 Game award (no actor)
    POST   /api/events/{id}/undo            Reverse an award within the hour
    POST   /api/redemptions                 Spend points on a reward

  Reads:
    GET    /api/employees/{id}/balance      Spendable balance
    GET    /api/employees/{id}/events       History, newest first
    GET    /api/locations/{id}/leaderboard  ?window=week|month&at= or ?start=&end=
    GET    /api/locations/{id}/rewards      Active catalog
    GET    /api/awards/recent               ?location_id=&limit= (caller's awards)

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the rewards service or the aggregator
  3. Serialize response
  4. Map errors to statuses

ERROR HANDLING:
  Errors are returned as JSON {"error", "code", "details"}:
  - 400: ValidationError, malformed body or query
  - 403: PermissionError
  - 404: NotFoundError
  - 409: ConflictError (idempotency key reuse, lost race)
  - 410: ExpiredWindowError
  - 422: InsufficientBalanceError
  - 500: everything else

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
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Backend    Backend
	Service    *rewards.Service
	Aggregator *ledger.Aggregator

	log logrus.FieldLogger
	now func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires the handlers to a backend.
func NewHandler(backend Backend, svc *rewards.Service, agg *ledger.Aggregator, log logrus.FieldLogger) *Handler {
	return &Handler{
		Backend:    backend,
		Service:    svc,
		Aggregator: agg,
		log:        log,
		now:        time.Now,
	}
}

// =============================================================================
// WRITE HANDLERS
// =============================================================================

// CreateAward grants points from the caller to an employee.
// POST /api/awards
func (h *Handler) CreateAward(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Service.Award(r.Context(), rewards.AwardRequest{
		EmployeeID:     ledger.EmployeeID(req.EmployeeID),
		LocationID:     ledger.LocationID(req.LocationID),
		Amount:         req.Amount,
		Reason:         req.Reason,
		AwardedBy:      ActorFrom(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to award points", err)
		return
	}

	h.Aggregator.InvalidateLocation(ledger.LocationID(req.LocationID))
	writeJSON(w, http.StatusCreated, EventCreatedResponse{EventID: string(id)})
}

// CreateGameAward records points won in an in-store game.
// POST /api/game-awards
func (h *Handler) CreateGameAward(w http.ResponseWriter, r *http.Request) {
	var req GameAwardRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Service.GrantGameAward(r.Context(), rewards.GameAwardRequest{
		EmployeeID:     ledger.EmployeeID(req.EmployeeID),
		LocationID:     ledger.LocationID(req.LocationID),
		Amount:         req.Amount,
		Label:          req.Label,
		GrantedBy:      ActorFrom(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record game award", err)
		return
	}

	h.Aggregator.InvalidateLocation(ledger.LocationID(req.LocationID))
	writeJSON(w, http.StatusCreated, EventCreatedResponse{EventID: string(id)})
}

// UndoEvent reverses an award within the undo window.
// POST /api/events/{id}/undo
func (h *Handler) UndoEvent(w http.ResponseWriter, r *http.Request) {
	var req UndoRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Service.Undo(r.Context(), rewards.UndoRequest{
		EventID: ledger.EventID(chi.URLParam(r, "id")),
		Reason:  req.Reason,
		ActorID: ActorFrom(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to undo event", err)
		return
	}

	// The reversed event's location is gone with it.
	h.Aggregator.Purge()
	writeJSON(w, http.StatusOK, UndoResponse{UndoEventID: string(id)})
}

// CreateRedemption spends an employee's points on a reward.
// POST /api/redemptions
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Service.Redeem(r.Context(), rewards.RedeemRequest{
		EmployeeID:     ledger.EmployeeID(req.EmployeeID),
		LocationID:     ledger.LocationID(req.LocationID),
		RewardID:       req.RewardID,
		ActorID:        ActorFrom(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to redeem reward", err)
		return
	}

	writeJSON(w, http.StatusCreated, EventCreatedResponse{EventID: string(id)})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetBalance returns an employee's spendable balance.
// GET /api/employees/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	balance, err := h.Aggregator.Balance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{EmployeeID: string(id), Balance: balance})
}

// GetEvents returns an employee's history, newest first.
// GET /api/employees/{id}/events
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Aggregator.History(r.Context(), ledger.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLeaderboard ranks a location's earners over a window.
// GET /api/locations/{id}/leaderboard
//
// Query: window=week|month (default week) with optional at=RFC3339
// (default now), or an explicit start=&end= pair.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	locationID := ledger.LocationID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	var (
		standings []ledger.Standing
		err       error
	)
	if q.Get("start") != "" || q.Get("end") != "" {
		var p ledger.Period
		if p, err = parsePeriod(q.Get("start"), q.Get("end")); err == nil {
			standings, err = h.Aggregator.Leaderboard(ctx, locationID, p)
		}
	} else {
		at := h.now()
		if raw := q.Get("at"); raw != "" {
			if at, err = time.Parse(time.RFC3339, raw); err != nil {
				err = &ledger.ValidationError{Field: "at", Message: "use RFC3339"}
			}
		}
		if err == nil {
			switch window := q.Get("window"); window {
			case "", "week":
				standings, err = h.Aggregator.WeeklyLeaderboard(ctx, locationID, at)
			case "month":
				standings, err = h.Aggregator.MonthlyLeaderboard(ctx, locationID, at)
			default:
				err = &ledger.ValidationError{Field: "window", Message: "must be week or month"}
			}
		}
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to get leaderboard", err)
		return
	}

	writeJSON(w, http.StatusOK, toStandingDTOs(standings))
}

// ListRewards returns a location's active rewards, cheapest first.
// GET /api/locations/{id}/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.ListRewards(r.Context(), ledger.LocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(items))
	for i, it := range items {
		dtos[i] = toRewardDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRecentAwards returns the caller's latest manual awards at a location.
// GET /api/awards/recent?location_id=&limit=
func (h *Handler) ListRecentAwards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locationID := ledger.LocationID(q.Get("location_id"))
	if locationID == "" {
		h.writeDomainError(w, r, "Failed to list recent awards",
			&ledger.ValidationError{Field: "location_id", Message: "location id is required"})
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeDomainError(w, r, "Failed to list recent awards",
				&ledger.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
		limit = n
	}

	awards, err := h.Aggregator.RecentAwards(r.Context(), ActorFrom(r.Context()), locationID, limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list recent awards", err)
		return
	}

	dtos := make([]RecentAwardDTO, len(awards))
	for i, a := range awards {
		dtos[i] = RecentAwardDTO{
			EventID:    string(a.EventID),
			EmployeeID: string(a.EmployeeID),
			Points:     a.Points,
			Reason:     a.Reason,
			CreatedAt:  a.CreatedAt.Format(time.RFC3339),
			CanUndo:    a.CanUndo,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health pings the backend when it supports it.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := h.Backend.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parsePeriod(rawStart, rawEnd string) (ledger.Period, error) {
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return ledger.Period{}, &ledger.ValidationError{Field: "start", Message: "use RFC3339"}
	}
	end, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		return ledger.Period{}, &ledger.ValidationError{Field: "end", Message: "use RFC3339"}
	}
	return ledger.Period{Start: start, End: end}, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrExpiredWindow):
		return http.StatusGone
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its mapped status. Internal errors are
// logged here since the core only returns them.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error(message)
	}
	writeError(w, status, ledger.Kind(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
