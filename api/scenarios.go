/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the backend with a realistic
	location: a roster, a reward catalog, and a few days of activity.

AVAILABLE SCENARIOS:

	busy-week:      Full roster and catalog, awards from every manager
	                rank plus game awards and one redemption
	new-location:   Roster and starter catalog, no activity yet
	tight-budget:   One employee at 40 points and rewards at 30 and 50,
	                for trying insufficient-balance and racing redemptions

HOW SCENARIOS WORK:
 1. Reset backend (events, roster, catalog)
 2. Save employees
 3. Save rewards from a catalog
 4. Write events through the rewards service, so every rule applies

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-week"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenarioByID

NOTE:

	Scenarios reset the backend. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoLocation ledger.LocationID = "loc-downtown"

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "Full roster and catalog with manual awards, game awards and a redemption",
		LocationID:  string(demoLocation),
	},
	{
		ID:          "new-location",
		Name:        "New Location",
		Description: "Roster and starter catalog, no points yet",
		LocationID:  string(demoLocation),
	},
	{
		ID:          "tight-budget",
		Name:        "Tight Budget",
		Description: "One employee with 40 points; rewards at 30 and 50",
		LocationID:  string(demoLocation),
	},
}

// demoRoster is shared by every scenario.
func demoRoster() []rewards.Employee {
	return []rewards.Employee{
		{ID: "emp-gm", Name: "Grace Miller", LocationID: demoLocation, Title: rewards.TitleGeneralManager, Active: true},
		{ID: "emp-am", Name: "Arjun Mehta", LocationID: demoLocation, Title: rewards.TitleAssistantManager, Active: true},
		{ID: "emp-sm", Name: "Sofia Morales", LocationID: demoLocation, Title: rewards.TitleShiftManager, Active: true},
		{ID: "emp-tm1", Name: "Alex Kim", LocationID: demoLocation, Title: rewards.TitleTeamMember, Active: true},
		{ID: "emp-tm2", Name: "Jordan Lee", LocationID: demoLocation, Title: rewards.TitleTeamMember, Active: true},
		{ID: "emp-tm3", Name: "Sam Rivera", LocationID: demoLocation, Title: rewards.TitleTeamMember, Active: true},
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, r, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase deletes all events, employees and rewards.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the backend and loads a scenario. Unknown ids
// are a ValidationError and leave the backend untouched.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "busy-week":
		load = h.loadBusyWeekScenario
	case "new-location":
		load = h.loadNewLocationScenario
	case "tight-budget":
		load = h.loadTightBudgetScenario
	default:
		return &ledger.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.Aggregator.Purge()

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.log.WithField("scenario", id).Info("scenario loaded")
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Backend.Reset(ctx); err != nil {
		return fmt.Errorf("reset backend: %w", err)
	}
	h.Aggregator.Purge()

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seed(ctx context.Context, employees []rewards.Employee, items []rewards.RewardItem) error {
	for _, e := range employees {
		if err := h.Backend.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	for _, it := range items {
		if err := h.Backend.SaveReward(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBusyWeekScenario(ctx context.Context) error {
	if err := h.seed(ctx, demoRoster(), rewards.StandardCatalog(demoLocation)); err != nil {
		return err
	}

	awards := []rewards.AwardRequest{
		{AwardedBy: "emp-gm", EmployeeID: "emp-am", Amount: 40, Reason: "Ran inventory solo"},
		{AwardedBy: "emp-am", EmployeeID: "emp-sm", Amount: 25, Reason: "Covered a double shift"},
		{AwardedBy: "emp-am", EmployeeID: "emp-tm1", Amount: 25, Reason: "Great service"},
		{AwardedBy: "emp-sm", EmployeeID: "emp-tm2", Amount: 15, Reason: "Spotless closing"},
		{AwardedBy: "emp-sm", EmployeeID: "emp-tm1", Amount: 10, Reason: "Helped train a new hire"},
		{AwardedBy: "emp-gm", EmployeeID: "emp-tm3", Amount: 30, Reason: "Customer compliment"},
	}
	for _, a := range awards {
		a.LocationID = demoLocation
		if _, err := h.Service.Award(ctx, a); err != nil {
			return err
		}
	}

	games := []rewards.GameAwardRequest{
		{GrantedBy: "emp-sm", EmployeeID: "emp-tm2", Amount: 20, Label: "Upsell Challenge"},
		{GrantedBy: "emp-sm", EmployeeID: "emp-tm3", Amount: 5, Label: "Trivia Night"},
	}
	for _, g := range games {
		g.LocationID = demoLocation
		if _, err := h.Service.GrantGameAward(ctx, g); err != nil {
			return err
		}
	}

	_, err := h.Service.Redeem(ctx, rewards.RedeemRequest{
		EmployeeID: "emp-tm1",
		LocationID: demoLocation,
		RewardID:   string(demoLocation) + "-free-meal",
		ActorID:    "emp-tm1",
	})
	return err
}

func (h *Handler) loadNewLocationScenario(ctx context.Context) error {
	return h.seed(ctx, demoRoster(), rewards.StarterCatalog(demoLocation))
}

func (h *Handler) loadTightBudgetScenario(ctx context.Context) error {
	items := []rewards.RewardItem{
		{ID: "reward-lunch", LocationID: demoLocation, Name: "Team Lunch", PointsCost: 30, Active: true},
		{ID: "reward-movie", LocationID: demoLocation, Name: "Movie Tickets", PointsCost: 50, Active: true},
	}
	if err := h.seed(ctx, demoRoster(), items); err != nil {
		return err
	}

	_, err := h.Service.Award(ctx, rewards.AwardRequest{
		AwardedBy:  "emp-am",
		EmployeeID: "emp-tm1",
		LocationID: demoLocation,
		Amount:     40,
		Reason:     "Employee of the month",
	})
	return err
}
