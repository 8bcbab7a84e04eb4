/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

TYPES:
  Writes:
    AwardRequest, GameAwardRequest, UndoRequest, RedeemRequest,
    EventCreatedResponse, UndoResponse

  Reads:
    BalanceDTO, EventDTO, StandingDTO, RecentAwardDTO, RewardDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the rewards service, not in DTOs. DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/rewards"
)

// =============================================================================
// WRITE REQUESTS
// =============================================================================

// AwardRequest is the body of POST /api/awards.
type AwardRequest struct {
	EmployeeID     string `json:"employee_id"`
	LocationID     string `json:"location_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// GameAwardRequest is the body of POST /api/game-awards.
type GameAwardRequest struct {
	EmployeeID     string `json:"employee_id"`
	LocationID     string `json:"location_id"`
	Amount         int64  `json:"amount"`
	Label          string `json:"label"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// UndoRequest is the body of POST /api/events/{id}/undo.
type UndoRequest struct {
	Reason string `json:"reason"`
}

// RedeemRequest is the body of POST /api/redemptions.
type RedeemRequest struct {
	EmployeeID     string `json:"employee_id"`
	LocationID     string `json:"location_id"`
	RewardID       string `json:"reward_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// EventCreatedResponse is returned by award, game award and redemption.
type EventCreatedResponse struct {
	EventID string `json:"event_id"`
}

// UndoResponse is returned by undo.
type UndoResponse struct {
	UndoEventID string `json:"undo_event_id"`
}

// =============================================================================
// READ MODELS
// =============================================================================

// BalanceDTO is an employee's spendable balance.
type BalanceDTO struct {
	EmployeeID string `json:"employee_id"`
	Balance    int64  `json:"balance"`
}

// EventDTO represents a point event in API responses.
type EventDTO struct {
	ID           string `json:"id"`
	EmployeeID   string `json:"employee_id"`
	LocationID   string `json:"location_id"`
	Amount       int64  `json:"amount"`
	Source       string `json:"source"`
	SourceDetail string `json:"source_detail"`
	AwardedBy    string `json:"awarded_by,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// StandingDTO is one leaderboard row.
type StandingDTO struct {
	Position   int    `json:"position"`
	EmployeeID string `json:"employee_id"`
	Points     int64  `json:"points"`
}

// RecentAwardDTO is a manual award with its undo availability.
type RecentAwardDTO struct {
	EventID    string `json:"event_id"`
	EmployeeID string `json:"employee_id"`
	Points     int64  `json:"points"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
	CanUndo    bool   `json:"can_undo"`
}

// RewardDTO represents a catalog reward.
type RewardDTO struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	PointsCost int64  `json:"points_cost"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LocationID  string `json:"location_id"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEventDTO(e ledger.PointEvent) EventDTO {
	return EventDTO{
		ID:           string(e.ID),
		EmployeeID:   string(e.EmployeeID),
		LocationID:   string(e.LocationID),
		Amount:       e.Amount,
		Source:       string(e.Source),
		SourceDetail: e.SourceDetail,
		AwardedBy:    string(e.AwardedBy),
		ReferenceID:  e.ReferenceID,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
}

func toStandingDTOs(standings []ledger.Standing) []StandingDTO {
	dtos := make([]StandingDTO, len(standings))
	for i, s := range standings {
		dtos[i] = StandingDTO{
			Position:   s.Position,
			EmployeeID: string(s.EmployeeID),
			Points:     s.Points,
		}
	}
	return dtos
}

func toRewardDTO(r rewards.RewardItem) RewardDTO {
	return RewardDTO{
		ID:         r.ID,
		LocationID: string(r.LocationID),
		Name:       r.Name,
		PointsCost: r.PointsCost,
	}
}
