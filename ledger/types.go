/*
Package ledger provides the points ledger core.

PURPOSE:
  Employees earn and spend recognition points. Every change to an employee's
  points is a signed PointEvent. Balances and leaderboards are never stored;
  they are always computed from the events that currently exist.

KEY CONCEPTS IN THIS FILE (types.go):
  - PointEvent: A single signed ledger entry
  - Source: Closed set of event origins (manual_award, game_award, redemption, undo)
  - Identifiers: Type-safe ids for events, employees and locations

INVARIANTS (enforced by PointEvent.Validate):
  manual_award: amount > 0, reason required, awarder required
  game_award:   amount > 0, no awarder
  redemption:   amount < 0, no awarder
  undo:         amount != 0 (negation of the reversed event), reason and actor required

MUTABILITY:
  Events are immutable. The one exception is undo, which deletes the reversed
  event and inserts its compensating undo event as a single unit. Because the
  original row is gone, every aggregate stays a plain unconditional sum.

SEE ALSO:
  - store.go: Persistence interfaces
  - aggregate.go: Balance, leaderboards, recent awards
  - rewards/: Services that write events
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EventID string
type EmployeeID string
type LocationID string

// =============================================================================
// SOURCE - Closed set of event origins
// =============================================================================

// Source identifies which operation produced an event.
// Branch on it with a switch that handles every constant; unknown values are
// rejected by Validate and ParseSource.
type Source string

const (
	SourceManualAward Source = "manual_award" // Awarded by a higher-ranked employee
	SourceGameAward   Source = "game_award"   // Earned from an in-store game, no awarder
	SourceRedemption  Source = "redemption"   // Spent on a catalog reward
	SourceUndo        Source = "undo"         // Compensating entry for a reversed award
)

// Sources lists every valid Source.
var Sources = []Source{SourceManualAward, SourceGameAward, SourceRedemption, SourceUndo}

// ParseSource converts a stored string into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceManualAward, SourceGameAward, SourceRedemption, SourceUndo:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown point event source %q", s)
	}
}

// IsAward reports whether events of this source count as points earned.
func (s Source) IsAward() bool {
	switch s {
	case SourceManualAward, SourceGameAward:
		return true
	case SourceRedemption, SourceUndo:
		return false
	default:
		return false
	}
}

// Reversible reports whether an event of this source may be targeted by undo.
func (s Source) Reversible() bool {
	switch s {
	case SourceManualAward, SourceGameAward:
		return true
	case SourceRedemption, SourceUndo:
		return false
	default:
		return false
	}
}

// =============================================================================
// POINT EVENT
// =============================================================================

// MaxEventAmount bounds the magnitude of a single event so balances and
// leaderboard sums stay far from int64 overflow.
const MaxEventAmount int64 = 1_000_000

// PointEvent is the only persisted entity of the ledger.
type PointEvent struct {
	ID         EventID
	EmployeeID EmployeeID
	LocationID LocationID
	Amount     int64
	Source     Source

	// SourceDetail is the reason (manual_award, undo) or a descriptive label
	// (game name, reward name).
	SourceDetail string

	// AwardedBy is the acting employee for manual_award and undo, empty otherwise.
	AwardedBy EmployeeID

	// ReferenceID points at the reversed event (undo) or the reward (redemption).
	ReferenceID string

	// IdempotencyKey is optional. Two events can never share a non-empty key.
	IdempotencyKey string

	CreatedAt time.Time
}

// Validate checks the per-source invariants of an event.
func (e PointEvent) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "event id is required"}
	}
	if e.EmployeeID == "" {
		return &ValidationError{Field: "employee_id", Message: "employee id is required"}
	}
	if e.LocationID == "" {
		return &ValidationError{Field: "location_id", Message: "location id is required"}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Message: "timestamp is required"}
	}
	if e.Amount > MaxEventAmount || e.Amount < -MaxEventAmount {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("magnitude must not exceed %d", MaxEventAmount)}
	}

	switch e.Source {
	case SourceManualAward:
		if e.Amount <= 0 {
			return &ValidationError{Field: "amount", Message: "manual award must be positive"}
		}
		if strings.TrimSpace(e.SourceDetail) == "" {
			return &ValidationError{Field: "reason", Message: "manual award requires a reason"}
		}
		if e.AwardedBy == "" {
			return &ValidationError{Field: "awarded_by", Message: "manual award requires an awarder"}
		}
	case SourceGameAward:
		if e.Amount <= 0 {
			return &ValidationError{Field: "amount", Message: "game award must be positive"}
		}
		if e.AwardedBy != "" {
			return &ValidationError{Field: "awarded_by", Message: "game award has no awarder"}
		}
	case SourceRedemption:
		if e.Amount >= 0 {
			return &ValidationError{Field: "amount", Message: "redemption must be negative"}
		}
		if e.AwardedBy != "" {
			return &ValidationError{Field: "awarded_by", Message: "redemption has no awarder"}
		}
	case SourceUndo:
		if e.Amount == 0 {
			return &ValidationError{Field: "amount", Message: "undo amount cannot be zero"}
		}
		if strings.TrimSpace(e.SourceDetail) == "" {
			return &ValidationError{Field: "reason", Message: "undo requires a reason"}
		}
		if e.AwardedBy == "" {
			return &ValidationError{Field: "awarded_by", Message: "undo requires an actor"}
		}
	default:
		return &ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", e.Source)}
	}
	return nil
}

// Reversal builds the compensating undo event for e.
func (e PointEvent) Reversal(id EventID, reason string, actor EmployeeID, at time.Time) PointEvent {
	return PointEvent{
		ID:           id,
		EmployeeID:   e.EmployeeID,
		LocationID:   e.LocationID,
		Amount:       -e.Amount,
		Source:       SourceUndo,
		SourceDetail: reason,
		AwardedBy:    actor,
		ReferenceID:  string(e.ID),
		CreatedAt:    at,
	}
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// Standing is one row of a leaderboard.
type Standing struct {
	Position   int
	EmployeeID EmployeeID
	Points     int64
}

// RecentAward is a manual award annotated with whether it can still be undone.
type RecentAward struct {
	EventID    EventID
	EmployeeID EmployeeID
	Points     int64
	Reason     string
	CreatedAt  time.Time
	CanUndo    bool
}
