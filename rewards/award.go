package rewards

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/metrics"
)

// =============================================================================
// MANUAL AWARDS
// =============================================================================

// AwardRequest asks AwardedBy to grant Amount points to EmployeeID.
type AwardRequest struct {
	EmployeeID     ledger.EmployeeID
	LocationID     ledger.LocationID
	Amount         int64
	Reason         string
	AwardedBy      ledger.EmployeeID
	IdempotencyKey string
}

// Award writes one manual_award event.
//
// Errors:
//   - ValidationError: amount outside [1, MaxEventAmount], empty reason, target not at the location
//   - NotFoundError: actor or target missing or inactive
//   - PermissionError: actor works at another location, does not strictly
//     outrank target, or has an unknown title
//   - ConflictError: idempotency key already used
func (s *Service) Award(ctx context.Context, req AwardRequest) (_ ledger.EventID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("award", start, err) }(time.Now())

	if err := checkAmount(req.Amount); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return "", &ledger.ValidationError{Field: "reason", Message: "reason is required"}
	}
	if req.EmployeeID == "" || req.LocationID == "" || req.AwardedBy == "" {
		return "", &ledger.ValidationError{Message: "employee, location and actor are required"}
	}

	actor, err := s.activeEmployee(ctx, req.AwardedBy)
	if err != nil {
		return "", err
	}
	target, err := s.activeEmployee(ctx, req.EmployeeID)
	if err != nil {
		return "", err
	}
	if target.LocationID != req.LocationID {
		return "", &ledger.ValidationError{Field: "location_id", Message: "employee does not work at this location"}
	}
	if actor.LocationID != req.LocationID {
		return "", &ledger.PermissionError{ActorID: actor.ID, TargetID: target.ID, Reason: "actor does not work at location " + string(req.LocationID)}
	}
	if err := checkRank(actor, target); err != nil {
		return "", err
	}

	e := ledger.PointEvent{
		ID:             s.newID(),
		EmployeeID:     req.EmployeeID,
		LocationID:     req.LocationID,
		Amount:         req.Amount,
		Source:         ledger.SourceManualAward,
		SourceDetail:   strings.TrimSpace(req.Reason),
		AwardedBy:      req.AwardedBy,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.clock(),
	}
	if err := s.write(ctx, e, req.AwardedBy); err != nil {
		return "", err
	}
	return e.ID, nil
}

func checkAmount(amount int64) error {
	if amount < 1 {
		return &ledger.ValidationError{Field: "amount", Message: "must be at least 1"}
	}
	if amount > ledger.MaxEventAmount {
		return &ledger.ValidationError{Field: "amount", Message: fmt.Sprintf("must not exceed %d", ledger.MaxEventAmount)}
	}
	return nil
}

// checkRank fails closed: unknown titles on either side never pass.
func checkRank(actor, target Employee) error {
	if !actor.Title.Valid() {
		return &ledger.PermissionError{ActorID: actor.ID, TargetID: target.ID, Reason: "actor title " + string(actor.Title) + " has no rank"}
	}
	if !target.Title.Valid() {
		return &ledger.PermissionError{ActorID: actor.ID, TargetID: target.ID, Reason: "target title " + string(target.Title) + " has no rank"}
	}
	if !actor.Title.Outranks(target.Title) {
		return &ledger.PermissionError{
			ActorID:  actor.ID,
			TargetID: target.ID,
			Reason:   string(actor.Title) + " does not outrank " + string(target.Title),
		}
	}
	return nil
}

// =============================================================================
// GAME AWARDS
// =============================================================================

// GameAwardRequest grants points earned in an in-store game. GrantedBy is
// the employee reporting the result; it is checked but not stored on the
// event, which has no awarder.
type GameAwardRequest struct {
	EmployeeID     ledger.EmployeeID
	LocationID     ledger.LocationID
	Amount         int64
	Label          string // game name
	GrantedBy      ledger.EmployeeID
	IdempotencyKey string
}

// GrantGameAward writes one game_award event.
//
// Errors:
//   - ValidationError: amount outside [1, MaxEventAmount], empty label, target not at the location
//   - NotFoundError: caller or target missing or inactive
//   - PermissionError: caller has no known title or works at another location
func (s *Service) GrantGameAward(ctx context.Context, req GameAwardRequest) (_ ledger.EventID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("game_award", start, err) }(time.Now())

	if err := checkAmount(req.Amount); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Label) == "" {
		return "", &ledger.ValidationError{Field: "label", Message: "game label is required"}
	}
	if req.EmployeeID == "" || req.LocationID == "" || req.GrantedBy == "" {
		return "", &ledger.ValidationError{Message: "employee, location and caller are required"}
	}

	caller, err := s.activeEmployee(ctx, req.GrantedBy)
	if err != nil {
		return "", err
	}
	target, err := s.activeEmployee(ctx, req.EmployeeID)
	if err != nil {
		return "", err
	}
	if target.LocationID != req.LocationID {
		return "", &ledger.ValidationError{Field: "location_id", Message: "employee does not work at this location"}
	}
	if !caller.Title.Valid() {
		return "", &ledger.PermissionError{ActorID: caller.ID, TargetID: target.ID, Reason: "caller title " + string(caller.Title) + " has no rank"}
	}
	if caller.LocationID != req.LocationID {
		return "", &ledger.PermissionError{ActorID: caller.ID, TargetID: target.ID, Reason: "caller does not work at location " + string(req.LocationID)}
	}

	e := ledger.PointEvent{
		ID:             s.newID(),
		EmployeeID:     req.EmployeeID,
		LocationID:     req.LocationID,
		Amount:         req.Amount,
		Source:         ledger.SourceGameAward,
		SourceDetail:   strings.TrimSpace(req.Label),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.clock(),
	}
	if err := s.write(ctx, e, caller.ID); err != nil {
		return "", err
	}
	return e.ID, nil
}

// write validates and inserts a single event outside any transaction.
func (s *Service) write(ctx context.Context, e ledger.PointEvent, actor ledger.EmployeeID) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return err
	}
	metrics.RecordEvent(e.Source)
	s.logEvent(e).WithField("actor_id", actor).Info("points awarded")
	return nil
}

func (s *Service) logEvent(e ledger.PointEvent) logrus.FieldLogger {
	fields := logrus.Fields{
		"event_id":    e.ID,
		"employee_id": e.EmployeeID,
		"location_id": e.LocationID,
		"amount":      e.Amount,
		"source":      e.Source,
	}
	if e.AwardedBy != "" {
		fields["actor_id"] = e.AwardedBy
	}
	if e.ReferenceID != "" {
		fields["reference_id"] = e.ReferenceID
	}
	return s.log.WithFields(fields)
}
