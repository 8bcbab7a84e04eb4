package rewards

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/metrics"
)

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemRequest spends an employee's points on a catalog reward. ActorID is
// the caller: the employee themself, or a manager at the location who
// outranks them.
type RedeemRequest struct {
	EmployeeID     ledger.EmployeeID
	LocationID     ledger.LocationID
	RewardID       string
	ActorID        ledger.EmployeeID
	IdempotencyKey string
}

// Redeem writes one redemption event of -reward.PointsCost.
//
// The balance check reads the store inside the same unit as the insert,
// never a cache, so two racing redemptions cannot both pass it.
//
// Errors:
//   - NotFoundError: reward unknown, inactive or at another location; employee or caller missing or inactive
//   - PermissionError: caller is someone else who does not outrank the employee at this location
//   - InsufficientBalanceError: live balance below the cost
//   - ConflictError: idempotency key already used, or serialization retries exhausted
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (_ ledger.EventID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("redeem", start, err) }(time.Now())

	if req.EmployeeID == "" || req.LocationID == "" || req.RewardID == "" || req.ActorID == "" {
		return "", &ledger.ValidationError{Message: "employee, location, reward and caller are required"}
	}

	reward, err := s.catalog.GetReward(ctx, req.RewardID)
	if err != nil {
		return "", err
	}
	if !reward.Active || reward.LocationID != req.LocationID {
		return "", &ledger.NotFoundError{Kind: "reward", ID: req.RewardID}
	}
	if reward.PointsCost <= 0 {
		return "", &ledger.ValidationError{Field: "points_cost", Message: "reward has no positive cost"}
	}
	employee, err := s.activeEmployee(ctx, req.EmployeeID)
	if err != nil {
		return "", err
	}
	if req.ActorID != req.EmployeeID {
		actor, err := s.activeEmployee(ctx, req.ActorID)
		if err != nil {
			return "", err
		}
		if actor.LocationID != req.LocationID {
			return "", &ledger.PermissionError{ActorID: actor.ID, TargetID: employee.ID, Reason: "actor does not work at location " + string(req.LocationID)}
		}
		if err := checkRank(actor, employee); err != nil {
			return "", err
		}
	}

	e := ledger.PointEvent{
		ID:             s.newID(),
		EmployeeID:     req.EmployeeID,
		LocationID:     req.LocationID,
		Amount:         -reward.PointsCost,
		Source:         ledger.SourceRedemption,
		SourceDetail:   reward.Name,
		ReferenceID:    reward.ID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.clock(),
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	err = s.atomic(ctx, "employee:"+string(req.EmployeeID), func(st ledger.Store) error {
		balance, err := st.Balance(ctx, req.EmployeeID)
		if err != nil {
			return err
		}
		if balance < reward.PointsCost {
			return &ledger.InsufficientBalanceError{
				EmployeeID: req.EmployeeID,
				Available:  balance,
				Requested:  reward.PointsCost,
			}
		}
		return st.Insert(ctx, e)
	})
	if err != nil {
		return "", err
	}

	metrics.RecordEvent(ledger.SourceRedemption)
	s.logEvent(e).WithFields(logrus.Fields{
		"reward_id": reward.ID,
		"actor_id":  req.ActorID,
	}).Info("reward redeemed")
	return e.ID, nil
}

// ListRewards returns the active rewards at a location.
func (s *Service) ListRewards(ctx context.Context, locationID ledger.LocationID) ([]RewardItem, error) {
	if locationID == "" {
		return nil, &ledger.ValidationError{Field: "location_id", Message: "location id is required"}
	}
	return s.catalog.ListRewards(ctx, locationID)
}
