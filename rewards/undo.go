/*
undo.go - Compensating reversal of awards

PURPOSE:
  Reverses an award within ledger.UndoWindow of its creation by deleting it
  and inserting an undo event with the negated amount.

DELETE SEMANTICS:
  The original row is removed, so aggregates stay unconditional sums. The
  undo event's ReferenceID holds the reversed id.

RACES:
  Delete is a compare-and-delete. Of two concurrent undos of the same event,
  exactly one deletes the row; the other gets a NotFoundError and writes
  nothing. A second undo of an already reversed event also gets NotFoundError.

EXPIRY:
  Checked lazily against the stored timestamp: age < 1h succeeds, age >= 1h
  fails with ExpiredWindowError. No sweep ever runs.
*/
package rewards

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/metrics"
)

// UndoRequest asks ActorID to reverse EventID.
type UndoRequest struct {
	EventID ledger.EventID
	Reason  string
	ActorID ledger.EmployeeID
}

// Undo reverses an award and returns the id of the undo event.
//
// Errors:
//   - ValidationError: empty reason, or the event is not an award
//   - NotFoundError: event missing (including already reversed), or actor missing/inactive
//   - ExpiredWindowError: the event is at least UndoWindow old
//   - InconsistencyError: non-transactional store only, see service.go
func (s *Service) Undo(ctx context.Context, req UndoRequest) (_ ledger.EventID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("undo", start, err) }(time.Now())

	if strings.TrimSpace(req.Reason) == "" {
		return "", &ledger.ValidationError{Field: "reason", Message: "reason is required"}
	}
	if req.EventID == "" || req.ActorID == "" {
		return "", &ledger.ValidationError{Message: "event and actor are required"}
	}
	if _, err := s.activeEmployee(ctx, req.ActorID); err != nil {
		return "", err
	}

	now := s.clock()
	undoID := s.newID()
	reason := strings.TrimSpace(req.Reason)

	var reversal ledger.PointEvent
	if s.txStore != nil {
		err = s.txStore.WithTx(ctx, func(tx ledger.Store) error {
			orig, err := loadReversible(ctx, tx, req.EventID, now)
			if err != nil {
				return err
			}
			reversal = orig.Reversal(undoID, reason, req.ActorID, now)
			if err := reversal.Validate(); err != nil {
				return err
			}
			if err := tx.Delete(ctx, orig.ID); err != nil {
				return err
			}
			return tx.Insert(ctx, reversal)
		})
	} else {
		reversal, err = s.undoNonAtomic(ctx, req.EventID, undoID, reason, req.ActorID, now)
	}
	if err != nil {
		return "", err
	}

	metrics.RecordEvent(ledger.SourceUndo)
	metrics.RecordReversal()
	s.logEvent(reversal).Info("award reversed")
	return reversal.ID, nil
}

// loadReversible fetches the event and checks it can still be undone at now.
func loadReversible(ctx context.Context, st ledger.Store, id ledger.EventID, now time.Time) (ledger.PointEvent, error) {
	orig, err := st.Get(ctx, id)
	if err != nil {
		return ledger.PointEvent{}, err
	}
	if !orig.Source.Reversible() {
		return ledger.PointEvent{}, &ledger.ValidationError{
			Field:   "event_id",
			Message: "only awards can be undone, event source is " + string(orig.Source),
		}
	}
	if !ledger.CanUndo(orig.CreatedAt, now) {
		return ledger.PointEvent{}, &ledger.ExpiredWindowError{
			EventID:   orig.ID,
			CreatedAt: orig.CreatedAt,
			Age:       now.Sub(orig.CreatedAt),
			Window:    ledger.UndoWindow,
		}
	}
	return orig, nil
}

// undoNonAtomic inserts the reversal first, then deletes the original.
// If the delete fails the ledger holds both rows; that is reported, never hidden.
func (s *Service) undoNonAtomic(ctx context.Context, eventID, undoID ledger.EventID, reason string, actor ledger.EmployeeID, now time.Time) (ledger.PointEvent, error) {
	unlock := s.locks.Lock("event:" + string(eventID))
	defer unlock()

	orig, err := loadReversible(ctx, s.store, eventID, now)
	if err != nil {
		return ledger.PointEvent{}, err
	}
	reversal := orig.Reversal(undoID, reason, actor, now)
	if err := reversal.Validate(); err != nil {
		return ledger.PointEvent{}, err
	}
	if err := s.store.Insert(ctx, reversal); err != nil {
		return ledger.PointEvent{}, err
	}
	if err := s.store.Delete(ctx, orig.ID); err != nil {
		inconsistency := &ledger.InconsistencyError{OriginalID: orig.ID, UndoID: reversal.ID, Cause: err}
		s.log.WithFields(logrus.Fields{
			"event_id":    orig.ID,
			"undo_id":     reversal.ID,
			"employee_id": orig.EmployeeID,
			"amount":      orig.Amount,
		}).WithError(err).Error("undo inserted but original not deleted, manual reconciliation required")
		return ledger.PointEvent{}, inconsistency
	}
	return reversal, nil
}

// IsInconsistent reports whether err left the ledger needing reconciliation.
func IsInconsistent(err error) bool {
	return errors.Is(err, ledger.ErrInconsistent)
}
