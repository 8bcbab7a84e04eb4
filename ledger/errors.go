/*
errors.go - Centralized error types for the points ledger

PURPOSE:
  Every error kind the core can return, in one place. Each kind has a
  sentinel (for errors.Is) and a structured type carrying context
  (for errors.As). Structured errors unwrap to their sentinel.

ERROR KINDS:
  ValidationError          Malformed input
  PermissionError          Rank hierarchy violated
  NotFoundError            Missing event, employee or reward
  ExpiredWindowError       Undo attempted after the undo window
  InsufficientBalanceError Redemption exceeds the live balance
  ConflictError            Lost a race or reused an idempotency key

USAGE:
  if errors.Is(err, ledger.ErrNotFound) { ... }

  var short *ledger.InsufficientBalanceError
  if errors.As(err, &short) { fmt.Println(short.Shortfall()) }
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrPermission          = errors.New("permission denied")
	ErrNotFound            = errors.New("not found")
	ErrExpiredWindow       = errors.New("undo window expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")

	// ErrDuplicateIdempotencyKey is the cause of a ConflictError raised when
	// an idempotency key was already used.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInconsistent marks a partially applied write that needs manual
	// reconciliation.
	ErrInconsistent = errors.New("ledger inconsistency")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PermissionError reports a rank hierarchy violation or an actor whose
// title has no rank.
type PermissionError struct {
	ActorID  EmployeeID
	TargetID EmployeeID
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s may not act on %s: %s", e.ActorID, e.TargetID, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// NotFoundError reports a missing (or inactive) entity.
type NotFoundError struct {
	Kind string // "event", "employee", "reward"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExpiredWindowError reports an undo attempted too late.
type ExpiredWindowError struct {
	EventID   EventID
	CreatedAt time.Time
	Age       time.Duration
	Window    time.Duration
}

func (e *ExpiredWindowError) Error() string {
	return fmt.Sprintf("event %s is %s old, undo window is %s",
		e.EventID, e.Age.Truncate(time.Second), e.Window)
}

func (e *ExpiredWindowError) Unwrap() error { return ErrExpiredWindow }

// InsufficientBalanceError reports a redemption the live balance cannot cover.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many points are missing.
func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

// ConflictError reports a lost concurrency race.
type ConflictError struct {
	Op    string
	Cause error
}

func (e *ConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: conflict: %v", e.Op, e.Cause)
	}
	return e.Op + ": conflict"
}

// Unwrap exposes both the sentinel and the cause.
func (e *ConflictError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Cause}
}

// InconsistencyError reports an undo whose compensating event was written
// but whose original could not be deleted. Both rows now exist.
type InconsistencyError struct {
	OriginalID EventID
	UndoID     EventID
	Cause      error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("undo %s written but original %s not deleted: %v", e.UndoID, e.OriginalID, e.Cause)
}

func (e *InconsistencyError) Unwrap() []error { return []error{ErrInconsistent, e.Cause} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) && !errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to the caller's input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrExpiredWindow) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Kind returns a stable short name for the error kind, "internal" if unknown.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpiredWindow):
		return "expired_window"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
