/*
store.go - Persistence interface for point events

PURPOSE:
  Defines the interface between the ledger core and the database.
  Implementations: ledger/store (memory), store/sqlite, store/postgres.

REQUIRED CAPABILITIES:
  - Unique lookup and delete by event id
  - Range queries by (location, created_at) and by employee
  - Atomic multi-write units (TxStore) for undo and redemption

APPEND-MOSTLY CONTRACT:
  Insert is the normal write. Delete exists only for undo and is a
  compare-and-delete: it fails with a NotFoundError when the row is already
  gone, so exactly one of two racing undos can succeed.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation
  - store/memory.go (ledger/store): In-memory implementation for tests
*/
package ledger

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store persists point events.
type Store interface {
	// Insert persists a new event. Returns a ConflictError wrapping
	// ErrDuplicateIdempotencyKey when the key is already used.
	Insert(ctx context.Context, e PointEvent) error

	// Get returns an event by id, or a NotFoundError.
	Get(ctx context.Context, id EventID) (PointEvent, error)

	// Delete removes an event only if it still exists.
	// Returns a NotFoundError when no row was removed.
	Delete(ctx context.Context, id EventID) error

	// Balance is the sum of every event amount for the employee.
	Balance(ctx context.Context, employeeID EmployeeID) (int64, error)

	// ListByEmployee returns the employee's events, newest first.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]PointEvent, error)

	// ListByLocation returns events for a location with CreatedAt in [p.Start, p.End),
	// oldest first.
	ListByLocation(ctx context.Context, locationID LocationID, p Period) ([]PointEvent, error)

	// ListAwardsBy returns the newest manual_award events written by actor at
	// location, at most limit of them.
	ListAwardsBy(ctx context.Context, actor EmployeeID, locationID LocationID, limit int) ([]PointEvent, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx runs fn as one serializable unit: reads inside fn see a state no
// concurrent WithTx can change before commit. If fn returns an error, every
// write made through the Store passed to fn is discarded.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
