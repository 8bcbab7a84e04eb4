/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the ledger store, the employee directory and the reward catalog
  in one SQLite database. Used for single-node deployments and demos.

INTERFACES IMPLEMENTED:
  ledger.Store:      Point event persistence
  ledger.TxStore:    Atomic undo and redemption
  rewards.Directory: Employee lookups
  rewards.Catalog:   Reward lookups

APPEND-MOSTLY ENFORCEMENT:
  - No UPDATE statements on point_events
  - DELETE only by primary key, and only through Delete (undo)
  - Delete checks RowsAffected: zero rows is a NotFoundError

KEY TABLES:
  point_events: Signed ledger entries
  employees:    Roster (location, title, active)
  rewards:      Reward catalog (location, cost, active)

INDEXES:
  - idx_point_events_employee:         Balance and history (hot path)
  - idx_point_events_location_created: Leaderboard range scans
  - idx_point_events_awarded_by:       Recent awards by actor

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process. Transactions are
  opened with BEGIN IMMEDIATE (_txlock=immediate) so a second process
  writing the same file serializes on the database lock.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so lexical order is time order.

MIGRATION:
  Versioned goose migrations embedded from migrations/*.sql, applied on New().

USAGE:
  store, err := sqlite.New("./data/ledger.db", log)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := rewards.NewService(store, store, store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: Multi-node backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/rewards"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, log logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// orDiscard returns log, or a logger that drops everything when log is nil.
func orDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB, log logrus.FieldLogger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(orDiscard(log))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// POINT EVENT STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Insert(ctx context.Context, e ledger.PointEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.Insert(ctx, e)
}

func (s *Store) Get(ctx context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id ledger.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.Delete(ctx, id)
}

func (s *Store) Balance(ctx context.Context, employeeID ledger.EmployeeID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Balance(ctx, employeeID)
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.PointEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListByEmployee(ctx, employeeID)
}

func (s *Store) ListByLocation(ctx context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListByLocation(ctx, locationID, p)
}

func (s *Store) ListAwardsBy(ctx context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListAwardsBy(ctx, actor, locationID, limit)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Every read and write fn
// makes goes through the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and transactions
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs the point event SQL against a querier. It takes no locks.
type queries struct {
	q querier
}

const eventColumns = `id, employee_id, location_id, amount, source, source_detail,
	awarded_by, reference_id, idempotency_key, created_at`

func (x queries) Insert(ctx context.Context, e ledger.PointEvent) error {
	query := `
		INSERT INTO point_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := x.q.ExecContext(ctx, query,
		string(e.ID),
		string(e.EmployeeID),
		string(e.LocationID),
		e.Amount,
		string(e.Source),
		e.SourceDetail,
		nullString(string(e.AwardedBy)),
		nullString(e.ReferenceID),
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "idempotency_key") {
				return &ledger.ConflictError{Op: "insert", Cause: ledger.ErrDuplicateIdempotencyKey}
			}
			return &ledger.ConflictError{Op: "insert", Cause: fmt.Errorf("event id %s already exists", e.ID)}
		}
		return fmt.Errorf("insert point event: %w", err)
	}
	return nil
}

func (x queries) Get(ctx context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	rows, err := x.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM point_events WHERE id = ?`, string(id))
	if err != nil {
		return ledger.PointEvent{}, fmt.Errorf("query point event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.PointEvent{}, fmt.Errorf("query point event: %w", err)
		}
		return ledger.PointEvent{}, &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	return scanEvent(rows)
}

// Delete removes the row only if it still exists.
func (x queries) Delete(ctx context.Context, id ledger.EventID) error {
	res, err := x.q.ExecContext(ctx, `DELETE FROM point_events WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete point event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete point event: %w", err)
	}
	if n == 0 {
		return &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	return nil
}

func (x queries) Balance(ctx context.Context, employeeID ledger.EmployeeID) (int64, error) {
	var balance int64
	err := x.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM point_events WHERE employee_id = ?`,
		string(employeeID),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum balance: %w", err)
	}
	return balance, nil
}

func (x queries) ListByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.PointEvent, error) {
	return x.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM point_events
		WHERE employee_id = ?
		ORDER BY created_at DESC, id DESC
	`, string(employeeID))
}

func (x queries) ListByLocation(ctx context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	return x.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM point_events
		WHERE location_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC
	`, string(locationID), formatTime(p.Start), formatTime(p.End))
}

func (x queries) ListAwardsBy(ctx context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	return x.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM point_events
		WHERE awarded_by = ? AND location_id = ? AND source = 'manual_award'
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, string(actor), string(locationID), limit)
}

func (x queries) queryEvents(ctx context.Context, query string, args ...any) ([]ledger.PointEvent, error) {
	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query point events: %w", err)
	}
	defer rows.Close()

	var events []ledger.PointEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (ledger.PointEvent, error) {
	var (
		e              ledger.PointEvent
		source         string
		awardedBy      sql.NullString
		referenceID    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.EmployeeID, &e.LocationID, &e.Amount, &source, &e.SourceDetail,
		&awardedBy, &referenceID, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan point event: %w", err)
	}

	if e.Source, err = ledger.ParseSource(source); err != nil {
		return e, fmt.Errorf("scan point event %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return e, fmt.Errorf("scan point event %s: bad created_at: %w", e.ID, err)
	}
	e.AwardedBy = ledger.EmployeeID(awardedBy.String)
	e.ReferenceID = referenceID.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

// =============================================================================
// EMPLOYEE DIRECTORY (rewards.Directory interface)
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp rewards.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, location_id, title, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location_id = excluded.location_id,
			title = excluded.title,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		string(emp.ID), emp.Name, string(emp.LocationID), string(emp.Title), emp.Active)
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id ledger.EmployeeID) (rewards.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		emp   rewards.Employee
		title string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, location_id, title, active FROM employees WHERE id = ?",
		string(id),
	).Scan(&emp.ID, &emp.Name, &emp.LocationID, &title, &emp.Active)

	if errors.Is(err, sql.ErrNoRows) {
		return rewards.Employee{}, &ledger.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return rewards.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	// Unknown titles are kept verbatim and fail the rank check.
	emp.Title = rewards.Title(title)
	return emp, nil
}

// ListEmployees returns a location's employees ordered by id.
func (s *Store) ListEmployees(ctx context.Context, locationID ledger.LocationID) ([]rewards.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, location_id, title, active FROM employees WHERE location_id = ? ORDER BY id",
		string(locationID),
	)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var employees []rewards.Employee
	for rows.Next() {
		var (
			emp   rewards.Employee
			title string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.LocationID, &title, &emp.Active); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		emp.Title = rewards.Title(title)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// REWARD CATALOG (rewards.Catalog interface)
// =============================================================================

// SaveReward inserts or replaces a reward.
func (s *Store) SaveReward(ctx context.Context, r rewards.RewardItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rewards (id, location_id, name, points_cost, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location_id = excluded.location_id,
			name = excluded.name,
			points_cost = excluded.points_cost,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, r.ID, string(r.LocationID), r.Name, r.PointsCost, r.Active)
	if err != nil {
		return fmt.Errorf("save reward: %w", err)
	}
	return nil
}

// GetReward retrieves a reward by ID, active or not.
func (s *Store) GetReward(ctx context.Context, id string) (rewards.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r rewards.RewardItem
	err := s.db.QueryRowContext(ctx,
		"SELECT id, location_id, name, points_cost, active FROM rewards WHERE id = ?", id,
	).Scan(&r.ID, &r.LocationID, &r.Name, &r.PointsCost, &r.Active)

	if errors.Is(err, sql.ErrNoRows) {
		return rewards.RewardItem{}, &ledger.NotFoundError{Kind: "reward", ID: id}
	}
	if err != nil {
		return rewards.RewardItem{}, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// ListRewards returns a location's active rewards, cheapest first.
func (s *Store) ListRewards(ctx context.Context, locationID ledger.LocationID) ([]rewards.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_id, name, points_cost, active
		FROM rewards
		WHERE location_id = ? AND active = 1
		ORDER BY points_cost ASC, id ASC
	`, string(locationID))
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var items []rewards.RewardItem
	for rows.Next() {
		var r rewards.RewardItem
		if err := rows.Scan(&r.ID, &r.LocationID, &r.Name, &r.PointsCost, &r.Active); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"point_events", "rewards", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ ledger.TxStore    = (*Store)(nil)
	_ ledger.Store      = queries{}
	_ rewards.Directory = (*Store)(nil)
	_ rewards.Catalog   = (*Store)(nil)
)
