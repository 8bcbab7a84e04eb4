/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contract as store/sqlite, for deployments where several server
  processes share one database.

INTERFACES IMPLEMENTED:
  ledger.Store, ledger.TxStore, rewards.Directory, rewards.Catalog

CONCURRENCY:
  No in-process locks. WithTx runs at SERIALIZABLE isolation: two redemptions
  that both read the same balance and both insert cannot both commit.
  The loser fails with SQLSTATE 40001 and is retried from the start (the
  callback re-reads everything) up to the configured retry count, after which
  a ConflictError is returned.

MIGRATION:
  Embedded goose migrations, run through a database/sql handle borrowed from
  the pgx pool (stdlib.OpenDBFromPool).

USAGE:
  store, err := postgres.Open(ctx, postgres.Config{URL: dsn, MaxConns: 10, SerializationRetries: 5}, log)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/metrics"
	"github.com/warp/recognition-ledger/rewards"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgreSQL error codes this package reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Config holds connection settings.
type Config struct {
	URL                  string
	MaxConns             int32
	SerializationRetries int
}

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	retries int
	log     logrus.FieldLogger
}

// Open connects, verifies the connection and applies migrations. A nil
// log discards output.
func Open(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Store, error) {
	log = orDiscard(log)
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if err := runMigrations(pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.WithField("max_conns", poolConfig.MaxConns).Info("connected to PostgreSQL")
	return New(pool, cfg.SerializationRetries, log), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, retries int, log logrus.FieldLogger) *Store {
	if retries < 0 {
		retries = 0
	}
	return &Store{pool: pool, retries: retries, log: orDiscard(log)}
}

func orDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

func runMigrations(pool *pgxpool.Pool, log logrus.FieldLogger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(log)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// POINT EVENT STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Insert(ctx context.Context, e ledger.PointEvent) error {
	return queries{s.pool}.Insert(ctx, e)
}

func (s *Store) Get(ctx context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	return queries{s.pool}.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id ledger.EventID) error {
	return queries{s.pool}.Delete(ctx, id)
}

func (s *Store) Balance(ctx context.Context, employeeID ledger.EmployeeID) (int64, error) {
	return queries{s.pool}.Balance(ctx, employeeID)
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.PointEvent, error) {
	return queries{s.pool}.ListByEmployee(ctx, employeeID)
}

func (s *Store) ListByLocation(ctx context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	return queries{s.pool}.ListByLocation(ctx, locationID, p)
}

func (s *Store) ListAwardsBy(ctx context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	return queries{s.pool}.ListAwardsBy(ctx, actor, locationID, limit)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx runs fn in a SERIALIZABLE transaction, retrying the whole callback
// on serialization failures.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	for attempt := 0; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
			return fn(queries{tx})
		})
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= s.retries {
			return &ledger.ConflictError{Op: "transaction", Cause: err}
		}

		metrics.RecordRetry()
		s.log.WithError(err).WithField("attempt", attempt+1).Debug("retrying serializable transaction")
	}
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// =============================================================================
// QUERIES - shared by Store and transactions
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

const eventColumns = `id, employee_id, location_id, amount, source, source_detail,
	COALESCE(awarded_by, ''), COALESCE(reference_id, ''), COALESCE(idempotency_key, ''), created_at`

func (x queries) Insert(ctx context.Context, e ledger.PointEvent) error {
	_, err := x.q.Exec(ctx, `
		INSERT INTO point_events
		(id, employee_id, location_id, amount, source, source_detail,
		 awarded_by, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
	`,
		string(e.ID),
		string(e.EmployeeID),
		string(e.LocationID),
		e.Amount,
		string(e.Source),
		e.SourceDetail,
		string(e.AwardedBy),
		e.ReferenceID,
		e.IdempotencyKey,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			if pgErr.ConstraintName == "point_events_idempotency_key_key" {
				return &ledger.ConflictError{Op: "insert", Cause: ledger.ErrDuplicateIdempotencyKey}
			}
			return &ledger.ConflictError{Op: "insert", Cause: fmt.Errorf("event id %s already exists", e.ID)}
		}
		return fmt.Errorf("insert point event: %w", err)
	}
	return nil
}

func (x queries) Get(ctx context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	row := x.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM point_events WHERE id = $1`, string(id))
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PointEvent{}, &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	return e, err
}

// Delete removes the row only if it still exists.
func (x queries) Delete(ctx context.Context, id ledger.EventID) error {
	tag, err := x.q.Exec(ctx, `DELETE FROM point_events WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete point event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	return nil
}

func (x queries) Balance(ctx context.Context, employeeID ledger.EmployeeID) (int64, error) {
	var balance int64
	err := x.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM point_events WHERE employee_id = $1`,
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
		WHERE employee_id = $1
		ORDER BY created_at DESC, id DESC
	`, string(employeeID))
}

func (x queries) ListByLocation(ctx context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	return x.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM point_events
		WHERE location_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, string(locationID), p.Start.UTC(), p.End.UTC())
}

func (x queries) ListAwardsBy(ctx context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	return x.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM point_events
		WHERE awarded_by = $1 AND location_id = $2 AND source = 'manual_award'
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, string(actor), string(locationID), limit)
}

func (x queries) queryEvents(ctx context.Context, query string, args ...any) ([]ledger.PointEvent, error) {
	rows, err := x.q.Query(ctx, query, args...)
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

func scanEvent(row pgx.Row) (ledger.PointEvent, error) {
	var (
		e                                      ledger.PointEvent
		id, employeeID, locationID, source     string
		awardedBy, referenceID, idempotencyKey string
		createdAt                              time.Time
	)

	err := row.Scan(
		&id, &employeeID, &locationID, &e.Amount, &source, &e.SourceDetail,
		&awardedBy, &referenceID, &idempotencyKey, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("scan point event: %w", err)
	}

	if e.Source, err = ledger.ParseSource(source); err != nil {
		return e, fmt.Errorf("scan point event %s: %w", id, err)
	}
	e.ID = ledger.EventID(id)
	e.EmployeeID = ledger.EmployeeID(employeeID)
	e.LocationID = ledger.LocationID(locationID)
	e.AwardedBy = ledger.EmployeeID(awardedBy)
	e.ReferenceID = referenceID
	e.IdempotencyKey = idempotencyKey
	e.CreatedAt = createdAt.UTC()
	return e, nil
}

// =============================================================================
// EMPLOYEE DIRECTORY (rewards.Directory interface)
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp rewards.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, location_id, title, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location_id = EXCLUDED.location_id,
			title = EXCLUDED.title,
			active = EXCLUDED.active
	`, string(emp.ID), emp.Name, string(emp.LocationID), string(emp.Title), emp.Active)
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id ledger.EmployeeID) (rewards.Employee, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, location_id, title, active FROM employees WHERE id = $1`, string(id))
	emp, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rewards.Employee{}, &ledger.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return rewards.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return emp, nil
}

// ListEmployees returns a location's employees ordered by id.
func (s *Store) ListEmployees(ctx context.Context, locationID ledger.LocationID) ([]rewards.Employee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, location_id, title, active FROM employees WHERE location_id = $1 ORDER BY id`,
		string(locationID))
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var employees []rewards.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row pgx.Row) (rewards.Employee, error) {
	var (
		emp                   rewards.Employee
		id, locationID, title string
	)
	if err := row.Scan(&id, &emp.Name, &locationID, &title, &emp.Active); err != nil {
		return emp, err
	}
	emp.ID = ledger.EmployeeID(id)
	emp.LocationID = ledger.LocationID(locationID)
	emp.Title = rewards.Title(title)
	return emp, nil
}

// =============================================================================
// REWARD CATALOG (rewards.Catalog interface)
// =============================================================================

// SaveReward inserts or replaces a reward.
func (s *Store) SaveReward(ctx context.Context, r rewards.RewardItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rewards (id, location_id, name, points_cost, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			name = EXCLUDED.name,
			points_cost = EXCLUDED.points_cost,
			active = EXCLUDED.active
	`, r.ID, string(r.LocationID), r.Name, r.PointsCost, r.Active)
	if err != nil {
		return fmt.Errorf("save reward: %w", err)
	}
	return nil
}

// GetReward retrieves a reward by ID, active or not.
func (s *Store) GetReward(ctx context.Context, id string) (rewards.RewardItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, location_id, name, points_cost, active FROM rewards WHERE id = $1`, id)
	r, err := scanReward(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rewards.RewardItem{}, &ledger.NotFoundError{Kind: "reward", ID: id}
	}
	if err != nil {
		return rewards.RewardItem{}, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// ListRewards returns a location's active rewards, cheapest first.
func (s *Store) ListRewards(ctx context.Context, locationID ledger.LocationID) ([]rewards.RewardItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, name, points_cost, active
		FROM rewards
		WHERE location_id = $1 AND active
		ORDER BY points_cost ASC, id ASC
	`, string(locationID))
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var items []rewards.RewardItem
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func scanReward(row pgx.Row) (rewards.RewardItem, error) {
	var (
		r          rewards.RewardItem
		locationID string
	)
	if err := row.Scan(&r.ID, &locationID, &r.Name, &r.PointsCost, &r.Active); err != nil {
		return r, err
	}
	r.LocationID = ledger.LocationID(locationID)
	return r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE point_events, rewards, employees`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

var (
	_ ledger.TxStore    = (*Store)(nil)
	_ ledger.Store      = queries{}
	_ rewards.Directory = (*Store)(nil)
	_ rewards.Catalog   = (*Store)(nil)
)
