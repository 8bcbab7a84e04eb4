/*
aggregate.go - Read models computed from the event log

PURPOSE:
  The Aggregation Engine. It only reads from the Store and never writes.

READ MODELS:
  Balance:      Net sum of every event for an employee, all time, all locations.
  Leaderboard:  Per-employee sum of POSITIVE events at a location within a
                window, sorted descending, ties broken by employee id.
  RecentAwards: The newest manual awards written by an actor, each flagged
                with whether it is still inside the undo window.

TWO INDEPENDENT NUMBERS:
  Balance and leaderboard totals are separate views of the same log and are
  not expected to agree. Redemptions and undo events never reduce a
  leaderboard total; leaderboards track points earned, balance tracks what
  can be spent.

CACHING:
  Leaderboards may be served from an LRU cache whose entries expire after a
  fixed TTL (WithLeaderboardCache). A leaderboard read can therefore be up to
  TTL stale. Balance is never cached.

SEE ALSO:
  - rewards/redeem.go: Uses Store.Balance inside a transaction, not this cache
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UndoWindow is how long after creation an award can be reversed.
const UndoWindow = time.Hour

const (
	DefaultRecentLimit = 5
	MaxRecentLimit     = 50
)

// CanUndo reports whether an event created at createdAt is still reversible at now.
func CanUndo(createdAt, now time.Time) bool {
	return now.Sub(createdAt) < UndoWindow
}

// =============================================================================
// PURE AGGREGATES
// =============================================================================

// SumBalance returns the unconditional sum of event amounts.
func SumBalance(events []PointEvent) int64 {
	var total int64
	for _, e := range events {
		total += e.Amount
	}
	return total
}

// RankLeaderboard sums positive amounts per employee for events inside p.
// Events outside p and events with amount <= 0 are ignored.
func RankLeaderboard(events []PointEvent, p Period) []Standing {
	totals := make(map[EmployeeID]int64)
	for _, e := range events {
		if e.Amount <= 0 || !p.Contains(e.CreatedAt) {
			continue
		}
		totals[e.EmployeeID] += e.Amount
	}

	standings := make([]Standing, 0, len(totals))
	for id, pts := range totals {
		standings = append(standings, Standing{EmployeeID: id, Points: pts})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Points != standings[j].Points {
			return standings[i].Points > standings[j].Points
		}
		return standings[i].EmployeeID < standings[j].EmployeeID
	})
	for i := range standings {
		standings[i].Position = i + 1
	}
	return standings
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator serves read models over a Store.
type Aggregator struct {
	store     Store
	now       func() time.Time
	weekStart time.Weekday
	cache     *expirable.LRU[string, []Standing]
}

type AggregatorOption func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithWeekStart sets the first day of leaderboard weeks (default Monday).
func WithWeekStart(d time.Weekday) AggregatorOption {
	return func(a *Aggregator) { a.weekStart = d }
}

// WithLeaderboardCache caches up to size leaderboards for ttl.
// A ttl of zero disables caching.
func WithLeaderboardCache(size int, ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if ttl <= 0 || size <= 0 {
			a.cache = nil
			return
		}
		a.cache = expirable.NewLRU[string, []Standing](size, nil, ttl)
	}
}

func NewAggregator(store Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:     store,
		now:       time.Now,
		weekStart: time.Monday,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Balance returns the employee's spendable balance, read fresh from the store.
func (a *Aggregator) Balance(ctx context.Context, employeeID EmployeeID) (int64, error) {
	if employeeID == "" {
		return 0, &ValidationError{Field: "employee_id", Message: "employee id is required"}
	}
	return a.store.Balance(ctx, employeeID)
}

// History returns the employee's events, newest first.
func (a *Aggregator) History(ctx context.Context, employeeID EmployeeID) ([]PointEvent, error) {
	if employeeID == "" {
		return nil, &ValidationError{Field: "employee_id", Message: "employee id is required"}
	}
	return a.store.ListByEmployee(ctx, employeeID)
}

// Leaderboard returns positive-only totals at a location within p.
func (a *Aggregator) Leaderboard(ctx context.Context, locationID LocationID, p Period) ([]Standing, error) {
	if locationID == "" {
		return nil, &ValidationError{Field: "location_id", Message: "location id is required"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%d|%d", locationID, p.Start.UnixNano(), p.End.UnixNano())
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			return append([]Standing(nil), cached...), nil
		}
	}

	events, err := a.store.ListByLocation(ctx, locationID, p)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard events: %w", err)
	}
	standings := RankLeaderboard(events, p)

	if a.cache != nil {
		a.cache.Add(key, append([]Standing(nil), standings...))
	}
	return standings, nil
}

// InvalidateLocation drops cached leaderboards for a location.
func (a *Aggregator) InvalidateLocation(locationID LocationID) {
	if a.cache == nil {
		return
	}
	prefix := string(locationID) + "|"
	for _, key := range a.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			a.cache.Remove(key)
		}
	}
}

// Purge drops every cached leaderboard.
func (a *Aggregator) Purge() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

// WeeklyLeaderboard returns the leaderboard for the week containing at.
func (a *Aggregator) WeeklyLeaderboard(ctx context.Context, locationID LocationID, at time.Time) ([]Standing, error) {
	return a.Leaderboard(ctx, locationID, WeekOf(at, a.weekStart))
}

// MonthlyLeaderboard returns the leaderboard for the calendar month containing at.
func (a *Aggregator) MonthlyLeaderboard(ctx context.Context, locationID LocationID, at time.Time) ([]Standing, error) {
	return a.Leaderboard(ctx, locationID, MonthOf(at))
}

// RecentAwards returns the newest manual awards written by actor at a location.
// limit <= 0 means DefaultRecentLimit; it is capped at MaxRecentLimit.
func (a *Aggregator) RecentAwards(ctx context.Context, actor EmployeeID, locationID LocationID, limit int) ([]RecentAward, error) {
	if actor == "" {
		return nil, &ValidationError{Field: "actor_id", Message: "actor id is required"}
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	events, err := a.store.ListAwardsBy(ctx, actor, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent awards: %w", err)
	}

	now := a.now()
	awards := make([]RecentAward, 0, len(events))
	for _, e := range events {
		awards = append(awards, RecentAward{
			EventID:    e.ID,
			EmployeeID: e.EmployeeID,
			Points:     e.Amount,
			Reason:     e.SourceDetail,
			CreatedAt:  e.CreatedAt,
			CanUndo:    CanUndo(e.CreatedAt, now),
		})
	}
	return awards, nil
}
