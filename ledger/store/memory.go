// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/recognition-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a non-transactional store. Each call is atomic on its own but
// there is no way to group calls; callers needing a serializable unit must
// use TxMemory.
type Memory struct {
	mu          sync.RWMutex
	events      map[ledger.EventID]ledger.PointEvent
	byEmployee  map[ledger.EmployeeID][]ledger.PointEvent // sorted by CreatedAt
	byLocation  map[ledger.LocationID][]ledger.PointEvent // sorted by CreatedAt
	idempotency map[string]ledger.EventID
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.events = make(map[ledger.EventID]ledger.PointEvent)
	m.byEmployee = make(map[ledger.EmployeeID][]ledger.PointEvent)
	m.byLocation = make(map[ledger.LocationID][]ledger.PointEvent)
	m.idempotency = make(map[string]ledger.EventID)
}

// Reset removes every event.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) Insert(_ context.Context, e ledger.PointEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e ledger.PointEvent) error {
	if _, ok := m.events[e.ID]; ok {
		return &ledger.ConflictError{Op: "insert", Cause: fmt.Errorf("event id %s already exists", e.ID)}
	}
	if e.IdempotencyKey != "" {
		if _, ok := m.idempotency[e.IdempotencyKey]; ok {
			return &ledger.ConflictError{Op: "insert", Cause: ledger.ErrDuplicateIdempotencyKey}
		}
		m.idempotency[e.IdempotencyKey] = e.ID
	}

	m.events[e.ID] = e
	m.byEmployee[e.EmployeeID] = insertSorted(m.byEmployee[e.EmployeeID], e)
	m.byLocation[e.LocationID] = insertSorted(m.byLocation[e.LocationID], e)
	return nil
}

// insertSorted places e after every event created at or before it.
func insertSorted(events []ledger.PointEvent, e ledger.PointEvent) []ledger.PointEvent {
	i := sort.Search(len(events), func(i int) bool {
		return events[i].CreatedAt.After(e.CreatedAt)
	})
	events = append(events, ledger.PointEvent{})
	copy(events[i+1:], events[i:])
	events[i] = e
	return events
}

func removeByID(events []ledger.PointEvent, id ledger.EventID) []ledger.PointEvent {
	for i, e := range events {
		if e.ID == id {
			return append(events[:i], events[i+1:]...)
		}
	}
	return events
}

func (m *Memory) Get(_ context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.EventID) (ledger.PointEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return ledger.PointEvent{}, &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	return e, nil
}

func (m *Memory) Delete(_ context.Context, id ledger.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id ledger.EventID) error {
	e, ok := m.events[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "event", ID: string(id)}
	}
	delete(m.events, id)
	if e.IdempotencyKey != "" {
		delete(m.idempotency, e.IdempotencyKey)
	}
	m.byEmployee[e.EmployeeID] = removeByID(m.byEmployee[e.EmployeeID], id)
	m.byLocation[e.LocationID] = removeByID(m.byLocation[e.LocationID], id)
	return nil
}

func (m *Memory) Balance(_ context.Context, employeeID ledger.EmployeeID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.SumBalance(m.byEmployee[employeeID]), nil
}

func (m *Memory) ListByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.PointEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByEmployeeLocked(employeeID), nil
}

func (m *Memory) listByEmployeeLocked(employeeID ledger.EmployeeID) []ledger.PointEvent {
	events := m.byEmployee[employeeID]
	result := make([]ledger.PointEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		result = append(result, events[i])
	}
	return result
}

func (m *Memory) ListByLocation(_ context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByLocationLocked(locationID, p), nil
}

func (m *Memory) listByLocationLocked(locationID ledger.LocationID, p ledger.Period) []ledger.PointEvent {
	var result []ledger.PointEvent
	for _, e := range m.byLocation[locationID] {
		if p.Contains(e.CreatedAt) {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) ListAwardsBy(_ context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAwardsByLocked(actor, locationID, limit), nil
}

func (m *Memory) listAwardsByLocked(actor ledger.EmployeeID, locationID ledger.LocationID, limit int) []ledger.PointEvent {
	var result []ledger.PointEvent
	events := m.byLocation[locationID]
	for i := len(events) - 1; i >= 0 && len(result) < limit; i-- {
		e := events[i]
		if e.Source == ledger.SourceManualAward && e.AwardedBy == actor {
			result = append(result, e)
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn while holding the write lock, so transactions are
// fully serialized. Writes go straight to the maps; on error the state is
// restored from a snapshot taken before fn ran.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	events      map[ledger.EventID]ledger.PointEvent
	byEmployee  map[ledger.EmployeeID][]ledger.PointEvent
	byLocation  map[ledger.LocationID][]ledger.PointEvent
	idempotency map[string]ledger.EventID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		events:      make(map[ledger.EventID]ledger.PointEvent, len(tm.events)),
		byEmployee:  make(map[ledger.EmployeeID][]ledger.PointEvent, len(tm.byEmployee)),
		byLocation:  make(map[ledger.LocationID][]ledger.PointEvent, len(tm.byLocation)),
		idempotency: make(map[string]ledger.EventID, len(tm.idempotency)),
	}
	for k, v := range tm.events {
		s.events[k] = v
	}
	for k, v := range tm.byEmployee {
		s.byEmployee[k] = append([]ledger.PointEvent(nil), v...)
	}
	for k, v := range tm.byLocation {
		s.byLocation[k] = append([]ledger.PointEvent(nil), v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.events = s.events
	tm.byEmployee = s.byEmployee
	tm.byLocation = s.byLocation
	tm.idempotency = s.idempotency
}

// txMemoryView is the Store handed to WithTx callbacks. The parent's lock is
// already held, so it calls the *Locked helpers directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Insert(_ context.Context, e ledger.PointEvent) error {
	return tv.parent.insertLocked(e)
}

func (tv *txMemoryView) Get(_ context.Context, id ledger.EventID) (ledger.PointEvent, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) Delete(_ context.Context, id ledger.EventID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) Balance(_ context.Context, employeeID ledger.EmployeeID) (int64, error) {
	return ledger.SumBalance(tv.parent.byEmployee[employeeID]), nil
}

func (tv *txMemoryView) ListByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.PointEvent, error) {
	return tv.parent.listByEmployeeLocked(employeeID), nil
}

func (tv *txMemoryView) ListByLocation(_ context.Context, locationID ledger.LocationID, p ledger.Period) ([]ledger.PointEvent, error) {
	return tv.parent.listByLocationLocked(locationID, p), nil
}

func (tv *txMemoryView) ListAwardsBy(_ context.Context, actor ledger.EmployeeID, locationID ledger.LocationID, limit int) ([]ledger.PointEvent, error) {
	return tv.parent.listAwardsByLocked(actor, locationID, limit), nil
}

var (
	_ ledger.Store   = (*Memory)(nil)
	_ ledger.TxStore = (*TxMemory)(nil)
	_ ledger.Store   = (*txMemoryView)(nil)
)
