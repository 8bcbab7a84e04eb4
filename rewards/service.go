/*
service.go - Service construction and write atomicity

PURPOSE:
  Service is the single entry point for every operation that writes to the
  ledger. It owns the collaborators (store, directory, catalog), the clock,
  the id generator and the logger.

ATOMICITY:
  Undo and redemption are read-modify-write sequences. When the store
  implements ledger.TxStore they run inside WithTx. When it does not:
    - Redemption serializes per employee with an in-process lock.
    - Undo serializes per event with an in-process lock and falls back to
      insert-then-delete; a failed delete after a successful insert is
      returned as an *ledger.InconsistencyError and logged at Error level.

LOGGING:
  Successful mutations are logged at Info. Rejections are returned, never
  logged, so callers decide what is noteworthy.
*/
package rewards

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
)

// Service writes awards, undos and redemptions.
type Service struct {
	store     ledger.Store
	txStore   ledger.TxStore // nil if store is not transactional
	directory Directory
	catalog   Catalog

	log   logrus.FieldLogger
	now   func() time.Time
	newID func() ledger.EventID

	locks *keyedMutex
}

type Option func(*Service)

// WithClock overrides time.Now. Timestamps are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithIDGenerator overrides the random UUID event ids.
func WithIDGenerator(newID func() ledger.EventID) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store ledger.Store, directory Directory, catalog Catalog, opts ...Option) *Service {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Service{
		store:     store,
		directory: directory,
		catalog:   catalog,
		log:       discard,
		now:       time.Now,
		newID:     func() ledger.EventID { return ledger.EventID(uuid.NewString()) },
		locks:     newKeyedMutex(),
	}
	if tx, ok := store.(ledger.TxStore); ok {
		s.txStore = tx
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transactional reports whether writes run inside store transactions.
func (s *Service) Transactional() bool {
	return s.txStore != nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// atomic runs fn as one serializable unit. Without a TxStore, the unit is
// serialized per key within this process only.
func (s *Service) atomic(ctx context.Context, key string, fn func(ledger.Store) error) error {
	if s.txStore != nil {
		return s.txStore.WithTx(ctx, fn)
	}
	unlock := s.locks.Lock(key)
	defer unlock()
	return fn(s.store)
}

// activeEmployee loads an employee, treating inactive ones as missing.
func (s *Service) activeEmployee(ctx context.Context, id ledger.EmployeeID) (Employee, error) {
	e, err := s.directory.GetEmployee(ctx, id)
	if err != nil {
		return Employee{}, err
	}
	if !e.Active {
		return Employee{}, &ledger.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return e, nil
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

// keyedMutex hands out one mutex per key and frees it when nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
