/*
backend.go - Storage backend seen by the HTTP layer

PURPOSE:
  The API needs more than the ledger: it seeds rosters and catalogs for
  demo scenarios and wipes everything on reset. Backend bundles those
  concerns so handlers work the same over SQLite, PostgreSQL and memory.

IMPLEMENTATIONS:
  *sqlite.Store       store/sqlite
  *postgres.Store     store/postgres
  *MemoryBackend      this file (STORE_DRIVER=memory, tests)
*/
package api

import (
	"context"

	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/ledger/store"
	"github.com/warp/recognition-ledger/rewards"
)

// Backend is a transactional ledger store that also holds the roster and
// the reward catalog.
type Backend interface {
	ledger.TxStore
	rewards.Directory
	rewards.Catalog

	SaveEmployee(ctx context.Context, e rewards.Employee) error
	SaveReward(ctx context.Context, r rewards.RewardItem) error

	// Reset deletes all events, employees and rewards.
	Reset(ctx context.Context) error
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	*store.TxMemory
	*rewards.MemoryDirectory
	*rewards.MemoryCatalog
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		TxMemory:        store.NewTxMemory(),
		MemoryDirectory: rewards.NewMemoryDirectory(),
		MemoryCatalog:   rewards.NewMemoryCatalog(),
	}
}

func (b *MemoryBackend) Reset(ctx context.Context) error {
	if err := b.TxMemory.Reset(ctx); err != nil {
		return err
	}
	if err := b.MemoryDirectory.Reset(ctx); err != nil {
		return err
	}
	return b.MemoryCatalog.Reset(ctx)
}

var _ Backend = (*MemoryBackend)(nil)
