/*
Package rewards provides the services that write to the points ledger.

PURPOSE:
  Awards, game awards, undo and redemption. Every operation validates its
  inputs against the roster (Directory) and the reward catalog (Catalog),
  then writes one or two PointEvents through a ledger.Store.

COLLABORATORS:
  Directory: Read-only roster lookup (location, title, active flag).
             Owned by HR tooling, not by this package.
  Catalog:   Read-only reward catalog lookup (cost, location, active flag).

RANK RULE:
  An actor may award points only to an employee of strictly lower rank:
    Team Member(1) < Shift Manager(2) < Assistant Manager(3) < General Manager(4)
  Unknown titles fail closed with a PermissionError.

EXAMPLE FLOW:
  1. Assistant Manager M awards 25 points to Team Member A ("Great service")
  2. M undoes it within the hour ("wrong employee"): the award is deleted
     and an undo event of -25 is written in the same transaction
  3. A redeems a 30-point reward: rejected with InsufficientBalanceError

SEE ALSO:
  - service.go: Service construction and the atomic helper
  - award.go, undo.go, redeem.go: Operations
  - catalog.go: Pre-built reward catalogs
  - ledger/: Event types, stores, aggregates
*/
package rewards

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/recognition-ledger/ledger"
)

// =============================================================================
// EXTERNAL ENTITIES
// =============================================================================

// Employee is a roster entry.
type Employee struct {
	ID         ledger.EmployeeID
	Name       string
	LocationID ledger.LocationID
	Title      Title
	Active     bool
}

// RewardItem is a catalog entry. PointsCost is always positive.
type RewardItem struct {
	ID         string
	LocationID ledger.LocationID
	Name       string
	PointsCost int64
	Active     bool
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Directory looks up employees. GetEmployee returns a *ledger.NotFoundError
// for unknown ids; inactive employees are returned with Active=false.
type Directory interface {
	GetEmployee(ctx context.Context, id ledger.EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context, locationID ledger.LocationID) ([]Employee, error)
}

// Catalog looks up rewards. GetReward returns a *ledger.NotFoundError for
// unknown ids; inactive rewards are returned with Active=false.
type Catalog interface {
	GetReward(ctx context.Context, id string) (RewardItem, error)
	ListRewards(ctx context.Context, locationID ledger.LocationID) ([]RewardItem, error)
}

// =============================================================================
// IN-MEMORY COLLABORATORS
// =============================================================================

// MemoryDirectory is a Directory backed by a map.
type MemoryDirectory struct {
	mu        sync.RWMutex
	employees map[ledger.EmployeeID]Employee
}

func NewMemoryDirectory(employees ...Employee) *MemoryDirectory {
	d := &MemoryDirectory{employees: make(map[ledger.EmployeeID]Employee)}
	for _, e := range employees {
		d.employees[e.ID] = e
	}
	return d
}

func (d *MemoryDirectory) SaveEmployee(_ context.Context, e Employee) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
	return nil
}

func (d *MemoryDirectory) GetEmployee(_ context.Context, id ledger.EmployeeID) (Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.employees[id]
	if !ok {
		return Employee{}, &ledger.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return e, nil
}

// ListEmployees returns a location's employees ordered by id.
func (d *MemoryDirectory) ListEmployees(_ context.Context, locationID ledger.LocationID) ([]Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []Employee
	for _, e := range d.employees {
		if e.LocationID == locationID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *MemoryDirectory) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees = make(map[ledger.EmployeeID]Employee)
	return nil
}

// MemoryCatalog is a Catalog backed by a map.
type MemoryCatalog struct {
	mu      sync.RWMutex
	rewards map[string]RewardItem
}

func NewMemoryCatalog(items ...RewardItem) *MemoryCatalog {
	c := &MemoryCatalog{rewards: make(map[string]RewardItem)}
	for _, r := range items {
		c.rewards[r.ID] = r
	}
	return c
}

func (c *MemoryCatalog) SaveReward(_ context.Context, r RewardItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rewards[r.ID] = r
	return nil
}

func (c *MemoryCatalog) GetReward(_ context.Context, id string) (RewardItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rewards[id]
	if !ok {
		return RewardItem{}, &ledger.NotFoundError{Kind: "reward", ID: id}
	}
	return r, nil
}

// ListRewards returns a location's active rewards, cheapest first.
func (c *MemoryCatalog) ListRewards(_ context.Context, locationID ledger.LocationID) ([]RewardItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []RewardItem
	for _, r := range c.rewards {
		if r.LocationID == locationID && r.Active {
			result = append(result, r)
		}
	}
	SortRewards(result)
	return result, nil
}

func (c *MemoryCatalog) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rewards = make(map[string]RewardItem)
	return nil
}

// SortRewards orders rewards by cost, then id.
func SortRewards(items []RewardItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].PointsCost != items[j].PointsCost {
			return items[i].PointsCost < items[j].PointsCost
		}
		return items[i].ID < items[j].ID
	})
}

var (
	_ Directory = (*MemoryDirectory)(nil)
	_ Catalog   = (*MemoryCatalog)(nil)
)
