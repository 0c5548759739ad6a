package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Custody moves the backing collateral asset between the ledger and the
// outside world. A custody failure aborts the whole ledger operation.
type Custody interface {
	PullIn(from uuid.UUID, amount fixmath.Wad) error
	PushOut(to uuid.UUID, amount fixmath.Wad) error
}

// MemoryCustody is an in-process custody with per-identity balances.
// Used in tests and single-node deployments; a production deployment
// substitutes a bank/chain adapter behind the same interface.
type MemoryCustody struct {
	mu       sync.Mutex
	balances map[uuid.UUID]fixmath.Wad
	strict   bool
}

// NewMemoryCustody returns a custody that tracks flows without
// enforcing external balances.
func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{balances: make(map[uuid.UUID]fixmath.Wad)}
}

// NewStrictMemoryCustody enforces that PullIn cannot exceed the
// identity's funded balance.
func NewStrictMemoryCustody() *MemoryCustody {
	return &MemoryCustody{balances: make(map[uuid.UUID]fixmath.Wad), strict: true}
}

// Fund credits an external identity (test fixture / faucet).
func (c *MemoryCustody) Fund(owner uuid.UUID, amount fixmath.Wad) {
	c.mu.Lock()
	c.balances[owner] = c.balances[owner].Add(amount)
	c.mu.Unlock()
}

// Balance returns the external balance held for owner.
func (c *MemoryCustody) Balance(owner uuid.UUID) fixmath.Wad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[owner]
}

func (c *MemoryCustody) PullIn(from uuid.UUID, amount fixmath.Wad) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("custody: negative pull %s", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.balances[from].Sub(amount)
	if c.strict && next.IsNegative() {
		return fmt.Errorf("custody: %s has %s, cannot pull %s", from, c.balances[from], amount)
	}
	c.balances[from] = next
	return nil
}

func (c *MemoryCustody) PushOut(to uuid.UUID, amount fixmath.Wad) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("custody: negative push %s", amount)
	}
	c.mu.Lock()
	c.balances[to] = c.balances[to].Add(amount)
	c.mu.Unlock()
	return nil
}
