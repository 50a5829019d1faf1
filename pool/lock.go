package pool

import (
	"github.com/NebulousLabs/demotemutex"
)

// guarded is the per-pool global allocator lock described in the external
// interface contract's concurrency model: allocation and deallocation take
// it exclusively, while a root or recovery read that only needs a stable
// snapshot of the free-list heads can take it shared and, if it later
// discovers it needs to mutate, demote-then-promote without a second
// acquisition race. demotemutex.Mutex is the one teacher dependency that
// exists for exactly this pattern.
type guarded struct {
	mu demotemutex.Mutex
}

func (g *guarded) Lock()    { g.mu.Lock() }
func (g *guarded) Unlock()  { g.mu.Unlock() }
func (g *guarded) RLock()   { g.mu.RLock() }
func (g *guarded) RUnlock() { g.mu.RUnlock() }

// demote converts a held write lock into a held read lock without ever
// leaving the lock fully unheld in between, so that a writer finishing an
// allocation can hand readers a consistent view without an intervening
// writer jumping the queue.
func (g *guarded) demote() { g.mu.DemoteLock() }
