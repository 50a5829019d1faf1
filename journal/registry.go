package journal

import (
	"sync"

	"github.com/joeycumines/goroutineid"
	"github.com/kylerchin/corepool/pool"
)

// Go has no goroutine-local storage, so the per-thread journal lookup the
// original design relies on is keyed here on (pool, goroutine id) instead.
// A goroutine that starts a transaction, then spawns another goroutine
// that also opens one against the same pool, gets a second, independent
// registry entry rather than interleaving with the parent's frame.
type registryKey struct {
	pool *pool.Pool
	gid  int64
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*Journal{}
)

// Current returns the Journal already active for p on the calling
// goroutine, if any.
func Current(p *pool.Pool) (*Journal, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	j, ok := registry[registryKey{pool: p, gid: goroutineid.Get()}]
	return j, ok
}

// Bind registers j as the active journal for p on the calling goroutine.
// The caller must have already checked Current returned (nil, false).
func Bind(p *pool.Pool, j *Journal) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey{pool: p, gid: goroutineid.Get()}] = j
}

// Unbind removes the active journal entry for p on the calling goroutine,
// called once the outermost transaction frame finishes.
func Unbind(p *pool.Pool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, registryKey{pool: p, gid: goroutineid.Get()})
}
