package journal

import "github.com/kylerchin/corepool/pool"

// The functions in this file exist for package recovery (and for tests that
// reproduce a crash) to drive the
// fast-forward table over a journal chain after a crash, when there is no
// live Journal value (and therefore no in-memory entries slice) to work
// from, only the pool's journal head offset.

// LoadPage overlays a Page onto the pool bytes at off.
func LoadPage(p *pool.Pool, off uint64) *Page { return loadPage(p, off) }

// SetRecordState updates one record's state in place.
func SetRecordState(p *pool.Pool, pageOff uint64, idx uint32, state RecordState) error {
	return setRecordState(p, pageOff, idx, state)
}

// Undo applies the reverse of rec, as Rollback does for a live frame.
func Undo(p *pool.Pool, alloc pool.Allocator, rec Record) error {
	return undo(p, alloc, rec)
}

// Dealloc frees offset through alloc's two-phase contract.
func Dealloc(alloc pool.Allocator, offset uint64) error {
	return dealloc(alloc, offset)
}

// ResetForReuse clears a page's Len (and, unless pinned, Next) for reuse.
func ResetForReuse(p *pool.Pool, pageOff uint64, pinned bool) error {
	return resetForReuse(p, pageOff, pinned)
}

// NotifyPage runs the notify pass over a single page, re-flushing every
// still-Armed record's user-data range. Recovery runs this for every page
// before resolving any of its records, matching the live Commit/Rollback
// path's own notify-before-decide ordering.
func NotifyPage(p *pool.Pool, pageOff uint64) error {
	return notifyPage(p, pageOff)
}

// SetHeaderDecision writes a journal chain's Header.Decision directly. It
// exists for tests that need to reproduce a crash landing between the
// decision word being flushed and a per-record loop finishing, without
// actually crashing the process.
func SetHeaderDecision(p *pool.Pool, headerOff uint64, d RecordState) error {
	return setHeaderDecision(p, headerOff, d)
}

// WalkPages calls fn with the offset of every page in the chain rooted at
// head, in order, until fn returns false or the chain ends.
func WalkPages(p *pool.Pool, head uint64, fn func(pageOff uint64) bool) {
	off := head
	for off != 0 {
		if !fn(off) {
			return
		}
		off = loadPage(p, off).Next
	}
}
