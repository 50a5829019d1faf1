package journal

import (
	"unsafe"

	"github.com/kylerchin/corepool/pool"
)

// PageCapacity is the fixed number of record slots per page. A transaction
// that logs more than PageCapacity records spills into a new page, linked
// from the current one; recovery walks the chain from the journal head.
const PageCapacity = 64

// Page is a fixed-capacity run of Records, written to a pool in an
// append-then-publish order: a new record's bytes are always persisted
// before Len is bumped to make it visible, so that a crash mid-append
// leaves Len describing exactly the records that are actually durable.

type Page struct {
	Next  uint64
	Len   uint32
	_     uint32
	Slots [PageCapacity]Record
}

var (
	recordSize = unsafe.Sizeof(Record{})
	pageSize   = unsafe.Sizeof(Page{})
)

func slotOffset(pageOff uint64, idx uint32) uint64 {
	return pageOff + uint64(unsafe.Offsetof(Page{}.Slots)) + uint64(idx)*uint64(recordSize)
}

func lenFieldOffset(pageOff uint64) uint64 {
	return pageOff + uint64(unsafe.Offsetof(Page{}.Len))
}

func nextFieldOffset(pageOff uint64) uint64 {
	return pageOff + uint64(unsafe.Offsetof(Page{}.Next))
}

// loadPage overlays a Page onto the pool bytes at off. The caller must have
// already validated off as a page (it was either just allocated by this
// package or read from a journal head/next pointer written by this
// package).
func loadPage(p *pool.Pool, off uint64) *Page {
	return pool.UnsafeOffset[Page](p, off)
}

// appendRecord writes rec into the next free slot of the page at pageOff and
// flushes it, then bumps and flushes Len. It reports false if the page is
// already full; the caller is responsible for allocating a new page and
// linking it in that case.
func appendRecord(p *pool.Pool, pageOff uint64, rec Record) (slot uint32, ok bool, err error) {
	pg := loadPage(p, pageOff)
	if pg.Len >= PageCapacity {
		return 0, false, nil
	}
	idx := pg.Len
	pg.Slots[idx] = rec
	if err := p.Persist(slotOffset(pageOff, idx), uint64(recordSize)); err != nil {
		return 0, false, err
	}
	pg.Len = idx + 1
	if err := p.Persist(lenFieldOffset(pageOff), 4); err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// setRecordState updates the state of the record at (pageOff, idx) in
// place and flushes just that record. Transitioning a record's state is
// always a single word write, so no undo record of the transition itself
// is ever needed.
func setRecordState(p *pool.Pool, pageOff uint64, idx uint32, state RecordState) error {
	pg := loadPage(p, pageOff)
	pg.Slots[idx].State = state
	return p.Persist(slotOffset(pageOff, idx), uint64(recordSize))
}

// linkNext installs next as the successor of the page at pageOff.
func linkNext(p *pool.Pool, pageOff uint64, next uint64) error {
	pg := loadPage(p, pageOff)
	pg.Next = next
	return p.Persist(nextFieldOffset(pageOff), 8)
}

// resetForReuse clears a page's Len (and, unless pinned, its Next) so it
// can be appended to again, matching the OPinJournals "keep pages
// allocated, reset len/head to 0" behavior.
func resetForReuse(p *pool.Pool, pageOff uint64, pinned bool) error {
	pg := loadPage(p, pageOff)
	pg.Len = 0
	if err := p.Persist(lenFieldOffset(pageOff), 4); err != nil {
		return err
	}
	if !pinned {
		pg.Next = 0
		if err := p.Persist(nextFieldOffset(pageOff), 8); err != nil {
			return err
		}
	}
	return nil
}

// notifyPage re-flushes the user-data byte range of every still-Armed
// record on the page at pageOff. It is the per-page half of the notify
// pass: it must complete for a page before commit or rollback resolves any
// record on it, and is idempotent, so recovery can run it unconditionally
// on every pass without needing to know whether a prior pass already did.
func notifyPage(p *pool.Pool, pageOff uint64) error {
	pg := loadPage(p, pageOff)
	for i := uint32(0); i < pg.Len; i++ {
		rec := pg.Slots[i]
		if rec.State != StateArmed || rec.Size == 0 {
			continue
		}
		if err := p.Persist(rec.Offset, rec.Size); err != nil {
			return err
		}
	}
	return nil
}
