package journal

import (
	"encoding/binary"

	"github.com/kylerchin/corepool/pool"
)

// cursor names one record's location: the page it lives on and its slot
// index within that page.
type cursor struct {
	pageOff uint64
	idx     uint32
}

// Journal is the append path for one thread's write-ahead log against one
// pool. Every journal.Open call allocates a fresh, exclusive Header and
// page chain, so two goroutines transacting against the same pool at once
// never share a tail page or a commit decision; nesting within a single
// goroutine is handled by the txn package, which asks the Journal to mark a
// frame boundary rather than opening a second Journal.
type Journal struct {
	p         *pool.Pool
	alloc     pool.Allocator
	headerOff uint64
	headOff   uint64
	tailOff   uint64
	pinned    bool
	entries   []cursor
	depth     int

	// chaperoneName, when non-empty, names the chaperone session file this
	// journal's pending commit/rollback decision is attached to. A journal
	// with a chaperone does not resolve Armed records into Committed or
	// RolledBack on its own; the chaperone package calls Commit/Rollback
	// directly once the session has decided.
	chaperoneName string
}

// Open allocates a fresh journal.Header and page, links the Header onto the
// pool-wide journal list, and returns a Journal appending to that new,
// exclusive chain. pinJournals corresponds to pool.OPinJournals: when true,
// pages are reset rather than abandoned at the end of every transaction.
func Open(p *pool.Pool, alloc pool.Allocator, pinJournals bool) (*Journal, error) {
	headerOff, err := allocHeader(p, alloc, pinJournals)
	if err != nil {
		return nil, err
	}
	if err := linkHeader(p, headerOff); err != nil {
		return nil, err
	}

	pageOff, err := allocPage(p, alloc)
	if err != nil {
		return nil, err
	}
	if err := setHeaderPageHead(p, headerOff, pageOff); err != nil {
		return nil, err
	}

	return &Journal{
		p:         p,
		alloc:     alloc,
		headerOff: headerOff,
		headOff:   pageOff,
		tailOff:   pageOff,
		pinned:    pinJournals,
	}, nil
}

func allocPage(p *pool.Pool, alloc pool.Allocator) (uint64, error) {
	r, err := alloc.PreAlloc(uint64(pageSize))
	if err != nil {
		return 0, err
	}
	if err := alloc.Perform(r); err != nil {
		return 0, err
	}
	// A freshly allocated page's Len/Next must start at zero; the
	// allocator guarantees zeroed memory only at pool format time, so a
	// page reused from a free list is reset explicitly here too.
	if err := resetForReuse(p, r.Offset, false); err != nil {
		return 0, err
	}
	return r.Offset, nil
}

// Append logs rec as the next record of the current transaction frame,
// allocating and linking a new page first if the current tail is full.
func (j *Journal) Append(rec Record) error {
	rec.State = StateArmed
	slot, ok, err := appendRecord(j.p, j.tailOff, rec)
	if err != nil {
		return err
	}
	if !ok {
		newOff, err := allocPage(j.p, j.alloc)
		if err != nil {
			return err
		}
		if err := linkNext(j.p, j.tailOff, newOff); err != nil {
			return err
		}
		j.tailOff = newOff
		slot, ok, err = appendRecord(j.p, j.tailOff, rec)
		if err != nil {
			return err
		}
		if !ok {
			return pool.ErrMemoryExhausted
		}
	}
	j.entries = append(j.entries, cursor{pageOff: j.tailOff, idx: slot})
	return nil
}

// LogWrite appends a KindDataLog record snapshotting the size bytes
// currently at offset, before the caller overwrites them. size must not
// exceed the inline undo capacity.
func (j *Journal) LogWrite(offset uint64, size uint64) error {
	var old [undoSize]byte
	copy(old[:], j.p.Bytes()[offset:offset+size])
	return j.Append(Record{Kind: KindDataLog, Offset: offset, Size: size, Old: old})
}

// LogSet64 appends a KindSet64 record snapshotting the 8-byte word
// currently at offset.
func (j *Journal) LogSet64(offset uint64) error {
	var old [undoSize]byte
	binary.LittleEndian.PutUint64(old[:8], j.p.Load8(offset))
	return j.Append(Record{Kind: KindSet64, Offset: offset, Size: 8, Old: old})
}

// LogDropOnCommit appends a record that frees offset once the owning
// transaction commits.
func (j *Journal) LogDropOnCommit(offset uint64) error {
	return j.Append(Record{Kind: KindDropOnCommit, Offset: offset})
}

// LogDropOnAbort appends a record that frees offset if the owning
// transaction rolls back.
func (j *Journal) LogDropOnAbort(offset uint64) error {
	return j.Append(Record{Kind: KindDropOnAbort, Offset: offset})
}

// LogDropOnFailure appends a record that frees offset if the owning
// transaction never reaches a decided Commit or Rollback: an ordinary
// Rollback frees it immediately, and recovery frees it too if the process
// crashes before either runs.
func (j *Journal) LogDropOnFailure(offset uint64) error {
	return j.Append(Record{Kind: KindDropOnFailure, Offset: offset})
}

// AttachChaperone marks this journal's current frame as belonging to a
// cross-pool transaction tracked by the named chaperone session file. The
// tag is written durably to the journal's Header immediately, so recovery
// can find it even if the process crashes before the first Append.
func (j *Journal) AttachChaperone(name string) error {
	j.chaperoneName = name
	return setHeaderChaperone(j.p, j.headerOff, name)
}

// Chaperone returns the name of the chaperone session this journal's
// current frame is attached to, or "" if it is a plain local transaction.
func (j *Journal) Chaperone() string { return j.chaperoneName }

// Pending reports whether there are any Armed records waiting on a
// decision.
func (j *Journal) Pending() bool { return len(j.entries) > 0 }

// Enter marks the start of one more nested transaction frame sharing this
// journal, and Leave marks its end. Depth reports how many frames are
// currently open; only the outermost (Depth() == 0 before Enter) is
// allowed to Commit or Rollback.
func (j *Journal) Enter() int { j.depth++; return j.depth }
func (j *Journal) Leave() int { j.depth--; return j.depth }
func (j *Journal) Depth() int { return j.depth }

// notify re-flushes the user-data byte range each pending record
// describes. It must run, for every record, before Commit or Rollback is
// allowed to change any record's state: this is the durability barrier
// between "the user's data" and "the log deciding what happened to it."
func (j *Journal) notify() error {
	for _, c := range j.entries {
		rec := loadPage(j.p, c.pageOff).Slots[c.idx]
		if rec.Size == 0 {
			continue
		}
		if err := j.p.Persist(rec.Offset, rec.Size); err != nil {
			return err
		}
	}
	return nil
}

// Commit records a durable commit decision for the current frame, resolves
// every record appended since the last Commit/Rollback/Clear into
// StateCommitted, performs the KindDropOnCommit frees they describe, then
// moves them to StateCleared and resets the frame.
func (j *Journal) Commit() error {
	if err := j.notify(); err != nil {
		return err
	}
	if err := setHeaderDecision(j.p, j.headerOff, StateCommitted); err != nil {
		return err
	}
	for _, c := range j.entries {
		if err := setRecordState(j.p, c.pageOff, c.idx, StateCommitted); err != nil {
			return err
		}
	}
	for _, c := range j.entries {
		rec := loadPage(j.p, c.pageOff).Slots[c.idx]
		if rec.Kind == KindDropOnCommit {
			if err := dealloc(j.alloc, rec.Offset); err != nil {
				return err
			}
		}
	}
	return j.clearFrame()
}

// Rollback records a durable rollback decision for the current frame, then
// undoes every record appended since the last Commit/Rollback/Clear, in
// reverse order, then moves them to StateCleared and resets the frame.
func (j *Journal) Rollback() error {
	if err := j.notify(); err != nil {
		return err
	}
	if err := setHeaderDecision(j.p, j.headerOff, StateRolledBack); err != nil {
		return err
	}
	for i := len(j.entries) - 1; i >= 0; i-- {
		c := j.entries[i]
		if err := setRecordState(j.p, c.pageOff, c.idx, StateRolledBack); err != nil {
			return err
		}
		rec := loadPage(j.p, c.pageOff).Slots[c.idx]
		if err := undo(j.p, j.alloc, rec); err != nil {
			return err
		}
	}
	return j.clearFrame()
}

// Clear discards the current frame's in-memory bookkeeping (its pending
// entries and chaperone name) without touching record states or the
// durable Header. Nested txn.Run frames do not call it; they share the
// outermost frame's entries.
func (j *Journal) Clear() {
	j.entries = nil
	j.chaperoneName = ""
}

func (j *Journal) clearFrame() error {
	for _, c := range j.entries {
		if err := setRecordState(j.p, c.pageOff, c.idx, StateCleared); err != nil {
			return err
		}
	}
	if j.pinned {
		// Pinned journals reuse their pages instead of growing forever:
		// every page touched by this frame resets to empty once its
		// records are all Cleared, and the next transaction starts
		// appending from the chain's first page again.
		seen := map[uint64]bool{}
		for _, c := range j.entries {
			if seen[c.pageOff] {
				continue
			}
			seen[c.pageOff] = true
			if err := resetForReuse(j.p, c.pageOff, true); err != nil {
				return err
			}
		}
		j.tailOff = j.headOff
	}
	// The frame this Header's Decision and Chaperone tag described is now
	// fully resolved; reset both so the chain's next transaction (for a
	// pinned journal, reusing the same Header) starts from a clean slate.
	if err := setHeaderDecision(j.p, j.headerOff, StateArmed); err != nil {
		return err
	}
	if j.chaperoneName != "" {
		if err := setHeaderChaperone(j.p, j.headerOff, ""); err != nil {
			return err
		}
	}
	j.entries = nil
	j.chaperoneName = ""
	return nil
}

func dealloc(alloc pool.Allocator, offset uint64) error {
	return alloc.DropOnFailure(offset)
}

// undo applies the reverse of a single record, used by both Rollback and
// recovery's fast-forward table when a journal frame is found Armed with
// no chaperone (or chaperone-decided-abort) attached.
func undo(p *pool.Pool, alloc pool.Allocator, rec Record) error {
	switch rec.Kind {
	case KindDataLog, KindRefCnt:
		copy(p.Bytes()[rec.Offset:rec.Offset+rec.Size], rec.Old[:rec.Size])
		return p.Persist(rec.Offset, rec.Size)
	case KindSet64:
		old := binary.LittleEndian.Uint64(rec.Old[:8])
		return p.Persist8(rec.Offset, old)
	case KindDropOnAbort, KindDropOnFailure:
		// A transaction that never reaches a decision is, by definition,
		// one that failed: DropOnFailure blocks are freed on the very same
		// path as DropOnAbort blocks, whether the rollback is an ordinary
		// one or one recovery performs after a crash.
		return dealloc(alloc, rec.Offset)
	case KindDropOnCommit:
		return nil
	}
	return nil
}
