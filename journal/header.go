package journal

import (
	"unsafe"

	"github.com/kylerchin/corepool/pool"
)

// headerChaperoneSize bounds the chaperone session path a Header can record.
const headerChaperoneSize = 128

// Header is the durable per-(thread, pool) journal structure: a pointer to
// the chain of pages this journal chain has written, a single Decision flag
// that is the sole source of truth recovery consults for every record left
// Armed on this chain, and an optional chaperone attachment. journal.Open
// allocates a fresh Header and links it onto the pool-wide list rooted at
// the pool's journal head pointer every time it is called, so concurrent
// goroutines transacting against the same pool never share a page chain or
// a commit decision.
type Header struct {
	Next      uint64
	PageHead  uint64
	Decision  RecordState
	Pinned    uint8
	_         [6]byte
	Chaperone [headerChaperoneSize]byte
}

var headerSize = uint64(unsafe.Sizeof(Header{}))

func nextHeaderFieldOffset(off uint64) uint64 {
	return off + uint64(unsafe.Offsetof(Header{}.Next))
}

func pageHeadFieldOffset(off uint64) uint64 {
	return off + uint64(unsafe.Offsetof(Header{}.PageHead))
}

func decisionFieldOffset(off uint64) uint64 {
	return off + uint64(unsafe.Offsetof(Header{}.Decision))
}

func headerChaperoneFieldOffset(off uint64) uint64 {
	return off + uint64(unsafe.Offsetof(Header{}.Chaperone))
}

func loadHeader(p *pool.Pool, off uint64) *Header {
	return pool.UnsafeOffset[Header](p, off)
}

// allocHeader reserves and zeroes a fresh Header through alloc's two-phase
// contract, the same way allocPage reserves a page.
func allocHeader(p *pool.Pool, alloc pool.Allocator, pinned bool) (uint64, error) {
	r, err := alloc.PreAlloc(headerSize)
	if err != nil {
		return 0, err
	}
	if err := alloc.Perform(r); err != nil {
		return 0, err
	}
	hdr := loadHeader(p, r.Offset)
	*hdr = Header{}
	if pinned {
		hdr.Pinned = 1
	}
	if err := p.Persist(r.Offset, headerSize); err != nil {
		return 0, err
	}
	return r.Offset, nil
}

// linkHeader publishes newOff as the new head of the pool-wide journal list.
// The read-modify-write of the head pointer is guarded by the pool's global
// lock, so two goroutines calling journal.Open at once can't drop one
// another's Header off the list.
func linkHeader(p *pool.Pool, newOff uint64) error {
	p.Lock()
	defer p.Unlock()
	hdr := loadHeader(p, newOff)
	hdr.Next = p.JournalHead()
	if err := p.Persist(nextHeaderFieldOffset(newOff), 8); err != nil {
		return err
	}
	return p.SetJournalHead(newOff)
}

func setHeaderPageHead(p *pool.Pool, headerOff, pageOff uint64) error {
	hdr := loadHeader(p, headerOff)
	hdr.PageHead = pageOff
	return p.Persist(pageHeadFieldOffset(headerOff), 8)
}

// setHeaderDecision durably records commit or rollback as the sole
// governing decision for this Header's chain, in one flushed byte written
// before any of its records change state. A crash at any point after this
// call leaves recovery able to resolve the whole frame consistently instead
// of inferring the decision from how far a per-record loop got.
func setHeaderDecision(p *pool.Pool, headerOff uint64, d RecordState) error {
	hdr := loadHeader(p, headerOff)
	hdr.Decision = d
	return p.Persist(decisionFieldOffset(headerOff), 1)
}

// HeaderDecision reports the durable decision recorded for the journal chain
// rooted at headerOff. StateArmed means no decision was ever recorded for
// the frame currently open on this chain.
func HeaderDecision(p *pool.Pool, headerOff uint64) RecordState {
	return loadHeader(p, headerOff).Decision
}

// HeaderPageHead returns the offset of the first page in the chain headerOff
// owns.
func HeaderPageHead(p *pool.Pool, headerOff uint64) uint64 {
	return loadHeader(p, headerOff).PageHead
}

func setHeaderChaperone(p *pool.Pool, headerOff uint64, name string) error {
	if headerChaperoneName(p, headerOff) == name {
		return nil
	}
	if len(name) > headerChaperoneSize {
		name = name[:headerChaperoneSize]
	}
	hdr := loadHeader(p, headerOff)
	var buf [headerChaperoneSize]byte
	copy(buf[:], name)
	hdr.Chaperone = buf
	return p.Persist(headerChaperoneFieldOffset(headerOff), headerChaperoneSize)
}

func headerChaperoneName(p *pool.Pool, headerOff uint64) string {
	hdr := loadHeader(p, headerOff)
	n := 0
	for n < len(hdr.Chaperone) && hdr.Chaperone[n] != 0 {
		n++
	}
	return string(hdr.Chaperone[:n])
}

// HeaderChaperoneName returns the chaperone session path tagged on the
// journal chain rooted at headerOff, or "" for a plain local transaction.
func HeaderChaperoneName(p *pool.Pool, headerOff uint64) string {
	return headerChaperoneName(p, headerOff)
}

// WalkHeaders calls fn with the offset of every Header in the pool-wide
// journal list rooted at head, in order, until fn returns false or the list
// ends.
func WalkHeaders(p *pool.Pool, head uint64, fn func(headerOff uint64) bool) {
	off := head
	for off != 0 {
		if !fn(off) {
			return
		}
		off = loadHeader(p, off).Next
	}
}
