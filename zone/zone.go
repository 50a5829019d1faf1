// Package zone implements pool.Allocator as a bump allocator backed by a
// size-classed free list, the reference allocator every pool uses unless a
// caller supplies its own. Every mutation it ever makes durable is exactly
// one 8-byte compare-and-swap, performed by pool.Pool.CompareAndSwap8; the
// header and intrusive free-list pointers it writes alongside that CAS are
// never the thing recovery trusts, only the CAS target is.
package zone

import (
	"github.com/kylerchin/corepool/pool"
)

const (
	numClasses  = 32
	minBlockLog = 3 // smallest class holds 8 usable bytes
	headerSize  = 8
)

// bumpCursorOffset is the offset, relative to the start of the allocator
// metadata region (pool.HeaderSize), of the 8-byte bump cursor. The
// size-classed free-list heads occupy the numClasses 8-byte words that
// follow it.
const bumpCursorOffset = 0

func freeListHeadOffset(idx int) uint64 {
	return uint64(pool.HeaderSize + 8 + 8*idx)
}

func bumpCursorAbsOffset() uint64 {
	return uint64(pool.HeaderSize + bumpCursorOffset)
}

// classFor returns the size class index and usable byte count for a
// request of size bytes. Classes are powers of two starting at 8 bytes, so
// overhead is at most 2x minus one byte.
func classFor(size uint64) (idx int, classSize uint64) {
	classSize = uint64(1) << minBlockLog
	for idx = 0; classSize < size && idx < numClasses-1; idx++ {
		classSize <<= 1
	}
	return idx, classSize
}

// Allocator is a bump-then-recycle allocator: fresh space comes from an
// ever-advancing cursor, and freed blocks are pushed onto a per-size-class
// singly linked free list for the next allocation of the same class to
// reuse, mirroring Corundum's Default allocator shape.
type Allocator struct {
	p *pool.Pool
}

// New returns an Allocator operating over p's allocator metadata region.
func New(p *pool.Pool) *Allocator {
	return &Allocator{p: p}
}

var _ pool.Allocator = (*Allocator)(nil)

// PreAlloc implements pool.Allocator.
func (a *Allocator) PreAlloc(size uint64) (pool.Reservation, error) {
	idx, classSize := classFor(size)
	headOff := freeListHeadOffset(idx)
	head := a.p.Load8(headOff)
	if head != 0 {
		next := a.p.Load8(head)
		return pool.Reservation{
			Kind:     pool.ReserveAlloc,
			Offset:   head,
			Size:     classSize,
			MetaSlot: headOff,
			OldValue: head,
			NewValue: next,
		}, nil
	}

	cursorOff := bumpCursorAbsOffset()
	cur := a.p.Load8(cursorOff)
	if cur == 0 {
		cur = a.p.Start()
	}
	blockSize := classSize + headerSize
	newCur := cur + blockSize
	if newCur > a.p.End() {
		return pool.Reservation{}, pool.ErrMemoryExhausted
	}
	return pool.Reservation{
		Kind:         pool.ReserveAlloc,
		Offset:       cur + headerSize,
		Size:         classSize,
		MetaSlot:     cursorOff,
		OldValue:     cur,
		NewValue:     newCur,
		HeaderOffset: cur,
		HeaderValue:  uint64(idx),
	}, nil
}

// PreDealloc implements pool.Allocator. It requires that off was obtained
// from a prior successful PreAlloc/Perform pair on this same allocator, so
// that the size-class header immediately preceding it is valid.
func (a *Allocator) PreDealloc(off uint64) (pool.Reservation, error) {
	if off < headerSize || !a.p.Contains(off) {
		return pool.Reservation{}, &pool.BadAddressError{Offset: off}
	}
	idx := int(a.p.Load8(off - headerSize))
	if idx < 0 || idx >= numClasses {
		return pool.Reservation{}, &pool.BadAddressError{Offset: off}
	}
	headOff := freeListHeadOffset(idx)
	head := a.p.Load8(headOff)
	return pool.Reservation{
		Kind:         pool.ReserveDealloc,
		Offset:       off,
		MetaSlot:     headOff,
		OldValue:     head,
		NewValue:     off,
		HeaderOffset: off,
		HeaderValue:  head,
	}, nil
}

// PreRealloc implements pool.Allocator. Growing or shrinking within the
// same size class is a no-op; crossing a class boundary stages a fresh
// PreAlloc and leaves the copy and old-block deallocation to the caller,
// who will issue a separate PreDealloc once the copy is durable.
func (a *Allocator) PreRealloc(off uint64, newSize uint64) (pool.Reservation, error) {
	if off < headerSize || !a.p.Contains(off) {
		return pool.Reservation{}, &pool.BadAddressError{Offset: off}
	}
	idx := int(a.p.Load8(off - headerSize))
	curClassSize := uint64(1) << minBlockLog
	if idx >= 0 && idx < numClasses {
		curClassSize = uint64(1) << (minBlockLog + idx)
	}
	newIdx, newClassSize := classFor(newSize)
	if newIdx == idx || newClassSize <= curClassSize {
		return pool.Reservation{Kind: pool.ReserveRealloc, Offset: off, Size: curClassSize}, nil
	}
	r, err := a.PreAlloc(newSize)
	if err != nil {
		return pool.Reservation{}, err
	}
	r.Kind = pool.ReserveRealloc
	return r, nil
}

// Perform implements pool.Allocator. The committing write is always the
// single CompareAndSwap8 at r.MetaSlot; any HeaderOffset write happens
// first and is inert until that CAS succeeds.
func (a *Allocator) Perform(r pool.Reservation) error {
	if r.HeaderOffset != 0 {
		if err := a.p.Persist8(r.HeaderOffset, r.HeaderValue); err != nil {
			return err
		}
	}
	ok, err := a.p.CompareAndSwap8(r.MetaSlot, r.OldValue, r.NewValue)
	if err != nil {
		return err
	}
	if !ok {
		return pool.ErrMemoryExhausted
	}
	return nil
}

// Discard implements pool.Allocator. Because Pre* methods never write
// anything that a concurrent reader could observe as committed, discarding
// a Reservation requires no durable action.
func (a *Allocator) Discard(pool.Reservation) {}

// Log64 implements pool.Allocator for an arbitrary in-place 8-byte update,
// letting callers route free-list head repairs discovered during recovery
// through the same two-phase path as a normal allocation.
func (a *Allocator) Log64(off uint64, newValue uint64) (pool.Reservation, error) {
	old := a.p.Load8(off)
	return pool.Reservation{Kind: pool.ReserveSet64, MetaSlot: off, OldValue: old, NewValue: newValue}, nil
}

// DropOnFailure implements pool.Allocator by immediately staging and
// performing the dealloc: because the allocator's only durable state
// transitions are single CASes, there is no "pending" state to roll
// forward from later, so the caller's registration is actioned eagerly.
func (a *Allocator) DropOnFailure(off uint64) error {
	r, err := a.PreDealloc(off)
	if err != nil {
		return err
	}
	return a.Perform(r)
}
