package pool

// Allocator is the two-phase prepare/perform contract every pool allocator
// implements. It exists so that a crash between "decide what to do" and
// "make it durable" always leaves the pool in a state recovery can finish:
// every prepare method stages a decision in memory and returns a token that
// Perform or Discard later consumes, and the only committing durable write
// either of them makes is a single 8-byte value at a fixed offset (see
// Pool.CompareAndSwap8); an implementation may write one inert auxiliary
// word before it (see Reservation.HeaderOffset).
type Allocator interface {
	// PreAlloc decides where a block of at least size bytes will come from
	// and returns a Reservation describing it, without mutating any durable
	// state yet.
	PreAlloc(size uint64) (Reservation, error)

	// PreDealloc decides how freeing the block at off will update the
	// free-list, without mutating any durable state yet.
	PreDealloc(off uint64) (Reservation, error)

	// PreRealloc decides how to grow or shrink the block at off to newSize,
	// without mutating any durable state yet. It may return a Reservation
	// whose Offset differs from off, meaning the data must be copied by the
	// caller before Perform is invoked.
	PreRealloc(off uint64, newSize uint64) (Reservation, error)

	// Perform makes a previously staged Reservation durable. It is the only
	// method in this interface allowed to write to the pool's backing file.
	Perform(r Reservation) error

	// Discard abandons a previously staged Reservation without making any
	// durable change. It is always safe to call after PreAlloc/PreDealloc/
	// PreRealloc even if Perform was never reached.
	Discard(r Reservation)

	// Log64 stages an in-place 8-byte update (distinct from an alloc or
	// dealloc) so that it can be journaled and performed with the same
	// two-phase discipline, e.g. updating a free-list head in place.
	Log64(off uint64, newValue uint64) (Reservation, error)

	// DropOnFailure registers that, if the enclosing transaction never
	// reaches Perform (because the process crashed or the transaction
	// rolled back), off should be treated as though PreDealloc(off) had
	// been called during recovery.
	DropOnFailure(off uint64) error
}

// Reservation is the token a Pre* method returns and a Perform/Discard call
// consumes. Kind and Offset are enough information for the journal to
// describe the eventual durable effect in a single fixed-size log record
// (see journal.Record), without the journal needing to understand allocator
// internals.
type Reservation struct {
	Kind     ReservationKind
	Offset   uint64
	Size     uint64
	MetaSlot uint64
	OldValue uint64
	NewValue uint64

	// HeaderOffset/HeaderValue describe an auxiliary non-committing write an
	// allocator implementation may need to perform alongside the single
	// committing CAS, e.g. stamping a size-class tag into a block's header
	// or a free block's intrusive next-pointer. Writing it is safe at any
	// point before the committing CAS because nothing can observe it until
	// the CAS links it in.
	HeaderOffset uint64
	HeaderValue  uint64
}

// ReservationKind tags what a Reservation will do when performed.
type ReservationKind uint8

const (
	ReserveAlloc ReservationKind = iota
	ReserveDealloc
	ReserveRealloc
	ReserveSet64
)
