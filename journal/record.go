// Package journal implements the write-ahead undo/redo log that gives
// transactions their crash-consistency guarantee: every durable mutation a
// transaction makes is preceded by a Record describing how to undo it, and
// every record moves through a fixed state machine (Armed, then Committed
// or RolledBack, then Cleared) that recovery can resume from any point.
package journal

// RecordKind tags what a Record represents, mirroring the allocator's own
// ReservationKind plus the two pure-logging kinds (DataLog, RefCnt) that
// have no allocator counterpart.
type RecordKind uint8

const (
	// KindDataLog captures an undo snapshot of an in-place write: Old holds
	// the bytes at Offset before the transaction overwrote them.
	KindDataLog RecordKind = iota

	// KindDropOnCommit marks an offset to be deallocated once the owning
	// transaction commits (the old value of a pointer a transaction is
	// replacing).
	KindDropOnCommit

	// KindDropOnAbort marks an offset to be deallocated if the owning
	// transaction rolls back (a freshly allocated block that only the
	// aborted transaction knew about).
	KindDropOnAbort

	// KindDropOnFailure marks an offset that recovery should deallocate if
	// the process crashes before the owning transaction reaches either
	// commit or rollback.
	KindDropOnFailure

	// KindRefCnt logs an undo value for a reference count word, used by
	// shared-ownership objects that do not fit the plain DataLog shape.
	KindRefCnt

	// KindSet64 logs a single 8-byte allocator metadata update, the journal
	// representation of an pool.Allocator Log64 reservation.
	KindSet64
)

// RecordState is the state machine every Record moves through. Recovery
// only ever needs to look at this field (and the record's Kind) to decide
// what to do with it; it never needs to re-derive the decision from
// surrounding application state.
type RecordState uint8

const (
	// StateArmed is the state of a record from the moment it is appended
	// until its owning transaction reaches a decision. A page full of
	// Armed records at the highest-numbered open transaction frame is
	// exactly the state recovery must resolve.
	StateArmed RecordState = iota

	// StateCommitted means the owning transaction committed; undo data in
	// the record must not be applied.
	StateCommitted

	// StateRolledBack means the owning transaction aborted; for
	// KindDataLog and KindRefCnt the Old bytes must be written back to
	// Offset, and for KindDropOnAbort the block at Offset must be freed.
	StateRolledBack

	// StateCleared is the terminal state: the record's effect has been
	// fully applied (or was a no-op) and its slot may be reused.
	StateCleared
)

// undoSize is the width of the inline undo snapshot carried by a
// KindDataLog or KindRefCnt record. Larger in-place writes are journaled as
// multiple adjacent records rather than growing the fixed record size,
// keeping every Record the same width so a Page can be a flat array.
const undoSize = 32

// Record is the fixed-size, tagged-union log entry. Every field is
// populated regardless of Kind so that recovery can read raw bytes off of
// disk without invoking any constructor; unused fields for a given Kind are
// simply left zero.
type Record struct {
	Kind   RecordKind
	State  RecordState
	_      [6]byte
	Offset uint64
	Size   uint64
	Old    [undoSize]byte
}

// armed reports whether the record still needs a decision.
func (r *Record) armed() bool { return r.State == StateArmed }
