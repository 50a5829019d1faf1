package pool

import "unsafe"

// Deref turns a durable offset into a typed pointer into the pool's mapping,
// after checking that the entire width of T lies inside the pool's usable
// range. The returned pointer is only valid until the next call that can
// move or unmap the backing slice (Close); nothing in this package ever
// reallocates the mapping itself, so a *T stays valid for the life of the
// Pool.
func Deref[T any](p *Pool, off uint64) (*T, error) {
	var zero T
	size := uint64(unsafe.Sizeof(zero))
	if !p.Valid(off, size) {
		return nil, &BadAddressError{Offset: off}
	}
	return (*T)(unsafe.Pointer(&p.data[off])), nil
}

// UnsafeOffset is the unchecked counterpart to Deref, used by the journal
// and recovery packages on offsets they have already validated (e.g. ones
// they wrote themselves moments earlier), where re-running the bounds check
// would be pure overhead.
func UnsafeOffset[T any](p *Pool, off uint64) *T {
	return (*T)(unsafe.Pointer(&p.data[off]))
}

// OffsetOf returns the offset of a value previously obtained from Deref or
// UnsafeOffset, the inverse operation needed when a durable structure wants
// to store a reference to another durable structure.
func OffsetOf[T any](p *Pool, ptr *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(ptr)) - uintptr(unsafe.Pointer(&p.data[0])))
}
