package pool

import (
	"sync/atomic"
	"unsafe"
)

// storeUint64 and loadUint64 perform a native atomic access to the 8-byte
// word at byte offset off within b, falling back to the byte order defined
// by encoding/binary for any cross-checking with encodeHeader/decodeHeader.
// The word must be 8-byte aligned; callers only ever pass header fields and
// allocator cursors, both of which are laid out on 8-byte boundaries.
func storeUint64(b []byte, off uint64, v uint64) {
	ptr := (*uint64)(unsafe.Pointer(&b[off]))
	atomic.StoreUint64(ptr, v)
}

func loadUint64(b []byte, off uint64) uint64 {
	ptr := (*uint64)(unsafe.Pointer(&b[off]))
	return atomic.LoadUint64(ptr)
}

// compareAndSwapUint64 is the primitive the allocator contract calls its
// "single 8-byte CAS": PreAlloc/PreDealloc stage a value, Perform installs it
// with a CAS against the value observed at staging time, and a failed CAS
// means a concurrent operation already committed to the same slot.
func compareAndSwapUint64(b []byte, off uint64, old, new uint64) bool {
	ptr := (*uint64)(unsafe.Pointer(&b[off]))
	return atomic.CompareAndSwapUint64(ptr, old, new)
}
