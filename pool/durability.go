package pool

import (
	"golang.org/x/sys/unix"
)

// mapFile mmaps the entire backing file read-write and shared, so that
// writes into the returned slice are writes into the file itself. This is
// the Go analogue of Corundum's PM::map: one flat byte slice stands in for
// the persistent address space, and offsets into it are the pool's
// persistent pointers.
func mapFile(fd int, size int64) ([]byte, error) {
	return unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapFile(b []byte) error {
	return unix.Munmap(b)
}

// persistRange flushes the given byte range of the mapping back to the
// backing file and waits for the flush to complete. msync followed by a
// successful return is this package's "flush+fence" primitive: the durability
// guarantee of the pool rests entirely on persistRange being called between
// any write the recovery procedure depends on and the commit record that
// references it.
func persistRange(b []byte, offset, length uintptr) error {
	// msync rejects an address that is not page aligned, so the range is
	// widened down to the start of its page; the mapping itself begins on a
	// page boundary.
	start := offset &^ uintptr(unix.Getpagesize()-1)
	return unix.Msync(alias(b, start, offset+length-start), unix.MS_SYNC)
}

// alias returns the sub-slice of b covering [offset, offset+length), clamped
// to the end of b. unix.Msync passes the slice's address straight to msync,
// which is why persistRange hands alias a page-aligned offset.
func alias(b []byte, offset, length uintptr) []byte {
	end := offset + length
	if end > uintptr(len(b)) {
		end = uintptr(len(b))
	}
	if offset > end {
		offset = end
	}
	return b[offset:end]
}

// Persist8 atomically stores v at the 8-byte-aligned offset off and flushes
// it. Every allocator mutation in package zone commits through exactly one
// call to CompareAndSwap8, preceded at most by one Persist8 of a header or
// next-pointer word that stays inert until that CAS succeeds, matching the
// external interface
// contract's "a single 8-byte compare-and-swap as the allocator's entire
// durable mutation per operation" requirement.
func (p *Pool) Persist8(off uint64, v uint64) error {
	storeUint64(p.data, off, v)
	return persistRange(p.data, uintptr(off), 8)
}

// Load8 reads the 8-byte word at off without any synchronization beyond the
// byte order conversion; callers that need a fence should call Persist
// themselves first.
func (p *Pool) Load8(off uint64) uint64 {
	return loadUint64(p.data, off)
}

// CompareAndSwap8 installs new at off only if the current value equals old,
// flushing the word afterward on success. It returns false, with no durable
// effect, if the current value did not match old.
func (p *Pool) CompareAndSwap8(off uint64, old, new uint64) (bool, error) {
	if !compareAndSwapUint64(p.data, off, old, new) {
		return false, nil
	}
	return true, persistRange(p.data, uintptr(off), 8)
}
