// Package pool implements the persistent memory pool: a single memory
// mapped file whose bytes are addressed by offset rather than by pointer,
// so that a saved offset remains meaningful the next time the same file is
// mapped, possibly at a different base address and in a different process.
package pool

import (
	"os"

	"github.com/NebulousLabs/threadgroup"
	"github.com/kylerchin/corepool/persist"
)

// Pool is a single memory-mapped persistent address space. All durable
// objects inside it are addressed as an offset from the start of the
// mapping; Deref turns such an offset back into a typed Go pointer valid
// only while the Pool remains open.
type Pool struct {
	path   string
	file   *os.File
	data   []byte
	flags  OpenFlags
	deps   Dependencies
	lock   guarded
	gen    uint32
	closed bool
	log    *persist.Logger
	tg     threadgroup.ThreadGroup
}

// Open maps the pool file at path, creating and/or formatting it first
// according to flags. The returned Pool is ready for use; the caller must
// call Close when finished.
func Open(path string, flags OpenFlags) (*Pool, error) {
	return OpenWithDependencies(path, flags, productionDependencies{})
}

// OpenWithLogger is Open with an attached persist.Logger. The logger is
// attached only after Open has mapped and, where needed, formatted the file,
// so that format step is not reported to it, and no later Pool method logs
// to it. A nil logger is equivalent to plain Open.
func OpenWithLogger(path string, flags OpenFlags, log *persist.Logger) (*Pool, error) {
	p, err := OpenWithDependencies(path, flags, productionDependencies{})
	if err != nil {
		return nil, err
	}
	p.log = log
	return p, nil
}

// OpenWithDependencies is Open with an injectable Dependencies, which
// Pool.Disrupt then consults. Format and the allocation paths check no
// disruption point.
func OpenWithDependencies(path string, flags OpenFlags, deps Dependencies) (*Pool, error) {
	fileSize, err := flags.validate()
	if err != nil {
		return nil, err
	}

	exists := true
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		exists = false
	}

	if !exists && flags&(OC|OCNE) == 0 {
		return nil, os.ErrNotExist
	}

	openFlag := os.O_RDWR
	if !exists {
		openFlag |= os.O_CREATE
	}
	file, err := os.OpenFile(path, openFlag, 0600)
	if err != nil {
		return nil, err
	}

	mustFormat := flags&OF != 0 || !exists
	if mustFormat {
		if fileSize == 0 {
			// No explicit size flag was given. Reformatting an existing
			// file keeps its current size; only a brand new file falls
			// back to the default.
			if exists {
				info, statErr := file.Stat()
				if statErr != nil {
					file.Close()
					return nil, statErr
				}
				fileSize = info.Size()
			}
			if fileSize == 0 {
				fileSize = defaultPoolSize
			}
		}
		if err := file.Truncate(fileSize); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		info, statErr := file.Stat()
		if statErr != nil {
			file.Close()
			return nil, statErr
		}
		fileSize = info.Size()
	}

	data, err := mapFile(int(file.Fd()), fileSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	p := &Pool{
		path:  path,
		file:  file,
		data:  data,
		flags: flags,
		deps:  deps,
	}

	if mustFormat {
		if err := p.format(); err != nil {
			p.Close()
			return nil, err
		}
	} else if err := p.validateHeader(); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// format writes a fresh header and resets the allocator metadata region.
// It is only ever called on a file that Open has just created or that was
// opened with OF (force-format).
func (p *Pool) format() error {
	gen := uint32(1)
	if old := decodeHeader(p.data); old.Magic == magicValue && verifyHeaderChecksum(p.data) {
		gen = old.Gen + 1
	}
	h := header{
		Magic:      magicValue,
		Version:    headerVersion,
		Flags:      0,
		RootOff:    0,
		JournalOff: 0,
		Gen:        gen,
	}
	encodeHeader(p.data, h)
	p.gen = h.Gen
	if p.log != nil {
		p.log.Println("formatted pool", p.path, "generation", p.gen)
	}
	// Zero the allocator metadata region so a fresh zone allocator sees an
	// empty free-list and a bump cursor at the start of usable space.
	for i := HeaderSize; i < len(p.data) && i < HeaderSize+zoneMetaSize; i++ {
		p.data[i] = 0
	}
	return persistRange(p.data, 0, uintptr(HeaderSize+zoneMetaSize))
}

// validateHeader checks the magic, version and checksum of an existing
// pool file, per the external interface contract's requirement that Open
// reject a file it does not recognize with a structured error rather than
// silently misinterpreting it.
func (p *Pool) validateHeader() error {
	if len(p.data) < HeaderSize {
		return ErrVersionMismatch
	}
	if !verifyHeaderChecksum(p.data) {
		return ErrVersionMismatch
	}
	h := decodeHeader(p.data)
	if h.Magic != magicValue || h.Version != headerVersion {
		return ErrVersionMismatch
	}
	p.gen = h.Gen
	return nil
}

// Close flushes and unmaps the pool, then closes the backing file. Close is
// idempotent: calling it twice is a no-op on the second call.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	// Stop drains every transaction currently registered via Add/Done
	// before the mapping underneath them is torn down.
	if err := p.tg.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.data != nil {
		if err := persistRange(p.data, 0, uintptr(len(p.data))); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := unmapFile(p.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Start returns the absolute offset of the first byte of usable space,
// i.e. the first byte after the header and allocator metadata region.
func (p *Pool) Start() uint64 { return uint64(HeaderSize + zoneMetaSize) }

// End returns the offset one past the last valid byte in the pool.
func (p *Pool) End() uint64 { return uint64(len(p.data)) }

// Size returns the total size in bytes of the pool's backing file.
func (p *Pool) Size() uint64 { return uint64(len(p.data)) }

// Available reports how many bytes, at most, could still be served by a
// single allocation; it is a hint for callers tuning batch sizes, not a
// durability guarantee.
func (p *Pool) Available() uint64 {
	if p.End() <= p.Start() {
		return 0
	}
	return p.End() - p.Start()
}

// Contains reports whether off addresses a byte inside this pool's usable
// range.
func (p *Pool) Contains(off uint64) bool {
	return off >= p.Start() && off < p.End()
}

// Valid reports whether the byte range [off, off+size) lies entirely
// within this pool's usable range.
func (p *Pool) Valid(off, size uint64) bool {
	if size == 0 {
		return p.Contains(off) || off == p.End()
	}
	end := off + size
	return off >= p.Start() && end <= p.End() && end > off
}

// PinJournals reports whether this pool was opened with OPinJournals, so
// that package journal knows whether to keep a page's Next link alive
// across a Clear instead of resetting it to 0.
func (p *Pool) PinJournals() bool { return p.flags.has(OPinJournals) }

// Gen returns the pool's generation counter, stored in the header: 1 for a
// newly created pool, and one more than the previous value each time Format
// rewrites a pool whose old header was valid. The chaperone and recovery
// packages do not read it.
func (p *Pool) Gen() uint32 { return p.gen }

// Root returns the offset of the pool's root object. It returns ErrNoRoot
// if no root has been installed.
func (p *Pool) Root() (uint64, error) {
	h := decodeHeader(p.data)
	if h.Flags&flagHasRoot == 0 {
		return 0, ErrNoRoot
	}
	return h.RootOff, nil
}

// SetRoot installs off as the pool's root object offset. It is the caller's
// responsibility to have already made the object at off durable; SetRoot
// only publishes the pointer to it.
func (p *Pool) SetRoot(off uint64) error {
	h := decodeHeader(p.data)
	h.RootOff = off
	h.Flags |= flagHasRoot
	encodeHeader(p.data, h)
	return persistRange(p.data, 0, uintptr(offChecksum+checksumSize))
}

// JournalHead returns the offset of the head of the pool-wide linked list of
// journal.Header records, or 0 if none has ever been allocated. Each
// journal.Open call links its own Header onto this list, so the list has one
// entry per (thread, pool) journal chain that has ever existed, not one
// entry per page.
func (p *Pool) JournalHead() uint64 {
	return decodeHeader(p.data).JournalOff
}

// SetJournalHead installs off as the new head of the pool-wide journal.Header
// list.
func (p *Pool) SetJournalHead(off uint64) error {
	h := decodeHeader(p.data)
	h.JournalOff = off
	encodeHeader(p.data, h)
	return persistRange(p.data, 0, uintptr(offChecksum+checksumSize))
}

// Bytes exposes the raw backing slice so that the journal and recovery
// packages, which must read and write fixed-size records at arbitrary
// offsets, can do so without the pool package re-exporting an accessor per
// record kind.
func (p *Pool) Bytes() []byte { return p.data }

// Persist flushes the byte range [offset, offset+length) back to the
// backing file.
func (p *Pool) Persist(offset, length uint64) error {
	return persistRange(p.data, uintptr(offset), uintptr(length))
}

// Disrupt exposes the pool's injected Dependencies to collaborating
// packages (journal, recovery) that need to simulate a crash at a named
// point without importing a test-only type.
func (p *Pool) Disrupt(name string) bool {
	if p.deps == nil {
		return false
	}
	return p.deps.Disrupt(name)
}

// Add registers one in-flight transaction with the pool's thread group. It
// returns an error once Close has started draining, meaning no new
// transaction may begin. The caller must call Done when the transaction
// finishes.
func (p *Pool) Add() error { return p.tg.Add() }

// Done unregisters a transaction previously registered with Add.
func (p *Pool) Done() { p.tg.Done() }

// StopChan returns a channel that closes once Close begins draining
// in-flight transactions, so a long-running transaction body can observe
// the shutdown request.
func (p *Pool) StopChan() <-chan struct{} { return p.tg.StopChan() }

// Lock acquires the pool's global allocator lock for exclusive access.
func (p *Pool) Lock() { p.lock.Lock() }

// Unlock releases the pool's global allocator lock.
func (p *Pool) Unlock() { p.lock.Unlock() }

// RLock acquires the pool's global allocator lock for shared access.
func (p *Pool) RLock() { p.lock.RLock() }

// RUnlock releases a shared hold on the pool's global allocator lock.
func (p *Pool) RUnlock() { p.lock.RUnlock() }
