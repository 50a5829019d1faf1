package pool

import (
	"encoding/binary"

	"github.com/dchest/blake2b"
)

// The pool header occupies the first HeaderSize bytes of the backing file.
// Every field lives at a fixed offset so that Open can validate it before
// any allocator metadata is trusted, matching the external interface
// contract in spec section 6: "open() performs version/magic checks and
// fails with a structured error on mismatch."
const (
	magicValue    = 0x436f_7265_506f_6f6c // "CorePool" squeezed into 8 bytes
	headerVersion = uint32(1)

	// flagHasRoot mirrors bit 0 of the flags word: "the existence of a root
	// is signaled by a pool-header flag."
	flagHasRoot = uint32(1) << 0

	offMagic      = 0
	offVersion    = 8
	offFlags      = 12
	offRootOff    = 16
	offJournalOff = 24
	offGen        = 32
	offChecksum   = 40
	checksumSize  = 32

	// HeaderSize is the fixed size of the header region. Allocator metadata
	// (the bump cursor and free-list heads) begins immediately after it.
	HeaderSize = 128

	// AllocatorMetaSize is the space reserved for the allocator's own
	// durable metadata (bump cursor plus size-classed free-list heads).
	// It is reserved by the pool package so that Start()/Available() are
	// correct before any particular Allocator implementation has run, and
	// is sized generously for the size-classed free list in package zone.
	AllocatorMetaSize = 4096

	// zoneMetaSize is an internal alias used by pool.go; kept distinct from
	// the exported constant so the zone package's layout choices don't leak
	// into this package's public API.
	zoneMetaSize = AllocatorMetaSize
)

// header is the decoded, in-memory view of the on-disk header.
type header struct {
	Magic      uint64
	Version    uint32
	Flags      uint32
	RootOff    uint64
	JournalOff uint64
	Gen        uint32
}

func decodeHeader(b []byte) header {
	return header{
		Magic:      binary.LittleEndian.Uint64(b[offMagic:]),
		Version:    binary.LittleEndian.Uint32(b[offVersion:]),
		Flags:      binary.LittleEndian.Uint32(b[offFlags:]),
		RootOff:    binary.LittleEndian.Uint64(b[offRootOff:]),
		JournalOff: binary.LittleEndian.Uint64(b[offJournalOff:]),
		Gen:        binary.LittleEndian.Uint32(b[offGen:]),
	}
}

func encodeHeader(b []byte, h header) {
	binary.LittleEndian.PutUint64(b[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(b[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(b[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(b[offRootOff:], h.RootOff)
	binary.LittleEndian.PutUint64(b[offJournalOff:], h.JournalOff)
	binary.LittleEndian.PutUint32(b[offGen:], h.Gen)
	sum := blake2b.Sum256(b[:offChecksum])
	copy(b[offChecksum:offChecksum+checksumSize], sum[:])
}

// verifyHeaderChecksum guards against a torn write to the header itself
// (distinct from the magic/version check, which guards against opening the
// wrong kind of file entirely). This is a SPEC_FULL supplement: spec.md
// leaves the exact header layout allocator-specific.
func verifyHeaderChecksum(b []byte) bool {
	sum := blake2b.Sum256(b[:offChecksum])
	return string(sum[:]) == string(b[offChecksum:offChecksum+checksumSize])
}
