package pool

import (
	"fmt"

	"github.com/NebulousLabs/errors"
)

// Boundary errors, named per the external interface contract: flag misuse,
// bad addressing and allocator exhaustion are all returned rather than
// panicking, so that callers who anticipate them can recover locally.
var (
	// ErrMultipleSizeFlags is returned by Open when more than one size tag
	// bit is set in the open flags.
	ErrMultipleSizeFlags = errors.New("cannot have multiple size flags")

	// ErrSizeWithoutCreate is returned by Open when a size tag is given
	// without one of the create flags.
	ErrSizeWithoutCreate = errors.New("cannot use size flag without a create flag")

	// ErrMemoryExhausted is returned when the allocator has no block large
	// enough to satisfy a request.
	ErrMemoryExhausted = errors.New("memory exhausted")

	// ErrOutOfRange names the error for a foreign pointer that does not
	// translate to an offset inside this pool's address range. OffsetOf does
	// not check its argument, so nothing in this package returns it.
	ErrOutOfRange = errors.New("out of valid range")

	// ErrNoRoot is returned by Root when the pool has not had a root object
	// installed via SetRoot.
	ErrNoRoot = errors.New("pool has no root object")

	// ErrMissingChaperone names the case of a journal whose chaperone file
	// can no longer be found on disk. Recovery does not return it: such a
	// journal is rolled back instead.
	ErrMissingChaperone = errors.New("missing chaperone file")

	// ErrVersionMismatch is returned by Open when the on-disk header's magic
	// or version does not match this build.
	ErrVersionMismatch = errors.New("pool header version mismatch")
)

// BadAddressError reports that a dereference fell outside of any allocated
// block, carrying the offending offset for diagnostics.
type BadAddressError struct {
	Offset uint64
}

func (e *BadAddressError) Error() string {
	return fmt.Sprintf("bad address (0x%x)", e.Offset)
}
