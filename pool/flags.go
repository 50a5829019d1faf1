package pool

// OpenFlags is the 32-bit open-flags word described in the pool file
// layout contract. Bits 0-2 select create/format behavior, bit 3 selects
// pin-journals mode, and bits 4-20 carry a one-hot size tag.
type OpenFlags uint32

const (
	// OC creates the pool file if it does not already exist.
	OC OpenFlags = 1 << 0

	// OF formats the pool file, discarding any existing contents.
	OF OpenFlags = 1 << 1

	// OCNE creates the pool file only if it does not already exist; opening
	// an existing file with only this bit set leaves it untouched.
	OCNE OpenFlags = 1 << 2

	// OPinJournals keeps a journal's pages allocated across the
	// transactions that journal runs, resetting their length to 0 once a
	// transaction's records are all cleared. txn.Run opens a new journal,
	// with its own Header and first page, for every outermost transaction,
	// so pages are not reused from one outermost txn.Run call to the next.
	// This is the runtime equivalent of Corundum's pin_journals feature.
	OPinJournals OpenFlags = 1 << 3

	// OCF creates and formats a new pool file.
	OCF = OC | OF

	// OCFNE creates the pool file if it does not already exist and formats
	// it in either case: the OF bit formats an existing file too.
	OCFNE = OCNE | OF

	// sizeShift is the bit offset of the one-hot size tag.
	sizeShift = 4

	// sizeMask covers bits 4..20.
	sizeMask OpenFlags = 0x1FFFF0

	// sizeUnit is the unit each size tag bit represents (1 GiB).
	sizeUnit = 1 << 30

	// defaultPoolSize is used when no size tag bit is set.
	defaultPoolSize = 8 << 20 // 8 MiB
)

// validate checks the flag combination rules from the external interface
// contract: at most one size bit may be set, and a size bit requires one of
// the create flags. It returns the file size to use (0 meaning "don't
// create/resize").
func (f OpenFlags) validate() (fileSize int64, err error) {
	sizeBits := f & sizeMask
	if sizeBits != 0 && sizeBits&(sizeBits-1) != 0 {
		return 0, ErrMultipleSizeFlags
	}
	if sizeBits != 0 && f&(OC|OCNE) == 0 {
		return 0, ErrSizeWithoutCreate
	}
	if sizeBits == 0 {
		if f&(OC|OCNE) != 0 {
			return defaultPoolSize, nil
		}
		return 0, nil
	}
	tag := sizeBits >> sizeShift
	return int64(tag) * sizeUnit, nil
}

func (f OpenFlags) has(bit OpenFlags) bool { return f&bit == bit }

// SizeFlag returns the one-hot size tag for a pool of gib GiB, to be OR'd
// with a create flag, e.g. OC|SizeFlag(2) opens (creating if needed) a 2
// GiB pool. gib must be a power of two: the tag is a single bit among bits
// 4-20, not an arbitrary integer, so Open rejects any gib that isn't.
func SizeFlag(gib int) OpenFlags {
	return OpenFlags(gib) << sizeShift
}
