package zone_test

import (
	"path/filepath"
	"testing"

	"github.com/kylerchin/corepool/build"
	"github.com/kylerchin/corepool/pool"
	"github.com/kylerchin/corepool/zone"
)

func openTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	dir := build.TempDir("zone", t.Name())
	p, err := pool.Open(filepath.Join(dir, "pool.dat"), pool.OCF)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocPerformRoundTrip(t *testing.T) {
	p := openTestPool(t)
	a := zone.New(p)

	r, err := a.PreAlloc(24)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Perform(r); err != nil {
		t.Fatal(err)
	}
	if !p.Contains(r.Offset) {
		t.Fatalf("allocated offset %d not inside pool range", r.Offset)
	}
}

func TestDeallocRecyclesSameClass(t *testing.T) {
	p := openTestPool(t)
	a := zone.New(p)

	r1, err := a.PreAlloc(24)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Perform(r1); err != nil {
		t.Fatal(err)
	}

	rd, err := a.PreDealloc(r1.Offset)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Perform(rd); err != nil {
		t.Fatal(err)
	}

	r2, err := a.PreAlloc(24)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r1.Offset {
		t.Fatalf("expected freed block to be recycled: got %d want %d", r2.Offset, r1.Offset)
	}
	if err := a.Perform(r2); err != nil {
		t.Fatal(err)
	}
}

func TestPreAllocExhaustion(t *testing.T) {
	dir := build.TempDir("zone", t.Name())
	p, err := pool.Open(filepath.Join(dir, "pool.dat"), pool.OCF|pool.SizeFlag(1))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	a := zone.New(p)

	// Allocate a block larger than the whole pool to force exhaustion
	// without looping billions of times.
	if _, err := a.PreAlloc(p.Size() * 2); err != pool.ErrMemoryExhausted {
		t.Fatalf("expected ErrMemoryExhausted, got %v", err)
	}
}

func TestDiscardIsNoop(t *testing.T) {
	p := openTestPool(t)
	a := zone.New(p)

	r, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	a.Discard(r)

	r2, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r.Offset {
		t.Fatalf("Discard should not have consumed bump cursor: got %d want %d", r2.Offset, r.Offset)
	}
}
