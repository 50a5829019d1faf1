package recovery_test

import (
	"path/filepath"
	"testing"

	"github.com/kylerchin/corepool/build"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/pool"
	"github.com/kylerchin/corepool/recovery"
	"github.com/kylerchin/corepool/zone"
)

func openTestPool(t *testing.T) (*pool.Pool, *zone.Allocator) {
	t.Helper()
	dir := build.TempDir("recovery", t.Name())
	p, err := pool.Open(filepath.Join(dir, "pool.dat"), pool.OCF)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, zone.New(p)
}

// TestRecoverRollsBackUncommittedWrite simulates a crash between a journal
// append and its commit decision: the record is left Armed on disk, and a
// fresh Run against the reopened pool must undo it.
func TestRecoverRollsBackUncommittedWrite(t *testing.T) {
	p, a := openTestPool(t)

	off := p.Start()
	if err := p.Persist8(off, 1); err != nil {
		t.Fatal(err)
	}
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off, 999); err != nil {
		t.Fatal(err)
	}
	// No Commit/Rollback call: this simulates the process crashing with an
	// Armed record still on disk.

	if err := recovery.Run(p, a); err != nil {
		t.Fatal(err)
	}
	if p.Load8(off) != 1 {
		t.Fatalf("expected recovery to roll back to 1, got %d", p.Load8(off))
	}
}

// TestRecoverIsIdempotent checks that running recovery twice in a row has
// no further effect the second time.
func TestRecoverIsIdempotent(t *testing.T) {
	p, a := openTestPool(t)

	off := p.Start()
	if err := p.Persist8(off, 1); err != nil {
		t.Fatal(err)
	}
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off, 999); err != nil {
		t.Fatal(err)
	}

	if err := recovery.Run(p, a); err != nil {
		t.Fatal(err)
	}
	if err := recovery.Run(p, a); err != nil {
		t.Fatal(err)
	}
	if p.Load8(off) != 1 {
		t.Fatalf("expected value to remain 1 after second recovery pass, got %d", p.Load8(off))
	}
}

// TestRecoverFreesDropOnFailureBlock models a crash between a PreAlloc and
// its owning transaction's eventual decision: the allocated block must be
// freed back to the allocator by recovery.
func TestRecoverFreesDropOnFailureBlock(t *testing.T) {
	p, a := openTestPool(t)

	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}
	r, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Perform(r); err != nil {
		t.Fatal(err)
	}
	if err := j.LogDropOnFailure(r.Offset); err != nil {
		t.Fatal(err)
	}

	if err := recovery.Run(p, a); err != nil {
		t.Fatal(err)
	}

	r2, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r.Offset {
		t.Fatalf("expected recovery to free the block: got new offset %d, want recycled %d", r2.Offset, r.Offset)
	}
}

// TestRecoverResolvesTornCommitConsistently reproduces a crash landing
// between a multi-record transaction's per-record commit loop finishing
// record 0 and finishing record 1: record 0 already shows StateCommitted,
// record 1 is still Armed. Because the journal's Header.Decision was
// flushed once, atomically, before that loop started, recovery must still
// resolve record 1 as committed rather than defaulting it to rollback.
func TestRecoverResolvesTornCommitConsistently(t *testing.T) {
	p, a := openTestPool(t)

	off1, off2 := p.Start(), p.Start()+64
	if err := p.Persist8(off1, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off2, 1); err != nil {
		t.Fatal(err)
	}

	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off1); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off1, 2); err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off2); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off2, 2); err != nil {
		t.Fatal(err)
	}

	headerOff := p.JournalHead()
	pageHead := journal.HeaderPageHead(p, headerOff)

	// Reproduce the crash: the decision is already durably Committed, but
	// only record 0's per-record state made it to StateCommitted before
	// the process died; record 1 is still Armed.
	if err := journal.SetHeaderDecision(p, headerOff, journal.StateCommitted); err != nil {
		t.Fatal(err)
	}
	if err := journal.SetRecordState(p, pageHead, 0, journal.StateCommitted); err != nil {
		t.Fatal(err)
	}

	if err := recovery.Run(p, a); err != nil {
		t.Fatal(err)
	}

	if p.Load8(off1) != 2 || p.Load8(off2) != 2 {
		t.Fatalf("expected both records to resolve committed: off1=%d off2=%d", p.Load8(off1), p.Load8(off2))
	}
}
