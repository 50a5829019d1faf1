package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/kylerchin/corepool/build"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/pool"
	"github.com/kylerchin/corepool/zone"
)

func openTestPool(t *testing.T) (*pool.Pool, *zone.Allocator) {
	t.Helper()
	dir := build.TempDir("journal", t.Name())
	p, err := pool.Open(filepath.Join(dir, "pool.dat"), pool.OCF)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, zone.New(p)
}

func TestCommitClearsFrame(t *testing.T) {
	p, a := openTestPool(t)
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}

	off := p.Start()
	if err := p.Persist8(off, 1); err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off, 2); err != nil {
		t.Fatal(err)
	}
	if !j.Pending() {
		t.Fatal("expected a pending record before commit")
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}
	if j.Pending() {
		t.Fatal("expected no pending records after commit")
	}
	if p.Load8(off) != 2 {
		t.Fatalf("commit must preserve the new value: got %d", p.Load8(off))
	}
}

func TestRollbackRestoresOldValue(t *testing.T) {
	p, a := openTestPool(t)
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}

	off := p.Start()
	if err := p.Persist8(off, 42); err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off, 999); err != nil {
		t.Fatal(err)
	}
	if err := j.Rollback(); err != nil {
		t.Fatal(err)
	}
	if p.Load8(off) != 42 {
		t.Fatalf("rollback must restore old value: got %d", p.Load8(off))
	}
}

func TestAppendSpillsAcrossPages(t *testing.T) {
	p, a := openTestPool(t)
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}

	pageHead := journal.HeaderPageHead(p, p.JournalHead())

	const writes = 200
	pages := map[uint64]bool{}
	journal.WalkPages(p, pageHead, func(off uint64) bool {
		pages[off] = true
		return true
	})
	startPages := len(pages)

	for i := 0; i < writes; i++ {
		if err := j.Append(journal.Record{Kind: journal.KindRefCnt, Offset: p.Start(), Size: 8}); err != nil {
			t.Fatal(err)
		}
	}

	pages = map[uint64]bool{}
	journal.WalkPages(p, pageHead, func(off uint64) bool {
		pages[off] = true
		return true
	})
	wantPages := startPages + (writes+journal.PageCapacity-1)/journal.PageCapacity - 1
	if wantPages < 1 {
		wantPages = 1
	}
	if len(pages) < wantPages {
		t.Fatalf("expected journal to span at least %d pages for %d writes, got %d", wantPages, writes, len(pages))
	}

	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestDropOnCommitFreesBlock(t *testing.T) {
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

	if err := j.LogDropOnCommit(r.Offset); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}

	r2, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r.Offset {
		t.Fatalf("expected KindDropOnCommit to recycle the block: got %d want %d", r2.Offset, r.Offset)
	}
}

func TestPinnedJournalReusesPageAfterClear(t *testing.T) {
	p, a := openTestPool(t)
	j, err := journal.Open(p, a, true)
	if err != nil {
		t.Fatal(err)
	}

	off := p.Start()
	if err := p.Persist8(off, 1); err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}

	headPage := journal.LoadPage(p, journal.HeaderPageHead(p, p.JournalHead()))
	if headPage.Len != 0 {
		t.Fatalf("expected pinned journal's page to reset to len 0, got %d", headPage.Len)
	}

	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestDropOnAbortFreesBlockOnRollback(t *testing.T) {
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

	if err := j.LogDropOnAbort(r.Offset); err != nil {
		t.Fatal(err)
	}
	if err := j.Rollback(); err != nil {
		t.Fatal(err)
	}

	r2, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r.Offset {
		t.Fatalf("expected KindDropOnAbort to recycle the block: got %d want %d", r2.Offset, r.Offset)
	}
}

// TestDropOnFailureFreesBlockOnOrdinaryRollback checks that a plain
// Rollback (no crash involved) frees a KindDropOnFailure block immediately,
// matching DropOnAbort, instead of leaking it until a later recovery pass.
func TestDropOnFailureFreesBlockOnOrdinaryRollback(t *testing.T) {
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
	if err := j.Rollback(); err != nil {
		t.Fatal(err)
	}

	r2, err := a.PreAlloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Offset != r.Offset {
		t.Fatalf("expected KindDropOnFailure to recycle the block on ordinary rollback: got %d want %d", r2.Offset, r.Offset)
	}
}

// TestCommitResetsHeaderDecisionAfterClearing checks that once a frame is
// fully committed and cleared, its Header's Decision resets to StateArmed
// so the chain is ready for its next transaction to record a fresh
// decision (relevant for pinned journals, which reuse the same Header).
func TestCommitResetsHeaderDecisionAfterClearing(t *testing.T) {
	p, a := openTestPool(t)
	j, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}

	off := p.Start()
	if err := p.Persist8(off, 1); err != nil {
		t.Fatal(err)
	}
	if err := j.LogSet64(off); err != nil {
		t.Fatal(err)
	}
	if err := p.Persist8(off, 2); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}

	headerOff := p.JournalHead()
	if got := journal.HeaderDecision(p, headerOff); got != journal.StateArmed {
		t.Fatalf("expected the header's decision to reset to StateArmed once the frame fully cleared, got %v", got)
	}
}

// TestOpenGivesEachCallerAnExclusiveChain checks that two journal.Open
// calls against the same pool never share a page chain or Header, which is
// what makes two goroutines' concurrent transactions safe against a shared
// tail-page append race.
func TestOpenGivesEachCallerAnExclusiveChain(t *testing.T) {
	p, a := openTestPool(t)

	j1, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}
	j2, err := journal.Open(p, a, false)
	if err != nil {
		t.Fatal(err)
	}

	head := p.JournalHead()
	seen := map[uint64]bool{}
	journal.WalkHeaders(p, head, func(off uint64) bool {
		seen[off] = true
		return true
	})
	if len(seen) < 2 {
		t.Fatalf("expected at least 2 distinct header chains after two Opens, got %d", len(seen))
	}

	if journal.HeaderPageHead(p, p.JournalHead()) == 0 {
		t.Fatal("expected the most recent Open's header to own its own page")
	}

	for i := 0; i < journal.PageCapacity; i++ {
		if err := j1.Append(journal.Record{Kind: journal.KindRefCnt, Offset: p.Start(), Size: 8}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j2.Append(journal.Record{Kind: journal.KindRefCnt, Offset: p.Start(), Size: 8}); err != nil {
		t.Fatal(err)
	}
	if err := j1.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := j2.Commit(); err != nil {
		t.Fatal(err)
	}
}
