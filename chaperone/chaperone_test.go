package chaperone_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kylerchin/corepool/build"
	"github.com/kylerchin/corepool/chaperone"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/pool"
	"github.com/kylerchin/corepool/zone"
)

func openTestPool(t *testing.T, name string) (*pool.Pool, *zone.Allocator) {
	t.Helper()
	dir := build.TempDir("chaperone", t.Name())
	p, err := pool.Open(filepath.Join(dir, name+".dat"), pool.OCF)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, zone.New(p)
}

func TestTransactionAcrossCommitsBothPools(t *testing.T) {
	dir := build.TempDir("chaperone", t.Name())
	pa, aa := openTestPool(t, "a")
	pb, ab := openTestPool(t, "b")

	offA, offB := pa.Start(), pb.Start()
	if err := pa.Persist8(offA, 1); err != nil {
		t.Fatal(err)
	}
	if err := pb.Persist8(offB, 1); err != nil {
		t.Fatal(err)
	}

	sessionPath := chaperone.SessionPath(dir)
	err := chaperone.TransactionAcross(sessionPath, []chaperone.Participant{
		{Pool: pa, Alloc: aa},
		{Pool: pb, Alloc: ab},
	}, func(js []*journal.Journal) error {
		if err := js[0].LogSet64(offA); err != nil {
			return err
		}
		if err := pa.Persist8(offA, 2); err != nil {
			return err
		}
		if err := js[1].LogSet64(offB); err != nil {
			return err
		}
		return pb.Persist8(offB, 2)
	})
	if err != nil {
		t.Fatal(err)
	}
	if pa.Load8(offA) != 2 || pb.Load8(offB) != 2 {
		t.Fatalf("expected both pools committed: a=%d b=%d", pa.Load8(offA), pb.Load8(offB))
	}
}

func TestTransactionAcrossRollsBackBothPoolsOnError(t *testing.T) {
	dir := build.TempDir("chaperone", t.Name())
	pa, aa := openTestPool(t, "a")
	pb, ab := openTestPool(t, "b")

	offA, offB := pa.Start(), pb.Start()
	if err := pa.Persist8(offA, 9); err != nil {
		t.Fatal(err)
	}
	if err := pb.Persist8(offB, 9); err != nil {
		t.Fatal(err)
	}

	sessionPath := chaperone.SessionPath(dir)
	boom := errors.New("boom")
	err := chaperone.TransactionAcross(sessionPath, []chaperone.Participant{
		{Pool: pa, Alloc: aa},
		{Pool: pb, Alloc: ab},
	}, func(js []*journal.Journal) error {
		if err := js[0].LogSet64(offA); err != nil {
			return err
		}
		if err := pa.Persist8(offA, 900); err != nil {
			return err
		}
		if err := js[1].LogSet64(offB); err != nil {
			return err
		}
		if err := pb.Persist8(offB, 900); err != nil {
			return err
		}
		return boom
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if pa.Load8(offA) != 9 || pb.Load8(offB) != 9 {
		t.Fatalf("expected both pools rolled back: a=%d b=%d", pa.Load8(offA), pb.Load8(offB))
	}
}
