// Package recovery implements the fast-forward procedure a caller runs after
// opening a pool and before starting any transaction (pool.Open does not run
// it; corepoolctl's recover subcommand does): every Armed record
// left over from a crash is resolved to Committed or RolledBack, and its
// effect (undo, or a drop) is applied or confirmed, so the pool is back to
// a state where every record is Committed or Cleared.
package recovery

import (
	"github.com/kylerchin/corepool/chaperone"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/persist"
	"github.com/kylerchin/corepool/pool"
)

// Run walks every journal chain in the pool-wide list rooted at p's journal
// head and resolves every Armed record it finds. It is idempotent: running
// it twice in a row against the same pool is a no-op the second time, since
// the first run leaves no record Armed.
func Run(p *pool.Pool, alloc pool.Allocator) error {
	return RunWithLogger(p, alloc, nil)
}

// RunWithLogger is Run with an attached persist.Logger; every fast-forward
// decision that falls back to abort because a chaperone session could not
// be confirmed committed is reported through it.
func RunWithLogger(p *pool.Pool, alloc pool.Allocator, log *persist.Logger) error {
	head := p.JournalHead()
	if head == 0 {
		return nil
	}

	var firstErr error
	journal.WalkHeaders(p, head, func(headerOff uint64) bool {
		// A chain's own Header.Decision is the single durably-flushed word
		// that settles every record on it: it is written once, before any
		// record's state changes, so recovery never has to infer a
		// half-applied decision from how far a per-record loop got.
		commit := journal.HeaderDecision(p, headerOff) == journal.StateCommitted

		if name := journal.HeaderChaperoneName(p, headerOff); name != "" {
			decided, found, err := chaperone.ReadDecision(name)
			if err != nil {
				firstErr = err
				return false
			}
			// A missing or undecided chaperone session is resolved as an
			// abort: a transaction we cannot prove committed everywhere
			// must not be allowed to commit anywhere.
			commit = found && decided
			if !commit && log != nil {
				log.Severe("chaperone session", name, "not confirmed committed, rolling back journal", headerOff)
			}
		}

		ok := true
		journal.WalkPages(p, journal.HeaderPageHead(p, headerOff), func(pageOff uint64) bool {
			// notify() must finish for every record on a page before
			// commit()/rollback() resolves any record on it. Recovery
			// repeats that same barrier here, per page, before touching
			// any record state; re-running it against an already-resolved
			// page is harmless, since only Armed records are re-flushed.
			if err := journal.NotifyPage(p, pageOff); err != nil {
				firstErr = err
				ok = false
				return false
			}

			pg := journal.LoadPage(p, pageOff)
			for i := uint32(0); i < pg.Len; i++ {
				rec := pg.Slots[i]
				if rec.State != journal.StateArmed {
					continue
				}
				if err := resolve(p, alloc, pageOff, i, rec, commit); err != nil {
					firstErr = err
					ok = false
					return false
				}
			}
			return true
		})
		return ok
	})
	return firstErr
}

// resolve decides and applies the fate of one Armed record.
func resolve(p *pool.Pool, alloc pool.Allocator, pageOff uint64, idx uint32, rec journal.Record, commit bool) error {
	if commit {
		if err := journal.SetRecordState(p, pageOff, idx, journal.StateCommitted); err != nil {
			return err
		}
		if rec.Kind == journal.KindDropOnCommit {
			if err := journal.Dealloc(alloc, rec.Offset); err != nil {
				return err
			}
		}
		return journal.SetRecordState(p, pageOff, idx, journal.StateCleared)
	}

	if err := journal.SetRecordState(p, pageOff, idx, journal.StateRolledBack); err != nil {
		return err
	}
	// Undo already frees KindDropOnAbort and KindDropOnFailure blocks: a
	// transaction recovery finds Armed, by definition, never reached a
	// decision, so both kinds are resolved identically to an ordinary
	// rollback's undo.
	if err := journal.Undo(p, alloc, rec); err != nil {
		return err
	}
	return journal.SetRecordState(p, pageOff, idx, journal.StateCleared)
}
