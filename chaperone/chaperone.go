package chaperone

import (
	"github.com/NebulousLabs/errors"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/pool"
)

// Participant names one pool taking part in a cross-pool transaction,
// along with the allocator its journal should use for any frees the
// transaction's undo/drop records describe.
type Participant struct {
	Pool  *pool.Pool
	Alloc pool.Allocator
}

// Body is a cross-pool transaction function. It receives one Journal per
// participant, in the same order the Participants were given.
type Body func(journals []*journal.Journal) error

// TransactionAcross runs fn against every participant under a single
// two-phase commit: fn's journaled writes across all participants either
// all commit or all roll back, decided durably in a session file at
// sessionPath before any participant pool is told to commit. This is the
// only entry point that attaches a chaperone name to a journal frame;
// txn.Run on a single pool never does.
func TransactionAcross(sessionPath string, participants []Participant, fn Body) (err error) {
	if len(participants) == 0 {
		return errors.New("chaperone: no participants")
	}

	journals := make([]*journal.Journal, len(participants))
	opened := make([]bool, len(participants))
	defer func() {
		for i, p := range participants {
			if opened[i] {
				journal.Unbind(p.Pool)
			}
		}
	}()

	for i, pt := range participants {
		j, nested := journal.Current(pt.Pool)
		if !nested {
			var openErr error
			j, openErr = journal.Open(pt.Pool, pt.Alloc, false)
			if openErr != nil {
				return openErr
			}
			journal.Bind(pt.Pool, j)
			opened[i] = true
		}
		j.Enter()
		if err := j.AttachChaperone(sessionPath); err != nil {
			return err
		}
		journals[i] = j
	}
	defer func() {
		for _, j := range journals {
			j.Leave()
		}
	}()

	sess, err := newSession(sessionPath)
	if err != nil {
		return err
	}

	ferr := func() (ferr error) {
		defer func() {
			if r := recover(); r != nil {
				ferr = errors.Extend(errors.New("chaperone body panicked"), asError(r))
			}
		}()
		return fn(journals)
	}()

	commit := ferr == nil
	if decErr := sess.decide(commit); decErr != nil {
		commit = false
		if ferr == nil {
			ferr = decErr
		}
	}

	var resolveErr error
	for _, j := range journals {
		var e error
		if commit {
			e = j.Commit()
		} else {
			e = j.Rollback()
		}
		if e != nil && resolveErr == nil {
			resolveErr = e
		}
	}

	if commit {
		if clearErr := sess.clear(); clearErr != nil && resolveErr == nil {
			resolveErr = clearErr
		}
	}
	// An aborted session file is left on disk deliberately: recovery reads
	// it to confirm the abort decision if the process crashes before every
	// participant's Rollback above finished.
	if !commit {
		// Successful, fully-resolved aborts still clean up; only a crash
		// mid-loop should leave the file for recovery to find.
		if resolveErr == nil {
			sess.clear()
		}
	}

	return errors.Compose(ferr, resolveErr)
}

func asError(r interface{}) error {
	if e, ok := r.(error); ok {
		return e
	}
	return errors.New(toString(r))
}

func toString(r interface{}) string {
	type stringer interface{ String() string }
	if s, ok := r.(stringer); ok {
		return s.String()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "non-error panic value"
}
