// Package txn drives transactions over a pool's journal: it opens (or
// joins) the journal active for the calling goroutine, runs the caller's
// function, and decides whether the accumulated log records commit or roll
// back, including when the caller's function panics.
package txn

import (
	"fmt"

	"github.com/NebulousLabs/errors"
	"github.com/kylerchin/corepool/journal"
	"github.com/kylerchin/corepool/pool"
)

// ErrUnsuccessful is wrapped by the error Run returns when the outermost
// frame of a transaction rolled back, whether because fn returned an error,
// fn panicked, or a nested frame was tainted.
var ErrUnsuccessful = errors.New("unsuccessful transaction")

// ErrUnsuccessfulNested wraps the error of a nested frame whose fn returned
// an error. That nested Run does not return it: it re-panics with it, and
// the outermost frame rolls back and returns ErrUnsuccessful carrying this
// error's text as its cause.
var ErrUnsuccessfulNested = errors.New("unsuccessful nested transaction")

// taintedPanic is recovered by the outermost Run and turned into
// ErrUnsuccessful; an inner Run re-panics with it so every enclosing frame
// learns the transaction is doomed without re-running any undo logic
// itself.
type taintedPanic struct{ cause interface{} }

// Func is the signature of a transaction body. The Journal it receives can
// be threaded into allocator and durable-write calls via j.LogWrite /
// j.LogSet64 / j.LogDropOnCommit / j.LogDropOnAbort.
type Func func(j *journal.Journal) error

// Run executes fn as a transaction against p, using alloc for any
// allocations fn stages. If the calling goroutine is already inside a
// transaction against p, fn runs as a nested frame sharing that
// transaction's journal: only the outermost frame actually commits or
// rolls back, but a panic or error at any depth dooms the whole thing.
func Run(p *pool.Pool, alloc pool.Allocator, fn Func) (err error) {
	return RunPinned(p, alloc, p.PinJournals(), fn)
}

// RunPinned is Run with an explicit pinJournals choice, used the first
// time a goroutine opens a transaction against p; nested calls ignore the
// argument and reuse the journal already bound.
func RunPinned(p *pool.Pool, alloc pool.Allocator, pinJournals bool, fn Func) (err error) {
	j, nested := journal.Current(p)
	if !nested {
		if addErr := p.Add(); addErr != nil {
			return addErr
		}
		defer p.Done()

		var openErr error
		j, openErr = journal.Open(p, alloc, pinJournals)
		if openErr != nil {
			return openErr
		}
		journal.Bind(p, j)
		defer journal.Unbind(p)
	}

	j.Enter()
	defer j.Leave()

	defer func() {
		if r := recover(); r != nil {
			if tp, ok := r.(taintedPanic); ok {
				if j.Depth() > 1 {
					panic(tp)
				}
				err = failOutermost(p, j, tp.cause)
				return
			}
			if j.Depth() > 1 {
				panic(taintedPanic{cause: r})
			}
			err = failOutermost(p, j, r)
			return
		}
		if err != nil {
			if j.Depth() > 1 {
				err = errors.Extend(ErrUnsuccessfulNested, err)
				panic(taintedPanic{cause: err})
			}
			err = failOutermost(p, j, err)
		}
	}()

	if ferr := fn(j); ferr != nil {
		return ferr
	}

	if j.Depth() == 1 && j.Chaperone() == "" {
		return j.Commit()
	}
	return nil
}

// failOutermost rolls back j and returns the wrapped error Run surfaces
// to the caller of the outermost frame.
func failOutermost(p *pool.Pool, j *journal.Journal, cause interface{}) error {
	if rbErr := j.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback also failed: %v)", ErrUnsuccessful, rbErr)
	}
	return errors.Extend(ErrUnsuccessful, fmt.Errorf("%v", cause))
}
