// Package chaperone implements cross-pool two-phase commit: a small
// file-backed session records a single durable decision (commit or abort)
// that every participating pool's journal frame fast-forwards to, so a
// crash partway through committing several pools at once cannot leave one
// pool committed and another rolled back.
package chaperone

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
)

const (
	sessionMagic = 0x43485052 // "CHPR"

	decisionPending = 0
	decisionCommit  = 1
	decisionAbort   = 2
)

// ErrMissingSession names the case of a journal whose chaperone session
// file can no longer be found. ReadDecision does not return it; it reports
// found=false instead, which package recovery treats as an abort.
var ErrMissingSession = errors.New("missing chaperone session file")

// session is the on-disk record of a single cross-pool transaction's
// decision. Its entire durable footprint is nine bytes: a magic word and
// one decision byte, written once at decide time and fsynced before any
// participant pool is told to commit.
type session struct {
	path string
	file *os.File
}

func newSession(path string) (*session, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 9)
	putUint32(buf[0:4], sessionMagic)
	buf[8] = decisionPending
	if _, err := file.WriteAt(buf, 0); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, err
	}
	return &session{path: path, file: file}, nil
}

// decide durably records commit (true) or abort (false) as the session's
// final decision. Once this returns successfully, every participant must
// honor it, even across a crash and restart.
func (s *session) decide(commit bool) error {
	b := byte(decisionAbort)
	if commit {
		b = decisionCommit
	}
	if _, err := s.file.WriteAt([]byte{b}, 8); err != nil {
		return err
	}
	return s.file.Sync()
}

// clear removes the session file once every participant has honored the
// decision; a session file left behind after decide only matters to
// recovery if the process crashes before clear runs.
func (s *session) clear() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

// readDecision reads a session file's decision without opening it for
// writing, used by the recovery package to resolve a journal whose
// chaperone name points at a file that still exists.
func readDecision(path string) (commit bool, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	if len(data) < 9 {
		return false, true, errors.New("truncated chaperone session file")
	}
	switch data[8] {
	case decisionCommit:
		return true, true, nil
	case decisionAbort, decisionPending:
		return false, true, nil
	}
	return false, true, nil
}

// ReadDecision reports the durable decision recorded in the session file
// at path: commit is true only if the session reached decisionCommit
// before the process crashed. found is false if the file does not exist at
// all, the case package recovery treats identically to an abort.
func ReadDecision(path string) (commit bool, found bool, err error) {
	return readDecision(path)
}

// SessionPath returns a fresh chaperone session file path inside dir. The
// suffix comes from fastrand rather than a counter so that two overlapping
// TransactionAcross calls against the same dir never race on the same name.
func SessionPath(dir string) string {
	var suffix [16]byte
	fastrand.Read(suffix[:])
	return filepath.Join(dir, fmt.Sprintf("chaperone-%x.session", suffix))
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
