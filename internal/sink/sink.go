// Package sink manages the named pipe ("Event Sink", spec.md §4.2) that
// every traced process's interposer writes to, plus the adjacent lock file
// that keeps two supervisor runs from colliding on the same trackfile base.
// FIFO handling follows the same stale-path-then-Mkfifo shape used by
// container runtimes for their exec fifo; the lock file adds
// github.com/gofrs/flock around the trackfile base so a second `wisk`
// invocation against the same --trackfile fails fast instead of
// interleaving two raw streams.
package sink

import (
	"errors"
	"os"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Create when another process already
// holds the trackfile lock.
var ErrAlreadyRunning = errors.New("sink: another wisk run holds this trackfile")

// Sink owns the FIFO path and the run lock for one supervisor invocation.
type Sink struct {
	Path string
	lock *flock.Flock
	file *os.File
}

// Create unlinks any stale FIFO at path, creates a fresh one, and takes an
// exclusive, non-blocking lock on path+".lock" so a second concurrent run
// against the same trackfile is rejected rather than silently corrupting
// the stream (spec.md §7: "Pipe not created / path stale").
func Create(path string) (*Sink, error) {
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		lk.Unlock()
		return nil, err
	}
	oldMask := syscall.Umask(0o000)
	err = syscall.Mkfifo(path, 0o622)
	syscall.Umask(oldMask)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	return &Sink{Path: path, lock: lk}, nil
}

// OpenReader opens the FIFO for reading. It opens O_RDWR rather than the
// more obvious O_RDONLY: a pure reader open blocks until some writer opens
// the other end, and if the target never ends up with LD_PRELOAD pointed
// at the interposer (spec.md §7's "pipe not created" hazard, generalized
// to "no writer ever shows up"), that block never ends, deadlocking the
// whole run. Holding the FIFO open for both read and write, as our own
// implicit writer, means the read end never blocks waiting for a writer
// and never sees a premature end-of-stream if the traced process's own
// writers open and close faster than the supervisor gets around to
// reading. The supervisor itself never writes to it. cmd/wisk calls this
// from its own reader goroutine, apart from the target process launcher,
// so this call can never block the launch (spec.md §5).
func (s *Sink) OpenReader() (*os.File, error) {
	f, err := os.OpenFile(s.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	s.file = f
	return f, nil
}

// Close closes the reader end (if opened), removes the FIFO, and releases
// the run lock. Safe to call once at the end of a run.
func (s *Sink) Close() error {
	var err error
	if s.file != nil {
		err = s.file.Close()
	}
	if rmErr := os.Remove(s.Path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if s.lock != nil {
		if uErr := s.lock.Unlock(); uErr != nil && err == nil {
			err = uErr
		}
	}
	return err
}
