package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateRejectsSecondRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.fifo")

	s1, err := Create(path)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	defer s1.Close()

	if fi, err := os.Lstat(path); err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
		t.Fatalf("expected a FIFO at %s: fi=%v err=%v", path, fi, err)
	}

	if _, err := Create(path); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestCloseRemovesFIFOAndLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.fifo")

	s, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Fatalf("expected FIFO to be removed, lstat err=%v", err)
	}

	// A fresh Create against the same path should succeed now that the
	// lock has been released.
	s2, err := Create(path)
	if err != nil {
		t.Fatalf("Create after Close: %v", err)
	}
	s2.Close()
}
