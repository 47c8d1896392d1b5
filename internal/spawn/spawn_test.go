package spawn

import (
	"context"
	"testing"

	"github.com/sarvi/wisk/internal/wisklog"
)

func TestRunSuccess(t *testing.T) {
	lg := wisklog.NewDiscard()
	r := Run(context.Background(), Options{
		Path: "/bin/true",
		Args: []string{"true"},
	}, lg)
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", r.ExitCode)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	lg := wisklog.NewDiscard()
	r := Run(context.Background(), Options{
		Path: "/bin/false",
		Args: []string{"false"},
	}, lg)
	if r.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", r.ExitCode)
	}
}

func TestRunMissingBinary(t *testing.T) {
	lg := wisklog.NewDiscard()
	r := Run(context.Background(), Options{
		Path: "/no/such/binary-xyz",
		Args: []string{"binary-xyz"},
	}, lg)
	if r.Err == nil {
		t.Fatal("expected an error starting a missing binary")
	}
}
