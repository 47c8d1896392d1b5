// Package spawn launches the traced target command under the interposer
// and waits for it to finish. It reuses the teacher's process-supervision
// shape (manager/process.go: exec.Cmd with a dedicated process group,
// SIGINT-then-SIGKILL-with-timeout teardown) but drops the restart/backoff
// loop entirely -- wisk runs one target command to completion and reports
// its exit status, it never respawns a crashed build.
package spawn

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sarvi/wisk/internal/wisklog"
)

// killTimeout mirrors the teacher's grace period between SIGINT and the
// SIGKILL that follows if the target command refuses to die.
var killTimeout = 10 * time.Second

// Options configures a single traced invocation.
type Options struct {
	Path   string   // absolute or PATH-resolved binary
	Args   []string // argv, including argv[0]
	Dir    string   // working directory, empty for the supervisor's own cwd
	Env    []string // full environment, including the WISK_TRACKER_* vars
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Result reports how the traced command finished.
type Result struct {
	ExitCode int
	Err      error
}

// Run starts the target command in its own process group, forwards the
// terminal, and waits for it to exit or for ctx to be cancelled. A context
// cancellation escalates SIGINT then SIGKILL exactly as the teacher's
// requestKill does.
func Run(ctx context.Context, opt Options, lg *wisklog.Logger) Result {
	cmd := &exec.Cmd{
		Path:   opt.Path,
		Args:   opt.Args,
		Dir:    opt.Dir,
		Env:    opt.Env,
		Stdin:  opt.Stdin,
		Stdout: opt.Stdout,
		Stderr: opt.Stderr,
		SysProcAttr: &syscall.SysProcAttr{
			Setpgid: true,
		},
	}

	lg.Info("starting traced command", wisklog.KV("path", opt.Path), wisklog.KV("args", opt.Args))

	exitCh := make(chan Result, 1)
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Err: err}
	}

	go func() {
		var r Result
		if err := cmd.Wait(); err != nil {
			r.Err = err
			if exitErr, ok := err.(*exec.ExitError); ok {
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					r.ExitCode = status.ExitStatus()
				}
			}
		}
		exitCh <- r
	}()

	select {
	case r := <-exitCh:
		lg.Info("traced command exited", wisklog.KV("code", r.ExitCode), wisklog.KVErr(r.Err))
		return r
	case <-ctx.Done():
		lg.Warn("context cancelled, stopping traced command", wisklog.KVErr(ctx.Err()))
		err := requestKill(cmd, exitCh)
		return Result{ExitCode: -1, Err: err}
	}
}

// requestKill signals SIGINT and waits up to killTimeout before escalating
// to SIGKILL, the same two-step teardown the teacher's process manager
// uses when stopping a supervised daemon.
func requestKill(cmd *exec.Cmd, exitCh chan Result) error {
	if cmd.Process == nil {
		return errors.New("spawn: process not started")
	}
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		return err
	}

	timeout := time.After(killTimeout)
	select {
	case <-timeout:
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-exitCh
		return errors.New("spawn: timed out waiting for SIGINT, killed")
	case r := <-exitCh:
		return r.Err
	}
}
