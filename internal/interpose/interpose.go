// Package interpose holds the pure-Go logic behind the LD_PRELOAD shared
// library: reading the environment contract, filtering by event mask,
// generating child UUIDs, and formatting/writing wire lines. The cgo shim
// in cmd/libwisktrack exports C-ABI wrappers around libc entry points and
// calls into this package on every wrapped call; keeping the logic here
// (rather than inline in the cgo file) lets it be unit tested without a
// C compiler, and keeps the cgo file itself a thin, mechanical translation
// layer per spec.md §9's "table of wrapper function pointers" design note.
package interpose

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/puid"
)

// EventMask bits select which op families are emitted (spec.md §6).
const (
	MaskProcess = 1 << iota
	MaskReads
	MaskWrites
	MaskLinks
	MaskChmods
)

const maskAll = MaskProcess | MaskReads | MaskWrites | MaskLinks | MaskChmods

// Writer is the minimal surface State needs from the sink end; satisfied
// by *os.File in production and a buffer/pipe in tests.
type Writer interface {
	Write([]byte) (int, error)
}

// State is one traced process's interposer state: everything needed to
// emit correctly-attributed, correctly-filtered events.
type State struct {
	mtx         sync.Mutex
	wtr         Writer
	uuid        string
	mask        int
	passthrough bool
}

// FromEnviron reads the WISK_TRACKER_* contract from env (os.Environ()
// shape: "KEY=VALUE" entries) and opens the pipe for append-write. Per
// spec.md §4.1 "Init protocol": if the pipe path or UUID is missing, the
// returned State operates in pass-through mode -- every Emit* call becomes
// a no-op, and wrapped calls still forward to the real libc function.
func FromEnviron(environ []string) *State {
	vars := parseEnviron(environ)
	pipePath := vars["WISK_TRACKER_PIPE"]
	uuid := vars["WISK_TRACKER_UUID"]
	if pipePath == `` || uuid == `` {
		return &State{passthrough: true}
	}

	mask := maskAll
	if mv, ok := vars["WISK_TRACKER_EVENTFILTER"]; ok {
		if n, err := strconv.Atoi(mv); err == nil {
			mask = n
		}
	}

	f, err := os.OpenFile(pipePath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		// spec.md §7: "Interposer cannot open pipe: fall silent for that
		// process (pass-through) but do not fail the traced call."
		return &State{passthrough: true}
	}
	return &State{wtr: f, uuid: uuid, mask: mask}
}

// NewDiscard returns a State that drops every event, used when a library
// consumer wants the wrapped-call behavior without a live pipe (tests,
// pass-through fallback).
func NewDiscard() *State { return &State{passthrough: true} }

// UUID returns the current process's tracked identity, or "" in
// pass-through mode.
func (s *State) UUID() string { return s.uuid }

// PassThrough reports whether this State is operating without a sink.
func (s *State) PassThrough() bool { return s.passthrough }

func (s *State) enabled(bit int) bool {
	return !s.passthrough && s.mask&bit != 0
}

// write sends one fully-formed wire line under the per-process mutex
// (spec.md §4.1 "Atomicity"). EPIPE and any other write error are
// discarded silently per spec.md §7 -- the traced call must never fail
// because tracking failed.
func (s *State) write(line string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.wtr == nil {
		return
	}
	fmt.Fprintln(s.wtr, line)
}

func (s *State) emit(op event.Op, payload interface{}) {
	line, err := event.Encode(s.uuid, op, payload)
	if err != nil {
		return
	}
	s.write(line)
}

// EmitCommand, EmitCommandPath, EmitWorkingDirectory, EmitPID, EmitPPID,
// and EmitEnvironment implement the four init-time events plus PID/PPID
// (spec.md §4.1 step 3); each is a no-op in pass-through mode or when the
// "process" family is masked off.
func (s *State) EmitCommand(argv []string) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpCommand, argv)
	}
}

func (s *State) EmitCommandPath(path string) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpCommandPath, path)
	}
}

func (s *State) EmitWorkingDirectory(wd string) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpWorkingDir, wd)
	}
}

func (s *State) EmitPID(pid int) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpPID, pid)
	}
}

func (s *State) EmitPPID(ppid int) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpPPID, ppid)
	}
}

// EmitEnvironment filters WISK_*/LD_PRELOAD entries out before sending,
// mirroring the filtering the tree builder would otherwise have to trust
// the interposer to have already done (belt-and-suspenders with
// internal/tree's own filter).
func (s *State) EmitEnvironment(environ []string) {
	if !s.enabled(MaskProcess) {
		return
	}
	filtered := make([]string, 0, len(environ))
	for _, kv := range environ {
		k := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			k = kv[:idx]
		}
		if strings.HasPrefix(k, "WISK_") || k == "LD_PRELOAD" {
			continue
		}
		filtered = append(filtered, kv)
	}
	s.emit(event.OpEnvironment, filtered)
}

func (s *State) EmitReads(path string) {
	if s.enabled(MaskReads) {
		s.emit(event.OpReads, path)
	}
}

func (s *State) EmitWrites(path string) {
	if s.enabled(MaskWrites) {
		s.emit(event.OpWrites, path)
	}
}

func (s *State) EmitLinks(src, dst string) {
	if s.enabled(MaskLinks) {
		s.emit(event.OpLinks, []string{src, dst})
	}
}

func (s *State) EmitUnlink(path string) {
	if s.enabled(MaskLinks) {
		s.emit(event.OpUnlink, path)
	}
}

func (s *State) EmitChmod(path string) {
	if s.enabled(MaskChmods) {
		s.emit(event.OpChmod, path)
	}
}

func (s *State) EmitComplete(done bool) {
	if s.enabled(MaskProcess) {
		s.emit(event.OpComplete, done)
	}
}

// EmitCalls announces a child spawn on behalf of the current process and
// returns the child's fresh UUID (spec.md §4.1 "Spawn protocol" steps 1-3).
func (s *State) EmitCalls() (childUUID string, err error) {
	childUUID, err = puid.New()
	if err != nil {
		return ``, err
	}
	if s.enabled(MaskProcess) {
		s.emit(event.OpCalls, childUUID)
	}
	return childUUID, nil
}

// ChildEnviron returns environ with WISK_TRACKER_UUID replaced by
// childUUID, leaving LD_PRELOAD and every other entry untouched, so the
// spawned child inherits the same pipe and filter mask under its own
// identity (spec.md §4.1 "Spawn protocol" step 2).
func ChildEnviron(environ []string, childUUID string) []string {
	out := make([]string, len(environ))
	replaced := false
	for i, kv := range environ {
		if strings.HasPrefix(kv, "WISK_TRACKER_UUID=") {
			out[i] = "WISK_TRACKER_UUID=" + childUUID
			replaced = true
		} else {
			out[i] = kv
		}
	}
	if !replaced {
		out = append(out, "WISK_TRACKER_UUID="+childUUID)
	}
	return out
}

func parseEnviron(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			m[kv] = ``
			continue
		}
		m[kv[:idx]] = kv[idx+1:]
	}
	return m
}
