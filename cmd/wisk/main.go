// Command wisk is the dependency-tracker supervisor: it creates the event
// sink, spawns the target command with the interposer preloaded, builds
// the process tree from the decoded event stream, classifies and merges
// it, and writes the run's artifacts (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sarvi/wisk/internal/classify"
	"github.com/sarvi/wisk/internal/emit"
	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/puid"
	"github.com/sarvi/wisk/internal/sink"
	"github.com/sarvi/wisk/internal/spawn"
	"github.com/sarvi/wisk/internal/tree"
	"github.com/sarvi/wisk/internal/wiskcfg"
	"github.com/sarvi/wisk/internal/wisklog"
	"github.com/sarvi/wisk/internal/wiskversion"
)

// Exit codes per spec.md §6: target's own code, or these for the
// supervisor itself.
const (
	exitUserError     = 1
	exitInternalError = 2
)

// repeatedFlag backs --environ and --verbose, which accumulate rather than
// overwrite (gravwell's ingesters bump a package-level log level the same
// way for repeated -v).
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

type verboseFlag int

func (v *verboseFlag) String() string { return fmt.Sprintf("%d", int(*v)) }
func (v *verboseFlag) Set(string) error {
	*v++
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	supArgs, targetArgv := partialParse(argv)

	fs := flag.NewFlagSet("wisk", flag.ContinueOnError)
	wsroot := fs.String("wsroot", ``, "workspace root; paths under it are emitted workspace-relative")
	trackfile := fs.String("trackfile", "wisk", "base name for .raw/.dep/.cmds/.insight artifacts")
	cfgPath := fs.String("config", ``, "sectioned configuration file (see internal/wiskcfg)")
	clean := fs.Bool("clean", false, "remove any existing artifacts for --trackfile before running")
	show := fs.Bool("show", false, "print the merged top-level-command tree to stdout after the run")
	extract := fs.String("extract", ``, "comma-separated uuid list to restrict .cmds to (plus ancestors)")
	filter := fs.String("filter", ``, "comma-separated event families to trace: process,reads,writes,links,chmods")
	var environ repeatedFlag
	fs.Var(&environ, "environ", "environment variable to forward into the target's environment (repeatable)")
	trace := fs.Bool("trace", false, "alias for --verbose=5, for parity with wisktrack.py's --trace")
	var verbose verboseFlag
	fs.Var(&verbose, "verbose", "increase supervisor log verbosity (repeatable)")
	version := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(supArgs); err != nil {
		return exitUserError
	}
	if *version {
		wiskversion.Print(os.Stdout)
		return 0
	}
	if len(targetArgv) == 0 {
		fmt.Fprintln(os.Stderr, "wisk: no target command given after ---")
		return exitUserError
	}

	lvl := wisklog.FromVerbosity(int(verbose))
	if *trace {
		lvl = wisklog.DEBUG
	}
	lg := wisklog.NewDiscard()
	if dbg, _ := wisklog.OpenDebugLog(os.Getenv("WISK_TRACKER_DEBUGLOG"), os.Getenv("WISK_TRACKER_DEBUGLOG_FD")); dbg != nil {
		lg = wisklog.New(dbg)
	}
	lg.SetLevel(lvl)
	if lvl >= wisklog.INFO {
		wisklog.PrintOSInfo(os.Stdout)
	}

	cfg := wiskcfg.Default()
	if *cfgPath != `` {
		loaded, err := wiskcfg.LoadFile(*cfgPath)
		if err != nil {
			lg.Error("failed to load config", wisklog.KV("path", *cfgPath), wisklog.KVErr(err))
			return exitUserError
		}
		cfg = loaded
	}

	paths := emit.ForBase(*trackfile)
	if *clean {
		for _, p := range []string{paths.Raw, paths.Dep, paths.Cmds, paths.Insight} {
			os.Remove(p)
		}
	}

	s, err := sink.Create(pipePathFor(*trackfile))
	if err != nil {
		lg.Error("failed to create event sink", wisklog.KVErr(err))
		return exitInternalError
	}
	defer s.Close()

	rawW, err := emit.NewRawWriter(paths.Raw)
	if err != nil {
		lg.Error("failed to open raw artifact", wisklog.KVErr(err))
		return exitInternalError
	}
	defer rawW.Close()

	t := tree.New(*wsroot, cfg.Paths.WorkspaceIgnore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		lg.Warn("SIGINT received, draining pipe best-effort")
		cancel()
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readEvents(s, t, rawW, lg)
	}()

	rootUUID := puid.Root
	env := buildTargetEnv(pipePathFor(*trackfile), rootUUID, int(verbose), *filter, environ)

	execPath, execArgv := targetArgv[0], targetArgv
	result := spawn.Run(ctx, spawn.Options{
		Path:   resolveTargetPath(execPath),
		Args:   execArgv,
		Env:    env,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, lg)

	// Closing the reader's side of the FIFO requires every writer (the
	// target and its whole process tree) to have exited and closed their
	// fds first; spawn.Run already waited for the root, so draining now
	// sees end-of-stream once the last descendant's fd closes.
	<-readerDone

	rules, err := classify.Compile(cfg)
	if err != nil {
		lg.Error("failed to compile classification rules", wisklog.KVErr(err))
		return exitInternalError
	}
	c := classify.New(rules)
	insights := c.Classify(t)

	// .dep is the cleaned full tree: classified but not yet merged, so the
	// pre-merge dependency graph survives even though .cmds goes on to
	// collapse it (spec.md §6). Writing it here, before Merge mutates t in
	// place, is what makes the §8 round-trip law -- re-parsing a .raw
	// rebuilds the same .dep -- hold.
	if err := emit.WriteDep(paths.Dep, t); err != nil {
		lg.Error("failed to write .dep", wisklog.KVErr(err))
	}

	var extractUUIDs []string
	if *extract != `` {
		extractUUIDs = t.Closure(strings.Split(*extract, ",")...)
	}

	c.Merge(t)

	if err := emit.WriteCmds(paths.Cmds, t, cfg.Output.Filterfields, extractUUIDs); err != nil {
		lg.Error("failed to write .cmds", wisklog.KVErr(err))
	}
	if err := emit.WriteInsight(paths.Insight, insights); err != nil {
		lg.Error("failed to write insight file", wisklog.KVErr(err))
	}

	if *show {
		printTree(t)
	}

	if result.Err != nil && result.ExitCode == 0 {
		return exitInternalError
	}
	return result.ExitCode
}

// partialParse scans argv for the first bare "---" token the way
// wisktrack.py's partialparse does: everything before it belongs to the
// supervisor's own flag.FlagSet, everything after is the traced command
// verbatim, including flags that would otherwise confuse `flag`.
func partialParse(argv []string) (supArgs, targetArgv []string) {
	for i, a := range argv {
		if a == "---" {
			return argv[:i], argv[i+1:]
		}
	}
	return argv, nil
}

func pipePathFor(base string) string {
	return base + ".pipe"
}

// buildTargetEnv assembles the environment for the target process: its own
// inherited environment (only the variables named by --environ when any
// are given, every variable otherwise), plus the WISK_TRACKER_* contract
// (spec.md §6) and LD_PRELOAD/LD_LIBRARY_PATH pointing at the interposer. LD_PRELOAD resolution is left to the
// installed library location (WISK_INTERPOSER_PATH) rather than hardcoded,
// since the 32/64-bit variants (spec.md §9) live wherever the packaging
// step placed them.
func buildTargetEnv(pipePath, rootUUID string, verbosity int, filter string, environ repeatedFlag) []string {
	base := os.Environ()
	mask := maskFromFilter(filter)

	env := make([]string, 0, len(base)+8)
	for _, kv := range base {
		k := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			k = kv[:idx]
		}
		if len(environ) > 0 && !containsStr(environ, k) {
			continue
		}
		env = append(env, kv)
	}

	env = append(env,
		"WISK_TRACKER_PIPE="+pipePath,
		"WISK_TRACKER_UUID="+rootUUID,
		fmt.Sprintf("WISK_TRACKER_DEBUGLEVEL=%d", verbosity),
		fmt.Sprintf("WISK_TRACKER_EVENTFILTER=%d", mask),
	)
	if interposer := os.Getenv("WISK_INTERPOSER_PATH"); interposer != `` {
		env = append(env, "LD_PRELOAD="+interposer)
		env = append(env, "LD_LIBRARY_PATH="+filepath.Dir(interposer))
	}
	return env
}

func maskFromFilter(filter string) int {
	if filter == `` {
		return 1 | 2 | 4 | 8 | 16
	}
	mask := 0
	for _, f := range strings.Split(filter, ",") {
		switch strings.TrimSpace(f) {
		case "process":
			mask |= 1
		case "reads":
			mask |= 2
		case "writes":
			mask |= 4
		case "links":
			mask |= 8
		case "chmods":
			mask |= 16
		}
	}
	return mask
}

func containsStr(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func resolveTargetPath(cmd string) string {
	if strings.Contains(cmd, "/") {
		return cmd
	}
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		cand := filepath.Join(dir, cmd)
		if fi, err := os.Stat(cand); err == nil && !fi.IsDir() {
			return cand
		}
	}
	return cmd
}

// readEvents drains the sink, decoding and applying events to t until the
// pipe reaches end-of-stream (every writer closed), per spec.md §5's
// completion signal. Malformed lines are logged and skipped rather than
// aborting the run (spec.md §7).
func readEvents(s *sink.Sink, t *tree.Tree, rawW *emit.RawWriter, lg *wisklog.Logger) {
	r, err := s.OpenReader()
	if err != nil {
		lg.Error("failed to open sink for reading", wisklog.KVErr(err))
		return
	}
	dec := event.NewDecoder(r)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return
		}
		if _, ok := err.(event.ErrMalformed); ok {
			lg.Warn("skipping malformed event line", wisklog.KVErr(err))
			continue
		}
		if err != nil {
			lg.Error("event decode error", wisklog.KVErr(err))
			continue
		}
		rawW.WriteLine(ev.UUID + " " + string(ev.Op) + " " + string(ev.Payload))
		if err := t.Apply(ev); err != nil {
			lg.Warn("failed to apply event", wisklog.KV("op", string(ev.Op)), wisklog.KVErr(err))
		}
	}
}

func printTree(t *tree.Tree) {
	for uuid, n := range t.All() {
		fmt.Printf("%s\t%s\t%s\n", uuid, n.Type, strings.Join(n.Command, " "))
	}
}
