package tree

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
)

// interpreterPatterns is seeded from DefaultInterpreterPatterns, so argv[0]
// resolution never needs a nil check, and is replaced only through
// SetInterpreterPatterns. Neither internal/classify nor cmd/wisk calls
// SetInterpreterPatterns, so a run resolves with the built-in patterns and
// not with the configuration's interptool_patterns.
var interpreterPatterns = DefaultInterpreterPatterns()

// DefaultInterpreterPatterns returns the built-in capture-group patterns
// used to peel an interpreter prefix off argv[0] (spec.md §4.4:
// "/usr/bin/env python" style invocations).
func DefaultInterpreterPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`^/usr/bin/env\s+(\S+)`),
		regexp.MustCompile(`^python[0-9.]*$`),
		regexp.MustCompile(`^perl$`),
	}
}

// SetInterpreterPatterns installs pats for use during command-path
// resolution; an empty pats leaves the current patterns in place.
func SetInterpreterPatterns(pats []*regexp.Regexp) {
	if len(pats) > 0 {
		interpreterPatterns = pats
	}
}

// ResolveCommandPath implements spec.md §4.4's command-path resolution:
// resolve argv[0] to an absolute path using the node's PATH (falling back
// to the supervisor process's own PATH when the node has none; the parent
// node's PATH is not consulted) and working directory, peeling off an
// interpreter prefix first if argv[0] matches one of the interpreter
// patterns. A pattern's capture group, when it has one, becomes scriptlang;
// otherwise argv[0] itself does.
func ResolveCommandPath(n *Node) (path, scriptlang string) {
	if len(n.Command) == 0 {
		return ``, ``
	}
	argv0 := n.Command[0]
	effective := argv0

	for _, pat := range interpreterPatterns {
		m := pat.FindStringSubmatch(argv0)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != `` {
			scriptlang = m[1]
			if len(n.Command) > 1 {
				effective = n.Command[1]
			}
		} else {
			scriptlang = argv0
			if len(n.Command) > 1 {
				effective = n.Command[1]
			}
		}
		break
	}

	path = lookPath(effective, n.WorkingDir, n.Environment["PATH"])
	return
}

// lookPath resolves cmd to an absolute path: if it already contains a
// separator it is resolved relative to dir, otherwise every directory in
// pathEnv (falling back to the current process's PATH) is searched, the
// same precedence exec.LookPath uses but with an explicit PATH override
// since the traced process's PATH may differ from the supervisor's own.
func lookPath(cmd, dir, pathEnv string) string {
	if cmd == `` {
		return ``
	}
	if filepath.IsAbs(cmd) {
		return filepath.Clean(cmd)
	}
	if containsSeparator(cmd) {
		if dir == `` {
			dir, _ = os.Getwd()
		}
		return filepath.Clean(filepath.Join(dir, cmd))
	}
	if pathEnv == `` {
		pathEnv = os.Getenv("PATH")
	}
	for _, p := range filepath.SplitList(pathEnv) {
		if p == `` {
			p = "."
		}
		cand := filepath.Join(p, cmd)
		if fi, err := os.Stat(cand); err == nil && !fi.IsDir() && isExecutable(fi.Mode()) {
			return cand
		}
	}
	// Fall back to exec.LookPath against the supervisor's own PATH so a
	// resolution failure still yields its best guess rather than empty.
	if p, err := exec.LookPath(cmd); err == nil {
		return p
	}
	return cmd
}

func isExecutable(mode os.FileMode) bool {
	return mode&0111 != 0
}

func containsSeparator(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}
