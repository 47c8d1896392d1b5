// Package tree maintains the causal process tree the supervisor builds
// from the decoded event stream (spec.md §3, §4.4). Nodes are created
// lazily on first mention and mutated by a single reader goroutine, so no
// internal locking beyond what callers need for concurrent inspection
// while a run is still in flight (the CLI's --show path reads a finished
// tree only).
package tree

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/puid"
)

// CommandType is the classifier's verdict for a node (internal/classify
// fills this in once a node is complete; Tree only stores it).
type CommandType string

const (
	Unknown   CommandType = "unknown"
	Buildtool CommandType = "buildtool"
	Shelltool CommandType = "shelltool"
	Hardtool  CommandType = "hardtool"
	Interptool CommandType = "interptool"
)

// Node is one process in the tree, keyed by its UUID (spec.md §3).
type Node struct {
	UUID        string
	Parent      string // empty for the root
	Children    []string
	MergedCommands []string

	PID, PPID int

	WorkingDir  string
	Command     []string // argv
	CommandPath string   // resolved absolute path
	ScriptLang  string   // interpreter prefix, e.g. "python"

	Environment map[string]string

	Operations map[event.Op][]string
	// Links holds LINKS entries as the [source, target] pairs spec.md §4.3
	// defines for that op; the generic map[event.Op][]string Operations
	// can only hold single-string entries per op, so pairs get their own
	// field and are merged into the "LINKS" key at marshal time.
	Links [][2]string

	Complete bool
	Type     CommandType

	envSeen bool // set once ENVIRONMENT has triggered command-path resolution
}

// Tree owns the node map for one supervisor run.
type Tree struct {
	mtx   sync.Mutex
	nodes map[string]*Node
	root  *Node

	// WorkspaceRoot is the directory absolute paths are rewritten relative
	// to (spec.md §3 invariant); empty disables rewriting.
	WorkspaceRoot string
	// IgnoreGlobs excludes matching workspace-relative paths from
	// operations entirely (SPEC_FULL.md §6 [paths] workspace_ignore).
	IgnoreGlobs []string

	// PathResolver resolves argv[0] to an absolute executable path; see
	// resolve.go. Exposed as a field so tests can stub it.
	PathResolver func(n *Node) (path, scriptlang string)
}

// New creates an empty tree with its fixed root sentinel already present.
func New(wsroot string, ignore []string) *Tree {
	t := &Tree{
		nodes:         make(map[string]*Node),
		WorkspaceRoot: wsroot,
		IgnoreGlobs:   ignore,
	}
	t.PathResolver = ResolveCommandPath
	root := &Node{UUID: puid.Root, Operations: make(map[event.Op][]string), Environment: make(map[string]string), Complete: true, Type: Unknown}
	t.nodes[puid.Root] = root
	t.root = root
	return t
}

// getOrCreate returns the node for uuid, creating it (and wiring its
// Operations/Environment maps) on first mention, per spec.md §4.4/§5.
func (t *Tree) getOrCreate(uuid string) *Node {
	n, ok := t.nodes[uuid]
	if !ok {
		n = &Node{
			UUID:        uuid,
			Operations:  make(map[event.Op][]string),
			Environment: make(map[string]string),
			Type:        Unknown,
		}
		t.nodes[uuid] = n
	}
	return n
}

// Node returns a snapshot pointer for uuid, or nil.
func (t *Tree) Node(uuid string) *Node {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.nodes[uuid]
}

// Root returns the fixed sentinel root node.
func (t *Tree) Root() *Node { return t.root }

// Len returns the number of nodes currently tracked.
func (t *Tree) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.nodes)
}

// All returns every node, for emission/classification passes that need to
// walk the whole map.
func (t *Tree) All() map[string]*Node {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make(map[string]*Node, len(t.nodes))
	for k, v := range t.nodes {
		out[k] = v
	}
	return out
}

// Apply folds one decoded event into the tree (spec.md §4.4). Unknown ops
// are ignored rather than rejected; the codec passes through whatever op
// name a line carries without checking it against the fixed set.
func (t *Tree) Apply(ev event.Event) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	switch ev.Op {
	case event.OpCalls:
		child, err := event.DecodeString(ev.Payload)
		if err != nil {
			return err
		}
		cn := t.getOrCreate(child)
		cn.Parent = ev.UUID
		pn := t.getOrCreate(ev.UUID)
		if !containsStr(pn.Children, child) {
			pn.Children = append(pn.Children, child)
		}

	case event.OpCommand:
		argv, err := event.DecodeStringArray(ev.Payload)
		if err != nil {
			return err
		}
		t.getOrCreate(ev.UUID).Command = argv

	case event.OpCommandPath:
		p, err := event.DecodeString(ev.Payload)
		if err != nil {
			return err
		}
		t.getOrCreate(ev.UUID).CommandPath = p

	case event.OpWorkingDir:
		p, err := event.DecodeString(ev.Payload)
		if err != nil {
			return err
		}
		t.getOrCreate(ev.UUID).WorkingDir = p

	case event.OpPID:
		n, err := event.DecodeInt(ev.Payload)
		if err != nil {
			return err
		}
		t.getOrCreate(ev.UUID).PID = n

	case event.OpPPID:
		n, err := event.DecodeInt(ev.Payload)
		if err != nil {
			return err
		}
		t.getOrCreate(ev.UUID).PPID = n

	case event.OpEnvironment:
		kvs, err := event.DecodeStringArray(ev.Payload)
		if err != nil {
			return err
		}
		node := t.getOrCreate(ev.UUID)
		for _, kv := range kvs {
			k, v := splitKV(kv)
			if isTrackerVar(k) {
				continue
			}
			node.Environment[k] = v
		}
		node.envSeen = true
		if t.PathResolver != nil {
			path, lang := t.PathResolver(node)
			if path != `` {
				node.CommandPath = path
			}
			node.ScriptLang = lang
		}

	case event.OpReads, event.OpWrites, event.OpUnlink, event.OpChmod:
		p, err := event.DecodeString(ev.Payload)
		if err != nil {
			return err
		}
		t.appendOp(ev.UUID, ev.Op, t.normalize(p))

	case event.OpLinks:
		pair, err := event.DecodeStringArray(ev.Payload)
		if err != nil {
			return err
		}
		if len(pair) != 2 {
			return nil
		}
		t.appendLink(ev.UUID, pair[0], pair[1])

	case event.OpComplete:
		done, err := event.DecodeBool(ev.Payload)
		if err != nil {
			return err
		}
		node := t.getOrCreate(ev.UUID)
		node.Complete = done
		if done {
			t.propagateCompleteToExecedAncestors(node)
		}
	}
	return nil
}

// propagateCompleteToExecedAncestors marks ancestors complete when they
// share the same pid/ppid as node, the signature of an exec-without-fork
// chain where the OS process never actually forked (spec.md §4.4).
func (t *Tree) propagateCompleteToExecedAncestors(node *Node) {
	cur := node
	for cur.Parent != `` {
		p, ok := t.nodes[cur.Parent]
		if !ok {
			return
		}
		if p.PID == node.PID && p.PPID == node.PPID {
			p.Complete = true
			cur = p
			continue
		}
		return
	}
}

func (t *Tree) appendOp(uuid string, op event.Op, val string) {
	if val == `` {
		return
	}
	if t.ignored(val) {
		return
	}
	n := t.getOrCreate(uuid)
	if !containsStr(n.Operations[op], val) {
		n.Operations[op] = append(n.Operations[op], val)
	}
}

// appendLink stores a LINKS pair (spec.md §4.3: `["source","target"]`),
// normalized/workspace-rewritten the same way a single-path op is, deduped
// by exact pair match, insertion order preserved.
func (t *Tree) appendLink(uuid, src, dst string) {
	nsrc, ndst := t.normalize(src), t.normalize(dst)
	if t.ignored(nsrc) || t.ignored(ndst) {
		return
	}
	n := t.getOrCreate(uuid)
	pair := [2]string{nsrc, ndst}
	for _, p := range n.Links {
		if p == pair {
			return
		}
	}
	n.Links = append(n.Links, pair)
}

// normalize cleans p and, when it falls under WorkspaceRoot, rewrites it
// relative to that root (spec.md §3 invariant: never contains ".." after
// normalization, absolute or workspace-relative).
func (t *Tree) normalize(p string) string {
	if p == `` {
		return p
	}
	clean := filepath.Clean(p)
	if t.WorkspaceRoot == `` {
		return clean
	}
	rel, err := filepath.Rel(t.WorkspaceRoot, clean)
	if err != nil || strings.HasPrefix(rel, "..") {
		return clean
	}
	return rel
}

// ignored reports whether a workspace-relative path matches one of the
// configured ignore globs (SPEC_FULL.md §6).
func (t *Tree) ignored(p string) bool {
	for _, g := range t.IgnoreGlobs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

func containsStr(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func splitKV(kv string) (k, v string) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return kv, ``
	}
	return kv[:idx], kv[idx+1:]
}

func isTrackerVar(k string) bool {
	return strings.HasPrefix(k, "WISK_") || k == "LD_PRELOAD"
}

// MarshalEnvironment renders a node's environment as sorted "KEY=VALUE"
// entries, the shape artifacts store it in.
func (n *Node) MarshalEnvironment() []string {
	out := make([]string, 0, len(n.Environment))
	for k, v := range n.Environment {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON gives Node a stable on-disk shape independent of the
// in-memory field layout, used by internal/emit for .dep/.cmds output.
func (n *Node) MarshalJSON() ([]byte, error) {
	type alias struct {
		UUID           string              `json:"uuid"`
		Parent         string              `json:"parent,omitempty"`
		Children       []string            `json:"children,omitempty"`
		MergedCommands []string            `json:"mergedcommands,omitempty"`
		PID            int                 `json:"pid"`
		PPID           int                 `json:"ppid"`
		WorkingDir     string              `json:"working_directory,omitempty"`
		Command        []string            `json:"command,omitempty"`
		CommandPath    string              `json:"command_path,omitempty"`
		ScriptLang     string              `json:"scriptlang,omitempty"`
		Environment    []string            `json:"environment,omitempty"`
		Operations     map[string]interface{} `json:"operations,omitempty"`
		Complete       bool                `json:"complete"`
		Type           CommandType         `json:"command_type"`
	}
	ops := make(map[string]interface{}, len(n.Operations)+1)
	for k, v := range n.Operations {
		ops[string(k)] = v
	}
	if len(n.Links) > 0 {
		links := make([][2]string, len(n.Links))
		copy(links, n.Links)
		ops[string(event.OpLinks)] = links
	}
	return json.Marshal(alias{
		UUID: n.UUID, Parent: n.Parent, Children: n.Children, MergedCommands: n.MergedCommands,
		PID: n.PID, PPID: n.PPID, WorkingDir: n.WorkingDir, Command: n.Command,
		CommandPath: n.CommandPath, ScriptLang: n.ScriptLang, Environment: n.MarshalEnvironment(),
		Operations: ops, Complete: n.Complete, Type: n.Type,
	})
}

// Closure returns the ancestor-closure of the given UUIDs: every named
// UUID plus every ancestor up to (and including) the root, used by the
// supervisor's --extract flag and by the "incomplete ancestor set" repair
// in spec.md §7.
func (t *Tree) Closure(uuids ...string) []string {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	seen := make(map[string]bool)
	for _, u := range uuids {
		cur := u
		for cur != `` && !seen[cur] {
			seen[cur] = true
			n, ok := t.nodes[cur]
			if !ok {
				break
			}
			cur = n.Parent
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	return out
}
