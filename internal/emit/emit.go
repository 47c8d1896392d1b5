// Package emit writes the on-disk artifacts a supervisor run produces
// (spec.md §6): the verbatim raw stream, the cleaned full tree, the merged
// top-level-command tree, and the insight diagnostics file. Structured
// artifacts are written atomically the same way the teacher's state file
// helper does it -- github.com/dchest/safefile's write-to-temp-then-commit
// -- so a crash mid-write never leaves a half-written .dep/.cmds behind.
package emit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dchest/safefile"
	"github.com/google/renameio"
	"github.com/sarvi/wisk/internal/classify"
	"github.com/sarvi/wisk/internal/tree"
)

const defaultPerm = 0644

// Paths derives the four artifact paths from a run's trackfile base name.
type Paths struct {
	Raw     string
	Dep     string
	Cmds    string
	Insight string
}

// ForBase returns the standard artifact paths for a trackfile base name.
func ForBase(base string) Paths {
	return Paths{
		Raw:     base + ".raw",
		Dep:     base + ".dep",
		Cmds:    base + ".cmds",
		Insight: base + ".insight",
	}
}

// RawWriter appends verbatim wire lines to the .raw artifact as they are
// read off the sink, so a run interrupted mid-stream still leaves a usable
// partial capture (spec.md §5 "Cancellation").
type RawWriter struct {
	f *os.File
	w *bufio.Writer
}

func NewRawWriter(path string) (*RawWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultPerm)
	if err != nil {
		return nil, err
	}
	return &RawWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (rw *RawWriter) WriteLine(line string) error {
	if _, err := rw.w.WriteString(line); err != nil {
		return err
	}
	return rw.w.WriteByte('\n')
}

func (rw *RawWriter) Close() error {
	if err := rw.w.Flush(); err != nil {
		rw.f.Close()
		return err
	}
	return rw.f.Close()
}

// writeJSONAtomic marshals v and commits it to path via safefile, mirroring
// utils.State.Write: write to a sibling temp file, then atomically rename
// over the destination, cleaning up the temp file on any failure.
func writeJSONAtomic(path string, v interface{}) (err error) {
	var fout *safefile.File
	if fout, err = safefile.Create(path, defaultPerm); err != nil {
		return
	}
	enc := json.NewEncoder(fout)
	enc.SetIndent(``, `  `)
	if err = enc.Encode(v); err != nil {
		fout.File.Close()
		os.Remove(fout.Name())
		return
	}
	if err = fout.Commit(); err != nil {
		fout.File.Close()
		os.Remove(fout.Name())
	}
	return
}

// depDoc is the on-disk shape of .dep / .cmds: a flat map of uuid -> node
// so re-parsing doesn't depend on traversal order.
type depDoc struct {
	Nodes map[string]json.RawMessage `json:"nodes"`
}

// compactedNodes renders every node with its environment compacted to
// parent-overrides-only (spec.md §4.5), the form both .dep and .cmds use.
func compactedNodes(t *tree.Tree) (map[string]json.RawMessage, error) {
	nodes := t.All()
	overrides := t.CompactEnvironment()
	out := make(map[string]json.RawMessage, len(nodes))
	for uuid, n := range nodes {
		b, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		var full map[string]interface{}
		if err := json.Unmarshal(b, &full); err != nil {
			return nil, err
		}
		env := make([]string, 0, len(overrides[uuid]))
		for k, v := range overrides[uuid] {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		full["environment"] = env
		rb, err := json.Marshal(full)
		if err != nil {
			return nil, err
		}
		out[uuid] = rb
	}
	return out, nil
}

// WriteDep writes the cleaned full tree (spec.md: "all fields, nodes keyed
// by UUID, environment compacted").
func WriteDep(path string, t *tree.Tree) error {
	nodes, err := compactedNodes(t)
	if err != nil {
		return err
	}
	return writeJSONAtomic(path, depDoc{Nodes: nodes})
}

// WriteCmds writes the merged top-level-command tree. filterfields, when
// non-empty, restricts emitted node fields to that allow-list (SPEC_FULL.md
// §6's [output] filterfields). scope, when non-empty, restricts emitted
// nodes to that uuid set -- the supervisor's --extract flag passes the
// ancestor-closure of the requested uuids (spec.md §6); a nil/empty scope
// emits every node, same as no --extract.
func WriteCmds(path string, t *tree.Tree, filterfields, scope []string) error {
	compacted, err := compactedNodes(t)
	if err != nil {
		return err
	}
	if len(scope) > 0 {
		allowed := make(map[string]bool, len(scope))
		for _, u := range scope {
			allowed[u] = true
		}
		for uuid := range compacted {
			if !allowed[uuid] {
				delete(compacted, uuid)
			}
		}
	}
	if len(filterfields) == 0 {
		return writeJSONAtomic(path, depDoc{Nodes: compacted})
	}
	filtered := make(map[string]map[string]interface{}, len(compacted))
	allow := make(map[string]bool, len(filterfields))
	for _, f := range filterfields {
		allow[f] = true
	}
	for uuid, raw := range compacted {
		var full map[string]interface{}
		if err := json.Unmarshal(raw, &full); err != nil {
			return err
		}
		trimmed := make(map[string]interface{}, len(allow))
		for k, v := range full {
			if allow[k] {
				trimmed[k] = v
			}
		}
		filtered[uuid] = trimmed
	}
	return writeJSONAtomic(path, filtered)
}

// WriteInsight writes one line per diagnostic, sorted for determinism. Like
// the .dep/.cmds writers this replaces the file in one atomic rename rather
// than truncating in place, so a reader polling the trackfile never sees a
// half-written insight list.
func WriteInsight(path string, insights []classify.Insight) error {
	sort.Slice(insights, func(i, j int) bool { return insights[i].UUID < insights[j].UUID })
	var buf bytes.Buffer
	for _, in := range insights {
		fmt.Fprintf(&buf, "%s\t%s\t%s\n", in.UUID, in.Command, in.Reason)
	}
	return renameio.WriteFile(path, buf.Bytes(), defaultPerm)
}
