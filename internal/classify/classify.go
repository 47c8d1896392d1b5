// Package classify implements the tool-classification and bottom-up merge
// pass described in spec.md §4.5: each complete node is matched against
// four configured regex lists, then trivial nodes are folded into their
// enclosing "interesting" parent until the tree reaches a fixed point.
package classify

import (
	"regexp"
	"sort"

	"github.com/sarvi/wisk/internal/puid"
	"github.com/sarvi/wisk/internal/tree"
	"github.com/sarvi/wisk/internal/wiskcfg"
)

// Rules holds the compiled regex lists a Classifier matches against.
type Rules struct {
	Buildtool  []*regexp.Regexp
	Shelltool  []*regexp.Regexp
	Hardtool   []*regexp.Regexp
	Interptool []*regexp.Regexp
}

// Compile builds a Rules set from a loaded configuration's pattern lists.
func Compile(cfg *wiskcfg.Config) (*Rules, error) {
	r := &Rules{}
	var err error
	if r.Buildtool, err = compileAll(cfg.CommandType.BuildtoolPatterns); err != nil {
		return nil, err
	}
	if r.Shelltool, err = compileAll(cfg.CommandType.ShelltoolPatterns); err != nil {
		return nil, err
	}
	if r.Hardtool, err = compileAll(cfg.CommandType.HardtoolPatterns); err != nil {
		return nil, err
	}
	if r.Interptool, err = compileAll(cfg.CommandType.InterptoolPatterns); err != nil {
		return nil, err
	}
	return r, nil
}

func compileAll(pats []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(pats))
	for _, p := range pats {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Insight is one diagnostic line for an unclassified or incomplete node,
// written to the insight file by internal/emit.
type Insight struct {
	UUID    string
	Command string
	Reason  string
}

// Classifier applies Rules to a tree's nodes and performs the merge pass.
type Classifier struct {
	Rules *Rules
}

func New(r *Rules) *Classifier { return &Classifier{Rules: r} }

// effectiveCommand is the command string classification matches against:
// the resolved command path if known, else argv[0].
func effectiveCommand(n *tree.Node) string {
	if n.CommandPath != `` {
		return n.CommandPath
	}
	if len(n.Command) > 0 {
		return n.Command[0]
	}
	return ``
}

func firstMatch(cmd string, lists map[tree.CommandType][]*regexp.Regexp, order []tree.CommandType) tree.CommandType {
	for _, class := range order {
		for _, re := range lists[class] {
			if re.MatchString(cmd) {
				return class
			}
		}
	}
	return tree.Unknown
}

// classOrder fixes the first-match-wins precedence; spec.md does not
// mandate an order among the four lists themselves (only that the first
// *matching* regex wins), so buildtool is checked first as the
// highest-value signal, then the narrower hardtool/shelltool/interptool
// lists.
var classOrder = []tree.CommandType{tree.Buildtool, tree.Hardtool, tree.Shelltool, tree.Interptool}

// Classify assigns Type to every complete node and returns the Insight
// lines for unclassified or incomplete nodes (spec.md §4.5, §7).
func (c *Classifier) Classify(t *tree.Tree) []Insight {
	nodes := t.All()
	lists := map[tree.CommandType][]*regexp.Regexp{
		tree.Buildtool:  c.Rules.Buildtool,
		tree.Hardtool:   c.Rules.Hardtool,
		tree.Shelltool:  c.Rules.Shelltool,
		tree.Interptool: c.Rules.Interptool,
	}

	var insights []Insight
	for uuid, n := range nodes {
		if uuid == puid.Root {
			continue
		}
		if !n.Complete {
			n.Type = tree.Unknown
			insights = append(insights, Insight{UUID: uuid, Command: effectiveCommand(n), Reason: "incomplete: no COMPLETE observed"})
			continue
		}
		n.Type = firstMatch(effectiveCommand(n), lists, classOrder)
		if n.Type == tree.Unknown {
			insights = append(insights, Insight{UUID: uuid, Command: effectiveCommand(n), Reason: "unclassified command"})
		}
	}

	c.applyInheritance(nodes)
	sort.Slice(insights, func(i, j int) bool { return insights[i].UUID < insights[j].UUID })
	return insights
}

// applyInheritance promotes a shelltool whose children are uniformly
// hardtool (or a buildtool whose children are uniformly hardtool) per
// spec.md §4.5's "Inheritance" rule. Runs bottom-up over a topological
// pass so a grandparent sees already-promoted children.
func (c *Classifier) applyInheritance(nodes map[string]*tree.Node) {
	order := postOrder(nodes)
	for _, uuid := range order {
		n := nodes[uuid]
		if n.Type != tree.Shelltool && n.Type != tree.Buildtool {
			continue
		}
		if len(n.Children) == 0 {
			continue
		}
		allHardtool := true
		for _, cid := range n.Children {
			cn, ok := nodes[cid]
			if !ok || cn.Type != tree.Hardtool {
				allHardtool = false
				break
			}
		}
		if allHardtool {
			n.Type = tree.Hardtool
		}
	}
}

// postOrder returns every uuid in nodes ordered so children precede their
// parents, computed by a DFS started from each node in map order and
// skipping nodes already visited.
func postOrder(nodes map[string]*tree.Node) []string {
	visited := make(map[string]bool)
	var out []string
	var visit func(string)
	visit = func(uuid string) {
		if visited[uuid] {
			return
		}
		visited[uuid] = true
		n, ok := nodes[uuid]
		if !ok {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
		out = append(out, uuid)
	}
	for uuid := range nodes {
		visit(uuid)
	}
	return out
}
