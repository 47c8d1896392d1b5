package classify

import (
	"github.com/sarvi/wisk/internal/puid"
	"github.com/sarvi/wisk/internal/tree"
)

// Merge repeatedly folds mergeable nodes into their parents until no
// further merge applies (spec.md §4.5 "Termination": iterate post-order to
// a fixed point). Re-snapshots the node map each pass since MergeChild
// mutates it.
func (c *Classifier) Merge(t *tree.Tree) {
	for {
		nodes := t.All()
		candidate := c.findMergeable(nodes)
		if candidate == `` {
			return
		}
		t.MergeChild(candidate)
	}
}

// findMergeable returns one uuid satisfying the merge predicate, or "" if
// none remain. Order among multiple candidates does not affect the final
// fixed point since merge only ever touches leaf nodes.
func (c *Classifier) findMergeable(nodes map[string]*tree.Node) string {
	for uuid, n := range nodes {
		if uuid == puid.Root || n.Parent == `` {
			continue
		}
		parent, ok := nodes[n.Parent]
		if !ok || parent.Parent == `` {
			continue // parent is the root: top-level tools are preserved
		}
		if len(liveChildren(n, nodes)) != 0 {
			continue // merge is bottom-up; wait for children to merge first
		}
		if n.Type == tree.Unknown {
			return uuid
		}
		if n.Type == tree.Hardtool && (parent.Type == tree.Hardtool || parent.Type == tree.Shelltool) {
			return uuid
		}
	}
	return ``
}

func liveChildren(n *tree.Node, nodes map[string]*tree.Node) []string {
	var out []string
	for _, c := range n.Children {
		if _, ok := nodes[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
