package tree

import "strings"

// MergeChild folds the node named uuid into its parent: operations are
// union-merged (deduplicated per op, parent's insertion order first), a
// compact "argv joined by spaces" descriptor is appended to the parent's
// MergedCommands, and uuid is removed from the tree (spec.md §4.5
// "Merge predicate"). Children are expected to be empty already --
// merging is bottom-up -- any stragglers are reparented to the
// grandparent to preserve acyclicity.
//
// A hardtool merging into its shelltool/hardtool parent is the "dominant
// tool" case (spec.md §8 scenario 4: `sh -c 'cc ...'` survives labeled
// `cc ...`, with `sh` in mergedcommands, not the other way around): the
// parent node survives (its uuid, children and reparenting are unchanged)
// but its displayed identity -- command, command_path, scriptlang -- is
// replaced by the hardtool's, and the parent's own former command is what
// gets appended to mergedcommands instead of the child's. Any other merge
// (an unknown node folding into whatever parent it has) keeps the
// parent's identity and appends the child's command as usual.
func (t *Tree) MergeChild(uuid string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	n, ok := t.nodes[uuid]
	if !ok || n.Parent == `` {
		return
	}
	parent, ok := t.nodes[n.Parent]
	if !ok {
		return
	}

	mergeOperations(parent, n)

	if n.Type == Hardtool && (parent.Type == Hardtool || parent.Type == Shelltool) {
		parent.MergedCommands = append(parent.MergedCommands, strings.Join(parent.Command, " "))
		parent.Command = n.Command
		parent.CommandPath = n.CommandPath
		parent.ScriptLang = n.ScriptLang
		parent.Type = n.Type
	} else {
		parent.MergedCommands = append(parent.MergedCommands, strings.Join(n.Command, " "))
	}
	parent.Children = removeStr(parent.Children, uuid)

	for _, cid := range n.Children {
		if cn, ok := t.nodes[cid]; ok {
			cn.Parent = parent.UUID
		}
		parent.Children = append(parent.Children, cid)
	}

	delete(t.nodes, uuid)
}

// mergeOperations union-merges n's Operations and Links into parent's,
// deduplicated, parent's insertion order first.
func mergeOperations(parent, n *Node) {
	for op, vals := range n.Operations {
		for _, v := range vals {
			if !containsStr(parent.Operations[op], v) {
				parent.Operations[op] = append(parent.Operations[op], v)
			}
		}
	}
	for _, p := range n.Links {
		found := false
		for _, pp := range parent.Links {
			if pp == p {
				found = true
				break
			}
		}
		if !found {
			parent.Links = append(parent.Links, p)
		}
	}
}

func removeStr(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
