package tree

import (
	"reflect"
	"testing"

	"github.com/sarvi/wisk/internal/event"
)

// TestCompactExpandRoundTrip exercises spec.md §4.5's "Environment
// compaction... is reversible" law: compacting every node's environment to
// parent-overrides-only, then expanding each compacted node against its
// (already-expanded) parent, must reproduce the original environment.
func TestCompactExpandRoundTrip(t *testing.T) {
	tr := New(``, nil)
	tr.Apply(mustEvent(t, "ROOT-SUPERVISOR", event.OpCalls, "parent"))
	tr.Apply(mustEvent(t, "parent", event.OpEnvironment, []string{"PATH=/bin", "HOME=/root"}))
	tr.Apply(mustEvent(t, "parent", event.OpCalls, "child"))
	tr.Apply(mustEvent(t, "child", event.OpEnvironment, []string{"PATH=/bin", "HOME=/root", "CFLAGS=-O2"}))

	overrides := tr.CompactEnvironment()
	if len(overrides["child"]) != 1 || overrides["child"]["CFLAGS"] != "-O2" {
		t.Fatalf("expected child's compacted overrides to be just CFLAGS, got %v", overrides["child"])
	}

	expandedParent := ExpandEnvironment(overrides["parent"], nil)
	expandedChild := ExpandEnvironment(overrides["child"], expandedParent)

	if !reflect.DeepEqual(expandedParent, tr.Node("parent").Environment) {
		t.Fatalf("parent round-trip mismatch: got %v want %v", expandedParent, tr.Node("parent").Environment)
	}
	if !reflect.DeepEqual(expandedChild, tr.Node("child").Environment) {
		t.Fatalf("child round-trip mismatch: got %v want %v", expandedChild, tr.Node("child").Environment)
	}
}
