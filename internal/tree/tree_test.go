package tree

import (
	"encoding/json"
	"testing"

	"github.com/sarvi/wisk/internal/event"
)

func mustEvent(t *testing.T, uuid string, op event.Op, payload interface{}) event.Event {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return event.Event{UUID: uuid, Op: op, Payload: b}
}

func TestCallsCreatesChildAndLinksParent(t *testing.T) {
	tr := New(``, nil)
	if err := tr.Apply(mustEvent(t, "root1", event.OpCalls, "child1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	root := tr.Node("root1")
	child := tr.Node("child1")
	if root == nil || child == nil {
		t.Fatal("expected both nodes to exist")
	}
	if child.Parent != "root1" {
		t.Fatalf("expected child parent root1, got %q", child.Parent)
	}
	if len(root.Children) != 1 || root.Children[0] != "child1" {
		t.Fatalf("expected root to list child1, got %v", root.Children)
	}
}

func TestWritesDedupAndWorkspaceRelative(t *testing.T) {
	tr := New("/tmp/run", nil)
	if err := tr.Apply(mustEvent(t, "p1", event.OpWrites, "/tmp/run/file1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := tr.Apply(mustEvent(t, "p1", event.OpWrites, "/tmp/run/file1")); err != nil {
		t.Fatalf("apply dup: %v", err)
	}
	n := tr.Node("p1")
	got := n.Operations[event.OpWrites]
	if len(got) != 1 || got[0] != "file1" {
		t.Fatalf("expected single workspace-relative entry %q, got %v", "file1", got)
	}
}

func TestLinksPair(t *testing.T) {
	tr := New(``, nil)
	if err := tr.Apply(mustEvent(t, "p1", event.OpLinks, []string{"src", "dst"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	n := tr.Node("p1")
	if len(n.Links) != 1 || n.Links[0] != [2]string{"src", "dst"} {
		t.Fatalf("expected one [src dst] LINKS pair, got %v", n.Links)
	}
}

func TestLinksPairDedup(t *testing.T) {
	tr := New(``, nil)
	tr.Apply(mustEvent(t, "p1", event.OpLinks, []string{"src", "dst"}))
	tr.Apply(mustEvent(t, "p1", event.OpLinks, []string{"src", "dst"}))
	n := tr.Node("p1")
	if len(n.Links) != 1 {
		t.Fatalf("expected duplicate LINKS pair to be deduped, got %v", n.Links)
	}
}

func TestEnvironmentFiltersTrackerVars(t *testing.T) {
	tr := New(``, nil)
	env := []string{"WISK_TRACKER_UUID=abc", "LD_PRELOAD=/lib/interpose.so", "PATH=/bin", "FOO=bar"}
	if err := tr.Apply(mustEvent(t, "p1", event.OpEnvironment, env)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	n := tr.Node("p1")
	if _, ok := n.Environment["WISK_TRACKER_UUID"]; ok {
		t.Fatal("expected WISK_ vars to be filtered")
	}
	if _, ok := n.Environment["LD_PRELOAD"]; ok {
		t.Fatal("expected LD_PRELOAD to be filtered")
	}
	if n.Environment["FOO"] != "bar" {
		t.Fatalf("expected FOO=bar to survive, got %v", n.Environment)
	}
}

func TestCompleteMarksNode(t *testing.T) {
	tr := New(``, nil)
	if err := tr.Apply(mustEvent(t, "p1", event.OpComplete, true)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !tr.Node("p1").Complete {
		t.Fatal("expected node marked complete")
	}
}

func TestClosureIncludesAncestors(t *testing.T) {
	tr := New(``, nil)
	tr.Apply(mustEvent(t, "ROOT", event.OpCalls, "a"))
	tr.Apply(mustEvent(t, "a", event.OpCalls, "b"))
	tr.Apply(mustEvent(t, "b", event.OpCalls, "c"))

	closure := tr.Closure("c")
	want := map[string]bool{"ROOT": true, "a": true, "b": true, "c": true}
	if len(closure) != len(want) {
		t.Fatalf("expected %d ancestors, got %v", len(want), closure)
	}
	for _, u := range closure {
		if !want[u] {
			t.Fatalf("unexpected uuid in closure: %s", u)
		}
	}
}

func TestIgnoreGlobExcludesPath(t *testing.T) {
	tr := New("/ws", []string{"**/.git/**"})
	if err := tr.Apply(mustEvent(t, "p1", event.OpWrites, "/ws/.git/HEAD")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	n := tr.Node("p1")
	if len(n.Operations[event.OpWrites]) != 0 {
		t.Fatalf("expected ignored path to be dropped, got %v", n.Operations[event.OpWrites])
	}
}
