package emit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sarvi/wisk/internal/classify"
	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/tree"
)

func TestWriteDepProducesValidJSON(t *testing.T) {
	tr := tree.New(``, nil)
	b, _ := json.Marshal("child1")
	if err := tr.Apply(event.Event{UUID: "ROOT-SUPERVISOR", Op: event.OpCalls, Payload: b}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "run.dep")
	if err := WriteDep(path, tr); err != nil {
		t.Fatalf("WriteDep: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc depDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := doc.Nodes["child1"]; !ok {
		t.Fatalf("expected child1 in .dep output, got %v", doc.Nodes)
	}
}

func TestWriteCmdsFiltersFields(t *testing.T) {
	tr := tree.New(``, nil)
	b, _ := json.Marshal("child1")
	tr.Apply(event.Event{UUID: "ROOT-SUPERVISOR", Op: event.OpCalls, Payload: b})

	dir := t.TempDir()
	path := filepath.Join(dir, "run.cmds")
	if err := WriteCmds(path, tr, []string{"command"}, nil); err != nil {
		t.Fatalf("WriteCmds: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	node, ok := doc["child1"]
	if !ok {
		t.Fatalf("expected child1 entry, got %v", doc)
	}
	if _, ok := node["pid"]; ok {
		t.Fatalf("expected pid field to be filtered out, got %v", node)
	}
}

func TestWriteInsightLinesSorted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.insight")
	insights := []classify.Insight{
		{UUID: "z1", Command: "mystery", Reason: "unclassified"},
		{UUID: "a1", Command: "other", Reason: "incomplete"},
	}
	if err := WriteInsight(path, insights); err != nil {
		t.Fatalf("WriteInsight: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "a1\tother\tincomplete\nz1\tmystery\tunclassified\n"
	if string(raw) != want {
		t.Fatalf("unexpected insight contents:\n%s\nwant:\n%s", raw, want)
	}
}
