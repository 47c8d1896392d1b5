package classify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/tree"
	"github.com/sarvi/wisk/internal/wiskcfg"
)

func ev(t *testing.T, uuid string, op event.Op, payload interface{}) event.Event {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return event.Event{UUID: uuid, Op: op, Payload: b}
}

func buildShAndCCTree(t *testing.T) (*tree.Tree, *Rules) {
	tr := tree.New(``, nil)
	events := []event.Event{
		ev(t, "ROOT-SUPERVISOR", event.OpCalls, "sh1"),
		ev(t, "sh1", event.OpCommand, []string{"/bin/sh", "-c", "cc -c a.c -o a.o"}),
		ev(t, "sh1", event.OpCommandPath, "/bin/sh"),
		ev(t, "sh1", event.OpComplete, true),
		ev(t, "sh1", event.OpCalls, "cc1"),
		ev(t, "cc1", event.OpCommand, []string{"cc", "-c", "a.c", "-o", "a.o"}),
		ev(t, "cc1", event.OpCommandPath, "/usr/bin/cc"),
		ev(t, "cc1", event.OpWrites, "a.o"),
		ev(t, "cc1", event.OpReads, "a.c"),
		ev(t, "cc1", event.OpComplete, true),
	}
	for _, e := range events {
		if err := tr.Apply(e); err != nil {
			t.Fatalf("apply %+v: %v", e, err)
		}
	}
	rules, err := Compile(&wiskcfg.Config{CommandType: wiskcfg.CommandType{
		ShelltoolPatterns: []string{`^/bin/sh$`},
		HardtoolPatterns:  []string{`^/usr/bin/cc$`},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return tr, rules
}

func TestClassifyAssignsTypes(t *testing.T) {
	tr, rules := buildShAndCCTree(t)
	c := New(rules)
	c.Classify(tr)

	// sh1 matches the shelltool list, but its only child is a hardtool, so
	// inheritance promotes it to hardtool within the same Classify pass.
	if tr.Node("sh1").Type != tree.Hardtool {
		t.Fatalf("expected sh1 promoted to hardtool, got %v", tr.Node("sh1").Type)
	}
	if tr.Node("cc1").Type != tree.Hardtool {
		t.Fatalf("expected cc1 hardtool, got %v", tr.Node("cc1").Type)
	}
}

func TestMergeFoldsHardtoolIntoShelltool(t *testing.T) {
	tr, rules := buildShAndCCTree(t)
	c := New(rules)
	c.Classify(tr)
	c.Merge(tr)

	if tr.Node("cc1") != nil {
		t.Fatal("expected cc1 to be merged away")
	}
	sh := tr.Node("sh1")
	if sh == nil {
		t.Fatal("expected sh1's uuid to survive merge (parent is root)")
	}
	// The surviving node keeps sh1's uuid but is relabeled with the
	// dominant hardtool's identity: the top-level command is "cc ...",
	// with "sh" pushed into mergedcommands instead.
	if got := strings.Join(sh.Command, " "); got != "cc -c a.c -o a.o" {
		t.Fatalf("expected survivor command to be cc's, got %q", got)
	}
	if sh.Type != tree.Hardtool {
		t.Fatalf("expected survivor type hardtool, got %v", sh.Type)
	}
	if len(sh.MergedCommands) != 1 || sh.MergedCommands[0] != "/bin/sh -c cc -c a.c -o a.o" {
		t.Fatalf("expected sh's own command in mergedcommands, got %v", sh.MergedCommands)
	}
	if got := sh.Operations[event.OpWrites]; len(got) != 1 || got[0] != "a.o" {
		t.Fatalf("expected cc1's write to survive on sh1, got %v", got)
	}
}

func TestUnknownNodeProducesInsight(t *testing.T) {
	tr := tree.New(``, nil)
	tr.Apply(ev(t, "ROOT-SUPERVISOR", event.OpCalls, "mystery"))
	tr.Apply(ev(t, "mystery", event.OpCommand, []string{"totally-unrecognized-tool"}))
	tr.Apply(ev(t, "mystery", event.OpComplete, true))

	rules, err := Compile(wiskcfg.Default())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	c := New(rules)
	insights := c.Classify(tr)
	if len(insights) != 1 || insights[0].UUID != "mystery" {
		t.Fatalf("expected one insight for mystery, got %v", insights)
	}
}
