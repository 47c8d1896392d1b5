package interpose

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func newTestState(t *testing.T, mask int) (*State, *bufio.Reader) {
	t.Helper()
	buf := &bytes.Buffer{}
	s := &State{wtr: buf, uuid: "p1", mask: mask}
	return s, bufio.NewReader(buf)
}

func TestPassThroughEmitsNothing(t *testing.T) {
	s := FromEnviron([]string{"PATH=/bin"})
	if !s.PassThrough() {
		t.Fatal("expected pass-through when WISK_TRACKER_PIPE/UUID are absent")
	}
	s.EmitReads("/tmp/x") // must not panic
}

func TestEmitReadsRespectsMask(t *testing.T) {
	s, r := newTestState(t, MaskWrites) // reads disabled
	s.EmitReads("/tmp/x")
	if line, _ := r.ReadString('\n'); line != `` {
		t.Fatalf("expected no output with reads masked off, got %q", line)
	}
}

func TestEmitWritesProducesWireLine(t *testing.T) {
	s, r := newTestState(t, maskAll)
	s.EmitWrites("/tmp/out")
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if !strings.HasPrefix(line, "p1 WRITES ") {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestEmitEnvironmentFiltersTrackerVars(t *testing.T) {
	s, r := newTestState(t, maskAll)
	s.EmitEnvironment([]string{"WISK_TRACKER_UUID=x", "LD_PRELOAD=/lib/a.so", "FOO=bar"})
	line, _ := r.ReadString('\n')
	if strings.Contains(line, "WISK_") || strings.Contains(line, "LD_PRELOAD") {
		t.Fatalf("expected tracker vars filtered, got %q", line)
	}
	if !strings.Contains(line, "FOO=bar") {
		t.Fatalf("expected FOO=bar to survive, got %q", line)
	}
}

func TestChildEnvironReplacesUUID(t *testing.T) {
	env := []string{"WISK_TRACKER_UUID=parent", "LD_PRELOAD=/lib/a.so"}
	out := ChildEnviron(env, "child1")
	found := false
	for _, kv := range out {
		if kv == "WISK_TRACKER_UUID=child1" {
			found = true
		}
		if kv == "LD_PRELOAD=/lib/a.so" {
			continue
		}
	}
	if !found {
		t.Fatalf("expected child UUID substitution, got %v", out)
	}
}

func TestClassifyOpenFlags(t *testing.T) {
	cases := []struct {
		flags int
		write bool
	}{
		{0, false},           // O_RDONLY
		{oWronly, true},      // O_WRONLY
		{oRdwr, true},        // O_RDWR
		{oCreat, true},       // O_RDONLY|O_CREAT
		{oTrunc, true},       // O_RDONLY|O_TRUNC
	}
	for _, c := range cases {
		if got := ClassifyOpenFlags(c.flags); got != c.write {
			t.Errorf("flags=%#x: got write=%v, want %v", c.flags, got, c.write)
		}
	}
}

func TestClassifyFopenMode(t *testing.T) {
	cases := []struct {
		mode  string
		write bool
	}{
		{"r", false},
		{"rb", false},
		{"w", true},
		{"wb", true},
		{"a", true},
		{"ab", true},
		{"r+", true},
		{"w+", true},
		{"a+b", true},
		{"rx", false},
	}
	for _, c := range cases {
		if got := ClassifyFopenMode(c.mode); got != c.write {
			t.Errorf("mode=%q: got write=%v, want %v", c.mode, got, c.write)
		}
	}
}
