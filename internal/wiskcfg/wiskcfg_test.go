package wiskcfg

import "testing"

func TestDefaultHasFourPatternLists(t *testing.T) {
	cfg := Default()
	if len(cfg.CommandType.BuildtoolPatterns) == 0 {
		t.Fatal("expected non-empty buildtool patterns")
	}
	if len(cfg.CommandType.ShelltoolPatterns) == 0 {
		t.Fatal("expected non-empty shelltool patterns")
	}
	if len(cfg.CommandType.HardtoolPatterns) == 0 {
		t.Fatal("expected non-empty hardtool patterns")
	}
	if len(cfg.CommandType.InterptoolPatterns) == 0 {
		t.Fatal("expected non-empty interptool patterns")
	}
}

func TestLoadBytesOverridesOnlyGivenSection(t *testing.T) {
	raw := []byte("[command_type]\nbuildtool_patterns = ^mycc$\n")
	cfg, err := LoadBytes(raw)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if len(cfg.CommandType.BuildtoolPatterns) != 1 || cfg.CommandType.BuildtoolPatterns[0] != "^mycc$" {
		t.Fatalf("buildtool patterns not overridden: %v", cfg.CommandType.BuildtoolPatterns)
	}
	if len(cfg.Paths.WorkspaceIgnore) == 0 {
		t.Fatal("expected default workspace ignore list to survive a partial override")
	}
}

func TestLoadBytesTooLarge(t *testing.T) {
	big := make([]byte, maxConfigSize+1)
	if _, err := LoadBytes(big); err != ErrConfigFileTooLarge {
		t.Fatalf("expected ErrConfigFileTooLarge, got %v", err)
	}
}
