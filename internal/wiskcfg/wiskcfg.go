// Package wiskcfg loads the tracker's sectioned configuration file. The
// file format and loader follow the teacher's config package
// (LoadConfigFile/LoadConfigBytes over github.com/gravwell/gcfg) nearly
// verbatim; only the section/field layout changed, from ingest targets and
// cache knobs to tool-classification pattern lists.
package wiskcfg

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/gravwell/gcfg"
)

// maxConfigSize mirrors the teacher's guard against a runaway config read;
// a command-type pattern list has no legitimate reason to approach it.
const maxConfigSize int64 = 4 * 1024 * 1024

var (
	ErrConfigFileTooLarge = errors.New("wiskcfg: config file is too large")
	ErrFailedFileRead      = errors.New("wiskcfg: failed to read entire config file")
)

// CommandType holds the four classifier pattern lists, one regex per word
// in each space-separated gcfg value (spec.md §4.5, SPEC_FULL.md §6).
type CommandType struct {
	BuildtoolPatterns  []string `gcfg:"buildtool_patterns"`
	ShelltoolPatterns  []string `gcfg:"shelltool_patterns"`
	HardtoolPatterns   []string `gcfg:"hardtool_patterns"`
	InterptoolPatterns []string `gcfg:"interptool_patterns"`
}

// Paths holds workspace-relative glob patterns excluded from tracked
// operations entirely (bmatcuk/doublestar matching, see internal/tree).
type Paths struct {
	WorkspaceIgnore []string `gcfg:"workspace_ignore"`
}

// Output controls what the emitter writes into generated artifacts.
type Output struct {
	Filterfields []string
}

// Config is the root of the sectioned configuration file.
type Config struct {
	CommandType CommandType `gcfg:"command_type"`
	Paths       Paths
	Output      Output
}

// Default returns the built-in classification rules used when no
// --config file is given, matching the example in SPEC_FULL.md §6.
func Default() *Config {
	return &Config{
		CommandType: CommandType{
			BuildtoolPatterns:  []string{`^cc$`, `^gcc$`, `^clang$`, `^ld$`, `^ar$`},
			ShelltoolPatterns:  []string{`^/bin/sh$`, `^/bin/bash$`, `^/usr/bin/env$`},
			HardtoolPatterns:   []string{`^cc1$`, `^as$`, `^objcopy$`},
			InterptoolPatterns: []string{`^python[0-9.]*$`, `^perl$`, `^/usr/bin/env$\s+(\S+)`},
		},
		Paths: Paths{
			WorkspaceIgnore: []string{`**/.git/**`, `**/node_modules/**`},
		},
		Output: Output{
			Filterfields: []string{`command`, `command_path`, `operations`, `mergedcommands`, `children`},
		},
	}
}

// LoadFile opens, size-checks, and parses p, the same three-step shape as
// the teacher's config.LoadConfigFile.
func LoadFile(p string) (*Config, error) {
	fin, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}

	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return nil, err
	}
	if n != fi.Size() {
		return nil, ErrFailedFileRead
	}
	return LoadBytes(bb.Bytes())
}

// LoadBytes parses the sectioned config in b. gcfg appends to slice fields
// rather than replacing them (the teacher's own config/loader.go relies on
// the same reflect.AppendSlice behavior), so defaults can't be pre-seeded
// before parsing -- a file overriding buildtool_patterns would end up with
// the defaults plus the override instead of just the override. Parsing
// into a blank Config first and filling in defaults afterward, one list at
// a time, is the only way a file can actually replace a list the built-ins
// populate.
func LoadBytes(b []byte) (*Config, error) {
	if int64(len(b)) > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	cfg := &Config{}
	if err := gcfg.ReadStringInto(cfg, string(b)); err != nil {
		return nil, err
	}
	for _, l := range []*[]string{
		&cfg.CommandType.BuildtoolPatterns, &cfg.CommandType.ShelltoolPatterns,
		&cfg.CommandType.HardtoolPatterns, &cfg.CommandType.InterptoolPatterns,
	} {
		var words []string
		for _, v := range *l {
			words = append(words, strings.Fields(v)...)
		}
		*l = words
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in any pattern or path list the file left empty with
// Default()'s built-in for that list; a list the file supplied even one
// entry for is left exactly as parsed.
func applyDefaults(cfg *Config) {
	def := Default()
	if len(cfg.CommandType.BuildtoolPatterns) == 0 {
		cfg.CommandType.BuildtoolPatterns = def.CommandType.BuildtoolPatterns
	}
	if len(cfg.CommandType.ShelltoolPatterns) == 0 {
		cfg.CommandType.ShelltoolPatterns = def.CommandType.ShelltoolPatterns
	}
	if len(cfg.CommandType.HardtoolPatterns) == 0 {
		cfg.CommandType.HardtoolPatterns = def.CommandType.HardtoolPatterns
	}
	if len(cfg.CommandType.InterptoolPatterns) == 0 {
		cfg.CommandType.InterptoolPatterns = def.CommandType.InterptoolPatterns
	}
	if len(cfg.Paths.WorkspaceIgnore) == 0 {
		cfg.Paths.WorkspaceIgnore = def.Paths.WorkspaceIgnore
	}
	if len(cfg.Output.Filterfields) == 0 {
		cfg.Output.Filterfields = def.Output.Filterfields
	}
}
