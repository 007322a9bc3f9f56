// Package projstate is nnd's persisted per-project state (spec.md §6
// "Persisted state: a self-delimited key-value stream with versioning;
// unknown keys preserved on rewrite"): breakpoints (kept by file:line or
// function name, never by raw address, so they survive a rebuild),
// watch expressions, the launch command line, and search history. State
// has no window-layout field; a layout key in the file is kept only as an
// unknown key.
//
// Grounded on go-delve/delve's pkg/config.Config (LoadConfig/SaveConfig:
// open-or-create under $HOME, yaml in, yaml out), generalized to
// round-trip through a yaml.MapSlice rather than a plain struct so a
// newer nnd's extra keys survive being loaded and re-saved by an older
// build, which a plain struct's Unmarshal/Marshal round trip would drop.
package projstate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cosiner/argv"
	"gopkg.in/yaml.v2"
)

const currentVersion = 1

// BreakpointSpec is one persisted breakpoint: exactly one of File/Line or
// Func is set, matching pkg/proc.BreakpointSpec's own shape (spec.md §3
// "Breakpoint").
type BreakpointSpec struct {
	File      string `yaml:"file,omitempty"`
	Line      int    `yaml:"line,omitempty"`
	Func      string `yaml:"func,omitempty"`
	Hardware  bool   `yaml:"hardware,omitempty"`
	Condition string `yaml:"condition,omitempty"`
	// Enabled starts false on load regardless of the saved value: a
	// freshly restarted debuggee has different code at the same
	// file:line until re-verified, so breakpoints come back disabled and
	// the user re-enables them (spec.md's original_source/doc.rs notes
	// this is also the original's own behavior for restored breakpoints).
	Enabled bool `yaml:"enabled"`
}

// State is the typed view of the known keys in a project's state file;
// Raw keeps every key (known or not) in on-disk order so Save can write
// back keys a newer nnd understands but this build doesn't.
type State struct {
	Version       int              `yaml:"version"`
	LaunchArgv    string           `yaml:"launch_argv,omitempty"`
	Breakpoints   []BreakpointSpec `yaml:"breakpoints,omitempty"`
	Watches       []string         `yaml:"watches,omitempty"`
	SearchHistory []string         `yaml:"search_history,omitempty"`

	raw yaml.MapSlice
}

// Path returns the default state file location for project dir cwd:
// $HOME/.nnd/projects/<cwd with every '/' replaced by '_'>/state.yaml, one
// file per project keyed by the literal cwd (no hashing).
func Path(home, cwd string) string {
	return filepath.Join(home, ".nnd", "projects", sanitizeForFilename(cwd), "state.yaml")
}

func sanitizeForFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '/' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

// Load reads and parses path, returning a zero-value State with
// Version=currentVersion if the file does not exist yet (spec.md's
// "defaults filled in for absent fields", SPEC_FULL.md §10).
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{Version: currentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("projstate: reading %s: %w", path, err)
	}

	var raw yaml.MapSlice
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("projstate: parsing %s: %w", path, err)
	}

	st := &State{raw: raw}
	for _, item := range raw {
		key, _ := item.Key.(string)
		switch key {
		case "version":
			st.Version = toInt(item.Value)
		case "launch_argv":
			st.LaunchArgv, _ = item.Value.(string)
		case "breakpoints":
			if err := remarshalInto(item.Value, &st.Breakpoints); err != nil {
				return nil, fmt.Errorf("projstate: decoding breakpoints: %w", err)
			}
			for i := range st.Breakpoints {
				st.Breakpoints[i].Enabled = false
			}
		case "watches":
			if err := remarshalInto(item.Value, &st.Watches); err != nil {
				return nil, fmt.Errorf("projstate: decoding watches: %w", err)
			}
		case "search_history":
			if err := remarshalInto(item.Value, &st.SearchHistory); err != nil {
				return nil, fmt.Errorf("projstate: decoding search_history: %w", err)
			}
		}
	}
	if st.Version == 0 {
		st.Version = currentVersion
	}
	return st, nil
}

// Save rewrites path with st's typed fields merged back into st.raw,
// preserving every key this build of nnd doesn't understand (spec.md §6
// "unknown keys preserved on rewrite") and every key's original position
// for keys that already existed.
func (st *State) Save(path string) error {
	merged := setMapSliceKey(st.raw, "version", st.Version)
	merged = setMapSliceKey(merged, "launch_argv", st.LaunchArgv)
	merged = setMapSliceKey(merged, "breakpoints", st.Breakpoints)
	merged = setMapSliceKey(merged, "watches", st.Watches)
	merged = setMapSliceKey(merged, "search_history", st.SearchHistory)

	out, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("projstate: marshaling: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("projstate: creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("projstate: creating %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("projstate: writing %s: %w", path, err)
	}
	st.raw = merged
	return nil
}

// LaunchArgvTokens tokenizes the persisted launch command line the way a shell
// would (quoting, escapes), spec.md §6's CLI surface reusing the same
// syntax a user would type at a prompt.
func (st *State) LaunchArgvTokens() ([]string, error) {
	if st.LaunchArgv == "" {
		return nil, nil
	}
	sections, err := argv.Argv(st.LaunchArgv, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("projstate: tokenizing launch_argv: %w", err)
	}
	if len(sections) == 0 {
		return nil, nil
	}
	return sections[0], nil
}

func setMapSliceKey(m yaml.MapSlice, key string, value interface{}) yaml.MapSlice {
	for i, item := range m {
		if k, ok := item.Key.(string); ok && k == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, yaml.MapItem{Key: key, Value: value})
}

// remarshalInto round-trips a yaml.MapSlice-decoded interface{} through
// yaml.Marshal/Unmarshal into a concrete typed destination, since the
// generic Unmarshal into yaml.MapSlice leaves nested sequences/maps as
// []interface{}/yaml.MapSlice rather than the typed slices State wants.
func remarshalInto(v interface{}, dst interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, dst)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
