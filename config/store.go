// Package config implements the options store (spec.md C2): a typed,
// validated key/value table loaded from a bespoke "key: value" text file,
// seeded with defaults, and overridable by a named subset of CLI flags.
//
// It is backed by github.com/knadh/koanf the way cmd/andorhttp2 layers its
// own config on koanf: registration seeds defaults into the koanf tree
// through a confmap.Provider, Load overlays the options file through a
// file.Provider paired with the package's own Parser, and every accessor
// reads the validated, typed result back out of the koanf tree itself —
// koanf is the option table, not a write-only decoration beside it. Each
// option additionally carries a Validator, a required flag and a custom
// error message, mirroring drivesystemoptions.Option.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/util"
)

// spec describes one known option: its validator, whether it is required,
// and the message to show if it is required but never set.
type spec struct {
	validate Validator
	required bool
	errMsg   string
	isCLI    bool
}

// Store holds the live option table. The zero value is not usable; build
// one with NewStore.
type Store struct {
	k     *koanf.Koanf
	specs map[string]spec
	order []string
}

// NewStore builds an empty store with no options registered yet. Use
// Register to declare each known option before calling Load.
func NewStore() *Store {
	return &Store{
		k:     koanf.New("."),
		specs: make(map[string]spec),
	}
}

// Register declares a known option: its key, default value, validator,
// and whether it must end up set after Load.
func (s *Store) Register(key string, def interface{}, v Validator, required bool, errMsg string) {
	s.specs[key] = spec{validate: v, required: required, errMsg: errMsg}
	s.order = append(s.order, key)
	s.seed(key, def)
}

// RegisterCLI declares a CLI-only override key (no options-file entry),
// mirroring CMD_LINE_ARG_* in drivesystemoptions.
func (s *Store) RegisterCLI(key string, def interface{}, v Validator) {
	s.specs[key] = spec{validate: v, isCLI: true}
	s.order = append(s.order, key)
	s.seed(key, def)
}

// seed writes a single key's value into the koanf tree. koanf v1 has no
// direct single-key setter, so this loads a one-entry confmap.Provider
// over the existing tree, the same merge koanf would use for any other
// provider. A confmap.Provider reading from an in-memory map cannot fail.
func (s *Store) seed(key string, val interface{}) {
	if err := s.k.Load(confmap.Provider(map[string]interface{}{key: val}, "."), nil); err != nil {
		panic(fmt.Sprintf("config: seed %q: %v", key, err))
	}
}

// Load reads the options file at path, validating every recognised key
// and merging the results over the registered defaults. Unknown keys are
// reported but do not stop loading, matching
// drivesystemoptions.read_options_from_file's print-and-continue policy.
// A missing options file is not an error: the store simply runs on
// defaults. After loading, it enforces that every option marked required
// ended up set, aggregating all violations into a single error.
func (s *Store) Load(path string) ([]string, error) {
	var warnings []string

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat options file %s: %w", path, err)
		}
		if err := s.enforceRequired(); err != nil {
			return warnings, err
		}
		return warnings, nil
	}

	var seen []string
	parser := &lineParser{warnings: &warnings, seen: &seen}
	if err := s.k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: parse options file %s: %w", path, err)
	}

	for _, key := range uniqueKeys(seen) {
		sp, known := s.specs[key]
		if !known {
			warnings = append(warnings, fmt.Sprintf("key %q is unknown, ignoring", key))
			continue
		}
		raw, _ := s.k.Get(key).(string)
		val, verr := sp.validate(raw)
		if verr != nil {
			warnings = append(warnings, fmt.Sprintf("option %q: %v", key, verr))
			continue
		}
		s.seed(key, val)
	}

	if err := s.enforceRequired(); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// uniqueKeys drops repeats from keys, keeping first-occurrence order. A
// key redefined more than once in the options file still ends up with
// just its final value in the koanf tree, so it only needs validating
// once.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func (s *Store) enforceRequired() error {
	var missing []string
	for _, key := range s.order {
		sp := s.specs[key]
		if !sp.required {
			continue
		}
		if s.k.Get(key) == nil {
			missing = append(missing, sp.errMsg)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("config: required options unset:\n   * %s", strings.Join(missing, "\n   * "))
}

// Set applies a single validated override, used for CLI flags that target
// a named subset of keys (SerialPort, OptionsFile, DarkMode,
// MonitorResources, NoGUI).
func (s *Store) Set(key, raw string) error {
	sp, ok := s.specs[key]
	if !ok {
		return fmt.Errorf("config: unknown option %q", key)
	}
	val, err := sp.validate(raw)
	if err != nil {
		return fmt.Errorf("config: option %q: %w", key, err)
	}
	s.seed(key, val)
	return nil
}

// Get returns the raw stored value for key, or nil if unset.
func (s *Store) Get(key string) interface{} {
	return s.k.Get(key)
}

// Float returns key's value as a float64, or 0 if unset/wrong type.
func (s *Store) Float(key string) float64 {
	return s.k.Float64(key)
}

// Int returns key's value as an int, or 0 if unset/wrong type.
func (s *Store) Int(key string) int {
	return s.k.Int(key)
}

// Bool returns key's value as a bool, or false if unset/wrong type.
func (s *Store) Bool(key string) bool {
	return s.k.Bool(key)
}

// String returns key's value as a string, or "" if unset/wrong type.
func (s *Store) String(key string) string {
	return s.k.String(key)
}

// IntSlice returns key's value as a []int, or nil if unset/wrong type.
// Read as the raw tree value rather than through koanf's Ints() cast
// helper: defaults and validated values are stored as native Go []int
// (never the []interface{} shape Ints() is built to coerce from file
// parsers), so a direct type assertion is both simpler and exact.
func (s *Store) IntSlice(key string) []int {
	v, _ := s.k.Get(key).([]int)
	return v
}

// Dump re-serialises the live option table back to "key: value" lines, in
// registration order, mirroring drivesystemoptions.print_options. []int
// values round-trip through IntCSV's comma-separated form rather than
// fmt's "[3 5 6]" bracketed form, and options with no value (unset, or an
// empty list) are written as commented-out "# key :" lines, so a dumped
// file reloads cleanly.
func (s *Store) Dump() string {
	var b strings.Builder
	for _, key := range s.order {
		if s.specs[key].isCLI {
			continue
		}
		val := dumpValue(s.k.Get(key))
		if val == "" {
			fmt.Fprintf(&b, "# %s :\n", key)
			continue
		}
		fmt.Fprintf(&b, "%-35s : %s\n", key, val)
	}
	return b.String()
}

func dumpValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if is, ok := v.([]int); ok {
		return util.IntSliceToCSV(is)
	}
	return fmt.Sprintf("%v", v)
}
