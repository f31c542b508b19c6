package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// lineParser implements koanf.Parser for the bespoke options-file format:
// one "key: value" pair per line, '#' starts a comment (inline or whole
// line), blank lines ignored, exactly one colon required per option line.
// koanf ships parsers for yaml/json/toml/dotenv but none for this format,
// so this one is written the same way a teacher would add a custom
// provider rather than bend the file to an existing parser.
//
// warnings and seen, when non-nil, are filled in during Unmarshal: koanf's
// Parser interface has no room to report per-line diagnostics or the order
// keys were found in, and Store.Load needs both to validate every
// discovered key against its own specs after koanf has loaded the file.
type lineParser struct {
	warnings *[]string
	seen     *[]string
}

// Parser returns the koanf.Parser for the options-file format.
func Parser() *lineParser { return &lineParser{} }

// Unmarshal turns raw options-file bytes into a flat string-keyed map of
// raw string values. Malformed lines are reported through p.warnings
// rather than failing the whole load, matching
// drivesystemoptions.read_options_from_file's print-and-continue behaviour.
func (p *lineParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	err := forEachOption(b, func(key, value string, lineNo int, lerr error) {
		if lerr != nil {
			if p.warnings != nil {
				*p.warnings = append(*p.warnings, lerr.Error())
			}
			return
		}
		out[key] = value
		if p.seen != nil {
			*p.seen = append(*p.seen, key)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal re-serialises a flat map back to "key: value" lines, used by
// Store.Dump.
func (p *lineParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for k, v := range m {
		fmt.Fprintf(&buf, "%s: %v\n", k, v)
	}
	return buf.Bytes(), nil
}

// optionLineError describes one malformed line encountered while parsing
// an options file.
type optionLineError struct {
	Line   int
	Text   string
	Reason string
}

func (e optionLineError) Error() string {
	return fmt.Sprintf("line %d: %s -> %q", e.Line, e.Reason, e.Text)
}

// forEachOption walks an options file's lines, calling fn for every well
// formed key/value pair and for every malformed line (key=="" on error).
func forEachOption(b []byte, fn func(key, value string, lineNo int, err error)) error {
	sc := bufio.NewScanner(bytes.NewReader(b))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Count(line, ":") != 1 {
			fn("", "", lineNo, optionLineError{lineNo, line, "does not contain a valid option"})
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			fn("", "", lineNo, optionLineError{lineNo, line, "does not contain a valid key"})
			continue
		}
		if idx := strings.Index(value, "#"); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		if value == "" {
			fn("", "", lineNo, optionLineError{lineNo, line, "does not contain a valid value"})
			continue
		}
		fn(key, value, lineNo, nil)
	}
	return sc.Err()
}
