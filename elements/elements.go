// Package elements implements the logical coordinate layer (spec.md C3):
// a registry mapping named beamline elements — targets on the 2D ladder,
// slits, apertures, beam-blocker heads, beam-monitor positions — to pairs
// of target encoder coordinates, loaded from two small text files and
// validated against a fixed ID grammar.
//
// It is grounded on id_map.IDMap and TargetID: the reserved-ID closed set,
// the duplicate-overwrite warning, and the "unmapped ID resolves to itself"
// fallback all carry over; the encoder-position half is new, since the
// original kept that in a second, separately-loaded dict.
package elements

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Reserved IDs and their documented default labels, mirroring
// id_map.IDMap.ID_LIST / LABEL_LIST.
const (
	HorizontalSlit  = "horz_slit"
	VerticalSlit    = "vert_slit"
	SmallAperture   = "small_aperture"
	LargeAperture   = "large_aperture"
	BeamBlockerSmall  = "bb.small"
	BeamBlockerMedium = "bb.medium"
	BeamBlockerLarge  = "bb.large"
	BeamBlockerClear  = "bb.clear"
	BeamMonitorFaradayCup = "bm.fc"
	BeamMonitorMiddle     = "bm.mid"
	BeamMonitorZeroDegree = "bm.zd"
)

var reservedDefaultLabels = map[string]string{
	SmallAperture:         "3 mm aperture",
	LargeAperture:         "10 mm aperture",
	HorizontalSlit:        "Horizontal slit",
	VerticalSlit:          "Vertical slit",
	BeamBlockerSmall:      "BB: 6 mm",
	BeamBlockerMedium:     "BB: 10 mm",
	BeamBlockerLarge:      "BB: 20 mm",
	BeamBlockerClear:      "No BB",
	BeamMonitorFaradayCup: "Faraday cup",
	BeamMonitorMiddle:     "Middle",
	BeamMonitorZeroDegree: "Zero degree",
}

// reservedOrder fixes iteration/backfill order to match the source list.
var reservedOrder = []string{
	SmallAperture, LargeAperture, HorizontalSlit, VerticalSlit,
	BeamBlockerSmall, BeamBlockerMedium, BeamBlockerLarge, BeamBlockerClear,
	BeamMonitorFaradayCup, BeamMonitorMiddle, BeamMonitorZeroDegree,
}

var ladderIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// IsValidID reports whether id is a well-formed 2D ladder position
// (frame.x.y, all non-negative integers) or a member of the reserved set.
func IsValidID(id string) bool {
	return ladderIDPattern.MatchString(id) || isReserved(id)
}

func isReserved(id string) bool {
	_, ok := reservedDefaultLabels[id]
	return ok
}

// Coord is a pair of target encoder positions for an element.
type Coord struct {
	H, V int
}

// Registry is the immutable-after-load element map: ID to label and to
// encoder coordinates. Build one with Load.
type Registry struct {
	labels map[string]string
	coords map[string]Coord
}

// Label returns id's label, or id itself if unmapped, matching
// IDMap.get_label's dict.get(id, id) fallback.
func (r *Registry) Label(id string) string {
	if l, ok := r.labels[id]; ok {
		return l
	}
	return id
}

// Coord returns id's target encoder coordinates, or (0,0) if unmapped.
func (r *Registry) Coord(id string) Coord {
	if c, ok := r.coords[id]; ok {
		return c
	}
	return Coord{}
}

// Dump lists every resolved ID with its label and coordinates, for
// diagnostics, grounded on IDMap's debug-printing role.
func (r *Registry) Dump() string {
	var b strings.Builder
	for id, label := range r.labels {
		c := r.coords[id]
		fmt.Fprintf(&b, "%-20s %-24s H=%d V=%d\n", id, label, c.H, c.V)
	}
	return b.String()
}

// Load reads the ID-label map at labelPath and the ID-(H,V) map at
// coordPath, producing a fully backfilled, total Registry.
func Load(labelPath, coordPath string) (*Registry, []string, error) {
	r := &Registry{
		labels: make(map[string]string),
		coords: make(map[string]Coord),
	}
	for _, id := range reservedOrder {
		r.coords[id] = Coord{}
	}

	var warnings []string

	lw, err := r.loadLabels(labelPath)
	warnings = append(warnings, lw...)
	if err != nil {
		return nil, warnings, fmt.Errorf("elements: load label map: %w", err)
	}

	cw, err := r.loadCoords(coordPath)
	warnings = append(warnings, cw...)
	if err != nil {
		return nil, warnings, fmt.Errorf("elements: load coordinate map: %w", err)
	}

	for _, id := range reservedOrder {
		if _, ok := r.labels[id]; !ok {
			r.labels[id] = reservedDefaultLabels[id]
		}
	}

	return r, warnings, nil
}

func (r *Registry) loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{fmt.Sprintf("couldn't open label map %s, using defaults", path)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var warnings []string
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) < 2 {
			warnings = append(warnings, fmt.Sprintf("label map line %d ignored, no key-value pair: %q", lineNo, line))
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if !IsValidID(key) {
			warnings = append(warnings, fmt.Sprintf("unrecognised key in label map line %d: %q", lineNo, key))
			continue
		}
		if prev, exists := r.labels[key]; exists {
			warnings = append(warnings, fmt.Sprintf("overwriting previous definition of %q from %q to %q", key, prev, value))
		}
		r.labels[key] = value
	}
	return warnings, sc.Err()
}

func (r *Registry) loadCoords(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{fmt.Sprintf("couldn't open coordinate map %s, using defaults", path)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var warnings []string
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			warnings = append(warnings, fmt.Sprintf("coordinate map line %d ignored, expected 3 fields: %q", lineNo, line))
			continue
		}
		id := fields[0]
		if !IsValidID(id) {
			warnings = append(warnings, fmt.Sprintf("unrecognised key in coordinate map line %d: %q", lineNo, id))
			continue
		}
		h, herr := strconv.Atoi(fields[1])
		v, verr := strconv.Atoi(fields[2])
		if herr != nil || verr != nil {
			warnings = append(warnings, fmt.Sprintf("coordinate map line %d has non-integer field: %q", lineNo, line))
			continue
		}
		r.coords[id] = Coord{H: h, V: v}
	}
	return warnings, sc.Err()
}
