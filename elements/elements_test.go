package elements

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestIsValidID(t *testing.T) {
	cases := map[string]bool{
		"1.2.3":          true,
		"10.20.30":       true,
		"1.2":            false,
		"a.2.3":          false,
		HorizontalSlit:   true,
		"not_an_element": false,
	}
	for id, want := range cases {
		if got := IsValidID(id); got != want {
			t.Errorf("IsValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestLoadBackfillsReservedDefaults(t *testing.T) {
	labelPath := writeFile(t, "labels.txt", "# comment\n1.2.3: Target A\n")
	coordPath := writeFile(t, "coords.txt", "1.2.3 100 200\n")

	r, _, err := Load(labelPath, coordPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Label(HorizontalSlit); got != "Horizontal slit" {
		t.Errorf("reserved default label = %q, want %q", got, "Horizontal slit")
	}
	if got := r.Label("1.2.3"); got != "Target A" {
		t.Errorf("custom label = %q, want %q", got, "Target A")
	}
	if got := r.Coord("1.2.3"); got != (Coord{H: 100, V: 200}) {
		t.Errorf("coord = %+v, want {100 200}", got)
	}
	if got := r.Coord(HorizontalSlit); got != (Coord{}) {
		t.Errorf("unassigned reserved coord = %+v, want zero value", got)
	}
}

func TestLoadUnmappedFallback(t *testing.T) {
	labelPath := writeFile(t, "labels.txt", "")
	coordPath := writeFile(t, "coords.txt", "")

	r, _, err := Load(labelPath, coordPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Label("9.9.9"); got != "9.9.9" {
		t.Errorf("unmapped label = %q, want the ID itself", got)
	}
	if got := r.Coord("9.9.9"); got != (Coord{}) {
		t.Errorf("unmapped coord = %+v, want zero value", got)
	}
}

func TestLoadWarnsOnDuplicateAndUnknown(t *testing.T) {
	labelPath := writeFile(t, "labels.txt", "1.2.3: First\n1.2.3: Second\nbogus_key: X\n")
	coordPath := writeFile(t, "coords.txt", "1.2.3 1 2\nbad_line here\n1.2.3 not_a_number 2\n")

	r, warnings, err := Load(labelPath, coordPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Label("1.2.3"); got != "Second" {
		t.Errorf("duplicate should overwrite, got %q", got)
	}
	if len(warnings) < 3 {
		t.Errorf("expected warnings for duplicate/unknown/malformed lines, got %v", warnings)
	}
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	r, warnings, err := Load(filepath.Join(t.TempDir(), "nope.txt"), filepath.Join(t.TempDir(), "nope2.txt"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings for missing files, got %v", warnings)
	}
	if got := r.Label(VerticalSlit); got != "Vertical slit" {
		t.Errorf("default label = %q", got)
	}
}
