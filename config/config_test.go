package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeOptionsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.txt")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	return path
}

func TestLoadValidOptions(t *testing.T) {
	path := writeOptionsFile(t, `
# a comment line
ArrayTipToTargetLadderDistanceAtSpecifiedEncoderPositions: 12.5 # inline comment
EncoderAxis1: 100
EncoderAxis2: 200
TargetLadderAxis3ReferencePoint: 1.5
TargetLadderAxis5ReferencePoint: 2.5
DisabledAxes: 3,5,6
ExperimentalMode: false
`)
	s := NewDriveSystemStore()
	warnings, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if got := s.Float(KeyArrayTipToLadderDistance); got != 12.5 {
		t.Errorf("ArrayTipToLadderDistance = %v, want 12.5", got)
	}
	if got := s.IntSlice(KeyDisabledAxes); len(got) != 3 || got[0] != 3 {
		t.Errorf("DisabledAxes = %v, want [3 5 6]", got)
	}
	if s.Bool(KeyExperimentalMode) {
		t.Error("ExperimentalMode should be false after override")
	}
}

func TestLoadMissingRequiredFails(t *testing.T) {
	path := writeOptionsFile(t, `EncoderAxis1: 1`)
	s := NewDriveSystemStore()
	_, err := s.Load(path)
	if err == nil {
		t.Fatal("expected error for missing required options")
	}
	if !strings.Contains(err.Error(), "Distance between array tip") {
		t.Errorf("error missing expected required message: %v", err)
	}
}

func TestLoadWarnsOnMalformedAndUnknownLines(t *testing.T) {
	path := writeOptionsFile(t, `
ArrayTipToTargetLadderDistanceAtSpecifiedEncoderPositions: 1.0
EncoderAxis1: 1
EncoderAxis2: 2
TargetLadderAxis3ReferencePoint: 1.0
TargetLadderAxis5ReferencePoint: 1.0
NotAKnownKey: 5
ThisLineHasNoColon
`)
	s := NewDriveSystemStore()
	warnings, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 entries", warnings)
	}
}

func TestSetCLIOverride(t *testing.T) {
	s := NewDriveSystemStore()
	if err := s.Set(KeySerialPort, "/dev/ttyUSB3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.String(KeySerialPort); got != "/dev/ttyUSB3" {
		t.Errorf("SerialPort = %q, want /dev/ttyUSB3", got)
	}
}

func TestDumpOmitsCLIOnlyKeys(t *testing.T) {
	s := NewDriveSystemStore()
	if err := s.Set(KeyArrayTipToLadderDistance, "1.0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	dump := s.Dump()
	if strings.Contains(dump, KeySerialPort) {
		t.Error("Dump should not include CLI-only keys")
	}
	if !strings.Contains(dump, KeyArrayTipToLadderDistance) {
		t.Error("Dump should include file-backed keys")
	}
}

func TestBlockingDistanceHelpers(t *testing.T) {
	s := NewDriveSystemStore()
	if err := s.Set(KeySilencerLength, "40.0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.GetBlockingDistance(); got != 40.0+18.5-32.6 {
		t.Errorf("GetBlockingDistance = %v", got)
	}
	// A float64 variable, so the expected value is rounded the way the
	// store's runtime subtraction is, not folded exactly as a constant.
	silencer := 40.0
	if got := s.GetSilencerLengthFromTip(); got != silencer-32.6 {
		t.Errorf("GetSilencerLengthFromTip = %v", got)
	}
	if err := s.Set(KeySilencerLength, "10.0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.GetSilencerLengthFromTip(); got != 0 {
		t.Errorf("GetSilencerLengthFromTip should clamp to 0, got %v", got)
	}
}
