package controller

import "testing"

func TestConstructCommand(t *testing.T) {
	if got := ConstructCommand(3, VerbMoveAbsolute, "1000"); got != "3ma1000" {
		t.Errorf("ConstructCommand = %q, want 3ma1000", got)
	}
	if got := ConstructCommand(1, VerbOutputAxis, ""); got != "1oa" {
		t.Errorf("ConstructCommand = %q, want 1oa", got)
	}
}

func TestDeconstructCommand(t *testing.T) {
	axis, verb, arg, ok := DeconstructCommand("3ma1000")
	if !ok || axis != 3 || verb != VerbMoveAbsolute || arg != "1000" {
		t.Errorf("got axis=%d verb=%q arg=%q ok=%v", axis, verb, arg, ok)
	}

	axis, verb, arg, ok = DeconstructCommand("1oa")
	if !ok || axis != 1 || verb != VerbOutputAxis || arg != "" {
		t.Errorf("got axis=%d verb=%q arg=%q ok=%v", axis, verb, arg, ok)
	}

	if _, _, _, ok := DeconstructCommand("not a command"); ok {
		t.Error("expected malformed command to fail")
	}
}

func TestParseReply(t *testing.T) {
	axis, body, ok := ParseReply("\r01:1234")
	if !ok || axis != "01" || body != "1234" {
		t.Errorf("got axis=%q body=%q ok=%v", axis, body, ok)
	}
	if _, _, ok := ParseReply("garbage"); ok {
		t.Error("expected malformed reply to fail")
	}
}
