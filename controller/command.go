package controller

import (
	"fmt"
	"regexp"
	"strconv"
)

// deconstructPattern recognises a full command string: axis digits, a
// lower-case verb, and an optional signed integer argument. Unlike
// drivesystemlib.deconstruct_command_from_str's regex — whose trailing
// `[0-9]?` group only ever captures a single digit of a multi-digit
// argument — this anchors the whole string and captures the argument in
// full, since nothing in this system's behaviour depends on reproducing
// that truncation.
var deconstructPattern = regexp.MustCompile(`^(\d+)([a-z]+)(-?\d+)?$`)

// replyPattern matches the standard "\r<axis>:<body>" form (the leading
// \r survives serialcomm's line trimming, which only strips the trailing
// \r\n), grounded on drivesystemlib's `.*\r(\d*):(.*)\r\n` pattern.
var replyPattern = regexp.MustCompile(`^\r?(\d+):(.*)$`)

// ConstructCommand formats axis, verb and an optional argument into the
// wire form "<axis><verb><arg>", matching
// DriveSystem.construct_command(axis, cmd, number).
func ConstructCommand(axis int, verb Verb, arg string) string {
	return fmt.Sprintf("%d%s%s", axis, verb, arg)
}

// DeconstructCommand parses a wire-form command string back into its
// axis, verb and optional argument.
func DeconstructCommand(cmd string) (axis int, verb Verb, arg string, ok bool) {
	m := deconstructPattern.FindStringSubmatch(cmd)
	if m == nil {
		return 0, "", "", false
	}
	axisNum, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", "", false
	}
	return axisNum, Verb(m[2]), m[3], true
}

// ParseReply matches the standard "<axis>:<body>" reply form against a
// single line.
func ParseReply(line string) (axis string, body string, ok bool) {
	m := replyPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
