// Package coordops implements the coordinated operations (spec.md C8):
// multi-step workflows that pause the poller, take exclusive ownership of
// a subset of axes, run a bounded state machine, then restart the poller.
//
// Slit scan is grounded on DriveSystem.slit_scan_steps; the conditioning
// sweep is grounded on the standalone ConditionMotorsThread
// (condition_motors2_20240821.py), both adapted onto controller.Client's
// typed verbs and error taxonomy in place of the originals' raw string
// status comparisons.
package coordops

import "fmt"

// MMToStep converts millimetres to encoder steps for this system's lead
// screw, matching drivesystemlib's MM_TO_STEP.
const MMToStep = 200.0

// StepToMM is the inverse of MMToStep.
const StepToMM = 1.0 / MMToStep

// Reporter receives progress updates from a running coordinated operation,
// so a caller (cmd/drivesystemd's console trace, or an HTTP status
// endpoint) can observe it without the operation depending on log/stdout
// directly.
type Reporter func(axis int, position int, status string)

func (r Reporter) report(axis, position int, status string) {
	if r != nil {
		r(axis, position, status)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// linspace reproduces numpy.linspace(start, end, n) where n is derived
// from step the way slit_scan_steps derives number_of_values, inclusive of
// both endpoints.
func linspace(start, end, step float64) []int {
	if step == 0 {
		return []int{int(start)}
	}
	n := int(abs(int((start-end)/step)) + 1)
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return []int{int(start)}
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		out[i] = int(start + frac*(end-start))
	}
	return out
}

// errTimeout is a small helper for the repeated "timed out waiting for X"
// failure shape both operations use.
func errTimeout(format string, args ...interface{}) error {
	return fmt.Errorf("coordops: timed out: "+format, args...)
}
