// Package controller implements the controller client (spec.md C5): the
// single consumer of the serial link, presenting typed verbs to callers
// and encapsulating command validation, response parsing, position
// polling, datum search, abort/reset, and the telemetry hook.
//
// It is grounded on DriveSystem (drivesystemlib.py): construct/deconstruct
// command formatting, the always-permitted/movement verb classes, the
// datum-search sequence and its ExperimentalMode gate, and
// send_to_influx's simulator-suppression rule, adapted onto
// serialcomm.Link's mutex-guarded transaction API in place of the
// original's ad hoc locking.
package controller

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dserrors"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dutycycle"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/serialcomm"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/telemetry"
)

// DatumModeBitmask is the fixed mode byte sent before every home-to-datum
// search. Per page 7-15 of the Mclennan manual (abcdefgh):
//
//	a=0 encoder index polarity normal     e=0 auto opposite-limit search disabled
//	b=0 datum captured once (after hd)    f=0 reserved, literal zero
//	c=1 datum position set to home (SH)   g=0 reserved, literal zero
//	d=0 automatic direction search off    h=0 reserved, literal zero
//
// The two "reserved for future use" bits are literal zeros, not a range
// to probe.
const DatumModeBitmask = "00101000"

// Snapshot is one axis's position reading, as published by a poll in the
// map PollPositions returns.
type Snapshot struct {
	Position int
	Fresh    bool
}

// Client is the sole consumer of a serialcomm.Link for this process. The
// zero value is not usable; build one with New.
type Client struct {
	link  *serialcomm.Link
	axes  map[int]*Axis
	order []int

	// ExperimentalMode gates DatumSearch: when true, the search is a
	// no-op that only logs a warning, matching OPTION_IS_DURING_EXPERIMENT.
	ExperimentalMode func() bool

	// Governors maps axis number to its duty-cycle governor, when set.
	// exec reports every movement verb it dispatches and every explicit
	// abort/reset as a RequestMovement/StopRequest pair, so the
	// governor's moving-average tracks what the hardware is actually
	// doing rather than sitting idle beside it.
	Governors map[int]*dutycycle.Governor

	telemetry *telemetry.Client
}

// New builds a client over link, with one Axis per entry in axes (keyed
// by axis number).
func New(link *serialcomm.Link, axes []*Axis, experimentalMode func() bool, tel *telemetry.Client) *Client {
	c := &Client{
		link:             link,
		axes:             make(map[int]*Axis, len(axes)),
		ExperimentalMode: experimentalMode,
		telemetry:        tel,
	}
	for _, a := range axes {
		c.axes[a.Num] = a
		c.order = append(c.order, a.Num)
	}
	return c
}

// Axis returns the axis state for num, or nil if out of range.
func (c *Client) Axis(num int) *Axis { return c.axes[num] }

// Axes returns every managed axis number in ascending order.
func (c *Client) Axes() []int {
	out := make([]int, len(c.order))
	copy(out, c.order)
	return out
}

// validate applies spec.md's command-acceptance policy: unknown axis,
// disabled axis outside the always-permitted set, or paused axis issuing
// a movement verb are all rejected before transmission. Returns the
// resolved axis so exec doesn't need a second lookup.
func (c *Client) validate(axisNum int, verb Verb) (*Axis, error) {
	a, ok := c.axes[axisNum]
	if !ok {
		return nil, dserrors.CommandRejected{Axis: strconv.Itoa(axisNum), Verb: string(verb), Reason: "axis out of range"}
	}
	if !a.Enabled() && !verb.IsAlwaysPermitted() {
		return nil, dserrors.CommandRejected{Axis: strconv.Itoa(axisNum), Verb: string(verb), Reason: "axis disabled"}
	}
	if a.Paused() && verb.IsMovement() {
		return nil, dserrors.CommandRejected{Axis: strconv.Itoa(axisNum), Verb: string(verb), Reason: "axis paused by duty-cycle governor"}
	}
	return a, nil
}

// exec validates then transacts a single command, returning its parsed
// body. A body containing "Sequence" is drained of trailing lines before
// returning, matching drivesystemlib's execute_command Sequence handling.
// Every reply's status body also drives the axis's recorded MotionState
// and, when a duty-cycle governor is wired for this axis, its moving/idle
// tracking: a movement verb that ships cleanly means motion started, an
// abort/reset means it stopped, and an abort condition found in any reply
// means it stopped the hard way. The "COMMAND ABORT" acknowledgement of an
// explicit abort is not an error: it is the outcome the caller asked for.
func (c *Client) exec(axisNum int, verb Verb, arg string) (body string, err error) {
	a, verr := c.validate(axisNum, verb)
	if verr != nil {
		return "", verr
	}
	cmd := ConstructCommand(axisNum, verb, arg)
	lines, err := c.link.Transact(cmd)
	if err != nil {
		return "", fmt.Errorf("controller: transact %q: %w", cmd, err)
	}
	if len(lines) == 0 {
		return "", dserrors.LinkTimeout{Sent: cmd}
	}

	_, respBody, ok := ParseReply(lines[0])
	if !ok {
		return "", dserrors.ProtocolMalformed{Raw: lines[0]}
	}
	if strings.Contains(respBody, "Sequence") {
		if _, err := c.link.DrainUntilBlank(); err != nil {
			log.Printf("controller: drain after Sequence reply on axis %d: %v", axisNum, err)
		}
	}
	if aerr := motionAbortedError(axisNum, respBody); aerr != nil && verb != VerbAbort {
		ma := aerr.(dserrors.MotionAborted)
		a.setMotionState(abortMotionState(ma.Kind))
		if g := c.Governors[axisNum]; g != nil {
			g.StopRequest()
		}
		return respBody, aerr
	}

	switch {
	case verb.IsMovement():
		a.setMotionState(StateMoving)
		if g := c.Governors[axisNum]; g != nil {
			g.RequestMovement()
		}
	case verb == VerbAbort, verb == VerbReset:
		a.setMotionState(StateIdle)
		if g := c.Governors[axisNum]; g != nil {
			g.StopRequest()
		}
	}
	return respBody, nil
}

// abortMotionState maps a parsed abort condition onto the MotionState
// recorded on the axis. AbortUnknown (the body said ABORT but named no
// recognised cause) is folded into StateCommandAborted, the closest
// "halted, cause uncertain" bucket MotionState has.
func abortMotionState(k dserrors.MotionAbortedKind) MotionState {
	switch k {
	case dserrors.AbortStall:
		return StateStallAborted
	case dserrors.AbortTracking:
		return StateTrackingAborted
	case dserrors.AbortEncoder:
		return StateEncoderAborted
	default:
		return StateCommandAborted
	}
}

// motionAbortedError classifies an abort body per spec.md's substring
// rules: any body containing ABORT other than the benign "NOT ABORTED"
// is surfaced as a typed MotionAborted error.
func motionAbortedError(axisNum int, body string) error {
	upper := strings.ToUpper(body)
	if !strings.Contains(upper, "ABORT") || strings.Contains(upper, "NOT ABORTED") {
		return nil
	}
	kind := dserrors.AbortUnknown
	switch {
	case strings.Contains(upper, "STALL"):
		kind = dserrors.AbortStall
	case strings.Contains(upper, "TRACKING"):
		kind = dserrors.AbortTracking
	case strings.Contains(upper, "ENCODER"):
		kind = dserrors.AbortEncoder
	case strings.Contains(upper, "COMMAND"):
		kind = dserrors.AbortCommand
	}
	return dserrors.MotionAborted{Axis: strconv.Itoa(axisNum), Kind: kind, Status: body}
}

// MoveAbsolute issues "ma" to move axis to the given encoder position.
func (c *Client) MoveAbsolute(axisNum, encoder int) (string, error) {
	return c.exec(axisNum, VerbMoveAbsolute, strconv.Itoa(encoder))
}

// MoveRelative issues "mr" to move axis by the given number of steps.
func (c *Client) MoveRelative(axisNum, steps int) (string, error) {
	return c.exec(axisNum, VerbMoveRelative, strconv.Itoa(steps))
}

// AbortAxis issues "ab" to a single axis.
func (c *Client) AbortAxis(axisNum int) (string, error) {
	return c.exec(axisNum, VerbAbort, "")
}

// ResetAxis issues "rs" to a single axis.
func (c *Client) ResetAxis(axisNum int) (string, error) {
	return c.exec(axisNum, VerbReset, "")
}

// AbortAll issues "ab" to every managed axis through the link's batch API,
// so no other command can interleave mid-fan-out.
func (c *Client) AbortAll() error {
	return c.batchVerb(VerbAbort)
}

// ResetAll issues "rs" to every managed axis through the link's batch API.
func (c *Client) ResetAll() error {
	return c.batchVerb(VerbReset)
}

func (c *Client) batchVerb(verb Verb) error {
	cmds := make([]string, 0, len(c.order))
	axes := make([]*Axis, 0, len(c.order))
	for _, axisNum := range c.order {
		a, err := c.validate(axisNum, verb)
		if err != nil {
			return err
		}
		cmds = append(cmds, ConstructCommand(axisNum, verb, ""))
		axes = append(axes, a)
	}
	_, err := c.link.Batch(cmds)
	if err != nil {
		return fmt.Errorf("controller: batch %s: %w", verb, err)
	}
	for i, axisNum := range c.order {
		axes[i].setMotionState(StateIdle)
		if g := c.Governors[axisNum]; g != nil {
			g.StopRequest()
		}
	}
	return nil
}

// DatumSearch runs the fixed datum-search sequence on axis: set datum
// mode, home-to-datum, read current operation, read position. When
// ExperimentalMode is set, the whole operation is a no-op that only logs
// a warning, preventing accidental zeroing during data-taking.
func (c *Client) DatumSearch(axisNum int) error {
	if c.ExperimentalMode != nil && c.ExperimentalMode() {
		log.Printf("controller: datum search on axis %d disabled by ExperimentalMode", axisNum)
		return nil
	}
	if _, err := c.exec(axisNum, VerbSetDatumMode, DatumModeBitmask); err != nil {
		return fmt.Errorf("controller: set datum mode on axis %d: %w", axisNum, err)
	}
	if _, err := c.exec(axisNum, VerbHomeToDatum, ""); err != nil {
		return fmt.Errorf("controller: home-to-datum on axis %d: %w", axisNum, err)
	}
	if _, err := c.exec(axisNum, VerbCurrentOp, ""); err != nil {
		return fmt.Errorf("controller: current-op on axis %d: %w", axisNum, err)
	}
	if _, _, err := c.ReadPosition(axisNum); err != nil {
		return fmt.Errorf("controller: read position after datum search on axis %d: %w", axisNum, err)
	}
	return nil
}

// ReadPosition issues "oa" on a single axis and updates its last-known
// position on a successful parse. Unparseable replies leave the position
// untouched and return fresh=false.
func (c *Client) ReadPosition(axisNum int) (position int, fresh bool, err error) {
	a, ok := c.axes[axisNum]
	if !ok {
		return 0, false, dserrors.CommandRejected{Axis: strconv.Itoa(axisNum), Verb: string(VerbOutputAxis), Reason: "axis out of range"}
	}
	body, err := c.exec(axisNum, VerbOutputAxis, "")
	if err != nil {
		a.markStale()
		return 0, false, err
	}
	n, perr := strconv.Atoi(strings.TrimSpace(body))
	if perr != nil {
		a.markStale()
		return 0, false, nil
	}
	a.setPosition(n)
	if c.telemetry != nil && !c.link.IsSimulator() {
		c.telemetry.Push(axisNum, a.TelemetryName, n)
	}
	return n, true, nil
}

// PollPositions reads every enabled axis's position with a separate
// per-axis ReadPosition transact, returning a snapshot map keyed by axis
// number. Disabled axes are skipped entirely and reported stale.
func (c *Client) PollPositions() map[int]Snapshot {
	out := make(map[int]Snapshot, len(c.order))
	for _, axisNum := range c.order {
		a := c.axes[axisNum]
		if !a.Enabled() {
			a.markStale()
			out[axisNum] = Snapshot{Position: 0, Fresh: false}
			continue
		}
		pos, fresh, err := c.ReadPosition(axisNum)
		if err != nil {
			log.Printf("controller: poll axis %d: %v", axisNum, err)
		}
		out[axisNum] = Snapshot{Position: pos, Fresh: fresh}
	}
	return out
}

// Exec validates and sends an arbitrary verb/argument pair, for callers
// (coordinated operations) that need verbs outside the named convenience
// methods, such as setting creep/slew speed. Subject to the same
// validation as every other command.
func (c *Client) Exec(axisNum int, verb Verb, arg string) (string, error) {
	return c.exec(axisNum, verb, arg)
}

// RawCommand passes a fully-formed command string straight to the link
// and returns its first reply line, bypassing per-axis validation. For
// diagnostics only, grounded on newport.ESP301.RawCommand/HTTPRaw.
func (c *Client) RawCommand(cmd string) (string, error) {
	lines, err := c.link.Transact(cmd)
	if err != nil {
		return "", fmt.Errorf("controller: raw command %q: %w", cmd, err)
	}
	if len(lines) == 0 {
		return "", dserrors.LinkTimeout{Sent: cmd}
	}
	return lines[0], nil
}

// CommandList returns the full recognised verb table, grounded on
// newport.HTTPCmdList.
func (c *Client) CommandList() []Command {
	return Commands
}
