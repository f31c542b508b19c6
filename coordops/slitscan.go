package coordops

import (
	"context"
	"fmt"
	"time"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/elements"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/poller"
)

// Direction selects which target-ladder axis is swept across the other's
// recorded slit.
type Direction int

const (
	// Horizontal sweeps axis H across the vertical slit's recorded
	// coordinate, matching is_horz_scan=True.
	Horizontal Direction = iota
	// Vertical sweeps axis V across the horizontal slit's recorded
	// coordinate, matching is_horz_scan=False.
	Vertical
)

const (
	startPositionRetryInterval = 200 * time.Millisecond
	startPositionRetryLimit    = 50
	stepRetryInterval          = 100 * time.Millisecond
	stepRetryLimit             = 50
	stepReissueEvery           = 5
)

// SlitScanParams mirrors the file slit_scan_read_file loads: an offset
// either side of the slit's centre, a step size, and a dwell at each step,
// all in the caller's preferred units (mm, mm, seconds).
type SlitScanParams struct {
	Direction  Direction
	OffsetMM   float64
	StepSizeMM float64
	Dwell      time.Duration
}

// SlitScanner runs the slit-scan workflow over a fixed pair of
// target-ladder axes.
type SlitScanner struct {
	client   *controller.Client
	poller   *poller.Poller
	registry *elements.Registry
	axisH    int
	axisV    int
	report   Reporter
}

// NewSlitScanner builds a scanner over axisH (the horizontal target-ladder
// axis, conventionally 3) and axisV (the vertical target-ladder axis,
// conventionally 5).
func NewSlitScanner(client *controller.Client, p *poller.Poller, registry *elements.Registry, axisH, axisV int, report Reporter) *SlitScanner {
	return &SlitScanner{client: client, poller: p, registry: registry, axisH: axisH, axisV: axisV, report: report}
}

// Run executes one full slit scan. It pauses the poller for its duration
// and always resumes it before returning, including on error or
// cancellation via ctx.
func (s *SlitScanner) Run(ctx context.Context, params SlitScanParams) error {
	hAxis := s.client.Axis(s.axisH)
	vAxis := s.client.Axis(s.axisV)
	if hAxis == nil || vAxis == nil {
		return fmt.Errorf("coordops: target-ladder axes %d/%d not configured", s.axisH, s.axisV)
	}
	if !hAxis.Enabled() || !vAxis.Enabled() {
		return fmt.Errorf("coordops: slit scan requires both target-ladder axes enabled")
	}

	s.poller.Pause()
	defer s.poller.Resume()

	if err := s.client.AbortAll(); err != nil {
		return fmt.Errorf("coordops: abort all before slit scan: %w", err)
	}
	if _, err := s.client.ResetAxis(s.axisH); err != nil {
		return fmt.Errorf("coordops: reset axis %d: %w", s.axisH, err)
	}
	if _, err := s.client.ResetAxis(s.axisV); err != nil {
		return fmt.Errorf("coordops: reset axis %d: %w", s.axisV, err)
	}

	elementID := elements.VerticalSlit
	moveAxis, fixedAxis := s.axisH, s.axisV
	if params.Direction == Vertical {
		elementID = elements.HorizontalSlit
		moveAxis, fixedAxis = s.axisV, s.axisH
	}
	center := s.registry.Coord(elementID)
	centerComponent, fixedComponent := float64(center.H), float64(center.V)
	if params.Direction == Vertical {
		centerComponent, fixedComponent = float64(center.V), float64(center.H)
	}

	offsetSteps := params.OffsetMM * MMToStep
	stepSteps := params.StepSizeMM * MMToStep
	positions := linspace(centerComponent-offsetSteps, centerComponent+offsetSteps, stepSteps)
	fixedTarget := int(fixedComponent)

	if _, err := s.client.MoveAbsolute(fixedAxis, fixedTarget); err != nil {
		return fmt.Errorf("coordops: move axis %d to fixed position: %w", fixedAxis, err)
	}
	if _, err := s.client.MoveAbsolute(moveAxis, positions[0]); err != nil {
		return fmt.Errorf("coordops: move axis %d to scan start: %w", moveAxis, err)
	}
	s.report.report(moveAxis, positions[0], "preparing to scan slits")

	if err := s.waitForStart(ctx, moveAxis, positions[0], fixedAxis, fixedTarget); err != nil {
		return err
	}

	s.report.report(moveAxis, positions[0], "slit scanning in progress")
	for _, pos := range positions {
		if err := ctxDone(ctx); err != nil {
			return err
		}
		if _, err := s.client.MoveAbsolute(moveAxis, pos); err != nil {
			return fmt.Errorf("coordops: move axis %d to step %d: %w", moveAxis, pos, err)
		}
		if err := s.waitForStep(ctx, moveAxis, pos, fixedAxis, fixedTarget); err != nil {
			return err
		}
		s.report.report(moveAxis, pos, "at scan step")

		if err := ctxDone(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(params.Dwell):
		}
	}
	s.report.report(moveAxis, positions[len(positions)-1], "slit scanning complete")
	return nil
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// waitForStart blocks until both the scanned axis and the fixed axis have
// reached their starting positions, matching slit_scan_steps's combined
// move_axis_running/no_move_axis_running wait loop.
func (s *SlitScanner) waitForStart(ctx context.Context, moveAxis, moveTarget, fixedAxis, fixedTarget int) error {
	moveCtr, fixedCtr := 0, 0
	for {
		movePos, _, _ := s.client.ReadPosition(moveAxis)
		fixedPos, _, _ := s.client.ReadPosition(fixedAxis)
		moveDone := movePos == moveTarget
		fixedDone := fixedPos == fixedTarget
		if moveDone && fixedDone {
			return nil
		}
		if !moveDone {
			moveCtr++
		}
		if !fixedDone {
			fixedCtr++
		}
		if moveCtr >= startPositionRetryLimit || fixedCtr >= startPositionRetryLimit {
			return errTimeout("target-ladder axes did not reach the slit-scan start position (did you abort a motor?)")
		}
		if err := sleepOrCancel(ctx, startPositionRetryInterval); err != nil {
			return err
		}
	}
}

// waitForStep blocks until the scanned axis reaches pos, re-issuing the
// move every stepReissueEvery attempts, matching slit_scan_steps's
// per-step retry loop.
func (s *SlitScanner) waitForStep(ctx context.Context, moveAxis, target, fixedAxis, fixedTarget int) error {
	for attempt := 0; ; attempt++ {
		movePos, _, _ := s.client.ReadPosition(moveAxis)
		fixedPos, _, _ := s.client.ReadPosition(fixedAxis)
		if movePos == target && fixedPos == fixedTarget {
			return nil
		}
		if attempt >= stepRetryLimit {
			return errTimeout("axis %d never reached scan step %d (did you abort a motor?)", moveAxis, target)
		}
		if attempt > 0 && attempt%stepReissueEvery == 0 {
			if _, err := s.client.MoveAbsolute(moveAxis, target); err != nil {
				return fmt.Errorf("coordops: re-issue move to step %d: %w", target, err)
			}
		}
		if err := sleepOrCancel(ctx, stepRetryInterval); err != nil {
			return err
		}
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
