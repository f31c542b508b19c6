package coordops

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dserrors"
)

const (
	conditionStallLimit          = 3
	conditionTrackingLimit       = 3
	conditionTrackingInitialStep = 1000
	conditionPollInterval        = time.Second
	conditionIdleWaitInterval    = 500 * time.Millisecond
)

// sweepSign is the direction of the traverse most recently issued; Run
// flips it on each Idle before setting speeds for, and issuing, the next
// traverse. Mirrors ConditionMotorsThread.sign ("+"/"-").
type sweepSign int

const (
	signPositive sweepSign = iota
	signNegative
)

func (s sweepSign) opposite() sweepSign {
	if s == signPositive {
		return signNegative
	}
	return signPositive
}

// ConditionParams configures one axis's reciprocating conditioning sweep.
// Unlike the original ConditionMotorsThread.set_speeds (whose optional
// positional arguments had a bug that silently overwrote the positive
// speed instead of setting the negative one) every direction's speed is
// named explicitly here.
type ConditionParams struct {
	Axis               int
	NegativeLimit      int
	PositiveLimit      int
	CreepSpeedPositive int
	CreepSpeedNegative int
	SlewSpeedPositive  int
	SlewSpeedNegative  int
}

// ConditionRunner runs the conditioning sweep on a single axis.
type ConditionRunner struct {
	client *controller.Client
	report Reporter
}

// NewConditionRunner builds a runner reporting progress to report (may be
// nil).
func NewConditionRunner(client *controller.Client, report Reporter) *ConditionRunner {
	return &ConditionRunner{client: client, report: report}
}

// Run drives the reciprocating sweep until ctx is cancelled, a stall or
// tracking fault cannot be recovered, or any other abort is observed.
func (r *ConditionRunner) Run(ctx context.Context, p ConditionParams) error {
	axis := p.Axis
	if _, err := r.client.ResetAxis(axis); err != nil {
		r.report.report(axis, 0, fmt.Sprintf("initial reset failed: %v", err))
	}

	sign := signPositive
	stallCtr := 0
	haveStallDirection := false
	var stallDirection sweepSign
	stallPosition := 0
	firstTime := true
	speedsDiffer := p.CreepSpeedPositive != p.CreepSpeedNegative || p.SlewSpeedPositive != p.SlewSpeedNegative
	var currentMoveTarget int

	for {
		if err := ctxDone(ctx); err != nil {
			return err
		}

		body, aborted, err := r.status(axis)
		if err != nil {
			return fmt.Errorf("coordops: read axis %d status: %w", axis, err)
		}
		pos, _, _ := r.client.ReadPosition(axis)
		r.report.report(axis, pos, statusLabel(body, aborted))

		switch {
		case aborted == nil && body == "Idle":
			sign = sign.opposite()
			if speedsDiffer || firstTime {
				if err := r.setSpeeds(axis, sign, p); err != nil {
					return err
				}
				firstTime = false
			}

			currentMoveTarget = moveTarget(sign, p)
			if _, err := r.client.MoveAbsolute(axis, currentMoveTarget); err != nil {
				return fmt.Errorf("coordops: move axis %d to %d: %w", axis, currentMoveTarget, err)
			}

			if haveStallDirection && sign != stallDirection &&
				abs(pos-stallPosition) > 100 &&
				((stallDirection == signPositive && pos > stallPosition) ||
					(stallDirection == signNegative && pos < stallPosition)) {
				stallCtr = 0
				haveStallDirection = false
			}

		case aborted != nil && aborted.Kind == dserrors.AbortStall:
			if haveStallDirection && stallDirection != sign {
				return fmt.Errorf("coordops: axis %d stalling in both directions, needs human intervention", axis)
			}
			stallCtr++
			if stallCtr >= conditionStallLimit {
				return fmt.Errorf("coordops: axis %d hit stall limit, needs human intervention", axis)
			}
			stallDirection = sign
			haveStallDirection = true
			stallPosition = pos
			if _, err := r.client.ResetAxis(axis); err != nil {
				return fmt.Errorf("coordops: reset axis %d after stall: %w", axis, err)
			}

		case aborted != nil && aborted.Kind == dserrors.AbortTracking:
			fixed, err := r.recoverFromTrackingAbort(ctx, axis, sign)
			if err != nil {
				return err
			}
			if !fixed {
				return fmt.Errorf("coordops: axis %d could not recover from tracking abort, needs human intervention", axis)
			}
			if _, err := r.client.MoveAbsolute(axis, currentMoveTarget); err != nil {
				return fmt.Errorf("coordops: resume axis %d after tracking-abort fix: %w", axis, err)
			}

		case aborted != nil:
			return fmt.Errorf("coordops: axis %d aborted (%s), stopping for safety", axis, aborted.Status)
		}

		if err := sleepOrCancel(ctx, conditionPollInterval); err != nil {
			return err
		}
	}
}

// recoverFromTrackingAbort attempts progressively larger nudges opposite
// the stalled direction, then back, matching ConditionMotorsThread's
// tracking-abort recovery loop.
func (r *ConditionRunner) recoverFromTrackingAbort(ctx context.Context, axis int, sign sweepSign) (fixed bool, err error) {
	for i := 0; i < conditionTrackingLimit; i++ {
		if _, err := r.client.ResetAxis(axis); err != nil {
			return false, fmt.Errorf("coordops: reset axis %d before tracking nudge: %w", axis, err)
		}
		away := (2*i + 1) * conditionTrackingInitialStep
		if sign == signPositive {
			away = -away
		}
		if _, err := r.client.MoveRelative(axis, away); err != nil {
			return false, fmt.Errorf("coordops: tracking-abort away-nudge on axis %d: %w", axis, err)
		}
		status, err := r.waitUntilIdleOrAborted(ctx, axis)
		if err != nil {
			return false, err
		}
		if status.aborted {
			continue
		}

		back := (2*i + 2) * conditionTrackingInitialStep
		if sign == signNegative {
			back = -back
		}
		if _, err := r.client.MoveRelative(axis, back); err != nil {
			return false, fmt.Errorf("coordops: tracking-abort return-nudge on axis %d: %w", axis, err)
		}
		status, err = r.waitUntilIdleOrAborted(ctx, axis)
		if err != nil {
			return false, err
		}
		if !status.aborted {
			return true, nil
		}
	}
	return false, nil
}

type idleOrAbortStatus struct{ aborted bool }

func (r *ConditionRunner) waitUntilIdleOrAborted(ctx context.Context, axis int) (idleOrAbortStatus, error) {
	for {
		body, aborted, err := r.status(axis)
		if err != nil {
			return idleOrAbortStatus{}, err
		}
		if aborted != nil {
			return idleOrAbortStatus{aborted: true}, nil
		}
		if body == "Idle" {
			return idleOrAbortStatus{aborted: false}, nil
		}
		if err := sleepOrCancel(ctx, conditionIdleWaitInterval); err != nil {
			return idleOrAbortStatus{}, err
		}
	}
}

// status reads the axis's current operation, unwrapping a typed
// dserrors.MotionAborted into (body, aborted) instead of surfacing it as a
// failure: for this workflow an abort status is an expected branch of the
// state machine, not an error.
//
// The controller simulator does not model "co" (see simulator.go's
// processCommand) because the original motor-box simulation never did
// either; the conditioning sweep's status polling was only ever run
// against real hardware. Against the simulator, status therefore
// returns a protocol error on its very first call, which Run
// propagates and stops on - a safe failure mode, just not one that
// exercises the stall/tracking-abort branches below it.
func (r *ConditionRunner) status(axis int) (body string, aborted *dserrors.MotionAborted, err error) {
	body, execErr := r.client.Exec(axis, controller.VerbCurrentOp, "")
	if execErr == nil {
		return body, nil, nil
	}
	var ma dserrors.MotionAborted
	if errors.As(execErr, &ma) {
		return body, &ma, nil
	}
	return "", nil, execErr
}

func statusLabel(body string, aborted *dserrors.MotionAborted) string {
	if aborted != nil {
		return aborted.Status
	}
	return body
}

func (r *ConditionRunner) setSpeeds(axis int, sign sweepSign, p ConditionParams) error {
	creep := p.CreepSpeedPositive
	slew := p.SlewSpeedPositive
	if sign == signNegative {
		creep = p.CreepSpeedNegative
		slew = p.SlewSpeedNegative
	}
	if _, err := r.client.Exec(axis, controller.VerbSetCreepSpeed, strconv.Itoa(creep)); err != nil {
		return fmt.Errorf("coordops: set creep speed on axis %d: %w", axis, err)
	}
	if _, err := r.client.Exec(axis, controller.VerbSetSlewSpeed, strconv.Itoa(slew)); err != nil {
		return fmt.Errorf("coordops: set slew speed on axis %d: %w", axis, err)
	}
	return nil
}

func moveTarget(sign sweepSign, p ConditionParams) int {
	if sign == signPositive {
		return p.PositiveLimit
	}
	return p.NegativeLimit
}
