package controller

import "sync"

// MotionState classifies an axis's last observed status body.
type MotionState int

const (
	StateUnknown MotionState = iota
	StateIdle
	StateMoving
	StateStallAborted
	StateTrackingAborted
	StateEncoderAborted
	StateCommandAborted
)

func (s MotionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateMoving:
		return "Moving"
	case StateStallAborted:
		return "Stall-Aborted"
	case StateTrackingAborted:
		return "Tracking-Aborted"
	case StateEncoderAborted:
		return "Encoder-Aborted"
	case StateCommandAborted:
		return "Command-Aborted"
	default:
		return "Unknown"
	}
}

// Axis holds one motor axis's live state: identity plus the mutable bits
// the controller client and poller update. Per-axis state is guarded by
// its own lock so multi-axis reads can take locks in ascending axis
// order, per spec.md's concurrency model.
type Axis struct {
	mu sync.Mutex

	Num           int
	Mnemonic      string
	Label         string
	TelemetryName string

	enabled     bool
	paused      bool
	position    int
	fresh       bool
	motionState MotionState
}

// NewAxis builds an enabled, unpaused axis with unknown position.
func NewAxis(num int, mnemonic, label, telemetryName string) *Axis {
	return &Axis{
		Num:           num,
		Mnemonic:      mnemonic,
		Label:         label,
		TelemetryName: telemetryName,
		enabled:       true,
		motionState:   StateUnknown,
	}
}

func (a *Axis) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Axis) SetEnabled(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = v
}

func (a *Axis) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// SetPaused latches the pause flag. Per spec.md's ordering guarantee, a
// pause set here must be observable by the very next command submission;
// callers must not buffer or batch pause changes.
func (a *Axis) SetPaused(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = v
}

func (a *Axis) Position() (pos int, fresh bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, a.fresh
}

func (a *Axis) setPosition(pos int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = pos
	a.fresh = true
}

func (a *Axis) markStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh = false
}

func (a *Axis) MotionState() MotionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.motionState
}

func (a *Axis) setMotionState(s MotionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motionState = s
}
