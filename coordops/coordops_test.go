package coordops

import (
	"context"
	"testing"
	"time"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/elements"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/poller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/serialcomm"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/simulator"
)

func newTestRig(t *testing.T) (*controller.Client, *poller.Poller) {
	t.Helper()
	sim := simulator.New(5)
	t.Cleanup(func() { sim.Close() })

	cfg := serialcomm.SimulatorLinkConfig("sim://test")
	cfg.SettleDelay = 0
	link := serialcomm.NewWithTransport(cfg, sim)

	axes := []*controller.Axis{
		controller.NewAxis(1, "TaC", "Trolley", "trolley"),
		controller.NewAxis(3, "TLH", "Target Ladder H", "target-h"),
		controller.NewAxis(5, "TLV", "Target Ladder V", "target-v"),
	}
	c := controller.New(link, axes, func() bool { return false }, nil)
	p := poller.New(c, time.Hour) // never fires on its own during the test
	return c, p
}

func newTestRegistry(t *testing.T) *elements.Registry {
	t.Helper()
	reg, _, err := elements.Load(t.TempDir()+"/labels.txt", t.TempDir()+"/coords.txt")
	if err != nil {
		t.Fatalf("elements.Load: %v", err)
	}
	return reg
}

func TestSlitScanRejectsDisabledAxis(t *testing.T) {
	c, p := newTestRig(t)
	c.Axis(3).SetEnabled(false)
	reg := newTestRegistry(t)

	s := NewSlitScanner(c, p, reg, 3, 5, nil)
	err := s.Run(context.Background(), SlitScanParams{Direction: Horizontal, OffsetMM: 1, StepSizeMM: 1, Dwell: time.Millisecond})
	if err == nil {
		t.Fatal("expected slit scan to reject a disabled target-ladder axis")
	}
}

func TestSlitScanPausesAndResumesPoller(t *testing.T) {
	c, p := newTestRig(t)
	reg := newTestRegistry(t)
	p.Start()
	defer p.Stop()

	s := NewSlitScanner(c, p, reg, 3, 5, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var reports []string
	err := s.Run(ctx, SlitScanParams{Direction: Horizontal, OffsetMM: 0.5, StepSizeMM: 0.5, Dwell: time.Millisecond})
	_ = reports
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Paused() {
		t.Error("expected poller to be resumed after slit scan completes")
	}
}

func TestLinspaceInclusiveEndpoints(t *testing.T) {
	out := linspace(0, 10, 5)
	if out[0] != 0 || out[len(out)-1] != 10 {
		t.Errorf("linspace endpoints = %v, want first=0 last=10", out)
	}
}

// TestConditionRunnerStopsWhenStatusUnreadable exercises Run's
// first-iteration failure path. The simulator doesn't model "co" (status(), see
// condition.go), so the very first status read comes back as a protocol
// error regardless of the abort issued below - Run must still stop
// promptly rather than loop or panic.
func TestConditionRunnerStopsWhenStatusUnreadable(t *testing.T) {
	c, _ := newTestRig(t)
	reports := make(chan string, 16)
	r := NewConditionRunner(c, func(axis, pos int, status string) {
		select {
		case reports <- status:
		default:
		}
	})

	if _, err := c.AbortAxis(1); err != nil {
		t.Fatalf("AbortAxis: %v", err)
	}

	err := r.Run(context.Background(), ConditionParams{
		Axis: 1, NegativeLimit: -1000, PositiveLimit: 1000,
		CreepSpeedPositive: 50, CreepSpeedNegative: 50,
		SlewSpeedPositive: 200, SlewSpeedNegative: 200,
	})
	if err == nil {
		t.Fatal("expected conditioning sweep to stop when the axis status can't be read")
	}
}

// TestConditionRunnerRespectsCancellation confirms Run checks ctx before
// blocking indefinitely. In practice against the simulator it will stop
// on the status-read error before the timeout is ever reached (see
// above); either way Run must return promptly with a non-nil error.
func TestConditionRunnerRespectsCancellation(t *testing.T) {
	c, _ := newTestRig(t)
	r := NewConditionRunner(c, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, ConditionParams{
		Axis: 1, NegativeLimit: -50000, PositiveLimit: 50000,
		CreepSpeedPositive: 50, CreepSpeedNegative: 50,
		SlewSpeedPositive: 200, SlewSpeedNegative: 200,
	})
	if err == nil {
		t.Fatal("expected Run to return promptly with an error")
	}
}
