package poller

import (
	"sync"
	"testing"
	"time"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/serialcomm"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/simulator"
)

func newTestClient(t *testing.T) *controller.Client {
	t.Helper()
	sim := simulator.New(2)
	t.Cleanup(func() { sim.Close() })

	cfg := serialcomm.SimulatorLinkConfig("sim://test")
	cfg.SettleDelay = 0
	link := serialcomm.NewWithTransport(cfg, sim)

	axes := []*controller.Axis{
		controller.NewAxis(1, "TaC", "Trolley", "trolley"),
		controller.NewAxis(2, "SiA", "Array", "array"),
	}
	return controller.New(link, axes, func() bool { return false }, nil)
}

func TestPollerPublishesSnapshots(t *testing.T) {
	c := newTestClient(t)
	p := New(c, 20*time.Millisecond)

	var mu sync.Mutex
	count := 0
	p.Subscribe(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	p.Start()
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count < 2 {
		t.Errorf("count = %d, want at least 2 published snapshots", count)
	}
}

func TestPollerPauseStopsPublishing(t *testing.T) {
	c := newTestClient(t)
	p := New(c, 15*time.Millisecond)

	var mu sync.Mutex
	count := 0
	p.Subscribe(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	p.Start()
	time.Sleep(40 * time.Millisecond)
	p.Pause()

	mu.Lock()
	afterPause := count
	mu.Unlock()

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	stillSame := count == afterPause
	mu.Unlock()

	if !stillSame {
		t.Error("expected no further publishes while paused")
	}
	p.Stop()
}

func TestPollerResumeWakesImmediately(t *testing.T) {
	c := newTestClient(t)
	p := New(c, 5*time.Second) // long interval; Resume must not wait for it
	p.Pause()
	p.Start()

	woke := make(chan struct{}, 1)
	p.Subscribe(func(Snapshot) {
		select {
		case woke <- struct{}{}:
		default:
		}
	})

	time.Sleep(10 * time.Millisecond)
	p.Resume()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("resume did not wake the poller promptly")
	}
	p.Stop()
}

func TestAllStaleRequiresEveryAxisStale(t *testing.T) {
	mixed := map[int]controller.Snapshot{1: {Fresh: true}, 2: {Fresh: false}}
	if allStale(mixed) {
		t.Error("expected allStale to be false when at least one axis is fresh")
	}
	stale := map[int]controller.Snapshot{1: {Fresh: false}, 2: {Fresh: false}}
	if !allStale(stale) {
		t.Error("expected allStale to be true when every axis is stale")
	}
	if allStale(nil) {
		t.Error("expected allStale to be false for an empty snapshot")
	}
}

func TestStopIsIdempotentToWaitingGoroutine(t *testing.T) {
	c := newTestClient(t)
	p := New(c, 10*time.Millisecond)
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	// Stop only receives from done, which run closes exactly once, so a
	// second Stop returns at once instead of blocking.
	p.Stop()
}
