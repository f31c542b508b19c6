// Package poller implements the background poller (spec.md C6): while the
// link is open and the poller is not paused, it repeatedly queries every
// enabled axis's position (one ReadPosition transact per axis) through
// the controller client, publishes the resulting snapshot to registered
// subscribers, and sleeps the remainder of the update interval.
//
// It is grounded on DriveSystemThread.run's sample-publish-sleep loop,
// adapted to a cancellable wake channel in place of the original's
// threading.Event, so Pause/Resume/Stop take effect before the next tick
// rather than only after a sleep naturally elapses.
package poller

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
)

// DefaultInterval matches drivesystemlib's UPDATE_TIME of one second.
const DefaultInterval = 1 * time.Second

// stallRetryInterval is how soon the poller tries again, instead of
// waiting out the full interval, once a tick comes back with every
// enabled axis stale (the link looks wedged). stallLimiter caps how
// often that tighter retry can actually fire, so a controller that
// stays down doesn't turn the loop into a hot spin.
const stallRetryInterval = 200 * time.Millisecond

// Snapshot is one published sample: the per-axis positions at a moment in
// time, keyed by axis number.
type Snapshot struct {
	SampledAt time.Time
	Positions map[int]controller.Snapshot
}

// Subscriber receives every published snapshot. Implementations must not
// block for long: the poller calls every subscriber synchronously before
// sleeping for the next tick.
type Subscriber func(Snapshot)

// Poller runs the sample-publish-sleep loop on its own goroutine.
type Poller struct {
	client   *controller.Client
	interval time.Duration

	mu          sync.Mutex
	paused      bool
	stopped     bool
	subscribers []Subscriber
	wake        chan struct{} // closed and replaced on every state change

	stallLimiter *rate.Limiter

	done chan struct{}
}

// New builds a poller over client, sampling every interval (DefaultInterval
// if zero). The loop does not start until Start is called.
func New(client *controller.Client, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:       client,
		interval:     interval,
		wake:         make(chan struct{}),
		stallLimiter: rate.NewLimiter(rate.Every(stallRetryInterval), 1),
		done:         make(chan struct{}),
	}
}

// Subscribe registers fn to receive every future published snapshot.
func (p *Poller) Subscribe(fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// signal wakes any goroutine currently parked in sleep, and must be called
// with p.mu held.
func (p *Poller) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Pause suspends sampling until Resume is called. Takes effect before the
// next tick, never mid-sample.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.signal()
}

// Resume lifts a pause and wakes the loop immediately rather than waiting
// for the remainder of the interval to elapse.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.signal()
}

// Paused reports whether sampling is currently suspended.
func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Start launches the background loop. Calling Start twice is a programming
// error; callers own a single Poller per controller client.
func (p *Poller) Start() {
	go p.run()
}

// Stop ends the loop after its current sample, if any, completes, then
// waits for the goroutine to exit. Safe to call once.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.signal()
	p.mu.Unlock()
	<-p.done
}

func (p *Poller) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for p.paused && !p.stopped {
			wake := p.wake
			p.mu.Unlock()
			<-wake
			p.mu.Lock()
		}
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		start := time.Now()
		snap := Snapshot{SampledAt: start, Positions: p.client.PollPositions()}
		p.publish(snap)

		wait := p.interval - time.Since(start)
		if allStale(snap.Positions) {
			wait = p.stallLimiter.Reserve().Delay()
		}
		if p.sleep(wait) {
			return
		}
	}
}

// allStale reports whether every enabled axis came back stale this tick -
// a link that looks wedged rather than one axis with a transient error.
func allStale(positions map[int]controller.Snapshot) bool {
	if len(positions) == 0 {
		return false
	}
	for _, s := range positions {
		if s.Fresh {
			return false
		}
	}
	return true
}

func (p *Poller) publish(snap Snapshot) {
	p.mu.Lock()
	subs := make([]Subscriber, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()
	for _, sub := range subs {
		sub(snap)
	}
}

// sleep waits for d, returning early if Pause, Resume, or Stop is called in
// the meantime. It reports whether the poller has been stopped.
func (p *Poller) sleep(d time.Duration) (stopped bool) {
	p.mu.Lock()
	wake := p.wake
	stopped = p.stopped
	p.mu.Unlock()
	if stopped || d <= 0 {
		return stopped
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-wake:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
