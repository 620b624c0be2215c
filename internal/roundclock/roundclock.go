// Package roundclock is the per-client round countdown.
package roundclock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

type EventKind int

const (
	EventTick EventKind = iota + 1
	EventExpired
)

// Event is emitted by a running clock. Round identifies the Start call that produced it so
// consumers can drop events from a clock that has since been restarted or cancelled.
type Event struct {
	Kind      EventKind
	Remaining int
	Round     uint64
}

// RoundClock counts whole seconds down from the duration given to Start. It emits one tick
// per second and exactly one expired event when the count reaches zero, unless cancelled or
// restarted first.
type RoundClock struct {
	clock  clockwork.Clock
	events chan Event

	mu        sync.Mutex
	state     State
	remaining int
	startedAt time.Time
	gen       uint64
	stop      chan struct{}
}

func New(clock clockwork.Clock) *RoundClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoundClock{
		clock:  clock,
		events: make(chan Event, 16),
	}
}

// Events is shared by every round started on this clock.
func (c *RoundClock) Events() <-chan Event {
	return c.events
}

// Start (re)starts the countdown. Any previous countdown stops without emitting expired.
func (c *RoundClock) Start(seconds int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	c.state = StateRunning
	c.remaining = max(seconds, 0)
	c.startedAt = c.clock.Now()

	stop := make(chan struct{})
	c.stop = stop
	ticker := c.clock.NewTicker(time.Second)
	go c.run(c.gen, ticker, stop)
	return c.gen
}

// Shorten clamps the remaining time down to seconds. It never lengthens the countdown and
// does nothing unless the clock is running.
func (c *RoundClock) Shorten(seconds int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || seconds >= c.remaining {
		return false
	}
	c.remaining = max(seconds, 0)
	return true
}

// Cancel stops the countdown without emitting expired. Buffered events from the cancelled
// countdown become stale.
func (c *RoundClock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	c.stopLocked()
	c.gen++
	c.state = StateIdle
}

func (c *RoundClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *RoundClock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Round is the generation of the latest Start or Cancel.
func (c *RoundClock) Round() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Elapsed is wall time since the last Start, unaffected by Shorten.
func (c *RoundClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	return c.clock.Since(c.startedAt)
}

func (c *RoundClock) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *RoundClock) run(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	if ev, done := c.expireIfDue(gen); done {
		c.deliver(ev, stop)
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			ev, ok := c.step(gen)
			if !ok {
				return
			}
			if ev.Kind == EventExpired {
				c.deliver(ev, stop)
				return
			}
			select {
			case c.events <- ev:
			default:
				// ticks are display-only; a slow consumer just misses some
			}
		}
	}
}

func (c *RoundClock) expireIfDue(gen uint64) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateRunning || c.remaining > 0 {
		return Event{}, false
	}
	c.state = StateIdle
	return Event{Kind: EventExpired, Round: gen}, true
}

func (c *RoundClock) step(gen uint64) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateRunning {
		return Event{}, false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.state = StateIdle
		return Event{Kind: EventExpired, Round: gen}, true
	}
	return Event{Kind: EventTick, Remaining: c.remaining, Round: gen}, true
}

func (c *RoundClock) deliver(ev Event, stop <-chan struct{}) {
	select {
	case c.events <- ev:
	case <-stop:
	}
}
