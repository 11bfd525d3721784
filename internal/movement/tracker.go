package movement

import (
	"sync"
	"time"
)

// DefaultCooldown is how long a fired direction locks out further events.
const DefaultCooldown = 800 * time.Millisecond

// Counters tallies fired directions. Values never decrease.
type Counters struct {
	Left  int `json:"left"`
	Right int `json:"right"`
	Up    int `json:"up"`
	Down  int `json:"down"`
}

// Total returns the sum of all four counters.
func (c Counters) Total() int {
	return c.Left + c.Right + c.Up + c.Down
}

func (c *Counters) add(d Direction) {
	switch d {
	case Left:
		c.Left++
	case Right:
		c.Right++
	case Up:
		c.Up++
	case Down:
		c.Down++
	}
}

// Config tunes a Tracker. Zero values select the defaults.
type Config struct {
	HistorySize int
	Threshold   float64
	Cooldown    time.Duration
	// OnTurn is called outside the lock after every fired direction.
	OnTurn func(d Direction, c Counters)
}

// scheduler runs f after d and returns a function cancelling it.
type scheduler func(d time.Duration, f func()) (stop func() bool)

func realScheduler(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Tracker owns the smoothing history, classifier state and counters of
// one session. It is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	smoother   *Smoother
	state      State
	counters   Counters
	threshold  float64
	cooldown   time.Duration
	onTurn     func(Direction, Counters)
	schedule   scheduler
	stopTimer  func() bool
	generation uint64
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Tracker{
		smoother:  NewSmoother(cfg.HistorySize),
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		onTurn:    cfg.OnTurn,
		schedule:  realScheduler,
	}
}

// Observe feeds the top-left corner of the current face box. It returns
// the direction that fired, or None.
func (t *Tracker) Observe(p Point) Direction {
	t.mu.Lock()

	smoothed := t.smoother.Observe(p)
	fired, next := Classify(smoothed, t.state, t.threshold)
	t.state = next

	if fired == None {
		t.mu.Unlock()
		return None
	}

	t.counters.add(fired)
	counters := t.counters
	t.armCooldown()
	callback := t.onTurn
	t.mu.Unlock()

	if callback != nil {
		callback(fired, counters)
	}
	return fired
}

// armCooldown schedules the real-time cooldown release. Caller holds mu.
func (t *Tracker) armCooldown() {
	t.generation++
	gen := t.generation
	t.stopTimer = t.schedule(t.cooldown, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.generation == gen {
			t.state.CooldownActive = false
			t.stopTimer = nil
		}
	})
}

// Counters returns a copy of the direction counters.
func (t *Tracker) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// State returns a copy of the classifier state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HistoryLen returns how many positions the smoother holds.
func (t *Tracker) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.smoother.Len()
}

// Reset clears the smoothing history, classifier state and any pending
// cooldown. Counters are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
	t.generation++
	t.smoother.Reset()
	t.state = State{}
}
