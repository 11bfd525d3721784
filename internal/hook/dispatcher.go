package hook

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
)

// DefaultMaxInFlight bounds concurrently running hook processes.
const DefaultMaxInFlight = 4

// Dispatcher fans turn events out to subscribed hooks in the background.
// Turns arriving while MaxInFlight hooks are running are dropped.
type Dispatcher struct {
	registry *Registry
	executor *Executor
	log      logrus.FieldLogger
	slots    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. maxInFlight below 1 selects
// DefaultMaxInFlight.
func NewDispatcher(r *Registry, e *Executor, maxInFlight int, log logrus.FieldLogger) *Dispatcher {
	if maxInFlight < 1 {
		maxInFlight = DefaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry: r,
		executor: e,
		log:      logging.OrDiscard(log).WithField("component", "hooks"),
		slots:    semaphore.NewWeighted(int64(maxInFlight)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnTurn matches movement.Config.OnTurn. It never blocks.
func (d *Dispatcher) OnTurn(dir movement.Direction, c movement.Counters) {
	ev := Event{Direction: dir.String(), Counters: c, At: time.Now()}
	for _, h := range d.registry.For(dir) {
		if !d.slots.TryAcquire(1) {
			d.log.WithField("hook", h.Manifest.Name).Warn("Hook busy, dropping turn")
			continue
		}
		d.wg.Add(1)
		go func(h *Hook) {
			defer d.wg.Done()
			defer d.slots.Release(1)
			d.run(h, ev)
		}(h)
	}
}

func (d *Dispatcher) run(h *Hook, ev Event) {
	log := d.log.WithFields(logrus.Fields{"hook": h.Manifest.Name, "direction": ev.Direction})
	if _, err := d.executor.Execute(d.ctx, h, ev); err != nil {
		log.WithError(err).Warn("Hook failed")
		return
	}
	log.Debug("Hook ran")
}

// Close cancels running hooks and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
