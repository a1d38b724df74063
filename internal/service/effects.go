package service

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
)

const (
	defaultEffectQueueSize  = 256
	defaultEffectAttempts   = 5
	defaultEffectBaseDelay  = 200 * time.Millisecond
	defaultEffectDrainLimit = 30 * time.Second
)

// effect is one deferred side effect: a persistence-independent action
// (notification, approved-action execution) dispatched after a state
// transition has been committed.
type effect struct {
	name string
	fn   func(ctx context.Context) error
}

// EffectDispatcher runs committed-transition side effects asynchronously with
// retry. Effects are at-least-once: a retried effect can re-invoke its
// target, so receivers must be idempotent. Failures are logged and never
// reach the state machine.
type EffectDispatcher struct {
	ch          chan effect
	log         *logger.Logger
	wg          sync.WaitGroup
	maxAttempts int
	baseDelay   time.Duration

	closeOnce sync.Once
}

// NewEffectDispatcher creates a dispatcher and starts its worker.
func NewEffectDispatcher(log *logger.Logger) *EffectDispatcher {
	return newEffectDispatcher(log, defaultEffectAttempts, defaultEffectBaseDelay)
}

func newEffectDispatcher(log *logger.Logger, maxAttempts int, baseDelay time.Duration) *EffectDispatcher {
	d := &EffectDispatcher{
		ch:          make(chan effect, defaultEffectQueueSize),
		log:         log,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue schedules an effect. Enqueue never blocks the caller beyond queue
// backpressure and never returns an error; delivery problems are the
// dispatcher's to retry and log.
func (d *EffectDispatcher) Enqueue(name string, fn func(ctx context.Context) error) {
	d.ch <- effect{name: name, fn: fn}
}

// Close stops accepting effects and drains the queue, bounded by the drain
// limit. Safe to call more than once.
func (d *EffectDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.ch) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultEffectDrainLimit):
		d.log.Warn().Msg("Effect dispatcher drain timed out; some side effects may be undelivered")
	}
}

func (d *EffectDispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		d.deliver(e)
	}
}

// deliver attempts one effect with exponential backoff.
func (d *EffectDispatcher) deliver(e effect) {
	delay := d.baseDelay
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.fn(ctx)
		cancel()
		if err == nil {
			return
		}

		if attempt == d.maxAttempts {
			d.log.Error().Err(err).
				Str("effect", e.name).
				Int("attempts", attempt).
				Msg("Side effect permanently failed")
			return
		}

		d.log.Warn().Err(err).
			Str("effect", e.name).
			Int("attempt", attempt).
			Msg("Side effect failed; will retry")
		time.Sleep(delay)
		delay *= 2
	}
}
