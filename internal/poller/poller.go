// Package poller runs a probe at a fixed cadence, one invocation at a time.
//
// The next run is scheduled from the completion of the previous one, never
// from wall-clock ticks, so a slow probe cannot cause overlapping or
// queued-up calls: the effective cadence is probe duration + interval.
// After MaxConsecutiveErrors failures in a row the poller pauses itself and
// stays paused until Resume is called.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned by New when the interval is not positive.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// State is the lifecycle state of a Poller.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StatePaused    State = "paused"
)

// Probe is the operation invoked on every cycle.
type Probe[T any] func(ctx context.Context) (T, error)

// Options configures a Poller.
type Options struct {
	// Name identifies the poller in logs and metrics.
	Name string
	// Interval is the delay between the completion of one probe and the
	// start of the next.
	Interval time.Duration
	// MaxConsecutiveErrors pauses the poller after this many failures in a
	// row. Zero disables auto-pause.
	MaxConsecutiveErrors int
	// Immediate arms the first run at construction.
	Immediate bool
	// OnError is called with every probe failure.
	OnError func(error)
	// Clock schedules runs. Defaults to the system clock.
	Clock Clock
	// Observer receives run outcomes. Optional.
	Observer Observer
}

// Poller is one polling loop. It is owned by a single caller and is not
// shared between call sites.
type Poller[T any] struct {
	probe    Probe[T]
	opts     Options
	log      zerolog.Logger
	clock    Clock
	observer Observer
	ctx      context.Context
	stopCtx  func() bool

	mu       sync.Mutex
	started  bool
	active   bool
	pending  bool
	closed   bool
	errCount int
	timer    Timer
	gen      uint64 // invalidates timers that fire after being replaced
	last     T
	lastErr  error
}

// New creates a Poller for probe. The poller is bound to ctx: probes receive
// it, and once it is done the poller is closed and its timer cancelled.
func New[T any](ctx context.Context, log zerolog.Logger, probe Probe[T], opts Options) (*Poller[T], error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("new poller %q: %w", opts.Name, ErrInvalidInterval)
	}
	if opts.MaxConsecutiveErrors < 0 {
		return nil, fmt.Errorf("new poller %q: max consecutive errors must not be negative", opts.Name)
	}

	p := &Poller[T]{
		probe:    probe,
		opts:     opts,
		log:      log.With().Str("poller", opts.Name).Logger(),
		clock:    opts.Clock,
		observer: opts.Observer,
		ctx:      ctx,
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}

	if opts.Immediate {
		p.mu.Lock()
		p.started = true
		p.active = true
		p.scheduleLocked(0)
		p.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, p.Close)
	p.mu.Lock()
	p.stopCtx = stop
	p.mu.Unlock()

	return p, nil
}

// State returns the current lifecycle state.
func (p *Poller[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.pending:
		return StateRunning
	case p.active:
		return StateScheduled
	case !p.started:
		return StateIdle
	default:
		return StatePaused
	}
}

// IsActive reports whether the poller reschedules itself.
func (p *Poller[T]) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsPending reports whether a probe invocation is in flight.
func (p *Poller[T]) IsPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// ConsecutiveErrors returns the number of failures since the last success
// or Resume.
func (p *Poller[T]) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errCount
}

// Last returns the result of the most recent successful probe and the error
// of the most recent probe, if it failed.
func (p *Poller[T]) Last() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}

// Pause cancels the scheduled run. A probe already in flight is not
// interrupted, but it will not schedule another run. Pausing twice is a
// no-op.
func (p *Poller[T]) Pause() {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.cancelTimerLocked()
	p.mu.Unlock()

	if wasActive {
		p.log.Debug().Msg("poller paused")
		p.observer.Paused(p.opts.Name, false)
	}
}

// Resume clears the error count and runs the probe right away. Resuming an
// active or closed poller is a no-op.
func (p *Poller[T]) Resume() {
	p.mu.Lock()
	if p.closed || p.active {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.active = true
	p.errCount = 0
	// An in-flight probe schedules the next run itself when it completes.
	if !p.pending {
		p.scheduleLocked(0)
	}
	p.mu.Unlock()

	p.log.Debug().Msg("poller resumed")
	p.observer.Resumed(p.opts.Name)
}

// Trigger cancels the scheduled run and invokes the probe in the calling
// goroutine. It returns false without doing anything if a probe is already
// in flight or the poller is closed. The outcome counts like any other run
// and the next run is scheduled if the poller is active.
func (p *Poller[T]) Trigger() bool {
	p.mu.Lock()
	if p.pending || p.closed {
		p.mu.Unlock()
		return false
	}
	p.cancelTimerLocked()
	p.pending = true
	p.mu.Unlock()

	p.run()
	return true
}

// Close pauses the poller for good and releases its context hook. It is
// safe to call more than once.
func (p *Poller[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stop := p.stopCtx
	p.mu.Unlock()

	p.Pause()
	if stop != nil {
		stop()
	}
}

// fire is the timer callback for the run armed as generation gen.
func (p *Poller[T]) fire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.active || p.pending {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.pending = true
	p.mu.Unlock()

	p.run()
}

// run invokes the probe. The caller must have set pending.
func (p *Poller[T]) run() {
	start := time.Now()
	val, err := p.invoke()
	elapsed := time.Since(start)

	p.mu.Lock()
	p.pending = false

	var count int
	autoPaused := false
	if err != nil {
		p.errCount++
		p.lastErr = err
		count = p.errCount
		if p.active && p.opts.MaxConsecutiveErrors > 0 && count >= p.opts.MaxConsecutiveErrors {
			p.active = false
			autoPaused = true
		}
	} else {
		p.errCount = 0
		p.last = val
		p.lastErr = nil
	}

	if p.active {
		p.scheduleLocked(p.opts.Interval)
	}
	p.mu.Unlock()

	if err == nil {
		p.log.Debug().Dur("elapsed", elapsed).Msg("probe succeeded")
		p.observer.ProbeSucceeded(p.opts.Name, elapsed)
		return
	}

	p.log.Warn().Err(err).Int("consecutive_errors", count).Msg("probe failed")
	p.observer.ProbeFailed(p.opts.Name, elapsed, count)
	if p.opts.OnError != nil {
		p.opts.OnError(err)
	}

	if autoPaused {
		p.log.Error().
			Int("consecutive_errors", count).
			Int("max_consecutive_errors", p.opts.MaxConsecutiveErrors).
			Msg("too many consecutive probe failures, polling paused")
		p.observer.Paused(p.opts.Name, true)
	}
}

// invoke calls the probe, turning a panic into an error.
func (p *Poller[T]) invoke() (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.probe(p.ctx)
}

func (p *Poller[T]) scheduleLocked(d time.Duration) {
	p.cancelTimerLocked()
	gen := p.gen
	p.timer = p.clock.AfterFunc(d, func() { p.fire(gen) })
}

func (p *Poller[T]) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}
