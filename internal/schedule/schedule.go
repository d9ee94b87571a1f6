// Package schedule drives rate limited send loops: interval bounded runs
// limited by wall clock duration or by tick count, and fixed step sequences
// that hold every step for a dwell time.
package schedule

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultInterval is the shape generation send period, about 30 Hz,
	// kept below the 44 Hz DMX refresh rate.
	DefaultInterval = 33 * time.Millisecond
	// DefaultKeepAlive is how often a held step is re-emitted so receivers keep the stream.
	DefaultKeepAlive = time.Second
)

// State is the per-run schedule state handed to every tick.
type State struct {
	Tick      int // ticks already executed in this run.
	Step      int // 1-based step when running a sequence, 0 otherwise.
	Start     time.Time
	LastSend  time.Time
	Elapsed   time.Duration
	Remaining time.Duration // remaining duration, or 0 for count limited runs.
	Left      int           // remaining ticks, or 0 for duration limited runs.
}

// TickFunc produces and transmits one buffer set.
type TickFunc func(st State) error

// Limit selects when a run stops: after a duration or after a tick count.
type Limit struct {
	Duration time.Duration
	Ticks    int
}

// ForDuration stops the run once d of wall clock time has elapsed.
func ForDuration(d time.Duration) Limit {
	return Limit{Duration: d}
}

// ForTicks stops the run after n ticks.
func ForTicks(n int) Limit {
	return Limit{Ticks: n}
}

func (l Limit) validate() error {
	switch {
	case l.Duration > 0 && l.Ticks > 0:
		return &ConfigError{Field: "limit", Reason: "both duration and tick count set"}
	case l.Duration <= 0 && l.Ticks <= 0:
		return &ConfigError{Field: "limit", Reason: "duration or tick count must be positive"}
	}
	return nil
}

func (l Limit) reached(st State) bool {
	if l.Ticks > 0 {
		return st.Tick >= l.Ticks
	}
	return st.Elapsed >= l.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, used by tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithKeepAlive sets the re-emission period for held steps.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Scheduler) {
		s.keepAlive = d
	}
}

// Scheduler enforces the minimum interval between ticks.
type Scheduler struct {
	interval  time.Duration
	keepAlive time.Duration
	clock     Clock
}

// New validates the configuration. A non-positive interval is rejected here,
// never during a run.
func New(interval time.Duration, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		interval:  interval,
		keepAlive: DefaultKeepAlive,
		clock:     WallClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if interval <= 0 {
		return nil, &ConfigError{Field: "interval", Reason: fmt.Sprintf("must be positive, got %v", interval)}
	}
	if s.keepAlive <= 0 {
		return nil, &ConfigError{Field: "keep-alive", Reason: fmt.Sprintf("must be positive, got %v", s.keepAlive)}
	}
	if s.keepAlive < s.interval {
		s.keepAlive = s.interval
	}
	if s.clock == nil {
		return nil, &ConfigError{Field: "clock", Reason: "nil clock"}
	}
	return s, nil
}

// Interval returns the minimum time between two ticks.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Clock returns the clock the scheduler runs on.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Run calls tick no more often than once per interval until the limit is reached.
// Cancellation is only observed between ticks. The first tick error ends the run.
func (s *Scheduler) Run(ctx context.Context, limit Limit, tick TickFunc) (State, error) {
	if err := limit.validate(); err != nil {
		return State{}, err
	}

	st := State{Start: s.clock.Now()}
	next := st.Start
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := s.waitUntil(ctx, next); err != nil {
			return st, err
		}

		now := s.clock.Now()
		st.Elapsed = now.Sub(st.Start)
		if limit.reached(st) {
			return st, nil
		}
		if limit.Ticks > 0 {
			st.Left = limit.Ticks - st.Tick
		} else {
			st.Remaining = limit.Duration - st.Elapsed
		}
		st.LastSend = now

		if err := tick(st); err != nil {
			return st, fmt.Errorf("tick %d: %w", st.Tick, err)
		}
		st.Tick++
		next = now.Add(s.interval)
	}
}

// Steps runs every step in order and holds it for dwell before moving on.
// While a step is held it is re-emitted every keep-alive period.
func (s *Scheduler) Steps(ctx context.Context, dwell time.Duration, steps []TickFunc) (State, error) {
	if dwell < 0 {
		return State{}, &ConfigError{Field: "dwell", Reason: fmt.Sprintf("must not be negative, got %v", dwell)}
	}

	st := State{Start: s.clock.Now()}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Step = i + 1
		stepStart := s.clock.Now()
		deadline := stepStart.Add(dwell)

		for emitAt := stepStart; ; {
			now := s.clock.Now()
			st.Elapsed = now.Sub(st.Start)
			st.LastSend = now
			st.Remaining = deadline.Sub(now)
			if err := step(st); err != nil {
				return st, fmt.Errorf("step %d: %w", st.Step, err)
			}
			st.Tick++

			emitAt = emitAt.Add(s.keepAlive)
			if !emitAt.Before(deadline) {
				if err := s.waitUntil(ctx, deadline); err != nil {
					return st, err
				}
				break
			}
			if err := s.waitUntil(ctx, emitAt); err != nil {
				return st, err
			}
		}
	}
	st.Elapsed = s.clock.Now().Sub(st.Start)
	st.Remaining = 0
	return st, nil
}

// Sleep suspends the caller for d or until ctx is done.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	return s.clock.Sleep(ctx, d)
}

func (s *Scheduler) waitUntil(ctx context.Context, t time.Time) error {
	if d := t.Sub(s.clock.Now()); d > 0 {
		return s.clock.Sleep(ctx, d)
	}
	return nil
}

// ConfigError reports an invalid scheduler configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("schedule config: %s: %s", e.Field, e.Reason)
}
