package preset

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/schedule"
	"sacngen/internal/transmit"
)

// ErrDestinationRequired is returned when a unicast preset is run without a destination.
var ErrDestinationRequired = errors.New("preset needs a destination address")

// Runner plays presets through a scheduler onto a sender.
type Runner struct {
	log    logger.Logger
	table  *Table
	sched  *schedule.Scheduler
	sender transmit.Sender
	seed   func() uint64
}

// NewRunner returns a runner. Variation presets are seeded from the runtime source.
func NewRunner(log logger.Logger, table *Table, sched *schedule.Scheduler, sender transmit.Sender) *Runner {
	return &Runner{
		log:    log,
		table:  table,
		sched:  sched,
		sender: sender,
		seed:   rand.Uint64,
	}
}

// WithSeed makes the variation presets reproducible.
func (r *Runner) WithSeed(seed uint64) *Runner {
	r.seed = func() uint64 { return seed }
	return r
}

// Run plays preset id. dst is only used by unicast presets.
// The returned state describes how far the run got, also on error.
func (r *Runner) Run(ctx context.Context, id ID, dst netip.Addr) (schedule.State, error) {
	p, err := r.table.Lookup(id)
	if err != nil {
		return schedule.State{}, err
	}
	if p.Unicast && !dst.IsValid() {
		return schedule.State{}, fmt.Errorf("preset %d (%s): %w", p.ID, p.Name, ErrDestinationRequired)
	}
	if !p.Unicast {
		dst = netip.Addr{}
	}

	// Universes registered by this run are dropped again if they never carried data.
	var fresh []dmx.Universe
	carried := map[dmx.Universe]bool{}
	release := func() {
		for _, u := range fresh {
			if !carried[u] {
				r.sender.Unregister(u)
			}
		}
	}
	for _, u := range p.Universes {
		if r.sender.IsRegistered(u) {
			continue
		}
		if err := r.sender.Register(u); err != nil {
			release()
			return schedule.State{}, err
		}
		fresh = append(fresh, u)
	}

	log := r.log.With(logger.Fields{"module": "preset", "preset": int(p.ID), "name": p.Name})
	var st schedule.State
	if p.Stepped() {
		log.Infof("running %d steps, %v each", p.Steps, p.Dwell)
		st, err = r.runSteps(ctx, p, dst, carried)
	} else {
		log.Infof("running for %v every %v on universes %v", p.Duration, r.sched.Interval(), p.Universes)
		st, err = r.runFrames(ctx, p, dst, carried)
	}
	if err != nil {
		release()
		return st, fmt.Errorf("preset %d (%s): %w", p.ID, p.Name, err)
	}
	log.Infof("done: %d transmissions in %v", st.Tick, st.Elapsed)
	return st, nil
}

func (r *Runner) runFrames(ctx context.Context, p Preset, dst netip.Addr, carried map[dmx.Universe]bool) (schedule.State, error) {
	seed := r.seed()
	frame := p.Frames(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))

	var prev []dmx.Buffer
	return r.sched.Run(ctx, schedule.ForDuration(p.Duration), func(st schedule.State) error {
		bufs, err := frame(st.Tick, st.Elapsed, prev)
		if err != nil {
			return err
		}
		if err := r.emit(p, dst, bufs, carried); err != nil {
			return err
		}
		prev = bufs
		return nil
	})
}

func (r *Runner) runSteps(ctx context.Context, p Preset, dst netip.Addr, carried map[dmx.Universe]bool) (schedule.State, error) {
	// Every step is computed up front from the previous one, so a bad step
	// fails before anything is transmitted.
	steps := make([][]dmx.Buffer, p.Steps)
	var prev dmx.Buffer
	for i := range steps {
		bufs, err := p.Step(i+1, prev)
		if err != nil {
			return schedule.State{}, err
		}
		if len(bufs) != len(p.Universes) {
			return schedule.State{}, fmt.Errorf("step %d produced %d buffers for %d universes", i+1, len(bufs), len(p.Universes))
		}
		steps[i] = bufs
		prev = bufs[0]
	}

	ticks := make([]schedule.TickFunc, len(steps))
	for i, bufs := range steps {
		bufs := bufs
		ticks[i] = func(schedule.State) error {
			return r.emit(p, dst, bufs, carried)
		}
	}
	return r.sched.Steps(ctx, p.Dwell, ticks)
}

// emit sends every universe of a tick in order, then the sync packet if any.
// Universes that were transmitted are marked in carried.
func (r *Runner) emit(p Preset, dst netip.Addr, bufs []dmx.Buffer, carried map[dmx.Universe]bool) error {
	if len(bufs) != len(p.Universes) {
		return fmt.Errorf("generator produced %d buffers for %d universes", len(bufs), len(p.Universes))
	}
	for i, u := range p.Universes {
		var err error
		if dst.IsValid() {
			err = r.sender.SendUnicast(dst, u, bufs[i], p.Sync)
		} else {
			err = r.sender.SendMulticast(u, bufs[i], p.Sync)
		}
		if err != nil {
			return err
		}
		carried[u] = true
	}
	if p.Sync != 0 {
		return r.sender.SendSync(p.Sync, dst)
	}
	return nil
}
