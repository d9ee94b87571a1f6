package action

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/preset"
	"sacngen/internal/schedule"
	"sacngen/internal/transmit"
	"sacngen/internal/wave"
)

// Dispatcher executes actions one at a time. It is not safe for concurrent use:
// the dispatch loop owns it.
type Dispatcher struct {
	log    logger.Logger
	sender transmit.Sender
	sched  *schedule.Scheduler
	runner *preset.Runner
	layout *wave.Layout
	seed   func() uint64

	preview bool
}

// NewDispatcher returns a dispatcher driving sender.
func NewDispatcher(log logger.Logger, sender transmit.Sender, sched *schedule.Scheduler, runner *preset.Runner, layout *wave.Layout) *Dispatcher {
	return &Dispatcher{
		log:    log,
		sender: sender,
		sched:  sched,
		runner: runner,
		layout: layout,
		seed:   rand.Uint64,
	}
}

// WithSeed makes the over-time variation reproducible.
func (d *Dispatcher) WithSeed(seed uint64) *Dispatcher {
	d.seed = func() uint64 { return seed }
	return d
}

// Preview reports the current preview flag.
func (d *Dispatcher) Preview() bool {
	return d.preview
}

// Dispatch runs a. A *ParseError never reaches here; range problems come back as
// *dmx.RangeError, sender failures as *transmit.TransmissionError.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) error {
	var err error
	switch a := a.(type) {
	case SendData:
		err = d.sendAt(netip.Addr{}, a.Universe, a.Address, a.Values)
	case SendAllData:
		err = d.sendAll(a)
	case SendFullData:
		err = d.sendFull(a)
	case SendDataOverTime:
		err = d.sendOverTime(ctx, a)
	case Register:
		err = d.sender.Register(a.Universe)
	case Unicast:
		err = d.sendAt(a.Dst, a.Universe, a.Address, a.Values)
	case UnicastSync:
		err = d.sender.SendSync(a.Sync, a.Dst)
	case Sync:
		err = d.sender.SendSync(a.Sync, netip.Addr{})
	case Sleep:
		err = d.sched.Sleep(ctx, a.Duration)
	case Preview:
		d.preview = !d.preview
		d.sender.SetPreview(d.preview)
		d.log.With(logger.Fields{"module": "dispatch"}).Infof("preview data %v", d.preview)
	case Terminate:
		err = d.terminate(a)
	case RunTestPreset:
		err = d.runPreset(ctx, a)
	case Ignore:
	default:
		err = fmt.Errorf("unsupported action %T", a)
	}
	if err != nil && !errors.Is(err, ErrHalt) {
		return fmt.Errorf("%s: %w", Name(a), err)
	}
	return err
}

// claim registers u for a send. The returned release undoes a registration
// made here, so a send that fails first leaves the sender as it was.
func (d *Dispatcher) claim(u dmx.Universe) (release func(), err error) {
	if d.sender.IsRegistered(u) {
		return func() {}, nil
	}
	if err := d.sender.Register(u); err != nil {
		return nil, err
	}
	return func() { d.sender.Unregister(u) }, nil
}

func (d *Dispatcher) send(dst netip.Addr, u dmx.Universe, buf dmx.Buffer) error {
	release, err := d.claim(u)
	if err != nil {
		return err
	}
	if dst.IsValid() {
		err = d.sender.SendUnicast(dst, u, buf, 0)
	} else {
		err = d.sender.SendMulticast(u, buf, 0)
	}
	if err != nil {
		release()
	}
	return err
}

func (d *Dispatcher) sendAt(dst netip.Addr, u dmx.Universe, address int, values []byte) error {
	buf, err := dmx.BuildAt(address, values)
	if err != nil {
		return err
	}
	return d.send(dst, u, buf)
}

func (d *Dispatcher) sendAll(a SendAllData) error {
	buf, err := dmx.Fill(a.Span, a.Value)
	if err != nil {
		return err
	}
	return d.send(netip.Addr{}, a.Universe, buf)
}

func (d *Dispatcher) sendFull(a SendFullData) error {
	buf, err := dmx.BuildFull(a.Values)
	if err != nil {
		return err
	}
	return d.send(netip.Addr{}, a.Universe, buf)
}

func (d *Dispatcher) sendOverTime(ctx context.Context, a SendDataOverTime) error {
	if len(a.Values) > dmx.MaxChannels {
		return &dmx.RangeError{Address: len(a.Values), Length: dmx.MaxChannels, Reason: "too many values"}
	}
	release, err := d.claim(a.Universe)
	if err != nil {
		return err
	}

	seed := d.seed()
	rnd := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buf := dmx.BuildStatic(a.Values)

	st, err := d.sched.Run(ctx, schedule.ForDuration(a.Duration), func(st schedule.State) error {
		if st.Tick > 0 {
			buf = wave.Vary(buf, d.layout.VariationDelta, rnd)
		}
		return d.sender.SendMulticast(a.Universe, buf, 0)
	})
	if st.Tick == 0 {
		release()
	}
	if err != nil {
		return err
	}
	d.log.With(logger.Fields{"module": "dispatch", "universe": a.Universe}).
		Infof("over time done: %d transmissions in %v", st.Tick, st.Elapsed)
	return nil
}

func (d *Dispatcher) terminate(a Terminate) error {
	if a.Universe == 0 {
		if err := d.sender.TerminateAll(); err != nil {
			return err
		}
		return ErrHalt
	}
	return d.sender.Terminate(a.Universe)
}

func (d *Dispatcher) runPreset(ctx context.Context, a RunTestPreset) error {
	_, err := d.runner.Run(ctx, a.ID, a.Dst)
	return err
}
