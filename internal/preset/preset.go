// Package preset holds the fixed interoperability test presets and the runner
// that plays them through the scheduler.
package preset

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"sacngen/internal/dmx"
	"sacngen/internal/wave"
)

// ID identifies a preset on the command line.
type ID int

const (
	TwoUniverse ID = iota + 1
	TwoUniverseUnicast
	FullUniverse
	RapidChanges
	HighDataRate
	HighDataRateSync
	MovingChannels
	AcceptanceTest
)

const (
	// HighDataRateUniverses is how many universes the high data rate presets drive.
	HighDataRateUniverses = 8
	// SyncUniverse is the synchronization address used by the synchronized preset.
	SyncUniverse dmx.Universe = 64
	// varySeedLevel is the level every channel starts from in the variation presets.
	varySeedLevel = 128
)

// FrameFunc computes one buffer per preset universe for a tick. prev holds the
// buffers of the previous tick and is nil on the first one.
type FrameFunc func(tick int, elapsed time.Duration, prev []dmx.Buffer) ([]dmx.Buffer, error)

// StepFunc computes the buffers of a fixed step. prev is the first universe's
// buffer from the step before, nil for step 1.
type StepFunc func(step int, prev dmx.Buffer) ([]dmx.Buffer, error)

// Preset is an immutable test scenario.
type Preset struct {
	ID        ID
	Name      string
	Duration  time.Duration // total run time of a ticked preset.
	Dwell     time.Duration // hold time of every step of a stepped preset.
	Universes []dmx.Universe
	Unicast   bool         // needs a destination address.
	Sync      dmx.Universe // 0 when the preset does not synchronize.
	Steps     int          // > 0 for stepped presets.

	// Frames builds the tick generator for one run; rnd is private to that run.
	Frames func(rnd *rand.Rand) FrameFunc
	Step   StepFunc
}

// Stepped reports whether the preset is a fixed step sequence.
func (p Preset) Stepped() bool {
	return p.Steps > 0
}

// Table is the preset lookup, built once at startup.
type Table struct {
	presets map[ID]Preset
}

// NewTable builds every preset from the layout. duration applies to the ticked
// presets, dwell to each acceptance test step.
func NewTable(l *wave.Layout, duration, dwell time.Duration) *Table {
	highRate := make([]dmx.Universe, HighDataRateUniverses)
	for i := range highRate {
		highRate[i] = dmx.Universe(i + 1)
	}

	list := []Preset{
		{
			ID: TwoUniverse, Name: "two universes", Duration: duration,
			Universes: []dmx.Universe{1, 2},
			Frames:    staticFrames(rampUp(), rampDown()),
		},
		{
			ID: TwoUniverseUnicast, Name: "two universes unicast", Duration: duration,
			Universes: []dmx.Universe{1, 2},
			Unicast:   true,
			Frames:    staticFrames(rampUp(), rampDown()),
		},
		{
			ID: FullUniverse, Name: "full universe", Duration: duration,
			Universes: []dmx.Universe{1},
			Frames:    staticFrames(full(255)),
		},
		{
			ID: RapidChanges, Name: "rapid changes", Duration: duration,
			Universes: []dmx.Universe{1},
			Frames: func(*rand.Rand) FrameFunc {
				return func(tick int, _ time.Duration, _ []dmx.Buffer) ([]dmx.Buffer, error) {
					return []dmx.Buffer{wave.RapidChange(l, tick, dmx.MaxChannels)}, nil
				}
			},
		},
		{
			ID: HighDataRate, Name: "high data rate", Duration: duration,
			Universes: highRate,
			Frames:    varyFrames(l, len(highRate)),
		},
		{
			ID: HighDataRateSync, Name: "high data rate synchronized", Duration: duration,
			Universes: highRate,
			Sync:      SyncUniverse,
			Frames:    varyFrames(l, len(highRate)),
		},
		{
			ID: MovingChannels, Name: "moving channels", Duration: duration,
			Universes: []dmx.Universe{1},
			Frames: func(*rand.Rand) FrameFunc {
				return func(_ int, elapsed time.Duration, _ []dmx.Buffer) ([]dmx.Buffer, error) {
					return []dmx.Buffer{wave.Moving(l, elapsed, dmx.MaxChannels)}, nil
				}
			},
		},
		{
			ID: AcceptanceTest, Name: "acceptance test", Dwell: dwell,
			Universes: []dmx.Universe{l.BacklightUniverse, l.FrontlightUniverse},
			Steps:     wave.AcceptanceSteps,
			Step: func(step int, prev dmx.Buffer) ([]dmx.Buffer, error) {
				back, err := wave.AcceptanceBacklight(l, step, prev)
				if err != nil {
					return nil, err
				}
				front, err := wave.AcceptanceFrontlight(l, step)
				if err != nil {
					return nil, err
				}
				return []dmx.Buffer{back, front}, nil
			},
		},
	}

	t := &Table{presets: make(map[ID]Preset, len(list))}
	for _, p := range list {
		t.presets[p.ID] = p
	}
	return t
}

// Lookup returns the preset with the given id.
func (t *Table) Lookup(id ID) (Preset, error) {
	p, ok := t.presets[id]
	if !ok {
		return Preset{}, &UnknownPresetError{ID: id}
	}
	return p, nil
}

// List returns every preset ordered by id.
func (t *Table) List() []Preset {
	out := make([]Preset, 0, len(t.presets))
	for _, p := range t.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnknownPresetError is returned for ids outside the table.
type UnknownPresetError struct {
	ID ID
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown test preset: %d", e.ID)
}

func staticFrames(bufs ...dmx.Buffer) func(*rand.Rand) FrameFunc {
	return func(*rand.Rand) FrameFunc {
		return func(int, time.Duration, []dmx.Buffer) ([]dmx.Buffer, error) {
			return bufs, nil
		}
	}
}

func varyFrames(l *wave.Layout, universes int) func(*rand.Rand) FrameFunc {
	return func(rnd *rand.Rand) FrameFunc {
		streams := make([]*rand.Rand, universes)
		for i := range streams {
			streams[i] = rand.New(rand.NewPCG(rnd.Uint64(), rnd.Uint64()))
		}
		return func(_ int, _ time.Duration, prev []dmx.Buffer) ([]dmx.Buffer, error) {
			out := make([]dmx.Buffer, universes)
			for i := range out {
				if prev == nil {
					out[i] = full(varySeedLevel)
					continue
				}
				out[i] = wave.Vary(prev[i], l.VariationDelta, streams[i])
			}
			return out, nil
		}
	}
}

func rampUp() dmx.Buffer {
	buf := make(dmx.Buffer, dmx.BufferLen)
	for a := 1; a < len(buf); a++ {
		buf[a] = byte(a - 1)
	}
	return buf
}

func rampDown() dmx.Buffer {
	buf := make(dmx.Buffer, dmx.BufferLen)
	for a := 1; a < len(buf); a++ {
		buf[a] = 255 - byte(a-1)
	}
	return buf
}

func full(level byte) dmx.Buffer {
	buf, _ := dmx.Fill(dmx.MaxChannels, level)
	return buf
}
