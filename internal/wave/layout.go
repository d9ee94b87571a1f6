package wave

import (
	"time"

	"sacngen/internal/dmx"
)

// Fixture channel offsets from the fixture start address.
const (
	BacklightBrightness = 0
	BacklightRed        = 1
	BacklightGreen      = 2
	BacklightBlue       = 3
	BacklightWhite      = 4

	FrontlightBrightness = 0
	FrontlightColourTemp = 1
)

// Layout is the immutable set of constants the generators read.
// It is built once at startup with DefaultLayout and passed by pointer.
type Layout struct {
	// Moving channels.
	WaveAmplitude float64
	WavePeriod    time.Duration
	WaveOffset    float64 // phase shift per channel, radians.

	// Rapid changes, period counted in packets.
	SquarePeriod int
	SquareHigh   byte
	SquareLow    byte

	// High data rate.
	VariationDelta int

	// Acceptance test fixtures.
	BacklightUniverse   dmx.Universe
	BacklightStarts     []int
	BacklightFootprint  int
	FrontlightUniverse  dmx.Universe
	FrontlightStarts    []int
	FrontlightFootprint int
}

// DefaultLayout returns the fixture patch and waveform constants used by the presets.
func DefaultLayout() *Layout {
	return &Layout{
		WaveAmplitude: 255,
		WavePeriod:    2000 * time.Millisecond,
		WaveOffset:    0.05,

		SquarePeriod: 20,
		SquareHigh:   255,
		SquareLow:    0,

		VariationDelta: 16,

		BacklightUniverse:   1,
		BacklightStarts:     []int{1, 9, 17, 25, 33, 41, 49, 57},
		BacklightFootprint:  5,
		FrontlightUniverse:  2,
		FrontlightStarts:    []int{1, 5, 9},
		FrontlightFootprint: 2,
	}
}

// BacklightLen is the buffer length needed to hold every backlight fixture.
func (l *Layout) BacklightLen() int {
	return lastAddress(l.BacklightStarts, l.BacklightFootprint)
}

// FrontlightLen is the buffer length needed to hold every frontlight fixture.
func (l *Layout) FrontlightLen() int {
	return lastAddress(l.FrontlightStarts, l.FrontlightFootprint)
}

func lastAddress(starts []int, footprint int) int {
	last := 0
	for _, s := range starts {
		if end := s + footprint - 1; end > last {
			last = end
		}
	}
	return last
}
