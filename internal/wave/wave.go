// Package wave contains the pure generators that compute universe buffers
// for the test presets. None of them keep state between calls: whatever a
// generator needs from the past is passed in by the caller.
package wave

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"sacngen/internal/dmx"
)

// AcceptanceSteps is the number of states in the acceptance test.
const AcceptanceSteps = 4

// Sine returns the moving-channel value of the zero based channel index at elapsed time.
func Sine(l *Layout, channel int, elapsed time.Duration) byte {
	// Reduce modulo the period first so the result is exactly periodic.
	t := elapsed % l.WavePeriod
	if t < 0 {
		t += l.WavePeriod
	}
	x := 2*math.Pi*float64(t)/float64(l.WavePeriod) + float64(channel)*l.WaveOffset
	return dmx.Clamp(l.WaveAmplitude * (1 + math.Sin(x)) / 2)
}

// Moving builds a buffer of the given channel count with phase shifted sine values.
func Moving(l *Layout, elapsed time.Duration, channels int) dmx.Buffer {
	values := make([]byte, channels)
	for i := range values {
		values[i] = Sine(l, i, elapsed)
	}
	return dmx.BuildStatic(values)
}

// Square returns the rapid-change value for packet number n.
func Square(l *Layout, n int) byte {
	if l.SquarePeriod <= 1 {
		return l.SquareHigh
	}
	if n%l.SquarePeriod < l.SquarePeriod/2 {
		return l.SquareHigh
	}
	return l.SquareLow
}

// RapidChange builds a buffer where every channel holds the square wave value for packet n.
func RapidChange(l *Layout, n int, channels int) dmx.Buffer {
	values := make([]byte, channels)
	v := Square(l, n)
	for i := range values {
		values[i] = v
	}
	return dmx.BuildStatic(values)
}

// Vary returns a copy of prev where every channel moved by a random step in [-delta, delta].
// The start code is preserved.
func Vary(prev dmx.Buffer, delta int, rnd *rand.Rand) dmx.Buffer {
	out := prev.Clone()
	if delta <= 0 {
		return out
	}
	for a := 1; a < len(out); a++ {
		step := rnd.IntN(2*delta+1) - delta
		out[a] = dmx.ClampInt(int(out[a]) + step)
	}
	return out
}

// AcceptanceBacklight returns the backlight universe buffer for step 1..4.
// Step 1 ignores prev. Every later step is a patch of the buffer produced by the previous step.
func AcceptanceBacklight(l *Layout, step int, prev dmx.Buffer) (dmx.Buffer, error) {
	if step == 1 {
		buf := make(dmx.Buffer, l.BacklightLen()+1)
		for _, s := range l.BacklightStarts {
			for c := 0; c < l.BacklightFootprint; c++ {
				buf[s+c] = 255
			}
		}
		return buf, nil
	}
	if step < 1 || step > AcceptanceSteps {
		return nil, fmt.Errorf("acceptance step %d out of range 1..%d", step, AcceptanceSteps)
	}
	if len(prev) != l.BacklightLen()+1 {
		return nil, fmt.Errorf("acceptance step %d needs the step %d buffer (got %d bytes)", step, step-1, len(prev))
	}

	var (
		offset int
		patch  []byte
	)
	switch step {
	case 2:
		offset, patch = BacklightRed, []byte{255, 0, 0, 0}
	case 3:
		offset, patch = BacklightRed, []byte{0, 0, 255, 0}
	case 4:
		offset, patch = BacklightBrightness, []byte{0}
	}

	out := prev
	for _, s := range l.BacklightStarts {
		next, err := dmx.ApplyPatch(out, s+offset, patch)
		if err != nil {
			return nil, fmt.Errorf("acceptance step %d: %w", step, err)
		}
		out = next
	}
	return out, nil
}

// AcceptanceFrontlight returns the frontlight universe buffer for step 1..4.
func AcceptanceFrontlight(l *Layout, step int) (dmx.Buffer, error) {
	if step < 1 || step > AcceptanceSteps {
		return nil, fmt.Errorf("acceptance step %d out of range 1..%d", step, AcceptanceSteps)
	}
	var level byte = 255
	if step == AcceptanceSteps {
		level = 0
	}
	buf := make(dmx.Buffer, l.FrontlightLen()+1)
	for _, s := range l.FrontlightStarts {
		buf[s+FrontlightBrightness] = level
	}
	return buf, nil
}
