// Package dmx holds the universe buffer model shared by the generators,
// the dispatcher and the senders.
package dmx

import (
	"fmt"
	"math"
)

const (
	// MaxChannels is the number of addressable channels in one universe.
	MaxChannels = 512
	// BufferLen is the full buffer length: start code + MaxChannels.
	BufferLen = MaxChannels + 1

	// StartCodeData is the null start code carried by level data.
	StartCodeData byte = 0x00

	// MinUniverse and MaxUniverse bound the universes a source may use.
	MinUniverse Universe = 1
	MaxUniverse Universe = 63999
)

// Universe is an sACN universe number. 0 is used as "no universe" for sync addresses.
type Universe uint16

// Validate reports whether u is inside the data universe range.
func (u Universe) Validate() error {
	if u < MinUniverse || u > MaxUniverse {
		return &RangeError{Address: int(u), Length: int(MaxUniverse), Reason: "universe out of range"}
	}
	return nil
}

// Buffer wraps the start code and up to 512 channel values.
// Index 0 is the start code, index N is channel address N.
type Buffer []byte

// Len returns the number of addressable channels in the buffer.
func (b Buffer) Len() int {
	if len(b) == 0 {
		return 0
	}
	return len(b) - 1
}

// At returns the value at a 1-based address.
func (b Buffer) At(address int) (byte, error) {
	if address < 1 || address > b.Len() {
		return 0, &RangeError{Address: address, Length: b.Len(), Reason: "address outside buffer"}
	}
	return b[address], nil
}

// Channels returns the channel values without the start code.
func (b Buffer) Channels() []byte {
	if len(b) == 0 {
		return nil
	}
	return b[1:]
}

// Clone returns an independent copy of the buffer.
func (b Buffer) Clone() Buffer {
	if b == nil {
		return nil
	}
	out := make(Buffer, len(b))
	copy(out, b)
	return out
}

// Array512 returns the channel values as a fixed size frame, zero padded.
func (b Buffer) Array512() [MaxChannels]byte {
	var out [MaxChannels]byte
	copy(out[:], b.Channels())
	return out
}

// BuildStatic creates a buffer of exact length holding values from address 1.
// Values beyond the universe capacity are rejected by the callers that take user input;
// here they are truncated so the length invariant always holds.
func BuildStatic(values []byte) Buffer {
	if len(values) > MaxChannels {
		values = values[:MaxChannels]
	}
	buf := make(Buffer, len(values)+1)
	buf[0] = StartCodeData
	copy(buf[1:], values)
	return buf
}

// BuildFull creates a full universe buffer with values from address 1, zero padded.
func BuildFull(values []byte) (Buffer, error) {
	if len(values) > MaxChannels {
		return nil, &RangeError{Address: len(values), Length: MaxChannels, Reason: "too many values"}
	}
	buf := make(Buffer, BufferLen)
	copy(buf[1:], values)
	return buf, nil
}

// BuildAt creates a buffer just long enough to hold values starting at address.
func BuildAt(address int, values []byte) (Buffer, error) {
	if address < 1 || address > MaxChannels {
		return nil, &RangeError{Address: address, Length: MaxChannels, Reason: "start address out of range"}
	}
	end := address + len(values) - 1
	if end > MaxChannels {
		return nil, &RangeError{Address: end, Length: MaxChannels, Reason: "values run past the last channel"}
	}
	if end < address {
		end = address - 1
	}
	buf := make(Buffer, end+1)
	copy(buf[address:], values)
	return buf, nil
}

// Fill creates a full universe buffer with addresses 1..span set to value.
func Fill(span int, value byte) (Buffer, error) {
	if span < 0 || span > MaxChannels {
		return nil, &RangeError{Address: span, Length: MaxChannels, Reason: "span out of range"}
	}
	buf := make(Buffer, BufferLen)
	for i := 1; i <= span; i++ {
		buf[i] = value
	}
	return buf, nil
}

// ApplyPatch returns a copy of buf where only [from, from+len(values)) is replaced.
// The input buffer is never modified.
func ApplyPatch(buf Buffer, from int, values []byte) (Buffer, error) {
	end := from + len(values) - 1
	if from < 1 || end > buf.Len() {
		return nil, &RangeError{Address: from, Length: buf.Len(), Reason: fmt.Sprintf("patch %d..%d outside buffer", from, end)}
	}
	out := buf.Clone()
	copy(out[from:], values)
	return out, nil
}

// Clamp rounds v to the nearest integer and limits it to a byte.
func Clamp(v float64) byte {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	}
	return byte(r)
}

// ClampInt limits v to a byte.
func ClampInt(v int) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

// RangeError is returned when an address, span or universe falls outside its bounds.
type RangeError struct {
	Address int
	Length  int
	Reason  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range error: %s (address %d, limit %d)", e.Reason, e.Address, e.Length)
}
