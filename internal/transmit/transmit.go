// Package transmit defines the sender facade the generators drive, plus the
// small senders that are not tied to a wire protocol.
package transmit

import (
	"errors"
	"fmt"
	"net/netip"

	"sacngen/internal/dmx"
)

// Sender is the transmission facade. A zero sync universe means the data is not
// synchronized; a zero destination address in SendSync means multicast.
type Sender interface {
	Register(u dmx.Universe) error
	IsRegistered(u dmx.Universe) bool
	// Unregister drops a registration without sending anything on the wire.
	Unregister(u dmx.Universe)
	SendMulticast(u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error
	SendUnicast(dst netip.Addr, u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error
	SendSync(sync dmx.Universe, dst netip.Addr) error
	SetPreview(preview bool)
	Terminate(u dmx.Universe) error
	TerminateAll() error
	Close() error
}

// Op names a facade operation in errors and logs.
type Op string

const (
	OpRegister  Op = "register"
	OpMulticast Op = "send-multicast"
	OpUnicast   Op = "send-unicast"
	OpSync      Op = "send-sync"
	OpTerminate Op = "terminate"
	OpClose     Op = "close"
)

// TransmissionError wraps any failure reported by a Sender.
type TransmissionError struct {
	Op       Op
	Universe dmx.Universe
	Err      error
}

func (e *TransmissionError) Error() string {
	if e.Universe == 0 {
		return fmt.Sprintf("transmission %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transmission %s universe %d: %v", e.Op, e.Universe, e.Err)
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *TransmissionError, keeping an existing one untouched.
func Wrap(op Op, u dmx.Universe, err error) error {
	if err == nil {
		return nil
	}
	var terr *TransmissionError
	if errors.As(err, &terr) {
		return err
	}
	return &TransmissionError{Op: op, Universe: u, Err: err}
}
