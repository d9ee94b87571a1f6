// Package action turns command lines into actions and dispatches them to the
// generators, the scheduler and the sender.
package action

import (
	"net/netip"
	"time"

	"sacngen/internal/dmx"
	"sacngen/internal/preset"
)

// Action is one parsed command. The set of variants is closed.
type Action interface {
	isAction()
}

// SendData sends Values once, starting at Address.
type SendData struct {
	Universe dmx.Universe
	Address  int
	Values   []byte
}

// SendAllData sends a full universe with addresses 1..Span set to Value.
type SendAllData struct {
	Universe dmx.Universe
	Span     int
	Value    byte
}

// SendFullData sends Values from address 1, zero padded to a full universe.
type SendFullData struct {
	Universe dmx.Universe
	Values   []byte
}

// SendDataOverTime varies Values randomly until Duration elapses.
type SendDataOverTime struct {
	Universe dmx.Universe
	Duration time.Duration
	Values   []byte
}

// Register announces a universe to the sender.
type Register struct {
	Universe dmx.Universe
}

// Unicast is SendData addressed to a single receiver.
type Unicast struct {
	Dst      netip.Addr
	Universe dmx.Universe
	Address  int
	Values   []byte
}

// UnicastSync sends a synchronization packet to a single receiver.
type UnicastSync struct {
	Dst  netip.Addr
	Sync dmx.Universe
}

// Sync multicasts a synchronization packet.
type Sync struct {
	Sync dmx.Universe
}

// Sleep suspends the dispatch loop.
type Sleep struct {
	Duration time.Duration
}

// Preview toggles the preview data flag.
type Preview struct{}

// Terminate ends the stream of Universe, or of every universe when Universe is 0.
type Terminate struct {
	Universe dmx.Universe
}

// RunTestPreset plays a preset. Dst is required by unicast presets only.
type RunTestPreset struct {
	ID  preset.ID
	Dst netip.Addr
}

// Ignore is a comment or blank line.
type Ignore struct{}

func (SendData) isAction()         {}
func (SendAllData) isAction()      {}
func (SendFullData) isAction()     {}
func (SendDataOverTime) isAction() {}
func (Register) isAction()         {}
func (Unicast) isAction()          {}
func (UnicastSync) isAction()      {}
func (Sync) isAction()             {}
func (Sleep) isAction()            {}
func (Preview) isAction()          {}
func (Terminate) isAction()        {}
func (RunTestPreset) isAction()    {}
func (Ignore) isAction()           {}

// Name returns the long command token of a.
func Name(a Action) string {
	switch a.(type) {
	case SendData:
		return "data"
	case SendAllData:
		return "all"
	case SendFullData:
		return "full"
	case SendDataOverTime:
		return "over"
	case Register:
		return "register"
	case Unicast:
		return "unicast"
	case UnicastSync:
		return "unicast_sync"
	case Sync:
		return "sync"
	case Sleep:
		return "sleep"
	case Preview:
		return "preview"
	case Terminate:
		return "terminate"
	case RunTestPreset:
		return "test"
	case Ignore:
		return "ignore"
	}
	return "unknown"
}
