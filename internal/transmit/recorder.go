package transmit

import (
	"errors"
	"net/netip"
	"sort"
	"sync"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
)

// ErrNotRegistered is returned when data is sent on a universe that was never registered.
var ErrNotRegistered = errors.New("universe not registered")

// Packet is one transmission seen by a Recorder.
type Packet struct {
	Op       Op
	Universe dmx.Universe
	Dst      netip.Addr
	Sync     dmx.Universe
	Preview  bool
	Buf      dmx.Buffer
}

// Recorder is a Sender that keeps every transmission in memory and logs it.
// It backs the dry-run mode and the tests.
type Recorder struct {
	mu         sync.Mutex
	log        logger.Logger
	registered map[dmx.Universe]bool
	preview    bool
	packets    []Packet

	// Fail, when set, is consulted before every transmission; a non-nil result fails it.
	Fail func(p Packet) error
}

var _ Sender = (*Recorder)(nil)

// NewRecorder returns an empty recorder. log may be nil.
func NewRecorder(log logger.Logger) *Recorder {
	return &Recorder{
		log:        log,
		registered: map[dmx.Universe]bool{},
	}
}

func (r *Recorder) Register(u dmx.Universe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := u.Validate(); err != nil {
		return Wrap(OpRegister, u, err)
	}
	r.registered[u] = true
	r.debugf("register universe %d", u)
	return nil
}

func (r *Recorder) IsRegistered(u dmx.Universe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[u]
}

func (r *Recorder) Unregister(u dmx.Universe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, u)
	r.debugf("unregister universe %d", u)
}

func (r *Recorder) SendMulticast(u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	return r.record(Packet{Op: OpMulticast, Universe: u, Sync: sync, Buf: buf})
}

func (r *Recorder) SendUnicast(dst netip.Addr, u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	return r.record(Packet{Op: OpUnicast, Universe: u, Dst: dst, Sync: sync, Buf: buf})
}

func (r *Recorder) SendSync(sync dmx.Universe, dst netip.Addr) error {
	if err := sync.Validate(); err != nil {
		return Wrap(OpSync, sync, err)
	}
	return r.record(Packet{Op: OpSync, Sync: sync, Dst: dst})
}

func (r *Recorder) SetPreview(preview bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preview = preview
	r.debugf("preview data %v", preview)
}

func (r *Recorder) Terminate(u dmx.Universe) error {
	r.mu.Lock()
	registered := r.registered[u]
	r.mu.Unlock()
	if !registered {
		return Wrap(OpTerminate, u, ErrNotRegistered)
	}
	if err := r.record(Packet{Op: OpTerminate, Universe: u}); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.registered, u)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) TerminateAll() error {
	for _, u := range r.Registered() {
		if err := r.Terminate(u); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) Close() error {
	return nil
}

// Packets returns a copy of everything transmitted so far.
func (r *Recorder) Packets() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Packet, len(r.packets))
	copy(out, r.packets)
	return out
}

// Registered returns the registered universes in ascending order.
func (r *Recorder) Registered() []dmx.Universe {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dmx.Universe, 0, len(r.registered))
	for u := range r.registered {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Preview reports the current preview flag.
func (r *Recorder) Preview() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview
}

func (r *Recorder) record(p Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if (p.Op == OpMulticast || p.Op == OpUnicast) && !r.registered[p.Universe] {
		return Wrap(p.Op, p.Universe, ErrNotRegistered)
	}
	p.Preview = r.preview
	p.Buf = p.Buf.Clone()
	if r.Fail != nil {
		if err := r.Fail(p); err != nil {
			return Wrap(p.Op, p.Universe, err)
		}
	}
	r.packets = append(r.packets, p)

	if r.log != nil {
		r.log.With(logger.Fields{
			"module":   "dry-run",
			"op":       string(p.Op),
			"universe": p.Universe,
			"sync":     p.Sync,
			"dst":      p.Dst,
			"len":      len(p.Buf),
		}).Debug("packet")
	}
	return nil
}

func (r *Recorder) debugf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.With(logger.Fields{"module": "dry-run"}).Debugf(format, args...)
	}
}
