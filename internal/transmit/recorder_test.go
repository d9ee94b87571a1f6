package transmit

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacngen/internal/dmx"
)

func TestRecorderRequiresRegistration(t *testing.T) {
	r := NewRecorder(nil)

	err := r.SendMulticast(1, dmx.BuildStatic([]byte{1}), 0)
	require.ErrorIs(t, err, ErrNotRegistered)
	var terr *TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, OpMulticast, terr.Op)
	assert.Equal(t, dmx.Universe(1), terr.Universe)

	require.NoError(t, r.Register(1))
	require.NoError(t, r.SendMulticast(1, dmx.BuildStatic([]byte{1}), 0))
	assert.Len(t, r.Packets(), 1)
}

func TestRecorderRejectsBadUniverse(t *testing.T) {
	r := NewRecorder(nil)
	var rerr *dmx.RangeError
	assert.True(t, errors.As(r.Register(0), &rerr))
	assert.True(t, errors.As(r.Register(64000), &rerr))
	assert.Empty(t, r.Registered())
}

func TestRecorderCopiesBuffers(t *testing.T) {
	r := NewRecorder(nil)
	require.NoError(t, r.Register(3))

	buf := dmx.BuildStatic([]byte{10, 20})
	require.NoError(t, r.SendUnicast(netip.MustParseAddr("10.0.0.9"), 3, buf, 0))
	buf[1] = 99

	p := r.Packets()[0]
	assert.Equal(t, dmx.Buffer{0, 10, 20}, p.Buf)
	assert.Equal(t, netip.MustParseAddr("10.0.0.9"), p.Dst)
}

func TestRecorderPreviewFlag(t *testing.T) {
	r := NewRecorder(nil)
	require.NoError(t, r.Register(1))

	require.NoError(t, r.SendMulticast(1, dmx.BuildStatic(nil), 0))
	r.SetPreview(true)
	require.NoError(t, r.SendMulticast(1, dmx.BuildStatic(nil), 0))

	packets := r.Packets()
	assert.False(t, packets[0].Preview)
	assert.True(t, packets[1].Preview)
	assert.True(t, r.Preview())
}

func TestRecorderTerminate(t *testing.T) {
	r := NewRecorder(nil)
	require.NoError(t, r.Register(2))
	require.NoError(t, r.Register(1))
	assert.Equal(t, []dmx.Universe{1, 2}, r.Registered())

	require.NoError(t, r.Terminate(2))
	assert.Equal(t, []dmx.Universe{1}, r.Registered())
	require.ErrorIs(t, r.Terminate(2), ErrNotRegistered)

	require.NoError(t, r.Register(5))
	require.NoError(t, r.TerminateAll())
	assert.Empty(t, r.Registered())

	var ops []Op
	var universes []dmx.Universe
	for _, p := range r.Packets() {
		ops = append(ops, p.Op)
		universes = append(universes, p.Universe)
	}
	assert.Equal(t, []Op{OpTerminate, OpTerminate, OpTerminate}, ops)
	assert.Equal(t, []dmx.Universe{2, 1, 5}, universes)
}

func TestRecorderFailHook(t *testing.T) {
	r := NewRecorder(nil)
	boom := errors.New("boom")
	r.Fail = func(p Packet) error {
		if p.Op == OpSync {
			return boom
		}
		return nil
	}
	err := r.SendSync(64, netip.Addr{})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, r.Packets())
}

func TestWrapKeepsTransmissionError(t *testing.T) {
	assert.NoError(t, Wrap(OpSync, 1, nil))

	inner := &TransmissionError{Op: OpUnicast, Universe: 4, Err: errors.New("x")}
	assert.Same(t, inner, Wrap(OpMulticast, 9, inner).(*TransmissionError))

	err := Wrap(OpClose, 0, errors.New("closed"))
	assert.Equal(t, "transmission close: closed", err.Error())
}

func TestRecorderSyncRejectsBadUniverse(t *testing.T) {
	r := NewRecorder(nil)
	for _, u := range []dmx.Universe{0, 64000} {
		err := r.SendSync(u, netip.Addr{})
		var terr *TransmissionError
		require.True(t, errors.As(err, &terr), "universe %d", u)
		assert.Equal(t, OpSync, terr.Op)
		assert.Equal(t, u, terr.Universe)
		var rerr *dmx.RangeError
		assert.True(t, errors.As(err, &rerr))
	}
	assert.Empty(t, r.Packets())

	require.NoError(t, r.SendSync(dmx.MaxUniverse, netip.Addr{}))
	assert.Len(t, r.Packets(), 1)
}

func TestRecorderUnregister(t *testing.T) {
	r := NewRecorder(nil)
	require.NoError(t, r.Register(1))
	require.NoError(t, r.Register(2))
	assert.True(t, r.IsRegistered(2))

	r.Unregister(2)
	r.Unregister(9)
	assert.False(t, r.IsRegistered(2))
	assert.Equal(t, []dmx.Universe{1}, r.Registered())
	assert.Empty(t, r.Packets(), "unregistering sends nothing")
	assert.ErrorIs(t, r.Terminate(2), ErrNotRegistered)
}
