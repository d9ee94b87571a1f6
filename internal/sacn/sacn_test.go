package sacn

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/transmit"
)

var testCID = uuid.MustParse("12345678-9abc-def0-1234-56789abcdef0")

func TestMulticastAddr(t *testing.T) {
	tests := []struct {
		universe dmx.Universe
		want     string
	}{
		{1, "239.255.0.1"},
		{255, "239.255.0.255"},
		{256, "239.255.1.0"},
		{63999, "239.255.249.255"},
	}
	for _, tt := range tests {
		addr := MulticastAddr(tt.universe)
		assert.Equal(t, tt.want, addr.String())
		assert.True(t, addr.IsMulticast())
	}
}

func TestBuildDataPacket(t *testing.T) {
	buf := dmx.BuildStatic([]byte{255, 128, 64})
	p, err := BuildDataPacket(DataHeader{
		CID:         testCID,
		SourceName:  "test-source",
		Priority:    100,
		SyncAddress: 7,
		Sequence:    42,
		Options:     OptionPreview,
		Universe:    513,
	}, buf)
	require.NoError(t, err)
	require.Len(t, p, DataHeaderSize+3)

	assert.Equal(t, uint16(0x0010), binary.BigEndian.Uint16(p[0:2]))
	assert.Equal(t, ACNPacketIdentifier[:], p[4:16])
	assert.Equal(t, uint16(0x7000|(len(p)-16)), binary.BigEndian.Uint16(p[16:18]))
	assert.Equal(t, uint32(VectorRootData), binary.BigEndian.Uint32(p[18:22]))
	assert.Equal(t, testCID[:], p[22:38])

	assert.Equal(t, uint16(0x7000|(len(p)-38)), binary.BigEndian.Uint16(p[38:40]))
	assert.Equal(t, uint32(VectorFramingData), binary.BigEndian.Uint32(p[40:44]))
	assert.Equal(t, "test-source", string(p[44:55]))
	assert.Zero(t, p[55])
	assert.Equal(t, byte(100), p[108])
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(p[109:111]))
	assert.Equal(t, byte(42), p[111])
	assert.Equal(t, OptionPreview, p[112])
	assert.Equal(t, uint16(513), binary.BigEndian.Uint16(p[113:115]))

	assert.Equal(t, uint16(0x7000|(len(p)-115)), binary.BigEndian.Uint16(p[115:117]))
	assert.Equal(t, byte(VectorDMPSetProp), p[117])
	assert.Equal(t, byte(0xa1), p[118])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(p[121:123]))
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(p[123:125]))
	assert.Equal(t, []byte{0, 255, 128, 64}, p[125:])
}

func TestBuildDataPacketFullUniverse(t *testing.T) {
	buf, err := dmx.BuildFull(nil)
	require.NoError(t, err)
	p, err := BuildDataPacket(DataHeader{CID: testCID, Universe: 1}, buf)
	require.NoError(t, err)
	assert.Len(t, p, 638)
}

func TestBuildDataPacketErrors(t *testing.T) {
	_, err := BuildDataPacket(DataHeader{Universe: 0}, nil)
	assert.Error(t, err)
	_, err = BuildDataPacket(DataHeader{Universe: 1, Priority: 201}, nil)
	assert.Error(t, err)
	_, err = BuildDataPacket(DataHeader{Universe: 1}, make(dmx.Buffer, dmx.BufferLen+1))
	assert.Error(t, err)
}

func TestBuildSyncPacket(t *testing.T) {
	p, err := BuildSyncPacket(testCID, 9, 300)
	require.NoError(t, err)
	require.Len(t, p, SyncPacketSize)
	assert.Equal(t, uint16(0x7000|33), binary.BigEndian.Uint16(p[16:18]))
	assert.Equal(t, uint32(VectorRootExtended), binary.BigEndian.Uint32(p[18:22]))
	assert.Equal(t, uint16(0x7000|11), binary.BigEndian.Uint16(p[38:40]))
	assert.Equal(t, uint32(VectorFramingSync), binary.BigEndian.Uint32(p[40:44]))
	assert.Equal(t, byte(9), p[44])
	assert.Equal(t, uint16(300), binary.BigEndian.Uint16(p[45:47]))

	_, err = BuildSyncPacket(testCID, 0, 0)
	assert.Error(t, err)
}

func listen(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func read(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	b := make([]byte, 1024)
	n, _, err := conn.ReadFromUDP(b)
	require.NoError(t, err)
	return b[:n]
}

func newTestSource(t *testing.T, port int) *Source {
	t.Helper()
	src, err := NewSource(logger.Nop(), Options{
		Name:     "unit",
		CID:      testCID,
		Bind:     net.IPv4(127, 0, 0, 1),
		Priority: 100,
		Port:     port,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestSourceUnicast(t *testing.T) {
	conn, port := listen(t)
	src := newTestSource(t, port)
	lo := netip.MustParseAddr("127.0.0.1")

	err := src.SendUnicast(lo, 1, dmx.BuildStatic([]byte{1}), 0)
	var terr *transmit.TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, src.Register(1))
	for i := 0; i < 3; i++ {
		require.NoError(t, src.SendUnicast(lo, 1, dmx.BuildStatic([]byte{byte(i)}), 0))
		p := read(t, conn)
		assert.Equal(t, byte(i), p[111], "sequence increments per packet")
		assert.Equal(t, byte(i), p[126])
		assert.Equal(t, testCID[:], p[22:38])
	}

	src.SetPreview(true)
	require.NoError(t, src.SendUnicast(lo, 1, dmx.BuildStatic([]byte{9}), 5))
	p := read(t, conn)
	assert.Equal(t, OptionPreview, p[112]&OptionPreview)
	assert.Equal(t, uint16(5), binary.BigEndian.Uint16(p[109:111]))
}

func TestSourceSyncUnicast(t *testing.T) {
	conn, port := listen(t)
	src := newTestSource(t, port)
	lo := netip.MustParseAddr("127.0.0.1")

	require.NoError(t, src.SendSync(10, lo))
	require.NoError(t, src.SendSync(10, lo))
	first, second := read(t, conn), read(t, conn)
	require.Len(t, first, SyncPacketSize)
	assert.Equal(t, byte(0), first[44])
	assert.Equal(t, byte(1), second[44])
	assert.Equal(t, uint16(10), binary.BigEndian.Uint16(first[45:47]))
}

func TestSourceTerminate(t *testing.T) {
	conn, port := listen(t)
	src := newTestSource(t, port)
	lo := netip.MustParseAddr("127.0.0.1")

	require.NoError(t, src.Register(2))
	require.NoError(t, src.SendUnicast(lo, 2, dmx.BuildStatic([]byte{77}), 0))
	read(t, conn)

	// multicast copies may fail on hosts without a multicast route; the unicast
	// destination is what this test observes.
	if err := src.Terminate(2); err != nil {
		t.Skipf("multicast not available: %v", err)
	}
	for i := 0; i < terminationRepeats; i++ {
		p := read(t, conn)
		assert.Equal(t, OptionTerminated, p[112]&OptionTerminated)
		assert.Equal(t, byte(77), p[126], "termination repeats the last levels")
	}

	assert.ErrorIs(t, src.Terminate(2), ErrNotRegistered)
}

func TestSourceRejectsBroadcastWhenDisabled(t *testing.T) {
	_, port := listen(t)
	src := newTestSource(t, port)
	require.NoError(t, src.Register(1))
	err := src.SendUnicast(netip.MustParseAddr("255.255.255.255"), 1, dmx.BuildStatic(nil), 0)
	assert.ErrorIs(t, err, ErrBroadcastDisabled)
}

func TestSourceClosed(t *testing.T) {
	_, port := listen(t)
	src := newTestSource(t, port)
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Register(1), ErrClosed)
	assert.ErrorIs(t, src.SendSync(1, netip.Addr{}), ErrClosed)
}

func TestSourceUnregister(t *testing.T) {
	conn, port := listen(t)
	src := newTestSource(t, port)
	lo := netip.MustParseAddr("127.0.0.1")

	require.NoError(t, src.Register(3))
	assert.True(t, src.IsRegistered(3))
	require.NoError(t, src.SendUnicast(lo, 3, dmx.BuildStatic([]byte{5}), 0))
	read(t, conn)

	src.Unregister(3)
	assert.False(t, src.IsRegistered(3))
	assert.ErrorIs(t, src.SendUnicast(lo, 3, dmx.BuildStatic([]byte{5}), 0), ErrNotRegistered)
	assert.ErrorIs(t, src.Terminate(3), ErrNotRegistered, "no termination for a dropped universe")
}
