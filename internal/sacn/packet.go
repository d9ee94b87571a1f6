package sacn

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"sacngen/internal/dmx"
)

// E1.31 constants.
const (
	Port = 5568

	DataHeaderSize = 126
	SyncPacketSize = 49
	SourceNameSize = 64

	VectorRootData     = 0x00000004
	VectorRootExtended = 0x00000008
	VectorFramingData  = 0x00000002
	VectorFramingSync  = 0x00000001
	VectorDMPSetProp   = 0x02

	OptionPreview    byte = 0x80
	OptionTerminated byte = 0x40
	OptionForceSync  byte = 0x20

	DefaultPriority = 100
	MaxPriority     = 200
)

// ACNPacketIdentifier opens every E1.31 root layer.
var ACNPacketIdentifier = [12]byte{0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00}

// DataHeader holds the framing fields of a data packet.
type DataHeader struct {
	CID         uuid.UUID
	SourceName  string
	Priority    uint8
	SyncAddress dmx.Universe
	Sequence    uint8
	Options     byte
	Universe    dmx.Universe
}

// MulticastAddr returns the 239.255.hi.lo group of a universe.
func MulticastAddr(u dmx.Universe) netip.Addr {
	return netip.AddrFrom4([4]byte{239, 255, byte(u >> 8), byte(u)})
}

// BuildDataPacket encodes a data packet. buf[0] is the start code.
func BuildDataPacket(h DataHeader, buf dmx.Buffer) ([]byte, error) {
	if err := h.Universe.Validate(); err != nil {
		return nil, err
	}
	if h.Priority > MaxPriority {
		return nil, fmt.Errorf("priority %d above %d", h.Priority, MaxPriority)
	}
	if len(buf) > dmx.BufferLen {
		return nil, &dmx.RangeError{Address: len(buf) - 1, Length: dmx.MaxChannels, Reason: "buffer too long"}
	}
	if len(buf) == 0 {
		buf = dmx.Buffer{dmx.StartCodeData}
	}

	size := DataHeaderSize - 1 + len(buf)
	p := make([]byte, size)

	writeRoot(p, size, VectorRootData, h.CID)

	// framing layer
	putFlagsLength(p[38:], size-38)
	binary.BigEndian.PutUint32(p[40:], VectorFramingData)
	copy(p[44:44+SourceNameSize-1], h.SourceName)
	p[108] = h.Priority
	binary.BigEndian.PutUint16(p[109:], uint16(h.SyncAddress))
	p[111] = h.Sequence
	p[112] = h.Options
	binary.BigEndian.PutUint16(p[113:], uint16(h.Universe))

	// DMP layer
	putFlagsLength(p[115:], size-115)
	p[117] = VectorDMPSetProp
	p[118] = 0xa1
	binary.BigEndian.PutUint16(p[119:], 0x0000)
	binary.BigEndian.PutUint16(p[121:], 0x0001)
	binary.BigEndian.PutUint16(p[123:], uint16(len(buf)))
	copy(p[125:], buf)
	return p, nil
}

// BuildSyncPacket encodes a synchronization packet for the sync universe.
func BuildSyncPacket(cid uuid.UUID, sequence uint8, sync dmx.Universe) ([]byte, error) {
	if err := sync.Validate(); err != nil {
		return nil, err
	}
	p := make([]byte, SyncPacketSize)
	writeRoot(p, SyncPacketSize, VectorRootExtended, cid)

	putFlagsLength(p[38:], SyncPacketSize-38)
	binary.BigEndian.PutUint32(p[40:], VectorFramingSync)
	p[44] = sequence
	binary.BigEndian.PutUint16(p[45:], uint16(sync))
	// 47-48 reserved
	return p, nil
}

func writeRoot(p []byte, size int, vector uint32, cid uuid.UUID) {
	binary.BigEndian.PutUint16(p[0:], 0x0010) // preamble size
	binary.BigEndian.PutUint16(p[2:], 0x0000) // postamble size
	copy(p[4:16], ACNPacketIdentifier[:])
	putFlagsLength(p[16:], size-16)
	binary.BigEndian.PutUint32(p[18:], vector)
	copy(p[22:38], cid[:])
}

func putFlagsLength(p []byte, length int) {
	binary.BigEndian.PutUint16(p, 0x7000|uint16(length&0x0fff))
}
