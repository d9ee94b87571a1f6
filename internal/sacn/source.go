// Package sacn is the E1.31 transmitting side used by the generator: packet
// encoding, per universe sequence numbers, multicast/unicast/broadcast
// delivery, synchronization and stream termination.
package sacn

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/transmit"
)

// terminationRepeats is how many stream terminated packets are sent (E1.31 6.2.6).
const terminationRepeats = 3

var (
	ErrNotRegistered     = transmit.ErrNotRegistered
	ErrBroadcastDisabled = errors.New("broadcast destination while broadcast is disabled")
	ErrClosed            = errors.New("source closed")
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Options configures a Source.
type Options struct {
	Name      string
	CID       uuid.UUID
	Bind      net.IP
	Interface string
	TTL       int
	Loopback  bool
	Priority  uint8
	Broadcast bool
	Port      int // destination port, Port when zero.
}

// Source is an sACN source bound to one UDP socket.
type Source struct {
	mu         sync.Mutex
	log        logger.Logger
	opts       Options
	conn       *net.UDPConn
	pconn      *ipv4.PacketConn
	preview    bool
	registered map[dmx.Universe]bool
	seq        map[dmx.Universe]uint8
	syncSeq    map[dmx.Universe]uint8
	last       map[dmx.Universe]dmx.Buffer
	unicast    map[dmx.Universe]map[netip.Addr]struct{}
}

var _ transmit.Sender = (*Source)(nil)

// NewSource opens the socket and applies the multicast options.
func NewSource(log logger.Logger, opts Options) (*Source, error) {
	if opts.CID == uuid.Nil {
		opts.CID = uuid.New()
	}
	if opts.Port == 0 {
		opts.Port = Port
	}
	if opts.Priority > MaxPriority {
		return nil, fmt.Errorf("priority %d above %d", opts.Priority, MaxPriority)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: opts.Bind})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	p := ipv4.NewPacketConn(conn)
	if opts.Interface != "" {
		ifi, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("interface %q: %w", opts.Interface, err)
		}
		if err := p.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}
	if opts.TTL > 0 {
		if err := p.SetMulticastTTL(opts.TTL); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set multicast TTL: %w", err)
		}
	}
	if err := p.SetMulticastLoopback(opts.Loopback); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}

	log.With(logger.Fields{"module": "sacn"}).Infof("source %q cid %s on %s", opts.Name, opts.CID, conn.LocalAddr())

	return &Source{
		log:        log,
		opts:       opts,
		conn:       conn,
		pconn:      p,
		registered: map[dmx.Universe]bool{},
		seq:        map[dmx.Universe]uint8{},
		syncSeq:    map[dmx.Universe]uint8{},
		last:       map[dmx.Universe]dmx.Buffer{},
		unicast:    map[dmx.Universe]map[netip.Addr]struct{}{},
	}, nil
}

// CID returns the component identifier carried in every packet.
func (s *Source) CID() uuid.UUID {
	return s.opts.CID
}

func (s *Source) Register(u dmx.Universe) error {
	if err := u.Validate(); err != nil {
		return transmit.Wrap(transmit.OpRegister, u, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return transmit.Wrap(transmit.OpRegister, u, ErrClosed)
	}
	if !s.registered[u] {
		s.registered[u] = true
		s.log.With(logger.Fields{"module": "sacn"}).Debugf("universe %d registered", u)
	}
	return nil
}

func (s *Source) IsRegistered(u dmx.Universe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered[u]
}

// Unregister forgets u without sending the stream terminated option.
func (s *Source) Unregister(u dmx.Universe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, u)
	delete(s.last, u)
	delete(s.unicast, u)
}

func (s *Source) SendMulticast(u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sendData(MulticastAddr(u), u, buf, sync, 0)
	return transmit.Wrap(transmit.OpMulticast, u, err)
}

func (s *Source) SendUnicast(dst netip.Addr, u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDestination(dst); err != nil {
		return transmit.Wrap(transmit.OpUnicast, u, err)
	}
	if err := s.sendData(dst, u, buf, sync, 0); err != nil {
		return transmit.Wrap(transmit.OpUnicast, u, err)
	}
	if s.unicast[u] == nil {
		s.unicast[u] = map[netip.Addr]struct{}{}
	}
	s.unicast[u][dst] = struct{}{}
	return nil
}

func (s *Source) SendSync(sync dmx.Universe, dst netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return transmit.Wrap(transmit.OpSync, sync, ErrClosed)
	}
	if !dst.IsValid() {
		dst = MulticastAddr(sync)
	} else if err := s.checkDestination(dst); err != nil {
		return transmit.Wrap(transmit.OpSync, sync, err)
	}

	seq := s.syncSeq[sync]
	p, err := BuildSyncPacket(s.opts.CID, seq, sync)
	if err != nil {
		return transmit.Wrap(transmit.OpSync, sync, err)
	}
	if err := s.write(p, dst); err != nil {
		return transmit.Wrap(transmit.OpSync, sync, err)
	}
	s.syncSeq[sync] = seq + 1
	return nil
}

func (s *Source) SetPreview(preview bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = preview
}

// Terminate sends the stream terminated option for u to every destination it was sent to.
func (s *Source) Terminate(u dmx.Universe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transmit.Wrap(transmit.OpTerminate, u, s.terminate(u))
}

func (s *Source) TerminateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	universes := make([]dmx.Universe, 0, len(s.registered))
	for u := range s.registered {
		universes = append(universes, u)
	}
	sort.Slice(universes, func(i, j int) bool { return universes[i] < universes[j] })

	var errs []error
	for _, u := range universes {
		if err := s.terminate(u); err != nil {
			errs = append(errs, transmit.Wrap(transmit.OpTerminate, u, err))
		}
	}
	return errors.Join(errs...)
}

// Close terminates every registered universe and closes the socket.
func (s *Source) Close() error {
	err := s.TerminateAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return err
	}
	if cerr := s.conn.Close(); cerr != nil {
		err = errors.Join(err, transmit.Wrap(transmit.OpClose, 0, cerr))
	}
	s.conn = nil
	s.pconn = nil
	return err
}

func (s *Source) terminate(u dmx.Universe) error {
	if !s.registered[u] {
		return ErrNotRegistered
	}
	buf := s.last[u]
	if buf == nil {
		buf = dmx.Buffer{dmx.StartCodeData}
	}

	targets := []netip.Addr{MulticastAddr(u)}
	for dst := range s.unicast[u] {
		targets = append(targets, dst)
	}
	for i := 0; i < terminationRepeats; i++ {
		for _, dst := range targets {
			if err := s.sendData(dst, u, buf, 0, OptionTerminated); err != nil {
				return err
			}
		}
	}

	delete(s.registered, u)
	delete(s.last, u)
	delete(s.unicast, u)
	s.log.With(logger.Fields{"module": "sacn"}).Debugf("universe %d terminated", u)
	return nil
}

func (s *Source) sendData(dst netip.Addr, u dmx.Universe, buf dmx.Buffer, sync dmx.Universe, options byte) error {
	if s.conn == nil {
		return ErrClosed
	}
	if !s.registered[u] {
		return ErrNotRegistered
	}
	if s.preview {
		options |= OptionPreview
	}

	seq := s.seq[u]
	p, err := BuildDataPacket(DataHeader{
		CID:         s.opts.CID,
		SourceName:  s.opts.Name,
		Priority:    s.opts.Priority,
		SyncAddress: sync,
		Sequence:    seq,
		Options:     options,
		Universe:    u,
	}, buf)
	if err != nil {
		return err
	}
	if err := s.write(p, dst); err != nil {
		return err
	}
	s.seq[u] = seq + 1
	if options&OptionTerminated == 0 {
		s.last[u] = buf.Clone()
	}
	return nil
}

func (s *Source) checkDestination(dst netip.Addr) error {
	if !dst.IsValid() || !dst.Is4() {
		return fmt.Errorf("destination %v is not an IPv4 address", dst)
	}
	if dst == limitedBroadcast && !s.opts.Broadcast {
		return ErrBroadcastDisabled
	}
	return nil
}

func (s *Source) write(p []byte, dst netip.Addr) error {
	_, err := s.conn.WriteToUDPAddrPort(p, netip.AddrPortFrom(dst, uint16(s.opts.Port)))
	return err
}
