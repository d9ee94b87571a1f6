package artnet

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/Haba1234/go-artnet"

	"sacngen/internal/dmx"
	"sacngen/internal/logger"
	"sacngen/internal/transmit"
)

// Frame is one universe worth of levels queued for the Art-Net controller.
type Frame struct {
	Universe dmx.Universe
	Data     [dmx.MaxChannels]byte
}

// Conf настройки зеркала Art-Net.
type Conf struct {
	CIDR   string // CIDR - сеть, в которой ищется интерфейс.
	Name   string // Name - имя контроллера, пусто - hostname.
	MaxFPS int    // MaxFPS - ограничение частоты отправки.
}

// Mirror is a transmit.Sender that forwards everything to the wrapped sender and
// repeats every level buffer to Art-Net nodes.
type Mirror struct {
	transmit.Sender

	logger      logger.Logger
	sender      *artnet.Controller
	output      func(data [512]byte, address artnet.Address)
	sendTrigger chan Frame
	ctx         context.Context
}

// NewMirror returns an Art-Net mirror around next.
func NewMirror(log logger.Logger, cfg Conf, next transmit.Sender) (*Mirror, error) {
	ip, err := FindArtNetIP(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host := cfg.Name
	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		host = strings.ToLower(strings.Split(host, ".")[0])
	}
	log.With(logger.Fields{"module": "art-net"}).Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	fps := cfg.MaxFPS
	if fps <= 0 {
		fps = 44
	}
	controller := artnet.NewController(host, ip, artnet.NewDefaultLogger("info"), artnet.MaxFPS(fps))

	m := newMirror(log, next, controller.SendDMXToAddress)
	m.sender = controller
	return m, nil
}

func newMirror(log logger.Logger, next transmit.Sender, output func([512]byte, artnet.Address)) *Mirror {
	return &Mirror{
		Sender:      next,
		logger:      log,
		output:      output,
		sendTrigger: make(chan Frame, 100),
	}
}

// Start the ArtNet.
func (c *Mirror) Start(ctx context.Context) error {
	if c.sender != nil {
		if err := c.sender.Start(); err != nil {
			return fmt.Errorf("failed to start Controller: %w", err)
		}
		go c.debugDevices(ctx)
	}

	c.ctx = ctx
	go c.sendBackground()
	return nil
}

// Stop the ArtNet.
func (c *Mirror) Stop() {
	if c.sender != nil {
		c.sender.Stop()
	}
}

func (c *Mirror) SendMulticast(u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	if err := c.Sender.SendMulticast(u, buf, sync); err != nil {
		return err
	}
	c.triggerSend(u, buf)
	return nil
}

func (c *Mirror) SendUnicast(dst netip.Addr, u dmx.Universe, buf dmx.Buffer, sync dmx.Universe) error {
	if err := c.Sender.SendUnicast(dst, u, buf, sync); err != nil {
		return err
	}
	c.triggerSend(u, buf)
	return nil
}

// Close stops the controller after the wrapped sender is closed.
func (c *Mirror) Close() error {
	err := c.Sender.Close()
	c.Stop()
	return err
}

// triggerSend never blocks the caller's tick: when the queue is full the frame is dropped.
func (c *Mirror) triggerSend(u dmx.Universe, buf dmx.Buffer) {
	if len(buf) > 0 && buf[0] != dmx.StartCodeData {
		return
	}
	select {
	case c.sendTrigger <- Frame{Universe: u, Data: buf.Array512()}:
	default:
		c.logger.With(logger.Fields{"module": "art-net"}).Debugf("DMX. queue full, universe %d frame dropped", u)
	}
}

func (c *Mirror) sendBackground() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.sendTrigger:
			addr := UniverseToAddress(f.Universe)
			c.logger.With(logger.Fields{"module": "art-net"}).Debugf("DMX. sending universe %v to net %d subuni %d", f.Universe, addr.Net, addr.SubUni)
			c.output(f.Data, addr)
		}
	}
}

// UniverseToAddress converts an sACN universe to an Art-Net port address.
// sACN universe 1 is Art-Net port address 0.
func UniverseToAddress(universe dmx.Universe) artnet.Address {
	pa := uint16(universe) - 1
	return artnet.Address{
		Net:    uint8(pa>>8) & 0x7f,
		SubUni: uint8(pa),
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		"IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

func (c *Mirror) debugDevices(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			nodes := c.sender.Nodes
			log := c.logger.With(logger.Fields{"module": "art-net"})
			log.Debugf("Currently %d devices are registered", len(nodes))
			for _, n := range nodes {
				log.Debug(NodeToString(n))
			}
		}
	}
}
