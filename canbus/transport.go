package canbus

import (
	"fmt"
	"io"
	"net"
	"time"

	goserial "github.com/tarm/serial"
)

// Framing tells the Link how messages are delimited on the transport.
type Framing int

const (
	// FramingStandard is the variable-length sentinel/DLC protocol.
	FramingStandard Framing = iota
	// FramingLegacy is the fixed 20-byte layout of older firmware
	// (decode-only; outbound frames always use the standard format).
	FramingLegacy
	// FramingBridge is the whole-message bridge layout.
	FramingBridge
)

// TransportConfig is the closed set of ways a Link can reach a controller.
// The variants are matched exhaustively when connecting; there is no
// runtime type probing beyond this switch.
type TransportConfig interface {
	open() (io.ReadWriteCloser, Framing, error)
	// Label describes the transport for logs and the web UI.
	Label() string
}

// SerialPort connects over a USB-serial adapter.
//
// An empty Name triggers port autodetection (see AutoDetectPort). Legacy
// selects the fixed-length framing for old firmware.
type SerialPort struct {
	Name   string
	Baud   int
	Legacy bool
}

// Label implements TransportConfig.
func (s SerialPort) Label() string { return fmt.Sprintf("serial %s @ %d", s.Name, s.Baud) }

func (s SerialPort) open() (io.ReadWriteCloser, Framing, error) {
	name := s.Name
	if name == "" {
		name = AutoDetectPort(s.Baud)
		if name == "" {
			return nil, FramingStandard, fmt.Errorf("no serial port responded; specify PORT explicitly")
		}
	}
	cfg := &goserial.Config{
		Name:        name,
		Baud:        s.Baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: time.Millisecond * 50,
	}
	port, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, FramingStandard, fmt.Errorf("open %s: %w", name, err)
	}
	if s.Legacy {
		return port, FramingLegacy, nil
	}
	return port, FramingStandard, nil
}

// Bridge connects to the local bridge endpoint (a unix socket or localhost
// TCP port exposed by the bridge process).
type Bridge struct {
	Network string // "unix" or "tcp"
	Address string
}

// Label implements TransportConfig.
func (b Bridge) Label() string { return fmt.Sprintf("bridge %s:%s", b.Network, b.Address) }

func (b Bridge) open() (io.ReadWriteCloser, Framing, error) {
	network := b.Network
	if network == "" {
		network = "tcp"
	}
	conn, err := net.DialTimeout(network, b.Address, 3*time.Second)
	if err != nil {
		return nil, FramingBridge, fmt.Errorf("dial bridge %s: %w", b.Address, err)
	}
	return conn, FramingBridge, nil
}

// Loopback wraps an in-memory or test transport. The hardware simulator and
// the package tests plug in through this variant.
type Loopback struct {
	RW      io.ReadWriteCloser
	Framing Framing
	Name    string
}

// Label implements TransportConfig.
func (l Loopback) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return "loopback"
}

func (l Loopback) open() (io.ReadWriteCloser, Framing, error) {
	if l.RW == nil {
		return nil, l.Framing, fmt.Errorf("loopback transport has no stream")
	}
	return l.RW, l.Framing, nil
}
