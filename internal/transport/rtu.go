package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// SerialConfig describes the serial line of an RTU channel.
type SerialConfig struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	Parity   byte   `yaml:"-"` // 'N', 'E' or 'O'
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
}

// Validate checks the line settings RTU supports.
func (c SerialConfig) Validate() error {
	if c.Device == "" {
		return errors.New("serial device is required")
	}
	if c.Baud <= 0 {
		return &modbus.ValueError{What: "baud rate", Got: c.Baud, Min: 1, Max: 4000000}
	}
	switch c.Parity {
	case 'N', 'E', 'O':
	default:
		return fmt.Errorf("parity %q must be N, E or O", c.Parity)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return &modbus.ValueError{What: "data bits", Got: c.DataBits, Min: 5, Max: 8}
	}
	if c.StopBits < 1 || c.StopBits > 2 {
		return &modbus.ValueError{What: "stop bits", Got: c.StopBits, Min: 1, Max: 2}
	}
	return nil
}

// pollInterval bounds a single blocking read on ports without deadlines.
const pollInterval = 20 * time.Millisecond

// PortOpener opens a serial port. Tests replace it to run RTU over a pipe.
type PortOpener func(cfg *serial.Config) (io.ReadWriteCloser, error)

// OpenSerial opens a real serial device.
func OpenSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// RTUChannel is a Modbus RTU channel on a serial line.
type RTUChannel struct {
	timeouts

	cfg  SerialConfig
	open PortOpener

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewRTU validates cfg and returns an unopened RTU channel.
func NewRTU(cfg SerialConfig) (*RTUChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RTUChannel{timeouts: defaultTimeouts(), cfg: cfg, open: OpenSerial}, nil
}

// SetOpener replaces the function used to open the port.
func (c *RTUChannel) SetOpener(open PortOpener) { c.open = open }

// Config returns the serial settings.
func (c *RTUChannel) Config() SerialConfig { return c.cfg }

// Kind reports KindRTU.
func (c *RTUChannel) Kind() Kind { return KindRTU }

// Connect opens the serial port.
func (c *RTUChannel) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.Close()
	port, err := c.open(&serial.Config{
		Address:  c.cfg.Device,
		BaudRate: c.cfg.Baud,
		DataBits: c.cfg.DataBits,
		StopBits: c.cfg.StopBits,
		Parity:   string(c.cfg.Parity),
		Timeout:  pollInterval,
	})
	if err != nil {
		return &modbus.TransportError{Op: "open " + c.cfg.Device, Err: err}
	}
	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
	return nil
}

func (c *RTUChannel) current() io.ReadWriteCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Listen opens the port for a slave. There is no listener on a serial line.
func (c *RTUChannel) Listen(int) (net.Listener, error) {
	return nil, c.Connect(context.Background())
}

// Accept is a no-op; the serial line is the only peer.
func (c *RTUChannel) Accept(net.Listener) error { return nil }

// Send writes adu to the line.
func (c *RTUChannel) Send(adu []byte) (int, error) {
	port := c.current()
	if port == nil {
		return 0, &modbus.TransportError{Op: "send", Err: net.ErrClosed}
	}
	n, err := port.Write(adu)
	if err != nil {
		return n, &modbus.TransportError{Op: "send", Err: err}
	}
	return n, nil
}

// Receive reads until at least one byte arrives or deadline passes. Ports
// that support read deadlines use them; other ports are polled.
func (c *RTUChannel) Receive(buf []byte, deadline time.Time) (int, error) {
	port := c.current()
	if port == nil {
		return 0, &modbus.TransportError{Op: "receive", Err: net.ErrClosed}
	}
	if d, ok := port.(deadliner); ok {
		if err := d.SetReadDeadline(deadline); err != nil {
			return 0, classifyReadError(err)
		}
		n, err := port.Read(buf)
		return n, classifyReadError(err)
	}
	for {
		n, err := port.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return 0, classifyReadError(err)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// Flush discards pending input on the line.
func (c *RTUChannel) Flush() (int, error) {
	if c.current() == nil {
		return 0, nil
	}
	return drain(func(buf []byte) (int, error) {
		return c.Receive(buf, time.Now().Add(time.Millisecond))
	})
}

// Close closes the port.
func (c *RTUChannel) Close() error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// String describes the line.
func (c *RTUChannel) String() string {
	return fmt.Sprintf("rtu://%s?baud=%d&parity=%c&data=%d&stop=%d",
		c.cfg.Device, c.cfg.Baud, c.cfg.Parity, c.cfg.DataBits, c.cfg.StopBits)
}
