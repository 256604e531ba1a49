// Package transport provides the byte channels a Modbus context talks over:
// Modbus/TCP, protocol-independent TCP (IPv4/IPv6, names) and RTU on a
// serial line. Channels carry raw ADUs; framing lives in internal/modbus.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// Kind identifies the transport binding of a channel.
type Kind int

const (
	KindTCP   Kind = iota // Modbus/TCP over IPv4
	KindTCPPI             // Modbus/TCP, protocol independent
	KindRTU               // RTU over a serial line
)

// String returns the scheme name used in channel URLs.
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindTCPPI:
		return "tcp-pi"
	case KindRTU:
		return "rtu"
	default:
		return "unknown"
	}
}

// Mode returns the framing the binding uses.
func (k Kind) Mode() modbus.TransportMode {
	if k == KindRTU {
		return modbus.ModeRTU
	}
	return modbus.ModeTCP
}

// Channel abstracts one connected byte stream.
type Channel interface {
	// Kind reports the transport binding.
	Kind() Kind

	// Connect opens the channel as a master (dial or open the port).
	Connect(ctx context.Context) error

	// Listen prepares the channel to serve. TCP channels return the bound
	// listener; RTU opens the port and returns nil.
	Listen(backlog int) (net.Listener, error)

	// Accept waits for one client on l and makes it the channel's
	// connection. It is a no-op for RTU.
	Accept(l net.Listener) error

	// Send writes a complete ADU.
	Send(adu []byte) (int, error)

	// Receive reads at most len(buf) bytes, waiting until deadline (zero
	// means no deadline). A deadline expiry returns os.ErrDeadlineExceeded;
	// peer closure returns an error matching modbus.ErrClosed.
	Receive(buf []byte, deadline time.Time) (int, error)

	// Flush discards pending input and returns the number of bytes dropped.
	Flush() (int, error)

	// Close releases the connection or port.
	Close() error

	SetResponseTimeout(t Timeout) error
	ResponseTimeout() Timeout
	SetByteTimeout(t Timeout) error
	ByteTimeout() Timeout

	// String returns a human-readable description of the channel.
	String() string
}

// Direction of a frame relative to the local context.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "send"
	}
	return "recv"
}

// Tap observes every complete ADU a context sends or receives.
type Tap interface {
	Tap(kind Kind, dir Direction, adu []byte)
}

// Timeout is a (seconds, microseconds) pair as used by Modbus contexts.
type Timeout struct {
	Sec  uint32 `yaml:"sec"`
	Usec uint32 `yaml:"usec"`
}

// DefaultTimeout is 0s/500000us for both response and byte timeouts.
var DefaultTimeout = Timeout{Sec: 0, Usec: 500000}

// Validate enforces usec < 1,000,000.
func (t Timeout) Validate() error {
	if t.Usec >= 1000000 {
		return &modbus.ValueError{What: "timeout microseconds", Got: int(t.Usec), Min: 0, Max: 999999}
	}
	return nil
}

// IsZero reports a (0, 0) timeout.
func (t Timeout) IsZero() bool {
	return t.Sec == 0 && t.Usec == 0
}

// Duration converts the pair to a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Usec)*time.Microsecond
}

// String formats the pair as seconds with microsecond precision.
func (t Timeout) String() string {
	return fmt.Sprintf("%d.%06ds", t.Sec, t.Usec)
}

// TimeoutFromDuration splits d into a Timeout, truncating to microseconds.
func TimeoutFromDuration(d time.Duration) Timeout {
	if d < 0 {
		d = 0
	}
	us := d.Microseconds()
	return Timeout{Sec: uint32(us / 1000000), Usec: uint32(us % 1000000)}
}

// timeouts holds the shared timeout state of every channel.
type timeouts struct {
	response Timeout
	byte     Timeout
}

func defaultTimeouts() timeouts {
	return timeouts{response: DefaultTimeout, byte: DefaultTimeout}
}

func (t *timeouts) SetResponseTimeout(v Timeout) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if v.IsZero() {
		return &modbus.ValueError{What: "response timeout microseconds", Got: 0, Min: 1, Max: 999999}
	}
	t.response = v
	return nil
}

func (t *timeouts) ResponseTimeout() Timeout { return t.response }

// SetByteTimeout accepts (0, 0), which disables the inter-byte timeout.
func (t *timeouts) SetByteTimeout(v Timeout) error {
	if err := v.Validate(); err != nil {
		return err
	}
	t.byte = v
	return nil
}

func (t *timeouts) ByteTimeout() Timeout { return t.byte }
