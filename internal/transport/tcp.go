package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// DefaultTCPPort is the registered Modbus/TCP port.
const DefaultTCPPort = 502

// TCPChannel is a Modbus/TCP channel. The plain variant dials and listens
// on IPv4 addresses only; the protocol-independent variant resolves node
// and service names and accepts IPv4 or IPv6.
type TCPChannel struct {
	timeouts

	kind    Kind
	host    string // node for TCP-PI
	service string // decimal port or service name
	backlog int

	mu   sync.Mutex // guards conn; Close may run from a cancel callback
	conn net.Conn
}

// NewTCP creates a Modbus/TCP channel for an IPv4 address and port.
func NewTCP(host string, port int) (*TCPChannel, error) {
	if port < 0 || port > 65535 {
		return nil, &modbus.ValueError{What: "TCP port", Got: port, Min: 0, Max: 65535}
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || ip.To4() == nil) {
		return nil, fmt.Errorf("invalid IPv4 address %q", host)
	}
	return &TCPChannel{
		timeouts: defaultTimeouts(),
		kind:     KindTCP,
		host:     host,
		service:  strconv.Itoa(port),
	}, nil
}

// NewTCPPI creates a protocol-independent channel. node may be a host
// name, an IPv4 or an IPv6 address; service a port number or name.
func NewTCPPI(node, service string) (*TCPChannel, error) {
	if service == "" {
		service = strconv.Itoa(DefaultTCPPort)
	}
	return &TCPChannel{
		timeouts: defaultTimeouts(),
		kind:     KindTCPPI,
		host:     node,
		service:  service,
	}, nil
}

// Kind reports KindTCP or KindTCPPI.
func (c *TCPChannel) Kind() Kind { return c.kind }

func (c *TCPChannel) network() string {
	if c.kind == KindTCP {
		return "tcp4"
	}
	return "tcp"
}

func (c *TCPChannel) address() string {
	host := c.host
	if c.kind == KindTCP && host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, c.service)
}

// Connect dials the peer. The dial is bounded by the response timeout and ctx.
func (c *TCPChannel) Connect(ctx context.Context) error {
	_ = c.Close()
	d := net.Dialer{Timeout: c.response.Duration()}
	conn, err := d.DialContext(ctx, c.network(), c.address())
	if err != nil {
		return &modbus.TransportError{Op: "connect", Err: err}
	}
	c.SetConn(conn)
	return nil
}

// Listen binds the server socket. backlog is kept for callers that limit
// concurrent connections; the kernel queue length is the OS default.
func (c *TCPChannel) Listen(backlog int) (net.Listener, error) {
	c.backlog = backlog
	l, err := net.Listen(c.network(), c.address())
	if err != nil {
		return nil, &modbus.TransportError{Op: "listen", Err: err}
	}
	return l, nil
}

// Backlog returns the value passed to Listen.
func (c *TCPChannel) Backlog() int { return c.backlog }

// Accept takes the next client from l as this channel's connection.
func (c *TCPChannel) Accept(l net.Listener) error {
	conn, err := l.Accept()
	if err != nil {
		return &modbus.TransportError{Op: "accept", Err: err}
	}
	_ = c.Close()
	c.SetConn(conn)
	return nil
}

// WithConn returns a channel of the same kind and timeouts serving conn.
// A server hands one to each accepted client.
func (c *TCPChannel) WithConn(conn net.Conn) *TCPChannel {
	return &TCPChannel{
		timeouts: c.timeouts,
		kind:     c.kind,
		host:     c.host,
		service:  c.service,
		backlog:  c.backlog,
		conn:     conn,
	}
}

// Send writes adu to the connection.
func (c *TCPChannel) Send(adu []byte) (int, error) {
	conn := c.Conn()
	if conn == nil {
		return 0, &modbus.TransportError{Op: "send", Err: net.ErrClosed}
	}
	n, err := conn.Write(adu)
	if err != nil {
		return n, &modbus.TransportError{Op: "send", Err: err}
	}
	return n, nil
}

// Receive reads from the connection until deadline.
func (c *TCPChannel) Receive(buf []byte, deadline time.Time) (int, error) {
	conn := c.Conn()
	if conn == nil {
		return 0, &modbus.TransportError{Op: "receive", Err: net.ErrClosed}
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, classifyReadError(err)
	}
	n, err := conn.Read(buf)
	return n, classifyReadError(err)
}

// Flush drops whatever is already buffered on the connection.
func (c *TCPChannel) Flush() (int, error) {
	if c.Conn() == nil {
		return 0, nil
	}
	return drain(func(buf []byte) (int, error) {
		return c.Receive(buf, time.Now().Add(time.Millisecond))
	})
}

// Close closes the connection.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Conn exposes the live socket.
func (c *TCPChannel) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SetConn replaces the live socket, for callers that accept connections
// themselves.
func (c *TCPChannel) SetConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// String describes the channel.
func (c *TCPChannel) String() string {
	return fmt.Sprintf("%s://%s", c.kind, c.address())
}

// classifyReadError maps a read error onto the channel contract.
func classifyReadError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return os.ErrDeadlineExceeded
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return &modbus.TransportError{Op: "receive", Err: fmt.Errorf("%w: %v", modbus.ErrClosed, err)}
	default:
		return &modbus.TransportError{Op: "receive", Err: err}
	}
}

// drain reads until a short deadline expires and counts the bytes.
func drain(read func([]byte) (int, error)) (int, error) {
	buf := make([]byte, 256)
	total := 0
	for {
		n, err := read(buf)
		total += n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}
