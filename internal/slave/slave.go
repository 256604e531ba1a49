// Package slave implements the Modbus slave (server) engine: receive,
// filter, validate, dispatch onto a data mapping and reply.
package slave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/transport"
)

// Context is a slave endpoint owning one channel. It serves one
// connection at a time and is not safe for concurrent use; the Handler it
// dispatches to may be shared.
type Context struct {
	ch      transport.Channel
	codec   modbus.Codec
	handler *Handler
	slave   uint8
	debug   bool
	logger  *logging.Logger
	tap     transport.Tap
	quirks  []Quirk
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger for frame dumps and loop events.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithTap hands every received and sent ADU to t.
func WithTap(t transport.Tap) Option {
	return func(c *Context) { c.tap = t }
}

// WithQuirks enables address-triggered test behaviours.
func WithQuirks(q []Quirk) Option {
	return func(c *Context) { c.quirks = q }
}

// WithSlaveID sets the unit id like SetSlave. Invalid ids are ignored.
func WithSlaveID(id int) Option {
	return func(c *Context) { _ = c.SetSlave(id) }
}

// WithDebug turns frame dumps on.
func WithDebug(on bool) Option {
	return func(c *Context) { c.debug = on }
}

// New creates a slave context on ch dispatching to h. TCP contexts answer
// as unit 0xFF, RTU contexts as unit 1, until SetSlave is called.
func New(ch transport.Channel, h *Handler, opts ...Option) *Context {
	c := &Context{
		ch:      ch,
		codec:   modbus.NewCodec(ch.Kind().Mode()),
		handler: h,
		slave:   1,
	}
	if c.isTCP() {
		c.slave = modbus.TCPSlaveID
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) isTCP() bool { return c.codec.Mode == modbus.ModeTCP }

// Channel returns the underlying channel.
func (c *Context) Channel() transport.Channel { return c.ch }

// Handler returns the dispatch target.
func (c *Context) Handler() *Handler { return c.handler }

// SetSlave sets the unit id an RTU context answers to. TCP contexts also
// accept 255.
func (c *Context) SetSlave(id int) error {
	if (id >= 0 && id <= modbus.MaxSlaveID) || (c.isTCP() && id == modbus.TCPSlaveID) {
		c.slave = uint8(id)
		return nil
	}
	return &modbus.ValueError{What: "slave id", Got: id, Min: 0, Max: modbus.MaxSlaveID}
}

// Slave returns the configured unit id.
func (c *Context) Slave() int { return int(c.slave) }

// SetDebug turns frame dumps on or off.
func (c *Context) SetDebug(on bool) { c.debug = on }

// HeaderLength is 7 for TCP and 1 for RTU.
func (c *Context) HeaderLength() int { return c.codec.HeaderLength() }

// Flush discards pending input.
func (c *Context) Flush() (int, error) { return c.ch.Flush() }

// Close closes the channel.
func (c *Context) Close() error { return c.ch.Close() }

func (c *Context) log() *logging.Logger {
	switch {
	case c.logger != nil:
		return c.logger
	case c.debug:
		c.logger = logging.NewWriterLogger(logging.LogLevelDebug, os.Stderr)
		return c.logger
	default:
		return silent
	}
}

var silent = logging.NewWriterLogger(logging.LogLevelSilent, io.Discard)

// Receive waits for the next indication. The first byte is awaited without
// a deadline; cancelling ctx closes the channel. A malformed frame yields
// an error matching modbus.ErrFormat and an RTU frame for another unit
// one matching modbus.ErrFiltered; both leave the channel usable. A
// request with an unknown function code is returned without error so the
// reply can carry Illegal Function.
func (c *Context) Receive(ctx context.Context) (modbus.Request, error) {
	adu, err := transport.ReadADU(ctx, c.ch, modbus.Indication)
	if err != nil {
		if errors.Is(err, modbus.ErrFormat) {
			c.handler.noteDiscarded()
			c.log().Debug("discarded frame: %v", err)
		}
		return modbus.Request{}, err
	}
	c.observe(transport.Inbound, adu)

	req, err := c.codec.DecodeRequest(adu)
	if err != nil {
		var fe *modbus.FormatError
		if !errors.As(err, &fe) || !fe.Unsupported {
			c.handler.noteDiscarded()
			c.log().Debug("discarded frame: %v", err)
			return req, err
		}
	}
	if !c.isTCP() && req.UnitID != c.slave && req.UnitID != modbus.BroadcastAddress {
		c.handler.noteFiltered()
		c.log().Debug("request for unit %d ignored by unit %d", req.UnitID, c.slave)
		return req, fmt.Errorf("unit %d: %w", req.UnitID, modbus.ErrFiltered)
	}
	return req, nil
}

// Reply dispatches req and sends the response. Broadcast requests are
// applied without a reply. It returns the number of bytes sent.
func (c *Context) Reply(ctx context.Context, req modbus.Request) (int, error) {
	if req.Function == modbus.FcReadHoldingRegisters {
		if q, ok := matchQuirk(c.quirks, req); ok {
			return c.replyQuirk(ctx, q, req)
		}
	}
	return c.send(req, c.handler.Handle(req, c.slave))
}

// ReplyException answers req with code.
func (c *Context) ReplyException(_ context.Context, req modbus.Request, code modbus.ExceptionCode) (int, error) {
	return c.send(req, modbus.NewExceptionResponse(req, code))
}

func (c *Context) send(req modbus.Request, resp modbus.Response) (int, error) {
	if c.isBroadcast(req) {
		return 0, nil
	}
	adu := c.codec.EncodeResponse(resp)
	c.observe(transport.Outbound, adu)
	return c.ch.Send(adu)
}

func (c *Context) isBroadcast(req modbus.Request) bool {
	return !c.isTCP() && req.UnitID == modbus.BroadcastAddress
}

// Serve runs the request loop until ctx is cancelled or the channel
// fails. Malformed, filtered and half-received frames do not end the
// loop.
func (c *Context) Serve(ctx context.Context) error {
	for {
		req, err := c.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, modbus.ErrFormat), errors.Is(err, modbus.ErrFiltered):
			continue
		case errors.Is(err, modbus.ErrTimeout):
			// the peer stalled mid-frame
			_, _ = c.ch.Flush()
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
		if _, err := c.Reply(ctx, req); err != nil {
			return err
		}
	}
}

func (c *Context) observe(dir transport.Direction, adu []byte) {
	if c.debug {
		c.log().LogFrame(dir == transport.Outbound, adu)
	}
	if c.tap != nil {
		c.tap.Tap(c.ch.Kind(), dir, adu)
	}
}

// sendSlowly writes adu one byte at a time with delay between bytes.
func (c *Context) sendSlowly(ctx context.Context, adu []byte, delay time.Duration) (int, error) {
	c.observe(transport.Outbound, adu)
	for i := range adu {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return i, err
			}
		}
		if _, err := c.ch.Send(adu[i : i+1]); err != nil {
			return i, err
		}
	}
	return len(adu), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
