// Package master implements the Modbus master (client) engine: typed read
// and write calls, raw request pass-through, and request/response
// correlation over any transport channel.
package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/metrics"
	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/transport"
)

// Context is a master endpoint owning one channel. It keeps a single
// request in flight and is not safe for concurrent use.
type Context struct {
	ch      transport.Channel
	codec   modbus.Codec
	slave   uint8
	debug   bool
	logger  *logging.Logger
	sink    *metrics.Sink
	tap     transport.Tap
	tracker *Tracker
	session string
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for operation summaries and frame dumps.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics records one metric per transaction into s.
func WithMetrics(s *metrics.Sink) Option {
	return func(c *Context) { c.sink = s }
}

// WithTap hands every sent and received ADU to t.
func WithTap(t transport.Tap) Option {
	return func(c *Context) { c.tap = t }
}

// WithSession labels recorded metrics.
func WithSession(name string) Option {
	return func(c *Context) { c.session = name }
}

// New creates a master context on ch. TCP contexts address unit 0xFF
// until SetSlave is called; RTU contexts address unit 1.
func New(ch transport.Channel, opts ...Option) *Context {
	c := &Context{
		ch:      ch,
		codec:   modbus.NewCodec(ch.Kind().Mode()),
		slave:   1,
		tracker: NewTracker(1),
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

// Connect opens the channel.
func (c *Context) Connect(ctx context.Context) error {
	if err := c.ch.Connect(ctx); err != nil {
		return err
	}
	c.log().Verbose("connected to %s", c.ch)
	return nil
}

// Close closes the channel.
func (c *Context) Close() error { return c.ch.Close() }

// Flush discards pending input and returns the number of bytes dropped.
func (c *Context) Flush() (int, error) { return c.ch.Flush() }

// SetSlave selects the unit addressed by later calls. 0 is the RTU
// broadcast address; 255 is accepted on TCP.
func (c *Context) SetSlave(id int) error {
	if (id >= 0 && id <= modbus.MaxSlaveID) || (c.isTCP() && id == modbus.TCPSlaveID) {
		c.slave = uint8(id)
		return nil
	}
	return &modbus.ValueError{What: "slave id", Got: id, Min: 0, Max: modbus.MaxSlaveID}
}

// Slave returns the addressed unit.
func (c *Context) Slave() int { return int(c.slave) }

// SetDebug turns frame dumps on or off for this context.
func (c *Context) SetDebug(on bool) { c.debug = on }

// Debug reports the debug flag.
func (c *Context) Debug() bool { return c.debug }

// HeaderLength is 7 for TCP and 1 for RTU.
func (c *Context) HeaderLength() int { return c.codec.HeaderLength() }

func (c *Context) SetResponseTimeout(t transport.Timeout) error { return c.ch.SetResponseTimeout(t) }
func (c *Context) ResponseTimeout() transport.Timeout         { return c.ch.ResponseTimeout() }
func (c *Context) SetByteTimeout(t transport.Timeout) error    { return c.ch.SetByteTimeout(t) }
func (c *Context) ByteTimeout() transport.Timeout             { return c.ch.ByteTimeout() }

// Stats returns transaction counters.
func (c *Context) Stats() TrackerStats { return c.tracker.Stats() }

// log returns the configured logger, a stderr debug logger when the debug
// flag is set without one, or a silent logger.
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

// --- typed calls ---

// ReadBits reads n coils starting at addr (FC 0x01).
func (c *Context) ReadBits(ctx context.Context, addr uint16, n int) ([]bool, error) {
	return c.readBits(ctx, modbus.FcReadCoils, addr, n)
}

// ReadInputBits reads n discrete inputs starting at addr (FC 0x02).
func (c *Context) ReadInputBits(ctx context.Context, addr uint16, n int) ([]bool, error) {
	return c.readBits(ctx, modbus.FcReadDiscreteInputs, addr, n)
}

func (c *Context) readBits(ctx context.Context, fc modbus.FunctionCode, addr uint16, n int) ([]bool, error) {
	if err := checkRange(fc, addr, n, modbus.MaxReadBits); err != nil {
		return nil, err
	}
	resp, err := c.transact(ctx, fc, encodeAddrQty(addr, n), addr, n)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadBitsResponse(resp.Data, n)
}

// ReadRegisters reads n holding registers starting at addr (FC 0x03).
func (c *Context) ReadRegisters(ctx context.Context, addr uint16, n int) ([]uint16, error) {
	return c.readRegisters(ctx, modbus.FcReadHoldingRegisters, addr, n)
}

// ReadInputRegisters reads n input registers starting at addr (FC 0x04).
func (c *Context) ReadInputRegisters(ctx context.Context, addr uint16, n int) ([]uint16, error) {
	return c.readRegisters(ctx, modbus.FcReadInputRegisters, addr, n)
}

func (c *Context) readRegisters(ctx context.Context, fc modbus.FunctionCode, addr uint16, n int) ([]uint16, error) {
	if err := checkRange(fc, addr, n, modbus.MaxReadRegisters); err != nil {
		return nil, err
	}
	resp, err := c.transact(ctx, fc, encodeAddrQty(addr, n), addr, n)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadRegistersResponse(resp.Data)
}

// WriteBit sets or clears one coil (FC 0x05).
func (c *Context) WriteBit(ctx context.Context, addr uint16, on bool) error {
	_, err := c.transact(ctx, modbus.FcWriteSingleCoil, modbus.WriteSingleCoilRequest(addr, on), addr, 1)
	return err
}

// WriteRegister writes one holding register (FC 0x06).
func (c *Context) WriteRegister(ctx context.Context, addr, value uint16) error {
	_, err := c.transact(ctx, modbus.FcWriteSingleRegister, modbus.WriteSingleRegisterRequest(addr, value), addr, 1)
	return err
}

// WriteBits writes consecutive coils (FC 0x0F).
func (c *Context) WriteBits(ctx context.Context, addr uint16, values []bool) error {
	fc := modbus.FcWriteMultipleCoils
	if err := checkRange(fc, addr, len(values), modbus.MaxWriteBits); err != nil {
		return err
	}
	_, err := c.transact(ctx, fc, modbus.WriteMultipleCoilsRequest(addr, values), addr, len(values))
	return err
}

// WriteRegisters writes consecutive holding registers (FC 0x10).
func (c *Context) WriteRegisters(ctx context.Context, addr uint16, values []uint16) error {
	fc := modbus.FcWriteMultipleRegisters
	if err := checkRange(fc, addr, len(values), modbus.MaxWriteRegisters); err != nil {
		return err
	}
	_, err := c.transact(ctx, fc, modbus.WriteMultipleRegistersRequest(addr, values), addr, len(values))
	return err
}

// MaskWriteRegister sets register addr to (cur AND andMask) OR (orMask AND
// NOT andMask) on the slave (FC 0x16).
func (c *Context) MaskWriteRegister(ctx context.Context, addr, andMask, orMask uint16) error {
	_, err := c.transact(ctx, modbus.FcMaskWriteRegister, modbus.MaskWriteRegisterRequest(addr, andMask, orMask), addr, 1)
	return err
}

// WriteAndReadRegisters writes values at writeAddr, then reads n registers
// at readAddr, in one transaction (FC 0x17).
func (c *Context) WriteAndReadRegisters(ctx context.Context, writeAddr uint16, values []uint16, readAddr uint16, n int) ([]uint16, error) {
	fc := modbus.FcReadWriteMultipleRegisters
	if err := checkRange(fc, writeAddr, len(values), modbus.MaxWriteReadRegisters); err != nil {
		return nil, err
	}
	if err := checkRange(fc, readAddr, n, modbus.MaxReadRegisters); err != nil {
		return nil, err
	}
	data := modbus.WriteReadRegistersRequest(writeAddr, values, readAddr, uint16(n))
	resp, err := c.transact(ctx, fc, data, readAddr, n)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadRegistersResponse(resp.Data)
}

// ReportSlaveID returns the slave's identification bytes (FC 0x11): slave
// id, run indicator and any device-specific data, without the byte count.
func (c *Context) ReportSlaveID(ctx context.Context) ([]byte, error) {
	resp, err := c.transact(ctx, modbus.FcReportSlaveID, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	return resp.Data[1:], nil
}

// --- raw access ---

// SendRawRequest sends raw (unit id followed by a PDU) with the header and
// checksum of this context's transport added. It returns the number of
// bytes written.
func (c *Context) SendRawRequest(ctx context.Context, raw []byte) (int, error) {
	if len(raw) < 2 || len(raw)-1 > modbus.MaxPDUSize {
		return 0, &modbus.ValueError{What: "raw request length", Got: len(raw), Min: 2, Max: modbus.MaxPDUSize + 1}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	req := modbus.Request{UnitID: raw[0], Function: modbus.FunctionCode(raw[1]), Data: raw[2:]}
	if c.isTCP() {
		req.TransactionID = c.tracker.Next()
	}
	c.tracker.Begin(req.TransactionID, req.Function)
	return c.send(c.codec.EncodeRequest(req))
}

// ReceiveConfirmation reads one complete ADU using the context's timeouts
// and returns it unparsed.
func (c *Context) ReceiveConfirmation(ctx context.Context) ([]byte, error) {
	adu, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}
	var txID uint16
	if c.isTCP() {
		hdr, _ := modbus.DecodeMBAPHeader(adu)
		txID = hdr.TransactionID
	}
	_, _, _ = c.tracker.Complete(txID)
	return adu, nil
}

// --- engine ---

// transact runs one request through Idle -> Sent -> AwaitingResponse and
// returns the validated response.
func (c *Context) transact(ctx context.Context, fc modbus.FunctionCode, data []byte, addr uint16, qty int) (modbus.Response, error) {
	start := time.Now()
	resp, err := c.exchange(ctx, fc, data)
	c.record(fc, addr, qty, start, err)
	return resp, err
}

func (c *Context) exchange(ctx context.Context, fc modbus.FunctionCode, data []byte) (modbus.Response, error) {
	req := modbus.Request{UnitID: c.slave, Function: fc, Data: data}
	broadcast := !c.isTCP() && c.slave == modbus.BroadcastAddress
	if broadcast && (!fc.IsWrite() || fc == modbus.FcReadWriteMultipleRegisters) {
		return modbus.Response{}, fmt.Errorf("%s cannot be broadcast: %w", fc, modbus.ErrValueRange)
	}
	if c.isTCP() {
		req.TransactionID = c.tracker.Next()
	}
	if err := ctx.Err(); err != nil {
		return modbus.Response{}, err
	}

	c.tracker.Begin(req.TransactionID, fc)
	if _, err := c.send(c.codec.EncodeRequest(req)); err != nil {
		c.tracker.Expire(req.TransactionID)
		return modbus.Response{}, err
	}
	if broadcast {
		// no slave answers a broadcast
		c.tracker.Expire(req.TransactionID)
		return modbus.Response{UnitID: 0, Function: fc, Data: data}, nil
	}

	adu, err := c.receive(ctx)
	if err != nil {
		c.tracker.Expire(req.TransactionID)
		return modbus.Response{}, err
	}

	resp, err := c.codec.DecodeResponse(adu, fc)
	var exc *modbus.ExceptionError
	if err != nil && !errors.As(err, &exc) {
		c.tracker.Expire(req.TransactionID)
		c.flush()
		return resp, err
	}
	if c.isTCP() {
		if _, _, terr := c.tracker.Complete(resp.TransactionID); terr != nil || resp.TransactionID != req.TransactionID {
			c.tracker.Expire(req.TransactionID)
			c.flush()
			return resp, &modbus.FormatError{Reason: fmt.Sprintf("transaction ID 0x%04X does not match request 0x%04X", resp.TransactionID, req.TransactionID)}
		}
	} else {
		if resp.UnitID != req.UnitID {
			c.tracker.Expire(req.TransactionID)
			c.flush()
			return resp, &modbus.FormatError{Reason: fmt.Sprintf("reply from unit %d, request addressed unit %d", resp.UnitID, req.UnitID)}
		}
		_, _, _ = c.tracker.Complete(req.TransactionID)
	}
	if exc != nil {
		return resp, exc
	}
	if err := modbus.CheckResponse(req, resp); err != nil {
		c.flush()
		return resp, err
	}
	return resp, nil
}

func (c *Context) send(adu []byte) (int, error) {
	c.observe(transport.Outbound, adu)
	return c.ch.Send(adu)
}

func (c *Context) receive(ctx context.Context) ([]byte, error) {
	adu, err := transport.ReadADU(ctx, c.ch, modbus.Confirmation)
	if err != nil {
		return nil, err
	}
	c.observe(transport.Inbound, adu)
	return adu, nil
}

func (c *Context) observe(dir transport.Direction, adu []byte) {
	if c.debug {
		c.log().LogFrame(dir == transport.Outbound, adu)
	}
	if c.tap != nil {
		c.tap.Tap(c.ch.Kind(), dir, adu)
	}
}

func (c *Context) flush() {
	if n, _ := c.ch.Flush(); n > 0 {
		c.log().Debug("flushed %d bytes", n)
	}
}

func (c *Context) record(fc modbus.FunctionCode, addr uint16, qty int, start time.Time, err error) {
	rtt := float64(time.Since(start).Microseconds()) / 1000
	c.log().LogOperation(fc.String(), c.ch.String(), err == nil, rtt, err)
	if c.sink == nil {
		return
	}
	m := metrics.Metric{
		Timestamp: start,
		Session:   c.session,
		Transport: c.ch.Kind().String(),
		Target:    c.ch.String(),
		Operation: metrics.OperationFor(fc),
		Function:  fc.String(),
		UnitID:    c.slave,
		Address:   addr,
		Quantity:  qty,
		Success:   err == nil,
		Outcome:   metrics.OutcomeFor(err),
	}
	if err == nil {
		m.RTTMs = rtt
	} else {
		m.Error = err.Error()
		var exc *modbus.ExceptionError
		if errors.As(err, &exc) {
			m.Exception = uint8(exc.Code)
		}
	}
	c.sink.Record(m)
}

// checkRange validates a quantity and that the range fits the address space.
func checkRange(fc modbus.FunctionCode, addr uint16, n, max int) error {
	if err := modbus.CheckQuantity(fc.String()+" quantity", n, max); err != nil {
		return err
	}
	if int(addr)+n > 1<<16 {
		return &modbus.RangeError{Table: fc.String(), Address: int(addr), Quantity: n, Start: 0, Size: 1 << 16}
	}
	return nil
}

func encodeAddrQty(addr uint16, n int) []byte {
	return modbus.ReadCoilsRequest(addr, uint16(n))
}
