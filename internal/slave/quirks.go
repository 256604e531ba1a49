package slave

// Address-triggered behaviours for exercising masters: busy exceptions,
// replies that do not match the request, slow replies and short replies.
// They apply to Read Holding Registers only.

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// QuirkKind names a test behaviour.
type QuirkKind string

const (
	QuirkBusy       QuirkKind = "busy"        // reply Slave Device Busy
	QuirkInvalidTID QuirkKind = "invalid-tid" // reply with a wrong txid (TCP) or unit (RTU)
	QuirkSleep      QuirkKind = "sleep"       // wait Delay, then reply
	QuirkByteSleep  QuirkKind = "byte-sleep"  // send the reply byte by byte, Delay apart
	QuirkShortCount QuirkKind = "short-count" // answer with one register fewer
)

// Quirk triggers on a read of Address, or for QuirkShortCount on a read
// of Quantity registers.
type Quirk struct {
	Kind     QuirkKind     `yaml:"kind"`
	Address  uint16        `yaml:"address"`
	Quantity int           `yaml:"quantity,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
}

// DefaultQuirks returns the behaviours of the unit-test server.
func DefaultQuirks() []Quirk {
	return []Quirk{
		{Kind: QuirkShortCount, Quantity: 2},
		{Kind: QuirkBusy, Address: 0x170},
		{Kind: QuirkInvalidTID, Address: 0x171},
		{Kind: QuirkSleep, Address: 0x172, Delay: 500 * time.Millisecond},
		{Kind: QuirkByteSleep, Address: 0x173, Delay: 5 * time.Millisecond},
	}
}

// Validate checks a quirk definition.
func (q Quirk) Validate() error {
	switch q.Kind {
	case QuirkBusy, QuirkInvalidTID:
	case QuirkSleep, QuirkByteSleep:
		if q.Delay <= 0 {
			return fmt.Errorf("quirk %s needs a positive delay", q.Kind)
		}
	case QuirkShortCount:
		if q.Quantity < 2 || q.Quantity > modbus.MaxReadRegisters {
			return fmt.Errorf("quirk %s quantity %d outside [2, %d]", q.Kind, q.Quantity, modbus.MaxReadRegisters)
		}
	default:
		return fmt.Errorf("unknown quirk %q", q.Kind)
	}
	return nil
}

// String formats a quirk for logs.
func (q Quirk) String() string {
	var b strings.Builder
	b.WriteString(string(q.Kind))
	if q.Kind == QuirkShortCount {
		fmt.Fprintf(&b, " qty=%d", q.Quantity)
	} else {
		fmt.Fprintf(&b, " @0x%04X", q.Address)
	}
	if q.Delay > 0 {
		fmt.Fprintf(&b, " delay=%v", q.Delay)
	}
	return b.String()
}

// matchQuirk picks the quirk for a Read Holding Registers request.
// Quantity triggers win over address triggers.
func matchQuirk(quirks []Quirk, req modbus.Request) (Quirk, bool) {
	addr, qty := modbus.AddrQty(req.Data)
	for _, q := range quirks {
		if q.Kind == QuirkShortCount && int(qty) == q.Quantity {
			return q, true
		}
	}
	for _, q := range quirks {
		if q.Kind != QuirkShortCount && q.Address == addr {
			return q, true
		}
	}
	return Quirk{}, false
}

func (c *Context) replyQuirk(ctx context.Context, q Quirk, req modbus.Request) (int, error) {
	c.log().Verbose("quirk %s", q)
	switch q.Kind {
	case QuirkBusy:
		return c.ReplyException(ctx, req, modbus.ExceptionSlaveDeviceBusy)

	case QuirkInvalidTID:
		resp := modbus.Response{
			TransactionID: req.TransactionID + 1,
			UnitID:        req.UnitID,
			Function:      modbus.FcReadHoldingRegisters,
			Data:          []byte{0x02, 0x00, 0x00},
		}
		if !c.isTCP() {
			resp.UnitID = c.slave + 1
		}
		return c.send(req, resp)

	case QuirkSleep:
		if err := sleep(ctx, q.Delay); err != nil {
			return 0, err
		}
		return c.send(req, c.handler.Handle(req, c.slave))

	case QuirkByteSleep:
		resp := c.handler.Handle(req, c.slave)
		if c.isBroadcast(req) {
			return 0, nil
		}
		return c.sendSlowly(ctx, c.codec.EncodeResponse(resp), q.Delay)

	case QuirkShortCount:
		short := req
		short.Data = append([]byte(nil), req.Data...)
		_, qty := modbus.AddrQty(req.Data)
		binary.BigEndian.PutUint16(short.Data[2:4], qty-1)
		resp := c.handler.Handle(short, c.slave)
		return c.send(req, resp)
	}
	return c.send(req, c.handler.Handle(req, c.slave))
}
