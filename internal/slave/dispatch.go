package slave

// Request dispatch onto a data mapping.
//
// A Handler validates a decoded request against the mapping bounds and the
// protocol limits, applies it, and builds the reply. Write replies echo
// the request (address/quantity or address/value), not the stored state.

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/modbus"
)

// DefaultIdentity is the device-specific data returned by Report Slave ID.
const DefaultIdentity = "mbstack"

// runIndicatorOn is the Report Slave ID run status byte.
const runIndicatorOn = 0xFF

// Handler serves requests from one mapping. It is safe for concurrent use
// by the contexts of a multi-connection server.
type Handler struct {
	store    *mapping.Mapping
	identity []byte
	logger   *logging.Logger

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks handler metrics.
type Stats struct {
	TotalRequests int64
	ReadRequests  int64
	WriteRequests int64
	Exceptions    int64
	Discarded     int64 // malformed frames dropped without reply
	Filtered      int64 // RTU frames for another unit
}

// NewHandler creates a handler backed by store. A nil logger logs nothing.
func NewHandler(store *mapping.Mapping, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewWriterLogger(logging.LogLevelSilent, io.Discard)
	}
	return &Handler{
		store:    store,
		identity: []byte(DefaultIdentity),
		logger:   logger,
	}
}

// Mapping returns the served mapping.
func (h *Handler) Mapping() *mapping.Mapping { return h.store }

// SetIdentity replaces the Report Slave ID device data, truncated to what
// fits one PDU.
func (h *Handler) SetIdentity(id string) {
	if max := modbus.MaxPDUSize - 4; len(id) > max {
		id = id[:max]
	}
	h.identity = []byte(id)
}

// Stats returns a snapshot of handler statistics.
func (h *Handler) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func (h *Handler) noteDiscarded() {
	h.mu.Lock()
	h.stats.Discarded++
	h.mu.Unlock()
}

func (h *Handler) noteFiltered() {
	h.mu.Lock()
	h.stats.Filtered++
	h.mu.Unlock()
}

// Handle applies req and returns the reply addressed as the request was.
// slaveID is reported by Report Slave ID.
func (h *Handler) Handle(req modbus.Request, slaveID uint8) modbus.Response {
	h.mu.Lock()
	h.stats.TotalRequests++
	if req.Function.IsRead() {
		h.stats.ReadRequests++
	} else if req.Function.IsWrite() {
		h.stats.WriteRequests++
	}
	h.mu.Unlock()

	h.logger.Verbose("request: FC=0x%02X unit=%d data=%d bytes", uint8(req.Function), req.UnitID, len(req.Data))

	resp := h.dispatch(req, slaveID)
	if resp.IsException() {
		h.mu.Lock()
		h.stats.Exceptions++
		h.mu.Unlock()
		h.logger.Verbose("exception: FC=0x%02X exc=%v", uint8(req.Function), resp.ExceptionCode())
	}
	return resp
}

func (h *Handler) dispatch(req modbus.Request, slaveID uint8) modbus.Response {
	if err := h.checkRanges(req); err != nil {
		return h.fail(req, err)
	}
	if err := modbus.ValidateRequestValues(req); err != nil {
		return h.fail(req, err)
	}

	switch req.Function {
	case modbus.FcReadCoils:
		return h.readBits(req, mapping.Coils)
	case modbus.FcReadDiscreteInputs:
		return h.readBits(req, mapping.DiscreteInputs)
	case modbus.FcReadHoldingRegisters:
		return h.readRegisters(req, mapping.HoldingRegisters)
	case modbus.FcReadInputRegisters:
		return h.readRegisters(req, mapping.InputRegisters)
	case modbus.FcWriteSingleCoil:
		return h.handleWriteSingleCoil(req)
	case modbus.FcWriteSingleRegister:
		return h.handleWriteSingleRegister(req)
	case modbus.FcWriteMultipleCoils:
		return h.handleWriteMultipleCoils(req)
	case modbus.FcWriteMultipleRegisters:
		return h.handleWriteMultipleRegisters(req)
	case modbus.FcMaskWriteRegister:
		return h.handleMaskWriteRegister(req)
	case modbus.FcReadWriteMultipleRegisters:
		return h.handleWriteReadRegisters(req)
	case modbus.FcReportSlaveID:
		return h.handleReportSlaveID(req, slaveID)
	default:
		return modbus.NewExceptionResponse(req, modbus.ExceptionIllegalFunction)
	}
}

// span is one table range a request touches.
type span struct {
	table mapping.Table
	addr  uint16
	count int
}

// spans lists the table ranges addressed by req. Unknown functions touch
// nothing.
func spans(req modbus.Request) []span {
	d := req.Data
	addr, qty := modbus.AddrQty(d)
	switch req.Function {
	case modbus.FcReadCoils, modbus.FcWriteMultipleCoils:
		return []span{{mapping.Coils, addr, int(qty)}}
	case modbus.FcReadDiscreteInputs:
		return []span{{mapping.DiscreteInputs, addr, int(qty)}}
	case modbus.FcReadHoldingRegisters, modbus.FcWriteMultipleRegisters:
		return []span{{mapping.HoldingRegisters, addr, int(qty)}}
	case modbus.FcReadInputRegisters:
		return []span{{mapping.InputRegisters, addr, int(qty)}}
	case modbus.FcWriteSingleCoil:
		return []span{{mapping.Coils, addr, 1}}
	case modbus.FcWriteSingleRegister, modbus.FcMaskWriteRegister:
		return []span{{mapping.HoldingRegisters, addr, 1}}
	case modbus.FcReadWriteMultipleRegisters:
		waddr := binary.BigEndian.Uint16(d[4:6])
		wqty := binary.BigEndian.Uint16(d[6:8])
		return []span{
			{mapping.HoldingRegisters, addr, int(qty)},
			{mapping.HoldingRegisters, waddr, int(wqty)},
		}
	}
	return nil
}

// checkRanges rejects requests reaching outside the mapping. It runs
// before the quantity checks.
func (h *Handler) checkRanges(req modbus.Request) error {
	for _, s := range spans(req) {
		start, size := h.store.Bounds(s.table)
		a := int(s.addr)
		if a < start || a+s.count > start+size {
			return &modbus.RangeError{Table: s.table.String(), Address: a, Quantity: s.count, Start: start, Size: size}
		}
	}
	return nil
}

func (h *Handler) fail(req modbus.Request, err error) modbus.Response {
	code, ok := modbus.ExceptionFor(err)
	if !ok {
		code = modbus.ExceptionSlaveDeviceFailure
	}
	h.logger.Debug("%s rejected: %v", req.Function, err)
	return modbus.NewExceptionResponse(req, code)
}

func reply(req modbus.Request, data []byte) modbus.Response {
	return modbus.Response{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		Function:      req.Function,
		Data:          data,
	}
}

// --- Read handlers ---

func (h *Handler) readBits(req modbus.Request, t mapping.Table) modbus.Response {
	addr, qty := modbus.AddrQty(req.Data)
	bits, err := h.store.ReadBits(t, addr, int(qty))
	if err != nil {
		return h.fail(req, err)
	}
	packed := modbus.PackBits(bits)
	return reply(req, append([]byte{byte(len(packed))}, packed...))
}

func (h *Handler) readRegisters(req modbus.Request, t mapping.Table) modbus.Response {
	addr, qty := modbus.AddrQty(req.Data)
	regs, err := h.store.ReadRegisters(t, addr, int(qty))
	if err != nil {
		return h.fail(req, err)
	}
	return reply(req, registerPayload(regs))
}

func registerPayload(regs []uint16) []byte {
	packed := modbus.PackRegisters(regs)
	return append([]byte{byte(len(packed))}, packed...)
}

// --- Write handlers ---

func (h *Handler) handleWriteSingleCoil(req modbus.Request) modbus.Response {
	addr, val := modbus.AddrQty(req.Data)
	if err := h.store.WriteBits(mapping.Coils, addr, []bool{val == modbus.CoilOn}); err != nil {
		return h.fail(req, err)
	}
	return reply(req, echo(req.Data[:4]))
}

func (h *Handler) handleWriteSingleRegister(req modbus.Request) modbus.Response {
	addr, val := modbus.AddrQty(req.Data)
	if err := h.store.WriteRegisters(mapping.HoldingRegisters, addr, []uint16{val}); err != nil {
		return h.fail(req, err)
	}
	return reply(req, echo(req.Data[:4]))
}

func (h *Handler) handleWriteMultipleCoils(req modbus.Request) modbus.Response {
	addr, qty := modbus.AddrQty(req.Data)
	if err := h.store.SetBitsFromBytes(mapping.Coils, addr, int(qty), req.Data[5:]); err != nil {
		return h.fail(req, err)
	}
	// Response echoes start address and quantity
	return reply(req, echo(req.Data[:4]))
}

func (h *Handler) handleWriteMultipleRegisters(req modbus.Request) modbus.Response {
	addr, qty := modbus.AddrQty(req.Data)
	values := modbus.UnpackRegisters(req.Data[5 : 5+2*int(qty)])
	if err := h.store.WriteRegisters(mapping.HoldingRegisters, addr, values); err != nil {
		return h.fail(req, err)
	}
	return reply(req, echo(req.Data[:4]))
}

func (h *Handler) handleMaskWriteRegister(req modbus.Request) modbus.Response {
	d := req.Data
	addr := binary.BigEndian.Uint16(d[0:2])
	andMask := binary.BigEndian.Uint16(d[2:4])
	orMask := binary.BigEndian.Uint16(d[4:6])
	if _, err := h.store.MaskWriteRegister(addr, andMask, orMask); err != nil {
		return h.fail(req, err)
	}
	return reply(req, echo(d[:6]))
}

// handleWriteReadRegisters writes before it reads.
func (h *Handler) handleWriteReadRegisters(req modbus.Request) modbus.Response {
	d := req.Data
	raddr, rqty := modbus.AddrQty(d)
	waddr := binary.BigEndian.Uint16(d[4:6])
	wqty := int(binary.BigEndian.Uint16(d[6:8]))
	values := modbus.UnpackRegisters(d[9 : 9+2*wqty])
	regs, err := h.store.WriteReadRegisters(waddr, values, raddr, int(rqty))
	if err != nil {
		return h.fail(req, err)
	}
	return reply(req, registerPayload(regs))
}

// --- Diagnostics ---

func (h *Handler) handleReportSlaveID(req modbus.Request, slaveID uint8) modbus.Response {
	data := make([]byte, 0, 3+len(h.identity))
	data = append(data, byte(2+len(h.identity)), slaveID, runIndicatorOn)
	data = append(data, h.identity...)
	return reply(req, data)
}

func echo(b []byte) []byte {
	return append([]byte(nil), b...)
}

// String returns a description of this handler.
func (h *Handler) String() string {
	var sizes [4]int
	for t := mapping.Coils; t <= mapping.InputRegisters; t++ {
		_, sizes[t] = h.store.Bounds(t)
	}
	return fmt.Sprintf("Handler(coils=%d inputs=%d holding=%d input_regs=%d)", sizes[0], sizes[1], sizes[2], sizes[3])
}
