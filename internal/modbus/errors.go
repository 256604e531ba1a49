package modbus

// Error taxonomy shared by the codec, transport channels and engines.
//
// Transport failures are fatal for a connection. Format and timeout
// failures are recoverable and surface as distinct outcomes. A Modbus
// exception from the peer is reported with its code.

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransport    = errors.New("modbus: transport failure")
	ErrClosed       = errors.New("modbus: connection closed by peer")
	ErrFormat       = errors.New("modbus: malformed frame")
	ErrTimeout      = errors.New("modbus: timeout")
	ErrAddressRange = errors.New("modbus: address out of range")
	ErrValueRange   = errors.New("modbus: value out of range")

	// ErrFiltered marks a receive that produced no frame for this context
	// (empty read or an RTU frame addressed to another slave). Engines
	// retry on it.
	ErrFiltered = errors.New("modbus: frame filtered")
)

// TransportError wraps an I/O failure on the underlying channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport for every transport error.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// FormatError describes a frame that failed validation.
type FormatError struct {
	Reason string
	// Function is set when the frame was well formed but carried a
	// function code this stack does not implement.
	Function    FunctionCode
	Unsupported bool
}

func (e *FormatError) Error() string {
	return "modbus: malformed frame: " + e.Reason
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func formatErrorf(format string, v ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, v...)}
}

// TimeoutError reports which wait expired.
type TimeoutError struct {
	Phase string // "response" or "byte"
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("modbus: %s timeout after %v", e.Phase, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// ExceptionError is returned when the peer answers with an exception PDU.
type ExceptionError struct {
	Function FunctionCode
	Code     ExceptionCode
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %s (0x%02X) for %s", e.Code, uint8(e.Code), e.Function)
}

// RangeError is an address outside a table's configured bounds.
type RangeError struct {
	Table    string
	Address  int
	Quantity int
	Start    int
	Size     int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s address %d (+%d) outside [%d, %d)",
		e.Table, e.Address, e.Quantity, e.Start, e.Start+e.Size)
}

func (e *RangeError) Is(target error) bool { return target == ErrAddressRange }

// ValueError is a quantity or value outside what the protocol allows.
type ValueError struct {
	What string
	Got  int
	Min  int
	Max  int
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s %d outside [%d, %d]", e.What, e.Got, e.Min, e.Max)
}

func (e *ValueError) Is(target error) bool { return target == ErrValueRange }

// ExceptionFor maps a local validation error onto the exception code a
// slave should reply with. ok is false for errors that have no mapping.
func ExceptionFor(err error) (ExceptionCode, bool) {
	var exc *ExceptionError
	switch {
	case errors.As(err, &exc):
		return exc.Code, true
	case errors.Is(err, ErrAddressRange):
		return ExceptionIllegalDataAddress, true
	case errors.Is(err, ErrValueRange):
		return ExceptionIllegalDataValue, true
	}
	return 0, false
}
