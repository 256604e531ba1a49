package modbus

// PDU builders, structural validation and response parsing.

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Request payload builders. Each returns the PDU data that follows the
// function code.

// ReadCoilsRequest is the 0x01 payload.
func ReadCoilsRequest(start, count uint16) []byte { return words(start, count) }

// ReadDiscreteInputsRequest is the 0x02 payload.
func ReadDiscreteInputsRequest(start, count uint16) []byte { return words(start, count) }

// ReadHoldingRegistersRequest is the 0x03 payload.
func ReadHoldingRegistersRequest(start, count uint16) []byte { return words(start, count) }

// ReadInputRegistersRequest is the 0x04 payload.
func ReadInputRegistersRequest(start, count uint16) []byte { return words(start, count) }

// WriteSingleCoilRequest is the 0x05 payload; on maps to CoilOn.
func WriteSingleCoilRequest(addr uint16, on bool) []byte {
	if on {
		return words(addr, CoilOn)
	}
	return words(addr, CoilOff)
}

// WriteSingleRegisterRequest is the 0x06 payload.
func WriteSingleRegisterRequest(addr, value uint16) []byte { return words(addr, value) }

// WriteMultipleCoilsRequest is the 0x0F payload.
func WriteMultipleCoilsRequest(start uint16, values []bool) []byte {
	packed := PackBits(values)
	out := append(words(start, uint16(len(values))), byte(len(packed)))
	return append(out, packed...)
}

// WriteMultipleRegistersRequest is the 0x10 payload.
func WriteMultipleRegistersRequest(start uint16, values []uint16) []byte {
	out := append(words(start, uint16(len(values))), byte(2*len(values)))
	return append(out, PackRegisters(values)...)
}

// MaskWriteRegisterRequest is the 0x16 payload.
func MaskWriteRegisterRequest(addr, and, or uint16) []byte { return words(addr, and, or) }

// WriteReadRegistersRequest is the 0x17 payload. The read range comes
// first on the wire.
func WriteReadRegistersRequest(writeAddr uint16, values []uint16, readAddr, readQty uint16) []byte {
	out := words(readAddr, readQty, writeAddr, uint16(len(values)))
	out = append(out, byte(2*len(values)))
	return append(out, PackRegisters(values)...)
}

// --- structural validation ---

// ValidateRequestPDU checks that data has exactly the length implied by
// the function code and its declared byte count. Unknown function codes
// yield a FormatError with Unsupported set.
func ValidateRequestPDU(fc FunctionCode, data []byte) error {
	switch fc {
	case FcReadCoils, FcReadDiscreteInputs, FcReadHoldingRegisters,
		FcReadInputRegisters, FcWriteSingleCoil, FcWriteSingleRegister:
		return expectLen(fc, data, 4)
	case FcWriteMultipleCoils, FcWriteMultipleRegisters:
		if len(data) < 5 {
			return errTooShort(fc.String()+" request", len(data), 5)
		}
		return expectLen(fc, data, 5+int(data[4]))
	case FcMaskWriteRegister:
		return expectLen(fc, data, 6)
	case FcReadWriteMultipleRegisters:
		if len(data) < 9 {
			return errTooShort(fc.String()+" request", len(data), 9)
		}
		return expectLen(fc, data, 9+int(data[8]))
	case FcReportSlaveID:
		return expectLen(fc, data, 0)
	default:
		return &FormatError{
			Reason:      "unsupported function code " + hexByte(byte(fc)),
			Function:    fc,
			Unsupported: true,
		}
	}
}

// ValidateResponsePDU checks a response against the function code of the
// outstanding request. Exception replies decode to *ExceptionError.
func ValidateResponsePDU(expected FunctionCode, resp Response) error {
	if resp.Function == expected|exceptionBit {
		if len(resp.Data) != 1 {
			return formatErrorf("exception response carries %d bytes, want 1", len(resp.Data))
		}
		return &ExceptionError{Function: expected, Code: ExceptionCode(resp.Data[0])}
	}
	if resp.Function != expected {
		return formatErrorf("function 0x%02X does not match request 0x%02X", uint8(resp.Function), uint8(expected))
	}
	switch expected {
	case FcReadCoils, FcReadDiscreteInputs, FcReadHoldingRegisters,
		FcReadInputRegisters, FcReadWriteMultipleRegisters, FcReportSlaveID:
		if len(resp.Data) < 1 {
			return errTooShort(expected.String()+" response", len(resp.Data), 1)
		}
		return expectLen(expected, resp.Data, 1+int(resp.Data[0]))
	case FcWriteSingleCoil, FcWriteSingleRegister, FcWriteMultipleCoils, FcWriteMultipleRegisters:
		return expectLen(expected, resp.Data, 4)
	case FcMaskWriteRegister:
		return expectLen(expected, resp.Data, 6)
	default:
		return formatErrorf("unsupported function code %s", hexByte(byte(expected)))
	}
}

// CheckResponse performs the semantic checks a master applies once a
// response has passed ValidateResponsePDU: byte counts must match the
// requested quantity and write replies must echo the request.
func CheckResponse(req Request, resp Response) error {
	switch req.Function {
	case FcReadCoils, FcReadDiscreteInputs:
		_, qty := AddrQty(req.Data)
		if want := (int(qty) + 7) / 8; int(resp.Data[0]) != want {
			return formatErrorf("%s byte count %d, want %d", req.Function, resp.Data[0], want)
		}
	case FcReadHoldingRegisters, FcReadInputRegisters:
		_, qty := AddrQty(req.Data)
		if want := 2 * int(qty); int(resp.Data[0]) != want {
			return formatErrorf("%s byte count %d, want %d", req.Function, resp.Data[0], want)
		}
	case FcReadWriteMultipleRegisters:
		_, qty := AddrQty(req.Data)
		if want := 2 * int(qty); int(resp.Data[0]) != want {
			return formatErrorf("%s byte count %d, want %d", req.Function, resp.Data[0], want)
		}
	case FcWriteSingleCoil, FcWriteSingleRegister, FcMaskWriteRegister:
		if !bytes.Equal(resp.Data, req.Data) {
			return formatErrorf("%s echo does not match request", req.Function)
		}
	case FcWriteMultipleCoils, FcWriteMultipleRegisters:
		if !bytes.Equal(resp.Data, req.Data[:4]) {
			return formatErrorf("%s echo does not match request", req.Function)
		}
	}
	return nil
}

// --- response parsing ---

// countedBytes returns the bytes announced by the leading byte count of a
// read response.
func countedBytes(what string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errTooShort(what, 0, 1)
	}
	n := 1 + int(data[0])
	if len(data) < n {
		return nil, errTooShort(what+" data", len(data), n)
	}
	return data[1:n], nil
}

// DecodeReadRegistersResponse returns the registers of a 0x03, 0x04 or
// 0x17 reply.
func DecodeReadRegistersResponse(data []byte) ([]uint16, error) {
	body, err := countedBytes("read registers response", data)
	if err != nil {
		return nil, err
	}
	if len(body)%2 == 1 {
		return nil, formatErrorf("odd byte count in register response: %d", len(body))
	}
	return UnpackRegisters(body), nil
}

// DecodeReadBitsResponse returns the first quantity bits of a 0x01 or 0x02
// reply.
func DecodeReadBitsResponse(data []byte, quantity int) ([]bool, error) {
	body, err := countedBytes("read bits response", data)
	if err != nil {
		return nil, err
	}
	if byteCount := len(body); byteCount*8 < quantity {
		return nil, formatErrorf("read bits response holds %d bits, want %d", byteCount*8, quantity)
	}
	return UnpackBits(body, quantity), nil
}

// AddrQty splits the first four bytes of a request payload. The second
// value is a quantity or a single value depending on the function.
func AddrQty(data []byte) (uint16, uint16) {
	if len(data) < 4 {
		return 0, 0
	}
	return binary.BigEndian.Uint16(data), binary.BigEndian.Uint16(data[2:])
}

// PackBits packs bools LSB-first into bytes.
func PackBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// UnpackBits expands count LSB-first bits.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = data[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

// PackRegisters encodes registers big-endian.
func PackRegisters(values []uint16) []byte {
	return words(values...)
}

// UnpackRegisters decodes big-endian registers.
func UnpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out
}

// words encodes vs as consecutive big-endian 16-bit fields.
func words(vs ...uint16) []byte {
	out := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

func expectLen(fc FunctionCode, data []byte, want int) error {
	if len(data) != want {
		return formatErrorf("%s payload is %d bytes, want %d", fc, len(data), want)
	}
	return nil
}

func hexByte(b byte) string {
	return fmt.Sprintf("0x%02X", b)
}
