package modbus

// MBAP framing shared by Modbus/TCP and TCP-PI.

import (
	"encoding/binary"
	"fmt"
)

func errTooShort(what string, got, need int) error {
	return formatErrorf("%s too short: %d bytes (minimum %d)", what, got, need)
}

// PDU and ADU size bounds.
const (
	MinPDUSize = 1   // function code alone
	MaxPDUSize = 253 // limited by the 256 byte RTU frame
	MaxADUSize = MBAPHeaderSize + MaxPDUSize
)

// EncodeRequestTCP frames req with an MBAP header.
func EncodeRequestTCP(req Request) []byte {
	return encodeTCP(req.TransactionID, req.UnitID, req.Function, req.Data)
}

// DecodeRequestTCP unframes an MBAP request and checks the PDU length
// against its function code. The request is returned even when the check
// fails so a slave can answer with an exception.
func DecodeRequestTCP(data []byte) (Request, error) {
	hdr, pdu, err := splitTCP(data)
	if err != nil {
		return Request{}, err
	}
	req := Request{TransactionID: hdr.TransactionID, UnitID: hdr.UnitID}
	req.Function, req.Data = FunctionCode(pdu[0]), cloneBytes(pdu[1:])
	return req, ValidateRequestPDU(req.Function, req.Data)
}

// EncodeResponseTCP frames resp with an MBAP header.
func EncodeResponseTCP(resp Response) []byte {
	return encodeTCP(resp.TransactionID, resp.UnitID, resp.Function, resp.Data)
}

// DecodeResponseTCP unframes an MBAP reply to a request for expected. An
// exception reply comes back together with an *ExceptionError.
func DecodeResponseTCP(data []byte, expected FunctionCode) (Response, error) {
	hdr, pdu, err := splitTCP(data)
	if err != nil {
		return Response{}, err
	}
	resp := Response{TransactionID: hdr.TransactionID, UnitID: hdr.UnitID}
	resp.Function, resp.Data = FunctionCode(pdu[0]), cloneBytes(pdu[1:])
	return resp, ValidateResponsePDU(expected, resp)
}

// EncodeExceptionResponse frames the exception reply to fc.
func EncodeExceptionResponse(transactionID uint16, unitID uint8, fc FunctionCode, exc ExceptionCode) []byte {
	return encodeTCP(transactionID, unitID, fc|exceptionBit, []byte{byte(exc)})
}

// IsModbusTCP is a heuristic: protocol id zero, a plausible length and a
// known (or exception) function code.
func IsModbusTCP(data []byte) bool {
	if len(data) <= MBAPHeaderSize {
		return false
	}
	if binary.BigEndian.Uint16(data[2:]) != 0 {
		return false
	}
	if n := binary.BigEndian.Uint16(data[4:]); n < 2 || int(n) > MaxPDUSize+1 {
		return false
	}
	fc := FunctionCode(data[MBAPHeaderSize])
	return IsKnownFunction(fc &^ exceptionBit)
}

func encodeTCP(txID uint16, unitID uint8, fc FunctionCode, data []byte) []byte {
	// Length counts the unit id, the function code and the data.
	hdr := EncodeMBAPHeader(MBAPHeader{TransactionID: txID, Length: uint16(2 + len(data)), UnitID: unitID})
	return appendPDU(hdr, fc, data)
}

// splitTCP checks the MBAP header of a whole frame and returns its PDU.
// Length must cover exactly the bytes after the header.
func splitTCP(data []byte) (MBAPHeader, []byte, error) {
	hdr, err := DecodeMBAPHeader(data)
	if err != nil {
		return MBAPHeader{}, nil, err
	}
	switch pduLen := int(hdr.Length) - 1; {
	case hdr.ProtocolID != 0:
		return hdr, nil, formatErrorf("invalid Modbus protocol ID: 0x%04X", hdr.ProtocolID)
	case pduLen < MinPDUSize:
		return hdr, nil, errTooShort("Modbus PDU", pduLen, MinPDUSize)
	case pduLen > MaxPDUSize:
		return hdr, nil, formatErrorf("MBAP length %d exceeds maximum PDU", hdr.Length)
	case MBAPHeaderSize+pduLen > len(data):
		return hdr, nil, errTooShort("Modbus TCP frame", len(data), MBAPHeaderSize+pduLen)
	case MBAPHeaderSize+pduLen < len(data):
		return hdr, nil, formatErrorf("MBAP length %d does not match frame of %d bytes", hdr.Length, len(data))
	}
	return hdr, data[MBAPHeaderSize:], nil
}

func appendPDU(buf []byte, fc FunctionCode, data []byte) []byte {
	buf = append(buf, byte(fc))
	return append(buf, data...)
}

// cloneBytes copies b; empty input yields nil.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// Codec frames PDUs for one transport mode.
type Codec struct {
	Mode TransportMode
}

// NewCodec returns the codec for mode.
func NewCodec(mode TransportMode) Codec {
	return Codec{Mode: mode}
}

// HeaderLength is the number of ADU bytes before the function code.
func (c Codec) HeaderLength() int {
	if c.Mode == ModeRTU {
		return 1
	}
	return MBAPHeaderSize
}

// ChecksumLength is the number of trailing ADU bytes after the PDU.
func (c Codec) ChecksumLength() int {
	if c.Mode == ModeRTU {
		return RTUCRCSize
	}
	return 0
}

// MaxADULength is the largest frame the mode allows.
func (c Codec) MaxADULength() int {
	if c.Mode == ModeRTU {
		return RTUMaxFrameSize
	}
	return MaxADUSize
}

// EncodeRequest frames req for the codec's mode.
func (c Codec) EncodeRequest(req Request) []byte {
	if c.Mode == ModeRTU {
		return EncodeRequestRTU(req)
	}
	return EncodeRequestTCP(req)
}

// DecodeRequest parses and validates a request ADU.
func (c Codec) DecodeRequest(adu []byte) (Request, error) {
	if c.Mode == ModeRTU {
		return DecodeRequestRTU(adu)
	}
	return DecodeRequestTCP(adu)
}

// EncodeResponse frames resp for the codec's mode.
func (c Codec) EncodeResponse(resp Response) []byte {
	if c.Mode == ModeRTU {
		return EncodeResponseRTU(resp)
	}
	return EncodeResponseTCP(resp)
}

// DecodeResponse parses a response ADU for the outstanding function code.
func (c Codec) DecodeResponse(adu []byte, expected FunctionCode) (Response, error) {
	if c.Mode == ModeRTU {
		return DecodeResponseRTU(adu, expected)
	}
	return DecodeResponseTCP(adu, expected)
}

// String describes the codec.
func (c Codec) String() string {
	return fmt.Sprintf("Codec(%s)", c.Mode)
}
