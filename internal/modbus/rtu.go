package modbus

// Serial line framing: address byte, PDU, then the CRC-16 low byte first.

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// RTU frame bounds.
const (
	RTUMinFrameSize = 4   // address, function code, CRC
	RTUMaxFrameSize = 256 // address, MaxPDUSize, CRC
	RTUCRCSize      = 2
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// EncodeRequestRTU frames req for a serial line.
func EncodeRequestRTU(req Request) []byte {
	return encodeRTU(req.UnitID, req.Function, req.Data)
}

// DecodeRequestRTU checks the CRC of a request frame and its PDU length.
// As with TCP, the request is returned alongside a PDU length error.
func DecodeRequestRTU(data []byte) (Request, error) {
	pdu, err := splitRTU(data)
	if err != nil {
		return Request{}, err
	}
	req := Request{UnitID: data[0], Function: FunctionCode(pdu[0]), Data: cloneBytes(pdu[1:])}
	return req, ValidateRequestPDU(req.Function, req.Data)
}

// EncodeResponseRTU frames resp for a serial line.
func EncodeResponseRTU(resp Response) []byte {
	return encodeRTU(resp.UnitID, resp.Function, resp.Data)
}

// DecodeResponseRTU checks a reply frame to a request for expected.
func DecodeResponseRTU(data []byte, expected FunctionCode) (Response, error) {
	pdu, err := splitRTU(data)
	if err != nil {
		return Response{}, err
	}
	resp := Response{UnitID: data[0], Function: FunctionCode(pdu[0]), Data: cloneBytes(pdu[1:])}
	return resp, ValidateResponsePDU(expected, resp)
}

// ValidateCRC reports whether the trailer of data matches its contents.
func ValidateCRC(data []byte) bool {
	body, crc, ok := cutCRC(data)
	return ok && CRC16(body) == crc
}

// CRC16 is the Modbus CRC (reflected 0xA001, seed 0xFFFF).
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

func encodeRTU(unitID uint8, fc FunctionCode, data []byte) []byte {
	adu := appendPDU(append(make([]byte, 0, len(data)+4), unitID), fc, data)
	return binary.LittleEndian.AppendUint16(adu, CRC16(adu))
}

// cutCRC separates the frame body from its trailer.
func cutCRC(data []byte) ([]byte, uint16, bool) {
	if len(data) < RTUMinFrameSize {
		return nil, 0, false
	}
	n := len(data) - RTUCRCSize
	return data[:n], binary.LittleEndian.Uint16(data[n:]), true
}

func splitRTU(data []byte) ([]byte, error) {
	if len(data) > RTUMaxFrameSize {
		return nil, formatErrorf("RTU frame of %d bytes exceeds %d", len(data), RTUMaxFrameSize)
	}
	body, got, ok := cutCRC(data)
	if !ok {
		return nil, errTooShort("RTU frame", len(data), RTUMinFrameSize)
	}
	if want := CRC16(body); got != want {
		return nil, formatErrorf("RTU CRC mismatch: got 0x%04X, want 0x%04X", got, want)
	}
	return body[1:], nil
}
