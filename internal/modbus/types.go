package modbus

// Frames come in two shapes. MBAP-framed ADUs serve Modbus/TCP and the
// protocol-independent TCP-PI variant; RTU frames (address, PDU, CRC-16)
// serve serial lines.

import "encoding/binary"

// TransportMode selects the ADU framing.
type TransportMode int

const (
	ModeTCP TransportMode = iota // MBAP header (TCP and TCP-PI)
	ModeRTU                      // RTU framing with CRC-16
)

// MsgType tells the length rules which side of an exchange a frame is.
type MsgType int

const (
	Indication   MsgType = iota // request received by a slave
	Confirmation                // response received by a master
)

// FunctionCode is the first PDU byte.
type FunctionCode uint8

// MBAPHeader precedes every PDU on TCP. Length counts the unit id and the
// PDU.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        uint8
}

// MBAPHeaderSize is the encoded size of MBAPHeader.
const MBAPHeaderSize = 7

// Addressing limits.
const (
	BroadcastAddress = 0
	MaxSlaveID       = 247
	TCPSlaveID       = 0xFF // unit id used when the TCP peer is the device itself
)

// Request is a decoded request ADU. Data holds the PDU after the function
// code.
type Request struct {
	TransactionID uint16 // zero for RTU
	UnitID        uint8
	Function      FunctionCode
	Data          []byte
}

// Response is a decoded response ADU. An exception sets the high bit of
// Function and carries the code in Data[0].
type Response struct {
	TransactionID uint16
	UnitID        uint8
	Function      FunctionCode
	Data          []byte
}

// ExceptionCode is the single data byte of an exception response.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction      ExceptionCode = 0x01
	ExceptionIllegalDataAddress   ExceptionCode = 0x02
	ExceptionIllegalDataValue     ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure   ExceptionCode = 0x04
	ExceptionAcknowledge          ExceptionCode = 0x05
	ExceptionSlaveDeviceBusy      ExceptionCode = 0x06
	ExceptionNegativeAcknowledge  ExceptionCode = 0x07
	ExceptionMemoryParityError    ExceptionCode = 0x08
	ExceptionGatewayPathUnavail   ExceptionCode = 0x0A
	ExceptionGatewayTargetNoReply ExceptionCode = 0x0B
)

// exceptionBit is OR-ed into the function code of an exception response.
const exceptionBit = 0x80

func (r Response) IsException() bool {
	return r.Function&exceptionBit != 0
}

// ExceptionCode is zero unless r is an exception response.
func (r Response) ExceptionCode() ExceptionCode {
	if !r.IsException() || len(r.Data) == 0 {
		return 0
	}
	return ExceptionCode(r.Data[0])
}

// PDU returns function code followed by data.
func (r Request) PDU() []byte {
	return appendPDU(nil, r.Function, r.Data)
}

// PDU returns function code followed by data.
func (r Response) PDU() []byte {
	return appendPDU(nil, r.Function, r.Data)
}

// NewExceptionResponse builds the exception reply for req.
func NewExceptionResponse(req Request, exc ExceptionCode) Response {
	resp := Response{TransactionID: req.TransactionID, UnitID: req.UnitID}
	resp.Function = req.Function | exceptionBit
	resp.Data = []byte{byte(exc)}
	return resp
}

// EncodeMBAPHeader returns the 7 header bytes for h.
func EncodeMBAPHeader(h MBAPHeader) []byte {
	out := make([]byte, 0, MBAPHeaderSize)
	out = binary.BigEndian.AppendUint16(out, h.TransactionID)
	out = binary.BigEndian.AppendUint16(out, h.ProtocolID)
	out = binary.BigEndian.AppendUint16(out, h.Length)
	return append(out, h.UnitID)
}

// DecodeMBAPHeader reads the header at the start of data without checking
// its fields.
func DecodeMBAPHeader(data []byte) (MBAPHeader, error) {
	if len(data) < MBAPHeaderSize {
		return MBAPHeader{}, errTooShort("MBAP header", len(data), MBAPHeaderSize)
	}
	var h MBAPHeader
	h.TransactionID = binary.BigEndian.Uint16(data)
	h.ProtocolID = binary.BigEndian.Uint16(data[2:])
	h.Length = binary.BigEndian.Uint16(data[4:])
	h.UnitID = data[6]
	return h, nil
}

func (m TransportMode) String() string {
	switch m {
	case ModeTCP:
		return "TCP"
	case ModeRTU:
		return "RTU"
	}
	return "Unknown"
}

var exceptionNames = map[ExceptionCode]string{
	ExceptionIllegalFunction:      "Illegal_Function",
	ExceptionIllegalDataAddress:   "Illegal_Data_Address",
	ExceptionIllegalDataValue:     "Illegal_Data_Value",
	ExceptionSlaveDeviceFailure:   "Slave_Device_Failure",
	ExceptionAcknowledge:          "Acknowledge",
	ExceptionSlaveDeviceBusy:      "Slave_Device_Busy",
	ExceptionNegativeAcknowledge:  "Negative_Acknowledge",
	ExceptionMemoryParityError:    "Memory_Parity_Error",
	ExceptionGatewayPathUnavail:   "Gateway_Path_Unavailable",
	ExceptionGatewayTargetNoReply: "Gateway_Target_Failed_To_Respond",
}

func (e ExceptionCode) String() string {
	if name, ok := exceptionNames[e]; ok {
		return name
	}
	return "Unknown"
}

// ParseExceptionCode accepts the names produced by String (case-sensitive)
// and is used by configuration files.
func ParseExceptionCode(name string) (ExceptionCode, bool) {
	for code, n := range exceptionNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}
