package modbus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMBAPWireFormat(t *testing.T) {
	req := Request{TransactionID: 0x0042, UnitID: 1, Function: FcReadHoldingRegisters, Data: ReadHoldingRegistersRequest(0, 10)}
	want := []byte{0x00, 0x42, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	frame := EncodeRequestTCP(req)
	if !bytes.Equal(frame, want) {
		t.Fatalf("EncodeRequestTCP = % X, want % X", frame, want)
	}
	got, err := DecodeRequestTCP(frame)
	if err != nil {
		t.Fatalf("DecodeRequestTCP: %v", err)
	}
	if got.TransactionID != 0x42 || got.UnitID != 1 || got.Function != FcReadHoldingRegisters || !bytes.Equal(got.Data, req.Data) {
		t.Errorf("decoded %+v, want %+v", got, req)
	}

	reply := EncodeResponseTCP(Response{TransactionID: 0x42, UnitID: 1, Function: FcReadHoldingRegisters, Data: []byte{0x04, 0x00, 0x0A, 0x00, 0x14}})
	resp, err := DecodeResponseTCP(reply, FcReadHoldingRegisters)
	if err != nil {
		t.Fatalf("DecodeResponseTCP: %v", err)
	}
	if regs, _ := DecodeReadRegistersResponse(resp.Data); len(regs) != 2 || regs[1] != 20 {
		t.Errorf("registers = %v, want [10 20]", regs)
	}
}

func TestRequestRoundTripAllFunctions(t *testing.T) {
	payloads := map[FunctionCode][]byte{
		FcReadCoils:                  ReadCoilsRequest(0x0130, 0x25),
		FcReadDiscreteInputs:         ReadDiscreteInputsRequest(0x01C4, 0x16),
		FcReadHoldingRegisters:       ReadHoldingRegistersRequest(0x0160, 3),
		FcReadInputRegisters:         ReadInputRegistersRequest(0x0108, 1),
		FcWriteSingleCoil:            WriteSingleCoilRequest(0x0130, true),
		FcWriteSingleRegister:        WriteSingleRegisterRequest(0x0160, 0x1234),
		FcWriteMultipleCoils:         WriteMultipleCoilsRequest(0x0130, []bool{true, false, true, true, false, false, true, true, true}),
		FcWriteMultipleRegisters:     WriteMultipleRegistersRequest(0x0160, []uint16{0x022B, 0x0001, 0x0064}),
		FcMaskWriteRegister:          MaskWriteRegisterRequest(0x0160, 0x00F2, 0x0025),
		FcReadWriteMultipleRegisters: WriteReadRegistersRequest(0x0160, []uint16{7, 8}, 0x0160, 2),
		FcReportSlaveID:              nil,
	}
	for _, mode := range []TransportMode{ModeTCP, ModeRTU} {
		codec := NewCodec(mode)
		for fc, data := range payloads {
			req := Request{UnitID: 17, Function: fc, Data: data}
			if mode == ModeTCP {
				req.TransactionID = 0x1C
			}
			decoded, err := codec.DecodeRequest(codec.EncodeRequest(req))
			if err != nil {
				t.Errorf("%s %s: DecodeRequest: %v", mode, fc, err)
				continue
			}
			if decoded.TransactionID != req.TransactionID || decoded.UnitID != req.UnitID ||
				decoded.Function != req.Function || string(decoded.Data) != string(req.Data) {
				t.Errorf("%s %s: decoded %+v, want %+v", mode, fc, decoded, req)
			}
		}
	}
}

func TestExceptionRoundTrip(t *testing.T) {
	frame := EncodeExceptionResponse(7, 1, FcReadHoldingRegisters, ExceptionSlaveDeviceBusy)
	pdu := frame[MBAPHeaderSize:]
	if pdu[0] != 0x83 {
		t.Errorf("function byte = 0x%02X, want 0x83", pdu[0])
	}
	if len(pdu) != 2 || pdu[1] != 0x06 {
		t.Errorf("payload = % X, want 06", pdu[1:])
	}

	resp, err := DecodeResponseTCP(frame, FcReadHoldingRegisters)
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("error = %v, want *ExceptionError", err)
	}
	if exc.Code != ExceptionSlaveDeviceBusy {
		t.Errorf("Code = %v, want %v", exc.Code, ExceptionSlaveDeviceBusy)
	}
	if !resp.IsException() || resp.ExceptionCode() != ExceptionSlaveDeviceBusy {
		t.Errorf("resp = %+v, want exception Slave_Device_Busy", resp)
	}
}

func TestDecodeRequestTCPMalformed(t *testing.T) {
	valid := EncodeRequestTCP(Request{TransactionID: 1, UnitID: 1, Function: FcReadCoils, Data: ReadCoilsRequest(0, 10)})
	with := func(edit func([]byte) []byte) []byte { return edit(bytes.Clone(valid)) }

	tests := map[string][]byte{
		"too short": {0x00, 0x01},
		"protocol id": with(func(f []byte) []byte {
			binary.BigEndian.PutUint16(f[2:], 1)
			return f
		}),
		"trailing byte": with(func(f []byte) []byte { return append(f, 0x00) }),
		"length beyond frame": with(func(f []byte) []byte {
			binary.BigEndian.PutUint16(f[4:], 9)
			return f
		}),
		"no function code": with(func(f []byte) []byte {
			binary.BigEndian.PutUint16(f[4:], 1)
			return f[:MBAPHeaderSize]
		}),
		"short read payload":  encodeTCP(1, 1, FcReadHoldingRegisters, []byte{0x00, 0x01, 0x00}),
		"byte count mismatch": encodeTCP(1, 1, FcWriteMultipleRegisters, []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x01}),
	}
	for name, frame := range tests {
		if _, err := DecodeRequestTCP(frame); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: error = %v, want ErrFormat", name, err)
		}
	}
}

func TestDecodeResponseFunctionMismatch(t *testing.T) {
	frame := EncodeResponseTCP(Response{TransactionID: 1, UnitID: 1, Function: FcReadInputRegisters, Data: []byte{0x02, 0x00, 0x01}})
	if _, err := DecodeResponseTCP(frame, FcReadHoldingRegisters); !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
}

func TestCheckResponse(t *testing.T) {
	req := Request{Function: FcReadHoldingRegisters, Data: ReadHoldingRegistersRequest(1, 2)}
	good := Response{Function: FcReadHoldingRegisters, Data: []byte{0x04, 0, 1, 0, 2}}
	if err := CheckResponse(req, good); err != nil {
		t.Errorf("CheckResponse(good): %v", err)
	}
	// One register fewer than requested.
	short := Response{Function: FcReadHoldingRegisters, Data: []byte{0x02, 0, 1}}
	if err := CheckResponse(req, short); !errors.Is(err, ErrFormat) {
		t.Errorf("CheckResponse(short) = %v, want ErrFormat", err)
	}

	write := Request{Function: FcWriteSingleRegister, Data: WriteSingleRegisterRequest(1, 42)}
	if err := CheckResponse(write, Response{Function: FcWriteSingleRegister, Data: WriteSingleRegisterRequest(1, 42)}); err != nil {
		t.Errorf("CheckResponse(echo): %v", err)
	}
	if err := CheckResponse(write, Response{Function: FcWriteSingleRegister, Data: WriteSingleRegisterRequest(1, 43)}); !errors.Is(err, ErrFormat) {
		t.Errorf("CheckResponse(bad echo) = %v, want ErrFormat", err)
	}
}

func TestPackUnpackBits(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, true, true, true, false}
	packed := PackBits(bits)
	if len(packed) != 2 || packed[0] != 0xCD || packed[1] != 0x01 {
		t.Fatalf("PackBits = % X, want CD 01", packed)
	}
	got := UnpackBits(packed, len(bits))
	for i := range bits {
		if got[i] != bits[i] {
			t.Errorf("bit %d = %v, want %v", i, got[i], bits[i])
		}
	}
}

func TestDecodeReadBitsResponse(t *testing.T) {
	bits, err := DecodeReadBitsResponse([]byte{0x01, 0x05}, 3)
	if err != nil {
		t.Fatalf("DecodeReadBitsResponse: %v", err)
	}
	if !bits[0] || bits[1] || !bits[2] {
		t.Errorf("bits = %v, want [true false true]", bits)
	}
	if _, err := DecodeReadBitsResponse([]byte{0x01, 0x05}, 9); !errors.Is(err, ErrFormat) {
		t.Errorf("too few bits: error = %v, want ErrFormat", err)
	}
}

func TestIsModbusTCP(t *testing.T) {
	frame := EncodeRequestTCP(Request{TransactionID: 1, UnitID: 1, Function: FcReadCoils, Data: ReadCoilsRequest(0, 1)})
	if !IsModbusTCP(frame) {
		t.Error("valid request not recognised")
	}
	exc := EncodeExceptionResponse(1, 1, FcReadCoils, ExceptionIllegalFunction)
	if !IsModbusTCP(exc) {
		t.Error("exception reply not recognised")
	}
	for _, bad := range [][]byte{{0x01, 0x03}, encodeTCP(1, 1, 0x2B, nil)} {
		if IsModbusTCP(bad) {
			t.Errorf("IsModbusTCP(% X) = true", bad)
		}
	}
}

func TestCodecHeaderLength(t *testing.T) {
	if got := NewCodec(ModeTCP).HeaderLength(); got != 7 {
		t.Errorf("TCP HeaderLength = %d, want 7", got)
	}
	if got := NewCodec(ModeRTU).HeaderLength(); got != 1 {
		t.Errorf("RTU HeaderLength = %d, want 1", got)
	}
}
