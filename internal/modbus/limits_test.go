package modbus

import (
	"errors"
	"testing"
)

func TestValidateRequestValues(t *testing.T) {
	regs := func(n int) []uint16 { return make([]uint16, n) }
	coils := func(n int) []bool { return make([]bool, n) }

	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"read bits max", Request{Function: FcReadCoils, Data: ReadCoilsRequest(0, MaxReadBits)}, true},
		{"read bits over", Request{Function: FcReadDiscreteInputs, Data: ReadDiscreteInputsRequest(0, MaxReadBits+1)}, false},
		{"read bits zero", Request{Function: FcReadCoils, Data: ReadCoilsRequest(0, 0)}, false},
		{"read registers max", Request{Function: FcReadHoldingRegisters, Data: ReadHoldingRegistersRequest(0, MaxReadRegisters)}, true},
		{"read registers over", Request{Function: FcReadInputRegisters, Data: ReadInputRegistersRequest(0, MaxReadRegisters+1)}, false},
		{"coil on", Request{Function: FcWriteSingleCoil, Data: WriteSingleCoilRequest(0, true)}, true},
		{"coil bad value", Request{Function: FcWriteSingleCoil, Data: WriteSingleRegisterRequest(0, 0x1234)}, false},
		{"write coils max", Request{Function: FcWriteMultipleCoils, Data: WriteMultipleCoilsRequest(0, coils(MaxWriteBits))}, true},
		{"write coils over", Request{Function: FcWriteMultipleCoils, Data: WriteMultipleCoilsRequest(0, coils(MaxWriteBits+1))}, false},
		{"write registers max", Request{Function: FcWriteMultipleRegisters, Data: WriteMultipleRegistersRequest(0, regs(MaxWriteRegisters))}, true},
		{"write registers over", Request{Function: FcWriteMultipleRegisters, Data: WriteMultipleRegistersRequest(0, regs(MaxWriteRegisters+1))}, false},
		{"write-read ok", Request{Function: FcReadWriteMultipleRegisters, Data: WriteReadRegistersRequest(0, regs(MaxWriteReadRegisters), 0, MaxReadRegisters)}, true},
		{"write-read write over", Request{Function: FcReadWriteMultipleRegisters, Data: WriteReadRegistersRequest(0, regs(MaxWriteReadRegisters+1), 0, 1)}, false},
		{"write-read read over", Request{Function: FcReadWriteMultipleRegisters, Data: WriteReadRegistersRequest(0, regs(1), 0, MaxReadRegisters+1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequestValues(tt.req)
			if tt.ok && err != nil {
				t.Fatalf("ValidateRequestValues: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValueRange) {
				t.Fatalf("error = %v, want ErrValueRange", err)
			}
		})
	}
}

func TestValidateRequestValuesByteCountMismatch(t *testing.T) {
	data := WriteMultipleRegistersRequest(0, []uint16{1, 2})
	// Quantity 3 with a byte count for 2 registers.
	data[3] = 3
	err := ValidateRequestValues(Request{Function: FcWriteMultipleRegisters, Data: data})
	code, ok := ExceptionFor(err)
	if !ok || code != ExceptionIllegalDataValue {
		t.Fatalf("ExceptionFor(%v) = %v, %v; want Illegal_Data_Value", err, code, ok)
	}
}
