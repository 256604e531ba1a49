package modbus

// Function codes implemented by the stack, with their quantity limits.

const (
	FcReadCoils                  FunctionCode = 0x01
	FcReadDiscreteInputs         FunctionCode = 0x02
	FcReadHoldingRegisters       FunctionCode = 0x03
	FcReadInputRegisters         FunctionCode = 0x04
	FcWriteSingleCoil            FunctionCode = 0x05
	FcWriteSingleRegister        FunctionCode = 0x06
	FcWriteMultipleCoils         FunctionCode = 0x0F
	FcWriteMultipleRegisters     FunctionCode = 0x10
	FcReportSlaveID              FunctionCode = 0x11
	FcMaskWriteRegister          FunctionCode = 0x16
	FcReadWriteMultipleRegisters FunctionCode = 0x17
)

// Quantity limits from the Modbus application protocol.
const (
	MaxReadBits           = 2000
	MaxWriteBits          = 1968
	MaxReadRegisters      = 125
	MaxWriteRegisters     = 123
	MaxWriteReadRegisters = 121 // write half of 0x17
)

// Coil values on the wire for 0x05.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

type fcKind uint8

const (
	fcRead fcKind = 1 << iota
	fcWrite
)

type fcInfo struct {
	name string
	kind fcKind
}

var functions = map[FunctionCode]fcInfo{
	FcReadCoils:                  {"Read_Coils", fcRead},
	FcReadDiscreteInputs:         {"Read_Discrete_Inputs", fcRead},
	FcReadHoldingRegisters:       {"Read_Holding_Registers", fcRead},
	FcReadInputRegisters:         {"Read_Input_Registers", fcRead},
	FcWriteSingleCoil:            {"Write_Single_Coil", fcWrite},
	FcWriteSingleRegister:        {"Write_Single_Register", fcWrite},
	FcWriteMultipleCoils:         {"Write_Multiple_Coils", fcWrite},
	FcWriteMultipleRegisters:     {"Write_Multiple_Registers", fcWrite},
	FcReportSlaveID:              {"Report_Slave_ID", fcRead},
	FcMaskWriteRegister:          {"Mask_Write_Register", fcWrite},
	FcReadWriteMultipleRegisters: {"Read_Write_Multiple_Registers", fcWrite},
}

// String returns the function's name, or "Unknown".
func (fc FunctionCode) String() string {
	if info, ok := functions[fc]; ok {
		return info.name
	}
	return "Unknown"
}

// IsRead reports whether fc only reads the data mapping.
func (fc FunctionCode) IsRead() bool { return functions[fc].kind&fcRead != 0 }

// IsWrite reports whether fc modifies the data mapping. 0x17 counts as a
// write.
func (fc FunctionCode) IsWrite() bool { return functions[fc].kind&fcWrite != 0 }

// IsKnownFunction reports whether the stack implements fc.
func IsKnownFunction(fc FunctionCode) bool {
	_, ok := functions[fc]
	return ok
}
