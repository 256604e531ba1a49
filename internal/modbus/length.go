package modbus

// Length rules used to read an RTU frame off a byte stream, where there is
// no length field. A receiver reads the header and function code, then
// MetaLength bytes, then DataLength bytes plus the CRC.

// MetaLength returns how many bytes follow the function code before any
// variable-length data.
func MetaLength(fc FunctionCode, msgType MsgType) int {
	if msgType == Indication {
		switch fc {
		case FcReadCoils, FcReadDiscreteInputs, FcReadHoldingRegisters,
			FcReadInputRegisters, FcWriteSingleCoil, FcWriteSingleRegister:
			return 4
		case FcWriteMultipleCoils, FcWriteMultipleRegisters:
			return 5
		case FcMaskWriteRegister:
			return 6
		case FcReadWriteMultipleRegisters:
			return 9
		default:
			return 0
		}
	}
	switch fc {
	case FcWriteSingleCoil, FcWriteSingleRegister,
		FcWriteMultipleCoils, FcWriteMultipleRegisters:
		return 4
	case FcMaskWriteRegister:
		return 6
	default:
		// byte count, or the exception code
		return 1
	}
}

// DataLength returns how many bytes follow the meta section. pdu starts at
// the function code and holds at least 1+MetaLength bytes.
func DataLength(pdu []byte, msgType MsgType) int {
	fc := FunctionCode(pdu[0])
	if msgType == Indication {
		switch fc {
		case FcWriteMultipleCoils, FcWriteMultipleRegisters:
			return int(pdu[5])
		case FcReadWriteMultipleRegisters:
			return int(pdu[9])
		default:
			return 0
		}
	}
	switch fc {
	case FcReadCoils, FcReadDiscreteInputs, FcReadHoldingRegisters,
		FcReadInputRegisters, FcReadWriteMultipleRegisters, FcReportSlaveID:
		return int(pdu[1])
	default:
		return 0
	}
}
