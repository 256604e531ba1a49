package modbus

import "encoding/binary"

// CheckQuantity reports a *ValueError when got is outside [1, max].
func CheckQuantity(what string, got, max int) error {
	if got < 1 || got > max {
		return &ValueError{What: what, Got: got, Min: 1, Max: max}
	}
	return nil
}

// ValidateRequestValues checks the quantities and values of a structurally
// valid request against the protocol limits for its function code. A slave
// answers a failure with Illegal Data Value.
func ValidateRequestValues(req Request) error {
	d := req.Data
	switch req.Function {
	case FcReadCoils, FcReadDiscreteInputs:
		_, qty := AddrQty(d)
		return CheckQuantity(req.Function.String()+" quantity", int(qty), MaxReadBits)
	case FcReadHoldingRegisters, FcReadInputRegisters:
		_, qty := AddrQty(d)
		return CheckQuantity(req.Function.String()+" quantity", int(qty), MaxReadRegisters)
	case FcWriteSingleCoil:
		if _, v := AddrQty(d); v != CoilOn && v != CoilOff {
			return &ValueError{What: "coil value", Got: int(v), Min: int(CoilOff), Max: int(CoilOn)}
		}
	case FcWriteMultipleCoils:
		_, qty := AddrQty(d)
		if err := CheckQuantity("coil quantity", int(qty), MaxWriteBits); err != nil {
			return err
		}
		if want := (int(qty) + 7) / 8; int(d[4]) != want {
			return &ValueError{What: "coil byte count", Got: int(d[4]), Min: want, Max: want}
		}
	case FcWriteMultipleRegisters:
		_, qty := AddrQty(d)
		if err := CheckQuantity("register quantity", int(qty), MaxWriteRegisters); err != nil {
			return err
		}
		if want := 2 * int(qty); int(d[4]) != want {
			return &ValueError{What: "register byte count", Got: int(d[4]), Min: want, Max: want}
		}
	case FcReadWriteMultipleRegisters:
		_, readQty := AddrQty(d)
		writeQty := int(binary.BigEndian.Uint16(d[6:8]))
		if err := CheckQuantity("read quantity", int(readQty), MaxReadRegisters); err != nil {
			return err
		}
		if err := CheckQuantity("write quantity", writeQty, MaxWriteReadRegisters); err != nil {
			return err
		}
		if want := 2 * writeQty; int(d[8]) != want {
			return &ValueError{What: "write byte count", Got: int(d[8]), Min: want, Max: want}
		}
	}
	return nil
}
