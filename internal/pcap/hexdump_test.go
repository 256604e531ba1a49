package pcap

import (
	"strings"
	"testing"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// TestHexDump tests hex dump formatting
func TestHexDump(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 'M'}

	dump := HexDump(data, 16)

	if !strings.Contains(dump, "0000:") || !strings.Contains(dump, "0010:") {
		t.Errorf("Hex dump should contain both offsets:\n%s", dump)
	}
	if !strings.Contains(dump, "00 01 02 03") {
		t.Error("Hex dump should contain hex bytes")
	}
	if !strings.Contains(dump, "|M|") {
		t.Errorf("Hex dump should contain ASCII column:\n%s", dump)
	}
}

func TestFormatADU(t *testing.T) {
	req := modbus.Request{TransactionID: 9, UnitID: 0xFF, Function: modbus.FcReadHoldingRegisters, Data: modbus.ReadHoldingRegistersRequest(0x6B, 3)}

	tcp := FormatADU(modbus.EncodeRequestTCP(req), modbus.ModeTCP)
	if !strings.Contains(tcp, "tid=9") || !strings.Contains(tcp, "unit=0xff") || !strings.Contains(tcp, "03 00 6b 00 03") {
		t.Errorf("TCP format:\n%s", tcp)
	}

	rtu := modbus.EncodeRequestRTU(req)
	if out := FormatADU(rtu, modbus.ModeRTU); !strings.Contains(out, "(ok)") {
		t.Errorf("RTU format should report a good CRC:\n%s", out)
	}
	rtu[len(rtu)-1] ^= 0xFF
	if out := FormatADU(rtu, modbus.ModeRTU); !strings.Contains(out, "(BAD)") {
		t.Errorf("RTU format should report a bad CRC:\n%s", out)
	}

	if out := FormatADU([]byte{0x01, 0x02}, modbus.ModeTCP); !strings.Contains(out, "0000:") {
		t.Errorf("short frame should fall back to a dump:\n%s", out)
	}
}
