package pcap

// Hex dump utilities for frame analysis

import (
	"fmt"
	"strings"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// HexDump creates a hex dump of frame data
func HexDump(data []byte, width int) string {
	if width <= 0 {
		width = 16
	}

	var sb strings.Builder
	for i := 0; i < len(data); i += width {
		fmt.Fprintf(&sb, "%04x: ", i)

		for j := 0; j < width; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&sb, "%02x ", data[i+j])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString(" |")
		for j := 0; j < width && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	return sb.String()
}

// FormatADU labels the parts of an ADU: MBAP header and PDU for TCP, unit
// id, PDU and CRC for RTU. Frames too short to split are dumped whole.
func FormatADU(adu []byte, mode modbus.TransportMode) string {
	var sb strings.Builder
	switch mode {
	case modbus.ModeRTU:
		if len(adu) < modbus.RTUMinFrameSize {
			return HexDump(adu, 16)
		}
		crcOK := "ok"
		if !modbus.ValidateCRC(adu) {
			crcOK = "BAD"
		}
		fmt.Fprintf(&sb, "Unit:  0x%02x\n", adu[0])
		sb.WriteString("PDU:\n")
		sb.WriteString(HexDump(adu[1:len(adu)-modbus.RTUCRCSize], 16))
		fmt.Fprintf(&sb, "CRC:   %02x %02x (%s)\n", adu[len(adu)-2], adu[len(adu)-1], crcOK)
	default:
		hdr, err := modbus.DecodeMBAPHeader(adu)
		if err != nil || len(adu) == modbus.MBAPHeaderSize {
			return HexDump(adu, 16)
		}
		fmt.Fprintf(&sb, "MBAP:  tid=%d proto=%d len=%d unit=0x%02x\n",
			hdr.TransactionID, hdr.ProtocolID, hdr.Length, hdr.UnitID)
		sb.WriteString("PDU:\n")
		sb.WriteString(HexDump(adu[modbus.MBAPHeaderSize:], 16))
	}
	return sb.String()
}
