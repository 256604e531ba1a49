package app

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/pcap"
)

// FrameOptions selects framing and addressing for EncodeFrame and
// DecodeFrame.
type FrameOptions struct {
	Mode          modbus.TransportMode
	UnitID        uint8
	TransactionID uint16 // TCP only
	Response      bool
}

// ParseHex accepts bytes written as "01 03 00 6b", "0x01,0x03" or
// "0103006b".
func ParseHex(s string) ([]byte, error) {
	s = strings.NewReplacer("0x", "", "0X", "", " ", "", ",", "", ":", "", "\n", "", "\t", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("no bytes given")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// EncodeFrame wraps pdu (function code followed by its data) in an ADU.
func EncodeFrame(pdu []byte, opts FrameOptions) ([]byte, error) {
	if len(pdu) < modbus.MinPDUSize || len(pdu) > modbus.MaxPDUSize {
		return nil, &modbus.ValueError{What: "PDU length", Got: len(pdu), Min: modbus.MinPDUSize, Max: modbus.MaxPDUSize}
	}
	codec := modbus.NewCodec(opts.Mode)
	fc := modbus.FunctionCode(pdu[0])
	data := pdu[1:]
	if opts.Response {
		return codec.EncodeResponse(modbus.Response{
			TransactionID: opts.TransactionID,
			UnitID:        opts.UnitID,
			Function:      fc,
			Data:          data,
		}), nil
	}
	return codec.EncodeRequest(modbus.Request{
		TransactionID: opts.TransactionID,
		UnitID:        opts.UnitID,
		Function:      fc,
		Data:          data,
	}), nil
}

// DecodeFrame parses adu as a request, or a response when opts.Response
// is set, and describes its fields.
func DecodeFrame(adu []byte, opts FrameOptions) (string, error) {
	codec := modbus.NewCodec(opts.Mode)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mode:     %s\n", opts.Mode)

	if opts.Response {
		if len(adu) <= codec.HeaderLength() {
			return "", &modbus.FormatError{Reason: "frame too short"}
		}
		expected := modbus.FunctionCode(adu[codec.HeaderLength()]) &^ 0x80
		resp, err := codec.DecodeResponse(adu, expected)
		var exc *modbus.ExceptionError
		if err != nil && !errors.As(err, &exc) {
			return "", err
		}
		writeHeader(&sb, opts.Mode, resp.TransactionID, resp.UnitID, resp.Function)
		if resp.IsException() {
			fmt.Fprintf(&sb, "Exception: %s\n", resp.ExceptionCode())
		} else {
			fmt.Fprintf(&sb, "Data:     % X\n", resp.Data)
		}
	} else {
		req, err := codec.DecodeRequest(adu)
		if err != nil {
			return "", err
		}
		writeHeader(&sb, opts.Mode, req.TransactionID, req.UnitID, req.Function)
		fmt.Fprintf(&sb, "Data:     % X\n", req.Data)
		if modbus.IsKnownFunction(req.Function) {
			if err := modbus.ValidateRequestValues(req); err != nil {
				fmt.Fprintf(&sb, "Invalid:  %v\n", err)
			}
		}
	}
	sb.WriteString(pcap.FormatADU(adu, opts.Mode))
	return sb.String(), nil
}

func writeHeader(sb *strings.Builder, mode modbus.TransportMode, tid uint16, unit uint8, fc modbus.FunctionCode) {
	if mode == modbus.ModeTCP {
		fmt.Fprintf(sb, "TID:      %d\n", tid)
	}
	fmt.Fprintf(sb, "Unit:     %d\n", unit)
	fmt.Fprintf(sb, "Function: %s (0x%02X)\n", fc, byte(fc))
}
