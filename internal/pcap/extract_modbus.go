package pcap

// Frames are recovered from MBAP traffic on a chosen port (TCP with stream
// reassembly, or UDP), and from RTU frames carried one per UDP datagram.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// ModbusPacket is one frame recovered from a capture.
type ModbusPacket struct {
	TransactionID uint16 // zero for RTU
	UnitID        uint8
	Function      modbus.FunctionCode
	Data          []byte // PDU after the function code
	FullFrame     []byte // whole ADU as captured
	IsRequest     bool   // sent towards the Modbus port
	IsException   bool
	Description   string
	Timestamp     time.Time
	Transport     string // tcp or udp
	Mode          modbus.TransportMode
	SrcIP         string
	DstIP         string
	SrcPort       uint16
	DstPort       uint16
}

// ModbusPort is the standard Modbus TCP port.
const ModbusPort = 502

// packetMeta carries the addressing of one captured packet.
type packetMeta struct {
	Timestamp time.Time
	Transport string
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
}

// ExtractModbusFromPCAP opens a pcap or pcapng file and extracts the
// frames exchanged with port 502.
func ExtractModbusFromPCAP(pcapFile string) ([]ModbusPacket, error) {
	f, err := os.Open(pcapFile)
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer f.Close()
	return ExtractModbus(f, ModbusPort)
}

// ExtractModbus reads a capture from r and extracts frames exchanged with
// port. TCP payloads are reassembled per direction before framing.
func ExtractModbus(r io.Reader, port uint16) ([]ModbusPacket, error) {
	source, err := newPacketSource(r)
	if err != nil {
		return nil, err
	}
	x := &extractor{port: port, streams: make(map[string][]byte)}
	for packet := range source.Packets() {
		x.handle(packet)
	}
	return x.out, nil
}

type extractor struct {
	port    uint16
	streams map[string][]byte
	out     []ModbusPacket
}

func (x *extractor) handle(packet gopacket.Packet) {
	meta := extractPacketMeta(packet)
	switch t := packet.TransportLayer().(type) {
	case *layers.TCP:
		meta.Transport = "tcp"
		meta.SrcPort, meta.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		if !x.matches(meta) || len(t.Payload) == 0 {
			return
		}
		key := streamKey(packet.NetworkLayer(), t)
		frames, rest := extractModbusFrames(append(x.streams[key], t.Payload...), meta.DstPort == x.port, meta)
		x.streams[key] = rest
		x.out = append(x.out, frames...)
	case *layers.UDP:
		meta.Transport = "udp"
		meta.SrcPort, meta.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		if !x.matches(meta) || len(t.Payload) == 0 {
			return
		}
		// One datagram carries one MBAP frame or one RTU frame.
		toServer := meta.DstPort == x.port
		if frames, _ := extractModbusFrames(t.Payload, toServer, meta); len(frames) > 0 {
			x.out = append(x.out, frames...)
		} else if p, ok := extractRTUFrame(t.Payload, toServer, meta); ok {
			x.out = append(x.out, p)
		}
	}
}

func (x *extractor) matches(meta packetMeta) bool {
	return meta.SrcPort == x.port || meta.DstPort == x.port
}

// newPacketSource picks the pcap or pcapng reader from the file magic.
func newPacketSource(r io.Reader) (*gopacket.PacketSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if bytes.Equal(magic, []byte{0x0A, 0x0D, 0x0D, 0x0A}) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return gopacket.NewPacketSource(rd, rd.LinkType()), nil
}

// extractModbusFrames splits buf into MBAP frames and returns the
// unconsumed tail. Bytes that cannot start a frame are skipped one at a
// time until the stream resynchronises.
func extractModbusFrames(buf []byte, isToServer bool, meta packetMeta) ([]ModbusPacket, []byte) {
	var frames []ModbusPacket
	for len(buf) > modbus.MBAPHeaderSize {
		n, ok := mbapFrameLen(buf)
		if !ok {
			buf = buf[1:]
			continue
		}
		if n > len(buf) {
			break
		}
		hdr, _ := modbus.DecodeMBAPHeader(buf)
		frame := cloneTail(buf[:n])
		fc := modbus.FunctionCode(frame[modbus.MBAPHeaderSize])
		frames = append(frames, newModbusPacket(hdr.TransactionID, hdr.UnitID, fc,
			frame[modbus.MBAPHeaderSize+1:], frame, isToServer, modbus.ModeTCP, meta))
		buf = buf[n:]
	}
	if len(buf) == 0 {
		return frames, nil
	}
	return frames, cloneTail(buf)
}

// mbapFrameLen reports the size of the frame a plausible MBAP header at
// the start of buf announces.
func mbapFrameLen(buf []byte) (int, bool) {
	hdr, err := modbus.DecodeMBAPHeader(buf)
	if err != nil || hdr.ProtocolID != 0 {
		return 0, false
	}
	if hdr.Length < 2 || int(hdr.Length) > modbus.MaxPDUSize+1 {
		return 0, false
	}
	// Length counts the unit id, which the header size already includes.
	return modbus.MBAPHeaderSize + int(hdr.Length) - 1, true
}

// extractRTUFrame accepts a datagram that is exactly one RTU frame with a
// valid CRC.
func extractRTUFrame(payload []byte, isToServer bool, meta packetMeta) (ModbusPacket, bool) {
	if len(payload) < modbus.RTUMinFrameSize || len(payload) > modbus.RTUMaxFrameSize || !modbus.ValidateCRC(payload) {
		return ModbusPacket{}, false
	}
	fc := modbus.FunctionCode(payload[1])
	data := cloneTail(payload[2 : len(payload)-modbus.RTUCRCSize])
	return newModbusPacket(0, payload[0], fc, data, cloneTail(payload), isToServer, modbus.ModeRTU, meta), true
}

func newModbusPacket(tid uint16, unit uint8, fc modbus.FunctionCode, data, full []byte, isRequest bool, mode modbus.TransportMode, meta packetMeta) ModbusPacket {
	isException := fc&0x80 != 0
	return ModbusPacket{
		TransactionID: tid,
		UnitID:        unit,
		Function:      fc,
		Data:          data,
		FullFrame:     full,
		IsRequest:     isRequest,
		IsException:   isException,
		Description:   describeModbusFrame(fc, isRequest, isException, data),
		Timestamp:     meta.Timestamp,
		Transport:     meta.Transport,
		Mode:          mode,
		SrcIP:         meta.SrcIP,
		DstIP:         meta.DstIP,
		SrcPort:       meta.SrcPort,
		DstPort:       meta.DstPort,
	}
}

func cloneTail(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func streamKey(netLayer gopacket.NetworkLayer, tcp *layers.TCP) string {
	if netLayer != nil {
		src, dst := netLayer.NetworkFlow().Endpoints()
		return fmt.Sprintf("%s:%d->%s:%d", src, tcp.SrcPort, dst, tcp.DstPort)
	}
	return fmt.Sprintf("unknown:%d->unknown:%d", tcp.SrcPort, tcp.DstPort)
}

func extractPacketMeta(packet gopacket.Packet) packetMeta {
	var meta packetMeta
	if md := packet.Metadata(); md != nil {
		meta.Timestamp = md.Timestamp
	}
	if netLayer := packet.NetworkLayer(); netLayer != nil {
		src, dst := netLayer.NetworkFlow().Endpoints()
		meta.SrcIP = src.String()
		meta.DstIP = dst.String()
	}
	return meta
}

var addrQtyFunctions = map[modbus.FunctionCode]string{
	modbus.FcReadCoils:              "qty=%d",
	modbus.FcReadDiscreteInputs:     "qty=%d",
	modbus.FcReadHoldingRegisters:   "qty=%d",
	modbus.FcReadInputRegisters:     "qty=%d",
	modbus.FcWriteMultipleCoils:     "qty=%d",
	modbus.FcWriteMultipleRegisters: "qty=%d",
	modbus.FcWriteSingleCoil:        "value=0x%04X",
	modbus.FcWriteSingleRegister:    "value=0x%04X",
}

func describeModbusFrame(fc modbus.FunctionCode, isRequest, isException bool, data []byte) string {
	dir := map[bool]string{true: "Request", false: "Response"}[isRequest]
	if isException {
		exc := "unknown"
		if len(data) > 0 {
			exc = modbus.ExceptionCode(data[0]).String()
		}
		return fmt.Sprintf("Modbus %s Exception: %s (%s)", fc&0x7F, exc, dir)
	}
	desc := fmt.Sprintf("Modbus %s %s", fc, dir)
	if tail, ok := addrQtyFunctions[fc]; ok && isRequest && len(data) >= 4 {
		addr, v := modbus.AddrQty(data)
		desc += fmt.Sprintf(" addr=%d "+tail, addr, v)
	}
	return desc
}
