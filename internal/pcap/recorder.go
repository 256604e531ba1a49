package pcap

// Frame recorder: writes every ADU a context exchanges to a pcap file so
// the session can be opened in Wireshark or read back with
// ExtractModbusFromPCAP.

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/mbstack/internal/transport"
)

// Role is the side of the conversation the recording context plays.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

// Synthetic addressing of recorded frames.
var (
	recordClientIP  = net.IPv4(192, 0, 2, 1).To4()
	recordServerIP  = net.IPv4(192, 0, 2, 2).To4()
	recordClientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	recordServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

const recordClientPort = 49152

// Recorder implements transport.Tap. TCP and TCP-PI frames are written as
// TCP segments to port 502; RTU frames as UDP datagrams to port 502.
type Recorder struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	role   Role
	seq    [2]uint32 // next sequence number: client, server
	frames int
	err    error
	now    func() time.Time
}

// NewRecorder writes a pcap header to w and returns a recorder for a
// context playing role.
func NewRecorder(w io.Writer, role Role) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{w: pw, role: role, seq: [2]uint32{1, 1}, now: time.Now}, nil
}

// CreateRecorder creates (or truncates) path and records into it. Close
// the recorder to close the file.
func CreateRecorder(path string, role Role) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	r, err := NewRecorder(f, role)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Tap records one ADU. The first write error is kept and returned by Err;
// later frames are dropped.
func (r *Recorder) Tap(kind transport.Kind, dir transport.Direction, adu []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}

	fromClient := (r.role == RoleMaster) == (dir == transport.Outbound)
	data, err := r.serialize(kind, fromClient, adu)
	if err != nil {
		r.err = err
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		r.err = fmt.Errorf("write packet: %w", err)
		return
	}
	r.frames++
}

func (r *Recorder) serialize(kind transport.Kind, fromClient bool, adu []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       recordClientMAC,
		DstMAC:       recordServerMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   recordClientIP,
		DstIP:   recordServerIP,
	}
	srcPort, dstPort := uint16(recordClientPort), uint16(ModbusPort)
	if !fromClient {
		eth.SrcMAC, eth.DstMAC = eth.DstMAC, eth.SrcMAC
		ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
		srcPort, dstPort = dstPort, srcPort
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	if kind == transport.KindRTU {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(adu))
	} else {
		ip.Protocol = layers.IPProtocolTCP
		side, other := 0, 1
		if !fromClient {
			side, other = 1, 0
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			Seq:     r.seq[side],
			Ack:     r.seq[other],
			ACK:     true,
			PSH:     true,
			Window:  65535,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(adu))
		r.seq[side] += uint32(len(adu))
	}
	if err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Frames returns the number of frames written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the file opened by CreateRecorder and returns the first
// write error, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil && r.err == nil {
			r.err = err
		}
		r.closer = nil
	}
	return r.err
}
