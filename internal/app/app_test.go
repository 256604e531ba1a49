package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tonylturner/mbstack/internal/config"
	friendly "github.com/tonylturner/mbstack/internal/errors"
	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/pcap"
	"github.com/tonylturner/mbstack/internal/transport"
	"github.com/tonylturner/mbstack/internal/ui"
)

// startSlave runs RunSlave on an ephemeral port and returns its address
// and a function that stops it and returns its output.
func startSlave(t *testing.T, record string) (*net.TCPAddr, func() string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Slave.Port = 0
	cfg.Slave.Record = record
	cfg.Slave.Identity = "app-test"
	cfg.Logging.Level = "silent"

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- RunSlave(ctx, SlaveOptions{Config: cfg, Out: &out, Ready: func(a net.Addr) { ready <- a }})
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		cancel()
		t.Fatalf("RunSlave() error = %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("slave did not start")
	}

	stopped := false
	stop := func() string {
		if !stopped {
			stopped = true
			cancel()
			if err := <-done; err != nil {
				t.Errorf("RunSlave() error = %v", err)
			}
		}
		return out.String()
	}
	t.Cleanup(func() { stop() })
	return addr.(*net.TCPAddr), stop
}

func masterChannel(addr *net.TCPAddr) config.ChannelConfig {
	ch := config.DefaultChannelConfig(config.TransportTCP)
	ch.Port = addr.Port
	ch.ResponseTimeout = transport.Timeout{Sec: 2}
	return ch
}

func TestRunMasterAgainstSlave(t *testing.T) {
	dir := t.TempDir()
	slaveRec := filepath.Join(dir, "slave.pcap")
	addr, stop := startSlave(t, slaveRec)
	ctx := context.Background()

	var out bytes.Buffer
	err := RunMaster(ctx, MasterOptions{
		Channel:  masterChannel(addr),
		Request:  ui.RequestSpec{Op: ui.OpWriteRegisters, Address: 5, Values: []uint16{0x0A0B, 0x0C0D}},
		LogLevel: "silent",
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("RunMaster(write) error = %v", err)
	}
	if !strings.Contains(out.String(), "OK") {
		t.Errorf("write output = %q", out.String())
	}

	out.Reset()
	csvPath := filepath.Join(dir, "metrics.csv")
	masterRec := filepath.Join(dir, "master.pcap")
	err = RunMaster(ctx, MasterOptions{
		Channel:    masterChannel(addr),
		Request:    ui.RequestSpec{Op: ui.OpReadHolding, Address: 5, Count: 2},
		Repeat:     3,
		LogLevel:   "silent",
		MetricsCSV: csvPath,
		Record:     masterRec,
		Out:        &out,
	})
	if err != nil {
		t.Fatalf("RunMaster(read) error = %v", err)
	}
	for _, want := range []string{"0x0A0B", "0x0C0D", "Total Operations: 3", "Recorded 6 frames"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("read output missing %q:\n%s", want, out.String())
		}
	}
	if data, err := os.ReadFile(csvPath); err != nil || strings.Count(string(data), "\n") != 4 {
		t.Errorf("metrics csv = %q, %v", data, err)
	}
	packets, err := pcap.ExtractModbusFromPCAP(masterRec)
	if err != nil || len(packets) != 6 {
		t.Fatalf("master recording: %d packets, %v", len(packets), err)
	}

	var report bytes.Buffer
	if err := RunMetricsReport(ReportOptions{Paths: []string{csvPath}, Session: "read-holding", Out: &report}); err != nil {
		t.Fatalf("RunMetricsReport: %v", err)
	}
	if !strings.Contains(report.String(), "Total Operations: 3") || !strings.Contains(report.String(), "Read_Holding_Registers") {
		t.Errorf("report = %q", report.String())
	}
	if err := RunMetricsReport(ReportOptions{Paths: []string{csvPath}, Session: "other", Out: io.Discard}); err == nil {
		t.Error("expected error for a session with no rows")
	}

	summary := stop()
	if !strings.Contains(summary, "Served 4 requests") {
		t.Errorf("slave summary = %q", summary)
	}
	packets, err = pcap.ExtractModbusFromPCAP(slaveRec)
	if err != nil || len(packets) != 8 {
		t.Errorf("slave recording: %d packets, %v", len(packets), err)
	}
}

func TestRunMasterProgress(t *testing.T) {
	addr, _ := startSlave(t, "")
	var out, bar bytes.Buffer
	err := RunMaster(context.Background(), MasterOptions{
		Channel:  masterChannel(addr),
		Request:  ui.RequestSpec{Op: ui.OpReadInput, Address: 0, Count: 1},
		Repeat:   4,
		LogLevel: "silent",
		Out:      &out,
		Progress: &bar,
	})
	if err != nil {
		t.Fatalf("RunMaster error = %v", err)
	}
	if !strings.Contains(bar.String(), "read-input [") || !strings.Contains(bar.String(), "4/4 (100.0%)") {
		t.Errorf("progress = %q", bar.String())
	}
	if !strings.Contains(out.String(), "Total Operations: 4") {
		t.Errorf("summary missing:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Unsigned") {
		t.Errorf("replies should not be printed with a progress bar:\n%s", out.String())
	}
}

func TestRunMasterException(t *testing.T) {
	addr, _ := startSlave(t, "")
	err := RunMaster(context.Background(), MasterOptions{
		Channel:  masterChannel(addr),
		Request:  ui.RequestSpec{Op: ui.OpReadHolding, Address: 0xFFF0, Count: 2},
		LogLevel: "silent",
		Out:      &bytes.Buffer{},
	})
	var exc *modbus.ExceptionError
	if !errors.As(err, &exc) || exc.Code != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("error = %v, want Illegal Data Address", err)
	}
	var ufe friendly.UserFriendlyError
	if !errors.As(err, &ufe) {
		t.Errorf("error should carry a hint: %T", err)
	}
}

func TestRunMasterRaw(t *testing.T) {
	addr, _ := startSlave(t, "")
	var out bytes.Buffer
	err := RunMaster(context.Background(), MasterOptions{
		Channel:  masterChannel(addr),
		Raw:      []byte{0xFF, 0x11},
		LogLevel: "silent",
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("RunMaster(raw) error = %v", err)
	}
	if !strings.Contains(out.String(), "MBAP:") {
		t.Errorf("raw output = %q", out.String())
	}
}

func TestRunMasterConnectError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	err = RunMaster(context.Background(), MasterOptions{
		Channel:  masterChannel(addr),
		Request:  ui.RequestSpec{Op: ui.OpReadCoils, Count: 1},
		LogLevel: "silent",
	})
	var ufe friendly.UserFriendlyError
	if !errors.As(err, &ufe) {
		t.Fatalf("error = %v, want a user-friendly network error", err)
	}
}

func TestRunMasterRejectsInvalidRequest(t *testing.T) {
	err := RunMaster(context.Background(), MasterOptions{
		Channel: config.DefaultChannelConfig(config.TransportTCP),
		Request: ui.RequestSpec{Op: ui.OpReadHolding, Count: 0},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEncodeFrame(t *testing.T) {
	pdu, err := ParseHex("03 00 6B 00 03")
	if err != nil {
		t.Fatal(err)
	}
	tcp, err := EncodeFrame(pdu, FrameOptions{Mode: modbus.ModeTCP, UnitID: 0x11, TransactionID: 1})
	if err != nil {
		t.Fatalf("EncodeFrame(tcp) error = %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(tcp, want) {
		t.Errorf("tcp = % X, want % X", tcp, want)
	}
	rtu, err := EncodeFrame(pdu, FrameOptions{Mode: modbus.ModeRTU, UnitID: 0x11})
	if err != nil {
		t.Fatalf("EncodeFrame(rtu) error = %v", err)
	}
	want = []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}
	if !bytes.Equal(rtu, want) {
		t.Errorf("rtu = % X, want % X", rtu, want)
	}
	if _, err := EncodeFrame(nil, FrameOptions{}); err == nil {
		t.Error("empty PDU accepted")
	}
}

func TestDecodeFrame(t *testing.T) {
	adu, _ := ParseHex("0x11,0x03,0x00,0x6B,0x00,0x03,0x76,0x87")
	got, err := DecodeFrame(adu, FrameOptions{Mode: modbus.ModeRTU})
	if err != nil {
		t.Fatalf("DecodeFrame(rtu request) error = %v", err)
	}
	for _, want := range []string{"Unit:     17", "Read_Holding_Registers", "(ok)"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}

	adu, _ = ParseHex("000100000003118302")
	got, err = DecodeFrame(adu, FrameOptions{Mode: modbus.ModeTCP, Response: true})
	if err != nil {
		t.Fatalf("DecodeFrame(exception) error = %v", err)
	}
	if !strings.Contains(got, "Illegal_Data_Address") {
		t.Errorf("exception not described:\n%s", got)
	}

	if _, err := DecodeFrame([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x00, 0x00}, FrameOptions{Mode: modbus.ModeRTU}); err == nil {
		t.Error("bad CRC accepted")
	}
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"01 03", "0x01 0x03", "01:03", "0103"} {
		b, err := ParseHex(in)
		if err != nil || !bytes.Equal(b, []byte{1, 3}) {
			t.Errorf("ParseHex(%q) = % X, %v", in, b, err)
		}
	}
	for _, in := range []string{"", "0g", "123"} {
		if _, err := ParseHex(in); err == nil {
			t.Errorf("ParseHex(%q) accepted", in)
		}
	}
}

func TestRunPcap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.pcap")
	rec, err := pcap.CreateRecorder(path, pcap.RoleMaster)
	if err != nil {
		t.Fatal(err)
	}
	rec.Tap(transport.KindTCP, transport.Outbound, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	rec.Tap(transport.KindTCP, transport.Inbound, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x2A})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := RunPcap(PcapOptions{Path: dir, Dump: true, Hex: true, Out: &out}); err != nil {
		t.Fatalf("RunPcap() error = %v", err)
	}
	for _, want := range []string{"session.pcap", "Frames:      2", "Requests:    1", "MBAP:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := RunPcap(PcapOptions{Path: t.TempDir()}); err == nil {
		t.Error("empty directory accepted")
	}
}
