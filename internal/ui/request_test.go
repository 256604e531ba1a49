package ui

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/master"
	"github.com/tonylturner/mbstack/internal/slave"
	"github.com/tonylturner/mbstack/internal/transport"
)

func startSlave(t *testing.T) *master.Context {
	t.Helper()
	store, err := mapping.New(mapping.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	srvCh, err := transport.NewTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv := slave.NewServer(srvCh, slave.NewHandler(store, nil), 1, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	ch, err := transport.NewTCP("127.0.0.1", srv.Addr().(*net.TCPAddr).Port)
	if err != nil {
		t.Fatal(err)
	}
	m := master.New(ch)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestExecute(t *testing.T) {
	m := startSlave(t)
	ctx := context.Background()

	steps := []RequestSpec{
		{Op: OpWriteRegisters, Address: 10, Values: []uint16{0x1234, 0xFFFF}},
		{Op: OpMaskWrite, Address: 10, AndMask: 0x00FF, OrMask: 0x0100},
		{Op: OpWriteCoils, Address: 3, Values: []uint16{1, 1, 0, 1}},
		{Op: OpWriteCoil, Address: 5, Values: []uint16{1}},
	}
	for _, s := range steps {
		if _, err := Execute(ctx, m, s); err != nil {
			t.Fatalf("Execute(%s) error = %v", s.Op, err)
		}
	}

	res, err := Execute(ctx, m, RequestSpec{Op: OpReadHolding, Address: 10, Count: 2})
	if err != nil {
		t.Fatalf("Execute(read-holding) error = %v", err)
	}
	// (0x1234 & 0x00FF) | (0x0100 & ^0x00FF) = 0x0134
	if res.Registers[0] != 0x0134 || res.Registers[1] != 0xFFFF {
		t.Errorf("registers = %04X", res.Registers)
	}
	out := res.Render()
	if !strings.Contains(out, "0x0134") || !strings.Contains(out, "-1") {
		t.Errorf("Render() missing values:\n%s", out)
	}

	res, err = Execute(ctx, m, RequestSpec{Op: OpReadCoils, Address: 3, Count: 4})
	if err != nil {
		t.Fatalf("Execute(read-coils) error = %v", err)
	}
	if !res.Bits[0] || !res.Bits[1] || !res.Bits[2] || !res.Bits[3] {
		t.Errorf("coils = %v, want all set", res.Bits)
	}

	res, err = Execute(ctx, m, RequestSpec{Op: OpWriteRead, Address: 20, Values: []uint16{7, 8}, ReadAddress: 20, ReadCount: 2})
	if err != nil {
		t.Fatalf("Execute(write-read) error = %v", err)
	}
	if res.Address != 20 || res.Registers[0] != 7 || res.Registers[1] != 8 {
		t.Errorf("write-read = %+v", res)
	}

	res, err = Execute(ctx, m, RequestSpec{Op: OpReportID})
	if err != nil {
		t.Fatalf("Execute(report-id) error = %v", err)
	}
	if out := res.Render(); !strings.Contains(out, slave.DefaultIdentity) || !strings.Contains(out, "ON") {
		t.Errorf("report-id render:\n%s", out)
	}
}

func TestExecuteValidates(t *testing.T) {
	if _, err := Execute(context.Background(), nil, RequestSpec{Op: "explode"}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestResultRenderWrite(t *testing.T) {
	if out := (Result{Op: OpWriteRegister}).Render(); !strings.Contains(out, "OK") {
		t.Errorf("Render() = %q", out)
	}
}
