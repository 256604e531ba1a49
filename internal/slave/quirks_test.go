package slave

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/transport"
)

func TestMatchQuirk(t *testing.T) {
	quirks := DefaultQuirks()
	tests := []struct {
		addr uint16
		qty  uint16
		want QuirkKind
		ok   bool
	}{
		{0x170, 1, QuirkBusy, true},
		{0x171, 1, QuirkInvalidTID, true},
		{0x172, 1, QuirkSleep, true},
		{0x173, 1, QuirkByteSleep, true},
		{0x170, 2, QuirkShortCount, true},
		{0x160, 1, "", false},
	}
	for _, tt := range tests {
		req := request(modbus.FcReadHoldingRegisters, modbus.ReadHoldingRegistersRequest(tt.addr, tt.qty))
		q, ok := matchQuirk(quirks, req)
		if ok != tt.ok || q.Kind != tt.want {
			t.Errorf("matchQuirk(0x%04X, %d) = %v, %v; want %v, %v", tt.addr, tt.qty, q.Kind, ok, tt.want, tt.ok)
		}
	}
}

func TestQuirkValidate(t *testing.T) {
	for _, q := range DefaultQuirks() {
		if err := q.Validate(); err != nil {
			t.Errorf("%s: %v", q, err)
		}
	}
	bad := []Quirk{
		{Kind: "explode"},
		{Kind: QuirkSleep, Address: 1},
		{Kind: QuirkShortCount, Quantity: 1},
	}
	for _, q := range bad {
		if err := q.Validate(); err == nil {
			t.Errorf("%s: expected error", q)
		}
	}
}

func TestQuirkBusy(t *testing.T) {
	m, _ := tcpPair(t, WithQuirks(DefaultQuirks()))
	_, err := m.ReadRegisters(context.Background(), 0x170, 1)
	var exc *modbus.ExceptionError
	if !errors.As(err, &exc) || exc.Code != modbus.ExceptionSlaveDeviceBusy {
		t.Fatalf("ReadRegisters(0x170) error = %v, want Slave_Device_Busy", err)
	}
}

func TestQuirkInvalidTID(t *testing.T) {
	m, _ := tcpPair(t, WithQuirks(DefaultQuirks()))
	if _, err := m.ReadRegisters(context.Background(), 0x171, 1); !errors.Is(err, modbus.ErrFormat) {
		t.Fatalf("ReadRegisters(0x171) error = %v, want format error", err)
	}
}

func TestQuirkInvalidSlaveRTU(t *testing.T) {
	m, _, _ := rtuPair(t, WithQuirks(DefaultQuirks()))
	if _, err := m.ReadRegisters(context.Background(), 0x171, 1); !errors.Is(err, modbus.ErrFormat) {
		t.Fatalf("ReadRegisters(0x171) error = %v, want format error", err)
	}
}

func TestQuirkSleepExceedsResponseTimeout(t *testing.T) {
	m, _ := tcpPair(t, WithQuirks([]Quirk{{Kind: QuirkSleep, Address: 0x172, Delay: 200 * time.Millisecond}}))
	if err := m.SetResponseTimeout(transport.TimeoutFromDuration(50 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	_, err := m.ReadRegisters(context.Background(), 0x172, 1)
	if !errors.Is(err, modbus.ErrTimeout) {
		t.Fatalf("ReadRegisters(0x172) error = %v, want timeout", err)
	}
}

func TestQuirkByteSleep(t *testing.T) {
	m, _ := tcpPair(t, WithQuirks([]Quirk{{Kind: QuirkByteSleep, Address: 0x173, Delay: 20 * time.Millisecond}}))
	ctx := context.Background()

	// Bytes 20ms apart pass a 100ms byte timeout...
	if err := m.SetByteTimeout(transport.TimeoutFromDuration(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadRegisters(ctx, 0x173, 1); err != nil {
		t.Fatalf("ReadRegisters(0x173) error = %v", err)
	}

	// ...but not a 5ms one.
	if err := m.SetByteTimeout(transport.TimeoutFromDuration(5 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	_, err := m.ReadRegisters(ctx, 0x173, 1)
	var te *modbus.TimeoutError
	if !errors.As(err, &te) || te.Phase != "byte" {
		t.Fatalf("ReadRegisters(0x173) error = %v, want byte timeout", err)
	}
}

func TestQuirkShortCount(t *testing.T) {
	m, _ := tcpPair(t, WithQuirks(DefaultQuirks()))
	if _, err := m.ReadRegisters(context.Background(), regsAddr, 2); !errors.Is(err, modbus.ErrFormat) {
		t.Fatalf("ReadRegisters(qty 2) error = %v, want format error", err)
	}
	// Other quantities are unaffected.
	if regs, err := m.ReadRegisters(context.Background(), regsAddr, 3); err != nil || len(regs) != 3 {
		t.Fatalf("ReadRegisters(qty 3) = %v, %v", regs, err)
	}
}
