package mapping

import (
	"errors"
	"sync"
	"testing"

	"github.com/tonylturner/mbstack/internal/modbus"
)

func newTestMapping(t *testing.T) *Mapping {
	t.Helper()
	m, err := New(Config{
		Coils:            TableConfig{Start: 0x130, Count: 0x25},
		DiscreteInputs:   TableConfig{Start: 0x1C4, Count: 0x16},
		HoldingRegisters: TableConfig{Start: 0x160, Count: 0x20},
		InputRegisters:   TableConfig{Start: 0x108, Count: 0x01},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestRegistersReadWrite(t *testing.T) {
	m := newTestMapping(t)
	if err := m.WriteRegisters(HoldingRegisters, 0x160, []uint16{0x022B, 0x0001, 0x0064}); err != nil {
		t.Fatalf("WriteRegisters: %v", err)
	}
	regs, err := m.ReadRegisters(HoldingRegisters, 0x161, 2)
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	if regs[0] != 0x0001 || regs[1] != 0x0064 {
		t.Errorf("regs = %v, want [1 100]", regs)
	}
}

func TestBitsReadWrite(t *testing.T) {
	m := newTestMapping(t)
	if err := m.SetBitsFromBytes(DiscreteInputs, 0x1C4, 0x16, []byte{0xAC, 0xDB, 0x35}); err != nil {
		t.Fatalf("SetBitsFromBytes: %v", err)
	}
	bits, err := m.ReadBits(DiscreteInputs, 0x1C4, 8)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if got := modbus.PackBits(bits); got[0] != 0xAC {
		t.Errorf("packed = 0x%02X, want 0xAC", got[0])
	}

	if err := m.WriteBits(Coils, 0x130, []bool{true, true}); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	coils, _ := m.ReadBits(Coils, 0x130, 3)
	if !coils[0] || !coils[1] || coils[2] {
		t.Errorf("coils = %v, want [true true false]", coils)
	}
}

func TestAddressBounds(t *testing.T) {
	m := newTestMapping(t)
	start, size := m.Bounds(HoldingRegisters)

	tests := []struct {
		name  string
		addr  int
		count int
		ok    bool
	}{
		{"below start", start - 1, 1, false},
		{"at end", start + size, 1, false},
		{"straddles end", start + size - 1, 2, false},
		{"first", start, 1, true},
		{"last", start + size - 1, 1, true},
		{"whole table", start, size, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ReadRegisters(HoldingRegisters, uint16(tt.addr), tt.count)
			if tt.ok && err != nil {
				t.Fatalf("ReadRegisters: %v", err)
			}
			if !tt.ok {
				if !errors.Is(err, modbus.ErrAddressRange) {
					t.Fatalf("error = %v, want ErrAddressRange", err)
				}
				var re *modbus.RangeError
				if !errors.As(err, &re) || re.Table != "holding_registers" {
					t.Errorf("RangeError = %+v", re)
				}
			}
		})
	}
}

func TestWrongTableKind(t *testing.T) {
	m := newTestMapping(t)
	if _, err := m.ReadBits(HoldingRegisters, 0x160, 1); err == nil {
		t.Error("ReadBits on a register table should fail")
	}
	if err := m.WriteRegisters(Coils, 0x130, []uint16{1}); err == nil {
		t.Error("WriteRegisters on a bit table should fail")
	}
}

func TestMaskWriteRegister(t *testing.T) {
	m := newTestMapping(t)
	_ = m.WriteRegisters(HoldingRegisters, 0x160, []uint16{0x0012})
	v, err := m.MaskWriteRegister(0x160, 0x00F2, 0x0025)
	if err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	if v != 0x0017 {
		t.Errorf("value = 0x%04X, want 0x0017", v)
	}
}

func TestWriteReadRegistersChecksBeforeWriting(t *testing.T) {
	m := newTestMapping(t)
	_, err := m.WriteReadRegisters(0x160, []uint16{9}, 0x200, 1)
	if !errors.Is(err, modbus.ErrAddressRange) {
		t.Fatalf("error = %v, want ErrAddressRange", err)
	}
	regs, _ := m.ReadRegisters(HoldingRegisters, 0x160, 1)
	if regs[0] != 0 {
		t.Errorf("register written despite failed read range: %d", regs[0])
	}

	out, err := m.WriteReadRegisters(0x160, []uint16{9, 8}, 0x161, 1)
	if err != nil {
		t.Fatalf("WriteReadRegisters: %v", err)
	}
	if out[0] != 8 {
		t.Errorf("read back %d, want 8", out[0])
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coils = TableConfig{Start: 0xFFFF, Count: 2}
	if _, err := New(cfg); err == nil {
		t.Error("New accepted a table past 0xFFFF")
	}
	cfg.Coils = TableConfig{Start: 0xFFFF, Count: 1}
	if _, err := New(cfg); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestSnapshotAndReset(t *testing.T) {
	m := newTestMapping(t)
	_ = m.WriteRegisters(HoldingRegisters, 0x160, []uint16{5})
	_ = m.WriteBits(Coils, 0x130, []bool{true})

	snap := m.Snapshot()
	if snap.HoldingRegisters[0] != 5 || !snap.Coils[0] {
		t.Errorf("snapshot = %+v", snap)
	}

	m.Reset()
	regs, _ := m.ReadRegisters(HoldingRegisters, 0x160, 1)
	if regs[0] != 0 {
		t.Errorf("after Reset register = %d, want 0", regs[0])
	}
	if snap.HoldingRegisters[0] != 5 {
		t.Error("Reset modified an earlier snapshot")
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := newTestMapping(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v uint16) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.WriteRegisters(HoldingRegisters, 0x160, []uint16{v, v})
			}
		}(uint16(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()
}

func TestParseTable(t *testing.T) {
	for _, name := range []string{"coils", "discrete", "holding", "input", "input_registers"} {
		tbl, err := ParseTable(name)
		if err != nil {
			t.Fatalf("ParseTable(%q) error = %v", name, err)
		}
		if name == "input_registers" && tbl != InputRegisters {
			t.Errorf("ParseTable(%q) = %v", name, tbl)
		}
	}
	if _, err := ParseTable("registers"); err == nil {
		t.Error("ParseTable(registers) should fail")
	}
}
