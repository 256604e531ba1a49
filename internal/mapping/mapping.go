package mapping

// Modbus data mapping: the four tables a slave serves.
//
//   - Coils: read-write single-bit, FC 1/5/15
//   - Discrete inputs: read-only single-bit, FC 2
//   - Holding registers: read-write 16-bit, FC 3/6/16/22/23
//   - Input registers: read-only 16-bit, FC 4
//
// Each table has its own start address and size, fixed at construction.
// Addresses are protocol addresses; a table answers for [Start, Start+Count).

import (
	"fmt"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// Table selects one of the four address spaces.
type Table int

const (
	Coils Table = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

// String returns the table name used in errors and config files.
func (t Table) String() string {
	switch t {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case HoldingRegisters:
		return "holding_registers"
	case InputRegisters:
		return "input_registers"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// IsBit reports whether the table holds single bits.
func (t Table) IsBit() bool {
	return t == Coils || t == DiscreteInputs
}

// ParseTable accepts a table name or its short form (coils, discrete,
// holding, input).
func ParseTable(name string) (Table, error) {
	switch name {
	case "coils", "coil":
		return Coils, nil
	case "discrete_inputs", "discrete":
		return DiscreteInputs, nil
	case "holding_registers", "holding":
		return HoldingRegisters, nil
	case "input_registers", "input":
		return InputRegisters, nil
	}
	return 0, fmt.Errorf("unknown table %q (want coils, discrete, holding or input)", name)
}

// AddressSpace is the size of the 16-bit Modbus address space.
const AddressSpace = 1 << 16

// TableConfig places one table in the address space.
type TableConfig struct {
	Start uint16
	Count int
}

// Config sizes the four tables.
type Config struct {
	Coils            TableConfig
	DiscreteInputs   TableConfig
	HoldingRegisters TableConfig
	InputRegisters   TableConfig
}

// DefaultConfig returns 500 entries per table starting at address 0.
func DefaultConfig() Config {
	return Config{
		Coils:            TableConfig{Count: 500},
		DiscreteInputs:   TableConfig{Count: 500},
		HoldingRegisters: TableConfig{Count: 500},
		InputRegisters:   TableConfig{Count: 500},
	}
}

func (c Config) table(t Table) TableConfig {
	switch t {
	case Coils:
		return c.Coils
	case DiscreteInputs:
		return c.DiscreteInputs
	case HoldingRegisters:
		return c.HoldingRegisters
	default:
		return c.InputRegisters
	}
}

// Validate checks that every table fits the address space.
func (c Config) Validate() error {
	for t := Coils; t <= InputRegisters; t++ {
		tc := c.table(t)
		if tc.Count < 0 {
			return fmt.Errorf("%s count %d is negative", t, tc.Count)
		}
		if int(tc.Start)+tc.Count > AddressSpace {
			return fmt.Errorf("%s [%d, %d) exceeds the 16-bit address space", t, tc.Start, int(tc.Start)+tc.Count)
		}
	}
	return nil
}

type bitTable struct {
	mu     sync.RWMutex
	start  int
	values []bool
}

type regTable struct {
	mu     sync.RWMutex
	start  int
	values []uint16
}

// Mapping holds the four tables. Each table is guarded by its own lock;
// operations spanning tables take all locks at once.
type Mapping struct {
	bits [2]*bitTable // Coils, DiscreteInputs
	regs [2]*regTable // HoldingRegisters, InputRegisters
}

// New allocates a zeroed mapping.
func New(cfg Config) (*Mapping, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Mapping{}
	for i, t := range []Table{Coils, DiscreteInputs} {
		tc := cfg.table(t)
		m.bits[i] = &bitTable{start: int(tc.Start), values: make([]bool, tc.Count)}
	}
	for i, t := range []Table{HoldingRegisters, InputRegisters} {
		tc := cfg.table(t)
		m.regs[i] = &regTable{start: int(tc.Start), values: make([]uint16, tc.Count)}
	}
	return m, nil
}

// Bounds returns the start address and size of a table.
func (m *Mapping) Bounds(t Table) (start, size int) {
	if t.IsBit() {
		bt := m.bits[t]
		return bt.start, len(bt.values)
	}
	rt := m.regs[t-HoldingRegisters]
	return rt.start, len(rt.values)
}

// ReadBits returns count bits of a bit table starting at addr.
func (m *Mapping) ReadBits(t Table, addr uint16, count int) ([]bool, error) {
	bt, err := m.bitTable(t)
	if err != nil {
		return nil, err
	}
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	off, err := locate(t, bt.start, len(bt.values), addr, count)
	if err != nil {
		return nil, err
	}
	out := make([]bool, count)
	copy(out, bt.values[off:off+count])
	return out, nil
}

// WriteBits stores values into a bit table starting at addr.
func (m *Mapping) WriteBits(t Table, addr uint16, values []bool) error {
	bt, err := m.bitTable(t)
	if err != nil {
		return err
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	off, err := locate(t, bt.start, len(bt.values), addr, len(values))
	if err != nil {
		return err
	}
	copy(bt.values[off:], values)
	return nil
}

// ReadRegisters returns count registers of a register table starting at addr.
func (m *Mapping) ReadRegisters(t Table, addr uint16, count int) ([]uint16, error) {
	rt, err := m.regTable(t)
	if err != nil {
		return nil, err
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	off, err := locate(t, rt.start, len(rt.values), addr, count)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, count)
	copy(out, rt.values[off:off+count])
	return out, nil
}

// WriteRegisters stores values into a register table starting at addr.
func (m *Mapping) WriteRegisters(t Table, addr uint16, values []uint16) error {
	rt, err := m.regTable(t)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	off, err := locate(t, rt.start, len(rt.values), addr, len(values))
	if err != nil {
		return err
	}
	copy(rt.values[off:], values)
	return nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT andMask)
// to one holding register and returns the new value.
func (m *Mapping) MaskWriteRegister(addr, andMask, orMask uint16) (uint16, error) {
	rt := m.regs[0]
	rt.mu.Lock()
	defer rt.mu.Unlock()
	off, err := locate(HoldingRegisters, rt.start, len(rt.values), addr, 1)
	if err != nil {
		return 0, err
	}
	v := (rt.values[off] & andMask) | (orMask &^ andMask)
	rt.values[off] = v
	return v, nil
}

// WriteReadRegisters writes holding registers then reads a holding range,
// both under one lock. Both ranges are checked before anything is written.
func (m *Mapping) WriteReadRegisters(writeAddr uint16, values []uint16, readAddr uint16, readCount int) ([]uint16, error) {
	rt := m.regs[0]
	rt.mu.Lock()
	defer rt.mu.Unlock()
	woff, err := locate(HoldingRegisters, rt.start, len(rt.values), writeAddr, len(values))
	if err != nil {
		return nil, err
	}
	roff, err := locate(HoldingRegisters, rt.start, len(rt.values), readAddr, readCount)
	if err != nil {
		return nil, err
	}
	copy(rt.values[woff:], values)
	out := make([]uint16, readCount)
	copy(out, rt.values[roff:roff+readCount])
	return out, nil
}

// SetBitsFromBytes unpacks count LSB-first bits from packed into a bit
// table at addr. Used to seed read-only inputs.
func (m *Mapping) SetBitsFromBytes(t Table, addr uint16, count int, packed []byte) error {
	if len(packed)*8 < count {
		return &modbus.ValueError{What: "packed bit count", Got: len(packed) * 8, Min: count, Max: count}
	}
	return m.WriteBits(t, addr, modbus.UnpackBits(packed, count))
}

// Snapshot is a consistent copy of all four tables.
type Snapshot struct {
	Coils            []bool
	DiscreteInputs   []bool
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// Snapshot copies every table while holding all four read locks.
func (m *Mapping) Snapshot() Snapshot {
	l := m.locker(false)
	l.Lock()
	defer l.Unlock()
	return Snapshot{
		Coils:            append([]bool(nil), m.bits[0].values...),
		DiscreteInputs:   append([]bool(nil), m.bits[1].values...),
		HoldingRegisters: append([]uint16(nil), m.regs[0].values...),
		InputRegisters:   append([]uint16(nil), m.regs[1].values...),
	}
}

// Reset zeroes every table while holding all four write locks.
func (m *Mapping) Reset() {
	l := m.locker(true)
	l.Lock()
	defer l.Unlock()
	for _, bt := range m.bits {
		clear(bt.values)
	}
	for _, rt := range m.regs {
		clear(rt.values)
	}
}

// locker returns a sync.Locker that takes the four table locks atomically.
func (m *Mapping) locker(write bool) sync.Locker {
	lockers := make([]sync.Locker, 0, 4)
	for _, bt := range m.bits {
		if write {
			lockers = append(lockers, &bt.mu)
		} else {
			lockers = append(lockers, bt.mu.RLocker())
		}
	}
	for _, rt := range m.regs {
		if write {
			lockers = append(lockers, &rt.mu)
		} else {
			lockers = append(lockers, rt.mu.RLocker())
		}
	}
	return multilocker.New(lockers...)
}

func (m *Mapping) bitTable(t Table) (*bitTable, error) {
	if !t.IsBit() {
		return nil, fmt.Errorf("%s is not a bit table", t)
	}
	return m.bits[t], nil
}

func (m *Mapping) regTable(t Table) (*regTable, error) {
	if t != HoldingRegisters && t != InputRegisters {
		return nil, fmt.Errorf("%s is not a register table", t)
	}
	return m.regs[t-HoldingRegisters], nil
}

// locate converts a protocol address into a slice offset.
func locate(t Table, start, size int, addr uint16, count int) (int, error) {
	if count < 0 {
		return 0, &modbus.ValueError{What: t.String() + " quantity", Got: count, Min: 0, Max: size}
	}
	a := int(addr)
	if a < start || a+count > start+size {
		return 0, &modbus.RangeError{Table: t.String(), Address: a, Quantity: count, Start: start, Size: size}
	}
	return a - start, nil
}
