package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tonylturner/mbstack/internal/master"
)

// Operation names one master call. The names double as the CLI
// subcommands of "mbstack master".
type Operation string

const (
	OpReadCoils      Operation = "read-coils"
	OpReadDiscrete   Operation = "read-discrete"
	OpReadHolding    Operation = "read-holding"
	OpReadInput      Operation = "read-input"
	OpWriteCoil      Operation = "write-coil"
	OpWriteRegister  Operation = "write-register"
	OpWriteCoils     Operation = "write-coils"
	OpWriteRegisters Operation = "write-registers"
	OpMaskWrite      Operation = "mask-write"
	OpWriteRead      Operation = "write-read"
	OpReportID       Operation = "report-id"
)

// Operations lists every operation in menu order.
var Operations = []Operation{
	OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput,
	OpWriteCoil, OpWriteRegister, OpWriteCoils, OpWriteRegisters,
	OpMaskWrite, OpWriteRead, OpReportID,
}

// Title is the menu label of an operation.
func (o Operation) Title() string {
	switch o {
	case OpReadCoils:
		return "Read coils (0x01)"
	case OpReadDiscrete:
		return "Read discrete inputs (0x02)"
	case OpReadHolding:
		return "Read holding registers (0x03)"
	case OpReadInput:
		return "Read input registers (0x04)"
	case OpWriteCoil:
		return "Write single coil (0x05)"
	case OpWriteRegister:
		return "Write single register (0x06)"
	case OpWriteCoils:
		return "Write multiple coils (0x0F)"
	case OpWriteRegisters:
		return "Write multiple registers (0x10)"
	case OpMaskWrite:
		return "Mask write register (0x16)"
	case OpWriteRead:
		return "Write and read registers (0x17)"
	case OpReportID:
		return "Report slave ID (0x11)"
	}
	return string(o)
}

// ParseOperation accepts an operation name.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == strings.ToLower(strings.TrimSpace(s)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// IsRead reports operations that return data.
func (o Operation) IsRead() bool {
	switch o {
	case OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput, OpWriteRead, OpReportID:
		return true
	}
	return false
}

// RequestSpec is one master call with its arguments.
type RequestSpec struct {
	Op          Operation
	Address     uint16
	Count       int
	Values      []uint16 // written values; 0/1 for coils
	AndMask     uint16
	OrMask      uint16
	ReadAddress uint16 // write-read
	ReadCount   int    // write-read
}

// Validate checks that the arguments the operation needs are present.
func (r RequestSpec) Validate() error {
	switch r.Op {
	case OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput:
		if r.Count < 1 {
			return fmt.Errorf("%s needs a count of at least 1", r.Op)
		}
	case OpWriteCoil, OpWriteRegister:
		if len(r.Values) != 1 {
			return fmt.Errorf("%s needs exactly one value", r.Op)
		}
	case OpWriteCoils, OpWriteRegisters:
		if len(r.Values) == 0 {
			return fmt.Errorf("%s needs at least one value", r.Op)
		}
	case OpWriteRead:
		if len(r.Values) == 0 || r.ReadCount < 1 {
			return fmt.Errorf("%s needs values and a read count", r.Op)
		}
	case OpMaskWrite, OpReportID:
	default:
		return fmt.Errorf("unknown operation %q", r.Op)
	}
	if r.Op == OpWriteCoil || r.Op == OpWriteCoils {
		for _, v := range r.Values {
			if v > 1 {
				return fmt.Errorf("coil values must be 0 or 1, got %d", v)
			}
		}
	}
	return nil
}

// Args renders the request as "mbstack master" arguments, without the
// connection flags.
func (r RequestSpec) Args() []string {
	args := []string{string(r.Op)}
	switch r.Op {
	case OpReportID:
		return args
	case OpMaskWrite:
		return append(args,
			"--address", strconv.Itoa(int(r.Address)),
			"--and", fmt.Sprintf("0x%04X", r.AndMask),
			"--or", fmt.Sprintf("0x%04X", r.OrMask))
	}
	args = append(args, "--address", strconv.Itoa(int(r.Address)))
	if r.Op.IsRead() && r.Op != OpWriteRead {
		return append(args, "--count", strconv.Itoa(r.Count))
	}
	if len(r.Values) > 0 {
		args = append(args, "--values", FormatValues(r.Values))
	}
	if r.Op == OpWriteRead {
		args = append(args,
			"--read-address", strconv.Itoa(int(r.ReadAddress)),
			"--read-count", strconv.Itoa(r.ReadCount))
	}
	return args
}

// Result is what a call returned.
type Result struct {
	Op        Operation
	Address   uint16
	Bits      []bool
	Registers []uint16
	Raw       []byte
}

// Execute performs r on m.
func Execute(ctx context.Context, m *master.Context, r RequestSpec) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{Op: r.Op, Address: r.Address}
	var err error
	switch r.Op {
	case OpReadCoils:
		res.Bits, err = m.ReadBits(ctx, r.Address, r.Count)
	case OpReadDiscrete:
		res.Bits, err = m.ReadInputBits(ctx, r.Address, r.Count)
	case OpReadHolding:
		res.Registers, err = m.ReadRegisters(ctx, r.Address, r.Count)
	case OpReadInput:
		res.Registers, err = m.ReadInputRegisters(ctx, r.Address, r.Count)
	case OpWriteCoil:
		err = m.WriteBit(ctx, r.Address, r.Values[0] != 0)
	case OpWriteRegister:
		err = m.WriteRegister(ctx, r.Address, r.Values[0])
	case OpWriteCoils:
		err = m.WriteBits(ctx, r.Address, toBits(r.Values))
	case OpWriteRegisters:
		err = m.WriteRegisters(ctx, r.Address, r.Values)
	case OpMaskWrite:
		err = m.MaskWriteRegister(ctx, r.Address, r.AndMask, r.OrMask)
	case OpWriteRead:
		res.Address = r.ReadAddress
		res.Registers, err = m.WriteAndReadRegisters(ctx, r.Address, r.Values, r.ReadAddress, r.ReadCount)
	case OpReportID:
		res.Raw, err = m.ReportSlaveID(ctx)
	}
	return res, err
}

func toBits(values []uint16) []bool {
	bits := make([]bool, len(values))
	for i, v := range values {
		bits[i] = v != 0
	}
	return bits
}

// Render formats the result as a table of address and value rows.
func (r Result) Render() string {
	switch {
	case r.Bits != nil:
		t := newTable("Address", "Value")
		for i, b := range r.Bits {
			v := "0"
			if b {
				v = "1"
			}
			t.Row(formatAddress(int(r.Address)+i), v)
		}
		return t.String()
	case r.Registers != nil:
		t := newTable("Address", "Hex", "Unsigned", "Signed")
		for i, v := range r.Registers {
			t.Row(formatAddress(int(r.Address)+i), fmt.Sprintf("0x%04X", v), strconv.Itoa(int(v)), strconv.Itoa(int(int16(v))))
		}
		return t.String()
	case r.Raw != nil:
		return renderSlaveID(r.Raw)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")).Render("OK")
}

func renderSlaveID(raw []byte) string {
	if len(raw) < 2 {
		return fmt.Sprintf("% X", raw)
	}
	run := "OFF"
	if raw[1] == 0xFF {
		run = "ON"
	}
	t := newTable("Field", "Value")
	t.Row("Slave ID", fmt.Sprintf("0x%02X", raw[0]))
	t.Row("Run indicator", run)
	t.Row("Identity", string(raw[2:]))
	return t.String()
}

func newTable(headers ...string) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#414868"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return header
			}
			return cell
		})
}

func formatAddress(addr int) string {
	return fmt.Sprintf("%d (0x%04X)", addr, addr)
}

// ParseValues parses a comma or space separated list of decimal or 0x
// prefixed 16-bit values.
func ParseValues(s string) ([]uint16, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	values := make([]uint16, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", f)
		}
		values = append(values, uint16(v))
	}
	return values, nil
}

// FormatValues is the inverse of ParseValues.
func FormatValues(values []uint16) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}
