package ui

// Interactive form that builds one master request.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/huh"

	"github.com/tonylturner/mbstack/internal/config"
)

// WizardAnswers holds the raw form fields. Everything is a string so the
// form can bind to it directly.
type WizardAnswers struct {
	Transport string
	Host      string
	Port      string
	Device    string
	Baud      string
	Parity    string
	Unit      string

	Op          string
	Address     string
	Count       string
	Values      string
	AndMask     string
	OrMask      string
	ReadAddress string
	ReadCount   string

	Copy bool
}

// NewWizardAnswers prefills the connection fields from ch.
func NewWizardAnswers(ch config.ChannelConfig) *WizardAnswers {
	a := &WizardAnswers{
		Transport: string(ch.Transport),
		Host:      ch.Host,
		Port:      strconv.Itoa(ch.Port),
		Device:    ch.Device,
		Baud:      strconv.Itoa(ch.Baud),
		Parity:    ch.Parity,
		Unit:      strconv.Itoa(ch.UnitID),
		Op:        string(OpReadHolding),
		Address:   "0",
		Count:     "1",
		AndMask:   "0xFFFF",
		OrMask:    "0x0000",
		ReadCount: "1",
	}
	if ch.Transport == config.TransportTCPPI {
		a.Host, a.Port = ch.Node, ch.Service
	}
	if ch.Transport != config.TransportRTU {
		rtu := config.DefaultChannelConfig(config.TransportRTU)
		a.Device, a.Baud, a.Parity = rtu.Device, strconv.Itoa(rtu.Baud), rtu.Parity
	}
	return a
}

// BuildWizardForm binds a form to a.
func BuildWizardForm(a *WizardAnswers) *huh.Form {
	transportOptions := huh.NewOptions(string(config.TransportTCP), string(config.TransportTCPPI), string(config.TransportRTU))
	opOptions := make([]huh.Option[string], len(Operations))
	for i, op := range Operations {
		opOptions[i] = huh.NewOption(op.Title(), string(op))
	}
	isRTU := func() bool { return a.Transport == string(config.TransportRTU) }
	is := func(ops ...Operation) func() bool {
		return func() bool {
			for _, op := range ops {
				if a.Op == string(op) {
					return false
				}
			}
			return true
		}
	}

	connGroup := huh.NewGroup(
		huh.NewSelect[string]().
			Title("Transport").
			Description("tcp: IPv4 Modbus/TCP; tcp-pi: any address family; rtu: serial line.").
			Options(transportOptions...).
			Value(&a.Transport),
		huh.NewInput().
			Title("Unit id").
			Description("0-247, or 255 for a TCP device addressed directly.").
			Validate(validateInt(0, 255)).
			Value(&a.Unit),
	)

	netGroup := huh.NewGroup(
		huh.NewInput().
			Title("Host").
			Description("IP address or host name of the slave.").
			Value(&a.Host),
		huh.NewInput().
			Title("Port").
			Description("TCP port or service name (slaves usually listen on 502).").
			Value(&a.Port),
	).WithHideFunc(isRTU)

	serialGroup := huh.NewGroup(
		huh.NewInput().
			Title("Device").
			Description("Serial port, e.g. /dev/ttyUSB0 or COM3.").
			Value(&a.Device),
		huh.NewInput().
			Title("Baud rate").
			Validate(validateInt(1, 4000000)).
			Value(&a.Baud),
		huh.NewSelect[string]().
			Title("Parity").
			Options(huh.NewOption("None", "N"), huh.NewOption("Even", "E"), huh.NewOption("Odd", "O")).
			Value(&a.Parity),
	).WithHideFunc(func() bool { return !isRTU() })

	opGroup := huh.NewGroup(
		huh.NewSelect[string]().
			Title("Request").
			Options(opOptions...).
			Value(&a.Op),
	)

	addrGroup := huh.NewGroup(
		huh.NewInput().
			Title("Address").
			Description("Start address, decimal or 0x hex.").
			Validate(validateInt(0, 0xFFFF)).
			Value(&a.Address),
	).WithHideFunc(is(OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput, OpWriteCoil, OpWriteRegister, OpWriteCoils, OpWriteRegisters, OpMaskWrite, OpWriteRead))

	countGroup := huh.NewGroup(
		huh.NewInput().
			Title("Count").
			Description("Number of bits or registers to read.").
			Validate(validateInt(1, 2000)).
			Value(&a.Count),
	).WithHideFunc(is(OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput))

	valuesGroup := huh.NewGroup(
		huh.NewInput().
			Title("Values").
			Description("Comma separated; 0/1 for coils.").
			Validate(func(s string) error {
				_, err := ParseValues(s)
				return err
			}).
			Value(&a.Values),
	).WithHideFunc(is(OpWriteCoil, OpWriteRegister, OpWriteCoils, OpWriteRegisters, OpWriteRead))

	maskGroup := huh.NewGroup(
		huh.NewInput().
			Title("AND mask").
			Validate(validateInt(0, 0xFFFF)).
			Value(&a.AndMask),
		huh.NewInput().
			Title("OR mask").
			Validate(validateInt(0, 0xFFFF)).
			Value(&a.OrMask),
	).WithHideFunc(is(OpMaskWrite))

	readGroup := huh.NewGroup(
		huh.NewInput().
			Title("Read address").
			Validate(validateInt(0, 0xFFFF)).
			Value(&a.ReadAddress),
		huh.NewInput().
			Title("Read count").
			Validate(validateInt(1, 125)).
			Value(&a.ReadCount),
	).WithHideFunc(is(OpWriteRead))

	finishGroup := huh.NewGroup(
		huh.NewConfirm().
			Title("Copy the command to the clipboard?").
			Value(&a.Copy),
	)

	return huh.NewForm(connGroup, netGroup, serialGroup, opGroup, addrGroup, countGroup, valuesGroup, maskGroup, readGroup, finishGroup).
		WithTheme(huh.ThemeCharm())
}

func validateInt(min, max int) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if int(v) < min || int(v) > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

func parseUint16(name, s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return uint16(v), nil
}

func parseCount(name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

// Channel converts the connection answers.
func (a *WizardAnswers) Channel() (config.ChannelConfig, error) {
	t, err := config.ParseTransport(a.Transport)
	if err != nil {
		return config.ChannelConfig{}, err
	}
	ch := config.DefaultChannelConfig(t)
	if ch.UnitID, err = parseCount("unit id", a.Unit); err != nil {
		return ch, err
	}
	switch t {
	case config.TransportTCP:
		ch.Host = strings.TrimSpace(a.Host)
		if ch.Port, err = parseCount("port", a.Port); err != nil {
			return ch, err
		}
	case config.TransportTCPPI:
		ch.Node, ch.Service = strings.TrimSpace(a.Host), strings.TrimSpace(a.Port)
	case config.TransportRTU:
		ch.Device, ch.Parity = strings.TrimSpace(a.Device), a.Parity
		if ch.Baud, err = parseCount("baud rate", a.Baud); err != nil {
			return ch, err
		}
	}
	return ch, ch.Validate()
}

// Request converts the request answers.
func (a *WizardAnswers) Request() (RequestSpec, error) {
	op, err := ParseOperation(a.Op)
	if err != nil {
		return RequestSpec{}, err
	}
	r := RequestSpec{Op: op}
	if op != OpReportID {
		if r.Address, err = parseUint16("address", a.Address); err != nil {
			return r, err
		}
	}
	switch op {
	case OpReadCoils, OpReadDiscrete, OpReadHolding, OpReadInput:
		r.Count, err = parseCount("count", a.Count)
	case OpWriteCoil, OpWriteRegister, OpWriteCoils, OpWriteRegisters:
		r.Values, err = ParseValues(a.Values)
	case OpMaskWrite:
		if r.AndMask, err = parseUint16("AND mask", a.AndMask); err == nil {
			r.OrMask, err = parseUint16("OR mask", a.OrMask)
		}
	case OpWriteRead:
		if r.Values, err = ParseValues(a.Values); err != nil {
			return r, err
		}
		if r.ReadAddress, err = parseUint16("read address", a.ReadAddress); err == nil {
			r.ReadCount, err = parseCount("read count", a.ReadCount)
		}
	}
	if err != nil {
		return r, err
	}
	return r, r.Validate()
}

// Command converts all answers into the equivalent CLI command.
func (a *WizardAnswers) Command() (CommandSpec, error) {
	ch, err := a.Channel()
	if err != nil {
		return CommandSpec{}, err
	}
	req, err := a.Request()
	if err != nil {
		return CommandSpec{}, err
	}
	return BuildCommand(ch, req)
}

// RunWizard shows the form, starting from ch, and returns the answers.
// When the user asked for it, the command line is put on the clipboard.
func RunWizard(ch config.ChannelConfig, accessible bool) (*WizardAnswers, CommandSpec, error) {
	a := NewWizardAnswers(ch)
	if err := BuildWizardForm(a).WithAccessible(accessible).Run(); err != nil {
		return nil, CommandSpec{}, err
	}
	cmd, err := a.Command()
	if err != nil {
		return a, CommandSpec{}, err
	}
	if a.Copy {
		if err := clipboard.WriteAll(FormatCommand(cmd.Args)); err != nil {
			return a, cmd, fmt.Errorf("copy to clipboard: %w", err)
		}
	}
	return a, cmd, nil
}
