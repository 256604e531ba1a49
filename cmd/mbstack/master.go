package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
	"github.com/tonylturner/mbstack/internal/config"
	"github.com/tonylturner/mbstack/internal/ui"
)

type masterFlags struct {
	channel     channelFlags
	repeat      int
	interval    time.Duration
	metricsCSV  string
	metricsJSON string
	record      string
	logLevel    string
	logFile     string
	logFormat   string
	progress    bool
}

type requestFlags struct {
	address     string
	count       int
	values      string
	andMask     string
	orMask      string
	readAddress string
	readCount   int
}

func newMasterCmd() *cobra.Command {
	flags := &masterFlags{}

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Send requests to a slave",
		Long: `Act as a Modbus master: connect to a slave, send one request and print the
reply. Every function has its own subcommand. Addresses and mask values
accept decimal or 0x-prefixed hex.

Connection settings come from flags, MBSTACK_* environment variables
(a .env file in the working directory is read too), the master section
of --config, and transport defaults, in that order.`,
		Example: `  # Read 10 holding registers from a TCP slave
  mbstack master read-holding --host 192.168.1.50 --port 502 --address 0 --count 10

  # Write coils on an RTU slave at unit 17
  mbstack master write-coils --transport rtu --device /dev/ttyUSB0 --baud 19200 --parity E --unit 17 --address 0x13 --values 1,0,1

  # Poll input registers 100 times and keep metrics
  mbstack master read-input --address 0 --count 4 --repeat 100 --interval 100ms --metrics-csv poll.csv

  # Send a raw PDU (unit id, function code, data)
  mbstack master raw "FF 11"`,
	}

	registerChannelFlags(cmd, &flags.channel, true)
	pf := cmd.PersistentFlags()
	pf.IntVar(&flags.repeat, "repeat", 1, "Number of times to send the request")
	pf.DurationVar(&flags.interval, "interval", time.Second, "Delay between repeated requests")
	pf.StringVar(&flags.metricsCSV, "metrics-csv", "", "Write per-request metrics to a CSV file")
	pf.StringVar(&flags.metricsJSON, "metrics-json", "", "Write per-request metrics to a JSON file")
	pf.StringVar(&flags.record, "record", "", "Record exchanged frames to a pcap file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: silent|error|info|verbose|debug")
	pf.StringVar(&flags.logFile, "log-file", "", "Also write the log to this file")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log line format: text|json")
	pf.BoolVar(&flags.progress, "progress", false, "With --repeat, show a progress bar instead of every reply")

	for _, op := range ui.Operations {
		cmd.AddCommand(newMasterOpCmd(flags, op))
	}
	cmd.AddCommand(newMasterRawCmd(flags))
	return cmd
}

func newMasterOpCmd(flags *masterFlags, op ui.Operation) *cobra.Command {
	req := &requestFlags{}
	cmd := &cobra.Command{
		Use:   string(op),
		Short: op.Title(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := req.spec(op)
			if err != nil {
				return err
			}
			return runMaster(cmd, flags, spec, nil)
		},
	}

	fs := cmd.Flags()
	if op != ui.OpReportID {
		fs.StringVar(&req.address, "address", "0", "Start address")
	}
	switch op {
	case ui.OpReadCoils, ui.OpReadDiscrete, ui.OpReadHolding, ui.OpReadInput:
		fs.IntVar(&req.count, "count", 1, "Number of bits or registers")
	case ui.OpWriteCoil, ui.OpWriteRegister:
		fs.StringVar(&req.values, "values", "", "Value to write (0 or 1 for a coil)")
		_ = cmd.MarkFlagRequired("values")
	case ui.OpWriteCoils, ui.OpWriteRegisters:
		fs.StringVar(&req.values, "values", "", "Comma separated values (0 or 1 for coils)")
		_ = cmd.MarkFlagRequired("values")
	case ui.OpMaskWrite:
		fs.StringVar(&req.andMask, "and", "0xFFFF", "AND mask")
		fs.StringVar(&req.orMask, "or", "0x0000", "OR mask")
	case ui.OpWriteRead:
		fs.StringVar(&req.values, "values", "", "Comma separated values written first")
		fs.StringVar(&req.readAddress, "read-address", "0", "Address to read back from")
		fs.IntVar(&req.readCount, "read-count", 1, "Number of registers to read back")
		_ = cmd.MarkFlagRequired("values")
	}
	return cmd
}

// spec converts the parsed flags into a request.
func (r *requestFlags) spec(op ui.Operation) (ui.RequestSpec, error) {
	spec := ui.RequestSpec{Op: op, Count: r.count, ReadCount: r.readCount}
	var err error
	if op != ui.OpReportID {
		if spec.Address, err = parseUint16Flag("address", r.address); err != nil {
			return spec, err
		}
	}
	if r.values != "" {
		if spec.Values, err = ui.ParseValues(r.values); err != nil {
			return spec, err
		}
	}
	if op == ui.OpMaskWrite {
		if spec.AndMask, err = parseUint16Flag("and", r.andMask); err != nil {
			return spec, err
		}
		if spec.OrMask, err = parseUint16Flag("or", r.orMask); err != nil {
			return spec, err
		}
	}
	if op == ui.OpWriteRead {
		if spec.ReadAddress, err = parseUint16Flag("read-address", r.readAddress); err != nil {
			return spec, err
		}
	}
	return spec, spec.Validate()
}

func newMasterRawCmd(flags *masterFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <hex>",
		Short: "Send a raw request (unit id + PDU) and dump the reply",
		Long: `Send a raw request. The argument is the unit id followed by the PDU
(function code and data) in hex; the MBAP header or CRC is added for the
transport in use. The reply is printed without interpretation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := app.ParseHex(args[0])
			if err != nil {
				return err
			}
			return runMaster(cmd, flags, ui.RequestSpec{}, raw)
		},
	}
}

func runMaster(cmd *cobra.Command, flags *masterFlags, spec ui.RequestSpec, raw []byte) error {
	ch, err := flags.channel.masterChannel(cmd)
	if err != nil {
		return err
	}
	opts := app.MasterOptions{
		Channel:     ch,
		ConfigPath:  flags.channel.configPath,
		Request:     spec,
		Raw:         raw,
		Repeat:      flags.repeat,
		Interval:    flags.interval,
		LogLevel:    flags.logLevel,
		LogFile:     flags.logFile,
		LogFormat:   flags.logFormat,
		MetricsCSV:  flags.metricsCSV,
		MetricsJSON: flags.metricsJSON,
		Record:      flags.record,
		Out:         cmd.OutOrStdout(),
	}
	if flags.progress {
		opts.Progress = cmd.ErrOrStderr()
	}
	if flags.channel.configPath != "" {
		if err := fromConfigFile(flags, &opts); err != nil {
			return err
		}
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return app.RunMaster(ctx, opts)
}

// fromConfigFile fills logging and metrics settings the flags left unset.
func fromConfigFile(flags *masterFlags, opts *app.MasterOptions) error {
	cfg, err := config.LoadConfig(flags.channel.configPath)
	if err != nil {
		return err
	}
	if opts.LogLevel == "" {
		opts.LogLevel = cfg.Logging.Level
	}
	if opts.LogFile == "" {
		opts.LogFile = cfg.Logging.File
	}
	if opts.LogFormat == "" {
		opts.LogFormat = cfg.Logging.Format
	}
	if opts.MetricsCSV == "" {
		opts.MetricsCSV = cfg.Metrics.CSV
	}
	if opts.MetricsJSON == "" {
		opts.MetricsJSON = cfg.Metrics.JSON
	}
	return nil
}
