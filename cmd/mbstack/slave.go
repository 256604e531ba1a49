package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
)

type slaveFlags struct {
	channel  channelFlags
	backlog  int
	identity string
	record   string
	quirks   bool
	logLevel string
	logFile  string
	logFmt   string
}

func newSlaveCmd() *cobra.Command {
	flags := &slaveFlags{}

	cmd := &cobra.Command{
		Use:   "slave",
		Short: "Serve a data mapping as a Modbus slave",
		Long: `Run a Modbus slave. Over TCP and TCP-PI it accepts up to --backlog clients
at once, all sharing one data mapping; over RTU it serves the serial line
as unit --unit.

The mapping sizes, seed values and quirks come from the mapping and
quirks sections of --config. With --quirks and no quirks configured, the
built-in set is enabled:

  0x170 read holding    reply Slave Device Busy
  0x171 read holding    reply with a wrong transaction id (TCP) or unit (RTU)
  0x172 read holding    sleep 0.5s before replying
  0x173 read holding    send the reply one byte at a time, 5ms apart
  any read of 2 regs    reply with one register fewer

Press Ctrl+C to stop.`,
		Example: `  # Serve the default mapping on 127.0.0.1:1502
  mbstack slave

  # Listen on all interfaces, port 502, any address family
  mbstack slave --transport tcp-pi --host :: --port 502

  # Serve unit 17 on a serial line and record the traffic
  mbstack slave --transport rtu --device /dev/ttyUSB1 --unit 17 --record slave.pcap`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlave(cmd, flags)
		},
	}

	registerChannelFlags(cmd, &flags.channel, false)
	fs := cmd.Flags()
	fs.IntVar(&flags.backlog, "backlog", 0, "Maximum concurrent TCP clients (default from config, 5)")
	fs.StringVar(&flags.identity, "identity", "", "Identity string returned by Report Slave ID")
	fs.StringVar(&flags.record, "record", "", "Record exchanged frames to a pcap file")
	fs.BoolVar(&flags.quirks, "quirks", false, "Enable the built-in quirks when the config lists none")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level: silent|error|info|verbose|debug")
	fs.StringVar(&flags.logFile, "log-file", "", "Also write the log to this file")
	fs.StringVar(&flags.logFmt, "log-format", "", "Log line format: text|json")
	return cmd
}

func runSlave(cmd *cobra.Command, flags *slaveFlags) error {
	cfg, err := flags.channel.loadConfig()
	if err != nil {
		return err
	}
	if err := flags.channel.apply(cmd, &cfg.Slave.ChannelConfig); err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("backlog") {
		cfg.Slave.Backlog = flags.backlog
	}
	if changed("identity") {
		cfg.Slave.Identity = flags.identity
	}
	if changed("record") {
		cfg.Slave.Record = flags.record
	}
	if changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if changed("log-file") {
		cfg.Logging.File = flags.logFile
	}
	if changed("log-format") {
		cfg.Logging.Format = flags.logFmt
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return app.RunSlave(ctx, app.SlaveOptions{
		Config:     cfg,
		ConfigPath: flags.channel.configPath,
		Quirks:     flags.quirks,
		Out:        cmd.OutOrStdout(),
	})
}
