package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/config"
	"github.com/tonylturner/mbstack/internal/transport"
)

// channelFlags are the connection flags shared by master, slave and watch.
// Precedence: flags, then MBSTACK_* variables (also read from .env), then
// the config file, then transport defaults.
type channelFlags struct {
	configPath      string
	transport       string
	host            string
	port            string
	device          string
	baud            int
	parity          string
	dataBits        int
	stopBits        int
	unit            int
	responseTimeout time.Duration
	byteTimeout     time.Duration
	debug           bool
}

func registerChannelFlags(cmd *cobra.Command, f *channelFlags, persistent bool) {
	fs := cmd.Flags()
	if persistent {
		fs = cmd.PersistentFlags()
	}
	fs.StringVar(&f.configPath, "config", "", "YAML config file (see 'mbstack config print-default')")
	fs.StringVar(&f.transport, "transport", string(config.TransportTCP), "Transport: tcp|tcp-pi|rtu")
	fs.StringVar(&f.host, "host", config.DefaultHost, "Host (tcp) or node (tcp-pi)")
	fs.StringVar(&f.port, "port", strconv.Itoa(config.DefaultPort), "Port (tcp) or service (tcp-pi)")
	fs.StringVar(&f.device, "device", config.DefaultDevice, "Serial device (rtu)")
	fs.IntVar(&f.baud, "baud", config.DefaultBaud, "Baud rate (rtu)")
	fs.StringVar(&f.parity, "parity", config.DefaultParity, "Parity N|E|O (rtu)")
	fs.IntVar(&f.dataBits, "data-bits", config.DefaultDataBits, "Data bits 5-8 (rtu)")
	fs.IntVar(&f.stopBits, "stop-bits", config.DefaultStopBits, "Stop bits 1-2 (rtu)")
	fs.IntVar(&f.unit, "unit", config.DefaultUnitID, "Unit id 0-247, or 255 to address a TCP device itself")
	fs.DurationVar(&f.responseTimeout, "response-timeout", transport.DefaultTimeout.Duration(), "Time to wait for the first byte of a reply")
	fs.DurationVar(&f.byteTimeout, "byte-timeout", transport.DefaultTimeout.Duration(), "Time allowed between bytes of a frame (0 disables)")
	fs.BoolVar(&f.debug, "debug", false, "Dump every frame sent and received")
}

// loadConfig reads --config, or returns the defaults when it is unset.
func (f *channelFlags) loadConfig() (*config.Config, error) {
	if f.configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(f.configPath)
}

// apply layers the environment and the flags set on cmd over ch.
func (f *channelFlags) apply(cmd *cobra.Command, ch *config.ChannelConfig) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	if err := config.ApplyEnv(ch); err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("transport") {
		t, err := config.ParseTransport(f.transport)
		if err != nil {
			return err
		}
		ch.Transport = t
	}
	ch.FillDefaults()

	pi := ch.Transport == config.TransportTCPPI
	if changed("host") {
		if pi {
			ch.Node = f.host
		} else {
			ch.Host = f.host
		}
	}
	if changed("port") {
		if pi {
			ch.Service = f.port
		} else {
			port, err := strconv.Atoi(f.port)
			if err != nil {
				return fmt.Errorf("invalid --port %q", f.port)
			}
			ch.Port = port
		}
	}
	if changed("device") {
		ch.Device = f.device
	}
	if changed("baud") {
		ch.Baud = f.baud
	}
	if changed("parity") {
		ch.Parity = strings.ToUpper(f.parity)
	}
	if changed("data-bits") {
		ch.DataBits = f.dataBits
	}
	if changed("stop-bits") {
		ch.StopBits = f.stopBits
	}
	if changed("unit") {
		ch.UnitID = f.unit
	}
	if changed("response-timeout") {
		ch.ResponseTimeout = transport.TimeoutFromDuration(f.responseTimeout)
	}
	if changed("byte-timeout") {
		ch.ByteTimeout = transport.TimeoutFromDuration(f.byteTimeout)
	}
	if changed("debug") {
		ch.Debug = f.debug
	}
	return nil
}

// masterChannel resolves the master side of the configuration.
func (f *channelFlags) masterChannel(cmd *cobra.Command) (config.ChannelConfig, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return config.ChannelConfig{}, err
	}
	ch := cfg.Master
	if err := f.apply(cmd, &ch); err != nil {
		return ch, err
	}
	return ch, ch.Validate()
}
