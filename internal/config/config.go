package config

// Configuration loading and validation for mbstack

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/mbstack/internal/errors"
	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/modbus"
	"github.com/tonylturner/mbstack/internal/slave"
	"github.com/tonylturner/mbstack/internal/transport"
)

// TransportType selects a Modbus transport binding
type TransportType string

const (
	TransportTCP   TransportType = "tcp"
	TransportTCPPI TransportType = "tcp-pi"
	TransportRTU   TransportType = "rtu"
)

// Defaults for the three bindings.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 1502
	DefaultNode     = "::0"
	DefaultService  = "1502"
	DefaultDevice   = "/dev/ttyUSB0"
	DefaultBaud     = 115200
	DefaultParity   = "N"
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultUnitID   = 1
	DefaultBacklog  = 5
)

// ChannelConfig describes one context's channel and addressing.
type ChannelConfig struct {
	Transport       TransportType     `yaml:"transport"`
	Host            string            `yaml:"host,omitempty"`    // tcp
	Port            int               `yaml:"port,omitempty"`    // tcp
	Node            string            `yaml:"node,omitempty"`    // tcp-pi
	Service         string            `yaml:"service,omitempty"` // tcp-pi
	Device          string            `yaml:"device,omitempty"`  // rtu
	Baud            int               `yaml:"baud,omitempty"`
	Parity          string            `yaml:"parity,omitempty"` // "N", "E" or "O"
	DataBits        int               `yaml:"data_bits,omitempty"`
	StopBits        int               `yaml:"stop_bits,omitempty"`
	ResponseTimeout transport.Timeout `yaml:"response_timeout"`
	ByteTimeout     transport.Timeout `yaml:"byte_timeout"`
	UnitID          int               `yaml:"unit_id"`
	Debug           bool              `yaml:"debug,omitempty"`
}

// SlaveConfig adds server settings to a channel.
type SlaveConfig struct {
	ChannelConfig `yaml:",inline"`
	Backlog       int    `yaml:"backlog,omitempty"`  // concurrent TCP clients
	Identity      string `yaml:"identity,omitempty"` // Report Slave ID string
	Record        string `yaml:"record,omitempty"`   // pcap file for exchanged frames
}

// TableConfig places one table and optionally seeds it. Values of bit
// tables are 0 or 1.
type TableConfig struct {
	Start  uint16   `yaml:"start"`
	Count  int      `yaml:"count"`
	Values []uint16 `yaml:"values,omitempty"`
}

// MappingConfig sizes the slave's four tables.
type MappingConfig struct {
	Coils            TableConfig `yaml:"coils"`
	DiscreteInputs   TableConfig `yaml:"discrete_inputs"`
	HoldingRegisters TableConfig `yaml:"holding_registers"`
	InputRegisters   TableConfig `yaml:"input_registers"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"` // silent, error, info, verbose, debug
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// MetricsConfig controls per-request metrics output.
type MetricsConfig struct {
	CSV  string `yaml:"csv,omitempty"`
	JSON string `yaml:"json,omitempty"`
}

// Config is the top-level mbstack configuration document
type Config struct {
	Master  ChannelConfig `yaml:"master"`
	Slave   SlaveConfig   `yaml:"slave"`
	Mapping MappingConfig `yaml:"mapping"`
	Quirks  []slave.Quirk `yaml:"quirks,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// DefaultChannelConfig returns the defaults of transport t.
func DefaultChannelConfig(t TransportType) ChannelConfig {
	cfg := ChannelConfig{
		Transport:       t,
		ResponseTimeout: transport.DefaultTimeout,
		ByteTimeout:     transport.DefaultTimeout,
		UnitID:          DefaultUnitID,
	}
	applyChannelDefaults(&cfg)
	return cfg
}

// DefaultConfig returns a TCP master and slave on 127.0.0.1:1502 serving
// the default mapping.
func DefaultConfig() *Config {
	mc := mapping.DefaultConfig()
	return &Config{
		Master: DefaultChannelConfig(TransportTCP),
		Slave: SlaveConfig{
			ChannelConfig: DefaultChannelConfig(TransportTCP),
			Backlog:       DefaultBacklog,
		},
		Mapping: MappingConfig{
			Coils:            TableConfig{Start: mc.Coils.Start, Count: mc.Coils.Count},
			DiscreteInputs:   TableConfig{Start: mc.DiscreteInputs.Start, Count: mc.DiscreteInputs.Count},
			HoldingRegisters: TableConfig{Start: mc.HoldingRegisters.Start, Count: mc.HoldingRegisters.Count},
			InputRegisters:   TableConfig{Start: mc.InputRegisters.Start, Count: mc.InputRegisters.Count},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadConfig loads a configuration from a YAML file, fills in defaults
// and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapConfigError(
				fmt.Errorf("config file not found: %s", path),
				path,
			)
		}
		return nil, errors.WrapConfigError(
			fmt.Errorf("read config file: %w", err),
			path,
		)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of DefaultConfig and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	ApplyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields, typically after a partial document
// changed the transport.
func ApplyDefaults(cfg *Config) {
	applyChannelDefaults(&cfg.Master)
	applyChannelDefaults(&cfg.Slave.ChannelConfig)
	if cfg.Slave.Backlog == 0 {
		cfg.Slave.Backlog = DefaultBacklog
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// FillDefaults sets every unset field the transport uses to its default.
func (c *ChannelConfig) FillDefaults() { applyChannelDefaults(c) }

func applyChannelDefaults(cfg *ChannelConfig) {
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	switch cfg.Transport {
	case TransportTCP:
		if cfg.Host == "" {
			cfg.Host = DefaultHost
		}
		if cfg.Port == 0 {
			cfg.Port = DefaultPort
		}
	case TransportTCPPI:
		if cfg.Node == "" {
			cfg.Node = DefaultNode
		}
		if cfg.Service == "" {
			cfg.Service = DefaultService
		}
	case TransportRTU:
		if cfg.Device == "" {
			cfg.Device = DefaultDevice
		}
		if cfg.Baud == 0 {
			cfg.Baud = DefaultBaud
		}
		if cfg.Parity == "" {
			cfg.Parity = DefaultParity
		}
		if cfg.DataBits == 0 {
			cfg.DataBits = DefaultDataBits
		}
		if cfg.StopBits == 0 {
			cfg.StopBits = DefaultStopBits
		}
	}
	if cfg.ResponseTimeout.IsZero() {
		cfg.ResponseTimeout = transport.DefaultTimeout
	}
}

// ValidateConfig validates a configuration
func ValidateConfig(cfg *Config) error {
	if err := cfg.Master.Validate(); err != nil {
		return fmt.Errorf("master: %w", err)
	}
	if err := cfg.Slave.Validate(); err != nil {
		return fmt.Errorf("slave: %w", err)
	}
	if cfg.Slave.Backlog < 1 {
		return fmt.Errorf("slave.backlog must be >= 1")
	}
	if len(cfg.Slave.Identity) > modbus.MaxPDUSize-4 {
		return fmt.Errorf("slave.identity is longer than %d bytes", modbus.MaxPDUSize-4)
	}
	if err := cfg.Mapping.Validate(); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}
	for i, q := range cfg.Quirks {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("quirks[%d]: %w", i, err)
		}
	}
	if cfg.Logging.Level != "" {
		if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
			return fmt.Errorf("logging.level must be silent, error, info, verbose, or debug")
		}
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// Validate checks the fields used by the configured transport.
func (c ChannelConfig) Validate() error {
	switch c.Transport {
	case TransportTCP:
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("port %d outside [0, 65535]", c.Port)
		}
	case TransportTCPPI:
		if c.Service == "" {
			return fmt.Errorf("service is required for tcp-pi")
		}
	case TransportRTU:
		if err := c.serialConfig().Validate(); err != nil {
			return err
		}
		if _, err := transport.ParseParity(c.Parity); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transport must be 'tcp', 'tcp-pi' or 'rtu', got '%s'", c.Transport)
	}

	// 255 addresses the device itself on TCP
	tcpDevice := c.Transport != TransportRTU && c.UnitID == modbus.TCPSlaveID
	if (c.UnitID < 0 || c.UnitID > modbus.MaxSlaveID) && !tcpDevice {
		return fmt.Errorf("unit_id %d outside [0, %d]", c.UnitID, modbus.MaxSlaveID)
	}
	if err := c.ResponseTimeout.Validate(); err != nil {
		return fmt.Errorf("response_timeout: %w", err)
	}
	if c.ResponseTimeout.IsZero() {
		return fmt.Errorf("response_timeout must not be zero")
	}
	if err := c.ByteTimeout.Validate(); err != nil {
		return fmt.Errorf("byte_timeout: %w", err)
	}
	return nil
}

func (c ChannelConfig) serialConfig() transport.SerialConfig {
	parity, _ := transport.ParseParity(c.Parity)
	return transport.SerialConfig{
		Device:   c.Device,
		Baud:     c.Baud,
		Parity:   parity,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
	}
}

// Channel builds the configured channel with its timeouts applied. The
// channel is not connected.
func (c ChannelConfig) Channel() (transport.Channel, error) {
	var (
		ch  transport.Channel
		err error
	)
	switch c.Transport {
	case TransportTCP:
		ch, err = transport.NewTCP(c.Host, c.Port)
	case TransportTCPPI:
		ch, err = transport.NewTCPPI(c.Node, c.Service)
	case TransportRTU:
		ch, err = transport.NewRTU(c.serialConfig())
	default:
		err = fmt.Errorf("unknown transport %q", c.Transport)
	}
	if err != nil {
		return nil, err
	}
	if err := ch.SetResponseTimeout(c.ResponseTimeout); err != nil {
		return nil, err
	}
	if err := ch.SetByteTimeout(c.ByteTimeout); err != nil {
		return nil, err
	}
	return ch, nil
}

// Target describes where the channel points, for messages.
func (c ChannelConfig) Target() string {
	switch c.Transport {
	case TransportTCPPI:
		return c.Node + ":" + c.Service
	case TransportRTU:
		return c.Device
	default:
		return c.Host + ":" + strconv.Itoa(c.Port)
	}
}

// Validate checks every table fits the address space and its seed values.
func (m MappingConfig) Validate() error {
	if err := m.mappingConfig().Validate(); err != nil {
		return err
	}
	for _, t := range m.tables() {
		tc := t.cfg
		if len(tc.Values) > tc.Count {
			return fmt.Errorf("%s has %d values for %d entries", t.table, len(tc.Values), tc.Count)
		}
		if t.table.IsBit() {
			for i, v := range tc.Values {
				if v > 1 {
					return fmt.Errorf("%s value %d at index %d must be 0 or 1", t.table, v, i)
				}
			}
		}
	}
	return nil
}

type namedTable struct {
	table mapping.Table
	cfg   TableConfig
}

func (m MappingConfig) tables() []namedTable {
	return []namedTable{
		{mapping.Coils, m.Coils},
		{mapping.DiscreteInputs, m.DiscreteInputs},
		{mapping.HoldingRegisters, m.HoldingRegisters},
		{mapping.InputRegisters, m.InputRegisters},
	}
}

func (m MappingConfig) mappingConfig() mapping.Config {
	return mapping.Config{
		Coils:            mapping.TableConfig{Start: m.Coils.Start, Count: m.Coils.Count},
		DiscreteInputs:   mapping.TableConfig{Start: m.DiscreteInputs.Start, Count: m.DiscreteInputs.Count},
		HoldingRegisters: mapping.TableConfig{Start: m.HoldingRegisters.Start, Count: m.HoldingRegisters.Count},
		InputRegisters:   mapping.TableConfig{Start: m.InputRegisters.Start, Count: m.InputRegisters.Count},
	}
}

// Build allocates the mapping and writes the seed values.
func (m MappingConfig) Build() (*mapping.Mapping, error) {
	mp, err := mapping.New(m.mappingConfig())
	if err != nil {
		return nil, err
	}
	for _, t := range m.tables() {
		if len(t.cfg.Values) == 0 {
			continue
		}
		if t.table.IsBit() {
			bits := make([]bool, len(t.cfg.Values))
			for i, v := range t.cfg.Values {
				bits[i] = v != 0
			}
			err = mp.WriteBits(t.table, t.cfg.Start, bits)
		} else {
			err = mp.WriteRegisters(t.table, t.cfg.Start, t.cfg.Values)
		}
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", t.table, err)
		}
	}
	return mp, nil
}

// ParseTransport accepts tcp, tcp-pi or rtu in any case.
func ParseTransport(s string) (TransportType, error) {
	switch t := TransportType(strings.ToLower(s)); t {
	case TransportTCP, TransportTCPPI, TransportRTU:
		return t, nil
	}
	return "", fmt.Errorf("transport must be 'tcp', 'tcp-pi' or 'rtu', got '%s'", s)
}
