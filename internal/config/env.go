package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override connection parameters.
const (
	EnvTransport = "MBSTACK_TRANSPORT"
	EnvHost      = "MBSTACK_HOST"
	EnvPort      = "MBSTACK_PORT"
	EnvDevice    = "MBSTACK_DEVICE"
	EnvBaud      = "MBSTACK_BAUD"
	EnvUnitID    = "MBSTACK_UNIT_ID"
)

// LoadEnv reads the given .env files (".env" when none are named) into
// the process environment. Missing files are skipped; variables already
// set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with the MBSTACK_* variables. For tcp-pi the
// host and port variables set the node and service.
func ApplyEnv(cfg *ChannelConfig) error {
	if val := os.Getenv(EnvTransport); val != "" {
		t, err := ParseTransport(val)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTransport, err)
		}
		cfg.Transport = t
	}
	if val := os.Getenv(EnvHost); val != "" {
		if cfg.Transport == TransportTCPPI {
			cfg.Node = val
		} else {
			cfg.Host = val
		}
	}
	if val := os.Getenv(EnvPort); val != "" {
		if cfg.Transport == TransportTCPPI {
			cfg.Service = val
		} else {
			port, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: invalid port %q", EnvPort, val)
			}
			cfg.Port = port
		}
	}
	if val := os.Getenv(EnvDevice); val != "" {
		cfg.Device = val
	}
	if val := os.Getenv(EnvBaud); val != "" {
		baud, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: invalid baud rate %q", EnvBaud, val)
		}
		cfg.Baud = baud
	}
	if val := os.Getenv(EnvUnitID); val != "" {
		id, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: invalid unit id %q", EnvUnitID, val)
		}
		cfg.UnitID = id
	}
	applyChannelDefaults(cfg)
	return nil
}
