package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Parse parses a channel specification string and returns a Channel.
// Supported formats:
//   - "tcp://127.0.0.1:1502" -> Modbus/TCP over IPv4 (port defaults to 502)
//   - "tcp-pi://localhost:mbap" -> protocol-independent TCP, node and service
//   - "tcp-pi://[::1]:1502" -> protocol-independent TCP over IPv6
//   - "rtu:///dev/ttyUSB0?baud=19200&parity=E&data=8&stop=1" -> RTU
//   - "127.0.0.1:1502" (bare host:port) -> Modbus/TCP
func Parse(spec string) (Channel, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty channel specification")
	}
	if !strings.Contains(spec, "://") {
		return parseHostPort(spec)
	}

	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		port := DefaultTCPPort
		if p := u.Port(); p != "" {
			if port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("invalid port: %w", err)
			}
		}
		return NewTCP(u.Hostname(), port)
	case "tcp-pi":
		return NewTCPPI(u.Hostname(), u.Port())
	case "rtu":
		return parseRTU(u)
	default:
		return nil, fmt.Errorf("unsupported transport scheme: %s", u.Scheme)
	}
}

// DefaultSerialConfig returns 19200 baud, 8N1 on device.
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{Device: device, Baud: 19200, Parity: 'N', DataBits: 8, StopBits: 1}
}

// parseRTU parses an rtu:// URL. The device is the URL path, or the host
// for forms like rtu://COM3.
func parseRTU(u *url.URL) (Channel, error) {
	device := u.Path
	if u.Host != "" {
		device = u.Host + u.Path
	}
	cfg := DefaultSerialConfig(device)

	q := u.Query()
	var err error
	if v := q.Get("baud"); v != "" {
		if cfg.Baud, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid baud: %w", err)
		}
	}
	if v := q.Get("parity"); v != "" {
		p, err := ParseParity(v)
		if err != nil {
			return nil, err
		}
		cfg.Parity = p
	}
	if v := q.Get("data"); v != "" {
		if cfg.DataBits, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid data bits: %w", err)
		}
	}
	if v := q.Get("stop"); v != "" {
		if cfg.StopBits, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid stop bits: %w", err)
		}
	}
	return NewRTU(cfg)
}

// ParseParity accepts N/E/O in either case, or none/even/odd.
func ParseParity(s string) (byte, error) {
	switch strings.ToLower(s) {
	case "n", "none":
		return 'N', nil
	case "e", "even":
		return 'E', nil
	case "o", "odd":
		return 'O', nil
	default:
		return 0, fmt.Errorf("invalid parity %q", s)
	}
}

// parseHostPort parses a bare host or host:port spec as Modbus/TCP.
func parseHostPort(spec string) (Channel, error) {
	host, portStr, err := splitHostPortDefault(spec)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	return NewTCP(host, port)
}

func splitHostPortDefault(spec string) (string, string, error) {
	// Use LastIndex because IPv6 literals contain colons
	idx := strings.LastIndex(spec, ":")
	if idx == -1 || strings.HasSuffix(spec, "]") {
		return strings.Trim(spec, "[]"), strconv.Itoa(DefaultTCPPort), nil
	}
	host := strings.Trim(spec[:idx], "[]")
	if host == "" {
		return "", "", fmt.Errorf("host is required")
	}
	return host, spec[idx+1:], nil
}

// MustParse parses a channel spec and panics on error.
// Useful for tests and initialization.
func MustParse(spec string) Channel {
	ch, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return ch
}

// IsSerial returns true if the spec refers to an RTU line.
func IsSerial(spec string) bool {
	return strings.HasPrefix(spec, "rtu://")
}
