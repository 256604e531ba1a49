package app

import (
	"fmt"
	"strconv"

	"github.com/tonylturner/mbstack/internal/config"
	friendly "github.com/tonylturner/mbstack/internal/errors"
	"github.com/tonylturner/mbstack/internal/logging"
)

// newLogger builds the run logger. debug forces the debug level.
func newLogger(level, file, format string, debug bool) (*logging.Logger, error) {
	lvl := logging.LogLevelInfo
	if level != "" {
		parsed, err := logging.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	if debug {
		lvl = logging.LogLevelDebug
	}
	fmtKind, err := logging.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithFormat(lvl, file, fmtKind)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// wrapConnectError attaches transport-specific hints to a connect or
// listen failure.
func wrapConnectError(ch config.ChannelConfig, err error) error {
	switch ch.Transport {
	case config.TransportRTU:
		return friendly.WrapSerialError(err, ch.Device)
	case config.TransportTCPPI:
		port, _ := strconv.Atoi(ch.Service)
		return friendly.WrapNetworkError(err, ch.Node, port)
	default:
		return friendly.WrapNetworkError(err, ch.Host, ch.Port)
	}
}
