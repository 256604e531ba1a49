// Package logging is the leveled logger shared by the master and slave
// contexts and the CLI.
//
// Errors always reach stderr. Other messages reach stdout only at the
// verbose or debug level. A log file, when configured, receives every
// message the level lets through, with a timestamp.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel orders messages from silent to debug.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level name to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "silent", "quiet":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "info", "":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Format selects how lines are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" (or empty) and "json".
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q (want text or json)", name)
}

// Logger provides leveled logging to the console and an optional file
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	format  Format
	console io.Writer
	errs    io.Writer
	file    *os.File
	now     func() time.Time
}

// NewLogger creates a text logger on stdout/stderr, also writing to
// logFile when it is not empty.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithFormat(level, logFile, FormatText)
}

// NewLoggerWithFormat is NewLogger with a choice of line format.
func NewLoggerWithFormat(level LogLevel, logFile string, format Format) (*Logger, error) {
	if format == "" {
		format = FormatText
	}
	l := &Logger{
		level:   level,
		format:  format,
		console: os.Stdout,
		errs:    os.Stderr,
		now:     time.Now,
	}
	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("log file %s: %w", logFile, err)
		}
		l.file = file
	}
	return l, nil
}

// NewWriterLogger logs every message at or below level to w. Contexts with
// the debug flag set and no logger of their own use one on stderr.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:   level,
		format:  FormatText,
		console: w,
		errs:    w,
		now:     time.Now,
	}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Error, Info, Verbose and Debug format their arguments like fmt.Printf.

func (l *Logger) Error(format string, v ...any) { l.emit(LogLevelError, format, v) }
func (l *Logger) Info(format string, v ...any) { l.emit(LogLevelInfo, format, v) }
func (l *Logger) Verbose(format string, v ...any) { l.emit(LogLevelVerbose, format, v) }
func (l *Logger) Debug(format string, v ...any) { l.emit(LogLevelDebug, format, v) }

func (l *Logger) emit(level LogLevel, format string, v []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level < level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	now := l.now()

	if l.file != nil {
		fmt.Fprintln(l.file, l.render(level, msg, now, true))
	}
	switch {
	case level == LogLevelError:
		fmt.Fprintln(l.errs, l.render(level, msg, now, false))
	case l.level >= LogLevelVerbose:
		fmt.Fprintln(l.console, l.render(level, msg, now, false))
	}
}

// render formats one line. Text lines carry a timestamp only in the file;
// JSON lines always do.
func (l *Logger) render(level LogLevel, msg string, now time.Time, stamped bool) string {
	if l.format == FormatJSON {
		data, _ := json.Marshal(struct {
			Time    string `json:"time"`
			Level   string `json:"level"`
			Message string `json:"message"`
		}{now.Format(time.RFC3339Nano), level.String(), msg})
		return string(data)
	}
	line := strings.ToUpper(level.String()) + ": " + msg
	if stamped {
		line = now.Format("2006/01/02 15:04:05.000 ") + line
	}
	return line
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogOperation logs one master transaction. Failures are logged at info,
// successes only at verbose.
func (l *Logger) LogOperation(function, target string, success bool, rttMs float64, err error) {
	if success {
		l.Verbose("OK %s on %s (RTT: %.3fms)", function, target, rttMs)
		return
	}
	l.Info("FAILED %s on %s (RTT: %.3fms): %v", function, target, rttMs, err)
}

// LogStartup logs how a master or slave context was set up
func (l *Logger) LogStartup(role, channel string, unitID int, responseTimeout, byteTimeout string, configPath string) {
	l.Info("Starting mbstack %s on %s", role, channel)
	l.Verbose("  Unit ID: %d", unitID)
	l.Verbose("  Response timeout: %s", responseTimeout)
	l.Verbose("  Byte timeout: %s", byteTimeout)
	if configPath != "" {
		l.Verbose("  Config: %s", configPath)
	}
}

// LogFrame dumps one ADU at debug level. Sent frames print as [00 01 ...],
// received frames as <00><01>...
func (l *Logger) LogFrame(sent bool, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	var b strings.Builder
	if sent {
		b.WriteByte('[')
		for i, c := range data {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02X", c)
		}
		b.WriteByte(']')
	} else {
		for _, c := range data {
			fmt.Fprintf(&b, "<%02X>", c)
		}
	}
	l.Debug("%s", b.String())
}
