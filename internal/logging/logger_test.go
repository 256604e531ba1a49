package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// capture returns a logger whose console and error output land in separate
// buffers, with a fixed clock.
func capture(level LogLevel, format Format) (*Logger, *bytes.Buffer, *bytes.Buffer) {
	var out, errs bytes.Buffer
	l := NewWriterLogger(level, &out)
	l.errs = &errs
	l.format = format
	l.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	return l, &out, &errs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"silent", LogLevelSilent},
		{"QUIET", LogLevelSilent},
		{"error", LogLevelError},
		{"", LogLevelInfo},
		{"Verbose", LogLevelVerbose},
		{"debug", LogLevelDebug},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if tt.in != "" && tt.in != "QUIET" && !strings.EqualFold(got.String(), tt.in) {
			t.Errorf("%v.String() = %q", got, got.String())
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestConsoleRouting(t *testing.T) {
	tests := []struct {
		level    LogLevel
		wantOut  []string
		wantErrs bool
	}{
		{LogLevelSilent, nil, false},
		{LogLevelError, nil, true},
		{LogLevelInfo, nil, true},
		{LogLevelVerbose, []string{"INFO: i", "VERBOSE: v"}, true},
		{LogLevelDebug, []string{"INFO: i", "VERBOSE: v", "DEBUG: d"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			l, out, errs := capture(tt.level, FormatText)
			l.Error("e")
			l.Info("i")
			l.Verbose("v")
			l.Debug("d")

			var lines []string
			if s := strings.TrimSpace(out.String()); s != "" {
				lines = strings.Split(s, "\n")
			}
			if strings.Join(lines, "|") != strings.Join(tt.wantOut, "|") {
				t.Errorf("console = %q, want %q", lines, tt.wantOut)
			}
			if got := errs.String() == "ERROR: e\n"; got != tt.wantErrs {
				t.Errorf("stderr = %q", errs.String())
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	l, _, errs := capture(LogLevelInfo, FormatJSON)
	l.Error("bad frame %d", 7)

	var entry map[string]string
	if err := json.Unmarshal(errs.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %q: %v", errs.String(), err)
	}
	if entry["level"] != "error" || entry["message"] != "bad frame 7" {
		t.Errorf("entry = %v", entry)
	}
	if !strings.HasPrefix(entry["time"], "2024-03-01T12:30:00") {
		t.Errorf("time = %q", entry["time"])
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbstack.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.console, l.errs = &bytes.Buffer{}, &bytes.Buffer{}
	l.Info("listening")
	l.Verbose("hidden")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, "INFO: listening") || strings.Contains(got, "hidden") {
		t.Errorf("log file = %q", got)
	}
	if got[4] != '/' {
		t.Errorf("file lines should be timestamped: %q", got)
	}

	if _, err := NewLogger(LogLevelInfo, filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestSetLevel(t *testing.T) {
	l, out, _ := capture(LogLevelInfo, FormatText)
	l.Debug("before")
	l.SetLevel(LogLevelDebug)
	if l.GetLevel() != LogLevelDebug {
		t.Fatalf("GetLevel = %v", l.GetLevel())
	}
	l.Debug("after")
	if out.String() != "DEBUG: after\n" {
		t.Errorf("console = %q", out.String())
	}
}

func TestLogOperation(t *testing.T) {
	l, out, _ := capture(LogLevelVerbose, FormatText)
	l.LogOperation("Read Holding Registers", "127.0.0.1:1502", true, 1.25, nil)
	l.LogOperation("Write Single Coil", "/dev/ttyUSB0", false, 500, errors.New("timeout"))

	got := out.String()
	if !strings.Contains(got, "OK Read Holding Registers on 127.0.0.1:1502 (RTT: 1.250ms)") {
		t.Errorf("success line missing: %q", got)
	}
	if !strings.Contains(got, "FAILED Write Single Coil on /dev/ttyUSB0 (RTT: 500.000ms): timeout") {
		t.Errorf("failure line missing: %q", got)
	}
}

func TestLogStartup(t *testing.T) {
	l, out, _ := capture(LogLevelVerbose, FormatText)
	l.LogStartup("slave", "tcp 127.0.0.1:1502", 255, "500ms", "500ms", "mbstack.yaml")
	got := out.String()
	for _, want := range []string{"Starting mbstack slave on tcp 127.0.0.1:1502", "Unit ID: 255", "Config: mbstack.yaml"} {
		if !strings.Contains(got, want) {
			t.Errorf("startup missing %q: %q", want, got)
		}
	}
}

func TestLogFrame(t *testing.T) {
	l, out, _ := capture(LogLevelDebug, FormatText)
	frame := []byte{0x00, 0x01, 0xab}
	l.LogFrame(true, frame)
	l.LogFrame(false, frame)
	want := "DEBUG: [00 01 AB]\nDEBUG: <00><01><AB>\n"
	if out.String() != want {
		t.Errorf("frames = %q, want %q", out.String(), want)
	}

	l, out, _ = capture(LogLevelVerbose, FormatText)
	l.LogFrame(true, frame)
	if out.Len() != 0 {
		t.Errorf("frames below debug should be skipped: %q", out.String())
	}
}
