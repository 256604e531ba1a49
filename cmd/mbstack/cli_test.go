package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/config"
	"github.com/tonylturner/mbstack/internal/ui"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRequiredArgsErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "pcap missing path",
			args:    []string{"pcap"},
			wantErr: "required flag <file|dir> not set",
		},
		{
			name:    "write-register missing values",
			args:    []string{"master", "write-register", "--address", "1"},
			wantErr: `required flag(s) "values" not set`,
		},
		{
			name:    "frame encode missing pdu",
			args:    []string{"frame", "encode"},
			wantErr: "accepts 1 arg(s)",
		},
		{
			name:    "metrics missing file",
			args:    []string{"metrics"},
			wantErr: "requires at least 1 arg(s)",
		},
		{
			name:    "watch bad table",
			args:    []string{"watch", "--table", "flags"},
			wantErr: "flags",
		},
		{
			name:    "master bad address",
			args:    []string{"master", "read-holding", "--address", "70000"},
			wantErr: "invalid --address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "mbstack version dev") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, name := range []string{"master", "slave", "watch", "wizard", "frame", "pcap", "metrics", "config"} {
		if !strings.Contains(out, name) {
			t.Errorf("help missing %q: %s", name, out)
		}
	}
	if strings.Contains(out, "completion") {
		t.Errorf("help should hide completion: %s", out)
	}
}

func TestPcapHelpDoesNotRun(t *testing.T) {
	out, err := execute(t, "pcap", "help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out, "Summarize Modbus traffic") {
		t.Fatalf("expected help output, got: %s", out)
	}
}

func TestFrameEncode(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"frame", "encode", "03 00 6B 00 03", "--unit", "17", "--tid", "1"}, "00 01 00 00 00 06 11 03 00 6B 00 03"},
		{[]string{"frame", "encode", "03006B0003", "--rtu", "--unit", "17"}, "11 03 00 6B 00 03 76 87"},
	}
	for _, tt := range tests {
		out, err := execute(t, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if strings.TrimSpace(out) != tt.want {
			t.Errorf("%v: got %q want %q", tt.args, out, tt.want)
		}
	}

	if _, err := execute(t, "frame", "encode", "03", "--unit", "300"); err == nil {
		t.Fatalf("expected unit range error")
	}
}

func TestFrameDecode(t *testing.T) {
	out, err := execute(t, "frame", "decode", "00 01 00 00 00 06 11 03 00 6B 00 03")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.Contains(out, "MBAP:") {
		t.Fatalf("expected MBAP dump, got: %s", out)
	}

	if _, err := execute(t, "frame", "decode", "11 03 00 6B 00 03 00 00", "--rtu"); err == nil {
		t.Fatalf("expected CRC error")
	}
}

func TestConfigCommands(t *testing.T) {
	out, err := execute(t, "config", "print-default")
	if err != nil {
		t.Fatalf("print-default failed: %v", err)
	}
	if !strings.Contains(out, "master:") || !strings.Contains(out, "mapping:") {
		t.Fatalf("unexpected default config: %s", out)
	}

	path := filepath.Join(t.TempDir(), "mbstack.yaml")
	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
	if _, err := execute(t, "config", "init", path, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}

	out, err = execute(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "OK") || !strings.Contains(out, "127.0.0.1:1502") {
		t.Fatalf("unexpected validate output: %s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("master:\n  transport: carrier-pigeon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "validate", bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

// resolveChannel parses args into a bare command carrying the channel flags.
func resolveChannel(t *testing.T, cfgPath string, args ...string) config.ChannelConfig {
	t.Helper()
	flags := &channelFlags{}
	var got config.ChannelConfig
	cmd := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, err := flags.masterChannel(cmd)
			got = ch
			return err
		},
	}
	registerChannelFlags(cmd, flags, false)
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("resolve %v: %v", args, err)
	}
	return got
}

func TestChannelFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := "master:\n  transport: tcp\n  host: 10.0.0.1\n  port: 1600\n  unit_id: 9\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	ch := resolveChannel(t, path)
	if ch.Host != "10.0.0.1" || ch.Port != 1600 || ch.UnitID != 9 {
		t.Fatalf("config file not applied: %+v", ch)
	}

	t.Setenv(config.EnvHost, "10.0.0.2")
	ch = resolveChannel(t, path)
	if ch.Host != "10.0.0.2" || ch.Port != 1600 {
		t.Fatalf("environment should override the file: %+v", ch)
	}

	ch = resolveChannel(t, path, "--host", "10.0.0.3", "--port", "1700")
	if ch.Host != "10.0.0.3" || ch.Port != 1700 {
		t.Fatalf("flags should override the environment: %+v", ch)
	}
}

func TestChannelFlagsSwitchTransport(t *testing.T) {
	ch := resolveChannel(t, "", "--transport", "rtu", "--device", "/dev/ttyS1", "--baud", "9600", "--parity", "e")
	if ch.Transport != config.TransportRTU {
		t.Fatalf("transport: got %s", ch.Transport)
	}
	if ch.Device != "/dev/ttyS1" || ch.Baud != 9600 || ch.Parity != "E" {
		t.Fatalf("serial settings: %+v", ch)
	}

	ch = resolveChannel(t, "", "--transport", "tcp-pi", "--host", "::1", "--port", "1502")
	if ch.Node != "::1" || ch.Service != "1502" {
		t.Fatalf("tcp-pi node/service: %+v", ch)
	}
}

func TestRequestFlagsSpec(t *testing.T) {
	req := &requestFlags{address: "0x10", andMask: "0xF2", orMask: "37"}
	spec, err := req.spec(ui.OpMaskWrite)
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if spec.Address != 0x10 || spec.AndMask != 0xF2 || spec.OrMask != 37 {
		t.Fatalf("unexpected spec: %+v", spec)
	}

	req = &requestFlags{address: "0", values: "1,2,3", readAddress: "0x20", readCount: 2}
	spec, err = req.spec(ui.OpWriteRead)
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if spec.ReadAddress != 0x20 || len(spec.Values) != 3 {
		t.Fatalf("unexpected spec: %+v", spec)
	}

	req = &requestFlags{address: "0", count: 0}
	if _, err := req.spec(ui.OpReadHolding); err == nil {
		t.Fatalf("expected count validation error")
	}
}

func TestWizardPrintsCommand(t *testing.T) {
	orig := runWizard
	defer func() { runWizard = orig }()

	var gotAccessible bool
	runWizard = func(ch config.ChannelConfig, accessible bool) (*ui.WizardAnswers, ui.CommandSpec, error) {
		gotAccessible = accessible
		a := ui.NewWizardAnswers(ch)
		a.Op = string(ui.OpReadInput)
		a.Count = "4"
		cmd, err := a.Command()
		return a, cmd, err
	}

	out, err := execute(t, "wizard", "--accessible", "--host", "10.0.0.9")
	if err != nil {
		t.Fatalf("wizard failed: %v", err)
	}
	if !gotAccessible {
		t.Fatalf("--accessible not passed through")
	}
	if !strings.Contains(out, "mbstack master read-input") || !strings.Contains(out, "--host 10.0.0.9") {
		t.Fatalf("unexpected command: %s", out)
	}
}
