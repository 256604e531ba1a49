package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tonylturner/mbstack/internal/config"
)

// CommandSpec represents a CLI invocation derived from a wizard run.
type CommandSpec struct {
	Args []string
}

// BuildCommand builds the "mbstack master" command that performs req on
// the channel described by ch.
func BuildCommand(ch config.ChannelConfig, req RequestSpec) (CommandSpec, error) {
	if err := req.Validate(); err != nil {
		return CommandSpec{}, err
	}
	args := []string{"mbstack", "master"}
	args = append(args, req.Args()...)
	args = append(args, ChannelFlags(ch)...)
	return CommandSpec{Args: args}, nil
}

// ChannelFlags renders the connection flags of ch, leaving out values
// equal to the transport's defaults.
func ChannelFlags(ch config.ChannelConfig) []string {
	def := config.DefaultChannelConfig(ch.Transport)
	args := []string{"--transport", string(ch.Transport)}
	switch ch.Transport {
	case config.TransportTCP:
		addStringFlag(&args, "--host", ch.Host, def.Host)
		addIntFlag(&args, "--port", ch.Port, def.Port)
	case config.TransportTCPPI:
		addStringFlag(&args, "--host", ch.Node, def.Node)
		addStringFlag(&args, "--port", ch.Service, def.Service)
	case config.TransportRTU:
		addStringFlag(&args, "--device", ch.Device, def.Device)
		addIntFlag(&args, "--baud", ch.Baud, def.Baud)
		addStringFlag(&args, "--parity", ch.Parity, def.Parity)
		addIntFlag(&args, "--data-bits", ch.DataBits, def.DataBits)
		addIntFlag(&args, "--stop-bits", ch.StopBits, def.StopBits)
	}
	addIntFlag(&args, "--unit", ch.UnitID, -1)
	if ch.ResponseTimeout != def.ResponseTimeout {
		args = append(args, "--response-timeout", ch.ResponseTimeout.Duration().String())
	}
	if ch.ByteTimeout != def.ByteTimeout {
		args = append(args, "--byte-timeout", ch.ByteTimeout.Duration().String())
	}
	if ch.Debug {
		args = append(args, "--debug")
	}
	return args
}

func addStringFlag(args *[]string, flag, val, def string) {
	if val != "" && val != def {
		*args = append(*args, flag, val)
	}
}

func addIntFlag(args *[]string, flag string, val, def int) {
	if val != def {
		*args = append(*args, flag, strconv.Itoa(val))
	}
}

// FormatCommand joins args into a copy-pasteable shell line.
func FormatCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "\"\""
	}
	if strings.ContainsAny(arg, " \t") {
		escaped := strings.ReplaceAll(arg, "\"", "\\\"")
		return fmt.Sprintf("\"%s\"", escaped)
	}
	return arg
}
