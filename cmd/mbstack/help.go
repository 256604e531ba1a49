package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// parseUint16Flag accepts decimal or 0x-prefixed hex.
func parseUint16Flag(name, val string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(val), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: want 0-65535 or 0x0000-0xFFFF", name, val)
	}
	return uint16(v), nil
}
