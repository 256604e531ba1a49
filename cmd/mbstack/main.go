package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mbstack",
		Short: "Modbus TCP and RTU master/slave toolkit",
		Long: `mbstack talks Modbus over TCP (IPv4 or any address family) and RTU
serial lines. It can act as a master that sends single requests, as a
slave serving a configurable data mapping, and it can encode, decode and
summarize Modbus frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMasterCmd())
	rootCmd.AddCommand(newSlaveCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newWizardCmd())
	rootCmd.AddCommand(newFrameCmd())
	rootCmd.AddCommand(newPcapCmd())
	rootCmd.AddCommand(newMetricsCmd())
	rootCmd.AddCommand(newConfigCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			desc := cmd.Long
			if desc == "" {
				desc = cmd.Short
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s", desc, cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(out, "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden && subCmd.Name() != "help" && subCmd.Name() != "completion" {
				fmt.Fprintf(out, "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(out, "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
