package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
)

type pcapFlags struct {
	port  int
	dump  bool
	hex   bool
	limit int
}

func newPcapCmd() *cobra.Command {
	flags := &pcapFlags{}

	cmd := &cobra.Command{
		Use:   "pcap <file|dir>",
		Short: "Summarize Modbus traffic in capture files",
		Long: `Summarize Modbus traffic in a pcap or pcapng file, or in every capture in a
directory: request and response counts, function codes, exceptions, units
and request latency. Modbus/TCP streams are reassembled; RTU frames are
recognized in UDP datagrams (as written by --record on an RTU context).`,
		Example: `  mbstack pcap session.pcap
  mbstack pcap captures/ --dump --hex --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<file|dir>")
			}
			if flags.port < 1 || flags.port > 65535 {
				return fmt.Errorf("--port %d outside [1, 65535]", flags.port)
			}
			return app.RunPcap(app.PcapOptions{
				Path:  args[0],
				Port:  uint16(flags.port),
				Dump:  flags.dump,
				Hex:   flags.hex,
				Limit: flags.limit,
				Out:   cmd.OutOrStdout(),
			})
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&flags.port, "port", 502, "Modbus server port in the capture")
	fs.BoolVar(&flags.dump, "dump", false, "List every frame")
	fs.BoolVar(&flags.hex, "hex", false, "With --dump, show each frame's bytes")
	fs.IntVar(&flags.limit, "limit", 0, "With --dump, frames to list per file (0 for all)")
	return cmd
}
