package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
	"github.com/tonylturner/mbstack/internal/mapping"
)

type watchFlags struct {
	channel  channelFlags
	table    string
	address  string
	count    int
	interval time.Duration
}

func newWatchCmd() *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a block of a slave and show changes live",
		Long: `Poll a block of coils, discrete inputs, holding or input registers and show
it as a live table. Values that changed since the previous poll are
highlighted.

Keys: space pauses, + and - change the interval, x toggles hex, r resets
the change counters, c copies the values to the clipboard, q quits.`,
		Example: `  mbstack watch --host 10.0.0.5 --table holding --address 0 --count 16
  mbstack watch --transport rtu --device /dev/ttyUSB0 --unit 3 --table coils --count 32 --interval 250ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := mapping.ParseTable(flags.table)
			if err != nil {
				return err
			}
			addr, err := parseUint16Flag("address", flags.address)
			if err != nil {
				return err
			}
			ch, err := flags.channel.masterChannel(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return app.RunWatch(ctx, app.WatchOptions{
				Channel:  ch,
				Table:    table,
				Address:  addr,
				Count:    flags.count,
				Interval: flags.interval,
			})
		},
	}

	registerChannelFlags(cmd, &flags.channel, false)
	fs := cmd.Flags()
	fs.StringVar(&flags.table, "table", "holding", "Table: coils|discrete|holding|input")
	fs.StringVar(&flags.address, "address", "0", "Start address")
	fs.IntVar(&flags.count, "count", 10, "Number of bits or registers")
	fs.DurationVar(&flags.interval, "interval", time.Second, "Poll interval")
	return cmd
}
