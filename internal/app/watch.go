package app

import (
	"context"
	"time"

	"github.com/tonylturner/mbstack/internal/config"
	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/master"
	"github.com/tonylturner/mbstack/internal/tui"
)

type WatchOptions struct {
	Channel  config.ChannelConfig
	Table    mapping.Table
	Address  uint16
	Count    int
	Interval time.Duration
}

// RunWatch polls a block of the slave and shows it in the terminal UI.
// The master logs nothing so the screen stays clean.
func RunWatch(ctx context.Context, opts WatchOptions) error {
	if err := opts.Channel.Validate(); err != nil {
		return err
	}
	ch, err := opts.Channel.Channel()
	if err != nil {
		return err
	}
	m := master.New(ch)
	if err := m.SetSlave(opts.Channel.UnitID); err != nil {
		return err
	}
	if err := m.Connect(ctx); err != nil {
		return wrapConnectError(opts.Channel, err)
	}
	defer m.Close()

	return tui.Run(ctx, tui.WatchConfig{
		Target:   opts.Channel.Target(),
		Table:    opts.Table,
		Address:  opts.Address,
		Count:    opts.Count,
		Interval: opts.Interval,
		Poll:     tui.MasterPoller(m, opts.Table, opts.Address, opts.Count),
	})
}
