package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/tonylturner/mbstack/internal/config"
	"github.com/tonylturner/mbstack/internal/logging"
	"github.com/tonylturner/mbstack/internal/pcap"
	"github.com/tonylturner/mbstack/internal/slave"
	"github.com/tonylturner/mbstack/internal/transport"
)

type SlaveOptions struct {
	Config     *config.Config
	ConfigPath string
	// Quirks enables the default quirk set when the config lists none.
	Quirks bool
	Out    io.Writer
	// Ready is called once the slave is listening (TCP) or the serial port
	// is open (RTU, with a nil address).
	Ready func(addr net.Addr)
}

// RunSlave serves the configured mapping until ctx is cancelled.
func RunSlave(ctx context.Context, opts SlaveOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	sc := cfg.Slave

	logger, err := newLogger(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Format, sc.Debug)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := cfg.Mapping.Build()
	if err != nil {
		return err
	}
	handler := slave.NewHandler(store, logger)
	if sc.Identity != "" {
		handler.SetIdentity(sc.Identity)
	}

	quirks := cfg.Quirks
	if opts.Quirks && len(quirks) == 0 {
		quirks = slave.DefaultQuirks()
	}
	sopts := []slave.Option{
		slave.WithLogger(logger),
		slave.WithDebug(sc.Debug),
		slave.WithSlaveID(sc.UnitID),
	}
	if len(quirks) > 0 {
		sopts = append(sopts, slave.WithQuirks(quirks))
		for _, q := range quirks {
			logger.Verbose("  Quirk: %s", q)
		}
	}

	var rec *pcap.Recorder
	if sc.Record != "" {
		rec, err = pcap.CreateRecorder(sc.Record, pcap.RoleSlave)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("Close recording: %v", err)
			}
			fmt.Fprintf(out, "Recorded %d frames to %s\n", rec.Frames(), sc.Record)
		}()
		sopts = append(sopts, slave.WithTap(rec))
	}

	ch, err := sc.Channel()
	if err != nil {
		return err
	}
	logger.LogStartup("slave", ch.String(), sc.UnitID,
		sc.ResponseTimeout.String(), sc.ByteTimeout.String(), opts.ConfigPath)
	logger.Verbose("  Mapping: %s", handler)

	if tcp, ok := ch.(*transport.TCPChannel); ok {
		err = serveTCP(ctx, tcp, handler, sc, logger, sopts, opts.Ready)
	} else {
		err = serveRTU(ctx, ch, handler, sc, logger, sopts, opts.Ready)
	}

	stats := handler.Stats()
	fmt.Fprintf(out, "Served %d requests (%d reads, %d writes, %d exceptions, %d discarded, %d filtered)\n",
		stats.TotalRequests, stats.ReadRequests, stats.WriteRequests, stats.Exceptions, stats.Discarded, stats.Filtered)
	return err
}

func serveTCP(ctx context.Context, ch *transport.TCPChannel, h *slave.Handler, sc config.SlaveConfig, logger *logging.Logger, sopts []slave.Option, ready func(net.Addr)) error {
	srv := slave.NewServer(ch, h, sc.Backlog, logger, sopts...)
	if err := srv.Start(); err != nil {
		return wrapConnectError(sc.ChannelConfig, err)
	}
	logger.Info("Slave listening on %s (backlog %d)", srv.Addr(), sc.Backlog)
	if ready != nil {
		ready(srv.Addr())
	}
	<-ctx.Done()
	logger.Info("Shutting down slave...")
	return srv.Stop()
}

func serveRTU(ctx context.Context, ch transport.Channel, h *slave.Handler, sc config.SlaveConfig, logger *logging.Logger, sopts []slave.Option, ready func(net.Addr)) error {
	if err := ch.Connect(ctx); err != nil {
		return wrapConnectError(sc.ChannelConfig, err)
	}
	s := slave.New(ch, h, sopts...)
	defer s.Close()
	logger.Info("Slave serving unit %d on %s", s.Slave(), ch)
	if ready != nil {
		ready(nil)
	}
	err := s.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("Shutting down slave...")
		return nil
	}
	return err
}
