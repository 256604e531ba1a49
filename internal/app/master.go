package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tonylturner/mbstack/internal/config"
	friendly "github.com/tonylturner/mbstack/internal/errors"
	"github.com/tonylturner/mbstack/internal/master"
	"github.com/tonylturner/mbstack/internal/metrics"
	"github.com/tonylturner/mbstack/internal/pcap"
	"github.com/tonylturner/mbstack/internal/progress"
	"github.com/tonylturner/mbstack/internal/ui"
)

type MasterOptions struct {
	Channel     config.ChannelConfig
	ConfigPath  string
	Request     ui.RequestSpec
	Raw         []byte // unit id + PDU, sent instead of Request when set
	Repeat      int
	Interval    time.Duration
	LogLevel    string
	LogFile     string
	LogFormat   string
	MetricsCSV  string
	MetricsJSON string
	Record      string
	Out         io.Writer
	// Progress, when set with Repeat > 1, receives a progress bar and
	// the individual replies are not printed.
	Progress io.Writer
}

// RunMaster connects to a slave and performs the request Repeat times.
// A single request returns its error; repeated requests log failures,
// keep going and print a summary.
func RunMaster(ctx context.Context, opts MasterOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if err := opts.Channel.Validate(); err != nil {
		return err
	}
	if opts.Raw == nil {
		if err := opts.Request.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(opts.LogLevel, opts.LogFile, opts.LogFormat, opts.Channel.Debug)
	if err != nil {
		return err
	}
	defer logger.Close()

	ch, err := opts.Channel.Channel()
	if err != nil {
		return err
	}

	session := string(opts.Request.Op)
	if opts.Raw != nil {
		session = "raw"
	}
	sink := metrics.NewSink()
	mopts := []master.Option{
		master.WithLogger(logger),
		master.WithMetrics(sink),
		master.WithSession(session),
	}
	if opts.Record != "" {
		rec, err := pcap.CreateRecorder(opts.Record, pcap.RoleMaster)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("Close recording: %v", err)
			}
			fmt.Fprintf(out, "Recorded %d frames to %s\n", rec.Frames(), opts.Record)
		}()
		mopts = append(mopts, master.WithTap(rec))
	}

	m := master.New(ch, mopts...)
	if err := m.SetSlave(opts.Channel.UnitID); err != nil {
		return err
	}
	m.SetDebug(opts.Channel.Debug)

	logger.LogStartup("master", ch.String(), opts.Channel.UnitID,
		opts.Channel.ResponseTimeout.String(), opts.Channel.ByteTimeout.String(), opts.ConfigPath)

	if err := m.Connect(ctx); err != nil {
		return wrapConnectError(opts.Channel, err)
	}
	defer m.Close()

	repeat := opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	var bar *progress.Bar
	replies := out
	if opts.Progress != nil && repeat > 1 {
		bar = progress.NewBar(opts.Progress, repeat, session)
		replies = io.Discard
	}

	var runErr error
loop:
	for i := 0; i < repeat; i++ {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(opts.Interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
		err := runOnce(ctx, m, opts, replies)
		if bar != nil {
			bar.Step(err == nil)
		}
		if err == nil {
			continue
		}
		if repeat == 1 {
			runErr = err
			break
		}
		logger.Error("Request %d: %v", i+1, err)
	}
	if bar != nil {
		bar.Finish()
	}

	if err := writeMetrics(sink, opts.MetricsCSV, opts.MetricsJSON); err != nil {
		logger.Error("Failed to write metrics: %v", err)
	}
	if repeat > 1 {
		fmt.Fprintf(out, "\n%s", metrics.FormatSummary(sink.GetSummary()))
	}
	return runErr
}

func runOnce(ctx context.Context, m *master.Context, opts MasterOptions, out io.Writer) error {
	if opts.Raw != nil {
		if _, err := m.SendRawRequest(ctx, opts.Raw); err != nil {
			return friendly.WrapModbusError(err, "raw request")
		}
		adu, err := m.ReceiveConfirmation(ctx)
		if err != nil {
			return friendly.WrapModbusError(err, "raw request")
		}
		fmt.Fprint(out, pcap.FormatADU(adu, m.Channel().Kind().Mode()))
		return nil
	}
	res, err := ui.Execute(ctx, m, opts.Request)
	if err != nil {
		return friendly.WrapModbusError(err, opts.Request.Op.Title())
	}
	fmt.Fprintln(out, res.Render())
	return nil
}

func writeMetrics(sink *metrics.Sink, csvPath, jsonPath string) error {
	if csvPath == "" && jsonPath == "" {
		return nil
	}
	w, err := metrics.NewWriter(csvPath, jsonPath)
	if err != nil {
		return err
	}
	for _, m := range sink.GetMetrics() {
		if err := w.WriteMetric(m); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
