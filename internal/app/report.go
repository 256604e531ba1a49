package app

import (
	"fmt"
	"io"
	"os"

	"github.com/tonylturner/mbstack/internal/metrics"
)

// ReportOptions selects the metrics files to summarize.
type ReportOptions struct {
	Paths   []string
	Session string // only rows of this session when set
	Out     io.Writer
}

// RunMetricsReport reads metrics CSV files written by a master run and
// prints one summary over all of them.
func RunMetricsReport(opts ReportOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if len(opts.Paths) == 0 {
		return fmt.Errorf("no metrics files given")
	}

	var all []metrics.Metric
	for _, path := range opts.Paths {
		ms, err := metrics.ReadMetricsCSV(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, m := range ms {
			if opts.Session == "" || m.Session == opts.Session {
				all = append(all, m)
			}
		}
	}
	if len(all) == 0 {
		return fmt.Errorf("no rows for session %q", opts.Session)
	}

	first, last := all[0].Timestamp, all[0].Timestamp
	for _, m := range all[1:] {
		if m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	fmt.Fprintf(out, "Files:  %d\n", len(opts.Paths))
	if !first.IsZero() {
		fmt.Fprintf(out, "Window: %s .. %s (%s)\n", first.Format("2006-01-02 15:04:05"), last.Format("15:04:05"), last.Sub(first))
	}
	fmt.Fprintf(out, "\n%s", metrics.FormatSummary(metrics.Summarize(all)))
	return nil
}
