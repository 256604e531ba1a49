package metrics

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Writer streams metrics to a CSV file, a JSON array file, or both.
type Writer struct {
	csvFile  *os.File
	csv      *csv.Writer
	jsonFile *os.File
	jsonRows int
}

// NewWriter creates the files whose paths are not empty.
func NewWriter(csvPath, jsonPath string) (w *Writer, err error) {
	w = &Writer{}
	defer func() {
		if err != nil {
			w.closeFiles()
		}
	}()

	if csvPath != "" {
		if w.csvFile, err = os.Create(csvPath); err != nil {
			return nil, fmt.Errorf("metrics csv %s: %w", csvPath, err)
		}
		w.csv = csv.NewWriter(w.csvFile)
		if err = w.csv.Write(csvHeader()); err != nil {
			return nil, fmt.Errorf("metrics csv %s header: %w", csvPath, err)
		}
		w.csv.Flush()
	}
	if jsonPath != "" {
		if w.jsonFile, err = os.Create(jsonPath); err != nil {
			return nil, fmt.Errorf("metrics json %s: %w", jsonPath, err)
		}
		if _, err = w.jsonFile.WriteString("["); err != nil {
			return nil, fmt.Errorf("metrics json %s: %w", jsonPath, err)
		}
	}
	return w, nil
}

// WriteMetric appends m to every open output.
func (w *Writer) WriteMetric(m Metric) error {
	if w.csv != nil {
		if err := w.csv.Write(csvRecord(m)); err != nil {
			return fmt.Errorf("csv row: %w", err)
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return fmt.Errorf("flush CSV: %w", err)
		}
	}
	if w.jsonFile != nil {
		data, err := json.MarshalIndent(m, "  ", "  ")
		if err != nil {
			return fmt.Errorf("encode metric: %w", err)
		}
		sep := "\n  "
		if w.jsonRows > 0 {
			sep = ",\n  "
		}
		if _, err := w.jsonFile.WriteString(sep + string(data)); err != nil {
			return fmt.Errorf("json row: %w", err)
		}
		w.jsonRows++
	}
	return nil
}

// Close terminates the JSON array and closes both files.
func (w *Writer) Close() error {
	var errs []error
	if w.csv != nil {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.jsonFile != nil {
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.closeFiles(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close metrics writer: %w", err)
	}
	return nil
}

func (w *Writer) closeFiles() error {
	var errs []error
	for _, f := range []*os.File{w.csvFile, w.jsonFile} {
		if f != nil {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	w.csvFile, w.jsonFile, w.csv = nil, nil, nil
	return errors.Join(errs...)
}

func percent(part, total int) float64 {
	return 100 * float64(part) / float64(total)
}

// FormatSummary renders s for the terminal.
func FormatSummary(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Operations: %d\n", s.TotalOperations)
	if s.TotalOperations == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Successful: %d (%.1f%%)\n", s.SuccessfulOps, percent(s.SuccessfulOps, s.TotalOperations))
	fmt.Fprintf(&b, "Failed: %d (%.1f%%)\n", s.FailedOps, percent(s.FailedOps, s.TotalOperations))

	for _, c := range []struct {
		label string
		n     int
	}{
		{"Timeouts", s.TimeoutCount},
		{"Exceptions", s.ExceptionCount},
		{"Malformed Replies", s.FormatErrors},
		{"Connection Failures", s.ConnectionFailures},
	} {
		if c.n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", c.label, c.n)
		}
	}

	if s.SuccessfulOps > 0 {
		b.WriteString("\nRTT (ms):\n")
		fmt.Fprintf(&b, "  min %.3f  avg %.3f  max %.3f\n", s.MinRTT, s.AvgRTT, s.MaxRTT)
		if s.P50RTT > 0 || s.P99RTT > 0 {
			fmt.Fprintf(&b, "  p50 %.3f  p90 %.3f  p95 %.3f  p99 %.3f\n", s.P50RTT, s.P90RTT, s.P95RTT, s.P99RTT)
		}
		if len(s.RTTBuckets) > 0 {
			b.WriteString("  buckets")
			for _, k := range bucketOrder {
				fmt.Fprintf(&b, " %s=%d", bucketLabels[k], s.RTTBuckets[k])
			}
			b.WriteString("\n")
		}
		if s.AvgJitter > 0 {
			fmt.Fprintf(&b, "  jitter avg %.3f\n", s.AvgJitter)
		}
	}

	if len(s.RTTByFunction) > 0 {
		b.WriteString("\nPer function:\n")
		names := make([]string, 0, len(s.RTTByFunction))
		for fn := range s.RTTByFunction {
			names = append(names, fn)
		}
		sort.Strings(names)
		for _, fn := range names {
			st := s.RTTByFunction[fn]
			fmt.Fprintf(&b, "  %-30s %5d ops %5d ok %5d failed", fn, st.Count, st.Success, st.Failed)
			if st.Success > 0 && st.AvgRTT > 0 {
				fmt.Fprintf(&b, "  rtt %.3f/%.3f/%.3f", st.MinRTT, st.AvgRTT, st.MaxRTT)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
