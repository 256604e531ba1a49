package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// column maps one CSV column onto a Metric field. get renders the field;
// set parses it back and ignores malformed cells.
type column struct {
	name string
	get  func(Metric) string
	set  func(*Metric, string)
}

func parseUint(s string, bits int) uint64 {
	v, _ := strconv.ParseUint(s, 0, bits)
	return v
}

// optionalFloat leaves the cell empty for zero.
func optionalFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

var columns = []column{
	{"timestamp",
		func(m Metric) string { return m.Timestamp.Format(time.RFC3339Nano) },
		func(m *Metric, s string) { m.Timestamp, _ = time.Parse(time.RFC3339Nano, s) }},
	{"session",
		func(m Metric) string { return m.Session },
		func(m *Metric, s string) { m.Session = s }},
	{"transport",
		func(m Metric) string { return m.Transport },
		func(m *Metric, s string) { m.Transport = s }},
	{"target",
		func(m Metric) string { return m.Target },
		func(m *Metric, s string) { m.Target = s }},
	{"operation",
		func(m Metric) string { return string(m.Operation) },
		func(m *Metric, s string) { m.Operation = OperationType(s) }},
	{"function",
		func(m Metric) string { return m.Function },
		func(m *Metric, s string) { m.Function = s }},
	{"unit_id",
		func(m Metric) string { return strconv.Itoa(int(m.UnitID)) },
		func(m *Metric, s string) { m.UnitID = uint8(parseUint(s, 8)) }},
	{"address",
		func(m Metric) string { return strconv.Itoa(int(m.Address)) },
		func(m *Metric, s string) { m.Address = uint16(parseUint(s, 16)) }},
	{"quantity",
		func(m Metric) string { return strconv.Itoa(m.Quantity) },
		func(m *Metric, s string) { m.Quantity = int(parseUint(s, 32)) }},
	{"success",
		func(m Metric) string { return strconv.FormatBool(m.Success) },
		func(m *Metric, s string) { m.Success, _ = strconv.ParseBool(s) }},
	{"rtt_ms",
		func(m Metric) string { return optionalFloat(m.RTTMs) },
		func(m *Metric, s string) { m.RTTMs, _ = strconv.ParseFloat(s, 64) }},
	{"jitter_ms",
		func(m Metric) string { return optionalFloat(m.JitterMs) },
		func(m *Metric, s string) { m.JitterMs, _ = strconv.ParseFloat(s, 64) }},
	{"exception",
		func(m Metric) string {
			if m.Exception == 0 {
				return ""
			}
			return fmt.Sprintf("0x%02X", m.Exception)
		},
		func(m *Metric, s string) { m.Exception = uint8(parseUint(s, 8)) }},
	{"error",
		func(m Metric) string { return m.Error },
		func(m *Metric, s string) { m.Error = s }},
	{"outcome",
		func(m Metric) string { return m.Outcome },
		func(m *Metric, s string) { m.Outcome = s }},
}

func csvHeader() []string {
	h := make([]string, len(columns))
	for i, c := range columns {
		h[i] = c.name
	}
	return h
}

func csvRecord(m Metric) []string {
	rec := make([]string, len(columns))
	for i, c := range columns {
		rec[i] = c.get(m)
	}
	return rec
}

// requiredColumns must be present for a file to be read back.
var requiredColumns = []string{"timestamp", "function", "success", "rtt_ms"}

// ReadMetricsCSV reads a file written by Writer. Columns may appear in any
// order; unknown columns are ignored.
func ReadMetricsCSV(path string) ([]Metric, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics CSV: %w", err)
	}
	defer file.Close()
	return readMetricsCSV(file)
}

func readMetricsCSV(r io.Reader) ([]Metric, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := pos[name]; !ok {
			return nil, fmt.Errorf("CSV missing required column: %s", name)
		}
	}

	var out []Metric
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", row, err)
		}
		var m Metric
		for _, c := range columns {
			if i, ok := pos[c.name]; ok && i < len(record) && record[i] != "" {
				c.set(&m, record[i])
			}
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data rows in CSV file")
	}
	return out, nil
}
