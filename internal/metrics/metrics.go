package metrics

// Per-transaction records for master sessions, with aggregation into a
// Summary.

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// OperationType groups function codes by what they do to the data model.
type OperationType string

const (
	OperationRead      OperationType = "READ"
	OperationWrite     OperationType = "WRITE"
	OperationReadWrite OperationType = "READ_WRITE"
	OperationDiag      OperationType = "DIAGNOSTIC"
	OperationRaw       OperationType = "RAW"
)

// OperationFor classifies a function code.
func OperationFor(fc modbus.FunctionCode) OperationType {
	switch {
	case fc == modbus.FcReadWriteMultipleRegisters:
		return OperationReadWrite
	case fc == modbus.FcReportSlaveID:
		return OperationDiag
	case fc.IsRead():
		return OperationRead
	case fc.IsWrite():
		return OperationWrite
	default:
		return OperationRaw
	}
}

// Transaction outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeException = "exception"
	OutcomeTimeout   = "timeout"
	OutcomeFormat    = "format"
	OutcomeTransport = "transport"
	OutcomeInvalid   = "invalid"
)

// OutcomeFor maps a master call result onto an outcome string.
func OutcomeFor(err error) string {
	var exc *modbus.ExceptionError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &exc):
		return OutcomeException
	case errors.Is(err, modbus.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, modbus.ErrFormat):
		return OutcomeFormat
	case errors.Is(err, modbus.ErrTransport):
		return OutcomeTransport
	default:
		return OutcomeInvalid
	}
}

// Metric is one master transaction. The json tags name the JSON export
// fields; CSV columns are listed in csv.go.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Session   string        `json:"session,omitempty"`
	Transport string        `json:"transport"`
	Target    string        `json:"target"`
	Operation OperationType `json:"operation"`
	Function  string        `json:"function"`
	UnitID    uint8         `json:"unit_id"`
	Address   uint16        `json:"address"`
	Quantity  int           `json:"quantity"`
	Success   bool          `json:"success"`
	RTTMs     float64       `json:"rtt_ms"`
	JitterMs  float64       `json:"jitter_ms,omitempty"`
	Exception uint8         `json:"exception,omitempty"`
	Error     string        `json:"error,omitempty"`
	Outcome   string        `json:"outcome"`
}

// Sink records transactions for one master. Safe for concurrent use.
type Sink struct {
	mu      sync.RWMutex
	rows    []Metric
	lastRTT float64
}

// Summary aggregates a set of metrics. RTT fields are milliseconds over
// successful transactions.
type Summary struct {
	TotalOperations    int
	SuccessfulOps      int
	FailedOps          int
	TimeoutCount       int
	ExceptionCount     int
	FormatErrors       int
	ConnectionFailures int

	MinRTT, AvgRTT, MaxRTT         float64
	P50RTT, P90RTT, P95RTT, P99RTT float64
	AvgJitter                      float64

	RTTBuckets     map[string]int
	RTTByOperation map[OperationType]*OperationStats
	RTTByFunction  map[string]*OperationStats
}

// OperationStats is the per operation or per function slice of a Summary.
type OperationStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

// rttRange tracks min, max and mean of a stream of samples.
type rttRange struct {
	min, max, sum float64
	n             int
}

func (r *rttRange) observe(v float64) {
	if r.n == 0 || v < r.min {
		r.min = v
	}
	if v > r.max {
		r.max = v
	}
	r.sum += v
	r.n++
}

func (r *rttRange) mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

func (o *OperationStats) add(m Metric) {
	o.Count++
	if !m.Success {
		o.Failed++
		return
	}
	o.Success++
	if m.RTTMs <= 0 {
		return
	}
	if o.MinRTT == 0 || m.RTTMs < o.MinRTT {
		o.MinRTT = m.RTTMs
	}
	o.MaxRTT = math.Max(o.MaxRTT, m.RTTMs)
	o.SumRTT += m.RTTMs
	o.AvgRTT = o.SumRTT / float64(o.Success)
}

func NewSink() *Sink {
	return &Sink{}
}

// Record appends m. Jitter is derived from the previous successful RTT
// when the caller leaves it unset.
func (s *Sink) Record(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Success && m.RTTMs > 0 {
		if m.JitterMs == 0 && s.lastRTT > 0 {
			m.JitterMs = math.Abs(m.RTTMs - s.lastRTT)
		}
		s.lastRTT = m.RTTMs
	}
	s.rows = append(s.rows, m)
}

// RelabelSession overwrites the session of every recorded metric. An
// empty label is ignored.
func (s *Sink) RelabelSession(label string) {
	if label == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		s.rows[i].Session = label
	}
}

// GetMetrics returns a copy of the recorded metrics.
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Metric(nil), s.rows...)
}

// GetSummary aggregates everything recorded so far.
func (s *Sink) GetSummary() *Summary {
	return Summarize(s.GetMetrics())
}

// Summarize aggregates ms as recorded, jitter included.
func Summarize(ms []Metric) *Summary {
	sum := &Summary{
		RTTBuckets:     make(map[string]int),
		RTTByOperation: make(map[OperationType]*OperationStats),
		RTTByFunction:  make(map[string]*OperationStats),
	}
	var rtt, jitter rttRange
	var samples []float64

	for _, m := range ms {
		sum.TotalOperations++
		sum.count(m)
		if m.JitterMs > 0 {
			jitter.observe(m.JitterMs)
		}
		if m.Success && m.RTTMs > 0 {
			rtt.observe(m.RTTMs)
			samples = append(samples, m.RTTMs)
			sum.RTTBuckets[bucketFor(m.RTTMs)]++
		}
		statsFor(sum.RTTByOperation, m.Operation).add(m)
		statsFor(sum.RTTByFunction, m.Function).add(m)
	}

	sum.MinRTT, sum.AvgRTT, sum.MaxRTT = rtt.min, rtt.mean(), rtt.max
	sum.AvgJitter = jitter.mean()
	sort.Float64s(samples)
	sum.P50RTT = percentile(samples, 0.50)
	sum.P90RTT = percentile(samples, 0.90)
	sum.P95RTT = percentile(samples, 0.95)
	sum.P99RTT = percentile(samples, 0.99)
	return sum
}

func (sum *Summary) count(m Metric) {
	if m.Success {
		sum.SuccessfulOps++
		return
	}
	sum.FailedOps++
	switch m.Outcome {
	case OutcomeTimeout:
		sum.TimeoutCount++
	case OutcomeException:
		sum.ExceptionCount++
	case OutcomeFormat:
		sum.FormatErrors++
	case OutcomeTransport:
		sum.ConnectionFailures++
	}
}

func statsFor[K comparable](m map[K]*OperationStats, k K) *OperationStats {
	st, ok := m[k]
	if !ok {
		st = &OperationStats{}
		m[k] = st
	}
	return st
}

// RTT histogram buckets, by upper bound in milliseconds.
var (
	bucketOrder  = []string{"lt_1ms", "1_5ms", "5_10ms", "10_50ms", "50_100ms", "100_500ms", "gt_500ms"}
	bucketBounds = []float64{1, 5, 10, 50, 100, 500}
	bucketLabels = map[string]string{
		"lt_1ms": "<1ms", "1_5ms": "1-5ms", "5_10ms": "5-10ms", "10_50ms": "10-50ms",
		"50_100ms": "50-100ms", "100_500ms": "100-500ms", "gt_500ms": ">500ms",
	}
)

func bucketFor(ms float64) string {
	i := sort.SearchFloat64s(bucketBounds, ms)
	if i < len(bucketBounds) && bucketBounds[i] == ms {
		i++
	}
	return bucketOrder[i]
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(n))) - 1
	return sorted[max(0, min(rank, n-1))]
}
