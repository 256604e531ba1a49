package master

// A master context keeps one request in flight. The tracker hands out
// transaction ids, remembers what is outstanding so a reply can be matched
// to its request, and keeps latency counters.

import (
	"fmt"
	"sync"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// Tracker correlates replies with outstanding requests by transaction id.
type Tracker struct {
	mu      sync.Mutex
	lastID  uint16
	limit   int
	pending map[uint16]*PendingRequest
	counts  TrackerStats
	latency time.Duration // summed over completed requests
}

// PendingRequest is a request that has been sent and not yet answered.
type PendingRequest struct {
	TransactionID uint16
	Function      modbus.FunctionCode
	SentAt        time.Time
}

// TrackerStats is a snapshot of a Tracker's counters.
type TrackerStats struct {
	Outstanding    int
	TotalSent      int64
	TotalCompleted int64
	TotalTimedOut  int64
	TotalMismatch  int64
	AvgLatencyUs   float64
}

// NewTracker allows limit requests in flight, or any number when limit is
// zero. Beginning a request on a full tracker abandons the oldest one and
// counts it as timed out.
func NewTracker(limit int) *Tracker {
	return &Tracker{limit: limit, pending: make(map[uint16]*PendingRequest)}
}

// Next returns the following transaction id, wrapping from 0xFFFF to 0.
func (t *Tracker) Next() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	return t.lastID
}

// Begin records that a request for fc went out under txID.
func (t *Tracker) Begin(txID uint16, fc modbus.FunctionCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.limit > 0 && len(t.pending) >= t.limit {
		t.dropOldest()
	}
	t.pending[txID] = &PendingRequest{TransactionID: txID, Function: fc, SentAt: time.Now()}
	t.counts.TotalSent++
}

// Complete matches a reply to its request and returns the round-trip
// time. A reply for an id that is not outstanding counts as a mismatch.
func (t *Tracker) Complete(txID uint16) (*PendingRequest, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req := t.take(txID)
	if req == nil {
		t.counts.TotalMismatch++
		return nil, 0, fmt.Errorf("unknown transaction ID: 0x%04X", txID)
	}
	rtt := time.Since(req.SentAt)
	t.counts.TotalCompleted++
	t.latency += rtt
	return req, rtt, nil
}

// Expire abandons txID after it failed to get a usable reply.
func (t *Tracker) Expire(txID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.take(txID) != nil {
		t.counts.TotalTimedOut++
	}
}

func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.counts
	s.Outstanding = len(t.pending)
	if s.TotalCompleted > 0 {
		s.AvgLatencyUs = float64(t.latency.Microseconds()) / float64(s.TotalCompleted)
	}
	return s
}

// Reset forgets pending requests and zeroes the counters. Ids keep
// counting from where they were.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
	t.counts = TrackerStats{}
	t.latency = 0
}

func (t *Tracker) take(txID uint16) *PendingRequest {
	req, ok := t.pending[txID]
	if ok {
		delete(t.pending, txID)
	}
	return req
}

func (t *Tracker) dropOldest() {
	var oldest *PendingRequest
	for _, req := range t.pending {
		if oldest == nil || req.SentAt.Before(oldest.SentAt) {
			oldest = req
		}
	}
	if oldest != nil {
		t.take(oldest.TransactionID)
		t.counts.TotalTimedOut++
	}
}
