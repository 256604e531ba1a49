package pcap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// ModbusSummary provides high-level stats for Modbus traffic.
type ModbusSummary struct {
	Frames      int
	Requests    int
	Responses   int
	Exceptions  int
	Functions   map[modbus.FunctionCode]int // keyed by base function code
	ExceptionBy map[modbus.ExceptionCode]int
	Units       map[uint8]int
	Unanswered  int           // requests with no matching response
	AvgLatency  time.Duration // request to matching response
	MaxLatency  time.Duration
	TCPFrames   int
	RTUFrames   int
}

type pendingKey struct {
	flow string
	tid  uint16
	unit uint8
}

// SummarizeModbus pairs requests with responses and counts what was seen.
// TCP frames pair by transaction id within a connection; RTU frames pair
// with the next response from the same unit.
func SummarizeModbus(packets []ModbusPacket) *ModbusSummary {
	s := &ModbusSummary{
		Functions:   make(map[modbus.FunctionCode]int),
		ExceptionBy: make(map[modbus.ExceptionCode]int),
		Units:       make(map[uint8]int),
	}
	pending := make(map[pendingKey]time.Time)
	var paired int
	var total time.Duration

	for _, p := range packets {
		s.Frames++
		s.Units[p.UnitID]++
		s.Functions[p.Function&0x7F]++
		if p.Mode == modbus.ModeRTU {
			s.RTUFrames++
		} else {
			s.TCPFrames++
		}

		key := pendingKey{flow: flowKey(p), tid: p.TransactionID, unit: p.UnitID}
		if p.IsRequest {
			s.Requests++
			pending[key] = p.Timestamp
			continue
		}

		s.Responses++
		if p.IsException {
			s.Exceptions++
			if len(p.Data) > 0 {
				s.ExceptionBy[modbus.ExceptionCode(p.Data[0])]++
			}
		}
		if sent, ok := pending[key]; ok {
			delete(pending, key)
			rtt := p.Timestamp.Sub(sent)
			if rtt < 0 {
				rtt = 0
			}
			paired++
			total += rtt
			if rtt > s.MaxLatency {
				s.MaxLatency = rtt
			}
		}
	}

	s.Unanswered = len(pending)
	if paired > 0 {
		s.AvgLatency = total / time.Duration(paired)
	}
	return s
}

// flowKey names the client side of a frame's conversation so a request
// and its response share it.
func flowKey(p ModbusPacket) string {
	if p.IsRequest {
		return fmt.Sprintf("%s:%d", p.SrcIP, p.SrcPort)
	}
	return fmt.Sprintf("%s:%d", p.DstIP, p.DstPort)
}

// String renders the summary as an indented report.
func (s *ModbusSummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Frames:      %d (tcp %d, rtu %d)\n", s.Frames, s.TCPFrames, s.RTUFrames)
	fmt.Fprintf(&sb, "Requests:    %d\n", s.Requests)
	fmt.Fprintf(&sb, "Responses:   %d (exceptions %d)\n", s.Responses, s.Exceptions)
	fmt.Fprintf(&sb, "Unanswered:  %d\n", s.Unanswered)
	if s.AvgLatency > 0 || s.MaxLatency > 0 {
		fmt.Fprintf(&sb, "Latency:     avg %v, max %v\n", s.AvgLatency, s.MaxLatency)
	}

	fcs := make([]int, 0, len(s.Functions))
	for fc := range s.Functions {
		fcs = append(fcs, int(fc))
	}
	sort.Ints(fcs)
	if len(fcs) > 0 {
		sb.WriteString("Functions:\n")
		for _, fc := range fcs {
			fmt.Fprintf(&sb, "  0x%02X %-30s %d\n", fc, modbus.FunctionCode(fc).String(), s.Functions[modbus.FunctionCode(fc)])
		}
	}

	excs := make([]int, 0, len(s.ExceptionBy))
	for code := range s.ExceptionBy {
		excs = append(excs, int(code))
	}
	sort.Ints(excs)
	if len(excs) > 0 {
		sb.WriteString("Exceptions:\n")
		for _, code := range excs {
			fmt.Fprintf(&sb, "  0x%02X %-30s %d\n", code, modbus.ExceptionCode(code).String(), s.ExceptionBy[modbus.ExceptionCode(code)])
		}
	}
	return sb.String()
}
