package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/master"
)

const (
	DefaultInterval = time.Second
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 30 * time.Second
)

// PollFunc reads the watched block. Bits come back as 0 or 1.
type PollFunc func(ctx context.Context) ([]uint16, error)

// MasterPoller reads count items of table t at addr through m.
func MasterPoller(m *master.Context, t mapping.Table, addr uint16, count int) PollFunc {
	return func(ctx context.Context) ([]uint16, error) {
		var bits []bool
		var err error
		switch t {
		case mapping.Coils:
			bits, err = m.ReadBits(ctx, addr, count)
		case mapping.DiscreteInputs:
			bits, err = m.ReadInputBits(ctx, addr, count)
		case mapping.HoldingRegisters:
			return m.ReadRegisters(ctx, addr, count)
		case mapping.InputRegisters:
			return m.ReadInputRegisters(ctx, addr, count)
		default:
			return nil, fmt.Errorf("unknown table %v", t)
		}
		if err != nil {
			return nil, err
		}
		values := make([]uint16, len(bits))
		for i, b := range bits {
			if b {
				values[i] = 1
			}
		}
		return values, nil
	}
}

// WatchConfig describes what the view polls.
type WatchConfig struct {
	Target   string // shown in the title, e.g. the channel
	Table    mapping.Table
	Address  uint16
	Count    int
	Interval time.Duration
	Poll     PollFunc
}

// tickMsg starts the next poll. seq ties it to the poll loop that
// scheduled it so stale ticks are dropped after a pause.
type tickMsg struct{ seq int }

type pollResultMsg struct {
	seq    int
	values []uint16
	err    error
	rtt    time.Duration
	at     time.Time
}

// Model is the register watch view.
type Model struct {
	ctx    context.Context
	cfg    WatchConfig
	styles Styles

	values  []uint16
	changed []bool
	changes []int

	polls    int
	failures int
	lastRTT  time.Duration
	lastPoll time.Time
	lastErr  error

	interval time.Duration
	paused   bool
	hex      bool
	seq      int
	status   string
	quitting bool
}

// NewModel creates a watch model. A zero interval means DefaultInterval.
func NewModel(ctx context.Context, cfg WatchConfig) *Model {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Model{
		ctx:      ctx,
		cfg:      cfg,
		styles:   DefaultStyles,
		interval: clampInterval(interval),
		hex:      !cfg.Table.IsBit(),
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.pollCmd()
}

func (m *Model) pollCmd() tea.Cmd {
	seq, ctx, poll := m.seq, m.ctx, m.cfg.Poll
	return func() tea.Msg {
		start := time.Now()
		values, err := poll(ctx)
		return pollResultMsg{seq: seq, values: values, err: err, rtt: time.Since(start), at: time.Now()}
	}
}

func (m *Model) tickCmd() tea.Cmd {
	seq := m.seq
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{seq: seq}
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if msg.seq != m.seq || m.paused {
			return m, nil
		}
		return m, m.pollCmd()

	case pollResultMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.applyPoll(msg)
		if m.paused {
			return m, nil
		}
		return m, m.tickCmd()

	case clipboardCopyMsg:
		switch {
		case msg.success:
			m.status = "Copied snapshot to clipboard"
		case msg.err != nil:
			m.status = "Copy failed: " + msg.err.Error()
		default:
			m.status = "Copy failed"
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) applyPoll(msg pollResultMsg) {
	m.polls++
	m.lastPoll = msg.at
	m.lastRTT = msg.rtt
	if msg.err != nil {
		m.failures++
		m.lastErr = msg.err
		return
	}
	m.lastErr = nil
	first := m.values == nil || len(m.values) != len(msg.values)
	if first {
		m.changed = make([]bool, len(msg.values))
		m.changes = make([]int, len(msg.values))
	}
	for i, v := range msg.values {
		m.changed[i] = !first && m.values[i] != v
		if m.changed[i] {
			m.changes[i]++
		}
	}
	m.values = msg.values
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case " ", "p":
		m.paused = !m.paused
		m.seq++
		if m.paused {
			m.status = "Paused"
			return m, nil
		}
		m.status = "Resumed"
		return m, m.pollCmd()
	case "+", "=":
		m.interval = clampInterval(m.interval / 2)
		m.status = "Interval " + m.interval.String()
	case "-", "_":
		m.interval = clampInterval(m.interval * 2)
		m.status = "Interval " + m.interval.String()
	case "x":
		m.hex = !m.hex
	case "r":
		for i := range m.changes {
			m.changes[i] = 0
			m.changed[i] = false
		}
		m.status = "Counters reset"
	case "c":
		return m, copyToClipboard(m.Snapshot())
	}
	return m, nil
}

// Snapshot renders the current values as address=value lines.
func (m *Model) Snapshot() string {
	var b strings.Builder
	for i, v := range m.values {
		fmt.Fprintf(&b, "%d=%s\n", int(m.cfg.Address)+i, m.formatValue(v))
	}
	return b.String()
}

func (m *Model) formatValue(v uint16) string {
	if m.hex {
		return fmt.Sprintf("0x%04X", v)
	}
	return strconv.Itoa(int(v))
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.styles
	title := s.Title.Render(fmt.Sprintf("%s %s @ %d x%d", m.cfg.Target, m.cfg.Table, m.cfg.Address, m.cfg.Count))

	state := "ok"
	switch {
	case m.paused:
		state = "paused"
	case m.lastErr != nil:
		state = "error"
	case m.polls == 0:
		state = "waiting"
	}
	statusLine := fmt.Sprintf("%s %s  polls %d  failures %d  interval %s",
		StatusIcon(state, s), state, m.polls, m.failures, m.interval)
	if !m.lastPoll.IsZero() {
		statusLine += fmt.Sprintf("  rtt %s  last %s", m.lastRTT.Round(time.Microsecond), m.lastPoll.Format("15:04:05"))
	}

	parts := []string{title, s.Dim.Render(statusLine), m.renderTable()}
	if m.lastErr != nil {
		parts = append(parts, s.Error.Render(m.lastErr.Error()))
	}
	if m.status != "" {
		parts = append(parts, s.Base.Render(m.status))
	}
	parts = append(parts, m.renderKeys())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderTable() string {
	s := m.styles
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		Headers("Address", "Value", "Changes").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return s.Header
			}
			if col == 1 && row-1 < len(m.changed) && m.changed[row-1] {
				return s.Changed
			}
			return s.Cell
		})
	for i, v := range m.values {
		t.Row(strconv.Itoa(int(m.cfg.Address)+i), m.formatValue(v), strconv.Itoa(m.changes[i]))
	}
	return t.String()
}

func (m *Model) renderKeys() string {
	s := m.styles
	keys := [][2]string{
		{"space", "pause"},
		{"+/-", "interval"},
		{"x", "hex/dec"},
		{"r", "reset"},
		{"c", "copy"},
		{"q", "quit"},
	}
	hints := make([]string, len(keys))
	for i, k := range keys {
		hints[i] = s.KeyBinding.Render(k[0]) + " " + s.KeyHint.Render(k[1])
	}
	return strings.Join(hints, s.KeyHint.Render("  "))
}
