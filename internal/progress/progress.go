// Package progress draws a one-line indicator for repeated requests.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	barWidth     = 30
	drawInterval = 100 * time.Millisecond
)

// Bar tracks completed and failed requests out of a known total and
// redraws itself in place on out. It is not safe for concurrent use.
type Bar struct {
	out         io.Writer
	label       string
	total       int
	done        int
	failed      int
	started     time.Time
	lastDraw    time.Time
	now         func() time.Time
	interactive bool
}

// NewBar starts a bar for total requests. A nil out disables drawing.
func NewBar(out io.Writer, total int, label string) *Bar {
	b := &Bar{
		out:         out,
		label:       label,
		total:       total,
		now:         time.Now,
		interactive: out != nil,
	}
	b.started = b.now()
	return b
}

// Step records one finished request and redraws, at most every 100ms
// until the last one.
func (b *Bar) Step(ok bool) {
	b.done++
	if !ok {
		b.failed++
	}
	b.draw(false)
}

// Done returns the finished and failed counts.
func (b *Bar) Done() (done, failed int) { return b.done, b.failed }

// Finish draws the final state and ends the line.
func (b *Bar) Finish() {
	if !b.interactive {
		return
	}
	b.draw(true)
	fmt.Fprint(b.out, "\n")
}

func (b *Bar) draw(force bool) {
	if !b.interactive {
		return
	}
	now := b.now()
	if !force && b.done < b.total && now.Sub(b.lastDraw) < drawInterval {
		return
	}
	b.lastDraw = now
	fmt.Fprint(b.out, "\r"+b.Line(now))
}

// Line renders the bar as of now.
func (b *Bar) Line(now time.Time) string {
	var frac float64
	if b.total > 0 {
		frac = float64(b.done) / float64(b.total)
		if frac > 1 {
			frac = 1
		}
	}
	filled := int(frac * barWidth)

	var sb strings.Builder
	if b.label != "" {
		sb.WriteString(b.label)
		sb.WriteByte(' ')
	}
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("=", filled))
	if filled < barWidth {
		sb.WriteByte('>')
		sb.WriteString(strings.Repeat("-", barWidth-filled-1))
	}
	fmt.Fprintf(&sb, "] %d/%d (%.1f%%)", b.done, b.total, frac*100)
	if b.failed > 0 {
		fmt.Fprintf(&sb, " %d failed", b.failed)
	}

	elapsed := now.Sub(b.started)
	fmt.Fprintf(&sb, " | Elapsed: %s", formatDuration(elapsed))
	if b.done > 0 && b.done < b.total {
		per := elapsed / time.Duration(b.done)
		fmt.Fprintf(&sb, " | ETA: %s", formatDuration(per*time.Duration(b.total-b.done)))
	}
	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
