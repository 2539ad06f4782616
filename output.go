package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"asset_editor/db"
	"asset_editor/editor"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// printer writes the user-facing lines. Status callbacks arrive from
// editor timers, so writes are serialized.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	ok      *color.Color
	loading *color.Color
	bad     *color.Color
	dim     *color.Color
	accent  *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:       w,
		ok:      color.New(color.FgGreen),
		loading: color.New(color.FgCyan),
		bad:     color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
		accent:  color.New(color.FgYellow),
	}
}

func (p *printer) println(c *color.Color, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Fprintln(p.w, s)
}

// status prints a visible status bar message; hides are not echoed.
func (p *printer) status(s editor.Status) {
	if !s.Visible {
		return
	}
	switch s.Kind {
	case editor.StatusLoading:
		p.println(p.loading, s.Message)
	case editor.StatusError:
		p.println(p.bad, s.Message)
	default:
		p.println(p.ok, s.Message)
	}
}

func (p *printer) info(s string) { p.println(p.ok, s) }
func (p *printer) note(s string) { p.println(p.dim, s) }
func (p *printer) fail(s string) { p.println(p.bad, "error: "+s) }

func (p *printer) exported(path string, size int) {
	p.println(p.accent, fmt.Sprintf("Saved %s (%s)", path, humanize.Bytes(uint64(size))))
}

func (p *printer) health(v editor.HealthView) {
	c := p.ok
	if !v.Online {
		c = p.bad
	}
	p.println(c, fmt.Sprintf("%s [%s]", v.Text, bar(v.Percent, 20)))
	p.buttons(v.Buttons)
}

func (p *printer) telemetry(v editor.TelemetryView) {
	p.println(p.dim, fmt.Sprintf("RAM %s [%s]  CPU %s [%s]  %s",
		v.RAMText, bar(v.RAMPercent, 10), v.CPUText, bar(v.CPUPercent, 10), v.ModelLabel))
}

func (p *printer) buttons(buttons []editor.ModelButton) {
	var b strings.Builder
	for i, btn := range buttons {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%s (%gGB) %s", btn.Label, btn.VRAMGB, btn.Action)
	}
	if b.Len() > 0 {
		p.println(p.dim, b.String())
	}
}

func (p *printer) history(entries []db.HistoryEntry, now time.Time) {
	if len(entries) == 0 {
		p.note("No history yet")
		return
	}
	for _, e := range entries {
		prompt := e.Prompt
		if len(prompt) > 48 {
			prompt = prompt[:45] + "..."
		}
		p.println(p.ok, fmt.Sprintf("%-9s %-48s %s", e.Mode, prompt, humanize.RelTime(e.CreatedAt, now, "ago", "from now")))
		p.println(p.dim, "          "+e.ImageURL)
	}
}

// bar renders percent as a fixed-width gauge.
func bar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}
