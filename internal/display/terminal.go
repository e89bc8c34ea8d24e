// Package display renders the current value table for a human watching the
// link: either redrawn in place on a plain terminal or as a Bubble Tea TUI.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

const (
	nameWidth  = 20
	valueWidth = 8
	ruleWidth  = 30

	// clearScreen moves the cursor home and clears the screen.
	clearScreen = "\033[H\033[2J"
)

// Terminal redraws the banner, the value table and the latest anomaly on
// every render.
type Terminal struct {
	w     io.Writer
	clear bool

	mu        sync.Mutex
	banner    string
	anomalies anomalyLog

	title lipgloss.Style
	muted lipgloss.Style
	value lipgloss.Style
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithoutClear appends each table instead of redrawing in place, for output
// redirected to a file or pipe.
func WithoutClear() TerminalOption {
	return func(t *Terminal) { t.clear = false }
}

// NewTerminal returns a Terminal writing to w. Colours are only used when w
// is a terminal that supports them.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		w:     w,
		clear: true,
		title: r.NewStyle().Bold(true).Foreground(primaryColor),
		muted: r.NewStyle().Foreground(mutedColor),
		value: r.NewStyle().Foreground(valueColor),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Banner prints the startup line naming the source. Later renders repeat it
// above the table.
func (t *Terminal) Banner(port string, baud int) error {
	line := fmt.Sprintf("Listening on %s at %d baud...", port, baud)
	t.mu.Lock()
	t.banner = line
	t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, line)
	return err
}

// HandleEvent records unknown records and decode failures so the next
// render shows them. Value updates are ignored.
func (t *Terminal) HandleEvent(ev tlv.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anomalies.add(ev)
}

// Render draws the table for snap.
func (t *Terminal) Render(snap telemetry.Snapshot) error {
	t.mu.Lock()
	banner, anomalies := t.banner, t.anomalies
	t.mu.Unlock()

	var b strings.Builder
	if t.clear {
		b.WriteString(clearScreen)
	}
	if banner != "" {
		b.WriteString(banner)
		b.WriteString("\n\n")
	}
	b.WriteString(t.title.Render("Current Values:"))
	b.WriteByte('\n')
	b.WriteString(t.muted.Render(strings.Repeat("-", ruleWidth)))
	b.WriteByte('\n')
	for _, r := range snap {
		style := t.value
		if !r.Valid {
			style = t.muted
		}
		fmt.Fprintf(&b, "%-*s: %s\n", nameWidth, r.Channel.Name, style.Render(fmt.Sprintf("%*s", valueWidth, r.Display())))
	}
	if !anomalies.empty() {
		b.WriteByte('\n')
		b.WriteString(t.muted.Render(anomalies.summary()))
		b.WriteByte('\n')
		b.WriteString(anomalies.last)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(t.w, b.String())
	return err
}
