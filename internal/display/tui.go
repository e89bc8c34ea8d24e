package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

// SnapshotMsg carries a fresh snapshot into the TUI.
type SnapshotMsg telemetry.Snapshot

// AnomalyMsg carries an unknown record or decode failure into the TUI.
type AnomalyMsg tlv.Event

// SourceEndedMsg tells the TUI the byte source has stopped.
type SourceEndedMsg struct{ Err error }

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Model is a Bubble Tea model showing the current values.
type Model struct {
	source    string
	snap      telemetry.Snapshot
	updates   int
	ended     bool
	endErr    error
	anomalies anomalyLog
	width     int
	height    int
	quitting  bool
}

// NewModel creates a model for source, starting from snap.
func NewModel(source string, snap telemetry.Snapshot) Model {
	return Model{source: source, snap: snap}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.snap = telemetry.Snapshot(msg)
		m.updates++
		return m, nil

	case AnomalyMsg:
		m.anomalies.add(tlv.Event(msg))
		return m, nil

	case SourceEndedMsg:
		m.ended = true
		m.endErr = msg.Err
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var rows strings.Builder
	for i, r := range m.snap {
		if i > 0 {
			rows.WriteByte('\n')
		}
		style := valueStyle
		if !r.Valid {
			style = placeholderStyle
		}
		rows.WriteString(labelStyle.Render(r.Channel.Name))
		rows.WriteString(style.Render(r.Display()))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Current Values: %s", m.source)))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(rows.String()))
	b.WriteString("\n")

	if !m.anomalies.empty() {
		b.WriteString(statusStyle.Render(m.anomalies.summary()))
		b.WriteString("\n")
		b.WriteString(labelStyle.UnsetWidth().Render(m.anomalies.last))
		b.WriteString("\n")
	}

	switch {
	case m.ended && m.endErr != nil:
		b.WriteString(statusStyle.Render(fmt.Sprintf("Source stopped: %v", m.endErr)))
	case m.ended:
		b.WriteString(statusStyle.Render("Source ended"))
	default:
		b.WriteString(statusStyle.Render(fmt.Sprintf("%d updates", m.updates)))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

// TUI runs a Model and feeds it snapshots.
type TUI struct {
	program *tea.Program
}

// NewTUI creates the program for source. Options are passed to Bubble Tea.
func NewTUI(source string, snap telemetry.Snapshot, opts ...tea.ProgramOption) *TUI {
	return &TUI{program: tea.NewProgram(NewModel(source, snap), opts...)}
}

// Render sends snap to the TUI. It blocks until the TUI accepts it and
// returns immediately once the TUI has exited.
func (t *TUI) Render(snap telemetry.Snapshot) error {
	t.program.Send(SnapshotMsg(snap))
	return nil
}

// HandleEvent forwards unknown records and decode failures to the TUI.
func (t *TUI) HandleEvent(ev tlv.Event) {
	if ev.Kind != tlv.EventUnknownRecord && ev.Kind != tlv.EventDecodeFailure {
		return
	}
	t.program.Send(AnomalyMsg(ev))
}

// SourceEnded reports that no more snapshots will arrive.
func (t *TUI) SourceEnded(err error) {
	t.program.Send(SourceEndedMsg{Err: err})
}

// Run runs the TUI until the user quits.
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Quit stops the TUI.
func (t *TUI) Quit() {
	t.program.Quit()
}
