// Package tui renders a live wasmgrind trace.Recorder as an interactive
// terminal table: a reusable tea.Model an external CLI collaborator embeds
// into its own bubbletea program, composed from bubbletea/bubbles/lipgloss
// rather than a bespoke terminal renderer.
//
// Grounded on cmd/run/interactive.go: package-level lipgloss.NewStyle()
// style vars, a tea.Model with Init/Update/View, tea.Tick-driven refresh
// via a private msg type, and tea.KeyMsg string switches for key handling.
// bubbles/table and bubbles/viewport have no other usage site in the
// retrieved pack, so their Model/Column/Row shape here follows the
// libraries' own stable public API rather than an in-pack usage site (see
// DESIGN.md).
package tui

import (
	"fmt"
	"time"

	"github.com/AFKoffee/wasmgrind/trace"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// refreshInterval is how often Model polls its Recorder for new events.
const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

// Model is a tea.Model rendering the live state of a trace.Recorder: a
// scrollable table of recorded events plus a detail line for the currently
// selected row. It owns no terminal of its own — the collaborator embedding
// it is responsible for the surrounding tea.Program (see IsInteractive).
type Model struct {
	recorder *trace.Recorder
	table    table.Model
	detail   viewport.Model
	seen     int
	width    int
	height   int
}

// New builds a Model over recorder, sized to width/height. Both resize
// again on the first tea.WindowSizeMsg the hosting program delivers.
func New(recorder *trace.Recorder, width, height int) Model {
	columns := []table.Column{
		{Title: "TID", Width: 6},
		{Title: "Op", Width: 10},
		{Title: "Detail", Width: 24},
		{Title: "Func", Width: 8},
		{Title: "Instr", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(height/2),
	)

	vp := viewport.New(width, height/2-2)

	return Model{recorder: recorder, table: t, detail: vp, width: width, height: height}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetHeight(m.height / 2)
		m.detail.Width = m.width
		m.detail.Height = m.height/2 - 2

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	m.syncDetail()
	return m, cmd
}

// refresh appends any events recorded since the last poll to the table,
// preserving the operator's current cursor position where possible.
func (m *Model) refresh() {
	events := m.recorder.Snapshot()
	if len(events) == m.seen {
		return
	}

	rows := make([]table.Row, 0, len(events))
	for _, ev := range events {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", ev.TID),
			ev.Op.Kind.String(),
			formatDetail(ev.Op),
			fmt.Sprintf("%d", ev.Loc.FuncIdx),
			fmt.Sprintf("%d", ev.Loc.InstrIdx),
		})
	}

	cursor := m.table.Cursor()
	m.table.SetRows(rows)
	if cursor >= len(rows) {
		cursor = len(rows) - 1
	}
	if cursor >= 0 {
		m.table.SetCursor(cursor)
	}
	m.seen = len(events)
}

func formatDetail(op trace.Operation) string {
	switch op.Kind {
	case trace.OpRead, trace.OpWrite:
		return fmt.Sprintf("addr=%#x n=%d", op.Addr, op.N)
	case trace.OpAcquire, trace.OpRequest, trace.OpRelease:
		return fmt.Sprintf("lock=%d", op.Lock)
	case trace.OpFork, trace.OpJoin:
		return fmt.Sprintf("child_tid=%d", op.ChildTID)
	default:
		return ""
	}
}

func (m *Model) syncDetail() {
	rows := m.table.Rows()
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(rows) {
		m.detail.SetContent("")
		return
	}
	row := rows[cursor]
	m.detail.SetContent(fmt.Sprintf(
		"tid=%s op=%s %s func=%s instr=%s",
		row[0], row[1], row[2], row[3], row[4],
	))
}

func (m Model) View() string {
	header := titleStyle.Render(fmt.Sprintf("wasmgrind trace — %d events", m.recorder.Len()))
	help := helpStyle.Render("↑/↓ select · q quit")
	return fmt.Sprintf(
		"%s\n\n%s\n\n%s\n\n%s",
		header, m.table.View(), detailStyle.Render(m.detail.View()), help,
	)
}
