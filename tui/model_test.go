package tui

import (
	"strings"
	"testing"

	"github.com/AFKoffee/wasmgrind/trace"
	tea "github.com/charmbracelet/bubbletea"
)

func TestFormatDetail(t *testing.T) {
	cases := []struct {
		name string
		op   trace.Operation
		want string
	}{
		{"read", trace.Read(16, 4), "addr=0x10 n=4"},
		{"write", trace.Write(32, 8), "addr=0x20 n=8"},
		{"acquire", trace.Acquire(3), "lock=3"},
		{"fork", trace.Fork(7), "child_tid=7"},
		{"join", trace.Join(7), "child_tid=7"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := formatDetail(c.op); got != c.want {
				t.Errorf("formatDetail(%v) = %q, want %q", c.op, got, c.want)
			}
		})
	}
}

func TestModelRefreshTracksNewEvents(t *testing.T) {
	rec := trace.NewRecorder()
	m := New(rec, 80, 24)

	rec.Append(1, trace.Read(0, 4), trace.Location{})
	m.refresh()
	if got := len(m.table.Rows()); got != 1 {
		t.Fatalf("expected 1 row after first refresh, got %d", got)
	}

	rec.Append(2, trace.Fork(3), trace.Location{})
	m.refresh()
	if got := len(m.table.Rows()); got != 2 {
		t.Fatalf("expected 2 rows after second refresh, got %d", got)
	}

	// A refresh against an unchanged recorder must not touch the table.
	cursorBefore := m.table.Cursor()
	m.refresh()
	if got := m.table.Cursor(); got != cursorBefore {
		t.Errorf("refresh with no new events moved the cursor: %d != %d", got, cursorBefore)
	}
}

func TestModelUpdateQuitsOnCtrlC(t *testing.T) {
	m := New(trace.NewRecorder(), 80, 24)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected a non-nil tea.Cmd for ctrl+c")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("expected ctrl+c to issue tea.Quit, got %#v", msg)
	}
}

func TestModelViewRendersHeaderAndHelp(t *testing.T) {
	rec := trace.NewRecorder()
	rec.Append(1, trace.Acquire(1), trace.Location{})
	m := New(rec, 80, 24)
	m.refresh()

	view := m.View()
	if !strings.Contains(view, "1 events") {
		t.Errorf("expected view to report event count, got: %s", view)
	}
	if !strings.Contains(view, "quit") {
		t.Errorf("expected view to include the help line, got: %s", view)
	}
}
