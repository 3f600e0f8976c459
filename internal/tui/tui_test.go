package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"sahaay/internal/chat"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	session := chat.NewSession("t1", chat.SessionConfig{}, nil, nil, nil, zerolog.Nop())
	return New(session)
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("update returned %T", next)
	}
	return out
}

func TestStatusUpdateReplacesExistingLine(t *testing.T) {
	m := newTestModel(t)
	m = step(t, m, statusAppliedMsg{ID: "ind-1", Text: "Agent is working..."})
	m = step(t, m, statusAppliedMsg{ID: "ind-1", Text: "Thinking..."})

	if len(m.statuses) != 1 {
		t.Fatalf("expected one status line, got %+v", m.statuses)
	}
	if m.statuses[0].text != "Thinking..." {
		t.Fatalf("status text = %q", m.statuses[0].text)
	}
}

func TestStatusUpdateAfterRemovalIsIgnored(t *testing.T) {
	m := newTestModel(t)
	m = step(t, m, statusAppliedMsg{ID: "ind-1", Text: "Agent is working..."})
	m = step(t, m, statusRemovedMsg{ID: "ind-1"})

	// A paced update draining after the indicator was destroyed.
	m = step(t, m, statusAppliedMsg{ID: "ind-1", Text: "Connected to agent"})
	if len(m.statuses) != 0 {
		t.Fatalf("removed indicator came back: %+v", m.statuses)
	}

	// A fresh indicator is unaffected.
	m = step(t, m, statusAppliedMsg{ID: "ind-2", Text: "Thinking..."})
	if len(m.statuses) != 1 || m.statuses[0].id != "ind-2" {
		t.Fatalf("expected only the new indicator, got %+v", m.statuses)
	}
}

func TestRemoveUnknownStatusIsHarmless(t *testing.T) {
	m := newTestModel(t)
	m = step(t, m, statusRemovedMsg{ID: "never-applied"})
	if len(m.statuses) != 0 {
		t.Fatalf("unexpected statuses: %+v", m.statuses)
	}
	m = step(t, m, statusAppliedMsg{ID: "never-applied", Text: "late"})
	if len(m.statuses) != 0 {
		t.Fatalf("indicator applied after removal: %+v", m.statuses)
	}
}
