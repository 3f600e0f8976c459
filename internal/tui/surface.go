package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Messages delivered to the Bubble Tea program by the surface. The
// session runs on its own goroutines, so everything it wants rendered
// crosses into the update loop as one of these.
type (
	statusAppliedMsg struct {
		ID   string
		Text string
	}
	statusRemovedMsg struct{ ID string }
	ambientMsg       struct {
		Text    string
		Healthy bool
	}
	transcriptMsg struct {
		Role    string
		Content string
	}
	errorMsg     struct{ Text string }
	sendStateMsg struct{ Enabled bool }
	sendDoneMsg  struct{ Err error }
)

// Surface forwards rendering calls into a tea.Program. The program is
// attached after construction because tea.NewProgram needs the model,
// and the model needs the session, which needs the surface.
type Surface struct {
	mu      sync.Mutex
	program *tea.Program
}

func NewSurface() *Surface {
	return &Surface{}
}

func (s *Surface) SetProgram(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

func (s *Surface) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *Surface) SetStatus(text string, healthy bool) {
	s.send(ambientMsg{Text: text, Healthy: healthy})
}

func (s *Surface) ShowError(text string) {
	s.send(errorMsg{Text: text})
}

func (s *Surface) AppendTranscriptEntry(role, content string) {
	s.send(transcriptMsg{Role: role, Content: content})
}

func (s *Surface) SetSendEnabled(enabled bool) {
	s.send(sendStateMsg{Enabled: enabled})
}

func (s *Surface) ApplyStatus(id, text string) {
	s.send(statusAppliedMsg{ID: id, Text: text})
}

func (s *Surface) RemoveStatus(id string) {
	s.send(statusRemovedMsg{ID: id})
}
