// Package tui is a terminal chat front end for a conversation session.
// It renders the transcript in a viewport, shows transient status lines
// while the agent works, and maps surface calls onto Bubble Tea
// messages so all mutation happens inside the update loop.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sahaay/internal/chat"
)

type entry struct {
	role    string
	content string
}

type statusLine struct {
	id   string
	text string
}

type Model struct {
	session *chat.Session

	viewport viewport.Model
	input    textinput.Model

	entries  []entry
	statuses []statusLine
	removed  map[string]struct{}
	ambient  string
	errText  string

	sendEnabled bool
	cancel      context.CancelFunc

	width  int
	height int
	ready  bool
}

func New(session *chat.Session) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 0

	vp := viewport.New(80, 20)

	m := Model{
		session:     session,
		viewport:    vp,
		input:       ti,
		removed:     map[string]struct{}{},
		sendEnabled: true,
	}
	for _, turn := range session.Transcript() {
		m.entries = append(m.entries, entry{role: turn.Role, content: turn.Content})
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		chatHeight := msg.Height - 8
		if chatHeight < 5 {
			chatHeight = 5
		}
		m.viewport.Width = msg.Width
		m.viewport.Height = chatHeight
		m.input.Width = msg.Width - 6
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
				m.cancel = nil
				return m, nil
			}
			return m, tea.Quit
		case "enter":
			if m.sendEnabled && strings.TrimSpace(m.input.Value()) != "" {
				return m.submit()
			}
		}

	case ambientMsg:
		m.ambient = msg.Text
		return m, nil

	case statusAppliedMsg:
		// Paced updates can land after a terminal event destroyed the
		// indicator; applying one to a removed id must not revive it.
		if _, gone := m.removed[msg.ID]; gone {
			return m, nil
		}
		replaced := false
		for i := range m.statuses {
			if m.statuses[i].id == msg.ID {
				m.statuses[i].text = msg.Text
				replaced = true
				break
			}
		}
		if !replaced {
			m.statuses = append(m.statuses, statusLine{id: msg.ID, text: msg.Text})
		}
		m.refreshViewport()
		return m, nil

	case statusRemovedMsg:
		m.removed[msg.ID] = struct{}{}
		for i := range m.statuses {
			if m.statuses[i].id == msg.ID {
				m.statuses = append(m.statuses[:i], m.statuses[i+1:]...)
				break
			}
		}
		m.refreshViewport()
		return m, nil

	case transcriptMsg:
		m.entries = append(m.entries, entry{role: msg.Role, content: msg.Content})
		m.errText = ""
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil

	case errorMsg:
		m.errText = msg.Text
		return m, nil

	case sendStateMsg:
		m.sendEnabled = msg.Enabled
		if msg.Enabled {
			m.cancel = nil
			cmds = append(cmds, textinput.Blink)
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		return m, tea.Batch(cmds...)

	case sendDoneMsg:
		// Outcomes already arrived through the surface.
		return m, nil
	}

	if m.sendEnabled {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	m.input.SetValue("")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	session := m.session
	return m, func() tea.Msg {
		defer cancel()
		return sendDoneMsg{Err: session.Send(ctx, text)}
	}
}

func (m *Model) refreshViewport() {
	var b strings.Builder
	for _, e := range m.entries {
		label := userLabelStyle.Render("You")
		if e.role == chat.RoleAssistant {
			label = assistantLabelStyle.Render("Agent")
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(bodyStyle.Render(e.content))
		b.WriteString("\n\n")
	}
	for _, s := range m.statuses {
		b.WriteString(statusLineStyle.Render("· " + s.text))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, headerStyle.Render("sahaay"))
	sections = append(sections, m.viewport.View())

	if m.errText != "" {
		sections = append(sections, errorStyle.Render(m.errText))
	}

	if m.sendEnabled {
		sections = append(sections, inputBorderStyle.Width(m.width-2).Render(m.input.View()))
	} else {
		sections = append(sections, waitingStyle.Width(m.width-2).Render("Waiting for response... (Esc to cancel)"))
	}

	sections = append(sections, m.statusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) statusBar() string {
	status := m.ambient
	style := statusBarStyle
	if !m.sendEnabled {
		style = statusBarBusyStyle
	}
	if status == "" {
		status = "Ready"
	}

	left := style.Render(status)
	help := statusBarStyle.Render("Enter: send • Esc: cancel/quit")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(help) - 2
	if gap < 0 {
		gap = 0
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Repeat(" ", gap), help)
}
