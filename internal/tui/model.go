// Package tui is the terminal chat client: a transcript viewport, an input line and
// answers streamed in as the server generates them.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// Asker is the chat API the model talks to. It is implemented by *cli.Client.
type Asker interface {
	ChatStream(ctx context.Context, sessionID, message string, onDelta func(string)) (*models.AnsweredTurn, error)
}

type entry struct {
	role      models.Role
	text      string
	citations []models.Citation
	err       bool
}

type deltaMsg string

type doneMsg struct{ turn *models.AnsweredTurn }

type errMsg struct{ err error }

// Model is the Bubble Tea model for the chat client.
type Model struct {
	asker     Asker
	sessionID string
	server    string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries []entry
	pending *entry
	stream  chan tea.Msg
	cancel  context.CancelFunc
	status  string
	ready   bool
}

// New creates a chat model. An empty sessionID lets the server start a session on the
// first message.
func New(asker Asker, sessionID, server string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter (/new starts over, Ctrl+C quits)"
	ti.CharLimit = 4000
	ti.Focus()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		asker:     asker,
		sessionID: sessionID,
		server:    server,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		status:    "Connected to " + server,
	}
}

// SessionID returns the current session, empty until the first answer.
func (m Model) SessionID() string { return m.sessionID }

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles input, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-fh-4)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case deltaMsg:
		if m.pending != nil {
			m.pending.text += string(msg)
			m.refresh()
		}
		return m, waitForEvent(m.stream)

	case doneMsg:
		m.finish()
		m.sessionID = msg.turn.SessionID
		e := entry{role: models.RoleAssistant, text: msg.turn.Answer, citations: msg.turn.Citations}
		m.entries = append(m.entries, e)
		m.status = fmt.Sprintf("session %s", m.sessionID)
		if msg.turn.SessionRenewed {
			m.status += " (previous session expired, started a new one)"
		}
		m.refresh()
		return m, nil

	case errMsg:
		m.finish()
		m.entries = append(m.entries, entry{role: models.RoleAssistant, text: msg.err.Error(), err: true})
		m.status = "request failed"
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.pending == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input line, or handles a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.pending != nil {
		return m, nil
	}
	m.input.Reset()
	switch q {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/new":
		m.sessionID = ""
		m.entries = nil
		m.status = "new session"
		m.refresh()
		return m, nil
	}

	m.entries = append(m.entries, entry{role: models.RoleUser, text: q})
	m.pending = &entry{role: models.RoleAssistant}
	m.status = "thinking"
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stream = make(chan tea.Msg, 64)
	go ask(ctx, m.asker, m.sessionID, q, m.stream)
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, waitForEvent(m.stream))
}

func (m *Model) finish() {
	if m.cancel != nil {
		m.cancel()
	}
	m.pending, m.cancel, m.stream = nil, nil, nil
}

// ask runs one streamed request and reports its events on out, closing it at the end.
func ask(ctx context.Context, asker Asker, sessionID, q string, out chan<- tea.Msg) {
	defer close(out)
	turn, err := asker.ChatStream(ctx, sessionID, q, func(d string) {
		select {
		case out <- deltaMsg(d):
		case <-ctx.Done():
		}
	})
	var last tea.Msg = doneMsg{turn: turn}
	if err != nil {
		last = errMsg{err: err}
	}
	select {
	case out <- last:
	case <-ctx.Done():
	}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 && m.pending == nil {
		return hintStyle.Render("Answers come only from the ingested reference documents.")
	}
	wrap := lipgloss.NewStyle().Width(max(20, m.viewport.Width-2))
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(renderEntry(e, wrap))
		b.WriteString("\n\n")
	}
	if m.pending != nil {
		b.WriteString(assistantStyle.Render("tanya"))
		b.WriteString("\n")
		b.WriteString(wrap.Render(m.pending.text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEntry(e entry, wrap lipgloss.Style) string {
	var b strings.Builder
	switch {
	case e.role == models.RoleUser:
		b.WriteString(userStyle.Render("you"))
	case e.err:
		b.WriteString(errorStyle.Render("error"))
	default:
		b.WriteString(assistantStyle.Render("tanya"))
	}
	b.WriteString("\n")
	b.WriteString(wrap.Render(e.text))
	for i, c := range e.citations {
		label := c.Title
		if label == "" {
			label = c.DocumentID
		}
		if c.Page > 0 {
			label = fmt.Sprintf("%s p.%d", label, c.Page)
		}
		b.WriteString("\n")
		b.WriteString(sourceStyle.Render(fmt.Sprintf("  [%d] %s (%.2f)", i+1, utils.Truncate(label, 60), c.Score)))
	}
	return b.String()
}

// View renders the transcript, the input line and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("Tanya") + "  " + hintStyle.Render(m.server)
	status := statusStyle.Render(m.status)
	if m.pending != nil {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		m.input.View() + "\n" +
		status
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	spinnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
