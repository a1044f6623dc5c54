package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hyperjump/tanya/internal/models"
)

type fakeAsker struct {
	deltas  []string
	err     error
	session string
}

func (f *fakeAsker) ChatStream(ctx context.Context, sessionID, message string, onDelta func(string)) (*models.AnsweredTurn, error) {
	f.session = sessionID
	for _, d := range f.deltas {
		onDelta(d)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnsweredTurn{
		SessionID: "s-42",
		Answer:    strings.Join(f.deltas, ""),
		Citations: []models.Citation{{ChunkID: "d#0", DocumentID: "d", Title: "Diabetes guide", Page: 2, Score: 0.91}},
		Grounded:  true,
	}, nil
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func typeAndSend(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

// drain feeds stream events back into the model until the request finishes.
func drain(t *testing.T, m Model) Model {
	t.Helper()
	for i := 0; m.pending != nil; i++ {
		if i > 100 {
			t.Fatal("stream did not finish")
		}
		msg := waitForEvent(m.stream)()
		if msg == nil {
			t.Fatal("stream closed without a final event")
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestModel_StreamsAnswer(t *testing.T) {
	asker := &fakeAsker{deltas: []string{"Check ", "glucose ", "daily."}}
	m := sized(New(asker, "", "http://localhost:8080"))

	m = typeAndSend(t, m, "How often?")
	if m.pending == nil {
		t.Fatal("expected a pending answer")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	m = drain(t, m)

	if m.SessionID() != "s-42" {
		t.Errorf("session: got %q", m.SessionID())
	}
	if len(m.entries) != 2 || m.entries[1].text != "Check glucose daily." {
		t.Fatalf("entries: %+v", m.entries)
	}
	view := m.View()
	for _, sub := range []string{"How often?", "Check glucose daily.", "Diabetes guide p.2"} {
		if !strings.Contains(view, sub) {
			t.Errorf("view missing %q:\n%s", sub, view)
		}
	}

	m = typeAndSend(t, m, "And at night?")
	m = drain(t, m)
	if asker.session != "s-42" {
		t.Errorf("follow-up should reuse the session, sent %q", asker.session)
	}
}

func TestModel_Error(t *testing.T) {
	asker := &fakeAsker{err: errors.New("server returned 503 GENERATION_UNAVAILABLE: timed out")}
	m := sized(New(asker, "s1", "http://x"))
	m = drain(t, typeAndSend(t, m, "hello"))
	if len(m.entries) != 2 || !m.entries[1].err {
		t.Fatalf("entries: %+v", m.entries)
	}
	if m.SessionID() != "s1" {
		t.Errorf("session changed on error: %q", m.SessionID())
	}
	if !strings.Contains(m.View(), "GENERATION_UNAVAILABLE") {
		t.Errorf("view should show the error:\n%s", m.View())
	}
}

func TestModel_Commands(t *testing.T) {
	m := sized(New(&fakeAsker{}, "s1", "http://x"))
	m.entries = []entry{{role: models.RoleUser, text: "old"}}

	m = typeAndSend(t, m, "/new")
	if m.SessionID() != "" || len(m.entries) != 0 || m.pending != nil {
		t.Errorf("/new should reset the conversation: session %q entries %d", m.SessionID(), len(m.entries))
	}

	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit should quit")
	}
}

func TestModel_IgnoresEmptyInput(t *testing.T) {
	m := sized(New(&fakeAsker{}, "", "http://x"))
	m = typeAndSend(t, m, "   ")
	if m.pending != nil || len(m.entries) != 0 {
		t.Error("blank input should not be sent")
	}
}
