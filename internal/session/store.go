// Package session keeps multi-turn conversation state with expiry and per-session
// serialization.
package session

import (
	"context"
	"time"

	"github.com/hyperjump/tanya/internal/models"
)

// Store persists sessions. Implementations copy sessions on the way in and out, so
// callers never share memory with the store.
type Store interface {
	// Get returns models.ErrSessionNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Put inserts or replaces the session with the same id.
	Put(ctx context.Context, s *models.Session) error
	// Delete removes a session. Unknown ids are ignored.
	Delete(ctx context.Context, id string) error
	// IdleSince lists the ids of sessions whose last activity is before t.
	IdleSince(ctx context.Context, t time.Time) ([]string, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]models.Turn, len(s.Turns))
	for i, t := range s.Turns {
		if t.Citations != nil {
			t.Citations = append([]string(nil), t.Citations...)
		}
		out.Turns[i] = t
	}
	return &out
}
