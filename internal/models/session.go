package models

import "time"

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
	// Citations holds the chunk ids that grounded an assistant turn.
	Citations []string `json:"citations,omitempty"`
}

// Session is a multi-turn conversation identity.
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	NextSeq      int       `json:"next_seq"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Expired reports whether the session has been inactive for longer than ttl at now.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > ttl
}

// TokenCount returns the sum of the turn token counts.
func (s *Session) TokenCount() int {
	total := 0
	for _, t := range s.Turns {
		total += t.TokenCount
	}
	return total
}
