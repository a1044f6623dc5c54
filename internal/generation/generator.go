// Package generation produces answer text from a prompt through OpenAI-compatible chat
// APIs, Gemini, or an offline extractive generator.
package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
)

// Message is one conversation message sent to the model.
type Message struct {
	Role    models.Role
	Content string
}

// Prompt is the model input: system instructions with the rendered passages, followed by
// the conversation ending with the current user message.
type Prompt struct {
	System   string
	Messages []Message
}

// Question returns the content of the last user message.
func (p Prompt) Question() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == models.RoleUser {
			return p.Messages[i].Content
		}
	}
	return ""
}

// Generator produces text for a prompt. Failures wrap models.ErrGenerationService;
// provider client errors that will not succeed on retry are marked retry.Permanent.
type Generator interface {
	// Generate returns the full completion.
	Generate(ctx context.Context, p Prompt, maxTokens int) (string, error)
	// Stream calls onDelta for each piece of text as it arrives and returns the full
	// completion. An error from onDelta aborts the stream and is returned unchanged.
	Stream(ctx context.Context, p Prompt, maxTokens int, onDelta func(string) error) (string, error)
	Name() string
	Close() error
}

// Option configures a generator.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
