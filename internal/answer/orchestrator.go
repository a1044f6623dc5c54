// Package answer coordinates one conversational request: session, retrieval, prompt
// assembly, generation and history update.
package answer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/generation"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/prompt"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/internal/session"
	"github.com/hyperjump/tanya/internal/vector"
	"github.com/hyperjump/tanya/pkg/utils"
)

// MaxMessageLength is the longest accepted user message, in characters.
const MaxMessageLength = 4000

const (
	defaultTopK        = 5
	defaultTokenBudget = 3000
	defaultMaxTokens   = 1000
)

// Retriever finds grounding passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filter vector.Filter) (*models.RetrievalResult, error)
}

// Orchestrator answers user messages inside their session.
type Orchestrator struct {
	sessions  *session.Manager
	retriever Retriever
	assembler *prompt.Assembler
	generator generation.Generator
	topK      int
	budget    int
	maxTokens int
	genRetry  retry.Policy
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTopK sets how many passages are retrieved per question.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithTokenBudget sets the prompt token budget passed to the assembler.
func WithTokenBudget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.budget = n
		}
	}
}

// WithMaxTokens sets the completion limit passed to the generator.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithGenerationRetry sets the retry policy for generation calls. Policy.Timeout bounds
// each attempt.
func WithGenerationRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.genRetry = p }
}

// New returns an Orchestrator.
func New(sessions *session.Manager, retriever Retriever, assembler *prompt.Assembler, generator generation.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		topK:      defaultTopK,
		budget:    defaultTokenBudget,
		maxTokens: defaultMaxTokens,
		genRetry:  retry.Policy{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer records userText in session sessionID, answers it from the retrieved passages
// and records the reply with its citations. An empty sessionID starts a new session.
//
// When generation fails after retries the user turn stays recorded, no assistant turn is
// written and the error wraps models.ErrGenerationUnavailable. Sending the same message
// again reuses the pending user turn.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, userText string) (*models.AnsweredTurn, error) {
	return o.answer(ctx, sessionID, userText, nil)
}

// AnswerStream is Answer with the reply delivered through onDelta as it is generated.
// A failed generation attempt is retried only while nothing has been delivered.
func (o *Orchestrator) AnswerStream(ctx context.Context, sessionID, userText string, onDelta func(string) error) (*models.AnsweredTurn, error) {
	if onDelta == nil {
		return o.Answer(ctx, sessionID, userText)
	}
	return o.answer(ctx, sessionID, userText, onDelta)
}

// CheckMessage validates a user message.
func CheckMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", models.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return fmt.Errorf("%w: message has %d characters, limit is %d", models.ErrInvalidInput, n, MaxMessageLength)
	}
	return nil
}

func (o *Orchestrator) answer(ctx context.Context, sessionID, userText string, onDelta func(string) error) (*models.AnsweredTurn, error) {
	if err := CheckMessage(userText); err != nil {
		return nil, err
	}
	userText = strings.TrimSpace(userText)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	start := time.Now()

	var out *models.AnsweredTurn
	err := o.sessions.WithSession(ctx, sessionID, func(tx *session.Tx) error {
		history, err := o.recordQuestion(ctx, tx, userText)
		if err != nil {
			return err
		}

		result, err := o.retriever.Retrieve(ctx, userText, o.topK, nil)
		if err != nil {
			return err
		}
		pc := o.assembler.AssembleQuestion(result, history, userText, o.budget)

		text, err := o.generate(ctx, buildPrompt(pc), onDelta)
		if err != nil {
			return err
		}

		turn, err := tx.Append(ctx, models.RoleAssistant, text, pc.ChunkIDs())
		if err != nil {
			return err
		}
		out = &models.AnsweredTurn{
			SessionID:      tx.ID(),
			Answer:         text,
			Citations:      citations(pc),
			Grounded:       result.Grounded(),
			Confidence:     confidence(result),
			SessionRenewed: tx.Renewed(),
			Turn:           turn,
		}
		return nil
	})
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("answer failed", zap.String("session", sessionID), zap.Error(err))
		}
		return nil, err
	}
	if o.logger != nil {
		o.logger.Info("answered",
			zap.String("session", out.SessionID),
			zap.Bool("grounded", out.Grounded),
			zap.Int("citations", len(out.Citations)),
			zap.Float64("confidence", out.Confidence),
			zap.Duration("took", time.Since(start)))
	}
	return out, nil
}

// recordQuestion appends the user turn and returns the history before it. A trailing
// unanswered user turn with the same text is a retry and is reused.
func (o *Orchestrator) recordQuestion(ctx context.Context, tx *session.Tx, userText string) ([]models.Turn, error) {
	history := tx.History(0)
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Text == userText {
		return history[:n-1], nil
	}
	if _, err := tx.Append(ctx, models.RoleUser, userText, nil); err != nil {
		return nil, err
	}
	return history, nil
}

// streamAbort carries an error returned by the caller's delta callback.
type streamAbort struct{ err error }

func (e *streamAbort) Error() string { return e.err.Error() }
func (e *streamAbort) Unwrap() error { return e.err }

func (o *Orchestrator) generate(ctx context.Context, p generation.Prompt, onDelta func(string) error) (string, error) {
	var (
		text    string
		emitted bool
	)
	err := retry.Do(ctx, o.genRetry, func(ctx context.Context) error {
		var err error
		if onDelta == nil {
			text, err = o.generator.Generate(ctx, p, o.maxTokens)
			return err
		}
		text, err = o.generator.Stream(ctx, p, o.maxTokens, func(d string) error {
			emitted = true
			if err := onDelta(d); err != nil {
				return &streamAbort{err: err}
			}
			return nil
		})
		if err != nil && emitted {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil {
		return text, nil
	}
	var abort *streamAbort
	if errors.As(err, &abort) {
		return "", abort.err
	}
	if ctx.Err() != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
}

// buildPrompt turns an assembled context into generator input ending with the question.
func buildPrompt(pc *models.PromptContext) generation.Prompt {
	p := generation.Prompt{
		System:   prompt.SystemText(pc),
		Messages: make([]generation.Message, 0, len(pc.History)+1),
	}
	for _, t := range pc.History {
		p.Messages = append(p.Messages, generation.Message{Role: t.Role, Content: t.Text})
	}
	p.Messages = append(p.Messages, generation.Message{Role: models.RoleUser, Content: pc.Question})
	return p
}

func citations(pc *models.PromptContext) []models.Citation {
	out := make([]models.Citation, 0, len(pc.Passages))
	for _, ps := range pc.Passages {
		c := ps.Candidate.Chunk
		out = append(out, models.Citation{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Title:      c.Title(),
			Source:     c.Source(),
			Page:       c.Page,
			Score:      ps.Candidate.Score,
		})
	}
	return out
}

// confidence is the top score capped at 1 and rounded to two decimals.
func confidence(r *models.RetrievalResult) float64 {
	return utils.Round(math.Max(0, math.Min(r.TopScore(), 1)), 2)
}
