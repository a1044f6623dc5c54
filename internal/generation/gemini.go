package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/provider"
)

// GeminiGenerator answers through a Gemini chat session built from the prompt messages.
type GeminiGenerator struct {
	client      *genai.Client
	name        string
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewGeminiGenerator returns a generator for model (e.g. gemini-1.5-flash-latest).
func NewGeminiGenerator(ctx context.Context, apiKey, model string, temperature float32, rps float64, opts ...Option) (*GeminiGenerator, error) {
	client, err := provider.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &GeminiGenerator{
		client:      client,
		name:        model,
		temperature: temperature,
		limiter:     provider.NewLimiter(rps),
		logger:      o.logger,
	}, nil
}

// chat builds a model and chat session for p and returns them with the parts of the
// last message, which is sent separately.
func (g *GeminiGenerator) chat(p Prompt, maxTokens int) (*genai.ChatSession, []genai.Part, error) {
	if len(p.Messages) == 0 || p.Messages[len(p.Messages)-1].Role != models.RoleUser {
		return nil, nil, fmt.Errorf("%w: prompt must end with a user message", models.ErrGenerationService)
	}
	// a fresh model per call; GenerationConfig is mutable state
	model := g.client.GenerativeModel(g.name)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}
	temp := g.temperature
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}
	if maxTokens > 0 {
		limit := int32(maxTokens)
		model.GenerationConfig.MaxOutputTokens = &limit
	}

	contents := mergeTurns(p.Messages)
	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	return cs, contents[len(contents)-1].Parts, nil
}

// mergeTurns converts messages to Gemini contents, joining consecutive messages of the
// same role into one content since roles must alternate.
func mergeTurns(msgs []Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(m.Content))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// Generate sends the last message and returns the text of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt, maxTokens int) (string, error) {
	cs, parts, err := g.chat(p, maxTokens)
	if err != nil {
		return "", err
	}
	if err := provider.Wait(ctx, g.limiter); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationService, err)
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", provider.Classify(err, models.ErrGenerationService)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationService)
	}
	if g.logger != nil {
		g.logger.Debug("gemini completion", zap.String("model", g.name), zap.Int("chars", len(text)))
	}
	return strings.TrimSpace(text), nil
}

// Stream sends the last message with SendMessageStream and forwards each text part.
func (g *GeminiGenerator) Stream(ctx context.Context, p Prompt, maxTokens int, onDelta func(string) error) (string, error) {
	cs, parts, err := g.chat(p, maxTokens)
	if err != nil {
		return "", err
	}
	if err := provider.Wait(ctx, g.limiter); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationService, err)
	}
	iter := cs.SendMessageStream(ctx, parts...)
	var sb strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return sb.String(), provider.Classify(err, models.ErrGenerationService)
		}
		delta := responseText(resp)
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Name returns "gemini/<model>".
func (g *GeminiGenerator) Name() string {
	return "gemini/" + g.name
}

// Close releases the Gemini client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
