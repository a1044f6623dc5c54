package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/provider"
)

// OpenAIGenerator calls the chat completions endpoint of an OpenAI-compatible API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewOpenAIGenerator returns a generator for model. rps throttles outgoing requests;
// zero disables throttling.
func NewOpenAIGenerator(apiKey, baseURL, model string, temperature float32, rps float64, opts ...Option) (*OpenAIGenerator, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai generator: api key is required")
	}
	o := applyOptions(opts)
	return &OpenAIGenerator{
		client:      provider.NewOpenAIClient(apiKey, baseURL),
		model:       model,
		temperature: temperature,
		limiter:     provider.NewLimiter(rps),
		logger:      o.logger,
	}, nil
}

func (g *OpenAIGenerator) request(p Prompt, maxTokens int, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	for _, m := range p.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
		Stream:      stream,
	}
}

// Generate returns the first choice of a chat completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt, maxTokens int) (string, error) {
	if err := provider.Wait(ctx, g.limiter); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationService, err)
	}
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, g.request(p, maxTokens, false))
	if err != nil {
		return "", provider.Classify(err, models.ErrGenerationService)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", models.ErrGenerationService)
	}
	if g.logger != nil {
		g.logger.Debug("openai completion",
			zap.String("model", g.model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
			zap.Duration("took", time.Since(start)))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream sends a streaming chat completion and forwards each content delta.
func (g *OpenAIGenerator) Stream(ctx context.Context, p Prompt, maxTokens int, onDelta func(string) error) (string, error) {
	if err := provider.Wait(ctx, g.limiter); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationService, err)
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(p, maxTokens, true))
	if err != nil {
		return "", provider.Classify(err, models.ErrGenerationService)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), provider.Classify(err, models.ErrGenerationService)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
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

// Name returns "openai/<model>".
func (g *OpenAIGenerator) Name() string {
	return "openai/" + g.model
}

// Close is a no-op.
func (g *OpenAIGenerator) Close() error {
	return nil
}
