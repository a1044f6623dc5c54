package answer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/generation"
	"github.com/hyperjump/tanya/internal/ingest"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/prompt"
	"github.com/hyperjump/tanya/internal/retrieval"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/internal/session"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/tokens"
	"github.com/hyperjump/tanya/internal/vector"
)

const testSystem = "Answer only from the reference documents."

// scriptedGenerator replies with a fixed text. The first failFor calls fail with err;
// with block set every call waits for its context instead.
type scriptedGenerator struct {
	mu        sync.Mutex
	reply     string
	err       error
	failFor   int
	block     bool
	midStream bool
	calls     int
	prompts   []generation.Prompt
}

func (g *scriptedGenerator) begin(p generation.Prompt) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, p)
	return g.calls, g.block
}

func (g *scriptedGenerator) Generate(ctx context.Context, p generation.Prompt, maxTokens int) (string, error) {
	call, block := g.begin(p)
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if call <= g.failFor {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptedGenerator) Stream(ctx context.Context, p generation.Prompt, maxTokens int, onDelta func(string) error) (string, error) {
	call, block := g.begin(p)
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	words := strings.SplitAfter(g.reply, " ")
	if call <= g.failFor {
		if g.midStream {
			if err := onDelta(words[0]); err != nil {
				return "", err
			}
		}
		return "", g.err
	}
	for _, w := range words {
		if err := onDelta(w); err != nil {
			return "", err
		}
	}
	return g.reply, nil
}

func (g *scriptedGenerator) Name() string { return "scripted" }
func (g *scriptedGenerator) Close() error { return nil }

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	orchestrator *Orchestrator
	sessions     *session.Manager
	pipeline     *ingest.Pipeline
}

func newTestEnv(t *testing.T, gen generation.Generator, opts ...Option) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.NewMemoryIndex(256)
	require.NoError(t, err)
	emb := embedding.NewHashEmbedder(256)
	counter := tokens.WordCounter{}

	sessions := session.NewManager(session.NewMemoryStore(), session.WithLimits(100, 100000))
	engine := retrieval.NewEngine(emb, index, retrieval.WithMinSimilarity(0.2))
	o := New(sessions, engine, prompt.NewAssembler(counter, testSystem, 0), gen, opts...)
	return &testEnv{
		orchestrator: o,
		sessions:     sessions,
		pipeline:     ingest.NewPipeline(store, emb, index, ingest.NewChunker(counter, 50, 5)),
	}
}

func (e *testEnv) history(t *testing.T, id string) []models.Turn {
	t.Helper()
	turns, err := e.sessions.History(context.Background(), id, 0)
	require.NoError(t, err)
	return turns
}

func TestAnswer_DiabetesScenario(t *testing.T) {
	env := newTestEnv(t, generation.NewExtractiveGenerator(tokens.WordCounter{}))
	ctx := context.Background()
	_, err := env.pipeline.Ingest(ctx, &models.DocumentInput{
		ID:      "diabetes",
		Title:   "Diabetes guide",
		Content: "Diabetes management requires daily monitoring. Patients should track blood glucose levels.",
	})
	require.NoError(t, err)

	got, err := env.orchestrator.Answer(ctx, "s1", "How often should a diabetic check glucose?")
	require.NoError(t, err)

	assert.True(t, got.Grounded)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "diabetes#0", got.Citations[0].ChunkID)
	assert.Equal(t, "Diabetes guide", got.Citations[0].Title)
	assert.Greater(t, got.Citations[0].Score, 0.0)
	assert.Greater(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
	assert.Contains(t, got.Answer, "glucose")
	assert.False(t, got.SessionRenewed)

	turns := env.history(t, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, []string{"diabetes#0"}, turns[1].Citations)
	assert.Equal(t, got.Turn.Seq, turns[1].Seq)
}

func TestAnswer_NoDocuments(t *testing.T) {
	gen := &scriptedGenerator{reply: "I could not find this in the documents."}
	env := newTestEnv(t, gen)

	got, err := env.orchestrator.Answer(context.Background(), "s1", "What is the dose of metformin?")
	require.NoError(t, err)

	assert.False(t, got.Grounded)
	assert.NotNil(t, got.Citations)
	assert.Empty(t, got.Citations)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, gen.reply, got.Answer)
	require.Equal(t, 1, gen.callCount())
	assert.Equal(t, testSystem, gen.prompts[0].System)
	assert.Len(t, env.history(t, "s1"), 2)
}

func TestAnswer_GenerationTimeouts(t *testing.T) {
	gen := &scriptedGenerator{reply: "Metformin.", block: true}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Timeout: 20 * time.Millisecond}
	env := newTestEnv(t, gen, WithGenerationRetry(policy))
	ctx := context.Background()

	_, err := env.orchestrator.Answer(ctx, "s1", "What is metformin?")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, gen.callCount())

	turns := env.history(t, "s1")
	require.Len(t, turns, 1, "user turn is kept, no assistant turn")
	assert.Equal(t, models.RoleUser, turns[0].Role)

	gen.mu.Lock()
	gen.block = false
	gen.mu.Unlock()
	got, err := env.orchestrator.Answer(ctx, "s1", "What is metformin?")
	require.NoError(t, err)
	assert.Equal(t, "Metformin.", got.Answer)

	turns = env.history(t, "s1")
	require.Len(t, turns, 2, "the retried question is not recorded twice")
	assert.Equal(t, []int{0, 1}, []int{turns[0].Seq, turns[1].Seq})
}

func TestAnswer_RetriesTransientFailures(t *testing.T) {
	gen := &scriptedGenerator{reply: "ok", failFor: 2, err: fmt.Errorf("%w: 503", models.ErrGenerationService)}
	env := newTestEnv(t, gen, WithGenerationRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	got, err := env.orchestrator.Answer(context.Background(), "s1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Answer)
	assert.Equal(t, 3, gen.callCount())
}

func TestAnswer_PermanentFailureNotRetried(t *testing.T) {
	gen := &scriptedGenerator{failFor: 10, err: retry.Permanent(fmt.Errorf("%w: 401", models.ErrGenerationService))}
	env := newTestEnv(t, gen, WithGenerationRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	_, err := env.orchestrator.Answer(context.Background(), "s1", "hello there")
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.ErrorIs(t, err, models.ErrGenerationService)
	assert.Equal(t, 1, gen.callCount())
}

func TestAnswer_HistoryFeedsPrompt(t *testing.T) {
	gen := &scriptedGenerator{reply: "noted"}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	_, err := env.orchestrator.Answer(ctx, "s1", "I take metformin")
	require.NoError(t, err)
	_, err = env.orchestrator.Answer(ctx, "s1", "Is it safe with ibuprofen?")
	require.NoError(t, err)

	msgs := gen.prompts[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, generation.Message{Role: models.RoleUser, Content: "I take metformin"}, msgs[0])
	assert.Equal(t, generation.Message{Role: models.RoleAssistant, Content: "noted"}, msgs[1])
	assert.Equal(t, generation.Message{Role: models.RoleUser, Content: "Is it safe with ibuprofen?"}, msgs[2])
}

func TestAnswer_PromptFitsTokenBudget(t *testing.T) {
	gen := &scriptedGenerator{reply: "keep it cold"}
	env := newTestEnv(t, gen, WithTokenBudget(20))
	ctx := context.Background()
	_, err := env.pipeline.Ingest(ctx, &models.DocumentInput{
		ID:      "insulin",
		Title:   "Insulin storage",
		Content: "Insulin should be stored in a refrigerator. Opened pens keep at room temperature for a month.",
	})
	require.NoError(t, err)

	question := strings.TrimSpace(strings.Repeat("insulin storage ", 100)) + " fridge"
	for i := 0; i < 2; i++ {
		_, err := env.orchestrator.Answer(ctx, "s1", question)
		require.NoError(t, err)
	}

	counter := tokens.WordCounter{}
	for i, p := range gen.prompts {
		sent := counter.Count(p.System)
		for _, m := range p.Messages {
			sent += counter.Count(m.Content)
		}
		assert.LessOrEqual(t, sent, 20, "prompt %d", i)
		require.NotEmpty(t, p.Messages)
		assert.Equal(t, models.RoleUser, p.Messages[len(p.Messages)-1].Role)
	}
}

func TestAnswer_NewSessionID(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{reply: "hi"})
	got, err := env.orchestrator.Answer(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, got.SessionID)
	assert.Len(t, env.history(t, got.SessionID), 2)
}

func TestAnswer_InvalidMessage(t *testing.T) {
	gen := &scriptedGenerator{reply: "hi"}
	env := newTestEnv(t, gen)
	for _, msg := range []string{"", "   ", strings.Repeat("가", MaxMessageLength+1)} {
		_, err := env.orchestrator.Answer(context.Background(), "s1", msg)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
	assert.NoError(t, CheckMessage(strings.Repeat("가", MaxMessageLength)))
	assert.Zero(t, gen.callCount())
}

type failingRetriever struct{ err error }

func (f failingRetriever) Retrieve(ctx context.Context, query string, k int, filter vector.Filter) (*models.RetrievalResult, error) {
	return nil, f.err
}

func TestAnswer_RetrievalUnavailable(t *testing.T) {
	for _, sentinel := range []error{models.ErrEmbeddingUnavailable, models.ErrVectorIndexUnavailable} {
		gen := &scriptedGenerator{reply: "hi"}
		sessions := session.NewManager(session.NewMemoryStore())
		o := New(sessions, failingRetriever{err: fmt.Errorf("%w: down", sentinel)}, prompt.NewAssembler(tokens.WordCounter{}, testSystem, 0), gen)

		_, err := o.Answer(context.Background(), "s1", "hello")
		assert.ErrorIs(t, err, sentinel)
		assert.Zero(t, gen.callCount())

		turns, err := sessions.History(context.Background(), "s1", 0)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	}
}

func TestAnswer_SessionRenewed(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	sessions := session.NewManager(session.NewMemoryStore(), session.WithTTL(time.Minute), session.WithClock(clock))
	gen := &scriptedGenerator{reply: "hi"}
	o := New(sessions, emptyRetriever{}, prompt.NewAssembler(tokens.WordCounter{}, testSystem, 0), gen)

	first, err := o.Answer(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.False(t, first.SessionRenewed)

	now = now.Add(time.Hour)
	second, err := o.Answer(context.Background(), "s1", "hello again")
	require.NoError(t, err)
	assert.True(t, second.SessionRenewed)
	assert.Len(t, gen.prompts[1].Messages, 1, "expired history is not sent")
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(ctx context.Context, query string, k int, filter vector.Filter) (*models.RetrievalResult, error) {
	return &models.RetrievalResult{Query: query, Candidates: []models.Candidate{}}, nil
}

func TestAnswer_ConcurrentSameSession(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{reply: "ok"})
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.orchestrator.Answer(ctx, "shared", fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns := env.history(t, "shared")
	require.Len(t, turns, 2*n)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Seq)
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		assert.Equal(t, want, turn.Role, "turn %d", i)
	}
}

func TestAnswerStream_DeliversDeltas(t *testing.T) {
	gen := &scriptedGenerator{reply: "Metformin lowers blood sugar."}
	env := newTestEnv(t, gen)

	var deltas []string
	got, err := env.orchestrator.AnswerStream(context.Background(), "s1", "What does metformin do?", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, got.Answer, strings.Join(deltas, ""))
	assert.Len(t, deltas, 4)
}

func TestAnswerStream_RetriesBeforeFirstDelta(t *testing.T) {
	gen := &scriptedGenerator{reply: "ok then", failFor: 1, err: fmt.Errorf("%w: reset", models.ErrGenerationService)}
	env := newTestEnv(t, gen, WithGenerationRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	got, err := env.orchestrator.AnswerStream(context.Background(), "s1", "hello", func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ok then", got.Answer)
	assert.Equal(t, 2, gen.callCount())
}

func TestAnswerStream_NoRetryAfterDelta(t *testing.T) {
	gen := &scriptedGenerator{reply: "partial answer", failFor: 5, midStream: true, err: fmt.Errorf("%w: reset", models.ErrGenerationService)}
	env := newTestEnv(t, gen, WithGenerationRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	var deltas []string
	_, err := env.orchestrator.AnswerStream(context.Background(), "s1", "hello", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, []string{"partial "}, deltas)
	assert.Len(t, env.history(t, "s1"), 1)
}

func TestAnswerStream_CallbackErrorAborts(t *testing.T) {
	gen := &scriptedGenerator{reply: "a b c"}
	env := newTestEnv(t, gen, WithGenerationRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}))

	gone := errors.New("client gone")
	_, err := env.orchestrator.AnswerStream(context.Background(), "s1", "hello", func(string) error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.NotErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Equal(t, 1, gen.callCount())
	assert.Len(t, env.history(t, "s1"), 1)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		top  float64
		want float64
	}{
		{0.876, 0.88},
		{1.3, 1},
		{0.004, 0},
	}
	for _, tt := range tests {
		r := &models.RetrievalResult{Candidates: []models.Candidate{{Score: tt.top}}}
		assert.Equal(t, tt.want, confidence(r), "top %v", tt.top)
	}
	assert.Zero(t, confidence(&models.RetrievalResult{}))
}
