package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func chatServer(t *testing.T, status *int32, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if code := atomic.LoadInt32(status); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(code))
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*got = req
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, piece := range []string{"Metformin ", "lowers ", "blood sugar."} {
				chunk := map[string]any{
					"id": "c1", "object": "chat.completion.chunk", "created": 1, "model": req.Model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": piece}}},
				}
				b, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "object": "chat.completion", "created": 1, "model": req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": " Metformin lowers blood sugar. "},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPrompt() Prompt {
	return Prompt{
		System: "Answer from the documents.\n\n[guide p.1]\nMetformin lowers blood sugar.",
		Messages: []Message{
			{Role: models.RoleUser, Content: "what is diabetes"},
			{Role: models.RoleAssistant, Content: "a condition"},
			{Role: models.RoleUser, Content: "how is it treated"},
		},
	}
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var status int32
	var req chatRequest
	srv := chatServer(t, &status, &req)
	g, err := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "gpt-4o-mini", 0.1, 0)
	if err != nil {
		t.Fatal(err)
	}

	text, err := g.Generate(context.Background(), testPrompt(), 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Metformin lowers blood sugar." {
		t.Errorf("text = %q", text)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("sent %d messages, want 4", len(req.Messages))
	}
	roles := []string{"system", "user", "assistant", "user"}
	for i, m := range req.Messages {
		if m.Role != roles[i] {
			t.Errorf("message %d role = %s, want %s", i, m.Role, roles[i])
		}
	}
	if req.MaxTokens != 100 || req.Model != "gpt-4o-mini" {
		t.Errorf("request = %+v", req)
	}
	if g.Name() != "openai/gpt-4o-mini" {
		t.Errorf("Name = %s", g.Name())
	}
}

func TestOpenAIGenerator_Stream(t *testing.T) {
	var status int32
	var req chatRequest
	srv := chatServer(t, &status, &req)
	g, err := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "gpt-4o-mini", 0.1, 0)
	if err != nil {
		t.Fatal(err)
	}

	var deltas []string
	text, err := g.Stream(context.Background(), testPrompt(), 100, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !req.Stream {
		t.Error("request was not a stream")
	}
	if len(deltas) != 3 || text != strings.Join(deltas, "") || text != "Metformin lowers blood sugar." {
		t.Errorf("deltas = %q, text = %q", deltas, text)
	}
}

func TestOpenAIGenerator_StreamCallbackAborts(t *testing.T) {
	var status int32
	var req chatRequest
	srv := chatServer(t, &status, &req)
	g, _ := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "gpt-4o-mini", 0.1, 0)

	stop := errors.New("client gone")
	calls := 0
	_, err := g.Stream(context.Background(), testPrompt(), 100, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	tests := []struct {
		status    int32
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			status := tt.status
			var req chatRequest
			srv := chatServer(t, &status, &req)
			g, _ := NewOpenAIGenerator("sk-test", srv.URL+"/v1", "gpt-4o-mini", 0.1, 0)

			_, err := g.Generate(context.Background(), testPrompt(), 10)
			if !errors.Is(err, models.ErrGenerationService) {
				t.Fatalf("err = %v, want ErrGenerationService", err)
			}
			if retry.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v", retry.IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestNewOpenAIGenerator_requiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator("", "", "m", 0, 0); err == nil {
		t.Error("expected error without key or base url")
	}
}
