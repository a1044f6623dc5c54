package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

func embeddingServer(t *testing.T, dims int, status *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if code := atomic.LoadInt32(status); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(code))
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// answer in reverse order to exercise index handling
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i + 1)
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var status int32
	srv := embeddingServer(t, 4, &status)
	e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "text-embedding-ada-002", 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	empty, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty input: %v, %v", empty, err)
	}
	if e.Name() != "openai/text-embedding-ada-002" {
		t.Errorf("Name() = %s", e.Name())
	}
}

func TestOpenAIEmbedder_dimensionMismatchIsPermanent(t *testing.T) {
	var status int32
	srv := embeddingServer(t, 3, &status)
	e, _ := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "m", 4, 0)
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, models.ErrEmbeddingService) || !retry.IsPermanent(err) {
		t.Errorf("err = %v, want permanent embedding service error", err)
	}
}

func TestOpenAIEmbedder_errorClassification(t *testing.T) {
	tests := []struct {
		status    int32
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(int(tt.status)), func(t *testing.T) {
			status := tt.status
			srv := embeddingServer(t, 4, &status)
			e, _ := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "m", 4, 0)
			_, err := e.Embed(context.Background(), "x")
			if !errors.Is(err, models.ErrEmbeddingService) {
				t.Fatalf("err = %v, want ErrEmbeddingService", err)
			}
			if retry.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v", retry.IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestNewOpenAIEmbedder_requiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder("", "", "m", 4, 0); err == nil {
		t.Error("expected error without key or base url")
	}
}
