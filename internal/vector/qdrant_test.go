package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

func TestQdrantConfig(t *testing.T) {
	tests := []struct {
		addr string
		host string
		port int
		tls  bool
	}{
		{"http://localhost:6334", "localhost", 6334, false},
		{"https://xyz.cloud.qdrant.io:6334", "xyz.cloud.qdrant.io", 6334, true},
		{"qdrant:7000", "qdrant", 7000, false},
		{"qdrant", "qdrant", defaultQdrantPort, false},
		{"", "localhost", defaultQdrantPort, false},
	}
	for _, tt := range tests {
		cfg, err := qdrantConfig(tt.addr, "key")
		if err != nil {
			t.Errorf("%q: %v", tt.addr, err)
			continue
		}
		if cfg.Host != tt.host || cfg.Port != tt.port || cfg.UseTLS != tt.tls || cfg.APIKey != "key" {
			t.Errorf("%q: got %+v", tt.addr, cfg)
		}
	}
	if _, err := qdrantConfig("http://localhost:port", ""); err == nil {
		t.Error("expected error for a non-numeric port")
	}
}

func TestQdrantPayload_roundTrip(t *testing.T) {
	in := map[string]string{"document_id": "doc-a", "page": "3"}
	stored := toQdrantPayload("doc-a#0", in)
	if stored[chunkIDKey].GetStringValue() != "doc-a#0" {
		t.Errorf("chunk id not stored: %v", stored)
	}
	stored["score_hint"] = qdrant.NewValueInt(7)

	id, out := fromQdrantPayload(stored)
	if id != "doc-a#0" {
		t.Errorf("id = %q", id)
	}
	if _, ok := out[chunkIDKey]; ok {
		t.Error("chunk_id should be stripped from the returned payload")
	}
	if out["document_id"] != "doc-a" || out["page"] != "3" || out["score_hint"] != "7" {
		t.Errorf("payload = %v", out)
	}
}

func TestQdrantFilter(t *testing.T) {
	if qdrantFilter(nil) != nil {
		t.Error("empty filter should be omitted")
	}
	f := qdrantFilter(Filter{"document_id": "doc-a"})
	if len(f.GetMust()) != 1 {
		t.Fatalf("must = %v", f.GetMust())
	}
	m := f.GetMust()[0].GetField()
	if m.GetKey() != "document_id" || m.GetMatch().GetKeyword() != "doc-a" {
		t.Errorf("condition = %v", m)
	}
}

func TestClassifyQdrant(t *testing.T) {
	if classifyQdrant(nil) != nil {
		t.Error("nil stays nil")
	}
	transient := classifyQdrant(status.Error(codes.Unavailable, "connection refused"))
	if !errors.Is(transient, models.ErrVectorIndex) || retry.IsPermanent(transient) {
		t.Errorf("unavailable should be transient, got %v", transient)
	}
	wrapped := fmt.Errorf("upsert: %w", status.Error(codes.InvalidArgument, "wrong vector size"))
	if err := classifyQdrant(wrapped); !retry.IsPermanent(err) {
		t.Errorf("invalid argument should be permanent, got %v", err)
	}
	if err := classifyQdrant(errors.New("dial tcp: timeout")); retry.IsPermanent(err) {
		t.Errorf("transport errors should be transient, got %v", err)
	}
}

func TestPointUUID_stable(t *testing.T) {
	if PointUUID("a#0") != PointUUID("a#0") {
		t.Error("point uuid must be deterministic")
	}
	if PointUUID("a#0") == PointUUID("a#1") {
		t.Error("different chunks must get different point ids")
	}
}

func TestQdrantIndex(t *testing.T) {
	addr := os.Getenv("TANYA_TEST_QDRANT_ADDR")
	if addr == "" {
		t.Skip("TANYA_TEST_QDRANT_ADDR not set")
	}
	ctx := context.Background()
	collection := fmt.Sprintf("tanya_test_%d", time.Now().UnixNano())
	idx, err := NewQdrantIndex(ctx, addr, os.Getenv("TANYA_TEST_QDRANT_KEY"), collection, 2, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.client.DeleteCollection(context.Background(), collection)
		_ = idx.Close()
	})

	err = idx.Upsert(ctx, []Point{
		{ID: "doc-a#0", Vector: []float32{1, 0}, Payload: map[string]string{"document_id": "doc-a"}},
		{ID: "doc-b#0", Vector: []float32{0, 1}, Payload: map[string]string{"document_id": "doc-b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, []float32{1, 0.1}, 5, Filter{"document_id": "doc-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "doc-a#0" {
		t.Fatalf("search = %+v", res)
	}
	if n, err := idx.CountMatching(ctx, Filter{"document_id": "doc-b"}); err != nil || n != 1 {
		t.Errorf("CountMatching = %d, %v", n, err)
	}
	if err := idx.Remove(ctx, []string{"doc-a#0"}); err != nil {
		t.Fatal(err)
	}
	if n, err := idx.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}

	if _, err := NewQdrantIndex(ctx, addr, os.Getenv("TANYA_TEST_QDRANT_KEY"), collection, 3, 5*time.Second); !errors.Is(err, models.ErrVectorIndex) {
		t.Errorf("dimension mismatch: got %v", err)
	}
}
