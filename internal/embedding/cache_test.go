package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	hits, misses := c.Stats()
	if hits != 2 || misses != 2 {
		t.Errorf("stats = %d hits, %d misses", hits, misses)
	}
}

type countingEmbedder struct {
	*HashEmbedder
	batches [][]string
	fail    error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, texts)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_onlyForwardsMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(32)}
	e := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	if _, err := e.EmbedBatch(ctx, []string{"insulin", "glucose"}); err != nil {
		t.Fatal(err)
	}
	got, err := e.EmbedBatch(ctx, []string{"glucose", "metformin", "insulin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inner.batches) != 2 || len(inner.batches[1]) != 1 || inner.batches[1][0] != "metformin" {
		t.Fatalf("forwarded batches = %v", inner.batches)
	}
	want, _ := NewHashEmbedder(32).Embed(ctx, "metformin")
	for i := range want {
		if got[1][i] != want[i] {
			t.Fatalf("result order not preserved at %d", i)
		}
	}
	if _, err := e.EmbedBatch(ctx, []string{"glucose"}); err != nil {
		t.Fatal(err)
	}
	if len(inner.batches) != 2 {
		t.Error("fully cached batch should not reach the provider")
	}
}

func TestCachedEmbedder_errorNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8), fail: boom}
	e := NewCachedEmbedder(inner, 10)
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if e.Cache().Len() != 0 {
		t.Error("failed batch must not populate the cache")
	}
	if e.Name() != "hash" || e.Dimensions() != 8 {
		t.Errorf("decorator should expose inner name and dimensions, got %s/%d", e.Name(), e.Dimensions())
	}
}
