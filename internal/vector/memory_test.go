package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	points := []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]string{"document_id": "d1"}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]string{"document_id": "d2"}},
		{ID: "c", Vector: []float32{0, 1, 0}, Payload: map[string]string{"document_id": "d1"}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{2, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s, %s", results[0].ID, results[1].ID)
	}
	if results[0].Score < 0.999 {
		t.Errorf("unnormalized query should still score cosine 1, got %f", results[0].Score)
	}
	if results[0].Payload["document_id"] != "d1" {
		t.Errorf("payload = %v", results[0].Payload)
	}

	filtered, err := idx.Search(ctx, []float32{1, 0, 0}, 5, Filter{"document_id": "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 || filtered[0].ID != "a" || filtered[1].ID != "c" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Point{{ID: "x", Vector: []float32{1, 0}, Payload: map[string]string{"v": "1"}}})
	_ = idx.Upsert(ctx, []Point{{ID: "x", Vector: []float32{0, 1}, Payload: map[string]string{"v": "2"}}})
	if idx.Size() != 1 {
		t.Fatalf("upsert should replace, size = %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 1, nil)
	if res[0].Payload["v"] != "2" || res[0].Score < 0.999 {
		t.Errorf("got %+v", res[0])
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Point{
		{ID: "x", Vector: []float32{1, 0}},
		{ID: "y", Vector: []float32{0, 1}},
		{ID: "z", Vector: []float32{1, 1}},
	})
	if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.Count(ctx); n != 2 {
		t.Errorf("expected size 2, got %d", n)
	}
	res, _ := idx.Search(ctx, []float32{1, 0}, 5, nil)
	for _, r := range res {
		if r.ID == "x" {
			t.Error("removed point is still searchable")
		}
	}
	// positions are rebuilt, so a later upsert of z replaces rather than duplicates
	_ = idx.Upsert(ctx, []Point{{ID: "z", Vector: []float32{0, 1}}})
	if idx.Size() != 2 {
		t.Errorf("size after re-upsert = %d", idx.Size())
	}
}

func TestMemoryIndex_CountMatching(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Point{
		{ID: "a#0", Vector: []float32{1, 0}, Payload: map[string]string{"document_id": "a"}},
		{ID: "a#1", Vector: []float32{0, 1}, Payload: map[string]string{"document_id": "a"}},
		{ID: "b#0", Vector: []float32{1, 1}, Payload: map[string]string{"document_id": "b"}},
	})
	for doc, want := range map[string]int{"a": 2, "b": 1, "c": 0} {
		if n, err := idx.CountMatching(ctx, Filter{"document_id": doc}); err != nil || n != want {
			t.Errorf("CountMatching(%s) = %d, %v; want %d", doc, n, err, want)
		}
	}
	if n, _ := idx.CountMatching(ctx, nil); n != 3 {
		t.Errorf("empty filter should match all, got %d", n)
	}
}

func TestMemoryIndex_dimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	err := idx.Upsert(context.Background(), []Point{{ID: "x", Vector: []float32{1}}})
	if !errors.Is(err, models.ErrVectorIndex) || !retry.IsPermanent(err) {
		t.Errorf("err = %v", err)
	}
	if _, err := idx.Search(context.Background(), []float32{1}, 1, nil); err == nil {
		t.Error("expected query dimension error")
	}
	if idx.Size() != 0 {
		t.Error("failed upsert must not write anything")
	}
}

func TestMemoryIndex_tiesOrderedByID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Point{
		{ID: "doc#20", Vector: []float32{1, 0}},
		{ID: "doc#10", Vector: []float32{1, 0}},
	})
	res, _ := idx.Search(ctx, []float32{1, 0}, 2, nil)
	if res[0].ID != "doc#10" {
		t.Errorf("tie order = %s, %s", res[0].ID, res[1].ID)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vectors.bin")
	ctx := context.Background()
	idx, _ := NewMemoryIndex(2)
	_ = idx.Upsert(ctx, []Point{
		{ID: "a#0", Vector: []float32{1, 0}, Payload: map[string]string{"document_id": "a", "page": "3"}},
		{ID: "b#0", Vector: []float32{0, 1}},
	})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size = %d", loaded.Size())
	}
	res, _ := loaded.Search(ctx, []float32{1, 0}, 1, Filter{"page": "3"})
	if len(res) != 1 || res[0].ID != "a#0" || res[0].Payload["document_id"] != "a" {
		t.Errorf("loaded search = %+v", res)
	}

	wrongDim, _ := NewMemoryIndex(3)
	if err := wrongDim.Load(path); err == nil {
		t.Error("expected dimension mismatch on load")
	}
	if err := loaded.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil {
		t.Errorf("missing snapshot should be ignored: %v", err)
	}
	if loaded.Size() != 2 {
		t.Error("missing snapshot must leave the index unchanged")
	}
}
