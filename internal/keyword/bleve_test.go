package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testChunks() []*models.Chunk {
	return []*models.Chunk{
		{ID: "guide#0", DocumentID: "guide", Text: "Metformin is the usual first medicine for type 2 diabetes.", Page: 1},
		{ID: "guide#60", DocumentID: "guide", Text: "Thirst and frequent urination are early symptoms.", Page: 2},
		{ID: "leaflet#0", DocumentID: "leaflet", Text: "Ibuprofen relieves pain and reduces fever.", Page: 1},
	}
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, "Diabetes Guide", testChunks()); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	results, err := idx.Search(ctx, "metformin", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.ID != "guide#0" || r.DocumentID != "guide" || r.Title != "Diabetes Guide" || r.Page != 1 {
		t.Errorf("unexpected hit %+v", r)
	}
	if r.Text == "" {
		t.Error("stored text should be returned")
	}
}

func TestBleveIndex_SearchDocumentFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, "Diabetes Guide", testChunks()[:2]); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexChunks(ctx, "Pain Leaflet", testChunks()[2:]); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "fever symptoms", 10, &SearchOptions{DocumentID: "guide"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "guide#60" {
		t.Errorf("got %+v, want only guide#60", results)
	}
}

func TestBleveIndex_SearchFuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, "Pain Leaflet", testChunks()[2:]); err != nil {
		t.Fatal(err)
	}

	exact, err := idx.Search(ctx, "ibuprofn", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(exact) != 0 {
		t.Errorf("misspelled query without fuzzy: got %d results", len(exact))
	}
	fuzzy, err := idx.Search(ctx, "ibuprofn", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 || fuzzy[0].ID != "leaflet#0" {
		t.Errorf("fuzzy: got %+v", fuzzy)
	}
}

func TestBleveIndex_SearchTitleBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, "Diabetes Guide", testChunks()[:1]); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "guide", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("title is not searched without boost, got %d", len(results))
	}
	results, err = idx.Search(ctx, "guide", 10, &SearchOptions{TitleBoost: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("title boost: got %d results, want 1", len(results))
	}
}

func TestBleveIndex_SearchEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "  ", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results", len(results))
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, "Diabetes Guide", testChunks()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, []string{"guide#0", "guide#60", "missing#1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "metformin", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DocCount() = %d, want 1", n)
	}
}

func TestBleveIndex_ReopenKeepsChunks(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.IndexChunks(ctx, "Pain Leaflet", testChunks()[2:]); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (open existing): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	results, err := idx2.Search(ctx, "ibuprofen", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("after reopen got %d results, want 1", len(results))
	}
}

func TestNewBleveIndex_createsDir(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")

	idx, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	_ = idx.Close()

	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index path should exist: %v", err)
	}
}

func TestNewBleveIndex_inMemory(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer idx.Close()
	if err := idx.IndexChunks(context.Background(), "t", testChunks()); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 3 {
		t.Errorf("DocCount() = %d, want 3", n)
	}
}
