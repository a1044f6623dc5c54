package vector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestPGVectorIndex(t *testing.T) {
	dsn := os.Getenv("TANYA_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TANYA_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	collection := fmt.Sprintf("tanya_test_%d", time.Now().UnixNano())
	idx, err := NewPGVectorIndex(ctx, dsn, collection, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = idx.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+idx.table)
		idx.Close()
	})

	err = idx.Upsert(ctx, []Point{
		{ID: "a#0", Vector: []float32{1, 0}, Payload: map[string]string{"document_id": "a"}},
		{ID: "b#0", Vector: []float32{0, 1}, Payload: map[string]string{"document_id": "b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, []float32{1, 0}, 5, Filter{"document_id": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "a#0" || res[0].Score < 0.99 {
		t.Errorf("search = %+v", res)
	}
	if err := idx.Remove(ctx, []string{"a#0"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.Count(ctx); n != 1 {
		t.Errorf("count = %d", n)
	}
	if n, err := idx.CountMatching(ctx, Filter{"document_id": "b"}); err != nil || n != 1 {
		t.Errorf("CountMatching(b) = %d, %v", n, err)
	}
	if n, err := idx.CountMatching(ctx, Filter{"document_id": "a"}); err != nil || n != 0 {
		t.Errorf("CountMatching(a) = %d, %v", n, err)
	}
}

func TestNewPGVectorIndex_requiresDSN(t *testing.T) {
	if _, err := NewPGVectorIndex(context.Background(), "", "c", 2); err == nil {
		t.Error("expected error without dsn")
	}
}
