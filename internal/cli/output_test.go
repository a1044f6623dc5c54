package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
)

func sampleTurn() *models.AnsweredTurn {
	return &models.AnsweredTurn{
		SessionID: "s1",
		Answer:    "Patients should track blood glucose levels.",
		Citations: []models.Citation{
			{ChunkID: "diabetes#0", DocumentID: "diabetes", Title: "Diabetes guide", Page: 3, Score: 0.82},
			{ChunkID: "notes#1", DocumentID: "notes", Score: 0.4},
		},
		Grounded:   true,
		Confidence: 0.82,
	}
}

func TestWriteAnswer_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleTurn(), OutputText, false); err != nil {
		t.Fatalf("WriteAnswer(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"track blood glucose", "confidence 0.82", "[1] Diabetes guide p.3", "[2] notes", "diabetes#0"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteAnswer_streamedOmitsAnswer(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleTurn(), OutputText, true); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "track blood glucose") {
		t.Errorf("streamed answer printed twice:\n%s", buf.String())
	}
}

func TestWriteAnswer_ungrounded(t *testing.T) {
	turn := &models.AnsweredTurn{SessionID: "s1", Answer: "No information."}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, turn, OutputText, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no matching reference passages") {
		t.Errorf("expected no-passages note:\n%s", buf.String())
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleTurn(), OutputJSON, false); err != nil {
		t.Fatalf("WriteAnswer(json): %v", err)
	}
	var decoded models.AnsweredTurn
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.SessionID != "s1" || len(decoded.Citations) != 2 {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestWriteStatus_text(t *testing.T) {
	disk := int64(4096)
	s := &Status{
		Status:          "healthy",
		Embedder:        "hash",
		Generator:       "extractive",
		VectorBackend:   "memory",
		Documents:       2,
		Chunks:          7,
		VectorIndexSize: 7,
		DiskUsageBytes:  &disk,
		Config:          map[string]interface{}{"top_k": 5, "chunk_tokens": 500},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"healthy", "documents:          2", "4096", "extractive", "top_k:", "chunk_tokens:"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}
	if strings.Index(out, "chunk_tokens") > strings.Index(out, "top_k") {
		t.Error("config keys should be sorted")
	}
}

func TestWriteIngestResult(t *testing.T) {
	tests := []struct {
		res  *models.IngestResult
		want string
	}{
		{&models.IngestResult{DocumentID: "a", Status: models.StatusIndexed, Chunks: 3}, "indexed    guide.pdf (a): 3 chunks"},
		{&models.IngestResult{DocumentID: "a", Status: models.StatusUnchanged}, "unchanged  guide.pdf (a)"},
		{&models.IngestResult{DocumentID: "a", Status: models.StatusPartial, Chunks: 3, Succeeded: []string{"a#0"}, Error: "vector index unavailable"}, "1 of 3 chunks"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteIngestResult(&buf, "guide.pdf", tt.res, OutputText); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("got %q, want it to contain %q", buf.String(), tt.want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: got %q, %v", f, err)
	}
	if _, err := ParseOutputFormat("compact"); err == nil {
		t.Error("expected error for unknown format")
	}
}
