package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answered turn. Text output lists the cited passages under the
// answer unless the answer was already streamed, in which case only the sources follow.
func WriteAnswer(w io.Writer, turn *models.AnsweredTurn, format OutputFormat, streamed bool) error {
	if format == OutputJSON {
		return writeJSON(w, turn)
	}
	if !streamed {
		fmt.Fprintln(w, turn.Answer)
	}
	WriteCitations(w, turn)
	return nil
}

// WriteCitations writes the sources and confidence of an answered turn.
func WriteCitations(w io.Writer, turn *models.AnsweredTurn) {
	if !turn.Grounded || len(turn.Citations) == 0 {
		fmt.Fprintf(w, "\n(no matching reference passages)\n")
		return
	}
	fmt.Fprintf(w, "\nSources (confidence %.2f):\n", turn.Confidence)
	for i, c := range turn.Citations {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, citationLabel(c))
	}
}

func citationLabel(c models.Citation) string {
	label := c.Title
	if label == "" {
		label = c.DocumentID
	}
	if c.Page > 0 {
		label = fmt.Sprintf("%s p.%d", label, c.Page)
	}
	return fmt.Sprintf("%s  (score %.3f, %s)", utils.Truncate(label, 80), c.Score, c.ChunkID)
}

// WriteStatus writes the server status.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "status:             %s\n", s.Status)
	if s.Error != "" {
		fmt.Fprintf(w, "error:              %s\n", s.Error)
	}
	fmt.Fprintf(w, "documents:          %d   # count of ingested documents\n", s.Documents)
	fmt.Fprintf(w, "chunks:             %d   # count of text chunks\n", s.Chunks)
	fmt.Fprintf(w, "vector_index_size:  %d   # count of vectors in the index\n", s.VectorIndexSize)
	fmt.Fprintf(w, "sessions:           %d\n", s.Sessions)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # registry + indices on disk\n", *s.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# backends")
	fmt.Fprintf(w, "embedder:           %s\n", s.Embedder)
	fmt.Fprintf(w, "generator:          %s\n", s.Generator)
	fmt.Fprintf(w, "vector_backend:     %s\n", s.VectorBackend)
	if s.Version != "" {
		fmt.Fprintf(w, "version:            %s\n", s.Version)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-20s%v\n", k+":", s.Config[k])
		}
	}
	return nil
}

// WriteIngestResult writes the outcome of ingesting one document.
func WriteIngestResult(w io.Writer, path string, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	switch res.Status {
	case models.StatusUnchanged:
		fmt.Fprintf(w, "unchanged  %s (%s)\n", path, res.DocumentID)
	case models.StatusPartial:
		fmt.Fprintf(w, "partial    %s (%s): %d of %d chunks indexed: %s\n",
			path, res.DocumentID, len(res.Succeeded), res.Chunks, res.Error)
	default:
		fmt.Fprintf(w, "%-10s %s (%s): %d chunks\n", res.Status, path, res.DocumentID, res.Chunks)
	}
	return nil
}
