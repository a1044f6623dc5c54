// Package extract provides text extraction from various document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

// Result is the plain text of a document plus the offsets where each page starts.
// Pages is empty for formats without a page notion.
type Result struct {
	Text  string
	Pages []models.PageMarker
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

var supported = map[string]bool{
	".pdf": true, ".docx": true, ".xlsx": true, ".pptx": true,
	".odp": true, ".ods": true, ".odt": true, ".rtf": true,
	".txt": true, ".md": true, ".rst": true, ".csv": true, "": true,
}

// Supported reports whether ext (with leading dot) can be extracted.
func Supported(ext string) bool {
	return supported[strings.ToLower(ext)]
}

// SupportedExtensions returns the extensions ExtractBytes accepts, sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(supported))
	for ext := range supported {
		if ext != "" {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
// Returns an error if the file cannot be read or the format is unsupported.
func (e *Extractor) Extract(path string) (Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions fail with
// models.ErrUnsupportedFormat; a readable file without text is not an error here.
func (e *Extractor) ExtractBytes(content []byte, ext string) (Result, error) {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".pptx":
		return extractPPTX(content)
	}

	var (
		text string
		err  error
	)
	switch ext {
	case ".docx":
		text, err = extractDOCX(content)
	case ".odt", ".rtf":
		text, err = extractWithCat(content, ext)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".odp":
		text, err = extractODF(content, "ODP", odpTextP, odpTextSpan, odpTextH)
	case ".ods":
		text, err = extractODF(content, "ODS", odpTextP, odpTextSpan)
	case ".txt", ".md", ".rst", ".csv", "":
		text, err = extractPlain(content)
	default:
		return Result{}, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}
