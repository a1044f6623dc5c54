package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/tanya/internal/models"
)

// pageSeparator is written between PDF pages so chunk boundaries can fall on page breaks.
const pageSeparator = "\n\n"

// extractPDF returns the text of every page and the offset at which each page starts.
// Empty pages keep their number but add no marker.
func extractPDF(content []byte) (Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{}, fmt.Errorf("open PDF: %w", err)
	}
	var (
		buf   strings.Builder
		pages []models.PageMarker
	)
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(pageSeparator)
		}
		pages = append(pages, models.PageMarker{Number: i, Offset: buf.Len()})
		buf.WriteString(text)
	}
	return Result{Text: buf.String(), Pages: pages}, nil
}
