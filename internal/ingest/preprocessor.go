package ingest

import (
	"strings"
	"unicode"

	"github.com/hyperjump/tanya/internal/models"
)

const pageSeparator = "\n\n"

// Preprocess normalizes text for chunking: unified line endings, no control characters,
// single spaces inside lines and at most one blank line between paragraphs. Pages are
// cleaned one by one and their markers recomputed; pages left empty are dropped.
func Preprocess(text string, pages []models.PageMarker) (string, []models.PageMarker) {
	if len(pages) == 0 {
		return cleanText(text), nil
	}
	var b strings.Builder
	var out []models.PageMarker
	for _, seg := range pageSegments(text, pages) {
		cleaned := cleanText(text[seg.start:seg.end])
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(pageSeparator)
		}
		if seg.page > 0 {
			out = append(out, models.PageMarker{Number: seg.page, Offset: b.Len()})
		}
		b.WriteString(cleaned)
	}
	return b.String(), out
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = collapseSpaces(line)
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = 0
	}
	return b.String()
}

// collapseSpaces trims the line, turns runs of spaces and tabs into one space and drops
// other control characters.
func collapseSpaces(line string) string {
	var b strings.Builder
	wasSpace := false
	for _, r := range strings.TrimSpace(line) {
		switch {
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
