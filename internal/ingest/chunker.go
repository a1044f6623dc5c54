package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/tokens"
)

// separators are tried in order when a span is larger than the chunk size.
var separators = []string{"\n\n", "\n", ". ", " "}

// Span is a chunk-sized slice of document text.
type Span struct {
	Offset int
	Length int
	Text   string
	Tokens int
	Page   int
}

// Chunker splits text into overlapping, token-bounded spans that never cross a page.
type Chunker struct {
	counter      tokens.Counter
	chunkTokens  int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap in tokens.
// Overlap is clamped below the chunk size.
func NewChunker(counter tokens.Counter, chunkTokens, chunkOverlap int) *Chunker {
	if chunkTokens <= 0 {
		chunkTokens = 200
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkTokens {
		chunkOverlap = chunkTokens - 1
	}
	return &Chunker{counter: counter, chunkTokens: chunkTokens, chunkOverlap: chunkOverlap}
}

type piece struct{ start, end int }

// Split cuts text into spans. Each page (or the whole text without page markers) is
// split on paragraph, line, sentence and word boundaries in that order of preference,
// pieces are merged greedily up to the chunk size and each span after the first starts
// with up to chunkOverlap tokens from the end of the previous one.
func (c *Chunker) Split(text string, pages []models.PageMarker) []Span {
	var out []Span
	for _, seg := range pageSegments(text, pages) {
		out = append(out, c.splitSegment(text, seg)...)
	}
	return out
}

type segment struct {
	start, end int
	page       int
}

func pageSegments(text string, pages []models.PageMarker) []segment {
	if len(pages) == 0 {
		return []segment{{start: 0, end: len(text)}}
	}
	segs := make([]segment, 0, len(pages)+1)
	if pages[0].Offset > 0 {
		segs = append(segs, segment{start: 0, end: min(pages[0].Offset, len(text))})
	}
	for i, p := range pages {
		end := len(text)
		if i+1 < len(pages) {
			end = pages[i+1].Offset
		}
		if p.Offset >= end || p.Offset >= len(text) {
			continue
		}
		segs = append(segs, segment{start: p.Offset, end: min(end, len(text)), page: p.Number})
	}
	return segs
}

func (c *Chunker) count(text string, start, end int) int {
	return c.counter.Count(text[start:end])
}

func (c *Chunker) splitSegment(text string, seg segment) []Span {
	var pieces []piece
	c.pieces(text, seg.start, seg.end, 0, &pieces)
	if len(pieces) == 0 {
		return nil
	}

	var spans []Span
	start := pieces[0].start
	end := pieces[0].end
	for _, p := range pieces[1:] {
		if c.count(text, start, p.end) <= c.chunkTokens {
			end = p.end
			continue
		}
		if sp, ok := c.span(text, start, end, seg.page); ok {
			spans = append(spans, sp)
		}
		next := c.overlapStart(text, start, end)
		if next <= start || c.count(text, next, p.end) > c.chunkTokens {
			next = p.start
		}
		start, end = next, p.end
	}
	if sp, ok := c.span(text, start, end, seg.page); ok {
		spans = append(spans, sp)
	}
	return spans
}

// pieces appends sub-ranges of [start,end) that each fit the chunk size. Separators stay
// attached to the piece before them so the pieces tile the range.
func (c *Chunker) pieces(text string, start, end, level int, out *[]piece) {
	if start >= end {
		return
	}
	if c.count(text, start, end) <= c.chunkTokens {
		*out = append(*out, piece{start, end})
		return
	}
	if level >= len(separators) {
		c.hardSplit(text, start, end, out)
		return
	}
	sep := separators[level]
	pos := start
	for pos < end {
		i := strings.Index(text[pos:end], sep)
		if i < 0 {
			c.pieces(text, pos, end, level+1, out)
			return
		}
		cut := pos + i + len(sep)
		c.pieces(text, pos, cut, level+1, out)
		pos = cut
	}
}

// hardSplit cuts a range without usable separators at token boundaries.
func (c *Chunker) hardSplit(text string, start, end int, out *[]piece) {
	for start < end {
		prefix := c.counter.Truncate(text[start:end], c.chunkTokens)
		n := len(prefix)
		if n == 0 {
			_, n = utf8.DecodeRuneInString(text[start:end])
		}
		*out = append(*out, piece{start, start + n})
		start += n
	}
}

// overlapStart returns the earliest word start inside [start,end) whose suffix up to end
// fits in the overlap, or start when no such word exists.
func (c *Chunker) overlapStart(text string, start, end int) int {
	if c.chunkOverlap == 0 {
		return start
	}
	best := start
	inWord := false
	var wordStarts []int
	for i, r := range text[start:end] {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			wordStarts = append(wordStarts, start+i)
		}
		inWord = !space
	}
	for i := len(wordStarts) - 1; i >= 0; i-- {
		w := wordStarts[i]
		if w == start || c.count(text, w, end) > c.chunkOverlap {
			break
		}
		best = w
	}
	return best
}

// span trims surrounding whitespace off [start,end) and reports false when nothing is left.
func (c *Chunker) span(text string, start, end, page int) (Span, bool) {
	raw := text[start:end]
	trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
	start += len(raw) - len(trimmed)
	trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)
	if trimmed == "" {
		return Span{}, false
	}
	return Span{
		Offset: start,
		Length: len(trimmed),
		Text:   trimmed,
		Tokens: c.counter.Count(trimmed),
		Page:   page,
	}, true
}
