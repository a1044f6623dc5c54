// Package tokens counts and truncates text in model-countable units.
package tokens

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text in tokens and cuts it at token boundaries.
type Counter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that is at most max tokens.
	Truncate(text string, max int) string
	Name() string
}

// TiktokenCounter counts BPE tokens with a tiktoken encoding (cl100k_base for the
// OpenAI chat and embedding models).
type TiktokenCounter struct {
	enc  *tiktoken.Tiktoken
	name string
}

// NewTiktokenCounter loads the named encoding. The BPE ranks are fetched and cached on
// first use, so this can fail without network access.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc, name: encoding}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate decodes the first max tokens back to text, dropping a trailing partial rune.
func (c *TiktokenCounter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= max {
		return text
	}
	for n := max; n > 0; n-- {
		out := c.enc.Decode(ids[:n])
		for len(out) > 0 && !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
		if c.Count(out) <= max {
			return out
		}
	}
	return ""
}

// Name returns the encoding name.
func (c *TiktokenCounter) Name() string {
	return c.name
}

// WordCounter treats every whitespace-separated word as one token. It needs no model
// files and is used offline and in tests.
type WordCounter struct{}

// Count returns the number of words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// Truncate keeps the first max words, preserving the original spacing between them.
func (WordCounter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	words := 0
	inWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			if words == max {
				return strings.TrimRightFunc(text[:i], unicode.IsSpace)
			}
			words++
		}
		inWord = !space
	}
	return text
}

// Name returns "words".
func (WordCounter) Name() string {
	return "words"
}

// New returns the counter for encoding: "words" selects WordCounter, anything else is a
// tiktoken encoding name.
func New(encoding string) (Counter, error) {
	if encoding == "" || encoding == "words" {
		return WordCounter{}, nil
	}
	return NewTiktokenCounter(encoding)
}
