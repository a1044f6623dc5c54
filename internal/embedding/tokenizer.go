package embedding

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Tokenizer produces the three BERT inputs (input_ids, attention_mask, token_type_ids),
// padded or truncated to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsID = 101
	sepID = 102
)

// NewTokenizerForModel returns a WordPiece tokenizer when vocab.txt sits next to the
// model file, and a SimpleTokenizer otherwise.
func NewTokenizerForModel(modelPath string) (Tokenizer, error) {
	vocabPath := filepath.Join(filepath.Dir(modelPath), "vocab.txt")
	if _, err := os.Stat(vocabPath); err != nil {
		return &SimpleTokenizer{}, nil
	}
	return LoadWordPiece(vocabPath)
}

// tokenizerFor returns the configured tokenizer, falling back to the one matching the
// model directory.
func (o options) tokenizerFor(modelPath string) (Tokenizer, error) {
	if o.tokenizer != nil {
		return o.tokenizer, nil
	}
	return NewTokenizerForModel(modelPath)
}

// pack lays ids out as [CLS] ids... [SEP] followed by padding.
func pack(ids []int64, cls, sep int64, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	inputIDs[0], attentionMask[0] = cls, 1
	pos := 1
	for _, id := range ids {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos], attentionMask[pos] = id, 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos], attentionMask[pos] = sep, 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SimpleTokenizer maps lower-cased words to hashed ids. It stands in for a vocabulary
// when none ships with the model.
type SimpleTokenizer struct{}

// Tokenize implements Tokenizer.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := strings.Fields(strings.ToLower(text))
	ids := make([]int64, len(words))
	for i, w := range words {
		// ids below 1000 are special tokens in BERT vocabularies
		ids[i] = int64(1000 + HashString(w)%29000)
	}
	return pack(ids, clsID, sepID, maxTokens)
}

// HashString returns a deterministic non-negative FNV-1a hash of s.
func HashString(s string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}

// WordPiece is the uncased BERT tokenizer: basic splitting on whitespace and
// punctuation, then greedy longest-match sub-words with "##" continuations.
type WordPiece struct {
	vocab        map[string]int64
	unk          int64
	cls          int64
	sep          int64
	maxWordChars int
}

// LoadWordPiece reads a vocab.txt with one token per line; the line number is the id.
func LoadWordPiece(path string) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()
	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	for id := int64(0); sc.Scan(); id++ {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return NewWordPiece(vocab)
}

// NewWordPiece builds a tokenizer over vocab, which must contain [UNK], [CLS] and [SEP].
func NewWordPiece(vocab map[string]int64) (*WordPiece, error) {
	wp := &WordPiece{vocab: vocab, maxWordChars: 100}
	for tok, dst := range map[string]*int64{"[UNK]": &wp.unk, "[CLS]": &wp.cls, "[SEP]": &wp.sep} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", tok)
		}
		*dst = id
	}
	return wp, nil
}

// Tokenize implements Tokenizer.
func (wp *WordPiece) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	var ids []int64
	for _, word := range basicSplit(text) {
		ids = append(ids, wp.pieces(word)...)
		if maxTokens > 0 && len(ids) >= maxTokens {
			break
		}
	}
	return pack(ids, wp.cls, wp.sep, maxTokens)
}

func (wp *WordPiece) pieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > wp.maxWordChars {
		return []int64{wp.unk}
	}
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64 = -1
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := wp.vocab[sub]; ok {
				id = v
				break
			}
		}
		if id < 0 {
			return []int64{wp.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicSplit lower-cases text, drops control characters and combining marks, and splits
// it into words and single punctuation marks.
func basicSplit(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r) || unicode.Is(unicode.Mn, r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
