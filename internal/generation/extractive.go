package generation

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/tanya/internal/tokens"
)

// NoAnswer is returned by the extractive generator when no passage sentence shares a
// term with the question.
const NoAnswer = "The reference documents do not contain information about this question. Please consult a qualified specialist."

const extractiveSentences = 3

// ExtractiveGenerator answers without a model by quoting the passage sentences that share
// the most terms with the question. It runs offline and is deterministic.
type ExtractiveGenerator struct {
	counter tokens.Counter
}

// NewExtractiveGenerator returns an extractive generator. maxTokens is applied with counter.
func NewExtractiveGenerator(counter tokens.Counter) *ExtractiveGenerator {
	if counter == nil {
		counter = tokens.WordCounter{}
	}
	return &ExtractiveGenerator{counter: counter}
}

type sentence struct {
	text  string
	pos   int
	score int
}

// Generate returns up to three of the best-matching sentences in passage order.
func (g *ExtractiveGenerator) Generate(ctx context.Context, p Prompt, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question := terms(p.Question())
	var candidates []sentence
	for _, body := range passages(p.System) {
		for _, s := range sentences(body) {
			score := 0
			for t := range terms(s) {
				if _, ok := question[t]; ok {
					score++
				}
			}
			if score > 0 {
				candidates = append(candidates, sentence{text: s, pos: len(candidates), score: score})
			}
		}
	}
	if len(candidates) == 0 {
		return g.limit(NoAnswer, maxTokens), nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > extractiveSentences {
		candidates = candidates[:extractiveSentences]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.text
	}
	return g.limit(strings.Join(parts, " "), maxTokens), nil
}

// Stream emits the generated answer word by word.
func (g *ExtractiveGenerator) Stream(ctx context.Context, p Prompt, maxTokens int, onDelta func(string) error) (string, error) {
	text, err := g.Generate(ctx, p, maxTokens)
	if err != nil {
		return "", err
	}
	for _, w := range strings.SplitAfter(text, " ") {
		if err := onDelta(w); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (g *ExtractiveGenerator) limit(text string, maxTokens int) string {
	if maxTokens <= 0 || g.counter.Count(text) <= maxTokens {
		return text
	}
	return g.counter.Truncate(text, maxTokens)
}

// Name returns "extractive".
func (g *ExtractiveGenerator) Name() string {
	return "extractive"
}

// Close is a no-op.
func (g *ExtractiveGenerator) Close() error {
	return nil
}

// passages returns the bodies of the "[label]" blocks in a system text. Blocks before
// the first header are instructions and are skipped.
func passages(system string) []string {
	var out []string
	inPassage := false
	for _, block := range strings.Split(system, "\n\n") {
		header, body, _ := strings.Cut(block, "\n")
		if strings.HasPrefix(header, "[") && strings.HasSuffix(header, "]") {
			out = append(out, body)
			inPassage = true
			continue
		}
		if inPassage {
			out[len(out)-1] += "\n\n" + block
		}
	}
	return out
}

func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	flush := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
		start = end
	}
	for i, r := range runes {
		switch {
		case r == '\n':
			flush(i + 1)
		case (r == '.' || r == '?' || r == '!') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])):
			flush(i + 1)
		}
	}
	flush(len(runes))
	return out
}

// terms returns the lowercased words of at least three letters or digits.
func terms(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}
