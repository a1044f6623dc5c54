// Package prompt packs system instructions, retrieved passages and conversation history
// into a token budget.
package prompt

import (
	"fmt"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/tokens"
)

// DefaultPassageShare is the part of the budget left after the system text that goes to
// passages.
const DefaultPassageShare = 0.6

const passageSeparator = "\n\n"

// Assembler builds PromptContexts. It is stateless and safe for concurrent use.
type Assembler struct {
	counter      tokens.Counter
	system       string
	passageShare float64
}

// NewAssembler returns an assembler. A share outside (0,1] falls back to DefaultPassageShare.
func NewAssembler(counter tokens.Counter, system string, passageShare float64) *Assembler {
	if passageShare <= 0 || passageShare > 1 {
		passageShare = DefaultPassageShare
	}
	return &Assembler{counter: counter, system: system, passageShare: passageShare}
}

// Assemble fits the system text, then passages in score order, then the most recent
// history turns into budget tokens. TokensUsed never exceeds budget.
func (a *Assembler) Assemble(result *models.RetrievalResult, history []models.Turn, budget int) *models.PromptContext {
	return a.AssembleQuestion(result, history, "", budget)
}

// AssembleQuestion is Assemble for a prompt that ends with question. The question is
// reserved right after the system text and truncated when nothing else fits. TokensUsed
// covers everything the generator receives: the system message with its joined
// passages, each history turn and the question.
func (a *Assembler) AssembleQuestion(result *models.RetrievalResult, history []models.Turn, question string, budget int) *models.PromptContext {
	if budget < 0 {
		budget = 0
	}
	pc := &models.PromptContext{
		Passages: []models.Passage{},
		History:  []models.Turn{},
		Budget:   budget,
	}

	pc.System = a.system
	sysTokens := a.counter.Count(pc.System)
	if sysTokens > budget {
		pc.System = a.counter.Truncate(pc.System, budget)
		sysTokens = a.counter.Count(pc.System)
	}
	remaining := budget - sysTokens

	pc.Question = question
	qTokens := a.counter.Count(question)
	if qTokens > remaining {
		pc.Question = a.counter.Truncate(question, remaining)
		qTokens = a.counter.Count(pc.Question)
	}
	remaining -= qTokens

	passageBudget := int(float64(remaining) * a.passageShare)
	used := 0
	joined, joinedTokens := pc.System, sysTokens
	if result != nil {
		for i, c := range result.Candidates {
			text := RenderPassage(&c.Chunk)
			next := joinText(joined, text)
			cost := a.counter.Count(next) - joinedTokens
			if used+cost <= passageBudget {
				pc.Passages = append(pc.Passages, models.Passage{Candidate: c, Text: text, Tokens: a.counter.Count(text)})
				used += cost
				joined, joinedTokens = next, joinedTokens+cost
				continue
			}
			if i == 0 {
				if cut, cutCost := a.fitPassage(joined, joinedTokens, text, passageBudget); cut != "" {
					pc.Passages = append(pc.Passages, models.Passage{Candidate: c, Text: cut, Tokens: a.counter.Count(cut), Truncated: true})
					used += cutCost
					joined, joinedTokens = joinText(joined, cut), joinedTokens+cutCost
				}
			}
			break
		}
	}
	remaining -= used

	// Newest first, whole turns only.
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := a.counter.Count(history[i].Text)
		if n > remaining {
			break
		}
		remaining -= n
		start = i
	}
	pc.History = append(pc.History, history[start:]...)

	pc.TokensUsed = budget - remaining
	return pc
}

// fitPassage cuts text at a token boundary so that appending it to joined costs at most
// limit tokens, separator included.
func (a *Assembler) fitPassage(joined string, joinedTokens int, text string, limit int) (string, int) {
	for n := limit; n > 0; n-- {
		cut := a.counter.Truncate(text, n)
		if cut == "" {
			return "", 0
		}
		if cost := a.counter.Count(joinText(joined, cut)) - joinedTokens; cost <= limit {
			return cut, cost
		}
	}
	return "", 0
}

func joinText(joined, text string) string {
	if joined == "" {
		return text
	}
	return joined + passageSeparator + text
}

// RenderPassage formats a chunk the way it is shown to the model: a "[source p.N]" header
// followed by the chunk text.
func RenderPassage(c *models.Chunk) string {
	label := c.Title()
	if label == "" {
		label = c.Source()
	}
	if label == "" {
		label = c.DocumentID
	}
	if c.Page > 0 {
		return fmt.Sprintf("[%s p.%d]\n%s", label, c.Page, c.Text)
	}
	return fmt.Sprintf("[%s]\n%s", label, c.Text)
}

// SystemText joins the system instructions and the passages into the text sent as the
// system message.
func SystemText(pc *models.PromptContext) string {
	if len(pc.Passages) == 0 {
		return pc.System
	}
	text := pc.System
	for _, p := range pc.Passages {
		text = joinText(text, p.Text)
	}
	return text
}
