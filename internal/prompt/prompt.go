// Package prompt assembles generation inputs under a backend-declared
// size budget. Section ordering is a fixed contract: issue title, issue
// body, issue comments in chronological order, retrieved chunks best
// score first, then the question. Reordering changes what the model
// weights and breaks reproducibility.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/desolveai/desolve/internal/chunker"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/llm"
	"github.com/desolveai/desolve/internal/retrieve"
)

const answerSystem = "You are a software engineering assistant. Answer using only the " +
	"provided repository context and issue discussion. When the context does not " +
	"contain the answer, say so instead of guessing. Reference file paths when relevant."

const summarySystem = "You are a software engineering assistant. Summarize the repository " +
	"from the provided excerpts in at most 500 words: purpose, main components, and how " +
	"they fit together."

// DefaultIssueBodyCap bounds a single issue body before assembly so one
// pathological issue cannot consume the whole budget.
const DefaultIssueBodyCap = 3200

// Assembler builds prompt payloads that fit a generation backend's
// input budget.
type Assembler struct {
	budget       llm.Budget
	issueBodyCap int
}

// New creates an Assembler for the given budget.
func New(budget llm.Budget) *Assembler {
	return &Assembler{budget: budget, issueBodyCap: DefaultIssueBodyCap}
}

// AnswerPrompt assembles the grounded answer payload. When the sections
// exceed the budget, chunks are dropped lowest score first; when the
// issue text alone exceeds what remains it is truncated from the end.
// The question is never truncated.
func (a *Assembler) AnswerPrompt(issue *fetch.Issue, chunks []retrieve.Scored, question string) *llm.PromptPayload {
	questionText := "Question:\n" + question + "\n"

	allowed := a.budget.Allowed() - a.budget.Measure(answerSystem) - a.budget.Measure(questionText)
	if allowed < 0 {
		allowed = 0
	}

	issueText := a.renderIssue(issue)
	if a.budget.Measure(issueText) > allowed {
		issueText = a.budget.Truncate(issueText, allowed)
	}
	remaining := allowed - a.budget.Measure(issueText)

	chunkText := a.fitChunks(chunks, remaining)

	var sb strings.Builder
	sb.WriteString(issueText)
	sb.WriteString(chunkText)
	sb.WriteString(questionText)
	return &llm.PromptPayload{System: answerSystem, Text: sb.String()}
}

// SummaryPrompt assembles the repository summary payload from an
// already-sampled chunk sequence, keeping chunks in the given order
// until the budget is exhausted.
func (a *Assembler) SummaryPrompt(chunks []chunker.Chunk) *llm.PromptPayload {
	allowed := a.budget.Allowed() - a.budget.Measure(summarySystem)
	if allowed < 0 {
		allowed = 0
	}

	var sb strings.Builder
	used := 0
	for _, c := range chunks {
		section := renderChunk(c)
		cost := a.budget.Measure(section)
		if used+cost > allowed {
			break
		}
		sb.WriteString(section)
		used += cost
	}
	return &llm.PromptPayload{System: summarySystem, Text: sb.String()}
}

// renderIssue produces the issue section: title, capped body, then
// comments in the order they were fetched (chronological).
func (a *Assembler) renderIssue(issue *fetch.Issue) string {
	if issue == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue #%d: %s\n", issue.Number, issue.Title)

	body := issue.Body
	if utf8.RuneCountInString(body) > a.issueBodyCap {
		runes := []rune(body)
		body = string(runes[:a.issueBodyCap])
	}
	if body != "" {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	for _, comment := range issue.Comments {
		sb.WriteString("Comment:\n")
		sb.WriteString(comment)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

// fitChunks renders chunks best score first, dropping from the lowest
// score until the rendered sections fit the remaining budget.
func (a *Assembler) fitChunks(chunks []retrieve.Scored, remaining int) string {
	sections := make([]string, len(chunks))
	total := 0
	for i, s := range chunks {
		sections[i] = renderChunk(s.Chunk)
		total += a.budget.Measure(sections[i])
	}
	keep := len(sections)
	for keep > 0 && total > remaining {
		keep--
		total -= a.budget.Measure(sections[keep])
	}
	return strings.Join(sections[:keep], "")
}

func renderChunk(c chunker.Chunk) string {
	return fmt.Sprintf("--- %s ---\n%s\n\n", c.Source, c.Text)
}
