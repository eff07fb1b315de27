package prompt

import (
	"strings"
	"testing"

	"github.com/desolveai/desolve/internal/chunker"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/llm"
	"github.com/desolveai/desolve/internal/retrieve"
)

func wideBudget() llm.Budget {
	return llm.Budget{Unit: llm.UnitChars, MaxInput: 100000, Reserved: 1000}
}

func scoredChunk(id, source, text string, score float32) retrieve.Scored {
	return retrieve.Scored{
		Chunk: chunker.Chunk{ID: id, Source: source, Text: text},
		Score: score,
	}
}

func TestAnswerPrompt_SectionOrdering(t *testing.T) {
	a := New(wideBudget())
	issue := &fetch.Issue{
		Number:   7,
		Title:    "crash on startup",
		Body:     "the server panics",
		Comments: []string{"first comment", "second comment"},
	}
	chunks := []retrieve.Scored{
		scoredChunk("main.go#0", "main.go", "func main()", 0.9),
		scoredChunk("server.go#0", "server.go", "func serve()", 0.5),
	}

	payload := a.AnswerPrompt(issue, chunks, "why does it crash?")

	order := []string{
		"crash on startup",
		"the server panics",
		"first comment",
		"second comment",
		"main.go",
		"server.go",
		"why does it crash?",
	}
	pos := -1
	for _, want := range order {
		i := strings.Index(payload.Text, want)
		if i < 0 {
			t.Fatalf("prompt missing %q:\n%s", want, payload.Text)
		}
		if i < pos {
			t.Errorf("%q appears out of order", want)
		}
		pos = i
	}
	if payload.System == "" {
		t.Error("answer payload should carry a system prompt")
	}
}

func TestAnswerPrompt_TagsChunksWithPath(t *testing.T) {
	a := New(wideBudget())
	chunks := []retrieve.Scored{scoredChunk("pkg/x.go#2", "pkg/x.go", "some code", 0.8)}

	payload := a.AnswerPrompt(nil, chunks, "q")
	if !strings.Contains(payload.Text, "--- pkg/x.go ---") {
		t.Errorf("chunk not tagged with its path:\n%s", payload.Text)
	}
}

func TestAnswerPrompt_DropsLowestScoreFirst(t *testing.T) {
	// Budget fits the system prompt, the question and two chunk
	// sections, but not all three chunks.
	b := llm.Budget{Unit: llm.UnitChars, MaxInput: 400, Reserved: 0}
	a := New(b)

	big := strings.Repeat("x", 60)
	chunks := []retrieve.Scored{
		scoredChunk("a.go#0", "a.go", big, 0.9),
		scoredChunk("b.go#0", "b.go", big, 0.5),
		scoredChunk("c.go#0", "c.go", big, 0.1),
	}

	payload := a.AnswerPrompt(nil, chunks, "q")
	if !strings.Contains(payload.Text, "a.go") {
		t.Error("highest-scoring chunk was dropped")
	}
	if strings.Contains(payload.Text, "c.go") {
		t.Error("lowest-scoring chunk survived a budget squeeze")
	}
	if !strings.Contains(payload.Text, "Question:") {
		t.Error("question was dropped")
	}
	if got := b.Measure(payload.System) + b.Measure(payload.Text); got > b.Allowed() {
		t.Errorf("payload measures %d, over budget %d", got, b.Allowed())
	}
}

func TestAnswerPrompt_TruncatesOversizedIssue(t *testing.T) {
	b := llm.Budget{Unit: llm.UnitChars, MaxInput: 700, Reserved: 0}
	a := New(b)

	issue := &fetch.Issue{
		Number: 1,
		Title:  "big one",
		Body:   strings.Repeat("issue text ", 500),
	}

	payload := a.AnswerPrompt(issue, nil, "q")
	if got := b.Measure(payload.System) + b.Measure(payload.Text); got > b.Allowed() {
		t.Errorf("payload measures %d, over budget %d", got, b.Allowed())
	}
	if !strings.Contains(payload.Text, "big one") {
		t.Error("issue truncation removed the title; must truncate from the end")
	}
	if !strings.Contains(payload.Text, "Question:\nq") {
		t.Error("question must survive issue truncation")
	}
}

func TestAnswerPrompt_CapsIssueBody(t *testing.T) {
	a := New(wideBudget())
	issue := &fetch.Issue{
		Number: 2,
		Title:  "t",
		Body:   strings.Repeat("b", DefaultIssueBodyCap+500),
	}

	payload := a.AnswerPrompt(issue, nil, "q")
	if n := strings.Count(payload.Text, "b"); n > DefaultIssueBodyCap {
		t.Errorf("issue body kept %d chars, cap is %d", n, DefaultIssueBodyCap)
	}
}

func TestSummaryPrompt_RespectsBudget(t *testing.T) {
	b := llm.Budget{Unit: llm.UnitChars, MaxInput: 400, Reserved: 0}
	a := New(b)

	var chunks []chunker.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunker.Chunk{
			ID:     "f.go#0",
			Source: "f.go",
			Text:   strings.Repeat("y", 80),
		})
	}

	payload := a.SummaryPrompt(chunks)
	if got := b.Measure(payload.System) + b.Measure(payload.Text); got > b.Allowed() {
		t.Errorf("payload measures %d, over budget %d", got, b.Allowed())
	}
	if payload.Text == "" {
		t.Error("summary prompt should include at least one chunk when one fits")
	}
}

func TestSummaryPrompt_PreservesChunkOrder(t *testing.T) {
	a := New(wideBudget())
	chunks := []chunker.Chunk{
		{ID: "README.md#0", Source: "README.md", Text: "readme"},
		{ID: "main.go#0", Source: "main.go", Text: "entry"},
		{ID: "util.go#0", Source: "util.go", Text: "helpers"},
	}

	payload := a.SummaryPrompt(chunks)
	i := strings.Index(payload.Text, "README.md")
	j := strings.Index(payload.Text, "main.go")
	k := strings.Index(payload.Text, "util.go")
	if i < 0 || j < 0 || k < 0 || !(i < j && j < k) {
		t.Errorf("summary chunks out of order:\n%s", payload.Text)
	}
}
