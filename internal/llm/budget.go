package llm

import "unicode/utf8"

// BudgetUnit is the unit a backend's context window is measured in.
type BudgetUnit string

const (
	UnitChars  BudgetUnit = "chars"
	UnitTokens BudgetUnit = "tokens"
)

// Approximate characters per token for token-denominated budgets. No
// provider-exact tokenizer exists here; the reserve margin absorbs the
// estimation error.
const charsPerToken = 4

// Budget is a backend-declared input size budget. MaxInput is the hard
// ceiling, Reserved is headroom kept free for the model's own output and
// for token-estimation slack.
type Budget struct {
	Unit     BudgetUnit `json:"unit"`
	MaxInput int        `json:"max_input"`
	Reserved int        `json:"reserved"`
}

// Allowed returns the usable input budget.
func (b Budget) Allowed() int {
	n := b.MaxInput - b.Reserved
	if n < 0 {
		return 0
	}
	return n
}

// Measure returns the size of text in the budget's unit.
func (b Budget) Measure(text string) int {
	n := utf8.RuneCountInString(text)
	if b.Unit == UnitTokens {
		return (n + charsPerToken - 1) / charsPerToken
	}
	return n
}

// Truncate cuts text from the end so it measures at most limit units.
func (b Budget) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	maxRunes := limit
	if b.Unit == UnitTokens {
		maxRunes = limit * charsPerToken
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}
