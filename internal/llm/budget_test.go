package llm

import "testing"

func TestBudget_Allowed(t *testing.T) {
	b := Budget{Unit: UnitTokens, MaxInput: 6000, Reserved: 400}
	if got := b.Allowed(); got != 5600 {
		t.Errorf("Allowed() = %d, want 5600", got)
	}

	b = Budget{Unit: UnitChars, MaxInput: 100, Reserved: 200}
	if got := b.Allowed(); got != 0 {
		t.Errorf("Allowed() with reserve over max = %d, want 0", got)
	}
}

func TestBudget_MeasureChars(t *testing.T) {
	b := Budget{Unit: UnitChars, MaxInput: 100}
	if got := b.Measure("hello"); got != 5 {
		t.Errorf("Measure(hello) = %d, want 5", got)
	}
	// Multi-byte runes count once.
	if got := b.Measure("héllo"); got != 5 {
		t.Errorf("Measure(héllo) = %d, want 5", got)
	}
}

func TestBudget_MeasureTokens(t *testing.T) {
	b := Budget{Unit: UnitTokens, MaxInput: 100}
	// 8 chars at 4 chars/token = 2 tokens.
	if got := b.Measure("12345678"); got != 2 {
		t.Errorf("Measure = %d tokens, want 2", got)
	}
	// Partial tokens round up.
	if got := b.Measure("123456789"); got != 3 {
		t.Errorf("Measure = %d tokens, want 3", got)
	}
	if got := b.Measure(""); got != 0 {
		t.Errorf("Measure(empty) = %d, want 0", got)
	}
}

func TestBudget_Truncate(t *testing.T) {
	b := Budget{Unit: UnitChars, MaxInput: 100}

	if got := b.Truncate("hello world", 5); got != "hello" {
		t.Errorf("Truncate = %q, want %q", got, "hello")
	}
	if got := b.Truncate("short", 100); got != "short" {
		t.Errorf("Truncate under limit = %q, want unchanged", got)
	}
	if got := b.Truncate("anything", 0); got != "" {
		t.Errorf("Truncate to 0 = %q, want empty", got)
	}
}

func TestBudget_TruncateTokens(t *testing.T) {
	b := Budget{Unit: UnitTokens, MaxInput: 100}
	// 2 tokens = 8 chars.
	got := b.Truncate("aaaaaaaaaaaa", 2)
	if len(got) != 8 {
		t.Errorf("Truncate to 2 tokens kept %d chars, want 8", len(got))
	}
	if b.Measure(got) > 2 {
		t.Errorf("truncated text measures %d tokens, want <= 2", b.Measure(got))
	}
}

func TestBudget_TruncateRuneSafe(t *testing.T) {
	b := Budget{Unit: UnitChars, MaxInput: 100}
	got := b.Truncate("日本語テキスト", 3)
	if got != "日本語" {
		t.Errorf("Truncate = %q, want %q", got, "日本語")
	}
}
