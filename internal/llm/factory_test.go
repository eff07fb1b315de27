package llm

import (
	"context"
	"sort"
	"testing"
)

type staticBackend struct{ name string }

func (s *staticBackend) Name() string   { return s.name }
func (s *staticBackend) Budget() Budget { return Budget{Unit: UnitChars, MaxInput: 1000} }
func (s *staticBackend) Summarize(ctx context.Context, p *PromptPayload) (string, error) {
	return "summary", nil
}
func (s *staticBackend) Answer(ctx context.Context, p *PromptPayload) (string, error) {
	return "answer", nil
}

func TestFactory_CreateRegistered(t *testing.T) {
	f := NewFactory()
	f.Register("static", func(cfg BackendConfig) (Backend, error) {
		return &staticBackend{name: "static"}, nil
	})

	b, err := f.Create(BackendConfig{Backend: "static"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if b.Name() != "static" {
		t.Errorf("Name() = %q, want %q", b.Name(), "static")
	}

	got, err := b.Answer(context.Background(), &PromptPayload{Text: "q"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "answer" {
		t.Errorf("Answer() = %q, want %q", got, "answer")
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create(BackendConfig{Backend: "nope"}); err == nil {
		t.Fatal("Create() with unknown backend should fail")
	}
}

func TestFactory_Names(t *testing.T) {
	f := NewFactory()
	f.Register("gemini", func(cfg BackendConfig) (Backend, error) { return &staticBackend{name: "gemini"}, nil })
	f.Register("groq", func(cfg BackendConfig) (Backend, error) { return &staticBackend{name: "groq"}, nil })

	names := f.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "gemini" || names[1] != "groq" {
		t.Errorf("Names() = %v, want [gemini groq]", names)
	}
}

func TestFactory_WrapsWithRateLimit(t *testing.T) {
	f := NewFactory()
	f.Register("static", func(cfg BackendConfig) (Backend, error) {
		return &staticBackend{name: "static"}, nil
	})

	b, err := f.Create(BackendConfig{Backend: "static", RequestsPerMinute: 100})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Budget passes through both wrappers untouched.
	if got := b.Budget().MaxInput; got != 1000 {
		t.Errorf("Budget().MaxInput = %d, want 1000", got)
	}
	if _, err := b.Answer(context.Background(), &PromptPayload{Text: "q"}); err != nil {
		t.Fatalf("Answer() through wrappers error = %v", err)
	}
}
