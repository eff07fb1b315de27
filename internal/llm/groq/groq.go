// Package groq implements llm.Backend for Groq's OpenAI-compatible
// chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/desolveai/desolve/internal/llm"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Groq rejects oversized requests hard, so the budget is declared in
// tokens and enforced before anything hits the wire.
var budget = llm.Budget{Unit: llm.UnitTokens, MaxInput: 6000, Reserved: 400}

// Client implements llm.Backend for Groq.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// New creates a Groq backend.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string       { return "groq" }
func (c *Client) Budget() llm.Budget { return budget }

func (c *Client) Summarize(ctx context.Context, payload *llm.PromptPayload) (string, error) {
	return c.complete(ctx, payload, 0.7)
}

func (c *Client) Answer(ctx context.Context, payload *llm.PromptPayload) (string, error) {
	return c.complete(ctx, payload, 0.2)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) complete(ctx context.Context, payload *llm.PromptPayload, temperature float64) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.Text})

	data, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  1024,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: groq: %s: %s", llm.ErrUnavailable, resp.Status, respBody)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: groq: %s: %s", llm.ErrRejected, resp.Status, respBody)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("groq: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: groq returned no choices", llm.ErrRejected)
	}
	return result.Choices[0].Message.Content, nil
}
