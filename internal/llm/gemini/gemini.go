// Package gemini implements llm.Backend for the Google Generative
// Language REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desolveai/desolve/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini's context window is token-denominated upstream, but the REST API
// accepts raw text; the budget is declared in characters with generous
// reserve.
var budget = llm.Budget{Unit: llm.UnitChars, MaxInput: 24000, Reserved: 1600}

// Client implements llm.Backend for Gemini.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// New creates a Gemini backend.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = "gemini-2.5-flash-lite"
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

func (c *Client) Name() string       { return "gemini" }
func (c *Client) Budget() llm.Budget { return budget }

func (c *Client) Summarize(ctx context.Context, payload *llm.PromptPayload) (string, error) {
	return c.generate(ctx, payload, 0.7)
}

func (c *Client) Answer(ctx context.Context, payload *llm.PromptPayload) (string, error) {
	return c.generate(ctx, payload, 0.2)
}

func (c *Client) generate(ctx context.Context, payload *llm.PromptPayload, temperature float64) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": []map[string]string{{"text": payload.Text}},
		}},
		"generationConfig": map[string]any{
			"temperature":     temperature,
			"maxOutputTokens": 1024,
		},
	}
	if payload.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": payload.System}},
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

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
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: gemini: %s: %s", llm.ErrUnavailable, resp.Status, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}

	if result.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: gemini blocked prompt: %s", llm.ErrRejected, result.PromptFeedback.BlockReason)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", llm.ErrRejected)
	}
	cand := result.Candidates[0]
	if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
		return "", fmt.Errorf("%w: gemini finish reason %s", llm.ErrRejected, cand.FinishReason)
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
