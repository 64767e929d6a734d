package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/recapbook/api/internal/config"
)

// errorBodyLimit caps how much of a failed response ends up in the error.
const errorBodyLimit = 2048

// GroqClient generates section text through Groq's OpenAI-compatible
// chat completions endpoint over plain HTTP.
type GroqClient struct {
	http     *http.Client
	endpoint string
	apiKey   string
	model    string
	params   sampling
}

// sampling holds the knobs shared by every request of a client.
type sampling struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model    string        `json:"model"`
	Messages []groqMessage `json:"messages"`
	sampling
}

type groqResponse struct {
	Choices []struct {
		Message groqMessage `json:"message"`
	} `json:"choices"`
}

func NewGroqClient(cfg *config.GroqConfig, llm *config.LLMConfig) *GroqClient {
	c := &GroqClient{
		// per-call deadlines come from ctx; this only bounds a stuck connection
		http:     &http.Client{Timeout: 5 * time.Minute},
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}
	if llm != nil {
		c.params = sampling{Temperature: llm.Temperature, MaxTokens: llm.MaxTokens}
	}
	return c
}

func (c *GroqClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	body, err := json.Marshal(groqRequest{
		Model: c.model,
		Messages: []groqMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		sampling: c.params,
	})
	if err != nil {
		return "", fmt.Errorf("groq: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("groq: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fmt.Errorf("groq: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out groqResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("groq: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("groq: no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// IsConfigured reports whether an API key is present.
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
