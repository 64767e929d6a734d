package client

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator writes deterministic prose from the prompt itself. It is used
// in development when no provider key is configured.
type MockGenerator struct{}

func (MockGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := strings.Fields(prompt.User)
	if len(words) > 40 {
		words = words[:40]
	}
	return fmt.Sprintf(
		"This part of the story draws on the following notes: %s. "+
			"It was a stretch of time filled with small discoveries, familiar faces and places worth returning to, "+
			"and looking back it reads like a chapter that deserved to be written down.",
		strings.Join(words, " "),
	), nil
}

func (MockGenerator) IsConfigured() bool { return true }

// NewTextGenerator picks the provider named by cfg.LLM.Provider and falls
// back to MockGenerator when that provider has no credentials.
func NewTextGenerator(provider string, groq *GroqClient, oa *OpenAIClient) TextGenerator {
	switch provider {
	case "openai":
		if oa != nil && oa.IsConfigured() {
			return oa
		}
	case "groq":
		if groq != nil && groq.IsConfigured() {
			return groq
		}
	}
	return MockGenerator{}
}
