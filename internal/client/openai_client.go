package client

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/recapbook/api/internal/config"
)

// OpenAIClient implements TextGenerator with the official openai-go SDK.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	configured  bool
}

func NewOpenAIClient(cfg *config.OpenAIConfig, llm *config.LLMConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := &OpenAIClient{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		configured: cfg.APIKey != "" && cfg.Model != "",
	}
	if llm != nil {
		c.temperature = llm.Temperature
		c.maxTokens = llm.MaxTokens
	}
	return c
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) IsConfigured() bool {
	return c.configured
}
