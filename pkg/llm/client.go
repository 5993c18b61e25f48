package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider    string  // "openai" or "anthropic"
	Model       string  // Model name, e.g. "gpt-4o"
	APIKey      string  // Optional for local OpenAI-compatible endpoints
	BaseURL     string  // Override base URL; empty uses the provider default
	Temperature float64 // Default temperature when a request does not set one
	MaxTokens   int     // Default max tokens when a request does not set one

	// RequestTimeout bounds each provider call. Zero disables the bound,
	// leaving only the caller's context deadline.
	RequestTimeout time.Duration
}

// OpenAIClient talks to OpenAI-compatible endpoints.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIClient creates an OpenAI-compatible LLM client.
func NewOpenAIClient(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.Named("llm-openai"),
	}, nil
}

// Complete performs one chat completion call.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	temperature := req.Temperature
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeModel, "no choices in response", false, nil)
	}

	elapsed := time.Since(start)
	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	return &Response{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		LatencyMS:  elapsed.Milliseconds(),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}
