package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// NewAnthropicClient creates an Anthropic LLM client.
func NewAnthropicClient(cfg Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
	}

	opts := []anthropic.ClientOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		cfg:    cfg,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

// Complete performs one messages call.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := float32(req.Temperature)

	c.logger.Debug("LLM request",
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_len", len(req.Prompt)))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.cfg.Model),
		System:      req.System,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(req.Prompt)},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Content) == 0 {
		return nil, NewError(ErrorTypeModel, "empty response content", false, nil)
	}

	elapsed := time.Since(start)
	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed))

	return &Response{
		Text:       resp.Content[0].GetText(),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		LatencyMS:  elapsed.Milliseconds(),
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.cfg.Model
}
