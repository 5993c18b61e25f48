// Package sqlgen turns an assembled prompt context into a single SQL
// statement via the language model, with transient transport failures
// retried once. Semantic retries belong to the pipeline's self-correction
// loop, not here.
package sqlgen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/retry"
)

// Generator produces SQL from prompt contexts.
type Generator struct {
	client      llm.Client
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// New creates a generator bound to an LLM client.
func New(client llm.Client, temperature float64, maxTokens int, logger *zap.Logger) *Generator {
	return &Generator{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("sqlgen"),
	}
}

// Generate asks the model for SQL and extracts the statement from its
// response. attempt is 1 for the initial round and increments across
// self-correction rounds; it is recorded on the result and passed through
// unchanged.
func (g *Generator) Generate(ctx context.Context, llmCtx *models.LLMContext, attempt int) (*models.GeneratedSQL, error) {
	req := &llm.Request{
		System:      llmCtx.SystemPrompt,
		Prompt:      llmCtx.FullPrompt(),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	started := time.Now()
	resp, err := retry.DoWithResult(ctx, retry.TransportConfig(), func() (*llm.Response, error) {
		return g.client.Complete(ctx, req)
	})
	if err != nil {
		g.logger.Error("SQL generation failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}

	sql, err := llm.ExtractSQL(resp.Text)
	if err != nil {
		g.logger.Warn("Model response held no SQL",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}

	g.logger.Info("SQL generated",
		zap.Int("attempt", attempt),
		zap.Int("tokens_used", resp.TokensUsed),
		zap.Int64("latency_ms", resp.LatencyMS))

	return &models.GeneratedSQL{
		SQLText:       sql,
		ModelID:       g.client.Model(),
		LatencyMS:     time.Since(started).Milliseconds(),
		AttemptNumber: attempt,
	}, nil
}
