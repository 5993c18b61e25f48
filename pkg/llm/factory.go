package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
)

// NewClient creates the provider client named by cfg.Provider, wrapped with a
// circuit breaker.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	var inner Client
	var err error

	switch cfg.Provider {
	case "openai":
		inner, err = NewOpenAIClient(cfg, logger)
	case "anthropic":
		inner, err = NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	inner = NewTimeoutClient(inner, cfg.RequestTimeout)
	return NewBreakerClient(inner, NewCircuitBreaker(DefaultCircuitBreakerConfig())), nil
}
