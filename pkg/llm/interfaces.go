// Package llm provides clients for the narrow request/response contract the
// pipeline has with a language model provider.
package llm

import "context"

// Request is a single completion request. Every pipeline use of the model
// (intent classification, conversational reply, SQL generation) goes through
// this shape.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the provider's reply.
type Response struct {
	Text       string
	TokensUsed int
	LatencyMS  int64
}

// Client is the outbound LLM interface. Use it for dependency injection so
// tests can substitute MockClient.
type Client interface {
	// Complete performs one request/response call. The context carries the
	// per-call timeout and the request's cancellation signal.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Model returns the configured model identifier.
	Model() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
	_ Client = (*BreakerClient)(nil)
)
