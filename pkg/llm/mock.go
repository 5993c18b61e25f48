package llm

import "context"

// MockClient is a configurable mock for testing LLM-dependent code.
// Set the function fields to control behavior in tests.
type MockClient struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, returns an empty response and nil error.
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	// Call tracking for verification.
	CompleteCalls int
	// Requests records every request passed to Complete, in order.
	Requests []*Request
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{ModelName: "mock-model"}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Response{}, nil
}

// Model implements Client.
func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Reset clears call tracking.
func (m *MockClient) Reset() {
	m.CompleteCalls = 0
	m.Requests = nil
}

// ScriptedClient returns a mock whose Complete returns each of the given
// responses in order, then repeats the last one.
func ScriptedClient(responses ...string) *MockClient {
	m := NewMockClient()
	i := 0
	m.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		text := responses[len(responses)-1]
		if i < len(responses) {
			text = responses[i]
			i++
		}
		return &Response{Text: text, TokensUsed: len(text) / 4, LatencyMS: 1}, nil
	}
	return m
}
