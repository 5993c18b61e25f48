package store

import (
	"context"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// MockExecutor is a configurable QueryExecutor for tests.
// Set the function fields to control behavior.
type MockExecutor struct {
	ExecuteFunc    func(ctx context.Context, query string) (*models.ExecutionResult, error)
	IntrospectFunc func(ctx context.Context) (*models.TableCatalog, error)
	PingFunc       func(ctx context.Context) error

	ExecuteCalls int
	// Queries records every statement passed to Execute, in order.
	Queries []string
}

var _ QueryExecutor = (*MockExecutor)(nil)

// NewMockExecutor creates a mock that returns an empty successful result.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Execute implements QueryExecutor.
func (m *MockExecutor) Execute(ctx context.Context, query string) (*models.ExecutionResult, error) {
	m.ExecuteCalls++
	m.Queries = append(m.Queries, query)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query)
	}
	return &models.ExecutionResult{Success: true}, nil
}

// IntrospectCatalog implements QueryExecutor.
func (m *MockExecutor) IntrospectCatalog(ctx context.Context) (*models.TableCatalog, error) {
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx)
	}
	return models.DefaultCatalog(), nil
}

// Ping implements QueryExecutor.
func (m *MockExecutor) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close implements QueryExecutor.
func (m *MockExecutor) Close() error {
	return nil
}

// Reset clears call tracking.
func (m *MockExecutor) Reset() {
	m.ExecuteCalls = 0
	m.Queries = nil
}
