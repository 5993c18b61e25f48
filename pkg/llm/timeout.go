package llm

import (
	"context"
	"time"
)

// timeoutClient bounds every Complete call with a fixed deadline so a hung
// provider cannot hold a request open past the configured window.
type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

var _ Client = (*timeoutClient)(nil)

// NewTimeoutClient wraps client so each Complete runs under deadline d.
// A non-positive d returns the client unchanged.
func NewTimeoutClient(client Client, d time.Duration) Client {
	if d <= 0 {
		return client
	}
	return &timeoutClient{inner: client, timeout: d}
}

// Complete implements Client.
func (c *timeoutClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.Complete(ctx, req)
}

// Model implements Client.
func (c *timeoutClient) Model() string {
	return c.inner.Model()
}
