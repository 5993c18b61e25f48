package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutClient_BoundsHungCalls(t *testing.T) {
	inner := NewMockClient()
	inner.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ClassifyError(ctx.Err())
	}
	client := NewTimeoutClient(inner, 20*time.Millisecond)

	start := time.Now()
	_, err := client.Complete(context.Background(), &Request{Prompt: "hello"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeTimeout, llmErr.Type)
}

func TestTimeoutClient_SetsDeadline(t *testing.T) {
	inner := NewMockClient()
	var hasDeadline bool
	inner.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		_, hasDeadline = ctx.Deadline()
		return &Response{Text: "ok"}, nil
	}

	client := NewTimeoutClient(inner, time.Minute)
	resp, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.True(t, hasDeadline)
	assert.Equal(t, inner.Model(), client.Model())
}

func TestTimeoutClient_ZeroDisables(t *testing.T) {
	inner := NewMockClient()
	assert.Equal(t, Client(inner), NewTimeoutClient(inner, 0))
}
