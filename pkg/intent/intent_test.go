package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     models.Intent
	}{
		{"clinical", "CLINICAL_DATA", models.IntentClinicalData},
		{"greeting lowercase", "greeting", models.IntentGreeting},
		{"help with prose", "HELP - the user wants usage info", models.IntentHelp},
		{"identity", "IDENTITY", models.IntentIdentity},
		{"farewell trailing dot", "FAREWELL.", models.IntentFarewell},
		{"status", "STATUS", models.IntentStatus},
		{"general", "GENERAL", models.IntentGeneral},
		{"unknown word defaults clinical", "BANANA", models.IntentClinicalData},
		{"empty defaults clinical", "", models.IntentClinicalData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(llm.ScriptedClient(tt.response), zap.NewNop())
			got, err := c.Classify(context.Background(), "whatever")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_TransportFailureDefaultsClinical(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, nil)
	}

	c := NewClassifier(mock, zap.NewNop())
	got, err := c.Classify(context.Background(), "how many patients")
	require.NoError(t, err)
	assert.Equal(t, models.IntentClinicalData, got)
}

func TestClassify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClassifier(llm.ScriptedClient("GREETING"), zap.NewNop())
	_, err := c.Classify(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRespond_UsesModelReply(t *testing.T) {
	mock := llm.ScriptedClient("Hi! Ask me anything about your study data.")
	r := NewResponder(mock, "1.2.3", zap.NewNop())

	result := r.Respond(context.Background(), models.IntentGreeting, "Hello there!")

	assert.True(t, result.Success)
	assert.Equal(t, "Hi! Ask me anything about your study data.", result.Answer)
	assert.Equal(t, models.IntentGreeting, result.Intent)
	assert.Equal(t, models.PipelineConversational, result.PipelineUsed)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, float64(100), result.Confidence.Score)

	// The reply runs under a fixed product context, not the SQL prompt.
	require.Len(t, mock.Requests, 1)
	assert.Contains(t, mock.Requests[0].System, "SAGE")
	assert.Contains(t, mock.Requests[0].System, "1.2.3")
	assert.Equal(t, "Hello there!", mock.Requests[0].Prompt)
}

func TestRespond_FallsBackWhenModelFails(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, llm.NewError(llm.ErrorTypeConnection, "connection refused", true, nil)
	}
	r := NewResponder(mock, "1.2.3", zap.NewNop())

	for _, intent := range []models.Intent{
		models.IntentGreeting,
		models.IntentHelp,
		models.IntentIdentity,
		models.IntentFarewell,
		models.IntentStatus,
		models.IntentGeneral,
	} {
		result := r.Respond(context.Background(), intent, "whatever")
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.Answer)
		assert.Equal(t, intent, result.Intent)
	}

	assert.Contains(t, r.Respond(context.Background(), models.IntentStatus, "up?").Answer, "1.2.3")
	assert.Contains(t, r.Respond(context.Background(), models.IntentIdentity, "who are you").Answer, "SAGE")
}

func TestRespond_FallsBackOnEmptyReply(t *testing.T) {
	mock := llm.ScriptedClient("   ")
	r := NewResponder(mock, "1.2.3", zap.NewNop())

	result := r.Respond(context.Background(), models.IntentGreeting, "hi")
	assert.NotEmpty(t, result.Answer)
	assert.NotEqual(t, "   ", result.Answer)
}
