// Package intent routes questions between the clinical SQL pipeline and the
// lightweight conversational path.
package intent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/retry"
)

const classifySystemPrompt = `You classify questions sent to a clinical study data assistant.
Respond with exactly one word from this list:
CLINICAL_DATA - a question about study data, subjects, adverse events, labs, vitals, or medications
GREETING - a greeting such as hello or good morning
HELP - asking what the assistant can do or how to use it
IDENTITY - asking who or what the assistant is
FAREWELL - saying goodbye or thanks at the end
STATUS - asking whether the system is working
GENERAL - anything else

When unsure, respond CLINICAL_DATA.`

// Classifier decides the intent of a sanitized question.
type Classifier struct {
	client llm.Client
	logger *zap.Logger
}

// NewClassifier creates an intent classifier.
func NewClassifier(client llm.Client, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, logger: logger.Named("intent")}
}

// Classify asks the model for a one-word intent. Unknown words and any
// transport failure resolve to CLINICAL_DATA so a misclassification can
// never silence a real data question.
func (c *Classifier) Classify(ctx context.Context, question string) (models.Intent, error) {
	req := &llm.Request{
		System:    classifySystemPrompt,
		Prompt:    fmt.Sprintf("Question: %s\nIntent:", question),
		MaxTokens: 8,
	}

	resp, err := retry.DoWithResult(ctx, retry.TransportConfig(), func() (*llm.Response, error) {
		return c.client.Complete(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.IntentClinicalData, ctx.Err()
		}
		c.logger.Warn("Intent classification failed, defaulting to clinical",
			zap.Error(err))
		return models.IntentClinicalData, nil
	}

	word := llm.ExtractWord(resp.Text)
	intent := models.ParseIntent(word)
	c.logger.Debug("Intent classified",
		zap.String("raw", word),
		zap.String("intent", string(intent)))
	return intent, nil
}
