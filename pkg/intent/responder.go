package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

const respondSystemPrompt = `You are SAGE, a clinical study data assistant. You answer natural-language
questions about CDISC study datasets (subjects, adverse events, labs, vital
signs, medications) by translating them into SQL and reporting the results
with the methodology used. You never see patient identifiers.

The user's message is conversational, not a data question. Reply in one or
two friendly sentences. If they ask what you can do, mention example
questions such as "How many patients experienced headaches?" or "What is
the average age by treatment arm?". Running version: %s.`

// Responder answers conversational intents with a model reply under a fixed
// product context. The column store is never touched and responses are never
// cached. A transport failure falls back to a canned answer so small talk
// cannot error out.
type Responder struct {
	client  llm.Client
	version string
	logger  *zap.Logger
}

// NewResponder creates a conversational responder. version appears in
// status answers.
func NewResponder(client llm.Client, version string, logger *zap.Logger) *Responder {
	return &Responder{
		client:  client,
		version: version,
		logger:  logger.Named("responder"),
	}
}

// Respond returns the pipeline result for a non-clinical intent. Calling it
// with a clinical intent is a programming error and yields the help text.
func (r *Responder) Respond(ctx context.Context, intent models.Intent, question string) *models.PipelineResult {
	return &models.PipelineResult{
		Success:      true,
		Answer:       r.reply(ctx, intent, question),
		Intent:       intent,
		PipelineUsed: models.PipelineConversational,
		Confidence: &models.ConfidenceScore{
			Score: 100,
			Level: models.ConfidenceHigh,
		},
	}
}

func (r *Responder) reply(ctx context.Context, intent models.Intent, question string) string {
	req := &llm.Request{
		System:      fmt.Sprintf(respondSystemPrompt, r.version),
		Prompt:      question,
		Temperature: 0.7,
		MaxTokens:   200,
	}
	resp, err := r.client.Complete(ctx, req)
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		r.logger.Warn("Conversational reply failed, using the canned answer",
			zap.String("intent", string(intent)),
			zap.Error(err))
		return cannedAnswer(intent, r.version)
	}
	return strings.TrimSpace(resp.Text)
}

// cannedAnswer is the fallback when the model is unreachable or returns
// nothing usable.
func cannedAnswer(intent models.Intent, version string) string {
	switch intent {
	case models.IntentGreeting:
		return "Hello! I can answer questions about your clinical study data. Ask me about subjects, adverse events, lab results, vital signs, or medications."
	case models.IntentHelp:
		return "I answer natural-language questions about clinical study data. Examples:\n" +
			"- How many patients experienced headaches?\n" +
			"- What is the average age by treatment arm?\n" +
			"- List serious adverse events in the safety population.\n" +
			"I translate your question into SQL, run it against the study datasets, and explain the result."
	case models.IntentIdentity:
		return "I am SAGE, a clinical study data assistant. I turn questions into SQL over CDISC study datasets and report the results with the methodology used."
	case models.IntentFarewell:
		return "Goodbye! Come back any time you have questions about the study data."
	case models.IntentStatus:
		return fmt.Sprintf("All systems operational (version %s). Ready to answer questions about your study data.", version)
	default:
		return "I can help with questions about your clinical study data. Try asking about subjects, adverse events, labs, vitals, or medications."
	}
}
