package respond

import "github.com/sage-clinical/sage-engine/pkg/models"

// HumanError is the user-facing rendering of a pipeline failure. Raw driver
// and model errors never appear here.
type HumanError struct {
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

var humanErrors = map[models.ErrorKind]HumanError{
	models.ErrSanitization: {
		Message:    "Your question could not be processed because it appears to contain personal data or unsafe content.",
		Suggestion: "Rephrase the question without identifiers, code, or instructions.",
	},
	models.ErrClassification: {
		Message:    "I could not work out what kind of question this is.",
		Suggestion: "Try asking directly about subjects, adverse events, labs, vitals, or medications.",
	},
	models.ErrEntityExtraction: {
		Message:    "I could not recognize the clinical terms in your question.",
		Suggestion: "Try the standard medical term, for example 'pyrexia' instead of 'fever'.",
	},
	models.ErrTableResolution: {
		Message:    "The study data needed to answer this question is not loaded.",
		Suggestion: "Check which datasets have been uploaded for this study.",
	},
	models.ErrPromptBuild: {
		Message:    "I could not assemble the context needed to answer this question.",
		Suggestion: "Try a shorter or more specific question.",
	},
	models.ErrLLMTimeout: {
		Message:    "The language model took too long to respond.",
		Suggestion: "Please try again in a moment.",
	},
	models.ErrLLMConnection: {
		Message:    "The language model service is unreachable right now.",
		Suggestion: "Please try again shortly; if it persists, contact your administrator.",
	},
	models.ErrLLMModel: {
		Message:    "The language model returned an unusable response.",
		Suggestion: "Rephrasing the question often helps.",
	},
	models.ErrSQLValidation: {
		Message:    "The generated query did not pass safety validation, so it was not run.",
		Suggestion: "Rephrase the question; asking about one thing at a time helps.",
	},
	models.ErrSQLExecution: {
		Message:    "The query could not be completed against the study data.",
		Suggestion: "Try narrowing the question, for example to one dataset or visit.",
	},
	models.ErrCancelled: {
		Message:    "The request was cancelled before it finished.",
		Suggestion: "",
	},
	models.ErrInternal: {
		Message:    "Something went wrong on our side while answering.",
		Suggestion: "Please try again; if it persists, contact your administrator.",
	},
}

// Humanize maps an error kind to its user-facing message. Unknown kinds read
// as internal errors.
func Humanize(kind models.ErrorKind) HumanError {
	if h, ok := humanErrors[kind]; ok {
		return h
	}
	return humanErrors[models.ErrInternal]
}

// HumanizeWithReason uses a caller-supplied safe reason as the message,
// keeping the standard suggestion for the kind. Sanitization uses it to
// surface the block reason, which is generated text, never user input.
func HumanizeWithReason(kind models.ErrorKind, reason string) HumanError {
	h := Humanize(kind)
	if reason != "" {
		h.Message = reason
	}
	return h
}
