package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> tags some models emit before
// their actual answer.
var thinkTagPattern = regexp.MustCompile(`(?s)\s*<think>.*?</think>\s*`)

// fencedBlockPattern matches a markdown code fence, optionally tagged sql.
var fencedBlockPattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// selectPattern finds the start of the first SELECT statement.
var selectPattern = regexp.MustCompile(`(?is)\bSELECT\b`)

// ExtractSQL pulls a single SQL statement out of a model response that may
// contain reasoning tags, code fences, or surrounding prose. It returns an
// error when no SELECT statement can be located; the caller treats that as a
// malformed model response.
func ExtractSQL(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	// Prefer the content of a code fence when present.
	if m := fencedBlockPattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	loc := selectPattern.FindStringIndex(cleaned)
	if loc == nil {
		return "", NewError(ErrorTypeModel, "no SELECT statement in response", false,
			fmt.Errorf("response: %s", truncate(response, 120)))
	}

	sql := strings.TrimSpace(cleaned[loc[0]:])
	sql = strings.TrimSuffix(sql, "```")
	return strings.TrimSpace(sql), nil
}

// ExtractWord returns the first whitespace-delimited token of a response,
// upper-cased, with any punctuation and reasoning tags removed. The intent
// classifier expects a one-word answer and uses this to be lenient about
// models that add trailing punctuation or prose.
func ExtractWord(response string) string {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}

	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ',' || r == ':' || r == '!' || r == '"' || r == '\''
	})
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
