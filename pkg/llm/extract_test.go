package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "bare sql",
			response: "SELECT COUNT(*) FROM ADAE",
			want:     "SELECT COUNT(*) FROM ADAE",
		},
		{
			name:     "fenced sql block",
			response: "Here is the query:\n```sql\nSELECT * FROM ADSL WHERE SAFFL = 'Y'\n```",
			want:     "SELECT * FROM ADSL WHERE SAFFL = 'Y'",
		},
		{
			name:     "untagged fence",
			response: "```\nSELECT 1\n```",
			want:     "SELECT 1",
		},
		{
			name:     "thinking tags then sql",
			response: "<think>the user wants a count</think>SELECT COUNT(*) FROM AE",
			want:     "SELECT COUNT(*) FROM AE",
		},
		{
			name:     "leading prose without fence",
			response: "Sure! The SQL is: SELECT USUBJID FROM DM",
			want:     "SELECT USUBJID FROM DM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSQL(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSQL_NoSelect(t *testing.T) {
	_, err := ExtractSQL("I cannot answer that question.")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeModel, GetErrorType(err))
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		response string
		want     string
	}{
		{"CLINICAL_DATA", "CLINICAL_DATA"},
		{"greeting", "GREETING"},
		{"  GREETING.\n", "GREETING"},
		{"HELP: the user wants usage info", "HELP"},
		{"<think>hmm</think>FAREWELL", "FAREWELL"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractWord(tt.response))
	}
}
