package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
		excludes string
	}{
		{
			name:     "password in connection string",
			err:      errors.New("connect failed: password=hunter2 host=db"),
			contains: "password=" + RedactedText,
			excludes: "hunter2",
		},
		{
			name:     "bearer token",
			err:      errors.New("auth: Bearer eyJhbGciOi.eyJzdWIiOi.sig rejected"),
			contains: "Bearer " + RedactedText,
			excludes: "eyJzdWIiOi",
		},
		{
			name:     "user pass in url",
			err:      errors.New("dial postgres://sage:s3cret@db:5432/study"),
			contains: RedactedText,
			excludes: "s3cret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeError(tt.err)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.excludes)
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	long := strings.Repeat("SELECT * FROM ADAE ", 50)
	got := SanitizeQuery(long)
	assert.LessOrEqual(t, len(got), MaxQueryLogLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRedactBody(t *testing.T) {
	body := `{"message":"hi","password":"hunter2","nested":{"api_key":"abc123","keep":"yes"}}`
	got := RedactBody(body)
	assert.NotContains(t, got, "hunter2")
	assert.NotContains(t, got, "abc123")
	assert.Contains(t, got, `"keep":"yes"`)
	assert.Contains(t, got, `"message":"hi"`)
}

func TestRedactBody_NonJSON(t *testing.T) {
	got := RedactBody("plain text body")
	assert.Equal(t, "plain text body", got)
}
