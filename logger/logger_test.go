package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsAndHashes(t *testing.T) {
	l := &Logger{redact: true}
	out := l.sanitize([]any{"owner_id", "HE170001", "gemini_api_key", "abc", "batch", 3})

	assert.Equal(t, "owner_id", out[0])
	assert.NotEqual(t, "HE170001", out[1])
	assert.Contains(t, out[1], "hash:")
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, 3, out[5])
}

func TestSanitizeDisabledPassesThrough(t *testing.T) {
	l := &Logger{}
	kv := []any{"owner_id", "HE170001"}
	assert.Equal(t, kv, l.sanitize(kv))
}

func TestSanitizeOddLength(t *testing.T) {
	l := &Logger{redact: true}
	out := l.sanitize([]any{"a", 1, "dangling"})
	assert.Equal(t, []any{"a", 1, "dangling"}, out)
}
