package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 1, CountTokens(""))
	assert.Equal(t, 1, CountTokens("word"))

	// 300 words come out to roughly 4 tokens per 3 words.
	text := strings.TrimSpace(strings.Repeat("word ", 300))
	assert.Equal(t, 400, CountTokens(text))
}
