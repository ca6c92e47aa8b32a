package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateToTokensLeavesShortTextUnchanged(t *testing.T) {
	text := "short page content"
	assert.Equal(t, text, TruncateToTokens(text, 100, "gpt-4o-mini"))
}

func TestTruncateToTokensShrinksLongText(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	truncated := TruncateToTokens(text, 20, "gpt-4o-mini")

	assert.Less(t, len(truncated), len(text))
	assert.LessOrEqual(t, CountTokens(truncated, "gpt-4o-mini"), 20)
}

func TestCountTokensCountsEmptyAsZero(t *testing.T) {
	assert.Equal(t, 0, CountTokens("", "gpt-4o-mini"))
}
