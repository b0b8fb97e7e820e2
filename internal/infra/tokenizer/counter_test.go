package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_CountTokens(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Positive(t, counter.CountTokens("Jane Doe works for Acme Corp."))
	assert.Positive(t, counter.CountTokens("田中さんはアクメ社で働いている"))
}

func TestCounter_Truncate(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	text := strings.Repeat("knowledge graph ", 50)
	truncated := counter.Truncate(text, 10)

	assert.LessOrEqual(t, counter.CountTokens(truncated), 10)
	assert.True(t, strings.HasPrefix(text, truncated))

	assert.Equal(t, "short text", counter.Truncate("short text", 100))
	assert.Equal(t, text, counter.Truncate(text, 0), "上限なしは切り詰めない")
}

func TestCounter_NilSafe(t *testing.T) {
	var counter *Counter
	assert.Equal(t, 0, counter.CountTokens("anything"))
	assert.Equal(t, "anything", counter.Truncate("anything", 1))
}
