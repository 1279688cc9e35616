package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccountant(t *testing.T) {
	a1, err := GetAccountant()
	require.NoError(t, err, "should create accountant without error")
	require.NotNil(t, a1)

	a2, err := GetAccountant()
	require.NoError(t, err)

	assert.Same(t, a1, a2, "should return the same instance")
	assert.Equal(t, "cl100k_base", a1.Encoding())
}

func TestAccountant_CountTokens(t *testing.T) {
	a, err := GetAccountant()
	require.NoError(t, err)

	tests := []struct {
		name     string
		text     string
		minCount int
		maxCount int
	}{
		{name: "空字符串", text: "", minCount: 0, maxCount: 0},
		{name: "简单英文", text: "Hello, world!", minCount: 3, maxCount: 5},
		{name: "简单中文", text: "你好世界", minCount: 2, maxCount: 8},
		{name: "长文本", text: "The quick brown fox jumps over the lazy dog. This is a test sentence that should produce a reasonable number of tokens.", minCount: 20, maxCount: 30},
		{name: "截断标记", text: TruncationMarker, minCount: 1, maxCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := a.CountTokens(tt.text)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestAccountant_Deterministic(t *testing.T) {
	a, err := GetAccountant()
	require.NoError(t, err)

	text := "Context budgeting must be reproducible across calls."
	first := a.CountTokens(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.CountTokens(text), "token count should be consistent")
	}
}

func TestAccountant_CountTokensBatch(t *testing.T) {
	a, err := GetAccountant()
	require.NoError(t, err)

	texts := []string{"Hello, world!", "你好世界", "func main() {}"}
	var sum int
	for _, text := range texts {
		sum += a.CountTokens(text)
	}
	assert.Equal(t, sum, a.CountTokensBatch(texts))
}
