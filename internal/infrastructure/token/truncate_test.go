package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter 按空白分词计数，便于精确断言
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func TestTruncate_WordCounter(t *testing.T) {
	c := wordCounter{}

	t.Run("放得下时原样返回", func(t *testing.T) {
		text := "one  two\nthree"
		assert.Equal(t, text, Truncate(c, text, 3))
	})

	t.Run("截断并追加标记", func(t *testing.T) {
		// 标记 " ..." 计为 1 个 token
		got := Truncate(c, "a b c d e f", 4)
		assert.Equal(t, "a b c ...", got)
		assert.LessOrEqual(t, c.CountTokens(got), 4)
	})

	t.Run("预算为零", func(t *testing.T) {
		assert.Equal(t, "", Truncate(c, "a b c", 0))
		assert.Equal(t, "", Truncate(c, "a b c", -3))
	})

	t.Run("一个单词都放不下", func(t *testing.T) {
		assert.Equal(t, "", Truncate(c, "a b c", 1))
	})

	t.Run("空文本", func(t *testing.T) {
		assert.Equal(t, "", Truncate(c, "", 10))
	})
}

func TestTruncate_Idempotent(t *testing.T) {
	a, err := GetAccountant()
	require.NoError(t, err)

	text := strings.Repeat("The allocator keeps every item within its budget. ", 40)
	for _, n := range []int{1, 5, 17, 64, 200} {
		once := Truncate(a, text, n)
		twice := Truncate(a, once, n)
		assert.Equal(t, once, twice, "truncation should be idempotent for n=%d", n)
		assert.LessOrEqual(t, a.CountTokens(once), n)
	}
}

func TestTruncate_NeverSplitsWords(t *testing.T) {
	a, err := GetAccountant()
	require.NoError(t, err)

	text := "internationalization localization accessibility observability"
	got := Truncate(a, text, 6)
	if got == "" {
		return
	}
	require.True(t, strings.HasSuffix(got, TruncationMarker))
	kept := strings.Fields(strings.TrimSuffix(got, TruncationMarker))
	original := strings.Fields(text)
	require.LessOrEqual(t, len(kept), len(original))
	assert.Equal(t, original[:len(kept)], kept)
}

func TestTruncator(t *testing.T) {
	tr := NewTruncator(wordCounter{})
	assert.Equal(t, "x y ...", tr.Truncate("x y z w", 3))
	assert.Equal(t, 4, tr.CountTokens("x y z w"))
}
