package token

import (
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// TruncationMarker 截断后追加的标记
const TruncationMarker = " ..."

// Truncate 将文本截断到 maxTokens 以内
//
// 已经放得下的文本原样返回；否则按空白切词，保留尽可能多的完整单词并追加
// TruncationMarker，结果（含标记）的计数不超过 maxTokens。一个完整单词都放不下时返回空串。
// 对同一 maxTokens 重复截断结果不变。
func Truncate(counter domain.TokenCounter, text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}
	if counter.CountTokens(text) <= maxTokens {
		return text
	}

	words := strings.Fields(text)
	fits := func(k int) bool {
		return counter.CountTokens(joinWords(words, k)) <= maxTokens
	}

	// 计数随保留单词数单调增长，二分查找最大的 k
	best := 0
	lo, hi := 1, len(words)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == 0 {
		return ""
	}
	return joinWords(words, best)
}

func joinWords(words []string, k int) string {
	return strings.Join(words[:k], " ") + TruncationMarker
}

// Truncator 绑定计数器的截断器
type Truncator struct {
	counter domain.TokenCounter
}

// NewTruncator 创建截断器
func NewTruncator(counter domain.TokenCounter) *Truncator {
	return &Truncator{counter: counter}
}

// Truncate 截断文本
func (t *Truncator) Truncate(text string, maxTokens int) string {
	return Truncate(t.counter, text, maxTokens)
}

// CountTokens 计数
func (t *Truncator) CountTokens(text string) int {
	return t.counter.CountTokens(text)
}
