package contextengine

import (
	"unicode"
	"unicode/utf8"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// Chunk 原文中的一个片段，Start/End 为字节偏移
type Chunk struct {
	Index  int
	Start  int
	End    int
	Text   string
	Tokens int
}

// Chunker 按单词边界切分带重叠的片段
type Chunker struct {
	counter       domain.TokenCounter
	chunkTokens   int
	overlapTokens int
}

// NewChunker 创建切分器
func NewChunker(counter domain.TokenCounter, chunkTokens, overlapTokens int) *Chunker {
	if chunkTokens <= 0 {
		chunkTokens = domain.DefaultPolicy().ChunkTokens
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = 0
	}
	return &Chunker{
		counter:       counter,
		chunkTokens:   chunkTokens,
		overlapTokens: overlapTokens,
	}
}

type wordSpan struct {
	start, end int
	tokens     int
}

// Split 切分文本
// 片段不拆分单词；单个单词超过片段大小时独占一个片段
func (c *Chunker) Split(text string) []Chunk {
	words := c.words(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	i := 0
	for i < len(words) {
		j := i
		sum := 0
		for j < len(words) && (j == i || sum+words[j].tokens <= c.chunkTokens) {
			sum += words[j].tokens
			j++
		}

		start, end := words[i].start, words[j-1].end
		chunk := Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  text[start:end],
		}
		chunk.Tokens = c.counter.CountTokens(chunk.Text)
		chunks = append(chunks, chunk)

		if j >= len(words) {
			break
		}

		// 回退 overlapTokens 个 Token 作为下一片段的起点，至少前进一个单词
		k, overlap := j, 0
		for k-1 > i && overlap+words[k-1].tokens <= c.overlapTokens {
			overlap += words[k-1].tokens
			k--
		}
		i = k
	}
	return chunks
}

// words 返回非空白单词的字节区间及其 Token 数
func (c *Chunker) words(text string) []wordSpan {
	var spans []wordSpan
	start := -1
	for pos := 0; pos < len(text); {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, wordSpan{start: start, end: pos})
				start = -1
			}
		} else if start < 0 {
			start = pos
		}
		pos += size
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}

	for i := range spans {
		// 词前空格与词一起编码，更接近整段计数
		spans[i].tokens = c.counter.CountTokens(" " + text[spans[i].start:spans[i].end])
	}
	return spans
}
