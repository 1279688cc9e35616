package contextengine

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/google/uuid"
)

// GapMarker 不相邻片段之间的分隔标记
const GapMarker = " [...] "

// Recaller 超长条目的分块召回
type Recaller struct {
	oracle  domain.SimilarityOracle
	counter domain.TokenCounter
	chunker *Chunker
	topK    int
	metrics *Metrics
	logger  *slog.Logger
}

// WithPolicy 返回使用新切分参数的副本
func (r *Recaller) WithPolicy(policy domain.Policy) *Recaller {
	out := *r
	out.chunker = NewChunker(r.counter, policy.ChunkTokens, policy.ChunkOverlapTokens)
	out.topK = policy.RecallTopK
	return &out
}

// NewRecaller 创建召回器
func NewRecaller(oracle domain.SimilarityOracle, counter domain.TokenCounter, policy domain.Policy, metrics *Metrics) *Recaller {
	return &Recaller{
		oracle:  oracle,
		counter: counter,
		chunker: NewChunker(counter, policy.ChunkTokens, policy.ChunkOverlapTokens),
		topK:    policy.RecallTopK,
		metrics: metrics,
		logger:  log.NewModuleLogger("contextengine", "recall"),
	}
}

// Recall 从 text 中召回与 query 最相关、总计不超过 budget 的片段
//
// 片段按相关性依次整体接受，遇到第一个放不下的片段即停止；
// 接受的片段按原文位置拼接，不相邻处插入 GapMarker。
// 片段只整体接受，连最相关的片段都放不下时返回空串。
// 检索服务失败时退化为直接截断。
func (r *Recaller) Recall(ctx context.Context, query, text string, budget int) string {
	if budget <= 0 || text == "" {
		return ""
	}
	if r.counter.CountTokens(text) <= budget {
		return text
	}

	chunks := r.chunker.Split(text)
	if len(chunks) < 2 {
		return token.Truncate(r.counter, text, budget)
	}

	ranked, err := r.search(ctx, query, chunks)
	if err != nil {
		log.FromContext(ctx, r.logger).Warn("Chunk recall unavailable, truncating instead",
			"chunks", len(chunks),
			"error", err,
		)
		r.metrics.OracleFailure("recall")
		return token.Truncate(r.counter, text, budget)
	}
	if len(ranked) == 0 {
		return token.Truncate(r.counter, text, budget)
	}

	accepted := make([]Chunk, 0, len(ranked))
	used := 0
	for _, idx := range ranked {
		c := chunks[idx]
		if used+c.Tokens > budget {
			break
		}
		accepted = append(accepted, c)
		used += c.Tokens
	}
	if len(accepted) == 0 {
		return ""
	}

	// 分隔标记会带来额外开销，超出时依次移除最不相关的片段
	for {
		out := assembleChunks(text, accepted)
		if r.counter.CountTokens(out) <= budget {
			return out
		}
		if len(accepted) == 1 {
			return ""
		}
		accepted = accepted[:len(accepted)-1]
	}
}

// search 索引片段并返回按相关性排序的片段下标（仅包含命中的片段）
func (r *Recaller) search(ctx context.Context, query string, chunks []Chunk) ([]int, error) {
	batchID := "recall-" + uuid.NewString()

	docs := make([]domain.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = domain.Document{ID: strconv.Itoa(i), Text: c.Text}
	}
	defer func() {
		if err := r.oracle.Drop(ctx, batchID); err != nil {
			r.logger.Debug("Failed to drop recall batch",
				"batch_id", batchID,
				"error", err,
			)
		}
	}()

	if err := r.oracle.Index(ctx, batchID, docs); err != nil {
		return nil, err
	}

	k := len(chunks)
	if r.topK > 0 && r.topK < k {
		k = r.topK
	}
	hits, err := r.oracle.Search(ctx, domain.SearchQuery{Text: query, BatchID: batchID, K: k})
	if err != nil {
		return nil, err
	}

	order := orderByScore(hits, len(chunks))
	return order[:countValidHits(hits, len(chunks))], nil
}

// countValidHits 统计可解析且不重复的命中数
func countValidHits(hits []domain.ScoredDocument, n int) int {
	seen := make(map[int]bool, len(hits))
	for _, hit := range hits {
		idx, err := strconv.Atoi(hit.ID)
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		seen[idx] = true
	}
	return len(seen)
}

// assembleChunks 按原文位置拼接片段
// 重叠或相邻的片段合并为原文中的一段连续文本
func assembleChunks(text string, chunks []Chunk) string {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	type span struct{ start, end, last int }
	var spans []span
	for _, c := range sorted {
		if n := len(spans); n > 0 {
			cur := &spans[n-1]
			if c.Start <= cur.end || c.Index == cur.last+1 {
				if c.End > cur.end {
					cur.end = c.End
				}
				cur.last = c.Index
				continue
			}
		}
		spans = append(spans, span{start: c.Start, end: c.End, last: c.Index})
	}

	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = text[s.start:s.end]
	}
	return strings.Join(parts, GapMarker)
}
