// Package contextengine 实现上下文预算分配、召回与提示词组装
package contextengine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/google/uuid"
)

// Ranker 相关性排序
type Ranker struct {
	oracle  domain.SimilarityOracle
	metrics *Metrics
	logger  *slog.Logger
}

// NewRanker 创建排序器
func NewRanker(oracle domain.SimilarityOracle, metrics *Metrics) *Ranker {
	return &Ranker{
		oracle:  oracle,
		metrics: metrics,
		logger:  log.NewModuleLogger("contextengine", "ranker"),
	}
}

// Rank 按与 query 的相关性降序返回 items 的一个排列
// 检索服务不可用时返回原顺序；检索结果缺失的条目按原顺序追加到末尾
func (r *Ranker) Rank(ctx context.Context, query string, items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	for i, idx := range r.Order(ctx, query, items) {
		out[i] = items[idx]
	}
	return out
}

// Order 返回排序后的原始下标，总是 0..len(items)-1 的一个排列
func (r *Ranker) Order(ctx context.Context, query string, items []domain.Item) []int {
	if len(items) < 2 {
		return identityOrder(len(items))
	}

	order, err := r.rankIndices(ctx, query, items)
	if err != nil {
		log.FromContext(ctx, r.logger).Warn("Ranking unavailable, keeping original order",
			"items", len(items),
			"error", err,
		)
		r.metrics.OracleFailure("rank")
		return identityOrder(len(items))
	}
	return order
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// rankIndices 返回排序后的原始下标，长度恒等于 len(items)
func (r *Ranker) rankIndices(ctx context.Context, query string, items []domain.Item) ([]int, error) {
	batchID := "rank-" + uuid.NewString()

	docs := make([]domain.Document, len(items))
	for i, item := range items {
		docs[i] = domain.Document{ID: strconv.Itoa(i), Text: item.Content}
	}

	if err := r.oracle.Index(ctx, batchID, docs); err != nil {
		r.drop(ctx, batchID)
		return nil, fmt.Errorf("%w: failed to index batch: %v", domain.ErrOracleUnavailable, err)
	}
	defer r.drop(ctx, batchID)

	hits, err := r.oracle.Search(ctx, domain.SearchQuery{Text: query, BatchID: batchID, K: len(items)})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search batch: %v", domain.ErrOracleUnavailable, err)
	}

	return orderByScore(hits, len(items)), nil
}

func (r *Ranker) drop(ctx context.Context, batchID string) {
	if err := r.oracle.Drop(ctx, batchID); err != nil {
		r.logger.Debug("Failed to drop ranking batch",
			"batch_id", batchID,
			"error", err,
		)
	}
}

// orderByScore 按分数降序、原始位置升序排列命中结果
// 重复或越界的 ID 被忽略，未命中的下标按原顺序追加
func orderByScore(hits []domain.ScoredDocument, n int) []int {
	type scored struct {
		idx   int
		score float64
	}

	seen := make([]bool, n)
	ranked := make([]scored, 0, len(hits))
	for _, hit := range hits {
		idx, err := strconv.Atoi(hit.ID)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		ranked = append(ranked, scored{idx: idx, score: hit.Score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})

	order := make([]int, 0, n)
	for _, s := range ranked {
		order = append(order, s.idx)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}
