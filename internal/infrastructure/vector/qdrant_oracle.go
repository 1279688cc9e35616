package vector

import (
	"context"
	"fmt"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// defaultSearchLimit 未指定 K 时的返回条数
const defaultSearchLimit = 10

// QdrantOracle 基于 Qdrant 的相似度检索
// 所有批次共用一个集合，通过 batch_id payload 隔离
type QdrantOracle struct {
	manager  *QdrantManager
	embedder Embedder
}

// NewQdrantOracle 创建 Qdrant 检索
func NewQdrantOracle(manager *QdrantManager, embedder Embedder) *QdrantOracle {
	return &QdrantOracle{
		manager:  manager,
		embedder: embedder,
	}
}

// Index 向量化并写入批次
func (o *QdrantOracle) Index(ctx context.Context, batchID string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) || len(vectors[0]) == 0 {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	if err := o.manager.EnsureCollection(ctx, uint64(len(vectors[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				PayloadBatchID: batchID,
				PayloadDocID:   d.ID,
			}),
		}
	}

	wait := true
	_, err = o.manager.Client().Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: o.manager.Collection(),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search 在批次内检索
func (o *QdrantOracle) Search(ctx context.Context, query domain.SearchQuery) ([]domain.ScoredDocument, error) {
	vectors, err := o.embedder.EmbedTexts(ctx, []string{query.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for query", len(vectors))
	}

	limit := searchLimit(query.K)
	hits, err := o.manager.Client().Query(ctx, &qdrant.QueryPoints{
		CollectionName: o.manager.Collection(),
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          &limit,
		Filter:         batchFilter(query.BatchID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	return scoredDocuments(hits), nil
}

// searchLimit K 为 0 时使用默认条数
func searchLimit(k int) uint64 {
	if k <= 0 {
		return defaultSearchLimit
	}
	return uint64(k)
}

// scoredDocuments 按 doc_id payload 还原文档 ID，缺少 doc_id 的点被跳过
func scoredDocuments(hits []*qdrant.ScoredPoint) []domain.ScoredDocument {
	out := make([]domain.ScoredDocument, 0, len(hits))
	for _, hit := range hits {
		id := extractStringValue(hit.GetPayload()[PayloadDocID])
		if id == "" {
			continue
		}
		out = append(out, domain.ScoredDocument{ID: id, Score: float64(hit.GetScore())})
	}
	return out
}

// Drop 删除批次内的全部点
func (o *QdrantOracle) Drop(ctx context.Context, batchID string) error {
	wait := false
	_, err := o.manager.Client().Delete(ctx, &qdrant.DeletePoints{
		CollectionName: o.manager.Collection(),
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: batchFilter(batchID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
	}
	return nil
}

// batchFilter 按批次过滤
func batchFilter(batchID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(PayloadBatchID, batchID),
		},
	}
}

// extractStringValue 从 qdrant.Value 提取字符串值
func extractStringValue(val *qdrant.Value) string {
	if val == nil {
		return ""
	}
	return val.GetStringValue()
}
