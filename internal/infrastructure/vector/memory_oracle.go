package vector

import (
	"context"
	"fmt"
	"runtime"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/philippgille/chromem-go"
)

// MemoryOracle 基于 chromem-go 的进程内相似度检索
// 每个批次对应一个 chromem 集合，Drop 时整体删除
type MemoryOracle struct {
	embedder Embedder
	db       *chromem.DB
}

// NewMemoryOracle 创建进程内检索
func NewMemoryOracle(embedder Embedder) *MemoryOracle {
	return &MemoryOracle{
		embedder: embedder,
		db:       chromem.NewDB(),
	}
}

// Index 向批次追加文档
// 零向量无法归一化，对应文档不参与检索
func (o *MemoryOracle) Index(ctx context.Context, batchID string, docs []domain.Document) error {
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
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	collection, err := o.db.GetOrCreateCollection(batchID, nil, o.embeddingFunc())
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", batchID, err)
	}

	entries := make([]chromem.Document, 0, len(docs))
	for i, d := range docs {
		if isZero(vectors[i]) {
			continue
		}
		entries = append(entries, chromem.Document{ID: d.ID, Content: d.Text, Embedding: vectors[i]})
	}
	if len(entries) == 0 {
		return nil
	}
	if err := collection.AddDocuments(ctx, entries, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to %s: %w", batchID, err)
	}
	return nil
}

// Search 在批次内按余弦相似度返回前 K 个文档，K 为 0 时返回全部
func (o *MemoryOracle) Search(ctx context.Context, query domain.SearchQuery) ([]domain.ScoredDocument, error) {
	collection := o.db.GetCollection(query.BatchID, o.embeddingFunc())
	if collection == nil || collection.Count() == 0 {
		return nil, nil
	}

	vectors, err := o.embedder.EmbedTexts(ctx, []string{query.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for query", len(vectors))
	}
	if isZero(vectors[0]) {
		return nil, nil
	}

	n := collection.Count()
	if query.K > 0 && query.K < n {
		n = query.K
	}
	results, err := collection.QueryEmbedding(ctx, vectors[0], n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", query.BatchID, err)
	}

	hits := make([]domain.ScoredDocument, len(results))
	for i, r := range results {
		hits[i] = domain.ScoredDocument{ID: r.ID, Score: float64(r.Similarity)}
	}
	return hits, nil
}

// Drop 删除批次
func (o *MemoryOracle) Drop(_ context.Context, batchID string) error {
	if err := o.db.DeleteCollection(batchID); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", batchID, err)
	}
	return nil
}

// BatchCount 当前批次数
func (o *MemoryOracle) BatchCount() int {
	return len(o.db.ListCollections())
}

// embeddingFunc 把 Embedder 适配为 chromem 的单文本向量化函数
func (o *MemoryOracle) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := o.embedder.EmbedTexts(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("embedder returned %d vectors", len(vectors))
		}
		return vectors[0], nil
	}
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
