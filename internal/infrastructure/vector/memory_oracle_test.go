package vector

import (
	"context"
	"errors"
	"testing"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/cocursor/contextengine/internal/infrastructure/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dot 归一化向量的点积即余弦相似度
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestHashEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	vecs, err := e.EmbedTexts(context.Background(), []string{
		"token budget allocation",
		"allocation of the token budget",
		"chocolate cake recipe",
	})
	require.NoError(t, err)

	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[0]), 1e-6)
}

func TestMemoryOracle_SearchWithinBatch(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOracle(NewHashEmbedder(256))

	require.NoError(t, o.Index(ctx, "b1", []domain.Document{
		{ID: "cake", Text: "chocolate cake recipe with butter"},
		{ID: "budget", Text: "token budget for the context window"},
	}))
	require.NoError(t, o.Index(ctx, "b2", []domain.Document{
		{ID: "other", Text: "token budget token budget"},
	}))

	hits, err := o.Search(ctx, domain.SearchQuery{Text: "context token budget", BatchID: "b1", K: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2, "结果只应来自 b1")
	assert.Equal(t, "budget", hits[0].ID)

	hits, err = o.Search(ctx, domain.SearchQuery{Text: "budget", BatchID: "b1", K: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryOracle_Drop(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOracle(NewHashEmbedder(64))
	require.NoError(t, o.Index(ctx, "b1", []domain.Document{{ID: "a", Text: "alpha"}}))
	assert.Equal(t, 1, o.BatchCount())

	require.NoError(t, o.Drop(ctx, "b1"))
	assert.Equal(t, 0, o.BatchCount())

	hits, err := o.Search(ctx, domain.SearchQuery{Text: "alpha", BatchID: "b1", K: 3})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryOracle_SearchWithoutK(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOracle(NewHashEmbedder(128))
	require.NoError(t, o.Index(ctx, "b", []domain.Document{
		{ID: "0", Text: "kubernetes rollout"},
		{ID: "1", Text: "helm chart values"},
		{ID: "2", Text: "kubernetes service mesh"},
	}))

	hits, err := o.Search(ctx, domain.SearchQuery{Text: "kubernetes", BatchID: "b"})
	require.NoError(t, err)
	require.Len(t, hits, 3, "K 为 0 时返回批次内全部文档")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestMemoryOracle_ZeroVectors(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOracle(NewHashEmbedder(64))
	require.NoError(t, o.Index(ctx, "b", []domain.Document{
		{ID: "blank", Text: "   "},
		{ID: "word", Text: "alpha"},
	}))

	hits, err := o.Search(ctx, domain.SearchQuery{Text: "alpha", BatchID: "b", K: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1, "没有词的文本不参与检索")
	assert.Equal(t, "word", hits[0].ID)

	hits, err = o.Search(ctx, domain.SearchQuery{Text: "!!!", BatchID: "b", K: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryOracle_EmbedderFailure(t *testing.T) {
	o := NewMemoryOracle(failingEmbedder{})
	err := o.Index(context.Background(), "b", []domain.Document{{ID: "a", Text: "x"}})
	assert.Error(t, err)
}

func TestNewSimilarityOracle_FallsBackToMemory(t *testing.T) {
	providers := &rag.ProviderConfig{}

	oracle, cleanup, err := NewSimilarityOracle(&config.VectorConfig{Backend: config.VectorBackendAuto}, providers, NewHashEmbedder(0))
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &MemoryOracle{}, oracle)

	_, _, err = NewSimilarityOracle(&config.VectorConfig{Backend: config.VectorBackendQdrant}, providers, NewHashEmbedder(0))
	assert.Error(t, err, "显式要求 qdrant 但未配置时应报错")
}

func TestNewEmbedder(t *testing.T) {
	assert.IsType(t, &HashEmbedder{}, NewEmbedder(&rag.ProviderConfig{}))

	providers := &rag.ProviderConfig{EmbeddingAPI: rag.APIConfig{URL: "http://localhost:11434/v1", Model: "nomic-embed-text"}}
	assert.NotNil(t, NewEmbedder(providers))
	_, isHash := NewEmbedder(providers).(*HashEmbedder)
	assert.False(t, isHash)
}
