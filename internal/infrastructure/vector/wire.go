package vector

import (
	"context"
	"fmt"
	"time"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/cocursor/contextengine/internal/infrastructure/embedding"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/rag"
	"github.com/google/wire"
	"github.com/qdrant/go-client/qdrant"
)

// ProviderSet 相似度检索 ProviderSet
var ProviderSet = wire.NewSet(
	NewEmbedder,
	NewSimilarityOracle,
)

// connectTimeout Qdrant 就绪等待时间
const connectTimeout = 5 * time.Second

// NewEmbedder 已配置 Embedding API 时使用远端服务，否则使用离线哈希向量
func NewEmbedder(providers *rag.ProviderConfig) Embedder {
	api := providers.EmbeddingAPI
	if api.Configured() {
		return embedding.NewClient(api.URL, api.APIKey, api.Model)
	}
	log.NewModuleLogger("vector", "factory").Warn("Embedding API not configured, using offline hash embeddings")
	return NewHashEmbedder(0)
}

// NewSimilarityOracle 按配置选择检索后端
// auto 模式下 Qdrant 未配置或连接失败时回退到进程内检索
func NewSimilarityOracle(vcfg *config.VectorConfig, providers *rag.ProviderConfig, embedder Embedder) (domain.SimilarityOracle, func(), error) {
	logger := log.NewModuleLogger("vector", "factory")
	noop := func() {}

	if vcfg.Backend == config.VectorBackendMemory {
		return NewMemoryOracle(embedder), noop, nil
	}

	q := providers.Qdrant
	if !q.Configured() {
		if vcfg.Backend == config.VectorBackendQdrant {
			return nil, nil, fmt.Errorf("vector backend is qdrant but qdrant is not configured")
		}
		logger.Info("Qdrant not configured, using in-memory similarity oracle")
		return NewMemoryOracle(embedder), noop, nil
	}

	manager, err := ConnectQdrant(context.Background(), &qdrant.Config{
		Host:   q.Host,
		Port:   q.Port,
		APIKey: q.APIKey,
		UseTLS: q.UseTLS,
	}, vcfg.Collection, connectTimeout)
	if err != nil {
		if vcfg.Backend == config.VectorBackendQdrant {
			return nil, nil, err
		}
		logger.Warn("Qdrant unavailable, using in-memory similarity oracle",
			"error", err,
		)
		return NewMemoryOracle(embedder), noop, nil
	}

	cleanup := func() {
		if err := manager.Close(); err != nil {
			logger.Warn("Failed to close qdrant connection", "error", err)
		}
	}
	return NewQdrantOracle(manager, embedder), cleanup, nil
}
