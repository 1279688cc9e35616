package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/qdrant/go-client/qdrant"
)

// PayloadBatchID 批次 ID 的 payload 键
const PayloadBatchID = "batch_id"

// PayloadDocID 文档 ID 的 payload 键
const PayloadDocID = "doc_id"

// QdrantManager Qdrant 连接与集合管理
type QdrantManager struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu        sync.Mutex
	ensuredAt uint64 // 已确认的向量维度，0 表示尚未确认
}

// ConnectQdrant 连接 Qdrant 并等待就绪
func ConnectQdrant(ctx context.Context, cfg *qdrant.Config, collection string, timeout time.Duration) (*QdrantManager, error) {
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	m := &QdrantManager{
		client:     client,
		collection: collection,
		logger:     log.NewModuleLogger("vector", "qdrant"),
	}
	if err := m.waitForReady(ctx, timeout); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant failed to become ready: %w", err)
	}

	m.logger.Info("Connected to qdrant",
		"host", cfg.Host,
		"port", cfg.Port,
		"collection", collection,
	)
	return m, nil
}

// waitForReady 轮询 ListCollections 直到成功或超时
func (m *QdrantManager) waitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := m.client.ListCollections(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for qdrant: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// EnsureCollection 确保集合存在并为 batch_id 建立索引
func (m *QdrantManager) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ensuredAt == vectorSize {
		return nil
	}

	existing, err := m.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range existing {
		if name == m.collection {
			m.ensuredAt = vectorSize
			return nil
		}
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", m.collection, err)
	}

	_, err = m.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: m.collection,
		FieldName:      PayloadBatchID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		m.logger.Warn("Failed to create batch_id index",
			"collection", m.collection,
			"error", err,
		)
	}

	m.logger.Info("Created qdrant collection",
		"collection", m.collection,
		"vector_size", vectorSize,
	)
	m.ensuredAt = vectorSize
	return nil
}

// Client 返回底层客户端
func (m *QdrantManager) Client() *qdrant.Client {
	return m.client
}

// Collection 返回集合名
func (m *QdrantManager) Collection() string {
	return m.collection
}

// Close 关闭连接
func (m *QdrantManager) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
