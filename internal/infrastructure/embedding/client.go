package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cocursor/contextengine/internal/infrastructure/log"
)

const (
	// maxBatchSize OpenAI embeddings API 单次最多 2048 个文本
	maxBatchSize = 2048
	// maxRetries 单批最大重试次数
	maxRetries = 3
)

// Client Embedding API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建 Embedding 客户端
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.NewModuleLogger("embedding", "client"),
	}
}

// buildEmbeddingURL 构建 Embedding API URL
// 支持多种输入格式，智能拼接 /v1/embeddings 路径
func buildEmbeddingURL(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "/v1/embeddings"):
		return baseURL
	case strings.HasSuffix(baseURL, "/v1"):
		return baseURL + "/embeddings"
	case strings.HasSuffix(baseURL, "/v1/"):
		return baseURL + "embeddings"
	default:
		return fmt.Sprintf("%s/v1/embeddings", baseURL)
	}
}

// EmbeddingRequest Embedding 请求
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse Embedding 响应
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedTexts 批量向量化文本，返回顺序与输入一致
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	allVectors := make([][]float32, 0, len(texts))
	totalBatches := (len(texts) + maxBatchSize - 1) / maxBatchSize

	for i := 0; i < len(texts); i += maxBatchSize {
		end := min(i+maxBatchSize, len(texts))
		batchNum := i/maxBatchSize + 1

		if totalBatches > 1 {
			c.logger.Debug("Processing embedding batch",
				"batch", batchNum,
				"total_batches", totalBatches,
				"batch_size", end-i,
			)
		}

		vectors, err := c.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", batchNum, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// embedWithRetry 带重试的单批嵌入
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		vectors, err := c.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		c.logger.Warn("Embedding request failed, retrying",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"error", err,
		)

		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second): // 递增延迟
			}
		}
	}
	return nil, lastErr
}

// embedOnce 发送一次嵌入请求
func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(EmbeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := buildEmbeddingURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	c.logger.Debug("Sending embedding request",
		"url", url,
		"batch_size", len(texts),
		"model", c.model,
		"api_key", maskAPIKey(c.apiKey),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embeddingResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("API returned %d embeddings for %d inputs", len(embeddingResp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range embeddingResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("API returned out of range index %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

// Dimension 获取向量维度（通过测试请求）
func (c *Client) Dimension(ctx context.Context) (int, error) {
	vectors, err := c.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("invalid embedding response")
	}
	return len(vectors[0]), nil
}

// maskAPIKey API Key 脱敏
func maskAPIKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}
