package contextengine

import (
	"context"
	"encoding/json"
)

// TokenCounter Token 计数器
// 同一文本必须始终返回相同的计数
type TokenCounter interface {
	CountTokens(text string) int
}

// ModelInfo 模型信息
type ModelInfo struct {
	ID             string `yaml:"id" json:"id"`
	ContextLimit   int    `yaml:"context_limit" json:"contextLimit"`
	ContextCaching bool   `yaml:"context_caching" json:"contextCaching"`
}

// ModelRegistry 模型上下文窗口注册表
type ModelRegistry interface {
	// Lookup 返回模型信息，未知模型返回 *UnknownModelError
	Lookup(modelID string) (ModelInfo, error)
}

// Document 待索引文档
type Document struct {
	ID   string
	Text string
}

// ScoredDocument 检索命中
type ScoredDocument struct {
	ID    string
	Score float64
}

// SearchQuery 检索请求，结果只在 BatchID 范围内
type SearchQuery struct {
	Text    string
	BatchID string
	K       int
}

// SimilarityOracle 相似度检索服务
// 批次之间互相隔离，调用方负责 Drop
type SimilarityOracle interface {
	Index(ctx context.Context, batchID string, docs []Document) error
	Search(ctx context.Context, query SearchQuery) ([]ScoredDocument, error)
	Drop(ctx context.Context, batchID string) error
}

// StructuredSchema 结构化输出的 JSON Schema
type StructuredSchema struct {
	Name   string
	Schema json.RawMessage
}

// StructuredOutput 结构化调用结果
// Parsed 为服务端解析出的 JSON（可能为空），Raw 为原始文本
type StructuredOutput struct {
	Parsed json.RawMessage
	Raw    string
}

// LanguageModel 语言模型调用方
type LanguageModel interface {
	Invoke(ctx context.Context, messages []ChatMessage) (string, error)
	InvokeStructured(ctx context.Context, messages []ChatMessage, schema StructuredSchema) (*StructuredOutput, error)
}
