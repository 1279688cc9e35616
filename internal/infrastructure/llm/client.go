package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
)

// errResponseFormatRejected 服务端不支持 response_format
var errResponseFormatRejected = errors.New("response_format rejected")

// Client OpenAI 兼容的 Chat 客户端，实现 domain.LanguageModel
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ChatRequest Chat API 请求
type ChatRequest struct {
	Messages       []Message       `json:"messages"`
	Model          string          `json:"model,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat 结构化输出格式
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema response_format 中的 schema 描述
type JSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// Message Chat 消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse Chat API 响应
type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient 创建 LLM 客户端
func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.NewModuleLogger("llm", "client"),
	}
}

// Invoke 发送对话并返回文本回复
func (c *Client) Invoke(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return c.complete(ctx, ChatRequest{
		Messages: toMessages(messages),
		Model:    c.model,
	})
}

// InvokeStructured 以 json_schema 模式请求结构化输出
// 服务端拒绝 response_format 时退化为普通调用，由调用方从原始文本中提取 JSON
func (c *Client) InvokeStructured(ctx context.Context, messages []domain.ChatMessage, schema domain.StructuredSchema) (*domain.StructuredOutput, error) {
	temperature := 0.0
	req := ChatRequest{
		Messages:    toMessages(messages),
		Model:       c.model,
		Temperature: &temperature,
		ResponseFormat: &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
			},
		},
	}

	content, err := c.complete(ctx, req)
	if errors.Is(err, errResponseFormatRejected) {
		c.logger.Warn("Structured output not supported, falling back to plain completion",
			"model", c.model,
		)
		req.ResponseFormat = nil
		content, err = c.complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	out := &domain.StructuredOutput{Raw: content}
	if trimmed := strings.TrimSpace(content); json.Valid([]byte(trimmed)) {
		out.Parsed = json.RawMessage(trimmed)
	}
	return out, nil
}

// complete 发送请求并返回第一个候选内容
func (c *Client) complete(ctx context.Context, reqBody ChatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	c.logger.Debug("Sending LLM request",
		"url", url,
		"model", c.model,
		"messages", len(reqBody.Messages),
		"structured", reqBody.ResponseFormat != nil,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := c.readResponseBody(resp)
		if resp.StatusCode == http.StatusBadRequest && reqBody.ResponseFormat != nil && strings.Contains(body, "response_format") {
			return "", errResponseFormatRejected
		}
		return "", fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode, body)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode LLM response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("LLM API returned no choices")
	}

	c.logger.Debug("LLM request completed",
		"model", c.model,
		"tokens", chatResp.Usage.TotalTokens,
		"finish_reason", chatResp.Choices[0].FinishReason,
	)

	return chatResp.Choices[0].Message.Content, nil
}

// toMessages 转换角色名，human 对应 OpenAI 的 user
func toMessages(messages []domain.ChatMessage) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		role := string(m.Role)
		if m.Role == domain.RoleHuman {
			role = "user"
		}
		out[i] = Message{Role: role, Content: m.Content}
	}
	return out
}

// readResponseBody 读取响应体
func (c *Client) readResponseBody(resp *http.Response) (string, error) {
	if resp.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
