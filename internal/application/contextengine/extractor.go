package contextengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/kaptinlin/jsonschema"
)

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)\n[ \t]*```")
	inlineCodePattern = regexp.MustCompile("`([^`]+)`")
)

// StructuredExtractor 带校验与重试的结构化输出提取
type StructuredExtractor struct {
	model       domain.LanguageModel
	spec        domain.StructuredSchema
	schema      *jsonschema.Schema
	maxAttempts int
	logger      *slog.Logger
}

// NewStructuredExtractor 编译 JSON Schema 并创建提取器
func NewStructuredExtractor(model domain.LanguageModel, spec domain.StructuredSchema, maxAttempts int) (*StructuredExtractor, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(spec.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", spec.Name, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &StructuredExtractor{
		model:       model,
		spec:        spec,
		schema:      schema,
		maxAttempts: maxAttempts,
		logger:      log.NewModuleLogger("contextengine", "extractor"),
	}, nil
}

// withMaxAttempts 返回使用不同尝试次数的副本，共享已编译的 Schema
func (e *StructuredExtractor) withMaxAttempts(n int) *StructuredExtractor {
	if n < 1 || n == e.maxAttempts {
		return e
	}
	out := *e
	out.maxAttempts = n
	return &out
}

// Extract 调用模型并返回通过校验的 JSON
// 全部尝试失败时返回包装了 ErrExtractionFailure 的错误
func (e *StructuredExtractor) Extract(ctx context.Context, messages []domain.ChatMessage) (json.RawMessage, error) {
	return e.attempt(ctx, messages, 1, nil)
}

// attempt 第 n 次尝试，lastErr 为上一次的失败原因
func (e *StructuredExtractor) attempt(ctx context.Context, messages []domain.ChatMessage, n int, lastErr error) (json.RawMessage, error) {
	data, err := e.try(ctx, e.withInstructions(messages, lastErr))
	if err == nil {
		return data, nil
	}

	log.FromContext(ctx, e.logger).Warn("Structured extraction attempt failed",
		"schema", e.spec.Name,
		"attempt", n,
		"max_attempts", e.maxAttempts,
		"error", err,
	)
	if n >= e.maxAttempts {
		return nil, fmt.Errorf("%w after %d attempts: %v", domain.ErrExtractionFailure, n, err)
	}
	return e.attempt(ctx, messages, n+1, err)
}

func (e *StructuredExtractor) try(ctx context.Context, messages []domain.ChatMessage) (json.RawMessage, error) {
	out, err := e.model.InvokeStructured(ctx, messages, e.spec)
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}

	var validationErr error
	for _, candidate := range candidates(out) {
		if !json.Valid(candidate) {
			continue
		}
		if err := e.validate(candidate); err != nil {
			validationErr = err
			continue
		}
		return candidate, nil
	}
	if validationErr != nil {
		return nil, validationErr
	}
	return nil, errors.New("failed to parse response as valid JSON")
}

func (e *StructuredExtractor) validate(data []byte) error {
	result := e.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

// withInstructions 在最后一条消息后追加输出格式要求与上次错误
func (e *StructuredExtractor) withInstructions(messages []domain.ChatMessage, lastErr error) []domain.ChatMessage {
	out := domain.CloneMessages(messages)
	if len(out) == 0 {
		out = append(out, domain.NewHumanMessage(""))
	}

	var b strings.Builder
	b.WriteString(out[len(out)-1].Content)
	b.WriteString("\n\nPlease provide a JSON object for \"")
	b.WriteString(e.spec.Name)
	b.WriteString("\" matching this JSON schema:\n")
	b.Write(e.spec.Schema)
	b.WriteString("\n\nImportant:\n")
	b.WriteString("1. Respond ONLY with a valid JSON object\n")
	b.WriteString("2. Wrap the JSON in ```json and ``` tags\n")
	b.WriteString("3. Make sure all required fields are included\n")
	b.WriteString("4. Follow the exact types specified")
	if lastErr != nil {
		b.WriteString("\n\nPrevious attempt failed with error: ")
		b.WriteString(lastErr.Error())
		b.WriteString("\nPlease try again and ensure the response is valid JSON.")
	}
	out[len(out)-1].Content = b.String()
	return out
}

// candidates 按优先级返回可能的 JSON 片段
// 服务端解析结果优先，其次依次尝试代码块、行内代码、原文与最外层花括号
func candidates(out *domain.StructuredOutput) [][]byte {
	var list [][]byte
	if out == nil {
		return list
	}
	if len(out.Parsed) > 0 {
		list = append(list, out.Parsed)
	}

	content := strings.ReplaceAll(out.Raw, "\r\n", "\n")
	if m := fencedJSONPattern.FindStringSubmatch(content); m != nil {
		list = append(list, []byte(strings.TrimSpace(m[1])))
	}
	if m := inlineCodePattern.FindStringSubmatch(content); m != nil {
		list = append(list, []byte(strings.TrimSpace(m[1])))
	}
	list = append(list, []byte(strings.TrimSpace(content)))
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		list = append(list, []byte(content[start:end+1]))
	}
	return list
}
