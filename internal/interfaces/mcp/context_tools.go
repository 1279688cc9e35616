package mcp

import (
	"context"
	"fmt"

	appCE "github.com/cocursor/contextengine/internal/application/contextengine"
	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PrepareContextInput 上下文准备工具输入
type PrepareContextInput struct {
	Query                string               `json:"query" jsonschema:"The user's question (required)"`
	Model                string               `json:"model" jsonschema:"Target model ID (required)"`
	Context              domain.Pool          `json:"context,omitempty" jsonschema:"Candidate context grouped into contentList, documents and resources"`
	History              []domain.ChatMessage `json:"history,omitempty" jsonschema:"Previous chat messages"`
	WebSearchSources     []domain.Source      `json:"web_search_sources,omitempty" jsonschema:"Web search results"`
	LibrarySearchSources []domain.Source      `json:"library_search_sources,omitempty" jsonschema:"Knowledge library search results"`
	Module               string               `json:"module,omitempty" jsonschema:"Prompt module name, defaults to commonQnA"`
	Locale               string               `json:"locale,omitempty" jsonschema:"Reply language hint"`
}

// PrepareContextOutput 上下文准备工具输出
type PrepareContextOutput struct {
	Messages       []domain.ChatMessage `json:"messages" jsonschema:"Assembled prompt messages in order"`
	Sources        []domain.Source      `json:"sources" jsonschema:"Citation sources, numbered in context order"`
	Context        string               `json:"context" jsonschema:"Serialized context block"`
	OptimizedQuery string               `json:"optimized_query" jsonschema:"Query used for ranking and recall"`
	Intent         string               `json:"intent" jsonschema:"Detected query intent"`
	TotalTokens    int                  `json:"total_tokens" jsonschema:"Token budget available for context"`
	UsedTokens     int                  `json:"used_tokens" jsonschema:"Tokens used by the context block"`
	Exhausted      bool                 `json:"exhausted" jsonschema:"Whether some items were dropped for lack of budget"`
	Dropped        []string             `json:"dropped,omitempty" jsonschema:"Titles or IDs of dropped items"`
}

// prepareContextTool 上下文准备工具实现
func (s *MCPServer) prepareContextTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PrepareContextInput,
) (*mcp.CallToolResult, PrepareContextOutput, error) {
	var output PrepareContextOutput

	if input.Query == "" {
		return nil, output, fmt.Errorf("query is required")
	}
	if input.Model == "" {
		return nil, output, fmt.Errorf("model is required")
	}

	res, err := s.engine.Prepare(ctx, &appCE.PrepareRequest{
		Query:                input.Query,
		ModelID:              input.Model,
		Locale:               input.Locale,
		Module:               input.Module,
		History:              input.History,
		Context:              input.Context,
		WebSearchSources:     input.WebSearchSources,
		LibrarySearchSources: input.LibrarySearchSources,
	})
	if err != nil {
		return nil, output, fmt.Errorf("failed to prepare context: %w", err)
	}

	output = PrepareContextOutput{
		Messages:       res.Messages,
		Sources:        res.Sources,
		Context:        res.ContextText,
		OptimizedQuery: res.Analysis.OptimizedQuery,
		Intent:         string(res.Analysis.Intent),
		TotalTokens:    res.Allocation.Budget.TotalTokens,
		UsedTokens:     res.Allocation.Budget.UsedTokens,
		Exhausted:      res.Allocation.Exhausted,
	}
	if output.Sources == nil {
		output.Sources = []domain.Source{}
	}
	for _, o := range res.Allocation.Dropped() {
		name := o.Title
		if name == "" {
			name = o.EntityID
		}
		output.Dropped = append(output.Dropped, name)
	}

	log.FromContext(ctx, s.logger).Debug("prepare_context served",
		"model", input.Model,
		"used_tokens", output.UsedTokens,
	)
	return nil, output, nil
}

// CountTokensInput Token 计数工具输入
type CountTokensInput struct {
	Texts []string `json:"texts" jsonschema:"Texts to count (required)"`
}

// CountTokensOutput Token 计数工具输出
type CountTokensOutput struct {
	Counts []int `json:"counts" jsonschema:"Token count per text, in input order"`
	Total  int   `json:"total" jsonschema:"Sum of all counts"`
}

// countTokensTool Token 计数工具实现
func (s *MCPServer) countTokensTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CountTokensInput,
) (*mcp.CallToolResult, CountTokensOutput, error) {
	output := CountTokensOutput{Counts: make([]int, len(input.Texts))}
	for i, text := range input.Texts {
		output.Counts[i] = s.engine.CountTokens(text)
		output.Total += output.Counts[i]
	}
	return nil, output, nil
}

// ListModelsInput 模型列表工具输入（空输入）
type ListModelsInput struct{}

// ListModelsOutput 模型列表工具输出
type ListModelsOutput struct {
	Models []domain.ModelInfo `json:"models" jsonschema:"Registered models"`
}

// listModelsTool 模型列表工具实现
func (s *MCPServer) listModelsTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListModelsInput,
) (*mcp.CallToolResult, ListModelsOutput, error) {
	return nil, ListModelsOutput{Models: s.models.Models()}, nil
}
