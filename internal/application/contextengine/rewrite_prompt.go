package contextengine

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
)

const (
	// previewRunes 改写提示词中每个上下文条目的预览长度
	previewRunes = 50
	// historyPreviewTokens 改写提示词中每条历史消息的上限
	historyPreviewTokens = 500

	noContextText = "no available context"
	noHistoryText = "no available chat history"
)

// queryAnalysisSchema 改写结果的 JSON Schema
var queryAnalysisSchema = domain.StructuredSchema{
	Name: "query_analysis",
	Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "analysis": {
      "type": "object",
      "properties": {
        "queryAnalysis": {"type": "string"},
        "queryRewriteStrategy": {"type": "string"},
        "summary": {"type": "string"}
      },
      "required": ["queryAnalysis", "queryRewriteStrategy", "summary"]
    },
    "rewrittenQueries": {
      "type": "array",
      "items": {"type": "string"}
    },
    "mentionedContext": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": {"type": "string", "enum": ["document", "resource", "selectedContent"]},
          "entityId": {"type": "string"},
          "title": {"type": "string"},
          "useWholeContent": {"type": "boolean"}
        },
        "required": ["type", "title", "useWholeContent"]
      }
    },
    "intent": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["analysis", "rewrittenQueries", "mentionedContext"]
}`),
}

// rewriteOutput 模型返回的改写结构
type rewriteOutput struct {
	Analysis struct {
		QueryAnalysis        string `json:"queryAnalysis"`
		QueryRewriteStrategy string `json:"queryRewriteStrategy"`
		Summary              string `json:"summary"`
	} `json:"analysis"`
	RewrittenQueries []string       `json:"rewrittenQueries"`
	MentionedContext []MentionedRef `json:"mentionedContext"`
	Intent           string         `json:"intent,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
}

const rewriteSystemPrompt = `You are an AI query analyzer that preserves the original query intent while only clarifying referenced entities when necessary.

## Core Principles
1. Original query intent has the highest priority
   - Never change what the user is asking for or the action requested
   - Keep the original verbs, commands and expression style
   - If the query is already clear, do not rewrite it

2. Context and chat history
   - Context items are XML tags:
     <ContextItem type='document|resource|selectedContent' entityId='...' title='...'>preview</ContextItem>
   - Chat history is XML tags:
     <ChatHistory>
       <ChatHistoryItem type={human}>user message</ChatHistoryItem>
       <ChatHistoryItem type={ai}>assistant response</ChatHistoryItem>
     </ChatHistory>
   - Use chat history only when the query refers back to the conversation ("as you said", "translate it")
   - Ignore chat history when the query is self-contained

3. Rewrite when
   - The query contains ambiguous references ("this", "it", "that") to context or history
   - The query implicitly targets the selected content
   - The query can be split into several focused sub-queries

4. Do not rewrite when
   - The query is specific and clear
   - Context and history are unrelated to the query

5. Output
   - analysis.summary is the rewritten, self-contained query
   - rewrittenQueries are focused sub-queries (may contain only the original query)
   - mentionedContext lists the context items the query refers to, using the exact entityId shown in the context;
     set useWholeContent to true when the whole item is needed (e.g. translate, summarize)
   - intent is one of: general_qna, search, summarize, translate, write, edit
   - confidence is a number between 0 and 1

## Examples
1. History only
   <ChatHistory>
   <ChatHistoryItem type={human}>What is Docker?</ChatHistoryItem>
   <ChatHistoryItem type={ai}>Docker is a containerization platform that packages applications with their dependencies.</ChatHistoryItem>
   </ChatHistory>
   Original query: "translate this"
   analysis.summary: "translate the previous explanation of what Docker is"
   rewrittenQueries: ["translate the explanation of Docker as a containerization platform"]
   mentionedContext: []
   intent: "translate"

2. Context only
   <ContextItem type='document' entityId='document-0' title='API Documentation'>New authentication system requires MFA setup...</ContextItem>
   Original query: "how does this work?"
   analysis.summary: "how does the new MFA authentication system work"
   rewrittenQueries: ["how does biometric verification work in the new MFA system", "what is the MFA setup process"]
   mentionedContext: [{"type": "document", "entityId": "document-0", "title": "API Documentation", "useWholeContent": true}]
   intent: "general_qna"

3. Clear and unrelated
   Original query: "What's the weather in New York?"
   analysis.summary: "What's the weather in New York?"
   rewrittenQueries: ["What's the weather in New York?"]
   mentionedContext: []
   intent: "search"`

// buildRewriteUserPrompt 组装改写请求
func buildRewriteUserPrompt(query, contextSummary, historySummary string) string {
	return fmt.Sprintf(`## User Query
%s

## Available Context:
%s

## Recent Chat History:
%s

Please analyze the query, focusing primarily on the current query and available context. Only consider the chat history if it's directly relevant to understanding the current query.`,
		query, contextSummary, historySummary)
}

// summarizeContext 以合成 ID 和内容预览描述上下文池，总量不超过 maxTokens
func summarizeContext(counter domain.TokenCounter, pool domain.Pool, maxTokens int) string {
	var b strings.Builder
	used := 0
	for _, item := range pool.All() {
		block := fmt.Sprintf("<ContextItem type='%s' entityId='%s' title='%s'>%s</ContextItem>\n",
			item.Kind, item.Metadata.EntityID, item.Metadata.Title, preview(item.Content))
		tokens := counter.CountTokens(block)
		if used+tokens > maxTokens {
			break
		}
		b.WriteString(block)
		used += tokens
	}
	if b.Len() == 0 {
		return noContextText
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarizeHistory 取最近 limit 条消息并截断每条内容
func summarizeHistory(counter domain.TokenCounter, history []domain.ChatMessage, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if len(history) == 0 {
		return noHistoryText
	}

	var b strings.Builder
	b.WriteString("<ChatHistory>\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "<ChatHistoryItem type={%s}>%s</ChatHistoryItem>\n",
			historyType(msg.Role), token.Truncate(counter, msg.Content, historyPreviewTokens))
	}
	b.WriteString("</ChatHistory>")
	return b.String()
}

func historyType(role domain.Role) string {
	if role == domain.RoleAssistant {
		return "ai"
	}
	return string(role)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes]) + "..."
}
