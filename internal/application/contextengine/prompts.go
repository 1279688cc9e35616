package contextengine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PromptModule 技能提示词模板
type PromptModule interface {
	Name() string
	SystemPrompt(locale string, needContext bool) string
	ContextUserPrompt(context string) string
	UserPrompt(originalQuery, optimizedQuery, locale string) string
}

const (
	ModuleCommonQnA     = "commonQnA"
	ModuleLibrarySearch = "librarySearch"
	defaultLocale       = "en"
)

var (
	modulesMu sync.RWMutex
	modules   = map[string]PromptModule{
		ModuleCommonQnA:     commonQnA{},
		ModuleLibrarySearch: librarySearch{},
	}
)

// RegisterPromptModule 注册提示词模板，同名覆盖
func RegisterPromptModule(m PromptModule) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules[m.Name()] = m
}

// LookupPromptModule 查找模板，name 为空时返回 commonQnA
func LookupPromptModule(name string) (PromptModule, bool) {
	if name == "" {
		name = ModuleCommonQnA
	}
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	m, ok := modules[name]
	return m, ok
}

// PromptModuleNames 已注册的模板名称
func PromptModuleNames() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func localeOrDefault(locale string) string {
	if strings.TrimSpace(locale) == "" {
		return defaultLocale
	}
	return locale
}

// wrapContext 上下文消息格式
func wrapContext(context string) string {
	return fmt.Sprintf("<context>\n%s\n</context>", context)
}

// queryPrompt 原始查询与改写查询不同时同时给出两者
func queryPrompt(originalQuery, optimizedQuery, locale string) string {
	locale = localeOrDefault(locale)
	if optimizedQuery == "" || optimizedQuery == originalQuery {
		return fmt.Sprintf("## User Query\n%s\n\nRemember to generate all content in %s while preserving technical terms",
			originalQuery, locale)
	}
	return fmt.Sprintf("## Original User Query\n%s\n\n## Rewritten User Query\n%s\n\nRemember to generate all content in %s while preserving technical terms",
		originalQuery, optimizedQuery, locale)
}

const contextFormatDescription = `You will be provided with context in XML format, grouped by priority:

<MentionedContext>
  <ContextItem citationIndex='[[citation:x]]' type='selectedContent|document|resource' entityId='...' title='...' url='...'>content</ContextItem>
</MentionedContext>
<OtherContext>
  ... (same structure as MentionedContext)
</OtherContext>
<WebSearchContext>
  <ContextItem citationIndex='[[citation:x]]' type='webSearch' title='...' url='...'>content</ContextItem>
</WebSearchContext>
<LibrarySearchContext>
  <ContextItem citationIndex='[[citation:x]]' type='librarySearch' title='...' url='...'>content</ContextItem>
</LibrarySearchContext>

Citation rules:
1. Cite a context item with its index in the form [citation:x] right after the sentence that uses it
2. Only cite items that are relevant to the answer
3. If no context item is relevant, answer from general knowledge without citations`

// commonQnA 通用问答
type commonQnA struct{}

func (commonQnA) Name() string { return ModuleCommonQnA }

func (commonQnA) SystemPrompt(locale string, needContext bool) string {
	locale = localeOrDefault(locale)
	if !needContext {
		return fmt.Sprintf(`You are an AI assistant. Your task is to provide helpful, accurate, and concise answers to the user's queries.

Guidelines:
1. Directly address the user's specific question
2. Stay focused on the exact query and do not expand its scope
3. If you are unsure about something, say so
4. If a question is unclear, ask for clarification rather than making assumptions
5. Respond in the user's preferred language (%s)`, locale)
	}

	return fmt.Sprintf(`You are an AI assistant specializing in knowledge management, reading comprehension, and answering questions based on context.

## Query Priority
1. The user's original query is the primary directive
2. Use context only when it is directly relevant to the original query; ignore irrelevant context
3. Consider the rewritten query only when it clarifies the original intent

## Context Handling
%s

## Handling Requests
1. Prioritize information in the order MentionedContext > OtherContext > WebSearchContext > LibrarySearchContext
2. For translation or summarization of selected content, include all relevant context items
3. Respond in the user's preferred language (%s)`, contextFormatDescription, locale)
}

func (commonQnA) ContextUserPrompt(context string) string {
	return wrapContext(context)
}

func (commonQnA) UserPrompt(originalQuery, optimizedQuery, locale string) string {
	return queryPrompt(originalQuery, optimizedQuery, locale)
}

// librarySearch 知识库检索问答
type librarySearch struct{}

func (librarySearch) Name() string { return ModuleLibrarySearch }

func (librarySearch) SystemPrompt(locale string, needContext bool) string {
	locale = localeOrDefault(locale)
	if !needContext {
		return fmt.Sprintf(`You are a knowledge base search assistant. No relevant documents were found in the knowledge base for this query.
Tell the user that the knowledge base does not contain matching content, then answer briefly from general knowledge and mark that answer as not sourced from the knowledge base.
Respond in the user's preferred language (%s).`, locale)
	}

	return fmt.Sprintf(`You are a knowledge base search assistant. Answer the user's query using the search results from their knowledge base.

## Context Handling
%s

## Answering
1. Base the answer on LibrarySearchContext and MentionedContext first
2. Every statement taken from the knowledge base must carry a citation
3. When results only partially answer the query, say which parts are not covered
4. Respond in the user's preferred language (%s)`, contextFormatDescription, locale)
}

func (librarySearch) ContextUserPrompt(context string) string {
	return wrapContext(context)
}

func (librarySearch) UserPrompt(originalQuery, optimizedQuery, locale string) string {
	return queryPrompt(originalQuery, optimizedQuery, locale)
}
