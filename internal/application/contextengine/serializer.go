package contextengine

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// SectionKind 序列化分区，数值即输出顺序
type SectionKind int

const (
	SectionMentioned SectionKind = iota
	SectionOther
	SectionWebSearch
	SectionLibrarySearch
)

// Tag 分区标签名
func (k SectionKind) Tag() string {
	switch k {
	case SectionMentioned:
		return "MentionedContext"
	case SectionOther:
		return "OtherContext"
	case SectionWebSearch:
		return "WebSearchContext"
	case SectionLibrarySearch:
		return "LibrarySearchContext"
	default:
		panic(fmt.Sprintf("contextengine: unknown section %d", int(k)))
	}
}

// blockSeparator 同一分区内相邻条目之间的分隔
const blockSeparator = "\n\n"

// Section 一个分区及其条目
type Section struct {
	Kind  SectionKind
	Items []domain.Item
}

// Serializer 上下文序列化
type Serializer struct {
	baseURL string
}

// NewSerializer 创建序列化器，baseURL 用于拼接知识库条目链接
func NewSerializer(baseURL string) *Serializer {
	return &Serializer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Serialize 生成带引用编号的上下文文本与对应的来源列表
//
// 分区按固定优先级输出，与参数顺序无关；引用编号从 1 开始全局递增。
// 与已输出来源完全相同（url、title、内容）的条目被跳过，
// 因此第 N 个引用编号总是对应 sources[N-1]。
func (s *Serializer) Serialize(sections ...Section) (string, []domain.Source) {
	ordered := make([]Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Kind < ordered[j].Kind })

	var (
		b       strings.Builder
		sources []domain.Source
		seen    = make(map[[3]string]bool)
	)
	for _, section := range ordered {
		var blocks []string
		for _, item := range section.Items {
			src := s.source(item)
			if seen[src.DedupKey()] {
				continue
			}
			seen[src.DedupKey()] = true
			sources = append(sources, src)
			blocks = append(blocks, contextItemBlock(len(sources), item, src.URL))
		}
		if len(blocks) == 0 {
			continue
		}

		tag := section.Kind.Tag()
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<%s>\n%s\n</%s>", tag, strings.Join(blocks, blockSeparator), tag)
	}
	return b.String(), sources
}

func contextItemBlock(index int, item domain.Item, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<ContextItem citationIndex='[[citation:%d]]' type='%s'", index, item.Kind)
	if id := item.Metadata.EntityID; id != "" {
		fmt.Fprintf(&b, " entityId='%s'", attr(id))
	}
	if title := item.Metadata.Title; title != "" {
		fmt.Fprintf(&b, " title='%s'", attr(title))
	}
	if link != "" {
		fmt.Fprintf(&b, " url='%s'", attr(link))
	}
	b.WriteString(">")
	b.WriteString(item.Content)
	b.WriteString("</ContextItem>")
	return b.String()
}

// serializedFraming 以实际序列化格式计算条目的 Token 开销
// index 为引用编号的上界，编号越长开销越大
type serializedFraming struct {
	serializer *Serializer
	counter    domain.TokenCounter
	index      int
}

func (f serializedFraming) blockTokens(item domain.Item) int {
	return f.counter.CountTokens(contextItemBlock(f.index, item, f.serializer.source(item).URL) + blockSeparator)
}

func (f serializedFraming) frameTokens() int {
	n := 0
	for k := SectionMentioned; k <= SectionLibrarySearch; k++ {
		tag := k.Tag()
		n += f.counter.CountTokens("<" + tag + ">\n\n</" + tag + ">" + blockSeparator)
	}
	return n
}

func attr(v string) string {
	return strings.ReplaceAll(v, "'", "&apos;")
}

// source 条目对应的来源记录
func (s *Serializer) source(item domain.Item) domain.Source {
	meta := item.Metadata
	src := domain.Source{
		URL:         meta.URL,
		Title:       meta.Title,
		PageContent: item.Content,
		Metadata: domain.SourceMetadata{
			EntityID:   meta.EntityID,
			EntityType: item.Kind,
			SourceType: domain.SourceTypeLibrary,
			Title:      meta.Title,
		},
	}

	switch item.Kind {
	case domain.KindSelectedContent:
		if meta.Domain != "" {
			src.Metadata.EntityType = domain.ItemKind(meta.Domain)
		}
	case domain.KindDocument:
		if src.URL == "" {
			src.URL = s.knowledgeBaseURL("docId", meta.EntityID)
		}
	case domain.KindResource:
		if src.URL == "" {
			src.URL = s.knowledgeBaseURL("resId", meta.EntityID)
		}
	case domain.KindWebSearch:
		src.Metadata.SourceType = domain.SourceTypeWebSearch
	case domain.KindLibrarySearch:
	default:
		panic(fmt.Sprintf("contextengine: unknown item kind %q", item.Kind))
	}
	src.Metadata.Source = src.URL
	return src
}

func (s *Serializer) knowledgeBaseURL(param, id string) string {
	if s.baseURL == "" || id == "" {
		return ""
	}
	return s.baseURL + "/knowledge-base?" + url.Values{param: []string{id}}.Encode()
}
