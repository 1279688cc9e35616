package contextengine

import (
	"fmt"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// IDMap 上下文条目与合成 ID 的双向映射
// 合成 ID 形如 content-0、document-1、resource-2，按类型内的位置编号
type IDMap struct {
	toItem  map[string]domain.Item
	toRef   map[string]domain.Mention
	ordered []string
	pool    domain.Pool
}

// NewIDMap 为上下文池构建映射
func NewIDMap(pool domain.Pool) *IDMap {
	m := &IDMap{
		toItem: make(map[string]domain.Item, pool.Len()),
		toRef:  make(map[string]domain.Mention, pool.Len()),
		pool:   pool.Clone(),
	}
	for _, c := range domain.Categories {
		for i, item := range pool.Category(c) {
			id := fmt.Sprintf("%s-%d", syntheticPrefix(item.Kind), i)
			m.toItem[id] = item
			m.toRef[id] = domain.Mention{Category: c, Index: i}
			m.ordered = append(m.ordered, id)
		}
	}
	return m
}

func syntheticPrefix(kind domain.ItemKind) string {
	switch kind {
	case domain.KindSelectedContent:
		return "content"
	case domain.KindDocument:
		return "document"
	case domain.KindResource:
		return "resource"
	case domain.KindWebSearch, domain.KindLibrarySearch:
		return string(kind)
	default:
		panic(fmt.Sprintf("contextengine: unknown item kind %q", kind))
	}
}

// Resolve 将合成 ID 映射回原始条目
func (m *IDMap) Resolve(syntheticID string) (domain.Item, bool) {
	item, ok := m.toItem[syntheticID]
	return item, ok
}

// Synthesized 返回以合成 ID 替换 EntityID 的上下文池副本
func (m *IDMap) Synthesized() domain.Pool {
	out := m.pool.Clone()
	for _, c := range domain.Categories {
		items := out.Category(c)
		for i := range items {
			items[i].Metadata.EntityID = fmt.Sprintf("%s-%d", syntheticPrefix(items[i].Kind), i)
		}
	}
	return out
}

// Len 映射条目数
func (m *IDMap) Len() int {
	return len(m.ordered)
}

// MentionedRef 模型输出中的引用
type MentionedRef struct {
	Type            string `json:"type"`
	EntityID        string `json:"entityId,omitempty"`
	Title           string `json:"title,omitempty"`
	UseWholeContent bool   `json:"useWholeContent"`
}

// ResolveMentions 将模型引用映射回原始条目及其位置
// 未知 ID 或类型不符的引用被忽略，同一条目只保留第一次引用
func (m *IDMap) ResolveMentions(refs []MentionedRef) (domain.Pool, []domain.Mention) {
	var (
		out      domain.Pool
		mentions []domain.Mention
	)
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		item, ok := m.Resolve(ref.EntityID)
		if !ok || seen[ref.EntityID] || string(item.Kind) != ref.Type {
			continue
		}
		seen[ref.EntityID] = true

		pos := m.toRef[ref.EntityID]
		pos.UseWholeContent = ref.UseWholeContent
		mentions = append(mentions, pos)
		out = out.WithCategory(pos.Category, append(out.Category(pos.Category), item.WithMention(ref.UseWholeContent)))
	}
	return out, mentions
}
