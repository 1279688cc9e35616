// Package contextengine 定义上下文预算与提示词组装的领域模型
package contextengine

import "fmt"

// ItemKind 上下文条目类型（封闭枚举）
type ItemKind string

const (
	// KindSelectedContent 用户选中的内容片段
	KindSelectedContent ItemKind = "selectedContent"
	// KindDocument 知识库文档
	KindDocument ItemKind = "document"
	// KindResource 知识库资源
	KindResource ItemKind = "resource"
	// KindWebSearch 网络搜索结果
	KindWebSearch ItemKind = "webSearch"
	// KindLibrarySearch 知识库搜索结果
	KindLibrarySearch ItemKind = "librarySearch"
)

// Valid 检查类型是否属于已知集合
func (k ItemKind) Valid() bool {
	switch k {
	case KindSelectedContent, KindDocument, KindResource, KindWebSearch, KindLibrarySearch:
		return true
	default:
		return false
	}
}

// Metadata 条目元数据
type Metadata struct {
	EntityID string `json:"entityId,omitempty"`
	Title    string `json:"title,omitempty"`
	Domain   string `json:"domain,omitempty"` // 来源域，如 "resource"、"document"、"extension"
	URL      string `json:"url,omitempty"`
}

// Item 上下文条目
// 值语义：所有变换都返回新的 Item，原值不变
type Item struct {
	Kind     ItemKind `json:"type"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`

	// 分配标记
	Mentioned       bool `json:"mentioned,omitempty"`       // 被查询显式引用
	UseWholeContent bool `json:"useWholeContent,omitempty"` // 引用时要求完整内容
}

// ItemKey 条目身份
type ItemKey struct {
	Kind     ItemKind
	EntityID string
}

// Key 返回条目身份 (Kind, EntityID)
func (i Item) Key() ItemKey {
	return ItemKey{Kind: i.Kind, EntityID: i.Metadata.EntityID}
}

// WithContent 返回替换内容后的副本
func (i Item) WithContent(content string) Item {
	i.Content = content
	return i
}

// WithMention 返回带引用标记的副本
func (i Item) WithMention(useWholeContent bool) Item {
	i.Mentioned = true
	i.UseWholeContent = useWholeContent
	return i
}

// String 便于日志输出
func (i Item) String() string {
	return fmt.Sprintf("%s:%s", i.Kind, i.Metadata.EntityID)
}

// Category 预算类别，按优先级从高到低排列
type Category int

const (
	CategorySelectedContent Category = iota
	CategoryDocuments
	CategoryResources
)

// Categories 按优先级排列的全部类别
var Categories = []Category{CategorySelectedContent, CategoryDocuments, CategoryResources}

// String 返回类别名称
func (c Category) String() string {
	switch c {
	case CategorySelectedContent:
		return "selected_content"
	case CategoryDocuments:
		return "documents"
	case CategoryResources:
		return "resources"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// MarshalText 以名称序列化，便于作为 JSON map 键
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// CategoryOf 返回条目类型所属的预算类别
// 搜索结果不参与类别预算，返回 false
func CategoryOf(kind ItemKind) (Category, bool) {
	switch kind {
	case KindSelectedContent:
		return CategorySelectedContent, true
	case KindDocument:
		return CategoryDocuments, true
	case KindResource:
		return CategoryResources, true
	case KindWebSearch, KindLibrarySearch:
		return 0, false
	default:
		panic(fmt.Sprintf("contextengine: unknown item kind %q", kind))
	}
}
