package contextengine

import "fmt"

// Pool 按类型分组的上下文池
type Pool struct {
	ContentList []Item `json:"contentList,omitempty"`
	Documents   []Item `json:"documents,omitempty"`
	Resources   []Item `json:"resources,omitempty"`
}

// IsEmpty 是否没有任何条目
func (p Pool) IsEmpty() bool {
	return p.Len() == 0
}

// Len 条目总数
func (p Pool) Len() int {
	return len(p.ContentList) + len(p.Documents) + len(p.Resources)
}

// Category 返回指定类别的条目
func (p Pool) Category(c Category) []Item {
	switch c {
	case CategorySelectedContent:
		return p.ContentList
	case CategoryDocuments:
		return p.Documents
	case CategoryResources:
		return p.Resources
	default:
		panic(fmt.Sprintf("contextengine: unknown category %d", int(c)))
	}
}

// WithCategory 返回替换指定类别后的副本
func (p Pool) WithCategory(c Category, items []Item) Pool {
	out := p.Clone()
	switch c {
	case CategorySelectedContent:
		out.ContentList = cloneItems(items)
	case CategoryDocuments:
		out.Documents = cloneItems(items)
	case CategoryResources:
		out.Resources = cloneItems(items)
	default:
		panic(fmt.Sprintf("contextengine: unknown category %d", int(c)))
	}
	return out
}

// Clone 深拷贝
func (p Pool) Clone() Pool {
	return Pool{
		ContentList: cloneItems(p.ContentList),
		Documents:   cloneItems(p.Documents),
		Resources:   cloneItems(p.Resources),
	}
}

// All 按优先级顺序返回全部条目
func (p Pool) All() []Item {
	out := make([]Item, 0, p.Len())
	out = append(out, p.ContentList...)
	out = append(out, p.Documents...)
	out = append(out, p.Resources...)
	return out
}

// Contains 是否包含指定身份的条目
func (p Pool) Contains(key ItemKey) bool {
	for _, item := range p.All() {
		if item.Key() == key {
			return true
		}
	}
	return false
}

// Add 按条目类型追加到对应类别，重复身份忽略
func (p *Pool) Add(item Item) {
	if p.Contains(item.Key()) {
		return
	}
	switch item.Kind {
	case KindSelectedContent:
		p.ContentList = append(p.ContentList, item)
	case KindDocument:
		p.Documents = append(p.Documents, item)
	case KindResource:
		p.Resources = append(p.Resources, item)
	case KindWebSearch, KindLibrarySearch:
		// 搜索结果不进入上下文池
	default:
		panic(fmt.Sprintf("contextengine: unknown item kind %q", item.Kind))
	}
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
