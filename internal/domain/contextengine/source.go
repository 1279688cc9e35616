package contextengine

// SourceType 来源类别
type SourceType string

const (
	SourceTypeLibrary   SourceType = "library"
	SourceTypeWebSearch SourceType = "webSearch"
)

// SourceMetadata 来源元数据
type SourceMetadata struct {
	EntityID   string     `json:"entityId,omitempty"`
	EntityType ItemKind   `json:"entityType,omitempty"`
	SourceType SourceType `json:"sourceType"`
	Title      string     `json:"title,omitempty"`
	Source     string     `json:"source,omitempty"`
}

// Source 可引用来源，第 N 个来源对应 [[citation:N]]
type Source struct {
	URL         string         `json:"url,omitempty"`
	Title       string         `json:"title,omitempty"`
	PageContent string         `json:"pageContent"`
	Metadata    SourceMetadata `json:"metadata"`
}

// DedupKey 来源去重键 (url, title, content)
func (s Source) DedupKey() [3]string {
	return [3]string{s.URL, s.Title, s.PageContent}
}

// SearchResultItem 将搜索来源转换为上下文条目
func SearchResultItem(kind ItemKind, s Source) Item {
	return Item{
		Kind:    kind,
		Content: s.PageContent,
		Metadata: Metadata{
			EntityID: s.Metadata.EntityID,
			Title:    s.Title,
			URL:      s.URL,
			Domain:   string(s.Metadata.SourceType),
		},
	}
}
