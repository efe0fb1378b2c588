package resume

// Resume 表示存储在简历 Data(JSONB) 中的结构化数据。
type Resume struct {
	Metadata Metadata  `json:"metadata"`
	Personal Personal  `json:"personal"`
	Sections []Section `json:"sections"`
}

// Metadata 描述模板、排版与配色。
type Metadata struct {
	Template   string     `json:"template"`
	Typography Typography `json:"typography"`
	Colors     Colors     `json:"colors"`
}

// Typography 描述字体族与字号档位（sm/md/lg）。
type Typography struct {
	FontFamily string `json:"fontFamily"`
	FontSize   string `json:"fontSize"`
}

// Colors 是简历配色，Accents 依次为 primary/secondary/border/muted。
type Colors struct {
	Background string   `json:"background"`
	Text       string   `json:"text"`
	Accents    []string `json:"accents"`
}

// Personal 是页眉中的个人信息。
type Personal struct {
	FullName string `json:"fullName"`
	JobTitle string `json:"jobTitle,omitempty"`
	// Photo 为用户资产的对象 key（user-assets/<id>/...），为空表示无照片。
	Photo   string `json:"photo,omitempty"`
	Details []Item `json:"details"`
}

// Layout 决定 Section 内 Item 的排列方式。
type Layout string

const (
	LayoutStacked Layout = "stacked"
	LayoutGrid    Layout = "grid"
	LayoutInline  Layout = "inline"
)

// Section 是有序、可隐藏的简历分区。
type Section struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Visible bool           `json:"visible"`
	Content SectionContent `json:"content"`
}

// SectionContent 描述分区的布局与条目。
type SectionContent struct {
	Layout  Layout `json:"layout"`
	Columns int    `json:"columns,omitempty"`
	Items   []Item `json:"items"`
}

// DefaultGridColumns 是 grid 布局未指定列数时的列数。
const DefaultGridColumns = 3

// GridColumns 返回生效的列数。
func (c SectionContent) GridColumns() int {
	if c.Columns <= 0 {
		return DefaultGridColumns
	}
	return c.Columns
}

// Primary 等访问器统一处理 Accents 缺省值。
func (c Colors) Primary() string   { return c.accent(0, "#2563eb") }
func (c Colors) Secondary() string { return c.accent(1, "#3b82f6") }
func (c Colors) Border() string    { return c.accent(2, "#e5e7eb") }
func (c Colors) Muted() string     { return c.accent(3, "#6b7280") }

func (c Colors) accent(idx int, fallback string) string {
	if idx < len(c.Accents) && c.Accents[idx] != "" {
		return c.Accents[idx]
	}
	return fallback
}

// TextColor 返回正文颜色。
func (c Colors) TextColor() string {
	if c.Text == "" {
		return "#1f2937"
	}
	return c.Text
}

// BackgroundColor 返回页面背景色。
func (c Colors) BackgroundColor() string {
	if c.Background == "" {
		return "#ffffff"
	}
	return c.Background
}
