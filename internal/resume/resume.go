package resume

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"civy/internal/errcode"
)

// Parse 解析 Data(JSONB) 字段。
func Parse(data []byte) (Resume, error) {
	var r Resume
	if len(data) == 0 {
		return Default(), nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Resume{}, fmt.Errorf("decode resume: %w", err)
	}
	return r, nil
}

// Encode 序列化为 Data(JSONB) 字段。
func Encode(r Resume) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode resume: %w", err)
	}
	return data, nil
}

// Clone 返回深拷贝，调用方可以任意修改而不影响原值。
func (r Resume) Clone() Resume {
	out := r
	out.Metadata.Colors.Accents = append([]string(nil), r.Metadata.Colors.Accents...)
	out.Personal.Details = append([]Item(nil), r.Personal.Details...)
	out.Sections = make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		s.Content.Items = append([]Item(nil), s.Content.Items...)
		out.Sections[i] = s
	}
	if r.Sections == nil {
		out.Sections = nil
	}
	return out
}

// Visible 返回只包含可见 Section 与 Item 的副本，顺序保持不变。
// 隐藏的内容仍保留在原模型中。
func (r Resume) Visible() Resume {
	out := r.Clone()
	out.Personal.Details = visibleItems(out.Personal.Details)

	sections := make([]Section, 0, len(out.Sections))
	for _, s := range out.Sections {
		if !s.Visible {
			continue
		}
		s.Content.Items = visibleItems(s.Content.Items)
		sections = append(sections, s)
	}
	out.Sections = sections
	return out
}

func visibleItems(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Visible {
			out = append(out, it)
		}
	}
	return out
}

// CountItems 统计页眉与各分区中的条目数量。
func (r Resume) CountItems() int {
	n := len(r.Personal.Details)
	for _, s := range r.Sections {
		n += len(s.Content.Items)
	}
	return n
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail 使用与前端一致的宽松规则校验邮箱。
func ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// MaxGridColumns 是 grid 布局允许的最大列数。
const MaxGridColumns = 4

// MaxRating 是评分项允许的最大满分。
const MaxRating = 10

// Validate 校验结构化数据，返回 *errcode.ValidationError 或 nil。
func (r Resume) Validate() error {
	verr := &errcode.ValidationError{}

	for i, it := range r.Personal.Details {
		validateItem(verr, fmt.Sprintf("personal.details[%d]", i), it)
	}

	seen := make(map[string]struct{}, len(r.Sections))
	for i, s := range r.Sections {
		path := fmt.Sprintf("sections[%d]", i)
		if s.ID != "" {
			if _, dup := seen[s.ID]; dup {
				verr.Add(path+".id", "duplicate section id %q", s.ID)
			}
			seen[s.ID] = struct{}{}
		}
		switch s.Content.Layout {
		case LayoutStacked, LayoutInline, "":
		case LayoutGrid:
			// 0 表示未设置，按 DefaultGridColumns 排版。
			if s.Content.Columns < 0 || s.Content.Columns > MaxGridColumns {
				verr.Add(path+".content.columns", "must be between 1 and %d", MaxGridColumns)
			}
		default:
			verr.Add(path+".content.layout", "unknown layout %q", s.Content.Layout)
		}
		for j, it := range s.Content.Items {
			validateItem(verr, fmt.Sprintf("%s.content.items[%d]", path, j), it)
		}
	}

	return verr.OrNil()
}

func validateItem(verr *errcode.ValidationError, path string, it Item) {
	switch it.Type.Kind() {
	case KindUnknown:
		verr.Add(path+".type", "unknown item type %q", it.Type)
	case KindString:
		if it.Type == TypeEmail && strings.TrimSpace(it.Text) != "" && !ValidEmail(it.Text) {
			verr.Add(path+".value", "invalid email address")
		}
	case KindRating:
		if it.Rating.Max < 1 || it.Rating.Max > MaxRating {
			verr.Add(path+".value.max", "must be between 1 and %d", MaxRating)
		}
		if it.Rating.Score < 0 || it.Rating.Score > it.Rating.Max {
			verr.Add(path+".value.score", "must be between 0 and max")
		}
		switch it.Rating.Display {
		case DisplayStars, DisplayDots, DisplayBar:
		default:
			verr.Add(path+".value.display", "unknown display %q", it.Rating.Display)
		}
	case KindLink:
		if strings.TrimSpace(it.Link.URL) == "" {
			verr.Add(path+".value.url", "url is required")
		}
	}
}

// Default 返回新建简历使用的初始数据。
func Default() Resume {
	return Resume{
		Metadata: Metadata{
			Template:   "modern",
			Typography: Typography{FontFamily: "inter", FontSize: "md"},
			Colors: Colors{
				Background: "#ffffff",
				Text:       "#1f2937",
				Accents:    []string{"#2563eb", "#3b82f6", "#e5e7eb", "#6b7280"},
			},
		},
		Personal: Personal{Details: []Item{}},
		Sections: []Section{},
	}
}
