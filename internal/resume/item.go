package resume

import (
	"encoding/json"
	"fmt"
)

// ItemType 是 Item 的判别标签。
type ItemType string

const (
	TypeHeading    ItemType = "heading"
	TypeSubHeading ItemType = "sub-heading"
	TypeText       ItemType = "text"
	TypeBullet     ItemType = "bullet"
	TypeNumber     ItemType = "number"
	TypeDate       ItemType = "date"
	TypeLocation   ItemType = "location"
	TypeEmail      ItemType = "email"
	TypePhone      ItemType = "phone"
	TypeTag        ItemType = "tag"
	TypeDateRange  ItemType = "date-range"
	TypeLink       ItemType = "link"
	TypeSocial     ItemType = "social"
	TypeRating     ItemType = "rating"
	TypeSeparator  ItemType = "separator"
)

// Kind 是 ItemType 所属的值形态。
type Kind int

const (
	KindUnknown Kind = iota
	KindString
	KindDateRange
	KindLink
	KindRating
	KindNone
)

// Kind 返回类型对应的值形态。
func (t ItemType) Kind() Kind {
	switch t {
	case TypeHeading, TypeSubHeading, TypeText, TypeBullet, TypeNumber,
		TypeDate, TypeLocation, TypeEmail, TypePhone, TypeTag:
		return KindString
	case TypeDateRange:
		return KindDateRange
	case TypeLink, TypeSocial:
		return KindLink
	case TypeRating:
		return KindRating
	case TypeSeparator:
		return KindNone
	default:
		return KindUnknown
	}
}

// RatingDisplay 决定评分的绘制方式。
type RatingDisplay string

const (
	DisplayStars RatingDisplay = "stars"
	DisplayDots  RatingDisplay = "dots"
	DisplayBar   RatingDisplay = "bar"
)

type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
}

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Rating struct {
	Label   string        `json:"label"`
	Score   int           `json:"score"`
	Max     int           `json:"max"`
	Display RatingDisplay `json:"display"`
}

// Item 是带标签的变体，Type 决定哪个值字段有意义。
type Item struct {
	ID      string
	Type    ItemType
	Visible bool

	Text      string
	DateRange DateRange
	Link      Link
	Rating    Rating
}

type itemWire struct {
	ID      string          `json:"id"`
	Type    ItemType        `json:"type"`
	Visible *bool           `json:"visible,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON 输出 {id,type,visible,value}，value 形态由 type 决定。
func (it Item) MarshalJSON() ([]byte, error) {
	visible := it.Visible
	wire := itemWire{ID: it.ID, Type: it.Type, Visible: &visible}

	var (
		raw []byte
		err error
	)
	switch it.Type.Kind() {
	case KindString:
		raw, err = json.Marshal(it.Text)
	case KindDateRange:
		raw, err = json.Marshal(it.DateRange)
	case KindLink:
		raw, err = json.Marshal(it.Link)
	case KindRating:
		raw, err = json.Marshal(it.Rating)
	case KindNone:
	default:
		return nil, fmt.Errorf("marshal item %q: unknown type %q", it.ID, it.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal item %q value: %w", it.ID, err)
	}
	wire.Value = raw
	return json.Marshal(wire)
}

// UnmarshalJSON 按 type 解析 value；缺省的 visible 视为 true。
func (it *Item) UnmarshalJSON(data []byte) error {
	var wire itemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*it = Item{ID: wire.ID, Type: wire.Type, Visible: true}
	if wire.Visible != nil {
		it.Visible = *wire.Visible
	}
	if len(wire.Value) == 0 || string(wire.Value) == "null" {
		return nil
	}

	var err error
	switch wire.Type.Kind() {
	case KindString:
		err = json.Unmarshal(wire.Value, &it.Text)
	case KindDateRange:
		err = json.Unmarshal(wire.Value, &it.DateRange)
	case KindLink:
		err = json.Unmarshal(wire.Value, &it.Link)
	case KindRating:
		err = json.Unmarshal(wire.Value, &it.Rating)
	case KindNone:
	default:
		// 未知类型保留但不解析，Validate 会报告。
	}
	if err != nil {
		return fmt.Errorf("item %q (%s) value: %w", wire.ID, wire.Type, err)
	}
	return nil
}

type sectionWire struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Visible *bool          `json:"visible,omitempty"`
	Content SectionContent `json:"content"`
}

// UnmarshalJSON 缺省的 visible 视为 true。
func (s *Section) UnmarshalJSON(data []byte) error {
	var wire sectionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = Section{ID: wire.ID, Title: wire.Title, Visible: true, Content: wire.Content}
	if wire.Visible != nil {
		s.Visible = *wire.Visible
	}
	if s.Content.Layout == "" {
		s.Content.Layout = LayoutStacked
	}
	return nil
}
