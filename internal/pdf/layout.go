package pdf

// A4 尺寸（pt）。
const (
	PageWidth  = 595.28
	PageHeight = 841.89
)

// ElementKind 是版面元素类型。
type ElementKind int

const (
	ElementText ElementKind = iota
	ElementRect
	ElementCircle
	ElementStar
	ElementImage
)

// Align 是文字水平对齐方式。
type Align string

const (
	AlignLeft   Align = "L"
	AlignCenter Align = "C"
)

// Element 是页面上一个已定位的绘制单元，坐标以页面左上角为原点（pt）。
// 圆形与星形的 X/Y/W/H 为外接矩形。
type Element struct {
	Kind   ElementKind
	ItemID string
	X, Y   float64
	W, H   float64

	Text  string
	Font  Font
	Color RGB
	Align Align
	Link  string

	Filled    bool
	LineWidth float64
}

// LayoutPage 是一页的元素列表。
type LayoutPage struct {
	Elements []Element
}

// Placement 记录某个 Item 的落点，grid 布局会附带行列号。
type Placement struct {
	SectionID string
	ItemID    string
	Page      int
	X, Y      float64
	W, H      float64
	Row, Col  int
}

// Layout 是模板排版的确定性中间结果。
type Layout struct {
	PageWidth  float64
	PageHeight float64
	Pages      []LayoutPage
	Placements []Placement
}

// Measurer 测量字符串宽度（pt）。
type Measurer interface {
	StringWidth(f Font, s string) float64
}
