package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-pdf/fpdf"

	"civy/internal/errcode"
	"civy/internal/resume"
)

// Input 是一次生成的全部输入。
type Input struct {
	Resume resume.Resume
	Labels Labels
	// Photo 为已取回的头像字节（PNG/JPEG），为空则不绘制。
	Photo []byte
	// ModifiedAt 写入 PDF 元数据；零值时使用固定时间以保证输出可复现。
	ModifiedAt time.Time
}

// Artifact 是生成结果。
type Artifact struct {
	Bytes     []byte
	Layout    *Layout
	Template  string
	PageCount int
	ItemCount int
}

// fixedEpoch 是缺省的文档时间戳。
var fixedEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Generator 将简历排版并绘制为 A4 PDF，相同输入产生相同字节。
// 文字使用内嵌的 UTF-8 TrueType 字体，Go 字体缺字时改用回退字体。
type Generator struct {
	templates *Registry
	fallback  *FallbackFont
}

// GeneratorOption 配置 Generator。
type GeneratorOption func(*Generator)

// WithFallbackFont 设置回退字体，nil 表示不使用。
func WithFallbackFont(f *FallbackFont) GeneratorOption {
	return func(g *Generator) { g.fallback = f }
}

func NewGenerator(templates *Registry, opts ...GeneratorOption) *Generator {
	if templates == nil {
		templates = NewRegistry()
	}
	g := &Generator{templates: templates}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanRender 报告这些文字能否以真实字形绘制，而不是缺字方框。
func (g *Generator) CanRender(texts ...string) bool {
	for _, s := range texts {
		if !goCovers(s) && !g.fallback.Covers(s) {
			return false
		}
	}
	return true
}

// Templates 返回生成器使用的模板注册表。
func (g *Generator) Templates() *Registry { return g.templates }

// Generate 仅渲染可见的 Section 与 Item。
func (g *Generator) Generate(ctx context.Context, in Input) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, errcode.ErrCancelled
	}
	in.Resume = in.Resume.Visible()
	in.Labels = in.Labels.WithDefaults()

	doc := newDocument(in, g.fallback)
	tpl := g.templates.Lookup(in.Resume.Metadata.Template)
	layout, err := tpl.Layout(doc, in)
	if err != nil {
		return nil, errcode.Generation("layout", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errcode.ErrCancelled
	}

	data, err := doc.paint(ctx, layout, in)
	if err != nil {
		return nil, errcode.Generation("paint", err)
	}
	return &Artifact{
		Bytes:     data,
		Layout:    layout,
		Template:  tpl.Name(),
		PageCount: len(layout.Pages),
		ItemCount: len(layout.Placements),
	}, nil
}

// document 封装 fpdf，同时充当排版阶段的 Measurer。
type document struct {
	pdf      *fpdf.Fpdf
	fallback *FallbackFont
	loaded   map[string]bool
}

func newDocument(in Input, fallback *FallbackFont) *document {
	p := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: PageWidth, Ht: PageHeight},
	})
	p.SetMargins(0, 0, 0)
	p.SetCellMargin(0)
	p.SetAutoPageBreak(false, 0)

	ts := in.ModifiedAt
	if ts.IsZero() {
		ts = fixedEpoch
	}
	p.SetCreationDate(ts.UTC())
	p.SetModificationDate(ts.UTC())
	p.SetCatalogSort(true)
	p.SetCreator("civy", false)
	p.SetProducer("civy", false)
	p.SetTitle(bmpOnly(in.Resume.Personal.FullName), true)
	p.SetAuthor(bmpOnly(in.Resume.Personal.FullName), true)

	return &document{pdf: p, fallback: fallback, loaded: make(map[string]bool)}
}

func (d *document) StringWidth(f Font, s string) float64 {
	s = bmpOnly(s)
	d.setFont(f, s)
	return d.pdf.GetStringWidth(s)
}

// setFont 选择能绘制 s 的字体；测量与绘制走同一路径，保证排版与输出一致。
// 字体在首次使用时注册，只有用到的字形会被嵌入。
func (d *document) setFont(f Font, s string) {
	family, style := embeddedFamily(f.Family), string(f.Style)
	if d.fallback != nil && !goCovers(s) {
		family, style = FamilyFallback, ""
	}
	if key := family + style; !d.loaded[key] {
		d.loaded[key] = true
		ttf := embedded[key]
		if family == FamilyFallback {
			ttf = d.fallback.TTF
		}
		d.pdf.AddUTF8FontFromBytes(family, style, ttf)
	}
	d.pdf.SetFont(family, style, f.Size)
}

const photoImageName = "photo"

func (d *document) paint(ctx context.Context, l *Layout, in Input) ([]byte, error) {
	p := d.pdf
	bg := paletteOf(in.Resume.Metadata.Colors).background
	photo := d.registerPhoto(in.Photo)

	for _, page := range l.Pages {
		if err := ctx.Err(); err != nil {
			return nil, errcode.ErrCancelled
		}
		p.AddPage()
		if bg != (RGB{0xff, 0xff, 0xff}) {
			p.SetFillColor(int(bg.R), int(bg.G), int(bg.B))
			p.Rect(0, 0, l.PageWidth, l.PageHeight, "F")
		}
		for _, el := range page.Elements {
			d.draw(el, photo)
		}
		if p.Err() {
			return nil, p.Error()
		}
	}

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// registerPhoto 注册头像，格式不受支持时忽略头像而不是让整份文档失败。
func (d *document) registerPhoto(data []byte) bool {
	typ := imageType(data)
	if typ == "" {
		return false
	}
	d.pdf.RegisterImageOptionsReader(photoImageName, fpdf.ImageOptions{ImageType: typ}, bytes.NewReader(data))
	if d.pdf.Err() {
		d.pdf.ClearError()
		return false
	}
	return true
}

func imageType(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")):
		return "PNG"
	case bytes.HasPrefix(b, []byte{0xff, 0xd8, 0xff}):
		return "JPG"
	default:
		return ""
	}
}

func (d *document) draw(el Element, photo bool) {
	p := d.pdf
	style := "F"
	if !el.Filled {
		style = "D"
	}
	switch el.Kind {
	case ElementText:
		text := bmpOnly(el.Text)
		d.setFont(el.Font, text)
		p.SetTextColor(int(el.Color.R), int(el.Color.G), int(el.Color.B))
		p.SetXY(el.X, el.Y)
		p.CellFormat(el.W, el.H, text, "", 0, string(el.Align), false, 0, el.Link)
	case ElementRect:
		d.setColors(el)
		p.Rect(el.X, el.Y, el.W, el.H, style)
	case ElementCircle:
		d.setColors(el)
		p.Circle(el.X+el.W/2, el.Y+el.H/2, el.W/2, style)
	case ElementStar:
		d.setColors(el)
		if el.Filled {
			style = "FD"
		}
		p.Polygon(starPoints(el.X+el.W/2, el.Y+el.H/2, el.W/2), style)
	case ElementImage:
		if photo {
			p.ImageOptions(photoImageName, el.X, el.Y, el.W, el.H, false, fpdf.ImageOptions{}, 0, "")
		}
	}
}

func (d *document) setColors(el Element) {
	d.pdf.SetFillColor(int(el.Color.R), int(el.Color.G), int(el.Color.B))
	d.pdf.SetDrawColor(int(el.Color.R), int(el.Color.G), int(el.Color.B))
	lw := el.LineWidth
	if lw <= 0 {
		lw = 0.5
	}
	d.pdf.SetLineWidth(lw)
}

// starPoints 返回五角星的 10 个顶点，顶点朝上。
func starPoints(cx, cy, r float64) []fpdf.PointType {
	pts := make([]fpdf.PointType, 0, 10)
	inner := r * 0.45
	for i := 0; i < 10; i++ {
		rad := r
		if i%2 == 1 {
			rad = inner
		}
		a := -math.Pi/2 + float64(i)*math.Pi/5
		pts = append(pts, fpdf.PointType{X: cx + rad*math.Cos(a), Y: cy + rad*math.Sin(a)})
	}
	return pts
}

// ErrEmptyDocument 表示生成结果没有任何页面。
var ErrEmptyDocument = errors.New("empty document")
