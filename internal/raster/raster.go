package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"civy/internal/errcode"
	"civy/internal/pdf"
)

// MaxDimension 限制单边像素，防止异常缩放耗尽内存。
const MaxDimension = 8192

var ErrInvalidScale = errors.New("invalid raster scale")

// checkEvery 控制取消检查的粒度（按绘制指令计）。
const checkEvery = 16

var faceFiles = map[string][]byte{
	"regular":        goregular.TTF,
	"bold":           gobold.TTF,
	"italic":         goitalic.TTF,
	"bolditalic":     gobolditalic.TTF,
	"mono":           gomono.TTF,
	"monobold":       gomonobold.TTF,
	"monoitalic":     gomonoitalic.TTF,
	"monobolditalic": gomonobolditalic.TTF,
}

// Rasterizer 将解码后的页面绘制为 RGBA 位图。字体只解析一次，可并发使用。
type Rasterizer struct {
	fonts map[string]*opentype.Font
}

// fallbackStyle 是回退字体的字形键，对应 PDF 中的 pdf.FamilyFallback。
const fallbackStyle = "fallback"

// Option 配置 Rasterizer。
type Option func(*options)

type options struct {
	fallback *pdf.FallbackFont
}

// WithFallbackFont 使用与文档生成器相同的回退字体绘制中日韩等文字。
func WithFallbackFont(f *pdf.FallbackFont) Option {
	return func(o *options) { o.fallback = f }
}

func New(opts ...Option) (*Rasterizer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	files := faceFiles
	if o.fallback != nil {
		files = make(map[string][]byte, len(faceFiles)+1)
		for k, v := range faceFiles {
			files[k] = v
		}
		files[fallbackStyle] = o.fallback.TTF
	}

	fonts := make(map[string]*opentype.Font, len(files))
	for key, ttf := range files {
		f, err := opentype.Parse(ttf)
		if err != nil {
			return nil, fmt.Errorf("parse font %s: %w", key, err)
		}
		fonts[key] = f
	}
	return &Rasterizer{fonts: fonts}, nil
}

// Render 以 scale（像素/pt）绘制页面；ctx 取消时返回 ErrCancelled。
func (r *Rasterizer) Render(ctx context.Context, page *pdf.Page, scale float64) (*image.RGBA, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	w := int(math.Ceil(page.Width * scale))
	h := int(math.Ceil(page.Height * scale))
	if w <= 0 || h <= 0 || w > MaxDimension || h > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrInvalidScale, w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	c := &canvas{
		dst:   dst,
		scale: scale,
		pageH: page.Height,
		z:     vector.NewRasterizer(w, h),
		fonts: r.fonts,
		faces: make(map[faceKey]font.Face),
	}
	defer c.closeFaces()

	for i, s := range page.Shapes {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return nil, errcode.ErrCancelled
		}
		c.shape(s)
	}
	for i, t := range page.Texts {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return nil, errcode.ErrCancelled
		}
		if err := c.text(t); err != nil {
			return nil, err
		}
	}
	if ctx.Err() != nil {
		return nil, errcode.ErrCancelled
	}
	return dst, nil
}

// EncodePNG 编码位图。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type faceKey struct {
	style string
	size  int // 1/4 像素
}

type canvas struct {
	dst   *image.RGBA
	scale float64
	pageH float64
	z     *vector.Rasterizer
	fonts map[string]*opentype.Font
	faces map[faceKey]font.Face
}

func (c *canvas) device(p pdf.Point) (float32, float32) {
	return float32(p.X * c.scale), float32((c.pageH - p.Y) * c.scale)
}

func rgba(c pdf.RGB) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

func (c *canvas) shape(s pdf.Shape) {
	if s.Fill {
		c.fill(s.Segments, rgba(s.FillColor))
	}
	if s.Stroke {
		// 至少半个像素宽，细线也可见
		hw := math.Max(s.LineWidth/2, 0.5/c.scale)
		c.fill(strokeOutline(c.polylines(s.Segments), hw), rgba(s.StrokeColor))
	}
}

// fill 在路径外接矩形内栅格化，避免每个形状扫描整张画布。
func (c *canvas) fill(segs []pdf.Segment, col color.RGBA) {
	type pt struct{ x, y float32 }
	var pts [][3]pt
	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	for _, s := range segs {
		var row [3]pt
		n := 1
		if s.Op == pdf.SegCubeTo {
			n = 3
		}
		if s.Op == pdf.SegClose {
			n = 0
		}
		for i := 0; i < n; i++ {
			x, y := c.device(s.Pts[i])
			row[i] = pt{x, y}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
		pts = append(pts, row)
	}
	if minX > maxX || minY > maxY {
		return
	}
	bounds := c.dst.Bounds()
	r := image.Rect(int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX)))+1, int(math.Ceil(float64(maxY)))+1).Intersect(bounds)
	if r.Empty() {
		return
	}
	ox, oy := float32(r.Min.X), float32(r.Min.Y)

	c.z.Reset(r.Dx(), r.Dy())
	open := false
	for i, s := range segs {
		p := pts[i]
		switch s.Op {
		case pdf.SegMoveTo:
			if open {
				c.z.ClosePath()
			}
			c.z.MoveTo(p[0].x-ox, p[0].y-oy)
			open = true
		case pdf.SegLineTo:
			c.z.LineTo(p[0].x-ox, p[0].y-oy)
		case pdf.SegCubeTo:
			c.z.CubeTo(p[0].x-ox, p[0].y-oy, p[1].x-ox, p[1].y-oy, p[2].x-ox, p[2].y-oy)
		case pdf.SegClose:
			if open {
				c.z.ClosePath()
				open = false
			}
		}
	}
	if open {
		c.z.ClosePath()
	}
	c.z.Draw(c.dst, r, image.NewUniform(col), image.Point{})
}

// polylines 将路径展平为折线（页面坐标）。
func (c *canvas) polylines(segs []pdf.Segment) [][]pdf.Point {
	const steps = 8
	var out [][]pdf.Point
	var cur []pdf.Point
	for _, s := range segs {
		switch s.Op {
		case pdf.SegMoveTo:
			if len(cur) > 1 {
				out = append(out, cur)
			}
			cur = []pdf.Point{s.Pts[0]}
		case pdf.SegLineTo:
			cur = append(cur, s.Pts[0])
		case pdf.SegCubeTo:
			if len(cur) == 0 {
				continue
			}
			p0 := cur[len(cur)-1]
			for i := 1; i <= steps; i++ {
				cur = append(cur, cubicAt(p0, s.Pts[0], s.Pts[1], s.Pts[2], float64(i)/steps))
			}
		case pdf.SegClose:
			if len(cur) > 1 {
				cur = append(cur, cur[0])
				out = append(out, cur)
			}
			cur = nil
		}
	}
	if len(cur) > 1 {
		out = append(out, cur)
	}
	return out
}

func cubicAt(p0, p1, p2, p3 pdf.Point, t float64) pdf.Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return pdf.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

// strokeOutline 将每条线段扩展为宽度 2*hw 的四边形（页面单位）。
func strokeOutline(lines [][]pdf.Point, hw float64) []pdf.Segment {
	var segs []pdf.Segment
	for _, line := range lines {
		for i := 1; i < len(line); i++ {
			a, b := line[i-1], line[i]
			dx, dy := b.X-a.X, b.Y-a.Y
			l := math.Hypot(dx, dy)
			if l == 0 {
				continue
			}
			nx, ny := -dy/l, dx/l
			segs = append(segs,
				pdf.Segment{Op: pdf.SegMoveTo, Pts: [3]pdf.Point{{X: a.X + nx*hw, Y: a.Y + ny*hw}}},
				pdf.Segment{Op: pdf.SegLineTo, Pts: [3]pdf.Point{{X: b.X + nx*hw, Y: b.Y + ny*hw}}},
				pdf.Segment{Op: pdf.SegLineTo, Pts: [3]pdf.Point{{X: b.X - nx*hw, Y: b.Y - ny*hw}}},
				pdf.Segment{Op: pdf.SegLineTo, Pts: [3]pdf.Point{{X: a.X - nx*hw, Y: a.Y - ny*hw}}},
				pdf.Segment{Op: pdf.SegClose},
			)
		}
	}
	return segs
}

func styleOf(baseFont string) string {
	family, style := pdf.ParseBaseFont(baseFont)
	prefix := ""
	switch family {
	case pdf.FamilyFallback:
		return fallbackStyle
	case pdf.FamilyMono:
		prefix = "mono"
	}
	switch style {
	case pdf.StyleBoldItalic:
		return prefix + "bolditalic"
	case pdf.StyleBold:
		return prefix + "bold"
	case pdf.StyleItalic:
		return prefix + "italic"
	}
	if prefix == "" {
		return "regular"
	}
	return prefix
}

func (c *canvas) face(baseFont string, px float64) (font.Face, error) {
	key := faceKey{style: styleOf(baseFont), size: int(math.Round(px * 4))}
	if _, ok := c.fonts[key.style]; !ok {
		key.style = "regular"
	}
	if f, ok := c.faces[key]; ok {
		return f, nil
	}
	face, err := opentype.NewFace(c.fonts[key.style], &opentype.FaceOptions{
		Size:    float64(key.size) / 4,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("new face %s: %w", key.style, err)
	}
	c.faces[key] = face
	return face, nil
}

func (c *canvas) text(t pdf.TextRun) error {
	px := t.Size * c.scale
	if px < 1 || strings.TrimSpace(t.Text) == "" {
		return nil
	}
	face, err := c.face(t.Font, px)
	if err != nil {
		return err
	}
	x, y := c.device(pdf.Point{X: t.X, Y: t.Y})
	d := font.Drawer{
		Dst:  c.dst,
		Src:  image.NewUniform(rgba(t.Color)),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(t.Text)
	return nil
}

func (c *canvas) closeFaces() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}
