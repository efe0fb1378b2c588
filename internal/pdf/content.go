package pdf

import (
	"math"

	lpdf "github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// matrix 是 PDF 仿射矩阵 [a b c d e f]。
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul 返回 m×n。
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) Point {
	return Point{X: x*m[0] + y*m[2] + m[4], Y: x*m[1] + y*m[3] + m[5]}
}

func translate(x, y float64) matrix {
	return matrix{1, 0, 0, 1, x, y}
}

type gstate struct {
	ctm       matrix
	fill      RGB
	stroke    RGB
	lineWidth float64
}

// interp 解释单页内容流，只覆盖文档生成器输出的算子子集：
// 颜色、路径、文字定位与图片 XObject。
type interp struct {
	page  *Page
	fonts lpdf.Value
	ox    float64
	oy    float64

	gs    gstate
	stack []gstate
	path  []Segment

	tm, tlm  matrix
	font     fontRef
	size     float64
	leading  float64
	inText   bool
	fontRefs map[string]fontRef
}

// fontRef 是资源字典中的字体：Type0 (Identity-H) 字体的字符串为 UTF-16BE，其余按 WinAnsi 解码。
type fontRef struct {
	base string
	enc  encoding.Encoding
}

var (
	winAnsi = charmap.Windows1252
	utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
)

func interpretPage(p lpdf.Page, n int) *Page {
	page := &Page{Number: n, Width: PageWidth, Height: PageHeight}
	var ox, oy float64
	if box := inherited(p.V, "MediaBox"); box.Len() == 4 {
		ox, oy = box.Index(0).Float64(), box.Index(1).Float64()
		page.Width = box.Index(2).Float64() - ox
		page.Height = box.Index(3).Float64() - oy
	}

	in := &interp{
		page:     page,
		fonts:    p.Resources().Key("Font"),
		ox:       ox,
		oy:       oy,
		gs:       gstate{ctm: identity, lineWidth: 1},
		tm:       identity,
		tlm:      identity,
		fontRefs: make(map[string]fontRef),
	}

	contents := p.V.Key("Contents")
	if contents.Kind() == lpdf.Array {
		for i := 0; i < contents.Len(); i++ {
			lpdf.Interpret(contents.Index(i), in.op)
		}
	} else if !contents.IsNull() {
		lpdf.Interpret(contents, in.op)
	}
	return page
}

// inherited 沿 Parent 链查找可继承的页面属性。
func inherited(v lpdf.Value, key string) lpdf.Value {
	for !v.IsNull() {
		if x := v.Key(key); !x.IsNull() {
			return x
		}
		v = v.Key("Parent")
	}
	return lpdf.Value{}
}

func (in *interp) op(stk *lpdf.Stack, op string) {
	args := make([]lpdf.Value, stk.Len())
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = stk.Pop()
	}
	num := func(i int) float64 {
		if i < len(args) {
			return args[i].Float64()
		}
		return 0
	}

	switch op {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			m := matrix{num(0), num(1), num(2), num(3), num(4), num(5)}
			in.gs.ctm = m.mul(in.gs.ctm)
		}
	case "w":
		in.gs.lineWidth = num(0)
	case "rg":
		in.gs.fill = rgbOf(num(0), num(1), num(2))
	case "RG":
		in.gs.stroke = rgbOf(num(0), num(1), num(2))
	case "g":
		in.gs.fill = rgbOf(num(0), num(0), num(0))
	case "G":
		in.gs.stroke = rgbOf(num(0), num(0), num(0))

	case "m":
		in.segment(SegMoveTo, num(0), num(1))
	case "l":
		in.segment(SegLineTo, num(0), num(1))
	case "c":
		in.cube(num(0), num(1), num(2), num(3), num(4), num(5))
	case "v":
		if cur, ok := in.current(); ok {
			in.cubeDevice(cur, in.user(num(0), num(1)), in.user(num(2), num(3)))
		}
	case "y":
		in.cube(num(0), num(1), num(2), num(3), num(2), num(3))
	case "h":
		in.path = append(in.path, Segment{Op: SegClose})
	case "re":
		x, y, w, h := num(0), num(1), num(2), num(3)
		in.segment(SegMoveTo, x, y)
		in.segment(SegLineTo, x+w, y)
		in.segment(SegLineTo, x+w, y+h)
		in.segment(SegLineTo, x, y+h)
		in.path = append(in.path, Segment{Op: SegClose})
	case "f", "F", "f*":
		in.paint(true, false)
	case "S":
		in.paint(false, true)
	case "s":
		in.path = append(in.path, Segment{Op: SegClose})
		in.paint(false, true)
	case "B", "B*":
		in.paint(true, true)
	case "b", "b*":
		in.path = append(in.path, Segment{Op: SegClose})
		in.paint(true, true)
	case "n":
		in.path = nil

	case "BT":
		in.inText = true
		in.tm, in.tlm = identity, identity
	case "ET":
		in.inText = false
	case "Tf":
		if len(args) == 2 {
			in.font = in.fontRef(args[0].Name())
			in.size = num(1)
		}
	case "TL":
		in.leading = num(0)
	case "Td":
		in.tlm = translate(num(0), num(1)).mul(in.tlm)
		in.tm = in.tlm
	case "TD":
		in.leading = -num(1)
		in.tlm = translate(num(0), num(1)).mul(in.tlm)
		in.tm = in.tlm
	case "Tm":
		if len(args) == 6 {
			in.tlm = matrix{num(0), num(1), num(2), num(3), num(4), num(5)}
			in.tm = in.tlm
		}
	case "T*":
		in.tlm = translate(0, -in.leading).mul(in.tlm)
		in.tm = in.tlm
	case "Tj":
		if len(args) == 1 {
			in.show(args[0].RawString())
		}
	case "'":
		in.tlm = translate(0, -in.leading).mul(in.tlm)
		in.tm = in.tlm
		if len(args) == 1 {
			in.show(args[0].RawString())
		}
	case "TJ":
		if len(args) == 1 && args[0].Kind() == lpdf.Array {
			var s []byte
			for i := 0; i < args[0].Len(); i++ {
				if v := args[0].Index(i); v.Kind() == lpdf.String {
					s = append(s, v.RawString()...)
				}
			}
			in.show(string(s))
		}

	case "Do":
		in.image()
	}
}

func rgbOf(r, g, b float64) RGB {
	clamp := func(v float64) uint8 {
		return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return RGB{R: clamp(r), G: clamp(g), B: clamp(b)}
}

// user 将用户坐标变换为以 MediaBox 左下角为原点的页面坐标。
func (in *interp) user(x, y float64) Point {
	p := in.gs.ctm.apply(x, y)
	return Point{X: p.X - in.ox, Y: p.Y - in.oy}
}

func (in *interp) segment(op SegmentOp, x, y float64) {
	in.path = append(in.path, Segment{Op: op, Pts: [3]Point{in.user(x, y)}})
}

func (in *interp) cube(x1, y1, x2, y2, x3, y3 float64) {
	in.cubeDevice(in.user(x1, y1), in.user(x2, y2), in.user(x3, y3))
}

func (in *interp) cubeDevice(p1, p2, p3 Point) {
	in.path = append(in.path, Segment{Op: SegCubeTo, Pts: [3]Point{p1, p2, p3}})
}

func (in *interp) current() (Point, bool) {
	for i := len(in.path) - 1; i >= 0; i-- {
		s := in.path[i]
		switch s.Op {
		case SegMoveTo, SegLineTo:
			return s.Pts[0], true
		case SegCubeTo:
			return s.Pts[2], true
		}
	}
	return Point{}, false
}

func (in *interp) paint(fill, stroke bool) {
	if len(in.path) == 0 {
		return
	}
	in.page.Shapes = append(in.page.Shapes, Shape{
		Segments:    in.path,
		Fill:        fill,
		Stroke:      stroke,
		FillColor:   in.gs.fill,
		StrokeColor: in.gs.stroke,
		LineWidth:   in.gs.lineWidth * math.Hypot(in.gs.ctm[0], in.gs.ctm[1]),
	})
	in.path = nil
}

func (in *interp) show(raw string) {
	if !in.inText || raw == "" {
		return
	}
	trm := in.tm.mul(in.gs.ctm)
	origin := trm.apply(0, 0)
	enc := in.font.enc
	if enc == nil {
		enc = winAnsi
	}
	text, err := enc.NewDecoder().String(raw)
	if err != nil {
		text = raw
	}
	in.page.Texts = append(in.page.Texts, TextRun{
		X:     origin.X - in.ox,
		Y:     origin.Y - in.oy,
		Size:  in.size * math.Hypot(trm[2], trm[3]),
		Font:  in.font.base,
		Color: in.gs.fill,
		Text:  text,
	})
}

// image 记录图片 XObject 占据的单位正方形。
func (in *interp) image() {
	corners := []Point{in.user(0, 0), in.user(1, 0), in.user(1, 1), in.user(0, 1)}
	segs := make([]Segment, 0, 5)
	for i, p := range corners {
		op := SegLineTo
		if i == 0 {
			op = SegMoveTo
		}
		segs = append(segs, Segment{Op: op, Pts: [3]Point{p}})
	}
	segs = append(segs, Segment{Op: SegClose})
	in.page.Shapes = append(in.page.Shapes, Shape{
		Segments:  segs,
		Fill:      true,
		FillColor: RGB{0xd1, 0xd5, 0xdb},
		Image:     true,
	})
}

func (in *interp) fontRef(name string) fontRef {
	if ref, ok := in.fontRefs[name]; ok {
		return ref
	}
	ref := fontRef{base: name, enc: winAnsi}
	if f := in.fonts.Key(name); !f.IsNull() {
		if b := f.Key("BaseFont").Name(); b != "" {
			ref.base = b
		}
		if f.Key("Subtype").Name() == "Type0" && f.Key("Encoding").Name() == "Identity-H" {
			ref.enc = utf16BE
		}
	}
	in.fontRefs[name] = ref
	return ref
}
