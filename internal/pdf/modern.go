package pdf

import (
	"fmt"
	"math"
	"strings"

	"civy/internal/resume"
)

const (
	marginX      = 48.0
	marginTop    = 40.0
	marginBottom = 40.0
	contentWidth = PageWidth - 2*marginX

	lineFactor = 1.35
	itemGap    = 4.0
	columnGap  = 12.0
	inlineGap  = 10.0
	sectionGap = 16.0
	photoSize  = 72.0
)

// ModernTemplate 是默认的单栏模板：居中页眉，分区标题带主色下划线。
type ModernTemplate struct{}

func (ModernTemplate) Name() string { return "modern" }

func (ModernTemplate) Layout(m Measurer, in Input) (*Layout, error) {
	c := newComposer(m, in)
	c.header()
	for _, sec := range in.Resume.Sections {
		if !sec.Visible {
			continue
		}
		c.section(sec)
	}
	return c.layout, nil
}

type palette struct {
	primary    RGB
	secondary  RGB
	border     RGB
	muted      RGB
	text       RGB
	background RGB
}

func paletteOf(c resume.Colors) palette {
	return palette{
		primary:    ParseHex(c.Primary(), RGB{0x25, 0x63, 0xeb}),
		secondary:  ParseHex(c.Secondary(), RGB{0x3b, 0x82, 0xf6}),
		border:     ParseHex(c.Border(), RGB{0xe5, 0xe7, 0xeb}),
		muted:      ParseHex(c.Muted(), RGB{0x6b, 0x72, 0x80}),
		text:       ParseHex(c.TextColor(), RGB{0x1f, 0x29, 0x37}),
		background: ParseHex(c.BackgroundColor(), RGB{0xff, 0xff, 0xff}),
	}
}

// block 是以 (0,0) 为原点预先排好的一组元素。
type block struct {
	w, h  float64
	elems []Element
}

func (b *block) add(e Element) {
	b.elems = append(b.elems, e)
	if r := e.X + e.W; r > b.w {
		b.w = r
	}
	if bot := e.Y + e.H; bot > b.h {
		b.h = bot
	}
}

// append 将 o 平移后并入 b。
func (b *block) append(o block, dx, dy float64) {
	for _, e := range o.elems {
		e.X += dx
		e.Y += dy
		b.add(e)
	}
}

type composer struct {
	m      Measurer
	in     Input
	pal    palette
	family string
	base   float64
	labels Labels

	layout *Layout
	page   int
	y      float64
}

func newComposer(m Measurer, in Input) *composer {
	c := &composer{
		m:      m,
		in:     in,
		pal:    paletteOf(in.Resume.Metadata.Colors),
		family: FontFamily(in.Resume.Metadata.Typography.FontFamily),
		base:   BaseFontSize(in.Resume.Metadata.Typography.FontSize),
		labels: in.Labels.WithDefaults(),
		layout: &Layout{PageWidth: PageWidth, PageHeight: PageHeight},
	}
	c.newPage()
	return c
}

func (c *composer) font(style FontStyle, size float64) Font {
	return Font{Family: c.family, Style: style, Size: size}
}

func (c *composer) newPage() {
	c.layout.Pages = append(c.layout.Pages, LayoutPage{})
	c.page = len(c.layout.Pages) - 1
	c.y = marginTop
}

// ensure 在剩余高度不足时换页；页首的超高块直接放置。
func (c *composer) ensure(h float64) {
	if c.y+h > PageHeight-marginBottom && c.y > marginTop {
		c.newPage()
	}
}

func (c *composer) emit(e Element) {
	p := &c.layout.Pages[c.page]
	p.Elements = append(p.Elements, e)
}

func (c *composer) place(sectionID, itemID string, b block, x, y float64, row, col int) {
	for _, e := range b.elems {
		e.X += x
		e.Y += y
		c.emit(e)
	}
	c.layout.Placements = append(c.layout.Placements, Placement{
		SectionID: sectionID,
		ItemID:    itemID,
		Page:      c.page,
		X:         x,
		Y:         y,
		W:         b.w,
		H:         b.h,
		Row:       row,
		Col:       col,
	})
}

func (c *composer) header() {
	p := c.in.Resume.Personal
	if len(c.in.Photo) > 0 {
		c.emit(Element{
			Kind: ElementImage,
			X:    (PageWidth - photoSize) / 2,
			Y:    c.y,
			W:    photoSize,
			H:    photoSize,
			Text: c.labels.Image,
		})
		c.y += photoSize + 8
	}
	if name := strings.TrimSpace(p.FullName); name != "" {
		c.centered(name, c.font(StyleBold, c.base+14), c.pal.primary)
	}
	if title := strings.TrimSpace(p.JobTitle); title != "" {
		c.centered(title, c.font(StyleRegular, c.base+3), c.pal.secondary)
	}
	c.details(p.Details)
	c.y += sectionGap
}

func (c *composer) centered(text string, f Font, col RGB) {
	lh := f.Size * lineFactor
	for _, line := range wrap(c.m, f, text, contentWidth) {
		c.emit(Element{
			Kind:  ElementText,
			X:     marginX,
			Y:     c.y,
			W:     contentWidth,
			H:     lh,
			Text:  line,
			Font:  f,
			Color: col,
			Align: AlignCenter,
		})
		c.y += lh
	}
}

// details 将联系方式排成居中的行内流。
func (c *composer) details(items []resume.Item) {
	f := c.font(StyleRegular, c.base)
	lh := f.Size * lineFactor
	type chip struct {
		id, text, link string
		w              float64
	}
	var line []chip
	var lineW float64
	flush := func() {
		if len(line) == 0 {
			return
		}
		x := marginX + (contentWidth-lineW)/2
		for _, ch := range line {
			c.place("", ch.id, block{w: ch.w, h: lh, elems: []Element{{
				Kind:   ElementText,
				ItemID: ch.id,
				W:      ch.w,
				H:      lh,
				Text:   ch.text,
				Font:   f,
				Color:  c.pal.muted,
				Align:  AlignLeft,
				Link:   ch.link,
			}}}, x, c.y, -1, -1)
			x += ch.w + inlineGap
		}
		c.y += lh
		line, lineW = nil, 0
	}
	for _, it := range items {
		if !it.Visible {
			continue
		}
		text, link := c.detailText(it)
		if text == "" {
			continue
		}
		w := math.Min(c.m.StringWidth(f, text), contentWidth)
		next := w
		if len(line) > 0 {
			next = lineW + inlineGap + w
		}
		if next > contentWidth {
			flush()
			next = w
		}
		line = append(line, chip{id: it.ID, text: text, link: link, w: w})
		lineW = next
	}
	flush()
}

func (c *composer) detailText(it resume.Item) (text, link string) {
	switch it.Type.Kind() {
	case resume.KindLink:
		return LinkLabel(it.Link, c.labels), it.Link.URL
	case resume.KindDateRange:
		return FormatDateRange(it.DateRange, c.labels), ""
	case resume.KindString:
		return strings.TrimSpace(it.Text), contactLink(it)
	}
	return "", ""
}

func (c *composer) section(sec resume.Section) {
	titleFont := c.font(StyleBold, c.base+1)
	titleH := titleFont.Size*lineFactor + 6
	c.ensure(titleH + c.base*lineFactor*2)

	c.emit(Element{
		Kind:  ElementText,
		X:     marginX,
		Y:     c.y,
		W:     contentWidth,
		H:     titleFont.Size * lineFactor,
		Text:  strings.ToUpper(sec.Title),
		Font:  titleFont,
		Color: c.pal.primary,
		Align: AlignLeft,
	})
	c.y += titleFont.Size*lineFactor + 2
	c.emit(Element{Kind: ElementRect, X: marginX, Y: c.y, W: contentWidth, H: 1.5, Color: c.pal.primary, Filled: true})
	c.y += 8

	switch sec.Content.Layout {
	case resume.LayoutGrid:
		c.grid(sec)
	case resume.LayoutInline:
		c.inline(sec)
	default:
		c.stacked(sec)
	}
	c.y += sectionGap
}

func (c *composer) stacked(sec resume.Section) {
	ord := 0
	for _, it := range visibleItems(sec.Content.Items) {
		b := c.item(it, contentWidth, &ord)
		c.ensure(b.h)
		c.place(sec.ID, it.ID, b, marginX, c.y, -1, -1)
		c.y += b.h + itemGap
	}
}

// grid 按行优先依次填满每一列。
func (c *composer) grid(sec resume.Section) {
	cols := sec.Content.GridColumns()
	colW := (contentWidth - columnGap*float64(cols-1)) / float64(cols)
	items := visibleItems(sec.Content.Items)
	ord := 0
	for start, row := 0, 0; start < len(items); start, row = start+cols, row+1 {
		end := min(start+cols, len(items))
		blocks := make([]block, 0, end-start)
		rowH := 0.0
		for _, it := range items[start:end] {
			b := c.item(it, colW, &ord)
			blocks = append(blocks, b)
			rowH = math.Max(rowH, b.h)
		}
		c.ensure(rowH)
		for col, b := range blocks {
			x := marginX + float64(col)*(colW+columnGap)
			c.place(sec.ID, items[start+col].ID, b, x, c.y, row, col)
		}
		c.y += rowH + itemGap
	}
}

// inline 从左到右排列，放不下时换行。
func (c *composer) inline(sec resume.Section) {
	x := marginX
	lineH := 0.0
	ord := 0
	for _, it := range visibleItems(sec.Content.Items) {
		b := c.item(it, contentWidth, &ord)
		if x > marginX && x+b.w > marginX+contentWidth {
			c.y += lineH + itemGap
			x, lineH = marginX, 0
		}
		if x == marginX {
			c.ensure(b.h)
		}
		c.place(sec.ID, it.ID, b, x, c.y, -1, -1)
		x += b.w + inlineGap
		lineH = math.Max(lineH, b.h)
	}
	if lineH > 0 {
		c.y += lineH + itemGap
	}
}

func visibleItems(items []resume.Item) []resume.Item {
	out := make([]resume.Item, 0, len(items))
	for _, it := range items {
		if it.Visible {
			out = append(out, it)
		}
	}
	return out
}

// item 按类型排版单个条目，宽度不超过 width。
func (c *composer) item(it resume.Item, width float64, ord *int) block {
	if it.Type != resume.TypeNumber {
		*ord = 0
	}
	regular := c.font(StyleRegular, c.base)
	switch it.Type {
	case resume.TypeHeading:
		return c.paragraph(it.ID, it.Text, c.font(StyleBold, c.base+2), c.pal.text, width, "")
	case resume.TypeSubHeading:
		return c.paragraph(it.ID, it.Text, c.font(StyleBold, c.base+1), c.pal.secondary, width, "")
	case resume.TypeText:
		return c.paragraph(it.ID, it.Text, regular, c.pal.text, width, "")
	case resume.TypeBullet:
		return c.marked(it, "•", regular, width)
	case resume.TypeNumber:
		*ord++
		return c.marked(it, fmt.Sprintf("%d.", *ord), regular, width)
	case resume.TypeDate:
		return c.paragraph(it.ID, it.Text, c.font(StyleItalic, c.base), c.pal.muted, width, "")
	case resume.TypeLocation, resume.TypeEmail, resume.TypePhone:
		return c.paragraph(it.ID, it.Text, regular, c.pal.muted, width, contactLink(it))
	case resume.TypeTag:
		return c.tag(it, width)
	case resume.TypeDateRange:
		return c.paragraph(it.ID, FormatDateRange(it.DateRange, c.labels), c.font(StyleItalic, c.base), c.pal.muted, width, "")
	case resume.TypeLink, resume.TypeSocial:
		return c.paragraph(it.ID, LinkLabel(it.Link, c.labels), regular, c.pal.primary, width, it.Link.URL)
	case resume.TypeRating:
		return c.rating(it, width)
	case resume.TypeSeparator:
		b := block{}
		b.add(Element{Kind: ElementRect, ItemID: it.ID, Y: 4, W: width, H: 0.75, Color: c.pal.border, Filled: true})
		b.h = 9
		return b
	}
	return block{}
}

func (c *composer) paragraph(id, text string, f Font, col RGB, width float64, link string) block {
	lh := f.Size * lineFactor
	b := block{}
	for i, line := range wrap(c.m, f, text, width) {
		b.add(Element{
			Kind:   ElementText,
			ItemID: id,
			Y:      float64(i) * lh,
			W:      c.m.StringWidth(f, line),
			H:      lh,
			Text:   line,
			Font:   f,
			Color:  col,
			Align:  AlignLeft,
			Link:   link,
		})
	}
	return b
}

func (c *composer) marked(it resume.Item, marker string, f Font, width float64) block {
	const indent = 14.0
	b := block{}
	b.add(Element{
		Kind:   ElementText,
		ItemID: it.ID,
		W:      c.m.StringWidth(f, marker),
		H:      f.Size * lineFactor,
		Text:   marker,
		Font:   f,
		Color:  c.pal.primary,
		Align:  AlignLeft,
	})
	b.append(c.paragraph(it.ID, it.Text, f, c.pal.text, width-indent, ""), indent, 0)
	return b
}

func (c *composer) tag(it resume.Item, width float64) block {
	const padX, padY = 6.0, 2.0
	f := c.font(StyleRegular, c.base-1)
	text := strings.TrimSpace(it.Text)
	if text == "" {
		return block{}
	}
	lines := wrap(c.m, f, text, width-2*padX)
	lh := f.Size * lineFactor
	textW := 0.0
	for _, line := range lines {
		textW = math.Max(textW, c.m.StringWidth(f, line))
	}
	b := block{}
	b.add(Element{Kind: ElementRect, ItemID: it.ID, W: textW + 2*padX, H: float64(len(lines))*lh + 2*padY, Color: c.pal.border, Filled: true})
	for i, line := range lines {
		b.add(Element{
			Kind:   ElementText,
			ItemID: it.ID,
			X:      padX,
			Y:      padY + float64(i)*lh,
			W:      c.m.StringWidth(f, line),
			H:      lh,
			Text:   line,
			Font:   f,
			Color:  c.pal.text,
			Align:  AlignLeft,
		})
	}
	return b
}

func (c *composer) rating(it resume.Item, width float64) block {
	r := it.Rating
	// 未校验的数据也不能让标记数量失控。
	r.Max = min(max(r.Max, 0), resume.MaxRating)
	r.Score = min(max(r.Score, 0), r.Max)
	f := c.font(StyleRegular, c.base)
	lh := f.Size * lineFactor
	sym := c.base * 0.9

	var marks block
	switch r.Display {
	case resume.DisplayBar:
		const barW, barH = 80.0, 4.0
		y := (lh - barH) / 2
		marks.add(Element{Kind: ElementRect, ItemID: it.ID, Y: y, W: barW, H: barH, Color: c.pal.border, Filled: true})
		if r.Max > 0 && r.Score > 0 {
			marks.add(Element{Kind: ElementRect, ItemID: it.ID, Y: y, W: barW * float64(r.Score) / float64(r.Max), H: barH, Color: c.pal.primary, Filled: true})
		}
	default:
		kind := ElementStar
		if r.Display == resume.DisplayDots {
			kind = ElementCircle
		}
		for i := 0; i < r.Max; i++ {
			marks.add(Element{
				Kind:      kind,
				ItemID:    it.ID,
				X:         float64(i) * (sym + 2),
				Y:         (lh - sym) / 2,
				W:         sym,
				H:         sym,
				Color:     c.pal.primary,
				Filled:    i < r.Score,
				LineWidth: 0.6,
			})
		}
	}

	b := c.paragraph(it.ID, r.Label, f, c.pal.text, width, "")
	if label := b.w; label > 0 && label+8+marks.w <= width && b.h <= lh {
		b.append(marks, label+8, 0)
	} else {
		b.append(marks, 0, b.h)
	}
	return b
}

// FormatDateRange 输出 "start - end"，结束日期为空时使用 Present 文案。
func FormatDateRange(dr resume.DateRange, labels Labels) string {
	end := strings.TrimSpace(dr.EndDate)
	if end == "" {
		end = labels.WithDefaults().Present
	}
	start := strings.TrimSpace(dr.StartDate)
	if start == "" {
		return end
	}
	return start + " - " + end
}

// LinkLabel 返回链接展示文字，依次回退到 URL 与 Website 文案。
func LinkLabel(l resume.Link, labels Labels) string {
	if s := strings.TrimSpace(l.Label); s != "" {
		return s
	}
	if s := strings.TrimSpace(l.URL); s != "" {
		return s
	}
	return labels.WithDefaults().Website
}

func contactLink(it resume.Item) string {
	v := strings.TrimSpace(it.Text)
	if v == "" {
		return ""
	}
	switch it.Type {
	case resume.TypeEmail:
		return "mailto:" + v
	case resume.TypePhone:
		return "tel:" + strings.Join(strings.Fields(v), "")
	}
	return ""
}

// wrap 按单词贪心折行，超长单词按字符截断。
func wrap(m Measurer, f Font, text string, width float64) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := ""
		for _, w := range words {
			cand := w
			if cur != "" {
				cand = cur + " " + w
			}
			if m.StringWidth(f, cand) <= width {
				cur = cand
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
			}
			for m.StringWidth(f, w) > width {
				head, rest := splitRunes(m, f, w, width)
				lines = append(lines, head)
				w = rest
			}
			cur = w
		}
		lines = append(lines, cur)
	}
	return lines
}

func splitRunes(m Measurer, f Font, w string, width float64) (string, string) {
	runes := []rune(w)
	n := 1
	for n < len(runes) && m.StringWidth(f, string(runes[:n+1])) <= width {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}
