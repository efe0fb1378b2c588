package htmlpreview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"civy/internal/pdf"
	"civy/internal/resume"
)

// Options 控制 HTML 预览的附加内容。
type Options struct {
	Labels pdf.Labels
	// Lang 写入 <html lang>，为空时使用 en。
	Lang string
	// PhotoURL 为已签名的头像地址或 data URI。
	PhotoURL string
}

// Renderer 持有已解析的页面模板，可并发使用。
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("resume").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse preview template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

var defaultRenderer = func() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}()

// Render 使用默认渲染器输出完整 HTML 文档。
func Render(r resume.Resume, labels pdf.Labels) ([]byte, error) {
	var buf bytes.Buffer
	if err := defaultRenderer.Execute(&buf, r, Options{Labels: labels}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Execute 只渲染可见内容，顺序与 PDF 一致。
func (rd *Renderer) Execute(w io.Writer, r resume.Resume, opts Options) error {
	v := buildView(r.Visible(), opts)
	if err := rd.tmpl.Execute(w, v); err != nil {
		return fmt.Errorf("execute preview template: %w", err)
	}
	return nil
}

type colorsView struct {
	Primary    template.CSS
	Secondary  template.CSS
	Border     template.CSS
	Muted      template.CSS
	Text       template.CSS
	Background template.CSS
}

type ratingView struct {
	Label   string
	Display string
	Marks   []bool
	Percent string
}

type itemView struct {
	ID     string
	Type   string
	Text   string
	Href   string
	Marker string
	Aria   string
	Rating *ratingView
}

type sectionView struct {
	ID      string
	Title   string
	Layout  string
	Columns int
	Items   []itemView
}

type pageView struct {
	Lang          string
	Title         string
	FontStack     template.CSS
	FontSizePt    string
	NameSizePt    string
	TitleSizePt   string
	SectionSizePt string
	Colors        colorsView
	Labels        pdf.Labels
	Photo         template.URL
	Name          string
	JobTitle      string
	Details       []itemView
	Sections      []sectionView
}

var fontStacks = map[string]template.CSS{
	"Helvetica": `Inter, "Helvetica Neue", Helvetica, Arial, sans-serif`,
	"Times":     `Georgia, "Times New Roman", Times, serif`,
	"Courier":   `"JetBrains Mono", "Courier New", Courier, monospace`,
}

func pt(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// hexCSS 只输出经过解析的 #rrggbb，保证可以安全放入样式表。
func hexCSS(s string, fallback pdf.RGB) template.CSS {
	return template.CSS(pdf.ParseHex(s, fallback).Hex())
}

func buildView(r resume.Resume, opts Options) pageView {
	labels := opts.Labels.WithDefaults()
	lang := strings.TrimSpace(opts.Lang)
	if lang == "" {
		lang = "en"
	}
	base := pdf.BaseFontSize(r.Metadata.Typography.FontSize)
	c := r.Metadata.Colors

	title := strings.TrimSpace(r.Personal.FullName)
	if title == "" {
		title = "Resume"
	}

	v := pageView{
		Lang:          lang,
		Title:         title,
		FontStack:     fontStacks[pdf.FontFamily(r.Metadata.Typography.FontFamily)],
		FontSizePt:    pt(base),
		NameSizePt:    pt(base + 14),
		TitleSizePt:   pt(base + 3),
		SectionSizePt: pt(base + 1),
		Colors: colorsView{
			Primary:    hexCSS(c.Primary(), pdf.RGB{R: 0x25, G: 0x63, B: 0xeb}),
			Secondary:  hexCSS(c.Secondary(), pdf.RGB{R: 0x3b, G: 0x82, B: 0xf6}),
			Border:     hexCSS(c.Border(), pdf.RGB{R: 0xe5, G: 0xe7, B: 0xeb}),
			Muted:      hexCSS(c.Muted(), pdf.RGB{R: 0x6b, G: 0x72, B: 0x80}),
			Text:       hexCSS(c.TextColor(), pdf.RGB{R: 0x1f, G: 0x29, B: 0x37}),
			Background: hexCSS(c.BackgroundColor(), pdf.RGB{R: 0xff, G: 0xff, B: 0xff}),
		},
		Labels:   labels,
		Photo:    photoURL(opts.PhotoURL),
		Name:     strings.TrimSpace(r.Personal.FullName),
		JobTitle: strings.TrimSpace(r.Personal.JobTitle),
	}

	for _, it := range r.Personal.Details {
		iv := item(it, labels, nil)
		if iv.Text == "" {
			continue
		}
		v.Details = append(v.Details, iv)
	}

	for _, s := range r.Sections {
		sv := sectionView{ID: s.ID, Title: s.Title, Layout: string(s.Content.Layout), Columns: s.Content.GridColumns()}
		switch s.Content.Layout {
		case resume.LayoutGrid, resume.LayoutInline:
		default:
			sv.Layout = string(resume.LayoutStacked)
		}
		ord := 0
		for _, it := range s.Content.Items {
			sv.Items = append(sv.Items, item(it, labels, &ord))
		}
		v.Sections = append(v.Sections, sv)
	}
	return v
}

// InlineImage 把头像字节转为 data URI，非 PNG/JPEG 返回空串。
func InlineImage(data []byte) string {
	ct := http.DetectContentType(data)
	if ct != "image/png" && ct != "image/jpeg" {
		return ""
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// photoURL 只接受 http(s) 地址与内联图片。
func photoURL(s string) template.URL {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"),
		strings.HasPrefix(s, "data:image/png;base64,"), strings.HasPrefix(s, "data:image/jpeg;base64,"):
		return template.URL(s)
	}
	return ""
}

func item(it resume.Item, labels pdf.Labels, ord *int) itemView {
	iv := itemView{ID: it.ID, Type: string(it.Type)}
	if ord != nil && it.Type != resume.TypeNumber {
		*ord = 0
	}

	switch it.Type.Kind() {
	case resume.KindString:
		iv.Text = strings.TrimSpace(it.Text)
	case resume.KindDateRange:
		iv.Text = pdf.FormatDateRange(it.DateRange, labels)
	case resume.KindLink:
		iv.Text = pdf.LinkLabel(it.Link, labels)
		iv.Href = strings.TrimSpace(it.Link.URL)
	case resume.KindRating:
		iv.Rating = rating(it.Rating)
	}

	switch it.Type {
	case resume.TypeBullet:
		iv.Marker = "•"
	case resume.TypeNumber:
		if ord != nil {
			*ord++
			iv.Marker = strconv.Itoa(*ord) + "."
		}
	case resume.TypeEmail:
		iv.Aria = labels.Email
		if iv.Text != "" {
			iv.Href = "mailto:" + iv.Text
		}
	case resume.TypePhone:
		iv.Aria = labels.Phone
		if iv.Text != "" {
			iv.Href = "tel:" + strings.Join(strings.Fields(iv.Text), "")
		}
	case resume.TypeLocation:
		iv.Aria = labels.Location
	case resume.TypeLink, resume.TypeSocial:
		iv.Aria = labels.Website
	}
	return iv
}

func rating(r resume.Rating) *ratingView {
	rv := &ratingView{Label: r.Label, Display: string(r.Display)}
	if rv.Display == "" {
		rv.Display = string(resume.DisplayStars)
	}
	for i := 0; i < r.Max; i++ {
		rv.Marks = append(rv.Marks, i < r.Score)
	}
	pct := 0.0
	if r.Max > 0 {
		pct = float64(r.Score) * 100 / float64(r.Max)
	}
	rv.Percent = pt(pct)
	return rv
}
