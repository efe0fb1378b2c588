package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	lpdf "github.com/ledongthuc/pdf"

	"civy/internal/errcode"
)

// ErrDocumentClosed 表示文档已被释放；它属于取消类结果。
var ErrDocumentClosed = fmt.Errorf("document closed: %w", errcode.ErrCancelled)

// Point 是 PDF 用户空间坐标（左下角为原点，pt）。
type Point struct {
	X, Y float64
}

// SegmentOp 是路径段类型。
type SegmentOp int

const (
	SegMoveTo SegmentOp = iota
	SegLineTo
	SegCubeTo
	SegClose
)

// Segment 是路径中的一段；CubeTo 使用全部三个点。
type Segment struct {
	Op  SegmentOp
	Pts [3]Point
}

// Shape 是一次填充或描边的路径。Image 为 true 时表示图片占位区域。
type Shape struct {
	Segments    []Segment
	Fill        bool
	Stroke      bool
	FillColor   RGB
	StrokeColor RGB
	LineWidth   float64
	Image       bool
}

// TextRun 是一次文字绘制，X/Y 为基线起点。
type TextRun struct {
	X, Y  float64
	Size  float64
	Font  string
	Color RGB
	Text  string
}

// Page 是解码后的单页绘制指令。
type Page struct {
	Number int
	Width  float64
	Height float64
	Shapes []Shape
	Texts  []TextRun
}

// Document 是已解析的 PDF，页面按需解释并缓存。
type Document struct {
	mu       sync.Mutex
	reader   *lpdf.Reader
	numPages int
	pages    map[int]*Page
	closed   bool
}

// Decode 解析 PDF 字节，畸形输入返回 ErrGenerationFailed。
func Decode(ctx context.Context, data []byte) (doc *Document, err error) {
	if err := ctx.Err(); err != nil {
		return nil, errcode.ErrCancelled
	}
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = errcode.Generation("decode", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errcode.Generation("decode", err)
	}
	n := reader.NumPage()
	if n == 0 {
		return nil, errcode.Generation("decode", ErrEmptyDocument)
	}
	return &Document{reader: reader, numPages: n, pages: make(map[int]*Page)}, nil
}

// NumPages 返回页数。
func (d *Document) NumPages() int {
	return d.numPages
}

// Page 返回第 n 页（从 1 开始）。
func (d *Document) Page(ctx context.Context, n int) (page *Page, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDocumentClosed
	}
	if n < 1 || n > d.numPages {
		return nil, errcode.Generation("decode", fmt.Errorf("page %d out of range [1,%d]", n, d.numPages))
	}
	if err := ctx.Err(); err != nil {
		return nil, errcode.ErrCancelled
	}
	if p, ok := d.pages[n]; ok {
		return p, nil
	}

	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = errcode.Generation("decode", fmt.Errorf("page %d: %v", n, r))
		}
	}()
	p := d.reader.Page(n)
	if p.V.IsNull() {
		return nil, errcode.Generation("decode", fmt.Errorf("page %d missing", n))
	}
	page = interpretPage(p, n)
	d.pages[n] = page
	return page, nil
}

// Close 释放解析状态，之后的 Page 调用返回 ErrDocumentClosed。
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.reader = nil
	d.pages = nil
	return nil
}

// Closed 报告文档是否已释放。
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// IsClosed 判断错误是否由文档已释放导致。
func IsClosed(err error) bool {
	return errors.Is(err, ErrDocumentClosed)
}
