package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"civy/internal/errcode"
	"civy/internal/metrics"
	"civy/internal/pdf"
	"civy/internal/resume"
)

// State 是渲染周期状态。
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateDecoding   State = "decoding"
	StateRendering  State = "rendering"
	StateRendered   State = "rendered"
	StateError      State = "error"
)

const (
	DefaultPadding   = 32
	DefaultThreshold = 5
	DefaultDebounce  = 50 * time.Millisecond
	DefaultWidth     = 794
	// DefaultMaxWidth 保证 A4 页面按宽度缩放后仍在栅格化尺寸上限之内。
	DefaultMaxWidth = 4096
)

type Generator interface {
	Generate(ctx context.Context, in pdf.Input) (*pdf.Artifact, error)
}

// Document 是已解码、可逐页读取的文档句柄。
type Document interface {
	NumPages() int
	Page(ctx context.Context, n int) (*pdf.Page, error)
	Close() error
}

type Decoder interface {
	Decode(ctx context.Context, data []byte) (Document, error)
}

// DecoderFunc 将普通函数适配为 Decoder。
type DecoderFunc func(ctx context.Context, data []byte) (Document, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (Document, error) { return f(ctx, data) }

// PDFDecoder 使用 pdf.Decode 解码。
func PDFDecoder() Decoder {
	return DecoderFunc(func(ctx context.Context, data []byte) (Document, error) {
		doc, err := pdf.Decode(ctx, data)
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
}

type Rasterizer interface {
	Render(ctx context.Context, page *pdf.Page, scale float64) (*image.RGBA, error)
}

// Frame 是一次成功渲染的画面。
type Frame struct {
	Image     *image.RGBA
	Width     int
	Height    int
	Scale     float64
	PageCount int
	Render    uint64
}

// Surface 接收画面。Present 在管线锁内调用，必须快速返回且不得回调 Pipeline。
type Surface interface {
	Present(f Frame)
}

// Status 是对外可见的管线状态。
type Status struct {
	State     State
	Err       error
	PageCount int
	Width     int
}

// PhotoLoader 按对象 key 取回头像字节。
type PhotoLoader func(ctx context.Context, key string) ([]byte, error)

type Options struct {
	// Width 是首次渲染使用的容器宽度（像素）。
	Width int
	// MaxWidth 限制容器宽度，超出的 Resize 按上限处理。
	MaxWidth int
	// Padding 为 0 时使用默认值，负数表示不留边距。
	Padding   int
	Threshold int
	Debounce  time.Duration
	Labels    pdf.Labels
	Photos    PhotoLoader
	OnStatus  func(Status)
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Padding < 0 {
		o.Padding = 0
	} else if o.Padding == 0 {
		o.Padding = DefaultPadding
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	o.Width = min(max(o.Width, o.Padding+1), o.MaxWidth)
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pipeline 驱动 生成 → 解码 → 栅格化。
// 它独占一个 Surface 与至多一个已解码文档；新的 Update 会取代旧周期，
// 被取代的结果在完成时丢弃并释放。
type Pipeline struct {
	gen     Generator
	dec     Decoder
	ras     Rasterizer
	surface Surface
	opts    Options

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	rest         State
	err          error
	closed       bool
	cycleSeq     uint64
	cycleCancel  context.CancelFunc
	renderSeq    uint64
	renderCancel context.CancelFunc
	doc          Document
	pageCount    int
	width        int
	pendingWidth int
	resizeSeq    uint64
	timer        *time.Timer
}

func New(gen Generator, dec Decoder, ras Rasterizer, surface Surface, opts Options) *Pipeline {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		gen:     gen,
		dec:     dec,
		ras:     ras,
		surface: surface,
		opts:    opts,
		base:    base,
		cancel:  cancel,
		state:   StateIdle,
		rest:    StateIdle,
		width:   opts.Width,
	}
}

// Status 返回当前状态快照。
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pipeline) statusLocked() Status {
	return Status{State: p.state, Err: p.err, PageCount: p.pageCount, Width: p.width}
}

// setStateLocked 更新状态并返回需要在锁外发送的通知。
// idle、rendered、error 是静止状态，渲染被放弃时回到最近的静止状态。
func (p *Pipeline) setStateLocked(s State, err error) func() {
	p.state, p.err = s, err
	switch s {
	case StateIdle, StateRendered, StateError:
		p.rest = s
	}
	st := p.statusLocked()
	cb := p.opts.OnStatus
	if cb == nil {
		return func() {}
	}
	return func() { cb(st) }
}

// Update 以新的简历快照开始完整周期，取消进行中的周期与渲染。
func (p *Pipeline) Update(r resume.Resume) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.cycleCancel != nil {
		p.cycleCancel()
	}
	if p.renderCancel != nil {
		p.renderCancel()
		p.renderCancel = nil
	}
	// 旧文档上的渲染即使忽略取消也不能再上屏。
	p.renderSeq++
	p.cycleSeq++
	seq := p.cycleSeq
	ctx, cancel := context.WithCancel(p.base)
	p.cycleCancel = cancel
	notify := p.setStateLocked(StateGenerating, nil)
	p.wg.Add(1)
	p.mu.Unlock()

	notify()
	go p.cycle(ctx, seq, r.Clone())
}

func (p *Pipeline) cycle(ctx context.Context, seq uint64, r resume.Resume) {
	defer p.wg.Done()

	in := pdf.Input{Resume: r, Labels: p.opts.Labels}
	if key := r.Personal.Photo; key != "" && p.opts.Photos != nil {
		photo, err := p.opts.Photos(ctx, key)
		if err != nil {
			p.opts.Logger.Warn("preview photo unavailable", "key", key, "error", err)
		} else {
			in.Photo = photo
		}
	}

	start := time.Now()
	art, err := p.gen.Generate(ctx, in)
	if err != nil {
		p.fail(seq, "generate", err)
		return
	}
	metrics.ObservePreviewGeneration(time.Since(start))

	if !p.advance(seq, StateDecoding) {
		return
	}
	doc, err := p.dec.Decode(ctx, art.Bytes)
	if err != nil {
		p.fail(seq, "decode", err)
		return
	}

	p.mu.Lock()
	if p.closed || seq != p.cycleSeq {
		p.mu.Unlock()
		_ = doc.Close()
		return
	}
	old := p.doc
	p.doc = doc
	p.pageCount = doc.NumPages()
	p.cycleCancel = nil
	width := p.width
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	p.startRender(width)
}

// advance 在周期仍为最新时推进状态。
func (p *Pipeline) advance(seq uint64, s State) bool {
	p.mu.Lock()
	if p.closed || seq != p.cycleSeq {
		p.mu.Unlock()
		return false
	}
	notify := p.setStateLocked(s, nil)
	p.mu.Unlock()
	notify()
	return true
}

// fail 将生成/解码失败转为 error 状态；过期周期静默忽略。
func (p *Pipeline) fail(seq uint64, stage string, err error) {
	p.mu.Lock()
	if p.closed || seq != p.cycleSeq {
		p.mu.Unlock()
		return
	}
	if errors.Is(err, errcode.ErrCancelled) {
		p.cycleCancel = nil
		notify := p.setStateLocked(p.rest, p.err)
		p.mu.Unlock()
		notify()
		return
	}
	if !errors.Is(err, errcode.ErrGenerationFailed) {
		err = errcode.Generation(stage, err)
	}
	p.cycleCancel = nil
	notify := p.setStateLocked(StateError, err)
	p.mu.Unlock()

	metrics.PreviewFailure(stage)
	p.opts.Logger.Error("preview cycle failed", "stage", stage, "error", err)
	notify()
}

// Resize 在去抖后以新宽度重新栅格化当前文档，不重新生成。
// 与上次宽度相差小于阈值的变化被忽略；宽度被限制在 [Padding+1, MaxWidth]。
func (p *Pipeline) Resize(width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || width <= 0 {
		return
	}
	width = p.clampWidth(width)
	if p.doc == nil && p.timer == nil {
		p.width = width
		return
	}
	p.resizeSeq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if abs(width-p.width) < p.opts.Threshold {
		return
	}
	p.pendingWidth = width
	seq := p.resizeSeq
	p.timer = time.AfterFunc(p.opts.Debounce, func() { p.fireResize(seq) })
}

func (p *Pipeline) fireResize(seq uint64) {
	p.mu.Lock()
	if p.closed || seq != p.resizeSeq {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	width := p.pendingWidth
	// 周期进行中只记录宽度，周期完成后按最新宽度渲染新文档。
	if p.doc == nil || p.cycleCancel != nil {
		p.width = width
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.startRender(width)
}

func (p *Pipeline) clampWidth(width int) int {
	return min(max(width, p.opts.Padding+1), p.opts.MaxWidth)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// startRender 取消上一次渲染并异步开始新的渲染。
// 生成/解码进行中或处于 error 状态时不渲染。
func (p *Pipeline) startRender(width int) {
	p.mu.Lock()
	if p.closed || p.doc == nil || p.cycleCancel != nil || p.state == StateError {
		p.mu.Unlock()
		return
	}
	if p.renderCancel != nil {
		p.renderCancel()
	}
	p.renderSeq++
	seq := p.renderSeq
	ctx, cancel := context.WithCancel(p.base)
	p.renderCancel = cancel
	p.width = width
	doc, pages := p.doc, p.pageCount
	notify := p.setStateLocked(StateRendering, nil)
	p.wg.Add(1)
	p.mu.Unlock()

	notify()
	go p.render(ctx, seq, doc, pages, width)
}

func (p *Pipeline) render(ctx context.Context, seq uint64, doc Document, pages, width int) {
	defer p.wg.Done()

	page, err := doc.Page(ctx, 1)
	if err != nil {
		p.renderFailed(seq, "decode", err)
		return
	}
	avail := width - p.opts.Padding
	if avail < 1 || page.Width <= 0 {
		p.renderFailed(seq, "render", fmt.Errorf("page width %.1fpt at %dpx", page.Width, width))
		return
	}
	scale := float64(avail) / page.Width
	img, err := p.ras.Render(ctx, page, scale)
	if err != nil {
		p.renderFailed(seq, "render", err)
		return
	}

	p.mu.Lock()
	if p.closed || seq != p.renderSeq {
		p.mu.Unlock()
		metrics.PreviewRender(metrics.RenderCancelled)
		return
	}
	b := img.Bounds()
	p.surface.Present(Frame{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Scale:     scale,
		PageCount: pages,
		Render:    seq,
	})
	p.renderCancel = nil
	notify := p.setStateLocked(StateRendered, nil)
	p.mu.Unlock()

	metrics.PreviewRender(metrics.RenderPresented)
	notify()
}

// renderFailed 放弃本次渲染并回到最近的静止状态，保留上一帧；
// 渲染失败不会让管线进入 error，之后的 Resize 仍可恢复。
func (p *Pipeline) renderFailed(seq uint64, stage string, err error) {
	p.mu.Lock()
	if p.closed || seq != p.renderSeq {
		p.mu.Unlock()
		metrics.PreviewRender(metrics.RenderCancelled)
		return
	}
	p.renderCancel = nil
	if errors.Is(err, errcode.ErrCancelled) {
		notify := p.setStateLocked(p.rest, p.err)
		p.mu.Unlock()
		metrics.PreviewRender(metrics.RenderCancelled)
		notify()
		return
	}
	if !errors.Is(err, errcode.ErrGenerationFailed) {
		err = errcode.Generation(stage, err)
	}
	rest := p.rest
	if rest == StateError {
		rest = StateIdle
	}
	notify := p.setStateLocked(rest, err)
	p.mu.Unlock()

	metrics.PreviewRender(metrics.RenderFailed)
	p.opts.Logger.Error("preview render failed", "stage", stage, "error", err)
	notify()
}

// Close 取消全部工作、停止去抖计时器并释放文档。可重复调用。
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	doc := p.doc
	p.doc = nil
	p.cycleCancel, p.renderCancel = nil, nil
	p.mu.Unlock()

	if doc != nil {
		_ = doc.Close()
	}
}

// Wait 等待所有已启动的后台工作结束。
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
