package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options 控制截图视口。
type Options struct {
	Width   int
	Height  int
	Timeout time.Duration
	// BrowserBin 为空时自动查找本机 Chromium。
	BrowserBin string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 794
	}
	if o.Height <= 0 {
		o.Height = 1123
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Chromium 使用 go-rod 在无头浏览器中渲染 HTML 并截取首屏 PNG。
type Chromium struct {
	opts Options
}

func NewChromium(opts Options) *Chromium {
	return &Chromium{opts: opts.withDefaults()}
}

// Screenshot 渲染 htmlContent 并返回视口 PNG。
func (c *Chromium) Screenshot(ctx context.Context, htmlContent string) ([]byte, error) {
	return c.capture(ctx, htmlContent, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// ScreenshotJPEG 与 Screenshot 相同，但输出指定质量的 JPEG，用于缩略图。
func (c *Chromium) ScreenshotJPEG(ctx context.Context, htmlContent string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return c.capture(ctx, htmlContent, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
}

func (c *Chromium) capture(ctx context.Context, htmlContent string, req *proto.PageCaptureScreenshot) ([]byte, error) {
	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if c.opts.BrowserBin != "" {
		launch = launch.Bin(c.opts.BrowserBin)
	} else if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(c.opts.Timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(c.opts.Timeout)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.opts.Width,
		Height:            c.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	data, err := page.Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}
