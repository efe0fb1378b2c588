package api

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/pdf"
	"civy/internal/resume"
	"civy/internal/storage"
)

// Generator 生成 PDF，由 *pdf.Generator 实现。
type Generator interface {
	Generate(ctx context.Context, in pdf.Input) (*pdf.Artifact, error)
}

// documents 汇总 PDF 与 HTML 两种输出，负责语言协商与头像读取。
type documents struct {
	generator Generator
	html      *htmlpreview.Renderer
	catalog   *i18n.Catalog
	objects   storage.ObjectReader
}

type locale struct {
	lang   string
	labels pdf.Labels
}

func (d *documents) negotiate(c *gin.Context) locale {
	lang, labels := d.catalog.Negotiate(c.Query("lang"), c.GetHeader("Accept-Language"))
	return locale{lang: lang, labels: labels}
}

// photo 读取 owner 的头像；失败时记录告警并返回 nil，文档照常生成。
func (d *documents) photo(ctx context.Context, log *slog.Logger, ownerID uint, r resume.Resume) []byte {
	key := r.Personal.Photo
	if key == "" || d.objects == nil {
		return nil
	}
	data, err := storage.PhotoLoader(d.objects, ownerID)(ctx, key)
	if err != nil {
		log.Warn("photo unavailable", slog.String("object_key", key), slog.Any("error", err))
		return nil
	}
	return data
}

func (d *documents) pdf(ctx context.Context, log *slog.Logger, ownerID uint, r resume.Resume, loc locale) (*pdf.Artifact, error) {
	return d.generator.Generate(ctx, pdf.Input{
		Resume: r,
		Labels: loc.labels,
		Photo:  d.photo(ctx, log, ownerID, r),
	})
}

func (d *documents) page(ctx context.Context, log *slog.Logger, ownerID uint, r resume.Resume, loc locale) ([]byte, error) {
	opts := htmlpreview.Options{Labels: loc.labels, Lang: loc.lang}
	if photo := d.photo(ctx, log, ownerID, r); photo != nil {
		opts.PhotoURL = htmlpreview.InlineImage(photo)
	}
	var buf bytes.Buffer
	if err := d.html.Execute(&buf, r, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
