package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/pdf"
	"civy/internal/raster"
	"civy/internal/resume"
)

const defaultPNGWidth = 794

var renderCmd = &cobra.Command{
	Use:       "render <pdf|png|html>",
	Short:     "把简历 JSON 渲染为 PDF、首页 PNG 或静态 HTML",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"pdf", "png", "html"},
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		lang, _ := cmd.Flags().GetString("lang")
		photoPath, _ := cmd.Flags().GetString("photo")
		width, _ := cmd.Flags().GetInt("width")
		fontPath, _ := cmd.Flags().GetString("font")

		raw, err := readInput(cmd, in)
		if err != nil {
			return err
		}
		r, err := resume.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse resume: %w", err)
		}
		if err := r.Validate(); err != nil {
			return err
		}

		fallback, err := pdf.LoadFallbackFont(fontPath)
		if err != nil {
			return err
		}
		catalog, err := i18n.Load()
		if err != nil {
			return fmt.Errorf("load locales: %w", err)
		}
		labels := catalog.Labels(lang)
		gen := pdf.NewGenerator(nil, pdf.WithFallbackFont(fallback))
		if args[0] != "html" && !gen.CanRender(append(labels.Texts(), r.Personal.FullName, r.Personal.JobTitle)...) {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: some characters have no glyph, pass --font with a TrueType font that covers them")
		}

		var photo []byte
		if photoPath != "" {
			if photo, err = os.ReadFile(photoPath); err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
		}

		job := renderJob{resume: r, labels: labels, lang: lang, photo: photo, width: width, fallback: fallback}
		data, err := job.run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd, out, data)
	},
}

type renderJob struct {
	resume   resume.Resume
	labels   pdf.Labels
	lang     string
	photo    []byte
	width    int
	fallback *pdf.FallbackFont
}

func (j renderJob) run(ctx context.Context, format string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch format {
	case "html":
		opts := htmlpreview.Options{Labels: j.labels, Lang: j.lang}
		if j.photo != nil {
			opts.PhotoURL = htmlpreview.InlineImage(j.photo)
		}
		rd, err := htmlpreview.NewRenderer()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := rd.Execute(&buf, j.resume, opts); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "pdf", "png":
		art, err := pdf.NewGenerator(nil, pdf.WithFallbackFont(j.fallback)).Generate(ctx, pdf.Input{Resume: j.resume, Labels: j.labels, Photo: j.photo})
		if err != nil {
			return nil, err
		}
		if format == "pdf" {
			return art.Bytes, nil
		}
		return firstPagePNG(ctx, art.Bytes, j.width, j.fallback)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// firstPagePNG 解码 PDF 并按目标宽度栅格化第一页。
func firstPagePNG(ctx context.Context, data []byte, width int, fallback *pdf.FallbackFont) ([]byte, error) {
	if width <= 0 {
		width = defaultPNGWidth
	}
	doc, err := pdf.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	page, err := doc.Page(ctx, 1)
	if err != nil {
		return nil, err
	}
	ras, err := raster.New(raster.WithFallbackFont(fallback))
	if err != nil {
		return nil, err
	}
	img, err := ras.Render(ctx, page, float64(width)/page.Width)
	if err != nil {
		return nil, err
	}
	return raster.EncodePNG(img)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), path)
	return nil
}

func init() {
	renderCmd.Flags().StringP("in", "i", "-", "简历 JSON 文件，- 表示 stdin")
	renderCmd.Flags().StringP("out", "o", "-", "输出文件，- 表示 stdout")
	renderCmd.Flags().String("lang", "en", "标签语言：en、zh、de")
	renderCmd.Flags().String("photo", "", "可选头像文件（png/jpeg）")
	renderCmd.Flags().Int("width", defaultPNGWidth, "PNG 输出宽度（像素）")
	renderCmd.Flags().String("font", "", "覆盖中日韩等文字的 TrueType 回退字体")
	rootCmd.AddCommand(renderCmd)
}
