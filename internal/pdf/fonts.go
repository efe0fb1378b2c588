package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// 内嵌字体族。PDF 中的 BaseFont 形如 "utf8civysansB"。
const (
	FamilySans     = "civysans"
	FamilyMono     = "civymono"
	FamilyFallback = "civyfallback"
)

var embedded = map[string][]byte{
	FamilySans + string(StyleRegular):    goregular.TTF,
	FamilySans + string(StyleBold):       gobold.TTF,
	FamilySans + string(StyleItalic):     goitalic.TTF,
	FamilySans + string(StyleBoldItalic): gobolditalic.TTF,
	FamilyMono + string(StyleRegular):    gomono.TTF,
	FamilyMono + string(StyleBold):       gomonobold.TTF,
	FamilyMono + string(StyleItalic):     gomonoitalic.TTF,
	FamilyMono + string(StyleBoldItalic): gomonobolditalic.TTF,
}

// embeddedFamily 将逻辑字体族映射为内嵌字体族；Go 字体没有衬线体，衬线体使用无衬线字形。
func embeddedFamily(logical string) string {
	if logical == "Courier" {
		return FamilyMono
	}
	return FamilySans
}

var (
	goCoverageOnce sync.Once
	goCoverage     *sfnt.Font
)

// goCovers 报告 Go 字体是否包含 s 的全部字形。Go 的各个字重覆盖同一字符集。
func goCovers(s string) bool {
	goCoverageOnce.Do(func() {
		goCoverage, _ = sfnt.Parse(goregular.TTF)
	})
	return covers(goCoverage, s)
}

func covers(f *sfnt.Font, s string) bool {
	if f == nil {
		return false
	}
	var buf sfnt.Buffer
	for _, r := range s {
		if r < 0x20 {
			continue
		}
		if gi, err := f.GlyphIndex(&buf, r); err != nil || gi == 0 {
			return false
		}
	}
	return true
}

// bmpOnly 将 BMP 之外的字符与非法 UTF-8 替换为 U+FFFD，fpdf 的 UTF-8 输出只支持双字节编码。
func bmpOnly(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return '\uFFFD'
		}
		return r
	}, s)
}

var ErrFallbackFont = errors.New("unusable fallback font")

// FallbackFont 是 Go 字体未覆盖的文字（如中日韩文字）使用的 TrueType 字体。
// 需为 glyf 轮廓的 .ttf，CFF 轮廓的 .otf 无法嵌入。
type FallbackFont struct {
	TTF  []byte
	font *sfnt.Font
}

// ParseFallbackFont 校验字体能被解析并嵌入 PDF。
func ParseFallbackFont(ttf []byte) (*FallbackFont, error) {
	f, err := sfnt.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallbackFont, err)
	}
	trial := fpdf.New("P", "pt", "A4", "")
	trial.AddUTF8FontFromBytes(FamilyFallback, "", ttf)
	trial.SetFont(FamilyFallback, "", 10)
	if trial.Err() {
		return nil, fmt.Errorf("%w: %v", ErrFallbackFont, trial.Error())
	}
	return &FallbackFont{TTF: ttf, font: f}, nil
}

// LoadFallbackFont 读取字体文件；path 为空时返回 nil。
func LoadFallbackFont(path string) (*FallbackFont, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback font: %w", err)
	}
	return ParseFallbackFont(data)
}

// Covers 报告回退字体是否包含 s 的全部字形。
func (f *FallbackFont) Covers(s string) bool {
	return f != nil && covers(f.font, s)
}

// ParseBaseFont 从 PDF BaseFont 名称还原内嵌字体族与样式，也接受核心字体名。
func ParseBaseFont(base string) (family string, style FontStyle) {
	if i := strings.IndexByte(base, '+'); i == 6 {
		base = base[i+1:]
	}
	name := strings.TrimPrefix(base, "utf8")
	for _, fam := range []string{FamilyFallback, FamilyMono, FamilySans} {
		if rest, ok := strings.CutPrefix(name, fam); ok {
			return fam, FontStyle(strings.ToUpper(rest))
		}
	}

	family = FamilySans
	if strings.Contains(base, "Courier") {
		family = FamilyMono
	}
	bold := strings.Contains(base, "Bold")
	italic := strings.Contains(base, "Oblique") || strings.Contains(base, "Italic")
	switch {
	case bold && italic:
		style = StyleBoldItalic
	case bold:
		style = StyleBold
	case italic:
		style = StyleItalic
	}
	return family, style
}
