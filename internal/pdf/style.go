package pdf

import (
	"strconv"
	"strings"
)

// RGB 是 0-255 的颜色分量。
type RGB struct {
	R, G, B uint8
}

// ParseHex 解析 #rrggbb / #rgb，失败时返回 fallback。
func ParseHex(s string, fallback RGB) RGB {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Hex 返回 #rrggbb 形式。
func (c RGB) Hex() string {
	const digits = "0123456789abcdef"
	b := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint8{c.R, c.G, c.B} {
		b[1+i*2] = digits[v>>4]
		b[2+i*2] = digits[v&0x0f]
	}
	return string(b)
}

// FontStyle 对应 fpdf 的样式字符串。
type FontStyle string

const (
	StyleRegular    FontStyle = ""
	StyleBold       FontStyle = "B"
	StyleItalic     FontStyle = "I"
	StyleBoldItalic FontStyle = "BI"
)

// Font 描述一段文字使用的字体。
type Font struct {
	Family string
	Style  FontStyle
	Size   float64
}

// FontFamily 将简历的字体设置映射为 PDF 核心字体。
func FontFamily(family string) string {
	switch strings.ToLower(strings.TrimSpace(family)) {
	case "serif", "merriweather", "lora", "georgia", "playfair", "times":
		return "Times"
	case "mono", "monospace", "jetbrains-mono", "fira-code", "courier":
		return "Courier"
	default:
		return "Helvetica"
	}
}

// BaseFontSize 将字号档位映射为正文字号（pt）。
func BaseFontSize(size string) float64 {
	switch strings.ToLower(strings.TrimSpace(size)) {
	case "sm", "small":
		return 9
	case "lg", "large":
		return 11
	default:
		return 10
	}
}

// Labels 是调用方提供的本地化文案。
type Labels struct {
	Present  string `yaml:"present" json:"present"`
	Phone    string `yaml:"phone" json:"phone"`
	Email    string `yaml:"email" json:"email"`
	Image    string `yaml:"image" json:"image"`
	Location string `yaml:"location" json:"location"`
	Website  string `yaml:"website" json:"website"`
}

// Texts 返回全部文案，用于检查字体覆盖。
func (l Labels) Texts() []string {
	return []string{l.Present, l.Phone, l.Email, l.Image, l.Location, l.Website}
}

// DefaultLabels 是英文文案。
func DefaultLabels() Labels {
	return Labels{
		Present:  "Present",
		Phone:    "Phone",
		Email:    "Email",
		Image:    "Image",
		Location: "Location",
		Website:  "Website",
	}
}

// WithDefaults 用英文补齐缺失的文案。
func (l Labels) WithDefaults() Labels {
	d := DefaultLabels()
	if l.Present == "" {
		l.Present = d.Present
	}
	if l.Phone == "" {
		l.Phone = d.Phone
	}
	if l.Email == "" {
		l.Email = d.Email
	}
	if l.Image == "" {
		l.Image = d.Image
	}
	if l.Location == "" {
		l.Location = d.Location
	}
	if l.Website == "" {
		l.Website = d.Website
	}
	return l
}
