// Package i18n 提供简历文案（Present/Phone/...）的多语言目录。
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"

	"civy/internal/pdf"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog 保存已加载的语言文案，只读，可并发使用。
type Catalog struct {
	tags    []language.Tag
	labels  map[string]pdf.Labels
	matcher language.Matcher
}

// supported 的第一个元素为回退语言。
var supported = []language.Tag{language.English, language.German, language.Chinese}

// Load 读取内嵌的 YAML 目录；缺失的键以英文补齐。
func Load() (*Catalog, error) {
	c := &Catalog{tags: supported, labels: make(map[string]pdf.Labels, len(supported))}

	for _, tag := range supported {
		base, _ := tag.Base()
		name := path.Join("locales", base.String()+".yaml")
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", name, err)
		}
		var l pdf.Labels
		if err := yaml.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("decode locale %s: %w", name, err)
		}
		c.labels[base.String()] = l
	}

	en := c.labels["en"].WithDefaults()
	for k, l := range c.labels {
		c.labels[k] = merge(l, en)
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// MustLoad 在内嵌目录损坏时 panic。
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Negotiate 根据 ?lang= 与 Accept-Language 选择语言，返回语言代码与文案。
// 无法匹配时回退到英文。
func (c *Catalog) Negotiate(query, acceptLanguage string) (string, pdf.Labels) {
	_, idx := language.MatchStrings(c.matcher, strings.TrimSpace(query), acceptLanguage)
	base, _ := c.tags[idx].Base()
	return base.String(), c.labels[base.String()]
}

// Labels 返回指定语言代码的文案，未知语言返回英文。
func (c *Catalog) Labels(lang string) pdf.Labels {
	_, l := c.Negotiate(lang, "")
	return l
}

// Restrict 返回只协商 keep 接受的语言的目录，例如去掉字体无法绘制的语言。
// 回退语言总是保留。
func (c *Catalog) Restrict(keep func(lang string, l pdf.Labels) bool) *Catalog {
	tags := []language.Tag{c.tags[0]}
	for _, tag := range c.tags[1:] {
		base, _ := tag.Base()
		if keep(base.String(), c.labels[base.String()]) {
			tags = append(tags, tag)
		}
	}
	return &Catalog{tags: tags, labels: c.labels, matcher: language.NewMatcher(tags)}
}

// Languages 返回可协商的语言代码，回退语言在前。
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.tags))
	for _, tag := range c.tags {
		base, _ := tag.Base()
		out = append(out, base.String())
	}
	return out
}

func merge(l, fallback pdf.Labels) pdf.Labels {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return pdf.Labels{
		Present:  pick(l.Present, fallback.Present),
		Phone:    pick(l.Phone, fallback.Phone),
		Email:    pick(l.Email, fallback.Email),
		Image:    pick(l.Image, fallback.Image),
		Location: pick(l.Location, fallback.Location),
		Website:  pick(l.Website, fallback.Website),
	}
}
