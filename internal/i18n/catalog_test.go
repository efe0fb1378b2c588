package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civy/internal/pdf"
)

func TestNegotiate(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	cases := []struct {
		name, query, accept string
		lang, present       string
	}{
		{"query wins", "de", "zh-CN,zh;q=0.9", "de", "Heute"},
		{"accept header", "", "zh-CN,zh;q=0.9,en;q=0.5", "zh", "至今"},
		{"regional variant", "de-AT", "", "de", "Heute"},
		{"unknown falls back", "fr", "", "en", "Present"},
		{"empty", "", "", "en", "Present"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lang, labels := c.Negotiate(tc.query, tc.accept)
			assert.Equal(t, tc.lang, lang)
			assert.Equal(t, tc.present, labels.Present)
		})
	}
}

func TestMissingKeysFallBackToEnglish(t *testing.T) {
	c := MustLoad()
	zh := c.Labels("zh")
	assert.Equal(t, "电话", zh.Phone)
	assert.Equal(t, "Website", zh.Website)

	de := c.Labels("de")
	assert.Equal(t, "E-Mail", de.Email)
}

func TestRestrictDropsLanguages(t *testing.T) {
	c := MustLoad().Restrict(func(lang string, _ pdf.Labels) bool { return lang != "zh" })
	assert.Equal(t, []string{"en", "de"}, c.Languages())

	lang, labels := c.Negotiate("", "zh-CN,zh;q=0.9")
	assert.Equal(t, "en", lang)
	assert.Equal(t, "Present", labels.Present)
	assert.Equal(t, "Heute", c.Labels("de").Present)

	all := MustLoad().Restrict(func(string, pdf.Labels) bool { return true })
	assert.Equal(t, []string{"en", "de", "zh"}, all.Languages())
}
