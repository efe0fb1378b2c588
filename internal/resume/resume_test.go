package resume

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civy/internal/errcode"
)

const sampleJSON = `{
  "metadata": {"template": "modern", "typography": {"fontFamily": "inter", "fontSize": "md"},
    "colors": {"background": "#ffffff", "text": "#111111", "accents": ["#ff0000"]}},
  "personal": {"fullName": "Ada Lovelace", "jobTitle": "Analyst", "details": [
    {"id": "d1", "type": "email", "value": "ada@example.com"},
    {"id": "d2", "type": "phone", "visible": false, "value": "+44 1"}
  ]},
  "sections": [
    {"id": "s1", "title": "Experience", "content": {"layout": "stacked", "items": [
      {"id": "i1", "type": "heading", "value": "Engine notes"},
      {"id": "i2", "type": "date-range", "value": {"startDate": "1842", "endDate": ""}},
      {"id": "i3", "type": "link", "value": {"label": "Notes", "url": "https://example.com"}},
      {"id": "i4", "type": "rating", "value": {"label": "Math", "score": 5, "max": 5, "display": "dots"}},
      {"id": "i5", "type": "separator"}
    ]}},
    {"id": "s2", "title": "Hidden", "visible": false, "content": {"layout": "grid", "columns": 2, "items": []}}
  ]
}`

func TestParseDecodesTaggedItems(t *testing.T) {
	r, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	require.Len(t, r.Sections, 2)
	items := r.Sections[0].Content.Items
	require.Len(t, items, 5)

	assert.Equal(t, "Engine notes", items[0].Text)
	assert.Equal(t, DateRange{StartDate: "1842"}, items[1].DateRange)
	assert.Equal(t, "https://example.com", items[2].Link.URL)
	assert.Equal(t, Rating{Label: "Math", Score: 5, Max: 5, Display: DisplayDots}, items[3].Rating)
	assert.Equal(t, TypeSeparator, items[4].Type)

	assert.True(t, r.Sections[0].Visible, "missing visible defaults to true")
	assert.False(t, r.Sections[1].Visible)
	assert.False(t, r.Personal.Details[1].Visible)
}

func TestEncodeKeepsValueShape(t *testing.T) {
	r, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	data, err := Encode(r)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	sections := generic["sections"].([]any)
	first := sections[0].(map[string]any)["content"].(map[string]any)["items"].([]any)
	assert.Equal(t, "Engine notes", first[0].(map[string]any)["value"])
	assert.Equal(t, "1842", first[1].(map[string]any)["value"].(map[string]any)["startDate"])
	_, hasValue := first[4].(map[string]any)["value"]
	assert.False(t, hasValue)
}

func TestVisibleKeepsOrderAndModel(t *testing.T) {
	r, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	v := r.Visible()
	require.Len(t, v.Sections, 1)
	assert.Equal(t, "s1", v.Sections[0].ID)
	require.Len(t, v.Personal.Details, 1)
	assert.Equal(t, "d1", v.Personal.Details[0].ID)

	// 原模型不受影响
	assert.Len(t, r.Sections, 2)
	assert.Len(t, r.Personal.Details, 2)
}

func TestCloneIsDeep(t *testing.T) {
	r, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	c := r.Clone()
	c.Sections[0].Content.Items[0].Text = "changed"
	c.Metadata.Colors.Accents[0] = "#000000"

	assert.Equal(t, "Engine notes", r.Sections[0].Content.Items[0].Text)
	assert.Equal(t, "#ff0000", r.Metadata.Colors.Accents[0])
}

func TestValidate(t *testing.T) {
	r := Default()
	r.Personal.Details = []Item{{ID: "e", Type: TypeEmail, Visible: true, Text: "not-an-email"}}
	r.Sections = []Section{{
		ID: "s", Visible: true,
		Content: SectionContent{Layout: LayoutGrid, Columns: 9, Items: []Item{
			{ID: "r", Type: TypeRating, Visible: true, Rating: Rating{Score: 7, Max: 5, Display: DisplayBar}},
			{ID: "x", Type: "mystery", Visible: true},
		}},
	}}

	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errcode.IsValidation(err))

	var verr *errcode.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{
		"personal.details[0].value",
		"sections[0].content.columns",
		"sections[0].content.items[0].value.score",
		"sections[0].content.items[1].type",
	}, fields)

	assert.NoError(t, Default().Validate())
}

func TestValidateGridColumns(t *testing.T) {
	for _, tc := range []struct {
		columns int
		valid   bool
	}{
		{0, true},
		{1, true},
		{MaxGridColumns, true},
		{-1, false},
		{MaxGridColumns + 1, false},
	} {
		r := Default()
		r.Sections = []Section{{ID: "s", Visible: true, Content: SectionContent{Layout: LayoutGrid, Columns: tc.columns}}}
		err := r.Validate()
		if tc.valid {
			assert.NoError(t, err, "columns=%d", tc.columns)
		} else {
			assert.True(t, errcode.IsValidation(err), "columns=%d", tc.columns)
		}
	}
	assert.Equal(t, DefaultGridColumns, SectionContent{}.GridColumns())
	assert.Equal(t, 2, SectionContent{Columns: 2}.GridColumns())
}
