package editor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civy/internal/errcode"
	"civy/internal/pdf"
	"civy/internal/resume"
)

func boolPtr(v bool) *bool { return &v }

func seed() resume.Resume {
	r := resume.Default()
	r.Personal.FullName = "Grace Hopper"
	r.Sections = []resume.Section{
		{ID: "a", Title: "A", Visible: true, Content: resume.SectionContent{Layout: resume.LayoutStacked, Items: []resume.Item{
			{ID: "a1", Type: resume.TypeText, Visible: true, Text: "one"},
			{ID: "a2", Type: resume.TypeText, Visible: true, Text: "two"},
		}}},
		{ID: "b", Title: "B", Visible: true, Content: resume.SectionContent{Layout: resume.LayoutInline}},
	}
	return r
}

func TestApplyNotifiesWithSnapshot(t *testing.T) {
	s := NewStore(seed())

	var got []resume.Resume
	unsubscribe := s.Subscribe(func(r resume.Resume) { got = append(got, r) })

	title := "Renamed"
	require.NoError(t, s.Apply(Op{Kind: OpUpdateSection, SectionID: "a", Title: &title}))
	require.Len(t, got, 1)
	assert.Equal(t, "Renamed", got[0].Sections[0].Title)

	// 修改快照不影响 Store
	got[0].Sections[0].Title = "mutated"
	assert.Equal(t, "Renamed", s.Snapshot().Sections[0].Title)

	unsubscribe()
	require.NoError(t, s.Apply(Op{Kind: OpRemoveSection, SectionID: "b"}))
	assert.Len(t, got, 1)
	assert.Len(t, s.Snapshot().Sections, 1)
}

func render(t *testing.T, r resume.Resume) []byte {
	t.Helper()
	art, err := pdf.NewGenerator(nil).Generate(context.Background(), pdf.Input{
		Resume:     r,
		ModifiedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return art.Bytes
}

func TestVisibilityRoundTrip(t *testing.T) {
	s := NewStore(seed())
	before := s.Snapshot()
	original := render(t, before)

	require.NoError(t, s.Apply(Op{Kind: OpSetSectionVisible, SectionID: "a", Visible: boolPtr(false)}))
	assert.Len(t, s.Snapshot().Visible().Sections, 1)
	assert.NotEqual(t, original, render(t, s.Snapshot()), "hidden section leaves the document")
	require.NoError(t, s.Apply(Op{Kind: OpSetSectionVisible, SectionID: "a", Visible: boolPtr(true)}))

	require.NoError(t, s.Apply(Op{Kind: OpSetItemVisible, SectionID: "a", ItemID: "a2", Visible: boolPtr(false)}))
	assert.NotEqual(t, original, render(t, s.Snapshot()))
	require.NoError(t, s.Apply(Op{Kind: OpSetItemVisible, SectionID: "a", ItemID: "a2", Visible: boolPtr(true)}))

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, original, render(t, s.Snapshot()), "showing again restores the original output")
}

func TestApplyRejectsInvalidResult(t *testing.T) {
	s := NewStore(seed())
	calls := 0
	s.Subscribe(func(resume.Resume) { calls++ })

	err := s.Apply(Op{Kind: OpAddItem, SectionID: "a", Item: &resume.Item{
		ID: "r1", Type: resume.TypeRating, Visible: true,
		Rating: resume.Rating{Label: "Go", Score: 3, Max: 2_000_000, Display: resume.DisplayStars},
	}})
	var verr *errcode.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sections[0].content.items[2].value.max", verr.Fields[0].Field)

	assert.Equal(t, uint64(0), s.Version())
	assert.Equal(t, 0, calls)
	assert.Len(t, s.Snapshot().Sections[0].Content.Items, 2)

	err = s.Apply(Op{Kind: OpAddItem, Item: &resume.Item{ID: "p1", Type: resume.TypeEmail, Visible: true, Text: "not-an-email"}})
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, s.Snapshot().Personal.Details)
}

func TestMoveAndItems(t *testing.T) {
	s := NewStore(seed())

	require.NoError(t, s.Apply(Op{Kind: OpMoveItem, SectionID: "a", ItemID: "a2", To: 0}))
	items := s.Snapshot().Sections[0].Content.Items
	assert.Equal(t, []string{"a2", "a1"}, []string{items[0].ID, items[1].ID})

	require.NoError(t, s.Apply(Op{Kind: OpMoveSection, SectionID: "b", To: 0}))
	assert.Equal(t, "b", s.Snapshot().Sections[0].ID)

	require.NoError(t, s.Apply(Op{Kind: OpAddItem, Item: &resume.Item{ID: "p1", Type: resume.TypeEmail, Visible: true, Text: "g@example.com"}}))
	assert.Len(t, s.Snapshot().Personal.Details, 1)

	err := s.Apply(Op{Kind: OpRemoveItem, SectionID: "missing", ItemID: "x"})
	assert.ErrorIs(t, err, ErrSectionNotFound)

	err = s.Apply(Op{Kind: OpMoveItem, SectionID: "a", ItemID: "a1", To: 5})
	assert.ErrorIs(t, err, ErrInvalidOp)
}

func TestDirtyTracking(t *testing.T) {
	s := NewStore(seed())
	assert.False(t, s.Dirty())

	require.NoError(t, s.Apply(Op{Kind: OpRemoveSection, SectionID: "b"}))
	v := s.Version()
	assert.True(t, s.Dirty())

	require.NoError(t, s.Apply(Op{Kind: OpRemoveSection, SectionID: "a"}))
	s.MarkSaved(v)
	assert.True(t, s.Dirty(), "a save of an older version leaves newer edits dirty")

	s.MarkSaved(s.Version())
	assert.False(t, s.Dirty())
}
