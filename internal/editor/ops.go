package editor

import (
	"errors"
	"fmt"

	"civy/internal/resume"
)

// OpKind 标识编辑操作类型，值与前端消息一致。
type OpKind string

const (
	OpReplace           OpKind = "replace"
	OpSetPersonal       OpKind = "set_personal"
	OpSetMetadata       OpKind = "set_metadata"
	OpAddSection        OpKind = "add_section"
	OpUpdateSection     OpKind = "update_section"
	OpRemoveSection     OpKind = "remove_section"
	OpMoveSection       OpKind = "move_section"
	OpSetSectionVisible OpKind = "set_section_visible"
	OpAddItem           OpKind = "add_item"
	OpUpdateItem        OpKind = "update_item"
	OpRemoveItem        OpKind = "remove_item"
	OpMoveItem          OpKind = "move_item"
	OpSetItemVisible    OpKind = "set_item_visible"
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrInvalidOp       = errors.New("invalid operation")
)

// Op 是一次编辑操作。SectionID 为空的 Item 操作作用于页眉 details。
type Op struct {
	Kind      OpKind           `json:"kind"`
	SectionID string           `json:"section_id,omitempty"`
	ItemID    string           `json:"item_id,omitempty"`
	To        int              `json:"to,omitempty"`
	Title     *string          `json:"title,omitempty"`
	Visible   *bool            `json:"visible,omitempty"`
	Resume    *resume.Resume   `json:"resume,omitempty"`
	Personal  *resume.Personal `json:"personal,omitempty"`
	Metadata  *resume.Metadata `json:"metadata,omitempty"`
	Section   *resume.Section  `json:"section,omitempty"`
	Content   *struct {
		Layout  resume.Layout `json:"layout"`
		Columns int           `json:"columns"`
	} `json:"content,omitempty"`
	Item *resume.Item `json:"item,omitempty"`
}

func (op Op) apply(r *resume.Resume) error {
	switch op.Kind {
	case OpReplace:
		if op.Resume == nil {
			return fmt.Errorf("%w: resume missing", ErrInvalidOp)
		}
		*r = op.Resume.Clone()
	case OpSetPersonal:
		if op.Personal == nil {
			return fmt.Errorf("%w: personal missing", ErrInvalidOp)
		}
		r.Personal = *op.Personal
		r.Personal.Details = append([]resume.Item(nil), op.Personal.Details...)
	case OpSetMetadata:
		if op.Metadata == nil {
			return fmt.Errorf("%w: metadata missing", ErrInvalidOp)
		}
		r.Metadata = *op.Metadata
		r.Metadata.Colors.Accents = append([]string(nil), op.Metadata.Colors.Accents...)
	case OpAddSection:
		if op.Section == nil || op.Section.ID == "" {
			return fmt.Errorf("%w: section with id required", ErrInvalidOp)
		}
		if findSection(r, op.Section.ID) >= 0 {
			return fmt.Errorf("%w: section %q already exists", ErrInvalidOp, op.Section.ID)
		}
		sec := *op.Section
		sec.Content.Items = append([]resume.Item(nil), op.Section.Content.Items...)
		r.Sections = append(r.Sections, sec)
	case OpUpdateSection:
		idx := findSection(r, op.SectionID)
		if idx < 0 {
			return ErrSectionNotFound
		}
		if op.Title != nil {
			r.Sections[idx].Title = *op.Title
		}
		if op.Content != nil {
			r.Sections[idx].Content.Layout = op.Content.Layout
			r.Sections[idx].Content.Columns = op.Content.Columns
		}
	case OpRemoveSection:
		idx := findSection(r, op.SectionID)
		if idx < 0 {
			return ErrSectionNotFound
		}
		r.Sections = append(r.Sections[:idx], r.Sections[idx+1:]...)
	case OpMoveSection:
		idx := findSection(r, op.SectionID)
		if idx < 0 {
			return ErrSectionNotFound
		}
		moved, err := move(r.Sections, idx, op.To)
		if err != nil {
			return err
		}
		r.Sections = moved
	case OpSetSectionVisible:
		idx := findSection(r, op.SectionID)
		if idx < 0 {
			return ErrSectionNotFound
		}
		if op.Visible == nil {
			return fmt.Errorf("%w: visible missing", ErrInvalidOp)
		}
		r.Sections[idx].Visible = *op.Visible
	case OpAddItem, OpUpdateItem, OpRemoveItem, OpMoveItem, OpSetItemVisible:
		items, err := itemList(r, op.SectionID)
		if err != nil {
			return err
		}
		return op.applyItem(items)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

func (op Op) applyItem(items *[]resume.Item) error {
	if op.Kind == OpAddItem {
		if op.Item == nil || op.Item.ID == "" {
			return fmt.Errorf("%w: item with id required", ErrInvalidOp)
		}
		if findItem(*items, op.Item.ID) >= 0 {
			return fmt.Errorf("%w: item %q already exists", ErrInvalidOp, op.Item.ID)
		}
		*items = append(*items, *op.Item)
		return nil
	}

	idx := findItem(*items, op.ItemID)
	if idx < 0 {
		return ErrItemNotFound
	}
	switch op.Kind {
	case OpUpdateItem:
		if op.Item == nil {
			return fmt.Errorf("%w: item missing", ErrInvalidOp)
		}
		updated := *op.Item
		updated.ID = op.ItemID
		(*items)[idx] = updated
	case OpRemoveItem:
		*items = append((*items)[:idx], (*items)[idx+1:]...)
	case OpMoveItem:
		moved, err := move(*items, idx, op.To)
		if err != nil {
			return err
		}
		*items = moved
	case OpSetItemVisible:
		if op.Visible == nil {
			return fmt.Errorf("%w: visible missing", ErrInvalidOp)
		}
		(*items)[idx].Visible = *op.Visible
	}
	return nil
}

func itemList(r *resume.Resume, sectionID string) (*[]resume.Item, error) {
	if sectionID == "" {
		return &r.Personal.Details, nil
	}
	idx := findSection(r, sectionID)
	if idx < 0 {
		return nil, ErrSectionNotFound
	}
	return &r.Sections[idx].Content.Items, nil
}

func findSection(r *resume.Resume, id string) int {
	for i, s := range r.Sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func findItem(items []resume.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func move[T any](list []T, from, to int) ([]T, error) {
	if to < 0 || to >= len(list) {
		return nil, fmt.Errorf("%w: target index %d out of range", ErrInvalidOp, to)
	}
	v := list[from]
	out := make([]T, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	out = append(out[:to], append([]T{v}, out[to:]...)...)
	return out, nil
}
