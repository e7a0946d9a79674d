package domain

import (
	"errors"
	"fmt"
	"sort"
)

// MaxButtonDepth bounds how deep a button tree may nest.
const MaxButtonDepth = 3

// ErrInvalidTemplate is returned when a template's button tree is malformed.
var ErrInvalidTemplate = errors.New("invalid template")

// ButtonType selects what happens when a button is chosen.
type ButtonType string

const (
	ButtonReply       ButtonType = "reply"
	ButtonURL         ButtonType = "url"
	ButtonPhoneNumber ButtonType = "phone_number"
	ButtonNested      ButtonType = "nested"
)

// Button is one entry of a template's flat button table. ParentID 0 marks
// a root button.
type Button struct {
	ID       int64      `json:"id" yaml:"id"`
	ParentID int64      `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Type     ButtonType `json:"type" yaml:"type" validate:"required,oneof=reply url phone_number nested"`
	Text     string     `json:"text" yaml:"text" validate:"required"`
	Payload  string     `json:"payload,omitempty" yaml:"payload,omitempty"`
	Position int        `json:"position" yaml:"position"`
}

// Template is a keyword-triggered interactive menu.
type Template struct {
	ID       int64    `json:"id" yaml:"id"`
	Owner    string   `json:"owner" yaml:"owner"`
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Triggers []string `json:"triggers" yaml:"triggers" validate:"required,min=1,dive,required"`
	Header   string   `json:"header,omitempty" yaml:"header,omitempty"`
	Body     string   `json:"body,omitempty" yaml:"body,omitempty"`
	Footer   string   `json:"footer,omitempty" yaml:"footer,omitempty"`
	Active   bool     `json:"active" yaml:"active"`
	Position int      `json:"position" yaml:"position"`
	Buttons  []Button `json:"buttons,omitempty" yaml:"buttons,omitempty" validate:"dive"`
}

// Roots returns the root buttons in display order.
func (t Template) Roots() []Button {
	return t.Children(0)
}

// Children returns the direct children of a button in display order.
func (t Template) Children(parentID int64) []Button {
	var out []Button
	for _, b := range t.Buttons {
		if b.ParentID == parentID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Button looks up a button by id.
func (t Template) Button(id int64) (Button, bool) {
	for _, b := range t.Buttons {
		if b.ID == id {
			return b, true
		}
	}
	return Button{}, false
}

// Depth returns how many levels a button sits below the root level,
// counting roots as depth 1.
func (t Template) Depth(id int64) int {
	depth := 0
	for id != 0 && depth <= len(t.Buttons) {
		b, ok := t.Button(id)
		if !ok {
			break
		}
		depth++
		id = b.ParentID
	}
	return depth
}

// ValidateTree checks that button ids are unique, every parent exists,
// the tree is acyclic and no button is nested deeper than MaxButtonDepth.
func (t Template) ValidateTree() error {
	byID := make(map[int64]Button, len(t.Buttons))
	for _, b := range t.Buttons {
		if b.ID == 0 {
			return fmt.Errorf("%w: button %q has no id", ErrInvalidTemplate, b.Text)
		}
		if _, dup := byID[b.ID]; dup {
			return fmt.Errorf("%w: duplicate button id %d", ErrInvalidTemplate, b.ID)
		}
		byID[b.ID] = b
	}

	for _, b := range t.Buttons {
		depth := 1
		seen := map[int64]bool{b.ID: true}
		for p := b.ParentID; p != 0; {
			parent, ok := byID[p]
			if !ok {
				return fmt.Errorf("%w: button %d references missing parent %d", ErrInvalidTemplate, b.ID, p)
			}
			if seen[p] {
				return fmt.Errorf("%w: cycle through button %d", ErrInvalidTemplate, p)
			}
			seen[p] = true
			depth++
			p = parent.ParentID
		}
		if depth > MaxButtonDepth {
			return fmt.Errorf("%w: button %d nested %d levels deep (max %d)", ErrInvalidTemplate, b.ID, depth, MaxButtonDepth)
		}
	}
	return nil
}
