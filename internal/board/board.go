// Package board defines tactic boards, their pages and the scene objects
// placed on them.
package board

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMissingUUID   = errors.New("scene object has no uuid")
	ErrDuplicateUUID = errors.New("scene object uuid is not unique within the page")
)

// Board is a named, ordered collection of pages.
type Board struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Pages     []Page   `json:"pages" yaml:"pages"`
	IsPrivate bool     `json:"isPrivate" yaml:"is_private"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedBy string   `json:"createdBy,omitempty" yaml:"created_by,omitempty"`
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	out := *b
	out.Tags = append([]string(nil), b.Tags...)
	out.Pages = make([]Page, len(b.Pages))
	for i := range b.Pages {
		out.Pages[i] = b.Pages[i].Clone()
	}
	return &out
}

// BackgroundImage describes the pitch or diagram drawn under the objects.
// Type selects the source: "image" (file or http URL) or "pdf"
// (Src is "path.pdf" or "path.pdf#page=N").
type BackgroundImage struct {
	Type   string  `json:"type" yaml:"type"`
	Src    string  `json:"src" yaml:"src"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Page is the persisted snapshot of one board page.
type Page struct {
	ID              string           `json:"id,omitempty" yaml:"id,omitempty"`
	Version         string           `json:"version,omitempty" yaml:"version,omitempty"`
	Objects         []Object         `json:"objects,omitempty" yaml:"objects,omitempty"`
	BackgroundImage *BackgroundImage `json:"backgroundImage,omitempty" yaml:"background_image,omitempty"`
	Width           float64          `json:"width,omitempty" yaml:"width,omitempty"`
	Height          float64          `json:"height,omitempty" yaml:"height,omitempty"`
}

// Clone deep-copies the page. Object uuids are preserved.
func (p Page) Clone() Page {
	out := p
	if p.Objects != nil {
		out.Objects = make([]Object, len(p.Objects))
		for i := range p.Objects {
			out.Objects[i] = p.Objects[i].Clone()
		}
	}
	if p.BackgroundImage != nil {
		bg := *p.BackgroundImage
		out.BackgroundImage = &bg
	}
	return out
}

// Find returns the top-level object with the given uuid.
func (p *Page) Find(id string) (*Object, bool) {
	for i := range p.Objects {
		if p.Objects[i].UUID == id {
			return &p.Objects[i], true
		}
	}
	return nil, false
}

// Validate checks that every object, children included, carries a uuid that
// is unique within the page.
func (p *Page) Validate() error {
	seen := make(map[string]struct{}, len(p.Objects))
	var walk func(objs []Object) error
	walk = func(objs []Object) error {
		for i := range objs {
			id := objs[i].UUID
			if id == "" {
				return fmt.Errorf("%w: %s at index %d", ErrMissingUUID, objs[i].Type, i)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateUUID, id)
			}
			seen[id] = struct{}{}
			if err := walk(objs[i].Objects); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(p.Objects)
}

// NewPageKey returns a local identifier for a page that has no remote id yet.
func NewPageKey() string {
	return "local-" + uuid.NewString()
}
