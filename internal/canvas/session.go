// Package canvas owns the single live scene canvas of a tactic board and
// converts between it and persisted page records.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ivlev/tacticboard/internal/board"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/scene"
)

var (
	// ErrLoadSuperseded is returned by a load that a newer load overtook
	// before it could commit. The canvas shows the newer page.
	ErrLoadSuperseded = errors.New("canvas load superseded by a newer load")
	ErrNoCanvas       = errors.New("canvas is not initialized")
)

// Session owns one scene canvas at a time.
type Session struct {
	mu       sync.Mutex
	canvas   *scene.Canvas
	resolver scene.ImageResolver
	fontPath string
	fontSize float64
	loadSeq  uint64
	logger   zerolog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithFont enables text rendering on every canvas the session creates.
func WithFont(path string, points float64) Option {
	return func(s *Session) {
		s.fontPath = path
		s.fontSize = points
	}
}

func NewSession(resolver scene.ImageResolver, opts ...Option) *Session {
	s := &Session{
		resolver: resolver,
		logger:   xlog.WithComponent("canvas"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitCanvas binds a new canvas to surface, disposing any previous one.
func (s *Session) InitCanvas(surface scene.Surface, opts scene.Options) *scene.Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(surface, opts)
}

func (s *Session) initLocked(surface scene.Surface, opts scene.Options) *scene.Canvas {
	if s.canvas != nil {
		s.canvas.Dispose()
	}
	c := scene.New(surface, opts, s.resolver)
	if s.fontPath != "" {
		c.SetFont(s.fontPath, s.fontSize)
	}
	s.canvas = c
	s.logger.Debug().Str("surface", surface.ID).Msg("canvas initialized")
	return c
}

// Canvas returns the live canvas, or nil before InitCanvas.
func (s *Session) Canvas() *scene.Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas
}

// LoadFromSerialized replaces the live content with page. Image resources
// are materialized before anything is committed, then the target size is
// reapplied from the page (its Width/Height, else the background's). When
// no canvas exists, or it is bound to another surface, one is initialized.
// A load overtaken by a later call returns ErrLoadSuperseded without
// touching the canvas.
func (s *Session) LoadFromSerialized(ctx context.Context, surface scene.Surface, page board.Page) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	c := s.canvas
	if c == nil || c.Disposed() || c.Surface() != surface {
		opts := scene.Options{}
		if c != nil {
			opts = c.Options()
		}
		c = s.initLocked(surface, opts)
	}
	s.mu.Unlock()

	prepared, err := c.Prepare(ctx, page)
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.loadSeq || c != s.canvas {
		s.logger.Debug().Uint64("seq", seq).Msg("discarding superseded canvas load")
		return ErrLoadSuperseded
	}
	if err := c.Commit(prepared); err != nil {
		return err
	}
	w, h := targetSize(page)
	c.SetDimensions(w, h)
	return nil
}

func targetSize(p board.Page) (int, int) {
	w, h := p.Width, p.Height
	if bg := p.BackgroundImage; bg != nil {
		if w <= 0 {
			w = bg.Width
		}
		if h <= 0 {
			h = bg.Height
		}
	}
	return int(w), int(h)
}

// GetAllObjectsJSON serializes the live canvas into a page record.
func (s *Session) GetAllObjectsJSON() (board.Page, error) {
	c, err := s.live()
	if err != nil {
		return board.Page{}, err
	}
	return c.Serialize(), nil
}

// GetAllObjects returns every live top-level object keyed by uuid.
func (s *Session) GetAllObjects() (map[string]board.Object, error) {
	c, err := s.live()
	if err != nil {
		return nil, err
	}
	objs := c.Objects()
	out := make(map[string]board.Object, len(objs))
	for _, o := range objs {
		out[o.UUID] = o
	}
	return out, nil
}

// SetSelection toggles whether objects can be selected.
func (s *Session) SetSelection(enabled bool) error {
	return s.update(func(o *scene.Options) { o.Selection = enabled })
}

// SetControls toggles the transform handles of selected objects.
func (s *Session) SetControls(enabled bool) error {
	return s.update(func(o *scene.Options) { o.Controls = enabled })
}

// SetDrawMode toggles free drawing. Drawing turns selection off.
func (s *Session) SetDrawMode(enabled bool) error {
	return s.update(func(o *scene.Options) {
		o.DrawMode = enabled
		if enabled {
			o.Selection = false
		}
	})
}

func (s *Session) update(fn func(*scene.Options)) error {
	c, err := s.live()
	if err != nil {
		return err
	}
	opts := c.Options()
	fn(&opts)
	c.SetOptions(opts)
	return nil
}

// Place adds obj to the live canvas.
func (s *Session) Place(obj board.Object) error {
	c, err := s.live()
	if err != nil {
		return err
	}
	return c.Add(obj)
}

// Select makes the given objects the active selection.
func (s *Session) Select(uuids ...string) error {
	c, err := s.live()
	if err != nil {
		return err
	}
	c.SetActive(uuids...)
	return nil
}

// RemoveActiveObjects deletes the active selection and returns it.
func (s *Session) RemoveActiveObjects() ([]board.Object, error) {
	c, err := s.live()
	if err != nil {
		return nil, err
	}
	active := c.Active()
	ids := make([]string, len(active))
	for i := range active {
		ids[i] = active[i].UUID
	}
	return c.Remove(ids...), nil
}

// JerseyNumbers returns the sorted jersey numbers carried by objects, for
// handing freed numbers back to the player palette.
func JerseyNumbers(objs []board.Object) []int {
	var out []int
	for i := range objs {
		if n, ok := objs[i].JerseyNumber(); ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Frame rasterizes the live canvas.
func (s *Session) Frame() (*image.RGBA, error) {
	c, err := s.live()
	if err != nil {
		return nil, err
	}
	return c.Render()
}

// Dispose tears down the live canvas.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canvas != nil {
		s.canvas.Dispose()
		s.canvas = nil
	}
}

func (s *Session) live() (*scene.Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canvas == nil || s.canvas.Disposed() {
		return nil, ErrNoCanvas
	}
	return s.canvas, nil
}
