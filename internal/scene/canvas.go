// Package scene is a headless scene graph engine: it holds the live objects
// of one canvas, materializes their image resources, animates properties and
// rasterizes frames.
package scene

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/renderer"
)

var ErrDisposed = errors.New("canvas is disposed")

// maxParallelLoads bounds concurrent sub-resource loads per page.
const maxParallelLoads = 4

// Surface is the drawing target a canvas is bound to.
type Surface struct {
	ID     string
	Width  int
	Height int
}

// Options are the interaction toggles and fill colour of a canvas.
type Options struct {
	Selection  bool
	Controls   bool
	DrawMode   bool
	Background string
}

// ImageResolver materializes a typed image reference.
type ImageResolver interface {
	Resolve(ctx context.Context, typ, src string) (image.Image, error)
}

// Canvas is the live scene graph. It is safe for concurrent use.
type Canvas struct {
	mu       sync.RWMutex
	surface  Surface
	opts     Options
	resolver ImageResolver
	raster   renderer.Rasterizer

	objects    []board.Object
	active     map[string]struct{}
	version    string
	background *board.BackgroundImage
	bgImage    image.Image
	images     map[string]image.Image
	width      int
	height     int
	renders    int
	disposed   bool
}

// New binds a canvas to surface. resolver may be nil when pages carry no
// image references.
func New(surface Surface, opts Options, resolver ImageResolver) *Canvas {
	return &Canvas{
		surface:  surface,
		opts:     opts,
		resolver: resolver,
		active:   make(map[string]struct{}),
		images:   make(map[string]image.Image),
		width:    surface.Width,
		height:   surface.Height,
	}
}

// SetFont enables text rendering with the given TrueType font.
func (c *Canvas) SetFont(path string, points float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raster = renderer.Rasterizer{FontPath: path, FontPoints: points}
}

func (c *Canvas) Surface() Surface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surface
}

// Dispose releases the live content. Further mutations fail with ErrDisposed.
func (c *Canvas) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.objects = nil
	c.active = make(map[string]struct{})
	c.images = make(map[string]image.Image)
	c.bgImage = nil
}

func (c *Canvas) Disposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

func (c *Canvas) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

func (c *Canvas) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
	if !opts.Selection {
		c.active = make(map[string]struct{})
	}
}

// Add places objects on top of the scene. Every uuid must be new to the page.
func (c *Canvas) Add(objs ...board.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}

	next := append(cloneObjects(c.objects), cloneObjects(objs)...)
	page := board.Page{Objects: next}
	if err := page.Validate(); err != nil {
		return err
	}
	c.objects = next
	return nil
}

// Remove deletes the top-level objects with the given uuids and returns them.
func (c *Canvas) Remove(uuids ...string) []board.Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[string]struct{}, len(uuids))
	for _, id := range uuids {
		drop[id] = struct{}{}
	}
	var removed []board.Object
	kept := c.objects[:0]
	for _, o := range c.objects {
		if _, ok := drop[o.UUID]; ok {
			removed = append(removed, o)
			delete(c.active, o.UUID)
			continue
		}
		kept = append(kept, o)
	}
	c.objects = kept
	return removed
}

// Objects returns a copy of the top-level objects in paint order.
func (c *Canvas) Objects() []board.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneObjects(c.objects)
}

// Find returns a copy of the top-level object with the given uuid.
func (c *Canvas) Find(id string) (board.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.objects {
		if c.objects[i].UUID == id {
			return c.objects[i].Clone(), true
		}
	}
	return board.Object{}, false
}

// SetActive replaces the selection. Unknown uuids are ignored; with
// selection disabled the call clears it.
func (c *Canvas) SetActive(uuids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]struct{}, len(uuids))
	if !c.opts.Selection {
		return
	}
	for _, id := range uuids {
		for i := range c.objects {
			if c.objects[i].UUID == id {
				c.active[id] = struct{}{}
			}
		}
	}
}

// Active returns the selected objects in paint order.
func (c *Canvas) Active() []board.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []board.Object
	for i := range c.objects {
		if _, ok := c.active[c.objects[i].UUID]; ok {
			out = append(out, c.objects[i].Clone())
		}
	}
	return out
}

// Serialize snapshots the live content as a page record.
func (c *Canvas) Serialize() board.Page {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := board.Page{
		Version: c.version,
		Objects: cloneObjects(c.objects),
	}
	if c.background != nil {
		bg := *c.background
		p.BackgroundImage = &bg
	}
	return p
}

// Prepared is a page whose image resources are materialized and ready to be
// committed.
type Prepared struct {
	page       board.Page
	background image.Image
	images     map[string]image.Image
}

// Prepare validates page and loads its background and every image object,
// group children included. It does not touch the live content.
func (c *Canvas) Prepare(ctx context.Context, page board.Page) (*Prepared, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	p := &Prepared{page: page.Clone(), images: make(map[string]image.Image)}

	srcs := make(map[string]struct{})
	collectImages(p.page.Objects, srcs)
	if p.page.BackgroundImage == nil && len(srcs) == 0 {
		return p, nil
	}
	if c.resolver == nil {
		return nil, errors.New("prepare page: image references need a resolver")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)

	if bg := p.page.BackgroundImage; bg != nil && bg.Src != "" {
		g.Go(func() error {
			img, err := c.resolver.Resolve(gctx, bg.Type, bg.Src)
			if err != nil {
				return fmt.Errorf("background %s: %w", bg.Src, err)
			}
			p.background = img
			return nil
		})
	}
	for src := range srcs {
		g.Go(func() error {
			img, err := c.resolver.Resolve(gctx, "image", src)
			if err != nil {
				return fmt.Errorf("image %s: %w", src, err)
			}
			mu.Lock()
			p.images[src] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Commit replaces all live content with a prepared page and clears the
// selection.
func (c *Canvas) Commit(p *Prepared) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}

	c.objects = cloneObjects(p.page.Objects)
	c.version = p.page.Version
	c.background = nil
	if p.page.BackgroundImage != nil {
		bg := *p.page.BackgroundImage
		c.background = &bg
	}
	c.bgImage = p.background
	c.images = p.images
	c.active = make(map[string]struct{})
	return nil
}

// SetDimensions resizes the canvas. Non-positive values fall back to the
// surface size.
func (c *Canvas) SetDimensions(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width <= 0 {
		width = c.surface.Width
	}
	if height <= 0 {
		height = c.surface.Height
	}
	c.width, c.height = width, height
}

func (c *Canvas) Dimensions() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.width, c.height
}

// Render rasterizes the current content.
func (c *Canvas) Render() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, ErrDisposed
	}
	c.renders++

	return c.raster.Rasterize(renderer.Scene{
		Width:           c.width,
		Height:          c.height,
		Background:      c.opts.Background,
		BackgroundImage: c.bgImage,
		Objects:         c.objects,
		Images:          c.images,
	})
}

// RenderCount is the number of Render calls since construction.
func (c *Canvas) RenderCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renders
}

func collectImages(objs []board.Object, into map[string]struct{}) {
	for i := range objs {
		if objs[i].Type == board.TypeImage && objs[i].Src != "" {
			into[objs[i].Src] = struct{}{}
		}
		collectImages(objs[i].Objects, into)
	}
}

func cloneObjects(objs []board.Object) []board.Object {
	if objs == nil {
		return nil
	}
	out := make([]board.Object, len(objs))
	for i := range objs {
		out[i] = objs[i].Clone()
	}
	return out
}
