package source

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	xlog "github.com/ivlev/tacticboard/internal/log"
)

// Source types accepted by Resolve.
const (
	TypeImage = "image"
	TypePDF   = "pdf"
)

const defaultDPI = 96

// Resolver loads images referenced by pages and caches them by reference.
// Concurrent requests for the same reference share one load.
type Resolver struct {
	baseDir string
	dpi     int
	client  *http.Client
	logger  zerolog.Logger

	sf    singleflight.Group
	mu    sync.RWMutex
	cache map[string]image.Image
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBaseDir resolves relative paths against dir.
func WithBaseDir(dir string) ResolverOption {
	return func(r *Resolver) { r.baseDir = dir }
}

// WithDPI sets the PDF rasterization resolution.
func WithDPI(dpi int) ResolverOption {
	return func(r *Resolver) {
		if dpi > 0 {
			r.dpi = dpi
		}
	}
}

// WithHTTPClient overrides the client used for remote images.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithResolverLogger overrides the component logger.
func WithResolverLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dpi:    defaultDPI,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: xlog.WithComponent("source"),
		cache:  make(map[string]image.Image),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the image for a typed reference. An empty type means
// "image". PDF references select a page with "#page=N" (1-based, default 1).
func (r *Resolver) Resolve(ctx context.Context, typ, src string) (image.Image, error) {
	if typ == "" {
		typ = TypeImage
	}
	if typ != TypeImage && typ != TypePDF {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
	key := typ + ":" + src

	r.mu.RLock()
	img, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return img, nil
	}

	// The shared load must not die with whichever caller started it.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(key, func() (interface{}, error) {
		start := time.Now()
		img, err := r.load(loadCtx, typ, src)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = img
		r.mu.Unlock()
		r.logger.Debug().
			Str(xlog.FieldPath, src).
			Dur(xlog.FieldElapsed, time.Since(start)).
			Msg("image source materialized")
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

// Forget drops every cached image.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[string]image.Image)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, typ, src string) (image.Image, error) {
	var (
		s     Source
		index int
		err   error
	)
	switch typ {
	case TypePDF:
		path, page, perr := ParsePDFRef(src)
		if perr != nil {
			return nil, perr
		}
		index = page - 1
		s, err = NewFitzPDFSource(r.path(path))
	default:
		if isRemote(src) {
			s, err = FetchImage(ctx, r.client, src)
		} else {
			s, err = OpenImageFile(r.path(src))
		}
	}
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.RenderPage(index, r.dpi)
}

func (r *Resolver) path(p string) string {
	if r.baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.baseDir, p)
}

// ParsePDFRef splits "file.pdf#page=N" into the path and the 1-based page.
func ParsePDFRef(ref string) (string, int, error) {
	path, frag, found := strings.Cut(ref, "#")
	if !found || frag == "" {
		return path, 1, nil
	}
	v, ok := strings.CutPrefix(frag, "page=")
	if !ok {
		return "", 0, fmt.Errorf("pdf reference %q: unknown fragment", ref)
	}
	page, err := strconv.Atoi(v)
	if err != nil || page < 1 {
		return "", 0, fmt.Errorf("pdf reference %q: invalid page", ref)
	}
	return path, page, nil
}
