package system

import (
	"image"
	"sync"
)

// FramePool recycles RGBA frame buffers keyed by their bounds.
type FramePool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex
}

func NewFramePool() *FramePool {
	return &FramePool{pools: make(map[string]*sync.Pool)}
}

// Get returns a buffer with the given bounds, reused when one is free. The
// contents of a reused buffer are unspecified.
func (p *FramePool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

// Put hands img back for reuse. Buffers of unknown bounds are dropped.
func (p *FramePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}
