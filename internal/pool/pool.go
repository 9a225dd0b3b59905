// Package pool recycles scene objects so that placing and removing pieces
// does not grow allocation without bound.
package pool

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivlev/tacticboard/internal/board"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/metrics"
)

// Entry wraps one reusable scene object.
type Entry struct {
	obj    board.Object
	inUse  bool
	pooled bool
}

// Object returns the wrapped object for editing before it is placed.
func (e *Entry) Object() *board.Object { return &e.obj }

// InUse reports whether the entry is currently handed out.
func (e *Entry) InUse() bool { return e.inUse }

// Pooled is false for temporaries created while the pool was exhausted.
func (e *Entry) Pooled() bool { return e.pooled }

// Stats is a point-in-time view of a pool.
type Stats struct {
	Total     int
	InUse     int
	Available int
	Overflow  int // temporaries handed out since creation
}

// ObjectPool hands out objects of one kind, bounded by maxSize.
type ObjectPool struct {
	mu       sync.Mutex
	kind     string
	maxSize  int
	entries  []*Entry
	overflow int
	factory  func() board.Object
	logger   zerolog.Logger
}

// Option configures an ObjectPool.
type Option func(*ObjectPool)

// WithFactory sets the constructor for new entries.
func WithFactory(fn func() board.Object) Option {
	return func(p *ObjectPool) {
		if fn != nil {
			p.factory = fn
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *ObjectPool) { p.logger = l }
}

// New creates a pool for the given piece kind. A non-positive maxSize
// yields a pool that only ever hands out temporaries.
func New(kind string, maxSize int, opts ...Option) *ObjectPool {
	p := &ObjectPool{
		kind:    kind,
		maxSize: maxSize,
		factory: func() board.Object { return board.NewObject(kind) },
		logger:  xlog.WithComponent("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxSize < 0 {
		p.maxSize = 0
	}
	return p
}

// Acquire returns a free entry reset to default geometry with a fresh uuid:
// a reused primitive is a new piece, never the one that was removed. When
// the pool is full a temporary, untracked entry is returned instead.
func (p *ObjectPool) Acquire() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if !e.inUse {
			p.prepare(e)
			p.publish()
			return e
		}
	}

	if len(p.entries) < p.maxSize {
		e := &Entry{obj: p.factory(), pooled: true}
		p.prepare(e)
		p.entries = append(p.entries, e)
		p.publish()
		return e
	}

	p.overflow++
	metrics.PoolOverflowTotal.WithLabelValues(p.kind).Inc()
	p.logger.Warn().
		Str(xlog.FieldPoolKind, p.kind).
		Int(xlog.FieldPoolTotal, len(p.entries)).
		Msg("object pool exhausted, handing out unpooled temporary")

	e := &Entry{obj: p.factory()}
	p.prepare(e)
	return e
}

// Release returns an entry to the pool. Releasing twice, or releasing a
// temporary, is harmless.
func (p *ObjectPool) Release(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e.inUse = false
	e.obj.ResetGeometry()
	if e.pooled {
		p.publish()
	}
}

// Clear marks every entry free without dropping it.
func (p *ObjectPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		e.inUse = false
		e.obj.ResetGeometry()
	}
	p.publish()
}

// Stats returns the current counts.
func (p *ObjectPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *ObjectPool) statsLocked() Stats {
	s := Stats{Total: len(p.entries), Overflow: p.overflow}
	for _, e := range p.entries {
		if e.inUse {
			s.InUse++
		}
	}
	s.Available = s.Total - s.InUse
	return s
}

func (p *ObjectPool) prepare(e *Entry) {
	e.obj.ResetGeometry()
	identify(&e.obj)
	e.inUse = true
}

func identify(o *board.Object) {
	o.UUID = uuid.NewString()
	for i := range o.Objects {
		identify(&o.Objects[i])
	}
}

func (p *ObjectPool) publish() {
	s := p.statsLocked()
	metrics.SetPoolEntries(p.kind, s.InUse, s.Available)
}
