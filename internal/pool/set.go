package pool

import (
	"sync"

	"github.com/ivlev/tacticboard/internal/board"
)

// Set keeps one ObjectPool per piece kind, created on first use.
type Set struct {
	pools     map[string]*ObjectPool
	factories map[string]func() board.Object
	maxSize   int
	opts      []Option
	mu        sync.RWMutex
}

// NewSet creates pools of maxSize entries each. The standard pieces
// (player, cone, ball) get their builders; other kinds start as bare objects.
func NewSet(maxSize int, opts ...Option) *Set {
	return &Set{
		pools:   make(map[string]*ObjectPool),
		maxSize: maxSize,
		opts:    opts,
		factories: map[string]func() board.Object{
			"player": func() board.Object { return board.NewPlayer(0, "#d00000") },
			"cone":   board.NewCone,
			"ball":   board.NewBall,
		},
	}
}

// Get returns the pool for kind.
func (s *Set) Get(kind string) *ObjectPool {
	s.mu.RLock()
	p, exists := s.pools[kind]
	s.mu.RUnlock()
	if exists {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double check
	if p, exists = s.pools[kind]; exists {
		return p
	}
	opts := s.opts
	if fn, ok := s.factories[kind]; ok {
		opts = append(append([]Option(nil), s.opts...), WithFactory(fn))
	}
	p = New(kind, s.maxSize, opts...)
	s.pools[kind] = p
	return p
}

// Stats returns the stats of every pool created so far.
func (s *Set) Stats() map[string]Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Stats, len(s.pools))
	for kind, p := range s.pools {
		out[kind] = p.Stats()
	}
	return out
}

// Clear frees every entry of every pool.
func (s *Set) Clear() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pools {
		p.Clear()
	}
}
