package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ivlev/tacticboard/internal/board"
)

// Memory keeps boards in process. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	boards map[string]*board.Board
}

func NewMemory(boards ...*board.Board) *Memory {
	m := &Memory{boards: make(map[string]*board.Board)}
	for _, b := range boards {
		m.PutBoard(b)
	}
	return m
}

// PutBoard stores a copy of b, assigning ids to pages that have none.
func (m *Memory) PutBoard(b *board.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := b.Clone()
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = uuid.NewString()
		}
	}
	m.boards[c.ID] = c
}

func (m *Memory) GetBoard(_ context.Context, boardID string) (*board.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	return b.Clone(), nil
}

func (m *Memory) CreatePage(_ context.Context, boardID string, page board.Page) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	p := page.Clone()
	p.ID = uuid.NewString()
	b.Pages = append(b.Pages, p)
	return p.ID, nil
}

func (m *Memory) UpdatePage(_ context.Context, boardID, pageID string, page board.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.findLocked(boardID, pageID)
	if err != nil {
		return err
	}
	*p = page.Clone()
	p.ID = pageID
	return nil
}

func (m *Memory) DeletePage(_ context.Context, boardID, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	for i := range b.Pages {
		if b.Pages[i].ID == pageID {
			b.Pages = append(b.Pages[:i], b.Pages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
}

func (m *Memory) findLocked(boardID, pageID string) (*board.Page, error) {
	b, ok := m.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	for i := range b.Pages {
		if b.Pages[i].ID == pageID {
			return &b.Pages[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
}
