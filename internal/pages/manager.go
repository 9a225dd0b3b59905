// Package pages keeps the pages of a tactic board in step with the live
// canvas: it persists the page being left, loads the page being entered and
// tracks which page is current.
package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/canvas"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/scene"
)

var (
	ErrNoBoard          = errors.New("no tactic board initialized")
	ErrNoPages          = errors.New("tactic board has no pages")
	ErrPageOutOfRange   = errors.New("page out of range")
	ErrLastPage         = errors.New("cannot remove the only page")
	ErrAlreadyAnimating = errors.New("page animation already running")
	ErrAnimating        = errors.New("navigation is locked while pages animate")
)

// Save indexing modes for backward navigation.
const (
	// IndexingLegacy persists the live canvas into the target page.
	IndexingLegacy = "legacy"
	// IndexingLeaving persists the live canvas into the page being left.
	IndexingLeaving = "leaving"
)

// Service is the remote page data service.
type Service interface {
	GetBoard(ctx context.Context, boardID string) (*board.Board, error)
	CreatePage(ctx context.Context, boardID string, page board.Page) (string, error)
	UpdatePage(ctx context.Context, boardID, pageID string, page board.Page) error
	DeletePage(ctx context.Context, boardID, pageID string) error
}

// Manager owns the page state of one board. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	svc     Service
	session *canvas.Session
	surface scene.Surface
	saver   *Saver

	board      *board.Board
	keys       []string // local key per page, parallel to board.Pages
	current    int
	animating  bool
	privileged bool
	editMode   bool

	indexing string
	blocking bool
	logger   zerolog.Logger

	idMu sync.Mutex
	ids  map[string]string // local key -> remote page id
}

// Option configures a Manager.
type Option func(*Manager)

// WithSaveIndexing selects which page backward navigation persists.
func WithSaveIndexing(mode string) Option {
	return func(m *Manager) {
		if mode == IndexingLegacy || mode == IndexingLeaving {
			m.indexing = mode
		}
	}
}

// WithBlockingNavigation makes OnLoadPage wait for the writes it queues and
// return their error.
func WithBlockingNavigation(enabled bool) Option {
	return func(m *Manager) { m.blocking = enabled }
}

// WithSaver replaces the default save queue.
func WithSaver(s *Saver) Option {
	return func(m *Manager) {
		if s != nil {
			m.saver = s
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(svc Service, session *canvas.Session, surface scene.Surface, opts ...Option) *Manager {
	m := &Manager{
		svc:      svc,
		session:  session,
		surface:  surface,
		indexing: IndexingLegacy,
		logger:   xlog.WithComponent("pages"),
		ids:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.saver == nil {
		m.saver = NewSaver(WithSaverLogger(m.logger))
	}
	return m
}

// Open fetches the board from the service and initializes from it.
func (m *Manager) Open(ctx context.Context, boardID string) error {
	b, err := m.svc.GetBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("open board %s: %w", boardID, err)
	}
	return m.InitializeFromTacticBoard(ctx, b)
}

// InitializeFromTacticBoard loads the first page of b and resets the page
// state. Selection and controls start disabled.
func (m *Manager) InitializeFromTacticBoard(ctx context.Context, b *board.Board) error {
	if b == nil {
		return ErrNoBoard
	}
	if len(b.Pages) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPages, b.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	local := b.Clone()
	keys := make([]string, len(local.Pages))
	m.idMu.Lock()
	m.ids = make(map[string]string, len(local.Pages))
	for i := range local.Pages {
		if id := local.Pages[i].ID; id != "" {
			keys[i] = id
			m.ids[id] = id
		} else {
			keys[i] = board.NewPageKey()
		}
	}
	m.idMu.Unlock()

	if err := m.session.LoadFromSerialized(ctx, m.surface, local.Pages[0]); err != nil {
		return fmt.Errorf("load page 1: %w", err)
	}
	if err := m.session.SetSelection(false); err != nil {
		return err
	}
	if err := m.session.SetControls(false); err != nil {
		return err
	}

	m.board = local
	m.keys = keys
	m.current = 1
	m.logger.Info().
		Str(xlog.FieldBoardID, b.ID).
		Int(xlog.FieldMaxPages, len(local.Pages)).
		Msg("tactic board initialized")
	return nil
}

// OnLoadPage navigates to targetPage (1-based). The live canvas is persisted
// first: creating a page persists the page before it and appends a copy of
// the live canvas; moving forward persists targetPage-1; moving backward
// persists targetPage, or the page being left with IndexingLeaving.
// Removing drops the last page and shows the new last page. Setting both
// flags is a no-op.
func (m *Manager) OnLoadPage(ctx context.Context, targetPage int, isNewPage, isRemovePage bool) error {
	if isNewPage && isRemovePage {
		return nil
	}

	tasks, err := m.navigate(ctx, targetPage, isNewPage, isRemovePage)
	if err != nil {
		return err
	}
	if !m.blocking {
		return nil
	}
	var errs []error
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) navigate(ctx context.Context, target int, isNew, isRemove bool) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.board == nil {
		return nil, ErrNoBoard
	}
	if m.animating {
		return nil, ErrAnimating
	}
	total := len(m.board.Pages)

	var tasks []*Task
	switch {
	case isNew:
		if target != total+1 {
			return nil, fmt.Errorf("%w: new page %d of %d", ErrPageOutOfRange, target, total)
		}
		live, err := m.session.GetAllObjectsJSON()
		if err != nil {
			return nil, err
		}
		t, err := m.persistLocked(target-1, live)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t, m.appendLocked(live))

	case isRemove:
		if total <= 1 {
			return nil, ErrLastPage
		}
		tasks = append(tasks, m.removeLastLocked())
		target = len(m.board.Pages)

	default:
		if target < 1 || target > total {
			return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, target, total)
		}
		live, err := m.session.GetAllObjectsJSON()
		if err != nil {
			return nil, err
		}
		save := m.current
		switch {
		case target > m.current:
			save = target - 1
		case target < m.current && m.indexing == IndexingLegacy:
			save = target
		}
		t, err := m.persistLocked(save, live)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	if err := m.loadLocked(ctx, target); err != nil {
		return tasks, err
	}
	return tasks, m.applyInteractionLocked()
}

// SaveTacticBoard persists the live canvas into the current page.
func (m *Manager) SaveTacticBoard(ctx context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return nil, ErrNoBoard
	}
	live, err := m.session.GetAllObjectsJSON()
	if err != nil {
		return nil, err
	}
	return m.persistLocked(m.current, live)
}

// ShowPage loads page n without persisting anything.
func (m *Manager) ShowPage(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return ErrNoBoard
	}
	if n < 1 || n > len(m.board.Pages) {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, len(m.board.Pages))
	}
	return m.loadLocked(ctx, n)
}

// persistLocked stores live into page n (1-based) and queues the update.
// A page whose create never reached the service is created here instead.
// The service only appends, so such a page may land after pages created
// since; remote ids, not positions, tie local pages to remote records.
func (m *Manager) persistLocked(n int, live board.Page) (*Task, error) {
	if n < 1 || n > len(m.board.Pages) {
		return nil, fmt.Errorf("%w: persist %d of %d", ErrPageOutOfRange, n, len(m.board.Pages))
	}
	if err := live.Validate(); err != nil {
		return nil, fmt.Errorf("persist page %d: %w", n, err)
	}

	idx := n - 1
	page := live.Clone()
	page.Width, page.Height = m.board.Pages[idx].Width, m.board.Pages[idx].Height
	page.ID = ""
	m.board.Pages[idx] = page

	key := m.keys[idx]
	boardID := m.board.ID
	m.logger.Debug().Int(xlog.FieldPage, n).Str(xlog.FieldPageID, key).Msg("persisting page")
	return m.saver.Enqueue(key, TaskUpdate, func(ctx context.Context) error {
		if id := m.remoteID(key); id != "" {
			return m.svc.UpdatePage(ctx, boardID, id, page)
		}
		id, err := m.svc.CreatePage(ctx, boardID, page)
		if err != nil {
			return err
		}
		m.setRemoteID(key, id)
		return nil
	}), nil
}

func (m *Manager) appendLocked(seed board.Page) *Task {
	page := seed.Clone()
	page.ID = ""
	key := board.NewPageKey()
	m.board.Pages = append(m.board.Pages, page)
	m.keys = append(m.keys, key)

	boardID := m.board.ID
	return m.saver.Enqueue(key, TaskCreate, func(ctx context.Context) error {
		if m.remoteID(key) != "" {
			return nil
		}
		id, err := m.svc.CreatePage(ctx, boardID, page)
		if err != nil {
			return err
		}
		m.setRemoteID(key, id)
		return nil
	})
}

func (m *Manager) removeLastLocked() *Task {
	last := len(m.board.Pages) - 1
	key := m.keys[last]
	m.board.Pages = m.board.Pages[:last]
	m.keys = m.keys[:last]

	boardID := m.board.ID
	return m.saver.Enqueue(key, TaskDelete, func(ctx context.Context) error {
		id := m.remoteID(key)
		if id == "" {
			m.logger.Debug().Str(xlog.FieldPageID, key).Msg("removed page was never created remotely")
			return nil
		}
		if err := m.svc.DeletePage(ctx, boardID, id); err != nil {
			return err
		}
		m.idMu.Lock()
		delete(m.ids, key)
		m.idMu.Unlock()
		return nil
	})
}

func (m *Manager) loadLocked(ctx context.Context, n int) error {
	if err := m.session.LoadFromSerialized(ctx, m.surface, m.board.Pages[n-1]); err != nil {
		return fmt.Errorf("load page %d: %w", n, err)
	}
	m.current = n
	return nil
}

func (m *Manager) applyInteractionLocked() error {
	interactive := m.privileged && m.editMode
	if err := m.session.SetSelection(interactive); err != nil {
		return err
	}
	return m.session.SetControls(interactive)
}

func (m *Manager) remoteID(key string) string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return m.ids[key]
}

func (m *Manager) setRemoteID(key, id string) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.ids[key] = id
}

// SetEditMode records the user's rights and edit toggle and applies the
// resulting interaction mode to the live canvas.
func (m *Manager) SetEditMode(privileged, editMode bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privileged, m.editMode = privileged, editMode
	if m.board == nil {
		return nil
	}
	return m.applyInteractionLocked()
}

// BeginAnimation claims the board for a page animation or recording.
func (m *Manager) BeginAnimation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return ErrNoBoard
	}
	if m.animating {
		return ErrAlreadyAnimating
	}
	m.animating = true
	return nil
}

func (m *Manager) EndAnimation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.animating = false
}

func (m *Manager) IsAnimating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.animating
}

func (m *Manager) CurrentPage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) MaxPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return 0
	}
	return len(m.board.Pages)
}

// Page returns a copy of page n as last persisted locally.
func (m *Manager) Page(n int) (board.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return board.Page{}, ErrNoBoard
	}
	if n < 1 || n > len(m.board.Pages) {
		return board.Page{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, n, len(m.board.Pages))
	}
	p := m.board.Pages[n-1].Clone()
	p.ID = m.remoteID(m.keys[n-1])
	return p, nil
}

// Board returns a copy of the local board with resolved remote page ids.
func (m *Manager) Board() *board.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return nil
	}
	b := m.board.Clone()
	for i := range b.Pages {
		b.Pages[i].ID = m.remoteID(m.keys[i])
	}
	return b
}

// Saves reports the state of the save queue.
func (m *Manager) Saves() Status {
	return m.saver.Status()
}

// Flush waits for every queued write.
func (m *Manager) Flush(ctx context.Context) error {
	return m.saver.Flush(ctx)
}

// Close drains the save queue.
func (m *Manager) Close(ctx context.Context) error {
	return m.saver.Close(ctx)
}
