// Package engine wires a page service, canvas session, page manager, cycler
// and recorder into one playable tactic board project.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/canvas"
	"github.com/ivlev/tacticboard/internal/config"
	"github.com/ivlev/tacticboard/internal/cycler"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/pages"
	"github.com/ivlev/tacticboard/internal/pool"
	"github.com/ivlev/tacticboard/internal/scene"
	"github.com/ivlev/tacticboard/internal/source"
	"github.com/ivlev/tacticboard/internal/store"
	"github.com/ivlev/tacticboard/internal/video"
)

// SurfaceID names the single drawing surface a project renders to.
const SurfaceID = "board"

var ErrNoBoardOpen = errors.New("no tactic board is open")

// Project is one tactic board with everything needed to edit, play and
// record it.
type Project struct {
	Config   *config.Config
	Service  pages.Service
	Session  *canvas.Session
	Manager  *pages.Manager
	Cycler   *cycler.Cycler
	Recorder *video.Recorder
	Pieces   *pool.Set

	surface  scene.Surface
	resolver *source.Resolver
	logger   zerolog.Logger
	closer   io.Closer

	mu     sync.Mutex
	board  string
	placed map[string]placement
}

type placement struct {
	kind  string
	entry *pool.Entry
}

// Option configures a Project.
type Option func(*Project)

// WithCloser registers a resource, such as a SQLite store, closed with the
// project.
func WithCloser(c io.Closer) Option {
	return func(p *Project) { p.closer = c }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Project) { p.logger = l }
}

// NewProject assembles a project over svc. enc may be nil when nothing is
// recorded.
func NewProject(cfg *config.Config, svc pages.Service, enc video.Encoder, opts ...Option) *Project {
	p := &Project{
		Config:  cfg,
		Service: svc,
		surface: scene.Surface{ID: SurfaceID, Width: cfg.Width, Height: cfg.Height},
		logger:  xlog.WithComponent("engine"),
		placed:  make(map[string]placement),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.resolver = source.NewResolver(
		source.WithBaseDir(cfg.BoardsDir),
		source.WithDPI(cfg.PDFDPI),
	)
	p.Session = canvas.NewSession(p.resolver)
	p.Session.InitCanvas(p.surface, scene.Options{Background: cfg.Background})

	saver := pages.NewSaver(pages.WithRetries(cfg.SaveRetries, cfg.SaveRetryBase))
	p.Manager = pages.NewManager(svc, p.Session, p.surface,
		pages.WithSaver(saver),
		pages.WithSaveIndexing(cfg.SaveIndexing),
		pages.WithBlockingNavigation(cfg.BlockingNavigation),
	)
	p.Cycler = cycler.New(p.Manager, p.Session, cycler.Config{
		Interval:      cfg.Interval,
		TweenDuration: cfg.TweenDuration,
		FPS:           cfg.TweenFPS,
	})
	if enc != nil {
		p.Recorder = video.NewRecorder(enc)
	}
	p.Pieces = pool.NewSet(cfg.PoolMaxSize)
	return p
}

// OpenService picks the page service from cfg: the remote API when a base
// URL is set, else SQLite at DBPath with b imported, else memory. The
// returned closer is nil when nothing needs closing.
func OpenService(ctx context.Context, cfg *config.Config, b *board.Board) (pages.Service, io.Closer, error) {
	switch {
	case cfg.APIBaseURL != "":
		return store.NewClient(cfg.APIBaseURL, cfg.APIToken), nil, nil
	case cfg.DBPath != "":
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if b != nil {
			if err := db.PutBoard(ctx, b); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("import board %s: %w", b.ID, err)
			}
		}
		return db, db, nil
	default:
		if b == nil {
			return nil, nil, errors.New("open page service: no board to serve")
		}
		return store.NewMemory(b), nil, nil
	}
}

// Open loads boardID from the service and shows its first page.
func (p *Project) Open(ctx context.Context, boardID string) error {
	p.mu.Lock()
	switching := p.board != "" && p.board != boardID
	p.mu.Unlock()
	if switching {
		// Images of the previous board are not needed any more.
		p.resolver.Forget()
	}
	if err := p.Manager.Open(ctx, boardID); err != nil {
		return err
	}
	p.mu.Lock()
	p.board = boardID
	p.mu.Unlock()
	p.reclaim()
	return nil
}

// Navigate moves to page target through the page manager. Pieces that left
// the canvas go back to their pool.
func (p *Project) Navigate(ctx context.Context, target int, isNewPage, isRemovePage bool) error {
	err := p.Manager.OnLoadPage(ctx, target, isNewPage, isRemovePage)
	p.reclaim()
	return err
}

// PlacePiece takes a piece of kind from the pool, moves it to (left, top)
// and adds it to the live canvas. Players get the lowest jersey number not
// yet on the canvas.
func (p *Project) PlacePiece(kind string, left, top float64) (board.Object, error) {
	e := p.Pieces.Get(kind).Acquire()
	obj := e.Object()
	obj.Left, obj.Top = left, top
	if kind == "player" {
		n, err := p.nextJersey()
		if err != nil {
			p.Pieces.Get(kind).Release(e)
			return board.Object{}, err
		}
		setJersey(obj, n)
	}

	placed := obj.Clone()
	if err := p.Session.Place(placed); err != nil {
		p.Pieces.Get(kind).Release(e)
		return board.Object{}, err
	}
	p.mu.Lock()
	p.placed[placed.UUID] = placement{kind: kind, entry: e}
	p.mu.Unlock()
	return placed, nil
}

// RemoveSelected deletes the active selection, returns pool entries and
// reports the jersey numbers freed.
func (p *Project) RemoveSelected() ([]int, error) {
	removed, err := p.Session.RemoveActiveObjects()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	for _, o := range removed {
		p.releaseLocked(o.UUID)
	}
	p.mu.Unlock()
	return canvas.JerseyNumbers(removed), nil
}

func (p *Project) nextJersey() (int, error) {
	live, err := p.Session.GetAllObjectsJSON()
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool)
	for _, n := range canvas.JerseyNumbers(live.Objects) {
		used[n] = true
	}
	n := 1
	for used[n] {
		n++
	}
	return n, nil
}

func setJersey(o *board.Object, n int) {
	for i := range o.Objects {
		if o.Objects[i].Type == board.TypeText {
			o.Objects[i].Text = strconv.Itoa(n)
			return
		}
	}
}

// reclaim releases entries whose piece is no longer on the canvas.
func (p *Project) reclaim() {
	live, err := p.Session.GetAllObjects()
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.placed {
		if _, ok := live[id]; !ok {
			p.releaseLocked(id)
		}
	}
}

func (p *Project) releaseLocked(id string) {
	pl, ok := p.placed[id]
	if !ok {
		return
	}
	delete(p.placed, id)
	p.Pieces.Get(pl.kind).Release(pl.entry)
}

// Play cycles through every page cycles times in render-only mode.
func (p *Project) Play(ctx context.Context, cycles int) error {
	if err := p.opened(); err != nil {
		return err
	}
	if cycles <= 0 {
		cycles = 1
	}
	start := time.Now()
	_, err := p.Cycler.Run(ctx, cycler.RenderOnly(), cycles*p.Manager.MaxPages())
	p.logger.Info().
		Int("cycles", cycles).
		Dur(xlog.FieldElapsed, time.Since(start)).
		Msg("playback finished")
	return err
}

// Record captures one full cycle through every page and writes
// "<board name>.<ext>" to the output directory. It returns the path.
func (p *Project) Record(ctx context.Context) (string, error) {
	if err := p.opened(); err != nil {
		return "", err
	}
	if p.Recorder == nil {
		return "", errors.New("record: no encoder configured")
	}

	cfg := p.Config
	mode := cycler.RenderAndCapture(p.Recorder, video.Options{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FPS:       cfg.FPS,
		Timeslice: cfg.Timeslice,
		ShareURL:  cfg.ShareURL,
	})
	rec, err := p.Cycler.Run(ctx, mode, p.Manager.MaxPages())
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	name := p.Manager.Board().Name
	if name == "" {
		name = p.Manager.Board().ID
	}
	path, err := rec.Download(ctx, cfg.OutputDir, name)
	if err != nil {
		return "", err
	}
	p.logger.Info().
		Str(xlog.FieldPath, path).
		Str(xlog.FieldFormat, rec.Format().Name).
		Int(xlog.FieldBytes, rec.Bytes()).
		Msg("recording written")
	return path, nil
}

func (p *Project) opened() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.board == "" {
		return ErrNoBoardOpen
	}
	return nil
}

// Close flushes pending page saves and releases every resource.
func (p *Project) Close(ctx context.Context) error {
	var errs []error
	if p.Cycler.Running() {
		if _, err := p.Cycler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.Manager.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	p.Session.Dispose()
	p.Pieces.Clear()
	if p.closer != nil {
		if err := p.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
