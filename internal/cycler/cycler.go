// Package cycler steps a board through its pages on a timer, tweening the
// pieces that appear on both pages, optionally recording the canvas while it
// does.
package cycler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/tacticboard/internal/canvas"
	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/metrics"
	"github.com/ivlev/tacticboard/internal/pages"
	"github.com/ivlev/tacticboard/internal/renderer"
	"github.com/ivlev/tacticboard/internal/scene"
	"github.com/ivlev/tacticboard/internal/video"
)

var (
	ErrNotRunning = errors.New("page cycler is not running")
	ErrRunning    = errors.New("page cycler is already running")
)

const (
	DefaultInterval      = 2000 * time.Millisecond
	DefaultTweenDuration = 1000 * time.Millisecond
	DefaultFPS           = 60
)

// Mode selects what a cycle does besides animating.
type Mode struct {
	capture  bool
	recorder *video.Recorder
	opts     video.Options
}

// RenderOnly animates pages without recording.
func RenderOnly() Mode { return Mode{} }

// RenderAndCapture animates pages while recorder captures the canvas.
func RenderAndCapture(recorder *video.Recorder, opts video.Options) Mode {
	return Mode{capture: true, recorder: recorder, opts: opts}
}

func (m Mode) String() string {
	if m.capture {
		return "capture"
	}
	return "render"
}

// Config is the cycle cadence.
type Config struct {
	Interval      time.Duration
	TweenDuration time.Duration
	FPS           int
	Easing        renderer.Easing
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TweenDuration <= 0 {
		c.TweenDuration = DefaultTweenDuration
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Easing == nil {
		c.Easing = renderer.EaseInOutCubic
	}
	return c
}

// Cycler drives one page manager. Only one cycle, rendering or recording,
// can run at a time.
type Cycler struct {
	mgr     *pages.Manager
	session *canvas.Session
	cfg     Config
	onFrame func(*image.RGBA)
	logger  zerolog.Logger

	mu       sync.Mutex
	mode     Mode
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	finished chan struct{}
	rec      *video.Session
	loopErr  error
}

// Option configures a Cycler.
type Option func(*Cycler)

// WithFrameHook receives every frame rendered during a tween.
func WithFrameHook(fn func(*image.RGBA)) Option {
	return func(c *Cycler) { c.onFrame = fn }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cycler) { c.logger = l }
}

func New(mgr *pages.Manager, session *canvas.Session, cfg Config, opts ...Option) *Cycler {
	c := &Cycler{
		mgr:     mgr,
		session: session,
		cfg:     cfg.withDefaults(),
		logger:  xlog.WithComponent("cycler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick advances to the next page, wrapping after the last. Pieces present on
// both pages tween from their live position to the next page's; the next
// page is then loaded as stored, so pieces missing from it disappear only
// once the tween is over.
func (c *Cycler) Tick(ctx context.Context) error {
	total := c.mgr.MaxPages()
	if total == 0 {
		return pages.ErrNoBoard
	}
	next := c.mgr.CurrentPage()%total + 1

	target, err := c.mgr.Page(next)
	if err != nil {
		return err
	}
	live, err := c.session.GetAllObjects()
	if err != nil {
		return err
	}

	var tracks []renderer.Track
	for _, o := range target.Objects {
		from, ok := live[o.UUID]
		if !ok {
			continue
		}
		tracks = append(tracks,
			renderer.Track{UUID: o.UUID, Property: scene.PropLeft, From: from.Left, To: o.Left},
			renderer.Track{UUID: o.UUID, Property: scene.PropTop, From: from.Top, To: o.Top},
		)
	}

	cv := c.session.Canvas()
	if cv == nil {
		return canvas.ErrNoCanvas
	}
	err = cv.Animate(ctx, scene.AnimateOptions{
		Tracks:        tracks,
		Duration:      c.cfg.TweenDuration,
		FrameInterval: time.Second / time.Duration(c.cfg.FPS),
		Easing:        c.cfg.Easing,
		OnChange: func() {
			frame, err := cv.Render()
			if err != nil {
				c.logger.Debug().Err(err).Msg("tween frame not rendered")
				return
			}
			if c.onFrame != nil {
				c.onFrame(frame)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("tween to page %d: %w", next, err)
	}

	if err := c.mgr.ShowPage(ctx, next); err != nil {
		return err
	}
	c.mu.Lock()
	mode := c.mode.String()
	c.mu.Unlock()
	metrics.CyclerTicksTotal.WithLabelValues(mode).Inc()
	c.logger.Debug().Int(xlog.FieldPage, next).Int(xlog.FieldMaxPages, total).Msg("page cycled")
	return nil
}

// Start claims the page manager and begins cycling every Interval. In
// capture mode a recording is started first.
func (c *Cycler) Start(ctx context.Context, mode Mode) error {
	return c.start(ctx, mode, 0)
}

func (c *Cycler) start(ctx context.Context, mode Mode, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	if err := c.mgr.BeginAnimation(); err != nil {
		return err
	}

	var rec *video.Session
	if mode.capture {
		opts := mode.opts
		opts.TotalPages = c.mgr.MaxPages()
		opts.Interval = c.cfg.Interval
		var err error
		rec, err = mode.recorder.Start(ctx, c.session, opts)
		if err != nil {
			c.mgr.EndAnimation()
			return fmt.Errorf("start recording: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.mode = mode
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.finished = make(chan struct{})
	c.rec = rec
	c.loopErr = nil
	go c.loop(loopCtx, limit, c.done, c.finished)

	c.logger.Info().Str("mode", mode.String()).Dur("interval", c.cfg.Interval).Msg("page cycling started")
	return nil
}

func (c *Cycler) loop(ctx context.Context, limit int, done, finished chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("page cycle failed")
			c.mu.Lock()
			c.loopErr = err
			c.mu.Unlock()
			close(finished)
			return
		}
		ticks++
		if limit > 0 && ticks >= limit {
			close(finished)
			return
		}
	}
}

// Stop halts cycling, releases the page manager and, in capture mode, stops
// the recording and returns it.
func (c *Cycler) Stop(ctx context.Context) (*video.Session, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	cancel, done, rec := c.cancel, c.done, c.rec
	c.mu.Unlock()

	cancel()
	<-done
	c.mgr.EndAnimation()

	c.mu.Lock()
	c.running = false
	c.rec = nil
	loopErr := c.loopErr
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			return rec, err
		}
	}
	c.logger.Info().Msg("page cycling stopped")
	return rec, loopErr
}

// Run cycles n times, then stops. It returns the recording in capture mode.
func (c *Cycler) Run(ctx context.Context, mode Mode, n int) (*video.Session, error) {
	if n <= 0 {
		return nil, fmt.Errorf("run cycler: tick count %d", n)
	}
	if err := c.start(ctx, mode, n); err != nil {
		return nil, err
	}
	c.mu.Lock()
	finished := c.finished
	c.mu.Unlock()

	select {
	case <-finished:
	case <-ctx.Done():
	}
	return c.Stop(ctx)
}

// Running reports whether a cycle is active.
func (c *Cycler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
