package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/metrics"
	"github.com/ivlev/tacticboard/internal/renderer"
	"github.com/ivlev/tacticboard/internal/system"
)

const (
	DefaultFPS       = 60
	DefaultTimeslice = 200 * time.Millisecond
)

var (
	ErrNoSupportedFormat = errors.New("no supported recording format")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrNotStopped        = errors.New("recording has not been stopped")
	ErrEmptyRecording    = errors.New("recording produced no data")
)

// FrameSource yields the current canvas frame.
type FrameSource interface {
	Frame() (*image.RGBA, error)
}

// Prober resolves the duration of a written artifact.
type Prober func(ctx context.Context, path string) (time.Duration, error)

// Options configure one recording.
type Options struct {
	Width      int
	Height     int
	FPS        int
	Timeslice  time.Duration
	TotalPages int
	Interval   time.Duration
	// ShareURL, when set, is stamped as a QR code into every frame.
	ShareURL string
}

// ExpectedDuration is how long a full cycle through every page takes.
func (o Options) ExpectedDuration() time.Duration {
	return time.Duration(o.TotalPages) * o.Interval
}

// Recorder starts recording sessions against one encoder.
type Recorder struct {
	encoder Encoder
	formats []Format
	prober  Prober
	budget  func() (uint64, error)
	frames  *system.FramePool
	logger  zerolog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFormats overrides the negotiation order.
func WithFormats(formats ...Format) RecorderOption {
	return func(r *Recorder) {
		if len(formats) > 0 {
			r.formats = formats
		}
	}
}

// WithProber sets how downloaded artifacts are probed for duration.
func WithProber(p Prober) RecorderOption {
	return func(r *Recorder) { r.prober = p }
}

// WithMemoryBudget sets the source of the buffered-bytes limit.
func WithMemoryBudget(fn func() (uint64, error)) RecorderOption {
	return func(r *Recorder) { r.budget = fn }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

func NewRecorder(enc Encoder, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		encoder: enc,
		formats: DefaultFormats,
		prober:  system.MediaDuration,
		budget:  system.MemoryBudget,
		frames:  system.NewFramePool(),
		logger:  xlog.WithComponent("video"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start negotiates a format and begins capturing src. The returned session
// is owned by the caller.
func (r *Recorder) Start(ctx context.Context, src FrameSource, o Options) (*Session, error) {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Timeslice <= 0 {
		o.Timeslice = DefaultTimeslice
	}
	if o.Width <= 0 || o.Height <= 0 {
		frame, err := src.Frame()
		if err != nil {
			return nil, fmt.Errorf("probe frame size: %w", err)
		}
		o.Width, o.Height = frame.Bounds().Dx(), frame.Bounds().Dy()
	}

	format, ok := Negotiate(r.encoder, r.formats)
	if !ok {
		r.logger.Error().Msg("no supported recording format")
		metrics.RecordingsTotal.WithLabelValues("none", "error").Inc()
		return nil, ErrNoSupportedFormat
	}

	overlay, err := renderer.ShareOverlay(o.ShareURL, min(o.Width, o.Height)/5)
	if err != nil {
		r.logger.Warn().Err(err).Msg("share overlay disabled")
	}

	var limit uint64
	if r.budget != nil {
		if limit, err = r.budget(); err != nil {
			r.logger.Warn().Err(err).Msg("memory budget unavailable")
		}
	}

	// The encoder outlives the capture loop: a normal stop closes its input
	// and waits for the trailer, only a failure kills it.
	encodeCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	pipe, err := r.encoder.Open(encodeCtx, format, Params{
		Width:     o.Width,
		Height:    o.Height,
		FPS:       o.FPS,
		Timeslice: o.Timeslice,
	})
	if err != nil {
		kill()
		r.logger.Error().Err(err).Str(xlog.FieldFormat, format.Name).Msg("failed to open encoder")
		metrics.RecordingsTotal.WithLabelValues(format.Name, "error").Inc()
		return nil, fmt.Errorf("open %s encoder: %w", format.Name, err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		state:       StateRecording,
		format:      format,
		opts:        o,
		started:     time.Now(),
		pipe:        pipe,
		cancel:      cancel,
		kill:        kill,
		overlay:     overlay,
		limit:       limit,
		prober:      r.prober,
		frames:      r.frames,
		logger:      r.logger.With().Str(xlog.FieldFormat, format.Name).Logger(),
		captureDone: make(chan struct{}),
		collectDone: make(chan struct{}),
	}
	go s.collect()
	go s.capture(captureCtx, src)

	s.logger.Info().
		Str(xlog.FieldCodec, format.Codec).
		Int(xlog.FieldFPS, o.FPS).
		Dur(xlog.FieldExpected, o.ExpectedDuration()).
		Msg("recording started")
	return s, nil
}

// State of a recording session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Session is one recording. It is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	state     State
	format    Format
	opts      Options
	started   time.Time
	pausedAt  time.Time
	pausedFor time.Duration
	chunks    [][]byte
	size      int
	limit     uint64
	warned    bool
	err       error

	pipe    Pipe
	cancel  context.CancelFunc // stops the capture loop
	kill    context.CancelFunc // stops the encoder process
	overlay image.Image
	prober  Prober
	frames  *system.FramePool
	logger  zerolog.Logger

	captureDone chan struct{}
	collectDone chan struct{}
	finishOnce  sync.Once
}

func (s *Session) capture(ctx context.Context, src FrameSource) {
	defer close(s.captureDone)

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()
	rect := image.Rect(0, 0, s.opts.Width, s.opts.Height)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		paused := s.state == StatePaused
		s.mu.Unlock()
		if paused {
			continue
		}

		frame, err := src.Frame()
		if err != nil {
			s.fail(fmt.Errorf("capture frame: %w", err))
			return
		}
		out := s.frames.Get(rect)
		renderer.ScaleInto(out, frame)
		renderer.Composite(out, s.overlay, s.opts.Width/80)
		err = s.pipe.WriteFrame(out)
		s.frames.Put(out)
		if err != nil {
			s.fail(fmt.Errorf("encode frame: %w", err))
			return
		}
	}
}

func (s *Session) collect() {
	defer close(s.collectDone)
	for chunk := range s.pipe.Chunks() {
		metrics.RecordingChunkBytes.Observe(float64(len(chunk)))
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.size += len(chunk)
		over := s.limit > 0 && uint64(s.size) > s.limit && !s.warned
		if over {
			s.warned = true
		}
		size := s.size
		s.mu.Unlock()

		if over {
			s.logger.Warn().
				Int(xlog.FieldBytes, size).
				Uint64("limit", s.limit).
				Msg("buffered recording exceeds memory budget")
		}
	}
}

// fail resets the session to idle after a capture error.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("recording failed")
	metrics.RecordingsTotal.WithLabelValues(s.format.Name, "error").Inc()
	s.cancel()
	s.kill()
	go func() { _ = s.pipe.Close() }()
}

// Pause suspends frame capture.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return ErrNotRecording
	}
	s.state = StatePaused
	s.pausedAt = time.Now()
	return nil
}

// Resume continues a paused capture.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return ErrNotRecording
	}
	s.resumeLocked()
	return nil
}

func (s *Session) resumeLocked() {
	s.pausedFor += time.Since(s.pausedAt)
	s.state = StateRecording
}

// Elapsed is the recorded time, pauses excluded.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	paused := s.pausedFor
	if s.state == StatePaused {
		paused += time.Since(s.pausedAt)
	}
	return time.Since(s.started) - paused
}

// Stop ends the recording. A recording shorter than the expected duration
// keeps capturing for the remainder first; a paused one is resumed and
// stopped at once. Cancelling ctx cuts the wait short.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		err := s.err
		s.mu.Unlock()
		s.wait()
		if err != nil {
			return err
		}
		return ErrNotRecording
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StatePaused:
		s.resumeLocked()
		s.mu.Unlock()
		return s.finish()
	}

	expected := s.opts.ExpectedDuration()
	remaining := expected - s.elapsedLocked()
	s.mu.Unlock()

	if remaining > 0 {
		s.logger.Debug().Dur("remaining", remaining).Msg("padding recording to expected duration")
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn().
				Dur(xlog.FieldElapsed, s.Elapsed()).
				Dur(xlog.FieldExpected, expected).
				Msg("recording stopped short of expected duration")
		}
	}
	return s.finish()
}

func (s *Session) finish() error {
	var err error
	s.finishOnce.Do(func() {
		s.cancel()
		<-s.captureDone
		err = s.pipe.Close()
		<-s.collectDone
		s.kill()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			err = s.err
			s.state = StateIdle
			return
		}
		if err != nil {
			s.err = err
			s.state = StateIdle
			s.logger.Error().Err(err).Msg("recording failed to flush")
			metrics.RecordingsTotal.WithLabelValues(s.format.Name, "error").Inc()
			return
		}
		s.state = StateStopped
		s.logger.Info().
			Int(xlog.FieldBytes, s.size).
			Dur(xlog.FieldElapsed, s.elapsedLocked()).
			Msg("recording stopped")
		metrics.RecordingsTotal.WithLabelValues(s.format.Name, "ok").Inc()
	})
	return err
}

func (s *Session) wait() {
	<-s.captureDone
	<-s.collectDone
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Format() Format { return s.format }

// Err is the failure that reset the session to idle, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bytes is the size of the buffered recording.
func (s *Session) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Download writes the stopped recording to dir/<filename>.<ext> atomically
// and returns the path.
func (s *Session) Download(ctx context.Context, dir, filename string) (string, error) {
	s.mu.Lock()
	state, chunks := s.state, s.chunks
	s.mu.Unlock()

	if state != StateStopped {
		return "", ErrNotStopped
	}
	if len(chunks) == 0 {
		return "", ErrEmptyRecording
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename+"."+s.format.Ext)

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending video file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending video file")
		}
	}()

	for _, chunk := range chunks {
		if _, err := pendingFile.Write(chunk); err != nil {
			return "", fmt.Errorf("write video data: %w", err)
		}
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace video file: %w", err)
	}

	if s.prober != nil {
		if d, err := s.prober(ctx, path); err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldPath, path).Msg("could not resolve video duration")
		} else {
			s.logger.Info().Str(xlog.FieldPath, path).Dur("duration", d).Msg("video written")
		}
	}
	return path, nil
}
