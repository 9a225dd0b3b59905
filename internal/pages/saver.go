package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/ivlev/tacticboard/internal/log"
	"github.com/ivlev/tacticboard/internal/metrics"
)

var ErrSaverClosed = errors.New("saver is closed")

// Task kinds.
const (
	TaskCreate = "create"
	TaskUpdate = "update"
	TaskDelete = "delete"
)

// Task is one queued write against the page data service.
type Task struct {
	Kind string
	Key  string

	fn   func(ctx context.Context) error
	done chan struct{}
	err  error
}

func newTask(kind, key string, fn func(ctx context.Context) error) *Task {
	return &Task{Kind: kind, Key: key, fn: fn, done: make(chan struct{})}
}

// Done is closed once the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the final error. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Status summarizes the saver's outstanding and failed work.
type Status struct {
	Pending   int
	Failed    int
	LastError error
}

// Saver runs page writes through one FIFO queue per page key, so writes for
// the same page never overtake each other. Failed writes are retried with
// quadratic backoff before they are reported.
type Saver struct {
	mu      sync.Mutex
	queues  map[string][]*Task
	running map[string]bool
	pending map[*Task]struct{}
	status  Status
	closed  bool

	retries int
	base    time.Duration
	logger  zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithRetries sets how many times a failed write is retried.
func WithRetries(n int, base time.Duration) SaverOption {
	return func(s *Saver) {
		if n >= 0 {
			s.retries = n
		}
		if base > 0 {
			s.base = base
		}
	}
}

// WithSaverLogger overrides the component logger.
func WithSaverLogger(l zerolog.Logger) SaverOption {
	return func(s *Saver) { s.logger = l }
}

func NewSaver(opts ...SaverOption) *Saver {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Saver{
		queues:  make(map[string][]*Task),
		running: make(map[string]bool),
		pending: make(map[*Task]struct{}),
		retries: 2,
		base:    500 * time.Millisecond,
		logger:  xlog.WithComponent("saver"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends a write to the queue of key and returns its task.
func (s *Saver) Enqueue(key, kind string, fn func(ctx context.Context) error) *Task {
	t := newTask(kind, key, fn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.finish(ErrSaverClosed)
		return t
	}
	s.queues[key] = append(s.queues[key], t)
	s.pending[t] = struct{}{}
	s.status.Pending++
	metrics.SaveQueueDepth.Set(float64(s.status.Pending))
	if !s.running[key] {
		s.running[key] = true
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()
	return t
}

func (s *Saver) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			delete(s.running, key)
			s.mu.Unlock()
			return
		}
		t := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		err := s.run(t)

		s.mu.Lock()
		delete(s.pending, t)
		s.status.Pending--
		if err != nil {
			s.status.Failed++
			s.status.LastError = err
		}
		metrics.SaveQueueDepth.Set(float64(s.status.Pending))
		s.mu.Unlock()

		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.SaveTasksTotal.WithLabelValues(t.Kind, result).Inc()
		t.finish(err)
	}
}

func (s *Saver) run(t *Task) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * s.base
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return s.ctx.Err()
			}
		}

		err := t.fn(s.ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn().Err(err).
			Str(xlog.FieldTask, t.Kind).
			Str(xlog.FieldPageID, t.Key).
			Int(xlog.FieldAttempt, attempt+1).
			Msg("page write failed")
	}

	s.logger.Error().Err(lastErr).
		Str(xlog.FieldTask, t.Kind).
		Str(xlog.FieldPageID, t.Key).
		Msg("page write abandoned")
	return fmt.Errorf("%s page %s failed after %d retries: %w", t.Kind, t.Key, s.retries, lastErr)
}

// Status returns the current counters.
func (s *Saver) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Flush waits for every task queued so far.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.pending))
	for t := range s.pending {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting tasks and waits for the queues to drain. When ctx
// ends first, in-flight writes are cancelled.
func (s *Saver) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-drained
		return ctx.Err()
	}
}
