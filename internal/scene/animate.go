package scene

import (
	"context"
	"fmt"
	"time"

	"github.com/ivlev/tacticboard/internal/renderer"
)

// Animatable properties.
const (
	PropLeft = "left"
	PropTop  = "top"
)

// AnimateOptions describes one tween of object properties.
type AnimateOptions struct {
	Tracks        []renderer.Track
	Duration      time.Duration
	FrameInterval time.Duration
	Easing        renderer.Easing
	// OnChange runs after every frame is applied.
	OnChange func()
	// OnComplete runs once after the last frame. It is not called when the
	// tween is cancelled.
	OnComplete func()
}

// Animate steps every track from From to To over Duration, one frame per
// FrameInterval. Tracks whose uuid is not live are skipped. The last frame
// lands exactly on To.
func (c *Canvas) Animate(ctx context.Context, opts AnimateOptions) error {
	if opts.Easing == nil {
		opts.Easing = renderer.Linear
	}
	for _, tr := range opts.Tracks {
		if tr.Property != PropLeft && tr.Property != PropTop {
			return fmt.Errorf("animate %s: unsupported property %q", tr.UUID, tr.Property)
		}
	}

	frames := renderer.FrameCount(opts.Duration, opts.FrameInterval)
	interval := opts.FrameInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= frames; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.applyFrame(opts.Tracks, opts.Easing(float64(i)/float64(frames))); err != nil {
			return err
		}
		if opts.OnChange != nil {
			opts.OnChange()
		}
	}

	if opts.OnComplete != nil {
		opts.OnComplete()
	}
	return nil
}

func (c *Canvas) applyFrame(tracks []renderer.Track, t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}

	for _, tr := range tracks {
		for i := range c.objects {
			o := &c.objects[i]
			if o.UUID != tr.UUID {
				continue
			}
			switch tr.Property {
			case PropLeft:
				o.Left = tr.Value(t)
			case PropTop:
				o.Top = tr.Value(t)
			}
		}
	}
	return nil
}
