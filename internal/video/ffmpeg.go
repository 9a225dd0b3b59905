package video

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ivlev/tacticboard/internal/system"
)

// FFmpegEncoder streams raw RGBA frames through an ffmpeg process.
type FFmpegEncoder struct {
	available map[string]bool
}

// NewFFmpegEncoder probes the local ffmpeg for its video encoders.
func NewFFmpegEncoder(ctx context.Context) (*FFmpegEncoder, error) {
	encoders, err := system.AvailableEncoders(ctx)
	if err != nil {
		return nil, err
	}
	return &FFmpegEncoder{available: encoders}, nil
}

func (e *FFmpegEncoder) Supports(f Format) bool {
	return e.available[f.Codec]
}

func (e *FFmpegEncoder) Open(ctx context.Context, f Format, p Params) (Pipe, error) {
	args := e.buildFFmpegArgs(f, p)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	pipe := &ffmpegPipe{
		cmd:    cmd,
		stdin:  stdin,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
		width:  p.Width,
		height: p.Height,
	}
	go pipe.pump(stdout, p.Timeslice)
	return pipe, nil
}

func (e *FFmpegEncoder) buildFFmpegArgs(f Format, p Params) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", fmt.Sprintf("%d", p.FPS),
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"-c:v", f.Codec,
	}
	args = append(args, f.Args...)
	args = append(args, "-f", f.Name, "pipe:1")
	return args
}

type ffmpegPipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	chunks chan []byte
	done   chan struct{}
	width  int
	height int

	closeOnce sync.Once
	closeErr  error
}

// pump reads encoder output and emits what accumulated every timeslice.
func (p *ffmpegPipe) pump(stdout io.Reader, timeslice time.Duration) {
	defer close(p.done)
	defer close(p.chunks)

	var (
		mu  sync.Mutex
		buf []byte
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		b := make([]byte, 64<<10)
		for {
			n, err := stdout.Read(b)
			if n > 0 {
				mu.Lock()
				buf = append(buf, b[:n]...)
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	flush := func() {
		mu.Lock()
		out := buf
		buf = nil
		mu.Unlock()
		if len(out) > 0 {
			p.chunks <- out
		}
	}

	if timeslice <= 0 {
		timeslice = DefaultTimeslice
	}
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case <-readDone:
			flush()
			return
		}
	}
}

func (p *ffmpegPipe) WriteFrame(frame *image.RGBA) error {
	return writeRawRGBA(p.stdin, frame)
}

func (p *ffmpegPipe) Chunks() <-chan []byte {
	return p.chunks
}

// Close ends the input stream and waits for ffmpeg to exit. The caller must
// keep draining Chunks until it is closed.
func (p *ffmpegPipe) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		<-p.done
		if err := p.cmd.Wait(); err != nil {
			p.closeErr = fmt.Errorf("ffmpeg wait error: %w", err)
		}
	})
	return p.closeErr
}

func writeRawRGBA(w io.Writer, img *image.RGBA) error {
	bounds := img.Bounds()
	rgba := img
	if rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}
