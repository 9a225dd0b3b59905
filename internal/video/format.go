// Package video captures the live canvas into a chunked, downloadable
// video artifact.
package video

import (
	"context"
	"image"
	"time"
)

// Format is a container/codec pair the recorder can produce.
type Format struct {
	Name  string
	Ext   string
	Codec string
	// Args are container specific ffmpeg output options.
	Args []string
}

var (
	WebM = Format{
		Name:  "webm",
		Ext:   "webm",
		Codec: "libvpx-vp9",
		Args:  []string{"-deadline", "realtime", "-cpu-used", "8", "-b:v", "2M"},
	}
	MP4 = Format{
		Name:  "mp4",
		Ext:   "mp4",
		Codec: "libx264",
		Args:  []string{"-preset", "veryfast", "-crf", "23", "-movflags", "frag_keyframe+empty_moov+default_base_moof"},
	}
)

// DefaultFormats is the negotiation order.
var DefaultFormats = []Format{WebM, MP4}

// Params describes the raw frames fed to an encoder.
type Params struct {
	Width     int
	Height    int
	FPS       int
	Timeslice time.Duration
}

// Pipe is one running encode. Frames go in, container fragments come out
// on Chunks roughly every Timeslice. Close flushes the encoder; Chunks is
// closed once the last fragment is delivered.
type Pipe interface {
	WriteFrame(frame *image.RGBA) error
	Chunks() <-chan []byte
	Close() error
}

// Encoder opens pipes for the formats it supports.
type Encoder interface {
	Supports(f Format) bool
	Open(ctx context.Context, f Format, p Params) (Pipe, error)
}

// Negotiate returns the first format in order the encoder supports.
func Negotiate(enc Encoder, order []Format) (Format, bool) {
	for _, f := range order {
		if enc.Supports(f) {
			return f, true
		}
	}
	return Format{}, false
}
