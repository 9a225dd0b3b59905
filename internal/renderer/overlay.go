package renderer

import (
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
)

// ShareOverlay renders a QR code pointing at the board so viewers of the
// exported video can open it.
func ShareOverlay(url string, size int) (image.Image, error) {
	if url == "" {
		return nil, nil
	}
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("share overlay: %w", err)
	}
	qr.DisableBorder = false
	return qr.Image(size), nil
}

// Composite draws overlay over the bottom-right corner of frame, inset by
// margin pixels.
func Composite(frame *image.RGBA, overlay image.Image, margin int) {
	if overlay == nil {
		return
	}
	ob := overlay.Bounds()
	fb := frame.Bounds()
	min := image.Pt(fb.Max.X-ob.Dx()-margin, fb.Max.Y-ob.Dy()-margin)
	if min.X < fb.Min.X || min.Y < fb.Min.Y {
		return
	}
	xdraw.Draw(frame, image.Rectangle{Min: min, Max: min.Add(ob.Size())}, overlay, ob.Min, xdraw.Over)
}

// ScaleInto resizes src to fill dst with bilinear sampling. When sizes match
// the pixels are copied.
func ScaleInto(dst *image.RGBA, src image.Image) {
	if dst.Bounds().Size() == src.Bounds().Size() {
		xdraw.Copy(dst, dst.Bounds().Min, src, src.Bounds(), xdraw.Src, nil)
		return
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}
