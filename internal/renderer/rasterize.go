// Package renderer turns live scene objects into pixels and provides the
// tween math used to move them between pages.
package renderer

import (
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"

	"github.com/ivlev/tacticboard/internal/board"
)

// Scene is everything needed to draw one frame.
type Scene struct {
	Width, Height   int
	Background      string // hex colour under the background image
	BackgroundImage image.Image
	Objects         []board.Object
	Images          map[string]image.Image // materialized image objects by Src
}

// Rasterizer draws scenes with gogpu/gg's software renderer.
type Rasterizer struct {
	// FontPath enables text objects; without it text is skipped.
	FontPath   string
	FontPoints float64
}

// Rasterize draws the scene into a new RGBA image of Width x Height.
func (r *Rasterizer) Rasterize(s Scene) (*image.RGBA, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("rasterize: invalid size %dx%d", s.Width, s.Height)
	}

	dc := gg.NewContext(s.Width, s.Height)
	defer dc.Close()

	if s.Background != "" {
		dc.ClearWithColor(gg.Hex(s.Background))
	}
	if s.BackgroundImage != nil {
		dc.DrawImageEx(gg.ImageBufFromImage(s.BackgroundImage), gg.DrawImageOptions{
			DstWidth:  float64(s.Width),
			DstHeight: float64(s.Height),
		})
	}
	if r.FontPath != "" {
		points := r.FontPoints
		if points <= 0 {
			points = 14
		}
		if err := dc.LoadFontFace(r.FontPath, points); err != nil {
			return nil, fmt.Errorf("load font %s: %w", r.FontPath, err)
		}
	}

	for i := range s.Objects {
		if err := r.draw(dc, &s.Objects[i], 1, s.Images); err != nil {
			return nil, fmt.Errorf("draw %s %s: %w", s.Objects[i].Type, s.Objects[i].UUID, err)
		}
	}

	img, ok := dc.Image().(*image.RGBA)
	if !ok {
		return nil, fmt.Errorf("rasterize: unexpected image type %T", dc.Image())
	}
	return img, nil
}

func (r *Rasterizer) draw(dc *gg.Context, o *board.Object, parentOpacity float64, images map[string]image.Image) error {
	if !o.Visible {
		return nil
	}
	opacity := parentOpacity * o.Opacity

	dc.Push()
	defer dc.Pop()

	dc.Translate(o.Left, o.Top)
	if o.Angle != 0 {
		dc.Rotate(o.Angle * math.Pi / 180)
	}
	sx, sy := o.ScaleX, o.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	dc.Scale(sx, sy)

	switch o.Type {
	case board.TypeGroup:
		for i := range o.Objects {
			if err := r.draw(dc, &o.Objects[i], opacity, images); err != nil {
				return err
			}
		}
		return nil
	case board.TypeCircle:
		dc.DrawCircle(o.Radius, o.Radius, o.Radius)
	case board.TypeEllipse:
		dc.DrawEllipse(o.Width/2, o.Height/2, o.Width/2, o.Height/2)
	case board.TypeRect:
		dc.DrawRectangle(0, 0, o.Width, o.Height)
	case board.TypeTriangle:
		dc.MoveTo(o.Width/2, 0)
		dc.LineTo(o.Width, o.Height)
		dc.LineTo(0, o.Height)
		dc.ClosePath()
	case board.TypeLine:
		dc.DrawLine(0, 0, o.Width, o.Height)
		return stroke(dc, o, opacity)
	case board.TypeText:
		if r.FontPath != "" {
			dc.SetColor(colour(o.Fill, opacity).Color())
			dc.DrawString(o.Text, 0, 0)
		}
		return nil
	case board.TypeImage:
		if img := images[o.Src]; img != nil {
			dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
				DstWidth:  o.Width,
				DstHeight: o.Height,
				Opacity:   opacity,
			})
		}
		return nil
	default:
		return nil
	}

	if o.Fill != "" {
		dc.SetColor(colour(o.Fill, opacity).Color())
		if o.Stroke != "" {
			if err := dc.FillPreserve(); err != nil {
				return err
			}
		} else if err := dc.Fill(); err != nil {
			return err
		}
	}
	return stroke(dc, o, opacity)
}

func stroke(dc *gg.Context, o *board.Object, opacity float64) error {
	if o.Stroke == "" {
		dc.ClearPath()
		return nil
	}
	width := o.StrokeWidth
	if width <= 0 {
		width = 1
	}
	dc.SetLineWidth(width)
	dc.SetColor(colour(o.Stroke, opacity).Color())
	return dc.Stroke()
}

func colour(hex string, opacity float64) gg.RGBA {
	c := gg.Hex(hex)
	c.A *= opacity
	return c
}
