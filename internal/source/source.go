// Package source materializes background and image-object pixels for the
// scene engine: PDF pages through go-fitz, raster files from disk or http.
package source

import (
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

var (
	ErrUnsupportedType = errors.New("unsupported image source type")
	ErrPageRange       = errors.New("source page out of range")
)

// Source is a paged image provider.
type Source interface {
	PageCount() int
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

// RenderPage rasterizes the zero-based page at dpi.
func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	if index < 0 || index >= f.doc.NumPage() {
		return nil, fmt.Errorf("%w: %d of %d in %s", ErrPageRange, index+1, f.doc.NumPage(), f.path)
	}
	return f.doc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
