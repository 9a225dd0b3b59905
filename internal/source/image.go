package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
)

// ImageSource is a single decoded raster image.
type ImageSource struct {
	img image.Image
}

// OpenImageFile decodes a PNG or JPEG file.
func OpenImageFile(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &ImageSource{img: img}, nil
}

// FetchImage downloads and decodes an image over http.
func FetchImage(ctx context.Context, client *http.Client, url string) (*ImageSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return &ImageSource{img: img}, nil
}

const maxFetchBytes = 32 << 20

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func (s *ImageSource) PageCount() int {
	return 1
}

func (s *ImageSource) RenderPage(index int, dpi int) (image.Image, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: %d", ErrPageRange, index+1)
	}
	return s.img, nil
}

func (s *ImageSource) Close() error {
	return nil
}
