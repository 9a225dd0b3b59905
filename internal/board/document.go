package board

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteBoard writes a board document as YAML.
func WriteBoard(b *Board, path string) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadBoard reads a board document from a YAML file and validates its pages.
func ReadBoard(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, err
	}

	for i := range b.Pages {
		if err := b.Pages[i].Validate(); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
	}

	return &b, nil
}

// MarshalPage encodes the page record sent to the page data service. The
// remote id travels out of band and is not part of the record.
func MarshalPage(p Page) ([]byte, error) {
	p.ID = ""
	return json.Marshal(p)
}

// UnmarshalPage decodes a page record.
func UnmarshalPage(data []byte) (Page, error) {
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	return p, nil
}
