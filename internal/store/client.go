package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ivlev/tacticboard/internal/board"
)

// Client talks to the remote tactic board API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. token is sent as a bearer token
// when set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type createdPage struct {
	ID string `json:"id"`
}

func (c *Client) GetBoard(ctx context.Context, boardID string) (*board.Board, error) {
	var b board.Board
	if err := c.do(ctx, http.MethodGet, boardPath(boardID), nil, &b, ErrBoardNotFound); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CreatePage(ctx context.Context, boardID string, page board.Page) (string, error) {
	body, err := board.MarshalPage(page)
	if err != nil {
		return "", err
	}
	var out createdPage
	if err := c.do(ctx, http.MethodPost, boardPath(boardID)+"/pages", body, &out, ErrBoardNotFound); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create page on %s: response carries no id", boardID)
	}
	return out.ID, nil
}

func (c *Client) UpdatePage(ctx context.Context, boardID, pageID string, page board.Page) error {
	body, err := board.MarshalPage(page)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, pagePath(boardID, pageID), body, nil, ErrPageNotFound)
}

func (c *Client) DeletePage(ctx context.Context, boardID, pageID string) error {
	return c.do(ctx, http.MethodDelete, pagePath(boardID, pageID), nil, nil, ErrPageNotFound)
}

func boardPath(boardID string) string {
	return "/api/tactic-boards/" + url.PathEscape(boardID)
}

func pagePath(boardID, pageID string) string {
	return boardPath(boardID) + "/pages/" + url.PathEscape(pageID)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, notFound error) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", notFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
