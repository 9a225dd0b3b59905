package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/tacticboard/internal/board"
)

// service mirrors the page data service the page manager consumes.
type service interface {
	GetBoard(ctx context.Context, boardID string) (*board.Board, error)
	CreatePage(ctx context.Context, boardID string, page board.Page) (string, error)
	UpdatePage(ctx context.Context, boardID, pageID string, page board.Page) error
	DeletePage(ctx context.Context, boardID, pageID string) error
}

func sampleBoard() *board.Board {
	player := board.NewPlayer(9, "#1e40af")
	player.Left, player.Top = 120, 80
	return &board.Board{
		ID:   "b1",
		Name: "Pressing drill",
		Tags: []string{"u12"},
		Pages: []board.Page{
			{ID: "p1", Version: "5.3.0", Objects: []board.Object{player}},
			{ID: "p2", Version: "5.3.0", BackgroundImage: &board.BackgroundImage{Type: "image", Src: "pitch.png", Width: 800, Height: 500}},
		},
	}
}

func exerciseService(t *testing.T, svc service, want *board.Board) {
	t.Helper()
	ctx := context.Background()

	got, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("board mismatch (-want +got):\n%s", diff)
	}

	cone := board.NewCone()
	id, err := svc.CreatePage(ctx, "b1", board.Page{Objects: []board.Object{cone}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	moved := got.Pages[0].Clone()
	moved.Objects[0].Left = 300
	require.NoError(t, svc.UpdatePage(ctx, "b1", "p1", moved))
	require.NoError(t, svc.DeletePage(ctx, "b1", "p2"))

	got, err = svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, "p1", got.Pages[0].ID)
	assert.Equal(t, 300.0, got.Pages[0].Objects[0].Left)
	assert.Equal(t, id, got.Pages[1].ID)
	assert.Equal(t, cone.UUID, got.Pages[1].Objects[0].UUID)

	_, err = svc.GetBoard(ctx, "missing")
	assert.ErrorIs(t, err, ErrBoardNotFound)
	assert.ErrorIs(t, svc.UpdatePage(ctx, "b1", "nope", moved), ErrPageNotFound)
	assert.ErrorIs(t, svc.DeletePage(ctx, "b1", "nope"), ErrPageNotFound)
	_, err = svc.CreatePage(ctx, "missing", moved)
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestMemoryService(t *testing.T) {
	b := sampleBoard()
	exerciseService(t, NewMemory(b.Clone()), b)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory(sampleBoard())
	b, err := m.GetBoard(context.Background(), "b1")
	require.NoError(t, err)
	b.Pages[0].Objects[0].Left = -1

	again, err := m.GetBoard(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 120.0, again.Pages[0].Objects[0].Left)
}

func TestSQLiteService(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "boards.db"))
	require.NoError(t, err)
	defer s.Close()

	b := sampleBoard()
	require.NoError(t, s.PutBoard(context.Background(), b.Clone()))
	exerciseService(t, s, b)
}

func TestSQLitePutBoardReplacesPages(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "boards.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	b := sampleBoard()
	require.NoError(t, s.PutBoard(ctx, b))
	b.Pages = b.Pages[:1]
	b.Name = "Renamed"
	require.NoError(t, s.PutBoard(ctx, b))

	got, err := s.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Len(t, got.Pages, 1)
}

// fakeAPI is an in-memory rendition of the remote tactic board API.
func fakeAPI(t *testing.T, token string, b *board.Board) *httptest.Server {
	t.Helper()
	mem := NewMemory(b.Clone())
	mux := http.NewServeMux()

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	fail := func(w http.ResponseWriter, err error) {
		http.Error(w, err.Error(), http.StatusNotFound)
	}
	readPage := func(r *http.Request) board.Page {
		data, _ := io.ReadAll(r.Body)
		p, err := board.UnmarshalPage(data)
		require.NoError(t, err)
		return p
	}

	mux.HandleFunc("GET /api/tactic-boards/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		b, err := mem.GetBoard(r.Context(), r.PathValue("id"))
		if err != nil {
			fail(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(b)
	}))
	mux.HandleFunc("POST /api/tactic-boards/{id}/pages", auth(func(w http.ResponseWriter, r *http.Request) {
		id, err := mem.CreatePage(r.Context(), r.PathValue("id"), readPage(r))
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createdPage{ID: id})
	}))
	mux.HandleFunc("PUT /api/tactic-boards/{id}/pages/{pageId}", auth(func(w http.ResponseWriter, r *http.Request) {
		if err := mem.UpdatePage(r.Context(), r.PathValue("id"), r.PathValue("pageId"), readPage(r)); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("DELETE /api/tactic-boards/{id}/pages/{pageId}", auth(func(w http.ResponseWriter, r *http.Request) {
		if err := mem.DeletePage(r.Context(), r.PathValue("id"), r.PathValue("pageId")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientService(t *testing.T) {
	b := sampleBoard()
	srv := fakeAPI(t, "secret", b)
	exerciseService(t, NewClient(srv.URL+"/", "secret").WithHTTPClient(srv.Client()), b)
}

func TestClientSurfacesAuthFailure(t *testing.T) {
	srv := fakeAPI(t, "secret", sampleBoard())
	c := NewClient(srv.URL, "wrong")

	_, err := c.GetBoard(context.Background(), "b1")
	assert.ErrorContains(t, err, "status 401")
}
