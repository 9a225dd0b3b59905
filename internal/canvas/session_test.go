package canvas

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/scene"
)

var surface = scene.Surface{ID: "board", Width: 320, Height: 200}

// gateResolver blocks resolves for the listed sources until released.
type gateResolver struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan string
}

func newGateResolver(srcs ...string) *gateResolver {
	g := &gateResolver{gates: make(map[string]chan struct{}), started: make(chan string, 8)}
	for _, s := range srcs {
		g.gates[s] = make(chan struct{})
	}
	return g
}

func (g *gateResolver) Resolve(ctx context.Context, _, src string) (image.Image, error) {
	g.mu.Lock()
	gate := g.gates[src]
	g.mu.Unlock()
	g.started <- src
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (g *gateResolver) release(src string) { close(g.gates[src]) }

func pageWith(bg string, objs ...board.Object) board.Page {
	p := board.Page{Objects: objs}
	if bg != "" {
		p.BackgroundImage = &board.BackgroundImage{Type: "image", Src: bg, Width: 640, Height: 400}
	}
	return p
}

func TestInitCanvasDisposesPrevious(t *testing.T) {
	s := NewSession(nil)
	first := s.InitCanvas(surface, scene.Options{})
	second := s.InitCanvas(surface, scene.Options{})

	assert.True(t, first.Disposed())
	assert.False(t, second.Disposed())
	assert.Same(t, second, s.Canvas())
}

func TestLoadReplacesContentAndAppliesSize(t *testing.T) {
	r := newGateResolver()
	s := NewSession(r)
	s.InitCanvas(surface, scene.Options{Selection: true})
	require.NoError(t, s.Place(board.NewCone()))

	ball := board.NewBall()
	require.NoError(t, s.LoadFromSerialized(context.Background(), surface, pageWith("pitch.png", ball)))

	objs, err := s.GetAllObjects()
	require.NoError(t, err)
	assert.Len(t, objs, 1)
	assert.Contains(t, objs, ball.UUID)

	w, h := s.Canvas().Dimensions()
	assert.Equal(t, 640, w)
	assert.Equal(t, 400, h)

	sized := pageWith("pitch.png")
	sized.Width, sized.Height = 1024, 768
	require.NoError(t, s.LoadFromSerialized(context.Background(), surface, sized))
	w, h = s.Canvas().Dimensions()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, h)
}

func TestSerializeRoundTripsLoadedPage(t *testing.T) {
	s := NewSession(newGateResolver())
	s.InitCanvas(surface, scene.Options{})

	player := board.NewPlayer(9, "#1d4ed8")
	player.Left, player.Top = 120, 80
	arrow := board.NewArrow(40, -10)
	page := pageWith("pitch.png", player, arrow)
	page.Version = "5.3.0"
	page.Width, page.Height = 800, 500

	require.NoError(t, s.LoadFromSerialized(context.Background(), surface, page))
	got, err := s.GetAllObjectsJSON()
	require.NoError(t, err)

	ignoreSize := cmpopts.IgnoreFields(board.Page{}, "Width", "Height")
	if diff := cmp.Diff(page, got, ignoreSize); diff != "" {
		t.Fatalf("serialized page mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInitializesMissingCanvas(t *testing.T) {
	s := NewSession(nil)
	require.NoError(t, s.LoadFromSerialized(context.Background(), surface, pageWith("", board.NewBall())))
	require.NotNil(t, s.Canvas())

	page, err := s.GetAllObjectsJSON()
	require.NoError(t, err)
	assert.Len(t, page.Objects, 1)
}

func TestOverlappingLoadsKeepNewest(t *testing.T) {
	r := newGateResolver("slow.png")
	s := NewSession(r)
	s.InitCanvas(surface, scene.Options{})

	older := board.NewCone()
	newer := board.NewBall()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.LoadFromSerialized(context.Background(), surface, pageWith("slow.png", older))
	}()
	require.Equal(t, "slow.png", <-r.started)

	require.NoError(t, s.LoadFromSerialized(context.Background(), surface, pageWith("fast.png", newer)))
	<-r.started
	r.release("slow.png")

	assert.ErrorIs(t, <-errCh, ErrLoadSuperseded)
	objs, err := s.GetAllObjects()
	require.NoError(t, err)
	assert.Contains(t, objs, newer.UUID)
	assert.NotContains(t, objs, older.UUID)
}

func TestDrawModeForcesSelectionOff(t *testing.T) {
	s := NewSession(nil)
	c := s.InitCanvas(surface, scene.Options{})

	require.NoError(t, s.SetSelection(true))
	require.NoError(t, s.SetControls(true))
	require.NoError(t, s.SetDrawMode(true))
	assert.Equal(t, scene.Options{Controls: true, DrawMode: true}, c.Options())

	require.NoError(t, s.SetDrawMode(false))
	require.NoError(t, s.SetSelection(true))
	assert.Equal(t, scene.Options{Selection: true, Controls: true}, c.Options())
}

func TestRemoveActiveObjectsFreesJerseyNumbers(t *testing.T) {
	s := NewSession(nil)
	s.InitCanvas(surface, scene.Options{Selection: true})

	p7, p10, cone := board.NewPlayer(7, "#c00"), board.NewPlayer(10, "#c00"), board.NewCone()
	for _, o := range []board.Object{p10, cone, p7} {
		require.NoError(t, s.Place(o))
	}
	require.NoError(t, s.Select(p10.UUID, cone.UUID, p7.UUID))

	removed, err := s.RemoveActiveObjects()
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.Equal(t, []int{7, 10}, JerseyNumbers(removed))

	left, err := s.GetAllObjects()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOperationsWithoutCanvas(t *testing.T) {
	s := NewSession(nil)
	_, err := s.GetAllObjectsJSON()
	assert.ErrorIs(t, err, ErrNoCanvas)
	assert.ErrorIs(t, s.SetSelection(true), ErrNoCanvas)

	s.InitCanvas(surface, scene.Options{})
	s.Dispose()
	_, err = s.Frame()
	assert.ErrorIs(t, err, ErrNoCanvas)
}
