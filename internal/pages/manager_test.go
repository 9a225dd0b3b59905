package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ivlev/tacticboard/internal/board"
	"github.com/ivlev/tacticboard/internal/canvas"
	"github.com/ivlev/tacticboard/internal/scene"
	"github.com/ivlev/tacticboard/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var surface = scene.Surface{ID: "board", Width: 640, Height: 400}

// recordingService wraps the in-memory store, logs every write and can be
// told to fail the next n writes of one kind.
type recordingService struct {
	*store.Memory

	mu    sync.Mutex
	calls []string
	fail  map[string]int
}

func (r *recordingService) record(op, call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.fail[op] > 0 {
		r.fail[op]--
		return errors.New("service unavailable")
	}
	return nil
}

func (r *recordingService) failNext(op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]int)
	}
	r.fail[op] = n
}

func (r *recordingService) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingService) CreatePage(ctx context.Context, boardID string, page board.Page) (string, error) {
	if err := r.record(TaskCreate, "create"); err != nil {
		return "", err
	}
	return r.Memory.CreatePage(ctx, boardID, page)
}

func (r *recordingService) UpdatePage(ctx context.Context, boardID, pageID string, page board.Page) error {
	if err := r.record(TaskUpdate, "update:"+pageID); err != nil {
		return err
	}
	return r.Memory.UpdatePage(ctx, boardID, pageID, page)
}

func (r *recordingService) DeletePage(ctx context.Context, boardID, pageID string) error {
	if err := r.record(TaskDelete, "delete:"+pageID); err != nil {
		return err
	}
	return r.Memory.DeletePage(ctx, boardID, pageID)
}

// fixture builds a board whose page i holds one marker object at left=i*100.
func fixture(t *testing.T, n int, opts ...Option) (*Manager, *recordingService, *canvas.Session, []board.Object) {
	t.Helper()
	b := &board.Board{ID: "b1", Name: "Rondo"}
	markers := make([]board.Object, n)
	for i := 0; i < n; i++ {
		markers[i] = board.NewCone()
		markers[i].Left = float64((i + 1) * 100)
		b.Pages = append(b.Pages, board.Page{ID: fmt.Sprintf("p%d", i+1), Objects: []board.Object{markers[i]}})
	}

	svc := &recordingService{Memory: store.NewMemory(b)}
	session := canvas.NewSession(nil)
	opts = append([]Option{WithSaver(NewSaver(WithRetries(2, time.Millisecond)))}, opts...)
	m := NewManager(svc, session, surface, opts...)
	require.NoError(t, m.Open(context.Background(), "b1"))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, svc, session, markers
}

func liveUUIDs(t *testing.T, s *canvas.Session) []string {
	t.Helper()
	p, err := s.GetAllObjectsJSON()
	require.NoError(t, err)
	out := make([]string, len(p.Objects))
	for i := range p.Objects {
		out[i] = p.Objects[i].UUID
	}
	return out
}

func remotePage(t *testing.T, svc *recordingService, n int) board.Page {
	t.Helper()
	b, err := svc.GetBoard(context.Background(), "b1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b.Pages), n)
	return b.Pages[n-1]
}

func TestInitializeLoadsFirstPageLocked(t *testing.T) {
	m, _, session, markers := fixture(t, 3)

	assert.Equal(t, 1, m.CurrentPage())
	assert.Equal(t, 3, m.MaxPages())
	assert.Equal(t, []string{markers[0].UUID}, liveUUIDs(t, session))

	opts := session.Canvas().Options()
	assert.False(t, opts.Selection)
	assert.False(t, opts.Controls)
}

func TestInitializeRejectsEmptyBoard(t *testing.T) {
	m := NewManager(store.NewMemory(), canvas.NewSession(nil), surface)
	defer m.Close(context.Background())

	err := m.InitializeFromTacticBoard(context.Background(), &board.Board{ID: "empty"})
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestForwardNavigationPersistsPreviousPage(t *testing.T) {
	m, svc, session, markers := fixture(t, 3)
	ctx := context.Background()

	ball := board.NewBall()
	require.NoError(t, session.Place(ball))

	require.NoError(t, m.OnLoadPage(ctx, 2, false, false))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, 2, m.CurrentPage())
	assert.Equal(t, []string{markers[1].UUID}, liveUUIDs(t, session))
	assert.Equal(t, []string{"update:p1"}, svc.Calls())
	assert.Len(t, remotePage(t, svc, 1).Objects, 2)
}

func TestBackwardNavigationPersistsTargetPage(t *testing.T) {
	m, svc, session, markers := fixture(t, 3)
	ctx := context.Background()

	require.NoError(t, m.ShowPage(ctx, 3))
	require.NoError(t, m.OnLoadPage(ctx, 2, false, false))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, []string{"update:p2"}, svc.Calls())
	page2 := remotePage(t, svc, 2)
	require.Len(t, page2.Objects, 1)
	assert.Equal(t, markers[2].UUID, page2.Objects[0].UUID, "legacy indexing writes the page being left into the target")
	assert.Equal(t, []string{markers[2].UUID}, liveUUIDs(t, session))
}

func TestBackwardNavigationPersistsLeavingPage(t *testing.T) {
	m, svc, session, markers := fixture(t, 3, WithSaveIndexing(IndexingLeaving))
	ctx := context.Background()

	require.NoError(t, m.ShowPage(ctx, 3))
	require.NoError(t, m.OnLoadPage(ctx, 2, false, false))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, []string{"update:p3"}, svc.Calls())
	assert.Equal(t, markers[1].UUID, remotePage(t, svc, 2).Objects[0].UUID)
	assert.Equal(t, []string{markers[1].UUID}, liveUUIDs(t, session))
}

func TestNewPageClonesLiveContent(t *testing.T) {
	m, svc, session, markers := fixture(t, 2)
	ctx := context.Background()

	require.NoError(t, m.ShowPage(ctx, 2))
	require.NoError(t, m.OnLoadPage(ctx, 3, true, false))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, 3, m.MaxPages())
	assert.Equal(t, 3, m.CurrentPage())
	assert.ElementsMatch(t, []string{"update:p2", "create"}, svc.Calls())
	assert.Equal(t, []string{markers[1].UUID}, liveUUIDs(t, session))

	created := remotePage(t, svc, 3)
	assert.Equal(t, markers[1].UUID, created.Objects[0].UUID, "uuid survives the clone")

	local, err := m.Page(3)
	require.NoError(t, err)
	assert.Equal(t, created.ID, local.ID)
}

func TestNewPageRejectsWrongTarget(t *testing.T) {
	m, _, _, _ := fixture(t, 2)
	err := m.OnLoadPage(context.Background(), 2, true, false)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	assert.Equal(t, 2, m.MaxPages())
}

func TestRemovePageDropsLast(t *testing.T) {
	m, svc, session, markers := fixture(t, 3)
	ctx := context.Background()

	require.NoError(t, m.OnLoadPage(ctx, 3, false, true))
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, 2, m.MaxPages())
	assert.Equal(t, 2, m.CurrentPage())
	assert.Equal(t, []string{"delete:p3"}, svc.Calls())
	assert.Equal(t, []string{markers[1].UUID}, liveUUIDs(t, session))

	b, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, b.Pages, 2)
}

func TestRemoveOnlyPageFails(t *testing.T) {
	m, svc, _, _ := fixture(t, 1)
	err := m.OnLoadPage(context.Background(), 1, false, true)
	assert.ErrorIs(t, err, ErrLastPage)
	assert.Empty(t, svc.Calls())
}

func TestRemoveUncreatedPageSkipsService(t *testing.T) {
	m, svc, _, _ := fixture(t, 1)
	ctx := context.Background()

	svc.failNext(TaskCreate, 100)
	require.NoError(t, m.OnLoadPage(ctx, 2, true, false))
	_ = m.Flush(ctx)
	svc.failNext(TaskCreate, 0)

	require.NoError(t, m.OnLoadPage(ctx, 1, false, true))
	require.NoError(t, m.Flush(ctx))
	for _, c := range svc.Calls() {
		assert.NotContains(t, c, "delete")
	}
}

func TestBothFlagsIsNoop(t *testing.T) {
	m, svc, _, _ := fixture(t, 2)
	require.NoError(t, m.OnLoadPage(context.Background(), 2, true, true))
	assert.Equal(t, 1, m.CurrentPage())
	assert.Equal(t, 2, m.MaxPages())
	assert.Empty(t, svc.Calls())
}

func TestOutOfRangeTarget(t *testing.T) {
	m, _, _, _ := fixture(t, 2)
	for _, target := range []int{0, 3, -1} {
		err := m.OnLoadPage(context.Background(), target, false, false)
		assert.ErrorIs(t, err, ErrPageOutOfRange, "target %d", target)
	}
	assert.Equal(t, 1, m.CurrentPage())
}

func TestInteractionFollowsEditRights(t *testing.T) {
	tests := []struct {
		name       string
		privileged bool
		edit       bool
		want       bool
	}{
		{"editor editing", true, true, true},
		{"editor viewing", true, false, false},
		{"viewer", false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, session, _ := fixture(t, 2)
			require.NoError(t, m.SetEditMode(tt.privileged, tt.edit))
			require.NoError(t, m.OnLoadPage(context.Background(), 2, false, false))

			opts := session.Canvas().Options()
			assert.Equal(t, tt.want, opts.Selection)
			assert.Equal(t, tt.want, opts.Controls)
		})
	}
}

func TestSaveRetriesTransientFailure(t *testing.T) {
	m, svc, _, _ := fixture(t, 2)
	ctx := context.Background()

	svc.failNext(TaskUpdate, 2)
	task, err := m.SaveTacticBoard(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	assert.Equal(t, []string{"update:p1", "update:p1", "update:p1"}, svc.Calls())
	assert.Equal(t, Status{}, m.Saves())
}

func TestSaveFailureIsObservable(t *testing.T) {
	m, svc, _, _ := fixture(t, 2)
	ctx := context.Background()

	svc.failNext(TaskUpdate, 10)
	task, err := m.SaveTacticBoard(ctx)
	require.NoError(t, err)

	assert.Error(t, task.Wait(ctx))
	assert.Error(t, task.Err())
	st := m.Saves()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Failed)
	assert.ErrorContains(t, st.LastError, "service unavailable")
}

func TestNavigationDoesNotSurfaceSaveErrorsByDefault(t *testing.T) {
	m, svc, _, _ := fixture(t, 2)
	svc.failNext(TaskUpdate, 10)
	assert.NoError(t, m.OnLoadPage(context.Background(), 2, false, false))
	assert.Equal(t, 2, m.CurrentPage())
}

func TestBlockingNavigationReturnsSaveError(t *testing.T) {
	m, svc, _, _ := fixture(t, 2, WithBlockingNavigation(true))
	svc.failNext(TaskUpdate, 10)
	err := m.OnLoadPage(context.Background(), 2, false, false)
	assert.ErrorContains(t, err, "service unavailable")
	assert.Equal(t, 2, m.CurrentPage(), "navigation still happens")
}

func TestUpdateCreatesPageWhoseCreateFailed(t *testing.T) {
	m, svc, session, _ := fixture(t, 1)
	ctx := context.Background()

	svc.failNext(TaskCreate, 3)
	require.NoError(t, m.OnLoadPage(ctx, 2, true, false))
	_ = m.Flush(ctx)

	ball := board.NewBall()
	require.NoError(t, session.Place(ball))
	task, err := m.SaveTacticBoard(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	page, err := m.Page(2)
	require.NoError(t, err)
	require.NotEmpty(t, page.ID)
	remote := remotePage(t, svc, 2)
	assert.Equal(t, page.ID, remote.ID)
	assert.Len(t, remote.Objects, 2)
}

func TestRecreatedPageKeepsIdentityWhenOrderDiffers(t *testing.T) {
	m, svc, session, _ := fixture(t, 1)
	ctx := context.Background()

	svc.failNext(TaskCreate, 3)
	require.NoError(t, m.OnLoadPage(ctx, 2, true, false))
	_ = m.Flush(ctx)

	require.NoError(t, session.Place(board.NewBall()))
	require.NoError(t, m.OnLoadPage(ctx, 3, true, false))
	require.NoError(t, session.Place(board.NewCone()))
	task, err := m.SaveTacticBoard(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
	require.NoError(t, m.Flush(ctx))

	remote, err := svc.GetBoard(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, remote.Pages, 3)
	byID := make(map[string]board.Page, len(remote.Pages))
	for _, p := range remote.Pages {
		byID[p.ID] = p
	}

	for n, want := range map[int]int{1: 1, 2: 2, 3: 3} {
		local, err := m.Page(n)
		require.NoError(t, err)
		got, ok := byID[local.ID]
		require.True(t, ok, "page %d has a remote record", n)
		assert.Len(t, got.Objects, want, "page %d content follows its id", n)
	}
}

func TestAnimationIsExclusive(t *testing.T) {
	m, _, _, _ := fixture(t, 2)

	require.NoError(t, m.BeginAnimation())
	assert.True(t, m.IsAnimating())
	assert.ErrorIs(t, m.BeginAnimation(), ErrAlreadyAnimating)
	assert.ErrorIs(t, m.OnLoadPage(context.Background(), 2, false, false), ErrAnimating)

	m.EndAnimation()
	assert.NoError(t, m.BeginAnimation())
}

func TestBoardSnapshotCarriesRemoteIDs(t *testing.T) {
	m, _, _, _ := fixture(t, 2)
	ctx := context.Background()
	require.NoError(t, m.ShowPage(ctx, 2))
	require.NoError(t, m.OnLoadPage(ctx, 3, true, false))
	require.NoError(t, m.Flush(ctx))

	b := m.Board()
	require.Len(t, b.Pages, 3)
	for _, p := range b.Pages {
		assert.NotEmpty(t, p.ID)
	}
}
