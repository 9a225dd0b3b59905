package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObjectDefaults(t *testing.T) {
	o := NewObject(TypeCircle)

	assert.NotEmpty(t, o.UUID)
	assert.True(t, o.HasDefaultGeometry())

	o.Left, o.Angle, o.Opacity = 40, 90, 0.5
	assert.False(t, o.HasDefaultGeometry())
	o.ResetGeometry()
	assert.True(t, o.HasDefaultGeometry())
}

func TestClonePreservesUUIDs(t *testing.T) {
	p := Page{Objects: []Object{NewPlayer(7, "#d00000"), NewBall()}}

	c := p.Clone()
	if diff := cmp.Diff(p, c); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	c.Objects[0].Objects[1].Text = "9"
	assert.Equal(t, "7", p.Objects[0].Objects[1].Text, "clone must not share children")
	assert.Equal(t, p.Objects[0].Objects[0].UUID, c.Objects[0].Objects[0].UUID)
}

func TestValidate(t *testing.T) {
	player := NewPlayer(4, "#0000ff")

	ok := Page{Objects: []Object{player, NewCone()}}
	require.NoError(t, ok.Validate())

	dup := Page{Objects: []Object{player, player.Clone()}}
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateUUID)

	missing := Page{Objects: []Object{{Type: TypeRect}}}
	assert.ErrorIs(t, missing.Validate(), ErrMissingUUID)
}

func TestJerseyNumber(t *testing.T) {
	p := NewPlayer(10, "#ff0000")
	n, ok := p.JerseyNumber()
	require.True(t, ok)
	assert.Equal(t, 10, n)

	ball := NewBall()
	_, ok = ball.JerseyNumber()
	assert.False(t, ok)
}

func TestBoardDocumentWriteRead(t *testing.T) {
	b := &Board{
		ID:   "b1",
		Name: "Pressing 4-4-2",
		Tags: []string{"pressing"},
		Pages: []Page{
			{
				Version:         "5.3.0",
				Objects:         []Object{NewPlayer(9, "#ff0000"), NewArrow(120, -40)},
				BackgroundImage: &BackgroundImage{Type: "image", Src: "pitch.png", Width: 1280, Height: 720},
			},
			{Objects: []Object{NewBall()}},
		},
	}

	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, WriteBoard(b, path))

	got, err := ReadBoard(path)
	require.NoError(t, err)
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("board mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBoardDefaultsOmittedGeometry(t *testing.T) {
	doc := `id: hand
name: Hand written
pages:
  - objects:
      - uuid: c1
        type: circle
        left: 40
        top: 30
        radius: 12
        fill: "#ff0000"
      - uuid: c2
        type: circle
        visible: false
        opacity: 0.5
      - uuid: g1
        type: group
        objects:
          - uuid: t1
            type: text
            text: "7"
`
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	b, err := ReadBoard(path)
	require.NoError(t, err)
	objs := b.Pages[0].Objects
	require.Len(t, objs, 3)

	c := objs[0]
	assert.True(t, c.Visible)
	assert.Equal(t, 1.0, c.Opacity)
	assert.Equal(t, 1.0, c.ScaleX)
	assert.Equal(t, 1.0, c.ScaleY)
	assert.Equal(t, 40.0, c.Left)
	assert.Equal(t, 12.0, c.Radius)

	assert.False(t, objs[1].Visible, "explicit values win")
	assert.Equal(t, 0.5, objs[1].Opacity)

	child := objs[2].Objects[0]
	assert.True(t, child.Visible, "nested objects get the defaults too")
	assert.Equal(t, 1.0, child.Opacity)
}

func TestUnmarshalPageDefaultsOmittedGeometry(t *testing.T) {
	p, err := UnmarshalPage([]byte(`{"objects":[{"uuid":"c1","type":"circle","left":5}]}`))
	require.NoError(t, err)
	require.Len(t, p.Objects, 1)
	assert.True(t, p.Objects[0].Visible)
	assert.Equal(t, 1.0, p.Objects[0].Opacity)
	assert.Equal(t, 1.0, p.Objects[0].ScaleX)
	assert.Equal(t, 5.0, p.Objects[0].Left)
}

func TestMarshalPageDropsRemoteID(t *testing.T) {
	p := Page{ID: "remote-1", Version: "5.3.0", Objects: []Object{NewBall()}}

	data, err := MarshalPage(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "remote-1")

	back, err := UnmarshalPage(data)
	require.NoError(t, err)
	assert.Empty(t, back.ID)
	assert.Equal(t, p.Objects, back.Objects)
}
