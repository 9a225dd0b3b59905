package board

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Object types understood by the scene engine.
const (
	TypeCircle   = "circle"
	TypeRect     = "rect"
	TypeTriangle = "triangle"
	TypeLine     = "line"
	TypeEllipse  = "ellipse"
	TypeText     = "text"
	TypeImage    = "image"
	TypeGroup    = "group"
)

// Object is one drawable piece. UUID is assigned once by NewObject and
// survives serialization and Clone; it is the only identity used to match
// objects across pages.
type Object struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Type string `json:"type" yaml:"type"`

	Left    float64 `json:"left" yaml:"left"`
	Top     float64 `json:"top" yaml:"top"`
	Width   float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height  float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Radius  float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	ScaleX  float64 `json:"scaleX" yaml:"scale_x"`
	ScaleY  float64 `json:"scaleY" yaml:"scale_y"`
	Angle   float64 `json:"angle" yaml:"angle"`
	Opacity float64 `json:"opacity" yaml:"opacity"`
	Visible bool    `json:"visible" yaml:"visible"`

	Fill        string  `json:"fill,omitempty" yaml:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty" yaml:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" yaml:"stroke_width,omitempty"`

	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	Src  string `json:"src,omitempty" yaml:"src,omitempty"`

	Objects []Object `json:"objects,omitempty" yaml:"objects,omitempty"`
}

// NewObject creates an object of the given type with a fresh uuid and
// default geometry.
func NewObject(typ string) Object {
	o := Object{UUID: uuid.NewString(), Type: typ}
	o.ResetGeometry()
	return o
}

// ResetGeometry puts the object back to the neutral transform.
func (o *Object) ResetGeometry() {
	o.Left = 0
	o.Top = 0
	o.ScaleX = 1
	o.ScaleY = 1
	o.Angle = 0
	o.Opacity = 1
	o.Visible = true
}

// objectFields has Object's layout without its decode hooks.
type objectFields Object

// UnmarshalYAML starts from the neutral transform, so a hand-written object
// that leaves out visible, opacity or scale stays drawable.
func (o *Object) UnmarshalYAML(value *yaml.Node) error {
	f := objectFields(neutralObject())
	if err := value.Decode(&f); err != nil {
		return err
	}
	*o = Object(f)
	return nil
}

// UnmarshalJSON applies the same defaults as UnmarshalYAML to page records.
func (o *Object) UnmarshalJSON(data []byte) error {
	f := objectFields(neutralObject())
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*o = Object(f)
	return nil
}

func neutralObject() Object {
	var o Object
	o.ResetGeometry()
	return o
}

// HasDefaultGeometry reports whether the transform equals ResetGeometry's.
func (o *Object) HasDefaultGeometry() bool {
	return o.Left == 0 && o.Top == 0 && o.ScaleX == 1 && o.ScaleY == 1 &&
		o.Angle == 0 && o.Opacity == 1 && o.Visible
}

// Clone deep-copies the object keeping every uuid.
func (o Object) Clone() Object {
	out := o
	if o.Objects != nil {
		out.Objects = make([]Object, len(o.Objects))
		for i := range o.Objects {
			out.Objects[i] = o.Objects[i].Clone()
		}
	}
	return out
}

// JerseyNumber returns the number carried by a player piece: a group whose
// text child parses as an integer. Plain shapes carry no number.
func (o *Object) JerseyNumber() (int, bool) {
	if o.Type != TypeGroup {
		return 0, false
	}
	for i := range o.Objects {
		child := &o.Objects[i]
		if child.Type != TypeText {
			continue
		}
		if n, err := strconv.Atoi(child.Text); err == nil {
			return n, true
		}
	}
	return 0, false
}

// NewPlayer builds a player piece: a filled circle with the jersey number on
// top, grouped so both move together.
func NewPlayer(number int, fill string) Object {
	g := NewObject(TypeGroup)
	g.Width, g.Height = 36, 36

	body := NewObject(TypeCircle)
	body.Radius = 18
	body.Fill = fill
	body.Stroke = "#ffffff"
	body.StrokeWidth = 2

	label := NewObject(TypeText)
	label.Text = strconv.Itoa(number)
	label.Fill = "#ffffff"
	label.Left, label.Top = 12, 10

	g.Objects = []Object{body, label}
	return g
}

// NewCone builds a training cone.
func NewCone() Object {
	o := NewObject(TypeTriangle)
	o.Width, o.Height = 18, 18
	o.Fill = "#ff8c00"
	return o
}

// NewBall builds a ball.
func NewBall() Object {
	o := NewObject(TypeCircle)
	o.Radius = 7
	o.Fill = "#ffffff"
	o.Stroke = "#000000"
	o.StrokeWidth = 1
	return o
}

// NewArrow builds a movement line from the origin to (dx, dy).
func NewArrow(dx, dy float64) Object {
	o := NewObject(TypeLine)
	o.Width, o.Height = dx, dy
	o.Stroke = "#ffff00"
	o.StrokeWidth = 3
	return o
}
