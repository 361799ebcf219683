package node

import "fmt"

type Kind string

const (
	KindGroup          Kind = "group"
	KindCanvasItem     Kind = "canvas_item"
	KindControl        Kind = "control"
	KindCollisionShape Kind = "collision_shape"
	KindCanvasLayer    Kind = "canvas_layer"
	KindMarker         Kind = "marker"
)

// Kinds lists every kind New understands.
func Kinds() []Kind {
	return []Kind{KindGroup, KindCanvasItem, KindControl, KindCollisionShape, KindCanvasLayer, KindMarker}
}

// Group is a logical node: processable, pausable and input capable, with no
// visual representation.
type Group struct {
	Base
	ProcessFacet
	InputFacet
}

func NewGroup(name string) *Group {
	g := &Group{Base: Base{name: name}}
	g.process, g.physics, g.input = true, true, true
	return g
}

func (g *Group) Kind() Kind { return KindGroup }

// CanvasItem is a drawable 2D element.
type CanvasItem struct {
	Group
	VisibilityFacet
}

func NewCanvasItem(name string) *CanvasItem {
	c := &CanvasItem{Group: *NewGroup(name)}
	c.visible = true
	return c
}

func (c *CanvasItem) Kind() Kind { return KindCanvasItem }

// Control is a gui widget. Input delivery to controls is gated by the
// host's gui input switch.
type Control struct {
	CanvasItem
}

func NewControl(name string) *Control {
	return &Control{CanvasItem: *NewCanvasItem(name)}
}

func (c *Control) Kind() Kind { return KindControl }

func (c *Control) guiControl() {}

// GuiControl is implemented by Control and types embedding it.
type GuiControl interface {
	Node
	guiControl()
}

// CollisionShape steps with physics and can be shown for debugging but
// never receives input.
type CollisionShape struct {
	Base
	ProcessFacet
	VisibilityFacet
}

func NewCollisionShape(name string) *CollisionShape {
	s := &CollisionShape{Base: Base{name: name}}
	s.process, s.physics, s.visible = true, true, true
	return s
}

func (s *CollisionShape) Kind() Kind { return KindCollisionShape }

// CanvasLayer groups gui content on its own draw layer. It has no
// visibility of its own.
type CanvasLayer struct {
	Group
	Layer int
}

func NewCanvasLayer(name string, layer int) *CanvasLayer {
	return &CanvasLayer{Group: *NewGroup(name), Layer: layer}
}

func (l *CanvasLayer) Kind() Kind { return KindCanvasLayer }

// Marker is pure data: a named point in the tree without any facet.
type Marker struct {
	Base
}

func NewMarker(name string) *Marker { return &Marker{Base: Base{name: name}} }

func (m *Marker) Kind() Kind { return KindMarker }

// New builds an empty node of the given kind.
func New(kind Kind, name string) (Node, error) {
	switch kind {
	case KindGroup:
		return NewGroup(name), nil
	case KindCanvasItem:
		return NewCanvasItem(name), nil
	case KindControl:
		return NewControl(name), nil
	case KindCollisionShape:
		return NewCollisionShape(name), nil
	case KindCanvasLayer:
		return NewCanvasLayer(name, 1), nil
	case KindMarker:
		return NewMarker(name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
