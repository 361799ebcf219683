// Package active defines the bundle the coordinator treats as "the current
// scene": a root node with a World subtree and a Gui subtree.
package active

import (
	"errors"
	"fmt"

	"scenekeeper.ai/internal/scene/node"
)

const (
	WorldNodeName = "World"
	GuiNodeName   = "Gui"
)

var ErrInvalidSceneShape = errors.New("invalid scene shape")

// World is the simulation subtree root.
type World interface {
	node.Node
	node.Processable
	node.Pausable
}

// Gui is the presentation subtree root.
type Gui interface {
	node.Node
	node.Processable
	node.Pausable
	node.InputCapable
}

// Scene is immutable once built. Its facets may be toggled but the handles
// never change; a new scene replaces it wholesale.
type Scene struct {
	root  node.Node
	world World
	gui   Gui
}

// New checks that root exposes conforming World and Gui children. The scene
// root is set to keep processing while paused; both subtrees start stopped.
func New(root node.Node) (*Scene, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", ErrInvalidSceneShape)
	}
	for _, name := range []string{WorldNodeName, GuiNodeName} {
		if n := countChildren(root, name); n > 1 {
			return nil, fmt.Errorf("%w: %s has %d %s children", ErrInvalidSceneShape, root.Name(), n, name)
		}
	}
	w := node.FindChild(root, WorldNodeName)
	if w == nil {
		return nil, fmt.Errorf("%w: %s has no %s child", ErrInvalidSceneShape, root.Name(), WorldNodeName)
	}
	world, ok := w.(World)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s) is not pausable", ErrInvalidSceneShape, node.Path(w), w.Kind())
	}
	g := node.FindChild(root, GuiNodeName)
	if g == nil {
		return nil, fmt.Errorf("%w: %s has no %s child", ErrInvalidSceneShape, root.Name(), GuiNodeName)
	}
	gui, ok := g.(Gui)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s) is not pausable and input capable", ErrInvalidSceneShape, node.Path(g), g.Kind())
	}

	if p, ok := root.(node.Pausable); ok {
		p.SetPauseMode(node.PauseProcess)
	}
	world.SetPauseMode(node.PauseStop)
	gui.SetPauseMode(node.PauseStop)

	return &Scene{root: root, world: world, gui: gui}, nil
}

func countChildren(parent node.Node, name string) int {
	n := 0
	for _, c := range parent.Children() {
		if c.Name() == name {
			n++
		}
	}
	return n
}

func (s *Scene) Root() node.Node { return s.root }
func (s *Scene) World() World    { return s.world }
func (s *Scene) Gui() Gui        { return s.gui }
func (s *Scene) Name() string    { return s.root.Name() }
