package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"scenekeeper.ai/internal/protocol"
	"scenekeeper.ai/internal/scene/node"
)

// Definition is the on-disk form of a scene.
type Definition struct {
	Name string  `yaml:"name,omitempty" json:"name,omitempty"`
	Root NodeDef `yaml:"root" json:"root"`
}

type NodeDef struct {
	Name      string    `yaml:"name" json:"name"`
	Kind      node.Kind `yaml:"kind" json:"kind"`
	PauseMode string    `yaml:"pause_mode,omitempty" json:"pause_mode,omitempty"`
	Visible   *bool     `yaml:"visible,omitempty" json:"visible,omitempty"`
	Layer     *int      `yaml:"layer,omitempty" json:"layer,omitempty"`
	Children  []NodeDef `yaml:"children,omitempty" json:"children,omitempty"`
}

// Count returns the number of nodes d describes, including itself.
func (d NodeDef) Count() int {
	n := 1
	for _, c := range d.Children {
		n += c.Count()
	}
	return n
}

// ParseDefinition decodes a YAML scene definition and validates it against
// the embedded scene schema.
func ParseDefinition(raw []byte) (Definition, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Definition{}, fmt.Errorf("yaml: %w", err)
	}
	if err := protocol.Validate(protocol.SceneSchema, doc); err != nil {
		return Definition{}, fmt.Errorf("schema: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("yaml: %w", err)
	}
	return def, nil
}

// MarshalDefinition renders d as YAML.
func MarshalDefinition(d Definition) ([]byte, error) {
	return yaml.Marshal(d)
}

// Describe converts a live tree back into a definition.
func Describe(name string, root node.Node) Definition {
	return Definition{Name: name, Root: describe(root)}
}

func describe(n node.Node) NodeDef {
	d := NodeDef{Name: n.Name(), Kind: n.Kind()}
	if p, ok := n.(node.Pausable); ok && p.PauseMode() != node.PauseInherit {
		d.PauseMode = p.PauseMode().String()
	}
	if r, ok := n.(node.Renderable); ok && !r.IsVisible() {
		v := false
		d.Visible = &v
	}
	if l, ok := n.(*node.CanvasLayer); ok {
		layer := l.Layer
		d.Layer = &layer
	}
	for _, c := range n.Children() {
		d.Children = append(d.Children, describe(c))
	}
	return d
}

// instantiate builds a single node from its definition, without children.
func instantiate(d NodeDef) (node.Node, error) {
	n, err := node.New(d.Kind, d.Name)
	if err != nil {
		return nil, err
	}
	if d.PauseMode != "" {
		m, err := node.ParsePauseMode(d.PauseMode)
		if err != nil {
			return nil, err
		}
		p, ok := n.(node.Pausable)
		if !ok {
			return nil, fmt.Errorf("%s (%s) has no pause mode", d.Name, d.Kind)
		}
		p.SetPauseMode(m)
	}
	if d.Visible != nil {
		r, ok := n.(node.Renderable)
		if !ok {
			return nil, fmt.Errorf("%s (%s) is not renderable", d.Name, d.Kind)
		}
		r.SetVisible(*d.Visible)
	}
	if d.Layer != nil {
		l, ok := n.(*node.CanvasLayer)
		if !ok {
			return nil, fmt.Errorf("%s (%s) has no layer", d.Name, d.Kind)
		}
		l.Layer = *d.Layer
	}
	return n, nil
}

// Build instantiates a whole definition in one go. Scenes restored from a
// session snapshot use it; resource loads go through Loader instead.
func Build(def Definition) (node.Node, error) {
	return build(def.Root)
}

func build(d NodeDef) (node.Node, error) {
	n, err := instantiate(d)
	if err != nil {
		return nil, err
	}
	for _, cd := range d.Children {
		c, err := build(cd)
		if err != nil {
			node.Free(n)
			return nil, err
		}
		if err := node.AddChild(n, c); err != nil {
			node.Free(n)
			return nil, err
		}
	}
	return n, nil
}
