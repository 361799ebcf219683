// Package activation switches whole subtrees on or off.
package activation

import "scenekeeper.ai/internal/scene/node"

// SetActive sets stepping, input handling and visibility on n and every
// descendant. Each facet is applied only where the node supports it, so
// purely logical nodes keep no visibility state and markers are untouched.
func SetActive(n node.Node, enabled bool) {
	if n == nil {
		return
	}
	if p, ok := n.(node.Processable); ok {
		p.SetProcess(enabled)
		p.SetPhysicsProcess(enabled)
	}
	if in, ok := n.(node.InputCapable); ok {
		in.SetProcessInput(enabled)
	}
	if r, ok := n.(node.Renderable); ok {
		r.SetVisible(enabled)
	}
	for _, c := range n.Children() {
		SetActive(c, enabled)
	}
}

// State is the per-node result of SetActive, used to compare trees.
type State struct {
	Path       string
	Processing bool
	Physics    bool
	Input      bool
	Visible    bool
}

// Snapshot records the activation facets of every node under n, keyed by path.
func Snapshot(n node.Node) map[string]State {
	out := map[string]State{}
	node.Walk(n, func(cur node.Node) bool {
		st := State{Path: node.Path(cur)}
		if p, ok := cur.(node.Processable); ok {
			st.Processing = p.IsProcessing()
			st.Physics = p.IsPhysicsProcessing()
		}
		if in, ok := cur.(node.InputCapable); ok {
			st.Input = in.IsProcessingInput()
		}
		if r, ok := cur.(node.Renderable); ok {
			st.Visible = r.IsVisible()
		}
		out[st.Path] = st
		return true
	})
	return out
}
