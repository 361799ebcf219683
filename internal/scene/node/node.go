package node

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNilNode     = errors.New("nil node")
	ErrHasParent   = errors.New("node already has a parent")
	ErrFreed       = errors.New("node has been freed")
	ErrSelfParent  = errors.New("node cannot be its own parent")
	ErrUnknownKind = errors.New("unknown node kind")
)

// Node is an element of a scene tree. Concrete types gain behavior by
// embedding the facet structs in facets.go; callers discover what a node
// can do by asserting the capability interfaces.
type Node interface {
	Name() string
	Kind() Kind
	Parent() Node
	Children() []Node
	base() *Base
}

// Base holds tree structure shared by every node type.
type Base struct {
	name     string
	parent   Node
	children []Node

	queued bool
	freed  bool
}

func (b *Base) Name() string { return b.name }

func (b *Base) Parent() Node { return b.parent }

// Children returns a copy; reordering it does not affect the tree.
func (b *Base) Children() []Node {
	out := make([]Node, len(b.children))
	copy(out, b.children)
	return out
}

func (b *Base) ChildCount() int { return len(b.children) }

func (b *Base) IsQueuedForDeletion() bool { return b.queued }

func (b *Base) base() *Base { return b }

// AddChild appends child to parent's children.
func AddChild(parent, child Node) error {
	if isNil(parent) || isNil(child) {
		return ErrNilNode
	}
	pb, cb := parent.base(), child.base()
	if pb == cb {
		return ErrSelfParent
	}
	if pb.freed || cb.freed {
		return ErrFreed
	}
	if cb.parent != nil {
		return fmt.Errorf("%w: %s", ErrHasParent, Path(child))
	}
	cb.parent = parent
	pb.children = append(pb.children, child)
	return nil
}

// Detach removes n from its parent. It reports whether n had a parent.
func Detach(n Node) bool {
	if isNil(n) {
		return false
	}
	b := n.base()
	if b.parent == nil {
		return false
	}
	pb := b.parent.base()
	for i, c := range pb.children {
		if c.base() == b {
			pb.children = append(pb.children[:i], pb.children[i+1:]...)
			break
		}
	}
	b.parent = nil
	return true
}

// FindChild returns the direct child called name, or nil.
func FindChild(parent Node, name string) Node {
	if isNil(parent) {
		return nil
	}
	for _, c := range parent.base().children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's subtree.
func Walk(n Node, fn func(Node) bool) {
	if isNil(n) {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.base().children {
		Walk(c, fn)
	}
}

// Count returns the number of nodes in the subtree rooted at n.
func Count(n Node) int {
	total := 0
	Walk(n, func(Node) bool {
		total++
		return true
	})
	return total
}

// Path renders the slash separated names from the topmost ancestor to n.
func Path(n Node) string {
	if isNil(n) {
		return ""
	}
	var parts []string
	for cur := n; cur != nil; cur = cur.Parent() {
		parts = append(parts, cur.Name())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// MarkQueued flags n for deferred deletion. The host frees it later with Free.
func MarkQueued(n Node) {
	if isNil(n) {
		return
	}
	n.base().queued = true
}

// Free detaches n and marks the whole subtree freed. Nodes implementing
// Freer are notified leaves first.
func Free(n Node) {
	if isNil(n) {
		return
	}
	Detach(n)
	free(n)
}

func free(n Node) {
	b := n.base()
	for _, c := range b.children {
		free(c)
	}
	if f, ok := n.(Freer); ok && !b.freed {
		f.OnFree()
	}
	b.freed = true
	b.queued = false
}

// IsValid reports whether n is non-nil and has not been freed.
func IsValid(n Node) bool {
	return !isNil(n) && !n.base().freed
}

// Freer is implemented by nodes that release resources when freed.
type Freer interface {
	OnFree()
}

func isNil(n Node) bool { return n == nil }
