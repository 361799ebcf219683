package node

import (
	"errors"
	"testing"
)

type freeProbe struct {
	*Group
	freed *[]string
}

func (p freeProbe) OnFree() { *p.freed = append(*p.freed, p.Name()) }

func TestAddChild_RejectsSecondParentAndSelf(t *testing.T) {
	a, b, c := NewGroup("a"), NewGroup("b"), NewGroup("c")
	if err := AddChild(a, c); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := AddChild(b, c); !errors.Is(err, ErrHasParent) {
		t.Fatalf("expected ErrHasParent, got %v", err)
	}
	if err := AddChild(a, a); !errors.Is(err, ErrSelfParent) {
		t.Fatalf("expected ErrSelfParent, got %v", err)
	}
	if err := AddChild(nil, c); !errors.Is(err, ErrNilNode) {
		t.Fatalf("expected ErrNilNode, got %v", err)
	}
	if got := Path(c); got != "/a/c" {
		t.Fatalf("path: got %q", got)
	}
}

func TestChildren_ReturnsCopy(t *testing.T) {
	root := NewGroup("root")
	_ = AddChild(root, NewGroup("x"))
	_ = AddChild(root, NewGroup("y"))

	kids := root.Children()
	kids[0], kids[1] = kids[1], kids[0]
	if root.Children()[0].Name() != "x" {
		t.Fatalf("mutating the returned slice must not reorder the tree")
	}
}

func TestDetachAndFindChild(t *testing.T) {
	root := NewGroup("root")
	world := NewGroup("World")
	_ = AddChild(root, world)
	_ = AddChild(root, NewCanvasLayer("Gui", 1))

	if FindChild(root, "World") != Node(world) {
		t.Fatalf("FindChild should return World")
	}
	if !Detach(world) {
		t.Fatalf("detach should report a parent")
	}
	if Detach(world) {
		t.Fatalf("second detach should be a no-op")
	}
	if FindChild(root, "World") != nil {
		t.Fatalf("World should be gone")
	}
	if root.ChildCount() != 1 {
		t.Fatalf("child count: got %d want 1", root.ChildCount())
	}
}

func TestFree_MarksSubtreeAndNotifiesLeavesFirst(t *testing.T) {
	var order []string
	root := NewGroup("root")
	scene := freeProbe{Group: NewGroup("scene"), freed: &order}
	leaf := freeProbe{Group: NewGroup("leaf"), freed: &order}
	_ = AddChild(root, scene)
	_ = AddChild(scene, leaf)

	MarkQueued(scene)
	if !scene.IsQueuedForDeletion() {
		t.Fatalf("scene should be queued")
	}
	Free(scene)

	if IsValid(scene) || IsValid(leaf) {
		t.Fatalf("freed subtree must be invalid")
	}
	if !IsValid(root) {
		t.Fatalf("root must stay valid")
	}
	if root.ChildCount() != 0 {
		t.Fatalf("scene should be detached from root")
	}
	if len(order) != 2 || order[0] != "leaf" || order[1] != "scene" {
		t.Fatalf("free order: %v", order)
	}
	if err := AddChild(root, scene); !errors.Is(err, ErrFreed) {
		t.Fatalf("re-attaching a freed node: got %v", err)
	}
}

func TestWalk_SkipsSubtree(t *testing.T) {
	root := NewGroup("root")
	skip := NewGroup("skip")
	_ = AddChild(root, skip)
	_ = AddChild(skip, NewMarker("hidden"))
	_ = AddChild(root, NewMarker("seen"))

	var names []string
	Walk(root, func(n Node) bool {
		names = append(names, n.Name())
		return n.Name() != "skip"
	})
	if len(names) != 3 {
		t.Fatalf("walk visited %v", names)
	}
	if Count(root) != 4 {
		t.Fatalf("count: got %d want 4", Count(root))
	}
}

func TestNew_CapabilitySets(t *testing.T) {
	cases := []struct {
		kind                         Kind
		process, input, render, ctrl bool
	}{
		{KindGroup, true, true, false, false},
		{KindCanvasItem, true, true, true, false},
		{KindControl, true, true, true, true},
		{KindCollisionShape, true, false, true, false},
		{KindCanvasLayer, true, true, false, false},
		{KindMarker, false, false, false, false},
	}
	for _, tc := range cases {
		n, err := New(tc.kind, "n")
		if err != nil {
			t.Fatalf("New(%s): %v", tc.kind, err)
		}
		if n.Kind() != tc.kind {
			t.Fatalf("kind: got %s want %s", n.Kind(), tc.kind)
		}
		_, p := n.(Processable)
		_, pa := n.(Pausable)
		_, in := n.(InputCapable)
		_, r := n.(Renderable)
		_, c := n.(GuiControl)
		if p != tc.process || pa != tc.process || in != tc.input || r != tc.render || c != tc.ctrl {
			t.Fatalf("%s: process=%v pausable=%v input=%v render=%v control=%v", tc.kind, p, pa, in, r, c)
		}
	}
	if _, err := New("sprite3d", "n"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestParsePauseMode(t *testing.T) {
	for in, want := range map[string]PauseMode{"": PauseInherit, "Stop": PauseStop, " process ": PauseProcess} {
		got, err := ParsePauseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParsePauseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePauseMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}
