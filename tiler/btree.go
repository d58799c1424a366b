package tiler

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

type NodeType int
type Direction int

const (
	NodeTypeLeaf = NodeType(iota)
	NodeTypeBranch
)

const (
	// Children are stacked, left child on top
	DirectionVertical = Direction(iota)
	// Children are side by side
	DirectionHorizontal
)

type (
	// A tiling tree. One tree per screen/workspace
	// Leaf rectangles are calculated down the tree by Layout
	Tree struct {
		root        *Node
		appToLeaf   map[string]*Node // Stores all leaves by app for quick lookup
		LastFocused *Node
		lock        sync.Mutex
	}

	// Wrapper for either a leaf or a branch
	Node struct {
		Type   NodeType
		Branch *Branch // Must be set if type is NodeTypeBranch, ignored otherwise
		Leaf   *Leaf   // Must be set if type is NodeTypeLeaf, ignored otherwise
		parent *Node
	}

	Branch struct {
		Direction  Direction
		ChildLeft  *Node // Is the top child if split vertically
		ChildRight *Node // Is the bottom child if split vertically
		AspectLeft int   // Percentage the left child has of the container space
	}

	Leaf struct {
		AppId   string
		IsEmpty bool // Indicates that this leaf is empty
	}
)

func NewTree() *Tree {
	root := &Node{
		Type: NodeTypeLeaf,
		Leaf: &Leaf{IsEmpty: true},
	}
	return &Tree{
		root:        root,
		appToLeaf:   map[string]*Node{},
		LastFocused: root,
	}
}

// Find the leaf containing the given app
func (t *Tree) FindApp(appId string) *Leaf {
	t.lock.Lock()
	defer t.lock.Unlock()
	node, ok := t.appToLeaf[appId]
	if !ok {
		return nil
	}
	return node.Leaf
}

// Len returns how many apps the tree holds
func (t *Tree) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.appToLeaf)
}

// Swap the places of two apps
func (t *Tree) SwapApp(app1, app2 string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	node1, ok1 := t.appToLeaf[app1]
	node2, ok2 := t.appToLeaf[app2]
	if !ok1 || !ok2 {
		return
	}
	node1.Leaf, node2.Leaf = node2.Leaf, node1.Leaf
	t.appToLeaf[app1] = node2
	t.appToLeaf[app2] = node1
}

// Add a new app to the tree
// Fills the last focused container if it is empty, splits it otherwise
// Returns false if the app is already in the tree
func (t *Tree) AddApp(appId string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.appToLeaf[appId]; ok {
		return false
	}
	target := t.LastFocused
	if target == nil {
		target = t.firstLeaf(t.root)
	}
	if !target.Leaf.IsEmpty {
		target = t.split(target)
	}
	target.Leaf.AppId = appId
	target.Leaf.IsEmpty = false
	t.appToLeaf[appId] = target
	t.LastFocused = target
	return true
}

// split turns a leaf into a branch holding the old leaf on the left and
// a new empty leaf on the right, which it returns
// Direction alternates with the depth, the first split is vertical
func (t *Tree) split(node *Node) *Node {
	direction := DirectionVertical
	if node.parent != nil && node.parent.Branch.Direction == DirectionVertical {
		direction = DirectionHorizontal
	}
	old := &Node{Type: NodeTypeLeaf, Leaf: node.Leaf, parent: node}
	fresh := &Node{Type: NodeTypeLeaf, Leaf: &Leaf{IsEmpty: true}, parent: node}
	if !old.Leaf.IsEmpty {
		t.appToLeaf[old.Leaf.AppId] = old
	}
	node.Type = NodeTypeBranch
	node.Leaf = nil
	node.Branch = &Branch{
		Direction:  direction,
		ChildLeft:  old,
		ChildRight: fresh,
		AspectLeft: 50,
	}
	return fresh
}

// Remove an app from the tree
// If popParent is true, the parent container will be removed and replaced with the other child
// Otherwise an empty leaf stays behind
func (t *Tree) RemoveApp(appId string, popParent bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	node, ok := t.appToLeaf[appId]
	if !ok {
		// Didn't find app, nothing to do
		return
	}
	delete(t.appToLeaf, appId)
	node.Leaf.AppId = ""
	node.Leaf.IsEmpty = true

	parent := node.parent
	if !popParent || parent == nil {
		return
	}
	sibling := parent.Branch.ChildLeft
	if sibling == node {
		sibling = parent.Branch.ChildRight
	}
	// The parent takes over the sibling's content so pointers into the tree above stay valid
	parent.Type = sibling.Type
	parent.Branch = sibling.Branch
	parent.Leaf = sibling.Leaf
	if parent.Type == NodeTypeBranch {
		parent.Branch.ChildLeft.parent = parent
		parent.Branch.ChildRight.parent = parent
	} else if !parent.Leaf.IsEmpty {
		t.appToLeaf[parent.Leaf.AppId] = parent
	}
	if t.LastFocused == node || t.LastFocused == sibling {
		t.LastFocused = t.firstLeaf(parent)
	}
}

func (t *Tree) firstLeaf(node *Node) *Node {
	for node.Type == NodeTypeBranch {
		node = node.Branch.ChildLeft
	}
	return node
}

// Layout splits bounds between all apps in the tree
func (t *Tree) Layout(bounds image.Rectangle) map[string]image.Rectangle {
	t.lock.Lock()
	defer t.lock.Unlock()
	out := make(map[string]image.Rectangle, len(t.appToLeaf))
	layoutNode(t.root, bounds, out)
	return out
}

func layoutNode(node *Node, bounds image.Rectangle, out map[string]image.Rectangle) {
	if node.Type == NodeTypeLeaf {
		if !node.Leaf.IsEmpty {
			out[node.Leaf.AppId] = bounds
		}
		return
	}
	b := node.Branch
	left, right := bounds, bounds
	switch b.Direction {
	case DirectionVertical:
		mid := bounds.Min.Y + bounds.Dy()*b.AspectLeft/100
		left.Max.Y = mid
		right.Min.Y = mid
	case DirectionHorizontal:
		mid := bounds.Min.X + bounds.Dx()*b.AspectLeft/100
		left.Max.X = mid
		right.Min.X = mid
	}
	layoutNode(b.ChildLeft, left, out)
	layoutNode(b.ChildRight, right, out)
}

func checkNode(node *Node, parent *Node) error {
	if node == nil {
		return errors.New("node is nil")
	}
	if node.parent != parent {
		return errors.New("broken parent link")
	}
	switch node.Type {
	case NodeTypeBranch:
		return checkBranch(node)
	case NodeTypeLeaf:
		if node.Leaf == nil {
			return errors.New("leaf is nil")
		}
		return nil
	}
	return errors.New("invalid node type")
}

func checkBranch(node *Node) error {
	if node.Branch == nil {
		return errors.New("stored branch is nil")
	}
	if node.Branch.AspectLeft <= 0 || node.Branch.AspectLeft >= 100 {
		return fmt.Errorf("invalid aspect %d", node.Branch.AspectLeft)
	}
	if err := checkNode(node.Branch.ChildLeft, node); err != nil {
		return fmt.Errorf("left child: %w", err)
	}
	if err := checkNode(node.Branch.ChildRight, node); err != nil {
		return fmt.Errorf("right child: %w", err)
	}
	return nil
}
