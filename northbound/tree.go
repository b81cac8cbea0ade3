package northbound

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Elem is one step of a configuration path: a name plus the keys selecting
// a list entry, nil for containers and leaves.
type Elem struct {
	Name string
	Keys map[string]string
}

// Node is one vertex of a configuration document tree: a container, a
// keyed list entry or a leaf carrying a value. The host materializes a
// candidate tree, hands its nodes to the reconciler callbacks and promotes
// the tree to running on commit.
type Node struct {
	Name  string
	Keys  map[string]string // list-entry keys, nil otherwise
	Value string            // leaf value, "" otherwise

	parent   *Node
	children []*Node
}

// NewTree returns an empty document root.
func NewTree() *Node {
	return &Node{}
}

// Parent returns the nearest ancestor named name, nil if there is none.
func (n *Node) Parent(name string) *Node {
	for cur := n.parent; cur != nil; cur = cur.parent {
		if cur.Name == name {
			return cur
		}
	}
	return nil
}

// Child returns the first child named name, ignoring keys.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child named name, in document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Field returns the value of the child leaf named name, falling back to
// the node's own key of that name. Empty string when absent.
func (n *Node) Field(name string) string {
	if c := n.Child(name); c != nil {
		return c.Value
	}
	return n.Keys[name]
}

// Typed accessors for leaf values. The host validates values against the
// schema before they get here, but malformed input must still surface as
// an error, not a zero value.

func (n *Node) Uint32() (uint32, error) {
	v, err := strconv.ParseUint(n.Value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a 32-bit unsigned integer", ErrBadValue, n.Value)
	}
	return uint32(v), nil
}

func (n *Node) Uint8() (uint8, error) {
	v, err := strconv.ParseUint(n.Value, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an 8-bit unsigned integer", ErrBadValue, n.Value)
	}
	return uint8(v), nil
}

func (n *Node) Bool() (bool, error) {
	switch n.Value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrBadValue, n.Value)
}

// SchemaPath is the keyless path identifying the attribute, used to select
// the reconciler callback: "/bfd/sessions/single-hop/desired-transmission-interval".
func (n *Node) SchemaPath() string {
	if n.parent == nil {
		return "/"
	}
	var names []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		names = append(names, cur.Name)
	}
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(names[i])
	}
	return b.String()
}

// Path is the canonical instance path including list keys, stable across
// candidate clones. Running-configuration bindings are keyed by it.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	var nodes []*Node
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		nodes = append(nodes, cur)
	}
	var b strings.Builder
	for i := len(nodes) - 1; i >= 0; i-- {
		cur := nodes[i]
		b.WriteByte('/')
		b.WriteString(cur.Name)
		if len(cur.Keys) > 0 {
			names := make([]string, 0, len(cur.Keys))
			for k := range cur.Keys {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(&b, "[%s=%s]", k, cur.Keys[k])
			}
		}
	}
	return b.String()
}

// Elems returns the path of the node as elements, root first.
func (n *Node) Elems() []Elem {
	var nodes []*Node
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		nodes = append(nodes, cur)
	}
	out := make([]Elem, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		out = append(out, Elem{Name: nodes[i].Name, Keys: nodes[i].Keys})
	}
	return out
}

func keysMatch(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (n *Node) findChild(name string, keys map[string]string) *Node {
	for _, c := range n.children {
		if c.Name == name && keysMatch(c.Keys, keys) {
			return c
		}
	}
	return nil
}

// Find walks elems from n, returning nil when any step is missing.
func (n *Node) Find(elems []Elem) *Node {
	cur := n
	for _, e := range elems {
		cur = cur.findChild(e.Name, e.Keys)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Ensure walks elems from n, creating missing steps. It returns the final
// node and every node created along the way, shallowest first. Keys of a
// created list entry are also materialized as child leaves so that
// callbacks read them like any other attribute.
func (n *Node) Ensure(elems []Elem) (*Node, []*Node) {
	var created []*Node
	cur := n
	for _, e := range elems {
		next := cur.findChild(e.Name, e.Keys)
		if next == nil {
			next = &Node{Name: e.Name, parent: cur}
			if len(e.Keys) > 0 {
				next.Keys = make(map[string]string, len(e.Keys))
				for k, v := range e.Keys {
					next.Keys[k] = v
					next.children = append(next.children, &Node{Name: k, Value: v, parent: next})
				}
			}
			cur.children = append(cur.children, next)
			created = append(created, next)
		}
		cur = next
	}
	return cur, created
}

// Detach removes the node from its parent's children. The node keeps its
// parent pointer: destroy callbacks still need to resolve its instance
// path and enclosing entries after the document no longer lists it.
func (n *Node) Detach() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
}

// Detached reports whether n or any of its ancestors was detached from
// its document. Destroy callbacks run on detached nodes; the parent
// pointers survive so instance paths keep resolving.
func (n *Node) Detached() bool {
	for cur := n; cur.parent != nil; cur = cur.parent {
		attached := false
		for _, c := range cur.parent.children {
			if c == cur {
				attached = true
				break
			}
		}
		if !attached {
			return true
		}
	}
	return false
}

// Clone deep-copies the subtree rooted at n. The clone has no parent.
func (n *Node) Clone() *Node {
	out := &Node{Name: n.Name, Value: n.Value}
	if n.Keys != nil {
		out.Keys = make(map[string]string, len(n.Keys))
		for k, v := range n.Keys {
			out.Keys[k] = v
		}
	}
	for _, c := range n.children {
		cc := c.Clone()
		cc.parent = out
		out.children = append(out.children, cc)
	}
	return out
}

// Walk visits the subtree depth-first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// WalkBottomUp visits the subtree depth-first, children before parents.
// Destroy events are staged in this order.
func (n *Node) WalkBottomUp(fn func(*Node)) {
	for _, c := range n.children {
		c.WalkBottomUp(fn)
	}
	fn(n)
}

// IsLeaf reports whether the node carries a value and no children.
func (n *Node) IsLeaf() bool {
	return len(n.children) == 0 && len(n.Keys) == 0
}
