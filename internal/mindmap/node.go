// Package mindmap defines the domain types for Mindloom: the node tree
// that mirrors a markdown document.
package mindmap

import "github.com/google/uuid"

// NodeType identifies the markdown role of a node.
type NodeType string

const (
	TypeHeading       NodeType = "heading"
	TypeUnorderedList NodeType = "unordered-list"
	TypeOrderedList   NodeType = "ordered-list"
)

// IsList reports whether t is one of the list types.
func (t NodeType) IsList() bool {
	return t == TypeUnorderedList || t == TypeOrderedList
}

// Meta records a node's markdown role: its structural type, heading level,
// list indentation, checkbox state, and the 0-based source line it was
// parsed from. Line is -1 for nodes that were synthesized rather than
// parsed.
type Meta struct {
	Type        NodeType `json:"type"`
	Level       int      `json:"level,omitempty"`
	IndentLevel int      `json:"indent_level,omitempty"`
	Line        int      `json:"line"`
	IsCheckbox  bool     `json:"is_checkbox,omitempty"`
	IsChecked   bool     `json:"is_checked,omitempty"`
}

// Node is one markdown structural unit: a heading or a list item, plus its
// optional note body and ordered children.
//
// A document is a forest ([]*Node); every node has exactly one owner (its
// parent's Children slice or the root slice) and no cycles. Source line
// numbers, where present, increase monotonically in pre-order.
type Node struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Note      string  `json:"note,omitempty"`
	Children  []*Node `json:"children,omitempty"`
	Meta      Meta    `json:"meta"`
	Kind      string  `json:"kind,omitempty"`
	Collapsed bool    `json:"collapsed,omitempty"`
}

// NewNode creates a node with a fresh ID and no source line.
func NewNode(typ NodeType, text string) *Node {
	return &Node{
		ID:   uuid.NewString(),
		Text: text,
		Meta: Meta{Type: typ, Line: -1},
	}
}

// Clone returns a deep copy of the node and its descendants. IDs are
// preserved; the copy shares no slices with the original.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Walk visits the forest in pre-order, calling fn with each node and its
// depth. Traversal stops early when fn returns false.
func Walk(roots []*Node, fn func(n *Node, depth int) bool) {
	var visit func(n *Node, depth int) bool
	visit = func(n *Node, depth int) bool {
		if !fn(n, depth) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	for _, r := range roots {
		if !visit(r, 0) {
			return
		}
	}
}

// Count returns the number of nodes in the forest.
func Count(roots []*Node) int {
	n := 0
	Walk(roots, func(*Node, int) bool { n++; return true })
	return n
}

// FindByID returns the node with the given ID, or nil.
func FindByID(roots []*Node, id string) *Node {
	var found *Node
	Walk(roots, func(n *Node, _ int) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}
