// Package structdiff flattens a node forest into an order-sensitive
// sequence of structural fingerprints and compares two such sequences for
// shape equality. The predicate is the single gate deciding whether an
// editor-originated change can be absorbed in place (preserving node
// identity, and with it selection and collapse state) or forces a full
// tree rebuild.
package structdiff

import "github.com/varden/mindloom/internal/mindmap"

// FlatItem is the content projection of one node in pre-order. It is
// derived for comparison only, never persisted.
type FlatItem struct {
	ID     string
	Text   string
	Note   string
	Type   mindmap.NodeType
	Level  int // markdown heading level, 0 for list items
	Depth  int // pre-order tree depth
	Indent int
	Kind   string
}

// Flatten projects the forest into pre-order flat items. Level is the
// markdown heading level (0 for list items) — a heading can change level
// without changing tree depth ("## B" → "### B" under "# A"), and that is
// still a shape change. Depth is the pre-order tree depth; Indent is the
// list indentation, 0 when absent.
func Flatten(roots []*mindmap.Node) []FlatItem {
	items := make([]FlatItem, 0, mindmap.Count(roots))
	mindmap.Walk(roots, func(n *mindmap.Node, depth int) bool {
		items = append(items, FlatItem{
			ID:     n.ID,
			Text:   n.Text,
			Note:   n.Note,
			Type:   n.Meta.Type,
			Level:  n.Meta.Level,
			Depth:  depth,
			Indent: n.Meta.IndentLevel,
			Kind:   n.Kind,
		})
		return true
	})
	return items
}

// Matches reports whether the two sequences have the same shape: equal
// length, and per index equal type, level, depth, and kind, plus equal
// indent for list items. Text, note, and id are deliberately ignored so
// that pure content edits never fail the check. A list item changing
// between unordered and ordered fails (type differs): retyping a node
// invalidates surgical patching. A heading gaining or losing hashes fails
// even when its tree depth is unchanged (level differs).
func Matches(prev, next []FlatItem) bool {
	if len(prev) != len(next) {
		return false
	}
	for i := range prev {
		p, n := prev[i], next[i]
		if p.Type != n.Type || p.Level != n.Level || p.Depth != n.Depth || p.Kind != n.Kind {
			return false
		}
		if p.Type.IsList() && p.Indent != n.Indent {
			return false
		}
	}
	return true
}

// FieldChange identifies one position where the text or note differs
// between two shape-equal sequences.
type FieldChange struct {
	Index int
	ID    string // node id from the previous sequence
	Text  string // new text
	Note  string // new note
}

// FieldDiff returns, for two sequences that already satisfy Matches, the
// positions whose text or note differ. Callers apply these as targeted
// field updates on the existing nodes by id.
func FieldDiff(prev, next []FlatItem) []FieldChange {
	var changes []FieldChange
	for i := range prev {
		if prev[i].Text != next[i].Text || prev[i].Note != next[i].Note {
			changes = append(changes, FieldChange{
				Index: i,
				ID:    prev[i].ID,
				Text:  next[i].Text,
				Note:  next[i].Note,
			})
		}
	}
	return changes
}
