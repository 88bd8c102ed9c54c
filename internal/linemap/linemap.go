// Package linemap derives a bidirectional index between document line
// numbers and node identities, used to correlate an editor cursor with a
// node. The tree is authoritative; the mapping is rebuilt on every
// successful parse.
package linemap

import (
	"sort"

	"github.com/varden/mindloom/internal/mindmap"
)

// Mapping is a derived lookup index. Lines are 1-based to match
// conventional editor numbering (nodes store 0-based source lines).
type Mapping struct {
	lineToNode map[int]string
	nodeToLine map[string]int
	lines      []int // sorted keys of lineToNode
}

// Build collects (line+1) <-> id for every node with a source line.
// Synthesized nodes (no source line) are omitted.
func Build(roots []*mindmap.Node) *Mapping {
	m := &Mapping{
		lineToNode: make(map[int]string),
		nodeToLine: make(map[string]int),
	}
	mindmap.Walk(roots, func(n *mindmap.Node, _ int) bool {
		if n.Meta.Line < 0 {
			return true
		}
		line := n.Meta.Line + 1
		m.lineToNode[line] = n.ID
		m.nodeToLine[n.ID] = line
		m.lines = append(m.lines, line)
		return true
	})
	sort.Ints(m.lines)
	return m
}

// NodeIDByLine returns the node at the given 1-based line. On a miss it
// falls back to the nearest preceding structural line, so a cursor inside
// a multi-line note resolves to the note's owning node. Returns "" when no
// structural line precedes the given one.
func (m *Mapping) NodeIDByLine(line int) string {
	if id, ok := m.lineToNode[line]; ok {
		return id
	}
	// Greatest key <= line.
	i := sort.SearchInts(m.lines, line)
	if i == 0 {
		return ""
	}
	return m.lineToNode[m.lines[i-1]]
}

// LineByNodeID returns the 1-based line of the node, or 0 if unmapped.
func (m *Mapping) LineByNodeID(id string) int {
	return m.nodeToLine[id]
}

// Len returns the number of mapped nodes.
func (m *Mapping) Len() int {
	return len(m.lines)
}
