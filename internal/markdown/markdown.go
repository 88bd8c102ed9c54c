// Package markdown converts between markdown text and the mindmap node
// tree. Only structural lines (headings and list items) become nodes;
// everything else attaches verbatim to the nearest preceding node as its
// note body.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/varden/mindloom/internal/apperr"
	"github.com/varden/mindloom/internal/mindmap"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listRe    = regexp.MustCompile(`^([ \t]*)(-|\d+\.)\s+(.*)$`)
)

// Options controls parsing behavior.
type Options struct {
	// CollapseDepth marks nodes deeper than this as collapsed.
	// Zero or negative disables collapse marking.
	CollapseDepth int
}

// Parse scans markdown text into a node forest. Heading lines nest under
// the most recent shallower heading; list lines nest by indentation under
// the nearest enclosing heading or list item. Each node records its
// 0-based source line. Returns apperr.ErrNoStructure when the text
// contains no heading and no list item.
func Parse(text string, opts Options) ([]*mindmap.Node, error) {
	var roots []*mindmap.Node

	// headings[i] is the open heading at level i; lists tracks the open
	// list-item chain under the current heading.
	type openList struct {
		node   *mindmap.Node
		indent int
		depth  int
	}
	var headings []*mindmap.Node
	var headingDepths []int
	var lists []openList
	var last *mindmap.Node

	attach := func(parent *mindmap.Node, n *mindmap.Node) {
		if parent == nil {
			roots = append(roots, n)
		} else {
			parent.Children = append(parent.Children, n)
		}
	}

	lines := strings.Split(text, "\n")
	for lineNo, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			level := len(m[1]) - 1
			// Pop headings at the same or deeper level.
			for len(headings) > 0 && headings[len(headings)-1].Meta.Level >= level {
				headings = headings[:len(headings)-1]
				headingDepths = headingDepths[:len(headingDepths)-1]
			}
			lists = lists[:0]

			var parent *mindmap.Node
			depth := 0
			if len(headings) > 0 {
				parent = headings[len(headings)-1]
				depth = headingDepths[len(headingDepths)-1] + 1
			}
			n := &mindmap.Node{
				ID:   uuid.NewString(),
				Text: strings.TrimSpace(m[2]),
				Meta: mindmap.Meta{
					Type:  mindmap.TypeHeading,
					Level: level,
					Line:  lineNo,
				},
			}
			attach(parent, n)
			headings = append(headings, n)
			headingDepths = append(headingDepths, depth)
			markCollapsed(n, depth, opts.CollapseDepth)
			last = n
			continue
		}

		if m := listRe.FindStringSubmatch(line); m != nil {
			indent := indentWidth(m[1])
			// Pop list items at the same or deeper indentation.
			for len(lists) > 0 && lists[len(lists)-1].indent >= indent {
				lists = lists[:len(lists)-1]
			}

			var parent *mindmap.Node
			depth := 0
			switch {
			case len(lists) > 0:
				parent = lists[len(lists)-1].node
				depth = lists[len(lists)-1].depth + 1
			case len(headings) > 0:
				parent = headings[len(headings)-1]
				depth = headingDepths[len(headingDepths)-1] + 1
			}

			typ := mindmap.TypeUnorderedList
			if m[2] != "-" {
				typ = mindmap.TypeOrderedList
			}
			body := m[3]
			isCheckbox, isChecked := false, false
			if typ == mindmap.TypeUnorderedList {
				switch {
				case strings.HasPrefix(body, "[ ] "):
					isCheckbox = true
					body = body[4:]
				case strings.HasPrefix(body, "[x] "), strings.HasPrefix(body, "[X] "):
					isCheckbox, isChecked = true, true
					body = body[4:]
				}
			}

			n := &mindmap.Node{
				ID:   uuid.NewString(),
				Text: strings.TrimSpace(body),
				Meta: mindmap.Meta{
					Type:        typ,
					IndentLevel: indent,
					Line:        lineNo,
					IsCheckbox:  isCheckbox,
					IsChecked:   isChecked,
				},
			}
			attach(parent, n)
			lists = append(lists, openList{node: n, indent: indent, depth: depth})
			markCollapsed(n, depth, opts.CollapseDepth)
			last = n
			continue
		}

		// Non-structural line: joins the preceding node's note. Blank
		// lines and anything before the first structural line are
		// dropped (whitespace normalization on round trip).
		if strings.TrimSpace(line) == "" || last == nil {
			continue
		}
		if last.Note == "" {
			last.Note = line
		} else {
			last.Note += "\n" + line
		}
	}

	if len(roots) == 0 {
		return nil, apperr.ErrNoStructure
	}
	return roots, nil
}

// Serialize renders the forest back to markdown deterministically:
// identical trees always produce identical text, and parsing the result
// yields a structurally equivalent forest with fresh line numbers.
func Serialize(roots []*mindmap.Node) (string, error) {
	var b strings.Builder
	var convErr error

	mindmap.Walk(roots, func(n *mindmap.Node, depth int) bool {
		switch n.Meta.Type {
		case mindmap.TypeHeading:
			hashes := depth + 1
			if hashes > 6 {
				hashes = 6
			}
			b.WriteString(strings.Repeat("#", hashes))
			b.WriteByte(' ')
			b.WriteString(n.Text)
		case mindmap.TypeUnorderedList, mindmap.TypeOrderedList:
			b.WriteString(strings.Repeat("  ", n.Meta.IndentLevel))
			b.WriteString(listMarker(n))
			b.WriteString(n.Text)
		default:
			convErr = &apperr.ConversionError{
				Op:     "serialize",
				Reason: fmt.Sprintf("node %s has unknown type %q", n.ID, n.Meta.Type),
			}
			return false
		}
		b.WriteByte('\n')
		if n.Note != "" {
			b.WriteString(n.Note)
			b.WriteByte('\n')
		}
		return true
	})

	if convErr != nil {
		return "", convErr
	}
	return b.String(), nil
}

func listMarker(n *mindmap.Node) string {
	if n.Meta.Type == mindmap.TypeOrderedList {
		// Numerals are not load-bearing; renumbering to 1. is fine.
		return "1. "
	}
	if n.Meta.IsCheckbox {
		if n.Meta.IsChecked {
			return "- [x] "
		}
		return "- [ ] "
	}
	return "- "
}

// indentWidth converts leading whitespace to an indent level: two spaces
// or one tab per level.
func indentWidth(ws string) int {
	spaces := 0
	levels := 0
	for _, r := range ws {
		if r == '\t' {
			levels++
		} else {
			spaces++
		}
	}
	return levels + spaces/2
}

func markCollapsed(n *mindmap.Node, depth, collapseDepth int) {
	if collapseDepth > 0 && depth > collapseDepth {
		n.Collapsed = true
	}
}
