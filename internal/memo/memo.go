// Package memo caches the most recent tree-to-markdown conversion so that
// repeated tree-change notifications with no real change skip
// re-serialization.
package memo

import (
	"strconv"
	"strings"

	"github.com/varden/mindloom/internal/checksum"
	"github.com/varden/mindloom/internal/mindmap"
)

// SerializeFunc converts a forest to markdown text.
type SerializeFunc func(roots []*mindmap.Node) (string, error)

// Stats reports cache effectiveness. Purely observational: no correctness
// behavior depends on it.
type Stats struct {
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Memoizer holds a single (fingerprint, markdown) entry: most-recent-only.
// Not safe for concurrent use; one instance lives inside one document
// session, which is single-threaded by construction.
type Memoizer struct {
	fingerprint string
	markdown    string
	hits        int
	misses      int
}

// New returns an empty memoizer.
func New() *Memoizer {
	return &Memoizer{}
}

// Convert returns the cached markdown when the forest's fingerprint is
// unchanged since the previous call, otherwise runs serialize and stores
// the fresh result. A serialize failure leaves the cache untouched.
func (m *Memoizer) Convert(roots []*mindmap.Node, serialize SerializeFunc) (string, error) {
	fp := Fingerprint(roots)
	if fp == m.fingerprint && m.fingerprint != "" {
		m.hits++
		return m.markdown, nil
	}
	out, err := serialize(roots)
	if err != nil {
		return "", err
	}
	m.misses++
	m.fingerprint = fp
	m.markdown = out
	return out, nil
}

// Stats returns hit/miss counters and the hit rate.
func (m *Memoizer) Stats() Stats {
	total := m.hits + m.misses
	s := Stats{Hits: m.hits, Misses: m.misses}
	if total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}
	return s
}

// Fingerprint hashes the pre-order projection of every field that feeds
// serialization: type, depth, indent, kind, text, note, and checkbox
// state. IDs and source line numbers are excluded — they do not affect
// output, so a rebuilt-but-identical tree still hits the cache.
func Fingerprint(roots []*mindmap.Node) string {
	var b strings.Builder
	mindmap.Walk(roots, func(n *mindmap.Node, depth int) bool {
		b.WriteString(string(n.Meta.Type))
		b.WriteByte(0x1f)
		b.WriteString(strconv.Itoa(depth))
		b.WriteByte(0x1f)
		b.WriteString(strconv.Itoa(n.Meta.IndentLevel))
		b.WriteByte(0x1f)
		b.WriteString(n.Kind)
		b.WriteByte(0x1f)
		if n.Meta.IsCheckbox {
			if n.Meta.IsChecked {
				b.WriteString("[x]")
			} else {
				b.WriteString("[ ]")
			}
		}
		b.WriteByte(0x1f)
		b.WriteString(n.Text)
		b.WriteByte(0x1f)
		b.WriteString(n.Note)
		b.WriteByte(0x1e)
		return true
	})
	return checksum.Sum([]byte(b.String()))
}
