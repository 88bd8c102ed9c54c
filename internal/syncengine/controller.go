// Package syncengine keeps a mindmap node tree and its markdown text
// mutually consistent. The controller decides, per notification, whether
// to regenerate markdown from the tree, patch tree fields in place, or
// replace the tree wholesale — and owns the suppression window that stops
// an editor-originated change from echoing straight back out as a
// markdown push.
package syncengine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/varden/mindloom/internal/linemap"
	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/memo"
	"github.com/varden/mindloom/internal/mindmap"
	"github.com/varden/mindloom/internal/stream"
	"github.com/varden/mindloom/internal/structdiff"
)

// DefaultSuppressWindow is how long tree-driven regeneration stays
// disabled after an editor-originated markdown update.
const DefaultSuppressWindow = 300 * time.Millisecond

// Pusher is the outbound markdown channel. *stream.Buffer satisfies it.
type Pusher interface {
	SetFromNodes(text string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, letting tests cross the suppression
// window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSuppressWindow overrides the suppression window duration.
func WithSuppressWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.suppressWindow = d
		}
	}
}

// WithCollapseDepth sets the collapse depth applied when parsing editor
// markdown into a candidate tree.
func WithCollapseDepth(d int) Option {
	return func(c *Controller) { c.collapseDepth = d }
}

// WithLayoutFunc sets the callback invoked exactly once after each
// wholesale tree replacement. Node positions are not derivable from
// markdown, so the rendering layer must recompute them on shape changes.
func WithLayoutFunc(fn func()) Option {
	return func(c *Controller) { c.layout = fn }
}

// WithPatchedFunc sets the callback invoked after a surgical field patch,
// with the number of nodes touched.
func WithPatchedFunc(fn func(count int)) Option {
	return func(c *Controller) { c.patched = fn }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller synchronizes one open document. One instance per document
// session, never shared; switching documents tears the instance down and
// discards baseline, suppression deadline, and memo cache.
//
// A mutex serializes OnTreeChanged and OnMarkdownReceived: callers arrive
// from the stream loop and from API handlers, and the engine's invariants
// assume the two operations never interleave.
type Controller struct {
	mu sync.Mutex

	roots           []*mindmap.Node
	lines           *linemap.Mapping
	baseline        string
	suppressedUntil time.Time

	suppressWindow time.Duration
	collapseDepth  int
	now            func() time.Time
	memo           *memo.Memoizer
	pusher         Pusher
	layout         func()
	patched        func(count int)
	logger         *slog.Logger
}

// New creates a controller over an initial tree. The caller is expected to
// have adopted the corresponding markdown as baseline via
// OnMarkdownReceived with OriginExternal (or to start from empty).
func New(roots []*mindmap.Node, pusher Pusher, opts ...Option) *Controller {
	c := &Controller{
		roots:          roots,
		lines:          linemap.Build(roots),
		suppressWindow: DefaultSuppressWindow,
		now:            time.Now,
		memo:           memo.New(),
		pusher:         pusher,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tree returns a deep copy of the current tree.
func (c *Controller) Tree() []*mindmap.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*mindmap.Node, len(c.roots))
	for i, r := range c.roots {
		out[i] = r.Clone()
	}
	return out
}

// Baseline returns the markdown last known to be consistent with the tree.
func (c *Controller) Baseline() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// Suppressed reports whether a suppression window is currently active.
func (c *Controller) Suppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.suppressedUntil)
}

// MemoStats exposes serialization cache counters.
func (c *Controller) MemoStats() memo.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memo.Stats()
}

// NodeIDByLine resolves a 1-based editor line to a node id, falling back
// to the nearest preceding structural line. The mapping is rebuilt on
// every successful parse and every explicit tree edit.
func (c *Controller) NodeIDByLine(line int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.NodeIDByLine(line)
}

// Replace swaps in a new tree wholesale, with the matching markdown
// adopted as baseline. Used for external reloads (out-of-band file
// changes): the caller parsed the text itself, so no diffing happens
// here, and layout is recalculated once.
func (c *Controller) Replace(roots []*mindmap.Node, baseline string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots = roots
	c.lines = linemap.Build(roots)
	c.memo = memo.New()
	c.baseline = baseline
	if c.layout != nil {
		c.layout()
	}
}

// Mutate applies an explicit tree edit (add/delete/move performed by the
// caller inside fn) and then runs the tree-changed path.
func (c *Controller) Mutate(fn func(roots []*mindmap.Node) []*mindmap.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots = fn(c.roots)
	c.lines = linemap.Build(c.roots)
	c.treeChangedLocked()
}

// OnTreeChanged pushes regenerated markdown unless a suppression window is
// active or the output is identical to the baseline.
func (c *Controller) OnTreeChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treeChangedLocked()
}

func (c *Controller) treeChangedLocked() {
	if c.now().Before(c.suppressedUntil) {
		return
	}
	c.suppressedUntil = time.Time{} // lazily back to idle

	md, err := c.memo.Convert(c.roots, markdown.Serialize)
	if err != nil {
		c.logger.Error("serialize failed", slog.String("error", err.Error()))
		return
	}
	if md == c.baseline {
		return
	}
	c.baseline = md
	if c.pusher != nil {
		c.pusher.SetFromNodes(md)
	}
}

// OnMarkdownReceived handles an inbound markdown value by origin.
//
// External values only reset the baseline: the caller is responsible for
// having produced a consistent tree (e.g. a fresh parse) first. Nodes
// values are the controller's own outbound channel and are ignored.
// Editor values arm the suppression window and are absorbed either as a
// targeted field patch (shape unchanged: no id churn, selection and
// collapse state survive) or as a wholesale tree replacement (new ids,
// layout recalculated once).
func (c *Controller) OnMarkdownReceived(text string, origin stream.Origin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch origin {
	case stream.OriginExternal:
		c.baseline = text
	case stream.OriginNodes:
		// Our own outbound channel; other subscribers may consume it.
	case stream.OriginEditor:
		c.editorLocked(text)
	}
}

func (c *Controller) editorLocked(text string) {
	// Arm (or refresh) the suppression window before parsing, so a parse
	// failure mid-keystroke does not get reattempted as an echo.
	c.suppressedUntil = c.now().Add(c.suppressWindow)

	candidate, err := markdown.Parse(text, markdown.Options{CollapseDepth: c.collapseDepth})
	if err != nil {
		// Previous tree retained unchanged; recoverable.
		c.logger.Warn("editor markdown rejected", slog.String("error", err.Error()))
		return
	}

	prev := structdiff.Flatten(c.roots)
	next := structdiff.Flatten(candidate)

	if structdiff.Matches(prev, next) {
		count := c.patchLocked(candidate, prev, next)
		c.lines = linemap.Build(c.roots)
		if c.patched != nil && count > 0 {
			c.patched(count)
		}
		return
	}

	c.roots = candidate
	c.lines = linemap.Build(c.roots)
	c.memo = memo.New()
	if c.layout != nil {
		c.layout()
	}
}

// patchLocked applies targeted field updates to the existing tree from the
// shape-equal candidate: text, note, checkbox state, and fresh source line
// numbers. Node ids are untouched.
func (c *Controller) patchLocked(candidate []*mindmap.Node, prev, next []structdiff.FlatItem) int {
	existing := preorder(c.roots)
	fresh := preorder(candidate)
	count := len(structdiff.FieldDiff(prev, next))

	for i, n := range existing {
		f := fresh[i]
		n.Text = f.Text
		n.Note = f.Note
		n.Meta.Line = f.Meta.Line
		n.Meta.IsCheckbox = f.Meta.IsCheckbox
		n.Meta.IsChecked = f.Meta.IsChecked
	}
	return count
}

func preorder(roots []*mindmap.Node) []*mindmap.Node {
	out := make([]*mindmap.Node, 0, mindmap.Count(roots))
	mindmap.Walk(roots, func(n *mindmap.Node, _ int) bool {
		out = append(out, n)
		return true
	})
	return out
}
