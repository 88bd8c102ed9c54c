package syncengine

import (
	"testing"
	"time"

	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/mindmap"
	"github.com/varden/mindloom/internal/stream"
	"github.com/varden/mindloom/internal/structdiff"
)

type fakePusher struct {
	pushes []string
}

func (p *fakePusher) SetFromNodes(text string) { p.pushes = append(p.pushes, text) }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func mustParse(t *testing.T, text string) []*mindmap.Node {
	t.Helper()
	roots, err := markdown.Parse(text, markdown.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return roots
}

func newTestController(t *testing.T, text string, opts ...Option) (*Controller, *fakePusher, *fakeClock) {
	t.Helper()
	roots := mustParse(t, text)
	pusher := &fakePusher{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	c := New(roots, pusher, opts...)
	c.OnMarkdownReceived(text, stream.OriginExternal)
	return c, pusher, clock
}

func ids(roots []*mindmap.Node) []string {
	var out []string
	mindmap.Walk(roots, func(n *mindmap.Node, _ int) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

func TestTreeChanged_PushesOnRealChange(t *testing.T) {
	c, pusher, _ := newTestController(t, "# Root\n- item a\n- item b\n")

	c.Mutate(func(roots []*mindmap.Node) []*mindmap.Node {
		roots[0].Children[0].Text = "item a edited"
		return roots
	})

	if len(pusher.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pusher.pushes))
	}
	want := "# Root\n- item a edited\n- item b\n"
	if pusher.pushes[0] != want {
		t.Errorf("pushed %q, want %q", pusher.pushes[0], want)
	}
	if c.Baseline() != want {
		t.Errorf("baseline not updated")
	}
}

func TestTreeChanged_NoOpWhenBaselineMatches(t *testing.T) {
	c, pusher, _ := newTestController(t, "# Root\n")

	// The tree serializes to exactly the baseline: nothing to push.
	c.OnTreeChanged()
	c.OnTreeChanged()

	if len(pusher.pushes) != 0 {
		t.Fatalf("pushes = %v, want none", pusher.pushes)
	}
	// Second call hit the memo cache.
	if s := c.MemoStats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("memo stats = %+v", s)
	}
}

func TestEditorPath_SurgicalPatchKeepsIDs(t *testing.T) {
	c, _, _ := newTestController(t, "# Root\n- item a\n- item b\n")
	before := ids(c.Tree())

	patchCount := 0
	c.patched = func(n int) { patchCount = n }

	c.OnMarkdownReceived("# Root\n- item A\n- item b\n", stream.OriginEditor)

	tree := c.Tree()
	after := ids(tree)
	if len(before) != len(after) {
		t.Fatalf("node count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("id %d churned: %q -> %q", i, before[i], after[i])
		}
	}
	if tree[0].Children[0].Text != "item A" {
		t.Errorf("text not patched: %q", tree[0].Children[0].Text)
	}
	if patchCount != 1 {
		t.Errorf("patched count = %d, want 1", patchCount)
	}
}

func TestEditorPath_StructuralReplace(t *testing.T) {
	c, _, _ := newTestController(t, "# Root\n- item a\n- item b\n")
	before := ids(c.Tree())

	layoutCalls := 0
	c.layout = func() { layoutCalls++ }

	// Deleting "- item b" shrinks the flat sequence from 3 to 2.
	c.OnMarkdownReceived("# Root\n- item a\n", stream.OriginEditor)

	tree := c.Tree()
	if got := len(structdiff.Flatten(tree)); got != 2 {
		t.Fatalf("flat length = %d, want 2", got)
	}
	after := ids(tree)
	for _, id := range after {
		for _, old := range before {
			if id == old {
				t.Errorf("replacement must mint new ids, found reused %q", id)
			}
		}
	}
	if layoutCalls != 1 {
		t.Errorf("layout invoked %d times, want exactly 1", layoutCalls)
	}
}

func TestEditorPath_InsertedHeadingReplaces(t *testing.T) {
	c, _, _ := newTestController(t, "# Root\n- item a\n")
	layoutCalls := 0
	c.layout = func() { layoutCalls++ }

	c.OnMarkdownReceived("# Root\n- item a\n# Second\n", stream.OriginEditor)

	if layoutCalls != 1 {
		t.Fatalf("layout invoked %d times, want 1", layoutCalls)
	}
	if n := len(c.Tree()); n != 2 {
		t.Errorf("roots = %d, want 2", n)
	}
}

func TestEditorPath_HeadingLevelChangeReplaces(t *testing.T) {
	// "## B" -> "### B" keeps B the sole child of A, so the tree depth is
	// unchanged; the hash count alone must force a structural replacement
	// instead of being swallowed as a no-op patch.
	c, _, _ := newTestController(t, "# A\n## B\n")
	before := ids(c.Tree())

	layoutCalls := 0
	patchCount := -1
	c.layout = func() { layoutCalls++ }
	c.patched = func(n int) { patchCount = n }

	c.OnMarkdownReceived("# A\n### B\n", stream.OriginEditor)

	tree := c.Tree()
	if got := tree[0].Children[0].Meta.Level; got != 2 {
		t.Errorf("child heading level = %d, want 2", got)
	}
	if layoutCalls != 1 {
		t.Errorf("layout invoked %d times, want exactly 1", layoutCalls)
	}
	if patchCount != -1 {
		t.Errorf("surgical patch ran (%d changes), want replacement", patchCount)
	}
	for i, id := range ids(tree) {
		if id == before[i] {
			t.Errorf("replacement must mint new ids, found reused %q", id)
		}
	}
}

func TestLoopPrevention_SuppressionWindow(t *testing.T) {
	c, pusher, clock := newTestController(t, "# Root\n- item a\n")

	c.OnMarkdownReceived("# Root\n- item A\n", stream.OriginEditor)
	if !c.Suppressed() {
		t.Fatal("editor input must arm the suppression window")
	}

	// A tree change inside the window must not push.
	c.Mutate(func(roots []*mindmap.Node) []*mindmap.Node {
		roots[0].Text = "Root renamed"
		return roots
	})
	if len(pusher.pushes) != 0 {
		t.Fatalf("suppressed tree change pushed: %v", pusher.pushes)
	}

	// After expiry the next tree change pushes normally.
	clock.advance(DefaultSuppressWindow + time.Millisecond)
	if c.Suppressed() {
		t.Fatal("window should expire by wall clock")
	}
	c.OnTreeChanged()
	if len(pusher.pushes) != 1 {
		t.Fatalf("pushes after expiry = %d, want 1", len(pusher.pushes))
	}
}

func TestSuppression_RearmNotStacked(t *testing.T) {
	c, _, clock := newTestController(t, "# Root\n")

	c.OnMarkdownReceived("# Root edited\n", stream.OriginEditor)
	clock.advance(200 * time.Millisecond)
	// Second editor event before expiry re-arms from now, it doesn't stack.
	c.OnMarkdownReceived("# Root edited more\n", stream.OriginEditor)

	clock.advance(250 * time.Millisecond)
	if !c.Suppressed() {
		t.Error("window should still be armed 250ms after re-arm")
	}
	clock.advance(100 * time.Millisecond)
	if c.Suppressed() {
		t.Error("window should have expired 350ms after re-arm")
	}
}

func TestEditorPath_ParseFailureRetainsTree(t *testing.T) {
	c, _, _ := newTestController(t, "# Root\n- item a\n")
	before := ids(c.Tree())

	c.OnMarkdownReceived("free text with no structure at all\n", stream.OriginEditor)

	after := ids(c.Tree())
	if len(before) != len(after) {
		t.Fatalf("tree mutated on parse failure")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("id churn on parse failure")
		}
	}
	// Suppression is still armed to avoid reattempting mid-keystroke.
	if !c.Suppressed() {
		t.Error("suppression must be armed even when parse fails")
	}
}

func TestExternalOrigin_AdoptsBaselineOnly(t *testing.T) {
	c, pusher, _ := newTestController(t, "# Root\n")
	before := ids(c.Tree())

	c.OnMarkdownReceived("# Completely different\n", stream.OriginExternal)

	if c.Baseline() != "# Completely different\n" {
		t.Errorf("baseline = %q", c.Baseline())
	}
	after := ids(c.Tree())
	if len(before) != len(after) || before[0] != after[0] {
		t.Error("external origin must not mutate the tree")
	}
	if len(pusher.pushes) != 0 {
		t.Errorf("external origin must not push: %v", pusher.pushes)
	}
}

func TestNodesOrigin_Ignored(t *testing.T) {
	c, pusher, _ := newTestController(t, "# Root\n")
	c.OnMarkdownReceived("# whatever\n", stream.OriginNodes)
	if c.Baseline() != "# Root\n" {
		t.Errorf("nodes origin mutated baseline: %q", c.Baseline())
	}
	if len(pusher.pushes) != 0 {
		t.Errorf("nodes origin pushed: %v", pusher.pushes)
	}
}

func TestEditorPath_CheckboxToggleIsPatched(t *testing.T) {
	c, _, _ := newTestController(t, "# H\n- [ ] task\n")
	before := ids(c.Tree())

	c.OnMarkdownReceived("# H\n- [x] task\n", stream.OriginEditor)

	tree := c.Tree()
	if !tree[0].Children[0].Meta.IsChecked {
		t.Error("checkbox state not patched")
	}
	if after := ids(tree); after[1] != before[1] {
		t.Error("checkbox toggle must not churn ids")
	}
}

func TestEditorPath_UpdatesLineMapping(t *testing.T) {
	c, _, _ := newTestController(t, "# Root\n- item a\n")
	itemID := c.Tree()[0].Children[0].ID

	// Add a note line above the item: item moves from line 2 to line 3.
	c.OnMarkdownReceived("# Root\na note line\n- item a\n", stream.OriginEditor)

	if got := c.NodeIDByLine(3); got != itemID {
		t.Errorf("line 3 = %q, want %q", got, itemID)
	}
	// The note line resolves to its owning heading.
	if got := c.NodeIDByLine(2); got != c.Tree()[0].ID {
		t.Errorf("line 2 = %q, want heading id", got)
	}
}

func TestRoundTrip_Property(t *testing.T) {
	text := "# Root\n- item a\n  - nested\n- [x] done\n## Sub\n1. one\n"
	c, _, _ := newTestController(t, text)

	tree := c.Tree()
	out, err := markdown.Serialize(tree)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	reparsed, err := markdown.Parse(out, markdown.Options{})
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !structdiff.Matches(structdiff.Flatten(tree), structdiff.Flatten(reparsed)) {
		t.Errorf("round trip changed structure:\n%s", out)
	}
}
