package memo

import (
	"testing"

	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/mindmap"
)

func mustParse(t *testing.T, text string) []*mindmap.Node {
	t.Helper()
	roots, err := markdown.Parse(text, markdown.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return roots
}

func TestConvert_SecondCallHitsCache(t *testing.T) {
	roots := mustParse(t, "# Root\n- item\n")
	m := New()
	calls := 0
	serialize := func(r []*mindmap.Node) (string, error) {
		calls++
		return markdown.Serialize(r)
	}

	first, err := m.Convert(roots, serialize)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	second, err := m.Convert(roots, serialize)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if first != second {
		t.Errorf("results differ: %q vs %q", first, second)
	}
	if calls != 1 {
		t.Errorf("serialize called %d times, want 1", calls)
	}
	s := m.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 {
		t.Errorf("stats = %+v", s)
	}
}

func TestConvert_MutationInvalidates(t *testing.T) {
	roots := mustParse(t, "# Root\n- item\n")
	m := New()
	if _, err := m.Convert(roots, markdown.Serialize); err != nil {
		t.Fatalf("convert: %v", err)
	}
	roots[0].Children[0].Text = "edited"
	out, err := m.Convert(roots, markdown.Serialize)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out != "# Root\n- edited\n" {
		t.Errorf("out = %q", out)
	}
	if s := m.Stats(); s.Misses != 2 {
		t.Errorf("misses = %d, want 2", s.Misses)
	}
}

func TestFingerprint_IgnoresIDsAndLines(t *testing.T) {
	a := mustParse(t, "# Root\n- item\n")
	b := mustParse(t, "# Root\n- item\n")
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical content with different ids must share a fingerprint")
	}
}

func TestFingerprint_CheckboxToggleChanges(t *testing.T) {
	a := mustParse(t, "# H\n- [ ] task\n")
	b := mustParse(t, "# H\n- [x] task\n")
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("checkbox toggle changes output, fingerprint must change")
	}
}

func TestConvert_RebuiltIdenticalTreeStillHits(t *testing.T) {
	m := New()
	if _, err := m.Convert(mustParse(t, "# Root\n"), markdown.Serialize); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := m.Convert(mustParse(t, "# Root\n"), markdown.Serialize); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if s := m.Stats(); s.Hits != 1 {
		t.Errorf("hits = %d, want 1 (new ids, same content)", s.Hits)
	}
}
