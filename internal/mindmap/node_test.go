package mindmap

import "testing"

func testForest() []*Node {
	root := NewNode(TypeHeading, "root")
	a := NewNode(TypeUnorderedList, "a")
	b := NewNode(TypeUnorderedList, "b")
	a.Children = []*Node{b}
	root.Children = []*Node{a}
	return []*Node{root}
}

func TestWalkPreOrder(t *testing.T) {
	roots := testForest()

	var texts []string
	var depths []int
	Walk(roots, func(n *Node, depth int) bool {
		texts = append(texts, n.Text)
		depths = append(depths, depth)
		return true
	})

	want := []string{"root", "a", "b"}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("texts[%d] = %q, want %q", i, texts[i], w)
		}
	}
	wantDepths := []int{0, 1, 2}
	for i, w := range wantDepths {
		if depths[i] != w {
			t.Errorf("depths[%d] = %d, want %d", i, depths[i], w)
		}
	}
}

func TestWalkEarlyStop(t *testing.T) {
	roots := testForest()

	visited := 0
	Walk(roots, func(n *Node, _ int) bool {
		visited++
		return n.Text != "a"
	})
	if visited != 2 {
		t.Errorf("visited = %d, want 2", visited)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	roots := testForest()
	clone := roots[0].Clone()

	if clone.ID != roots[0].ID {
		t.Error("clone should preserve IDs")
	}

	clone.Children[0].Text = "mutated"
	if roots[0].Children[0].Text != "a" {
		t.Error("mutating the clone leaked into the original")
	}

	clone.Children = append(clone.Children, NewNode(TypeUnorderedList, "extra"))
	if len(roots[0].Children) != 1 {
		t.Error("clone shares the children slice with the original")
	}
}

func TestFindByID(t *testing.T) {
	roots := testForest()
	target := roots[0].Children[0].Children[0]

	if got := FindByID(roots, target.ID); got != target {
		t.Errorf("FindByID = %v, want %v", got, target)
	}
	if got := FindByID(roots, "missing"); got != nil {
		t.Errorf("FindByID(missing) = %v, want nil", got)
	}
}

func TestCount(t *testing.T) {
	if n := Count(testForest()); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	if n := Count(nil); n != 0 {
		t.Errorf("Count(nil) = %d, want 0", n)
	}
}
