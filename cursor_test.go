package flowclass

import (
	"testing"

	"github.com/okt-artemii/flowclass/miniflow"
)

func TestCursorOrdersByDescendingPriority(t *testing.T) {
	c := NewClassifier(testRegistry(t))

	low, _ := NewRule(matchOn(160, 32, 1), 1, nil)
	high, _ := NewRule(matchOn(160, 32, 2), 100, nil)
	mid, _ := NewRule(matchOn(160, 32, 3), 50, nil)

	for _, r := range []*Rule{low, high, mid} {
		if err := c.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cur := NewCursor(c)

	var priorities []uint32
	for r := cur.Next(); r != nil; r = cur.Next() {
		priorities = append(priorities, r.Priority)
	}

	if len(priorities) != 3 {
		t.Fatalf("got %d rules, want 3", len(priorities))
	}
	for i := 1; i < len(priorities); i++ {
		if priorities[i] > priorities[i-1] {
			t.Fatalf("cursor not in descending-priority order: %v", priorities)
		}
	}
}

func TestCursorSnapshotIsolation(t *testing.T) {
	c := NewClassifier(testRegistry(t))

	r1, _ := NewRule(matchOn(160, 32, 1), 1, nil)
	_ = c.Insert(r1)

	cur := NewCursor(c)

	r2, _ := NewRule(matchOn(160, 32, 2), 2, nil)
	_ = c.Insert(r2)

	if cur.Remaining() != 1 {
		t.Fatalf("Remaining = %d, want 1: cursor must not see rules inserted after it was created", cur.Remaining())
	}
}

func TestCursorMatchingFiltersByTarget(t *testing.T) {
	c := NewClassifier(testRegistry(t))

	inSubnet, _ := NewRule(matchOn(160, 32, 0xC0A80101), 10, nil)
	outOfSubnet, _ := NewRule(matchOn(160, 32, 0x08080808), 20, nil)
	for _, r := range []*Rule{inSubnet, outOfSubnet} {
		if err := c.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	target := matchOn(160, 24, 0xC0A801) // the 192.168.1.0/24 criterion
	cur := NewCursorMatching(c, target)

	var got []*Rule
	for r := cur.Next(); r != nil; r = cur.Next() {
		got = append(got, r)
	}

	if len(got) != 1 || got[0] != inSubnet {
		t.Fatalf("NewCursorMatching: got %v, want only the rule loose-matching the target", got)
	}
}

func TestCursorMatchingWithZeroTargetYieldsEverything(t *testing.T) {
	c := NewClassifier(testRegistry(t))

	r1, _ := NewRule(matchOn(160, 32, 1), 1, nil)
	r2, _ := NewRule(matchOn(160, 32, 2), 2, nil)
	_ = c.Insert(r1)
	_ = c.Insert(r2)

	cur := NewCursorMatching(c, miniflow.Match{})
	if cur.Remaining() != 2 {
		t.Fatalf("Remaining = %d, want 2: an absent (all-zero) target must match every rule", cur.Remaining())
	}
}

func TestCursorResetReplays(t *testing.T) {
	c := NewClassifier(testRegistry(t))
	r, _ := NewRule(matchOn(160, 32, 1), 1, nil)
	_ = c.Insert(r)

	cur := NewCursor(c)
	cur.Next()
	if cur.Remaining() != 0 {
		t.Fatal("expected cursor exhausted after one Next on a one-rule classifier")
	}

	cur.Reset()
	if cur.Remaining() != 1 {
		t.Fatal("Reset must rewind to the original snapshot")
	}
}
