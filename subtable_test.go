package flowclass

import (
	"testing"

	"github.com/okt-artemii/flowclass/miniflow"
)

func testSegments() [ClsMaxIndices]int {
	return [ClsMaxIndices]int{64, 128, 192}
}

func newRuleFor(t *testing.T, value, mask miniflow.Key, priority uint32) *Rule {
	t.Helper()
	r, err := NewRule(miniflow.NewMatch(value, mask), priority, nil)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	return r
}

func TestSubtableInsertAndLookup(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	value := miniflow.Key{}.WithField(160, 32, 0xC0A80101)

	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 0)

	rule := newRuleFor(t, value, mask, 10)
	if evicted := st.insert(rule); evicted != nil {
		t.Fatal("first insert must not evict anything")
	}
	if !rule.Installed() {
		t.Fatal("insert must mark the rule installed")
	}

	flow := miniflow.Key{}.WithField(160, 32, 0xC0A80101)
	var wc miniflow.Key
	got, ok := st.lookup(flow, &wc)
	if !ok || got != rule {
		t.Fatalf("lookup: got %v, %v, want the installed rule", got, ok)
	}

	missFlow := miniflow.Key{}.WithField(160, 32, 0xC0A80102)
	var wc2 miniflow.Key
	if _, ok := st.lookup(missFlow, &wc2); ok {
		t.Fatal("lookup should miss on a different address")
	}
}

func TestSubtableInsertEvictsEqualPriority(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	value := miniflow.Key{}.WithField(160, 32, 0xC0A80101)

	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 0)

	first := newRuleFor(t, value, mask, 10)
	st.insert(first)

	second := newRuleFor(t, value, mask, 10)
	evicted := st.insert(second)

	if evicted != first {
		t.Fatal("inserting an equal-priority, equal-value rule must evict the old one")
	}
	if first.Installed() {
		t.Fatal("the evicted rule must no longer be installed")
	}
	if st.n != 1 {
		t.Fatalf("subtable count = %d, want 1 after a same-priority replace", st.n)
	}
}

func TestSubtablePriorityChainOrdering(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	value := miniflow.Key{}.WithField(160, 32, 0xC0A80101)

	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 0)

	low := newRuleFor(t, value, mask, 1)
	high := newRuleFor(t, value, mask, 100)
	mid := newRuleFor(t, value, mask, 50)

	st.insert(low)
	st.insert(high)
	st.insert(mid)

	flow := miniflow.Key{}.WithField(160, 32, 0xC0A80101)
	var wc miniflow.Key
	got, ok := st.lookup(flow, &wc)
	if !ok || got != high {
		t.Fatalf("lookup must resolve to the highest-priority rule sharing a value, got %v", got)
	}
}

func TestSubtableRemove(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	value := miniflow.Key{}.WithField(160, 32, 0xC0A80101)

	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 0)
	rule := newRuleFor(t, value, mask, 10)
	st.insert(rule)

	if !st.remove(rule) {
		t.Fatal("remove must report success for an installed rule")
	}
	if rule.Installed() {
		t.Fatal("remove must clear installed state")
	}
	if !st.isEmpty() {
		t.Fatal("subtable must be empty after removing its only rule")
	}

	if st.remove(rule) {
		t.Fatal("removing an already-removed rule must fail")
	}
}

func TestSubtableStagedLookupIgnoresUnmaskedBits(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	value := miniflow.Key{}.WithField(160, 32, 0xC0A80101)

	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 0)
	st.insert(newRuleFor(t, value, mask, 10))

	// a flow whose first 64 bits (none of which this mask pins) differ
	// from any installed rule still reaches the final stage: only bits
	// the mask actually pins should gate the staged probe.
	flow := miniflow.Key{}.WithField(0, 32, 0xFFFFFFFF).Or(miniflow.Key{}.WithField(160, 32, 0xC0A80101))
	var wc miniflow.Key
	_, ok := st.lookup(flow, &wc)
	if !ok {
		t.Fatal("staged lookup must ignore bits outside the subtable's mask")
	}
}

func TestSubtableNotMetaSensitiveWhenMaskMissesMetadataField(t *testing.T) {
	mask := miniflow.Key{}.WithField(160, 32, 0xFFFFFFFF)
	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 64)

	if st.metaSensitive {
		t.Fatal("a subtable whose mask never touches the metadata field must not be metaSensitive")
	}
}

func TestSubtableMetaSensitiveWhenMaskTouchesMetadataField(t *testing.T) {
	mask := miniflow.Key{}.WithField(0, 64, 0xFFFFFFFFFFFFFFFF)
	st := newSubtable(mask, testSegments(), defaultHashBasis, 0, 64)

	if !st.metaSensitive {
		t.Fatal("a subtable pinning the metadata field must be metaSensitive")
	}
}
