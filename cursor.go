package flowclass

import (
	"sort"

	"github.com/okt-artemii/flowclass/internal/bufpool"
	"github.com/okt-artemii/flowclass/miniflow"
)

// rulesPool reuses the backing slice a Cursor collects its snapshot
// into: Dump and repeated diagnostic walks each create a short-lived
// Cursor, and recycling this slice avoids a fresh allocation and grow
// sequence on every call.
var rulesPool = bufpool.New(func() []*Rule { return make([]*Rule, 0, 64) })

// Cursor iterates the rules installed in a Classifier at the moment the
// cursor was created (optionally restricted to those loose-matching a
// target criterion, see NewCursorMatching), in descending-priority order
// (ties broken by insertion-independent but stable mask/value ordering).
// It walks a private snapshot, so concurrent Insert/Replace/Remove calls
// against the classifier it was created from never affect an
// in-progress iteration, mirroring the consistent-snapshot guarantee
// Lookup gets from the same published subtable slice — which also means
// it is always safe for the caller to remove a rule this cursor just
// yielded.
type Cursor struct {
	rules    []*Rule
	pos      int
	released bool
}

// NewCursor returns a Cursor over every rule currently installed in c.
func NewCursor(c *Classifier) *Cursor {
	return newCursor(c, nil)
}

// NewCursorMatching returns a Cursor over every rule currently installed
// in c whose match loose-matches target: every bit target pins is also
// pinned, identically, by the rule. This is the target-scoped iteration
// spec.md's cursor names (cls_cursor_start(target, safe)); NewCursor is
// the target-absent case.
func NewCursorMatching(c *Classifier, target miniflow.Match) *Cursor {
	return newCursor(c, &target)
}

func newCursor(c *Classifier, target *miniflow.Match) *Cursor {
	subtables := *c.subtables.Load()

	all := rulesPool.Get()
	for _, st := range subtables {
		for _, r := range st.allRules() {
			if target != nil && !r.IsLooseMatch(*target) {
				continue
			}
			all = append(all, r)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		if all[i].Match.Mask != all[j].Match.Mask {
			return lessKey(all[i].Match.Mask, all[j].Match.Mask)
		}
		return lessKey(all[i].Match.Value, all[j].Match.Value)
	})

	return &Cursor{rules: all}
}

// Release returns the cursor's backing slice to the shared pool. It is
// optional: a Cursor left to the garbage collector is still correct,
// Release just lets its memory be reused by the next NewCursor call.
// The cursor must not be used again afterward.
func (cur *Cursor) Release() {
	if cur.released {
		return
	}
	cur.released = true
	rulesPool.Put(cur.rules[:0], nil)
	cur.rules = nil
}

func lessKey(a, b miniflow.Key) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Next advances the cursor and returns the next rule, or nil when
// exhausted.
func (cur *Cursor) Next() *Rule {
	if cur.pos >= len(cur.rules) {
		return nil
	}
	r := cur.rules[cur.pos]
	cur.pos++
	return r
}

// Remaining returns the number of rules not yet returned by Next.
func (cur *Cursor) Remaining() int {
	return len(cur.rules) - cur.pos
}

// Reset rewinds the cursor to its first rule, replaying the same
// snapshot taken at construction.
func (cur *Cursor) Reset() {
	cur.pos = 0
}
