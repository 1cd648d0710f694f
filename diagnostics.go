package flowclass

import (
	"fmt"
	"io"
)

// Stats summarizes a classifier's internal shape, useful for capacity
// planning and for spotting a pathological subtable explosion (many
// masks, each holding few rules).
type Stats struct {
	RuleCount     int
	SubtableCount int
	MaxChainDepth int
	TrieCount     int
}

// Stats computes a snapshot of c's current shape. It is safe to call
// concurrently with Lookup and with a writer, but is not itself a
// lock-free O(1) operation: it walks every subtable.
func (c *Classifier) Stats() Stats {
	subtables := *c.subtables.Load()
	tries := *c.tries.Load()

	st := Stats{
		RuleCount:     c.Count(),
		SubtableCount: len(subtables),
		TrieCount:     len(tries),
	}

	for _, sub := range subtables {
		for _, bucket := range sub.buckets {
			for _, head := range bucket {
				depth := 0
				for r := head; r != nil; r = r.next {
					depth++
				}
				if depth > st.MaxChainDepth {
					st.MaxChainDepth = depth
				}
			}
		}
	}

	return st
}

// Dump writes a human-readable listing of every installed rule to w, one
// per line, ordered by descending priority. It is meant for interactive
// debugging, not for machine parsing.
func (c *Classifier) Dump(w io.Writer) error {
	cur := NewCursor(c)
	defer cur.Release()

	for r := cur.Next(); r != nil; r = cur.Next() {
		if _, err := fmt.Fprintf(w, "priority=%d value=%x mask=%x\n", r.Priority, r.Match.Value, r.Match.Mask); err != nil {
			return err
		}
	}
	return nil
}

// RecentMatches returns the most recently matched rules seen by Lookup,
// most-recent first. This cache is purely diagnostic: a rule's absence
// here never implies it is not installed, and a rule's presence never
// implies it would match again. Lookup correctness never depends on it.
func (c *Classifier) RecentMatches() []*Rule {
	if c.recent == nil {
		return nil
	}

	keys := c.recent.Keys()
	out := make([]*Rule, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if r, ok := c.recent.Peek(keys[i]); ok {
			out = append(out, r)
		}
	}
	return out
}
