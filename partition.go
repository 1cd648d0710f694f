package flowclass

import (
	"sync/atomic"

	"github.com/okt-artemii/flowclass/internal/bitset"
)

// partition is the metadata-value partition index: a snapshot mapping
// each metadata value currently carried by some installed rule to the
// set of metadata-sensitive subtables' tag bits that can possibly match
// flows carrying it. A lookup computes the incoming flow's metadata
// value once, loads the current snapshot, and skips any metadata-
// sensitive subtable whose tag bit is not a member of the matching
// entry — short-circuiting subtables that provably hold no rule
// compatible with this flow's metadata, without ever touching the
// subtable's own hash index.
//
// Tag bits are plain sequential indices the Classifier hands out to
// metadata-sensitive subtables as they are created, tracked with the
// same popcount-compressed bitset the teacher package uses for its
// sparse node arrays; unlike a hash-derived fingerprint this never
// collides, so pruning here is exact, not merely probabilistic.
//
// Snapshots are immutable once published; a writer builds the next
// snapshot from the current one and swaps it in with a single atomic
// store, the same publication discipline the teacher's persistent
// trie nodes use.
type partition struct {
	current atomic.Pointer[partitionSnapshot]
}

type partitionSnapshot struct {
	tagsByValue map[uint64]bitset.BitSet
}

func newPartition() *partition {
	p := &partition{}
	p.current.Store(&partitionSnapshot{tagsByValue: map[uint64]bitset.BitSet{}})
	return p
}

// tagsFor returns the set of tag bits relevant to a flow carrying
// metadataValue. The zero value (nil BitSet) is returned, and reports no
// members, when no metadata-sensitive subtable is indexed under that
// value.
func (p *partition) tagsFor(metadataValue uint64) bitset.BitSet {
	snap := p.current.Load()
	return snap.tagsByValue[metadataValue]
}

// visible reports whether a subtable should be visited for a flow whose
// relevant tag set is tags. Subtables that don't depend on metadata at
// all (metaSensitive == false) are always visible.
func visible(tags bitset.BitSet, metaSensitive bool, tagBit int) bool {
	if !metaSensitive {
		return true
	}
	return tags.Test(uint(tagBit))
}

// rebuild recomputes the whole partition snapshot from the live set of
// subtables and publishes it. Called by the writer under the
// classifier's mutex after any structural change that can affect
// tag-to-value associations (subtable creation/destruction, or a
// subtable gaining/losing its first/last rule for some metadata value).
func (p *partition) rebuild(subtables []*Subtable) {
	next := &partitionSnapshot{tagsByValue: map[uint64]bitset.BitSet{}}

	for _, st := range subtables {
		if !st.metaSensitive {
			continue
		}
		for metaVal := range st.metaRefs {
			bs := next.tagsByValue[metaVal]
			bs.Set(uint(st.tagBit))
			next.tagsByValue[metaVal] = bs
		}
	}

	p.current.Store(next)
}
