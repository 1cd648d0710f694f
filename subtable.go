package flowclass

import (
	"github.com/okt-artemii/flowclass/miniflow"
)

// Subtable holds every rule that shares one exact mask shape. Lookups
// within a subtable are staged: a hash probe over a prefix of the mask
// bits either rules out every rule in the subtable in O(1), or narrows
// down to the one (value, mask) bucket that might match, inside which a
// priority-descending chain resolves ties between rules that share the
// same value but differ in priority.
//
// All state lives behind a single atomically-published snapshot so that
// readers (Lookup) never observe a subtable mid-mutation and never take
// a lock; writers clone-mutate-publish under the owning Classifier's
// mutex, the same discipline the teacher package's persistent table
// variants use for their trie nodes.
type Subtable struct {
	mask       miniflow.Key
	boundaries []int // ascending; last entry is always fullStage
	basis      uint64

	// metaSensitive is true when mask pins at least one bit of the
	// configured metadata field; such subtables are candidates for
	// partition pruning and get a tagBit assigned by the owning
	// Classifier. tagBit is -1 until assigned.
	metaSensitive bool
	tagBit        int

	metadataOffset uint32
	metadataWidth  uint32

	maxPriority uint32
	n           int

	buckets  map[uint64][]*Rule // full-key hash -> heads of distinct (value) chains
	stageIdx []map[uint64]int   // one refcounted presence set per non-final boundary
	metaRefs map[uint64]int     // metadata value -> count of distinct rule-values carrying it
}

// newSubtable builds an empty subtable for mask, staged at the given
// segment boundaries (boundaries outside (0, miniflow.Bits) are dropped,
// duplicates are removed),
// with metadata bits drawn from [metaOffset, metaOffset+metaWidth).
func newSubtable(mask miniflow.Key, segments [ClsMaxIndices]int, basis uint64, metaOffset, metaWidth uint32) *Subtable {
	st := &Subtable{
		mask:           mask,
		basis:          basis,
		tagBit:         -1,
		metadataOffset: metaOffset,
		metadataWidth:  metaWidth,
		buckets:        make(map[uint64][]*Rule),
		metaRefs:       make(map[uint64]int),
	}

	seen := map[int]bool{}
	for _, b := range segments {
		if b <= 0 || b >= fullStage || seen[b] {
			continue
		}
		seen[b] = true
		st.boundaries = append(st.boundaries, b)
	}
	sortInts(st.boundaries)
	st.boundaries = append(st.boundaries, fullStage)

	st.stageIdx = make([]map[uint64]int, len(st.boundaries)-1)
	for i := range st.stageIdx {
		st.stageIdx[i] = make(map[uint64]int)
	}

	st.metaSensitive = st.touchesMetadata()

	return st
}

// touchesMetadata reports whether mask pins any bit of the configured
// metadata field.
func (st *Subtable) touchesMetadata() bool {
	if st.metadataWidth == 0 {
		return false
	}
	for i := st.metadataOffset; i < st.metadataOffset+st.metadataWidth; i++ {
		if st.mask.TestBit(i) {
			return true
		}
	}
	return false
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// metadataValue extracts the metadata value a rule's masked value carries.
// The Classifier rejects any mask that pins only part of the metadata
// field (see metadataMaskValid), so whenever metaSensitive is true this
// extracts the real, fully-pinned value rather than a zero-padded partial
// one.
func (st *Subtable) metadataValue(value miniflow.Key) uint64 {
	if st.metadataWidth == 0 {
		return 0
	}
	return value.ExtractField(st.metadataOffset, st.metadataWidth)
}

func (st *Subtable) hashPrefix(value miniflow.Key, boundary int) uint64 {
	prefixMask := st.mask.MaskedPrefix(boundary)
	return miniflow.HashMasked(value, prefixMask, st.basis)
}

// indexValueAdd registers a newly-distinct rule value with the staged
// presence indices and the metadata refcounts.
func (st *Subtable) indexValueAdd(value miniflow.Key) {
	for i, b := range st.boundaries[:len(st.boundaries)-1] {
		h := st.hashPrefix(value, b)
		st.stageIdx[i][h]++
	}

	m := st.metadataValue(value)
	st.metaRefs[m]++
}

// indexValueRemove undoes indexValueAdd for value.
func (st *Subtable) indexValueRemove(value miniflow.Key) {
	for i, b := range st.boundaries[:len(st.boundaries)-1] {
		h := st.hashPrefix(value, b)
		st.stageIdx[i][h]--
		if st.stageIdx[i][h] <= 0 {
			delete(st.stageIdx[i], h)
		}
	}

	m := st.metadataValue(value)
	st.metaRefs[m]--
	if st.metaRefs[m] <= 0 {
		delete(st.metaRefs, m)
	}
}

// insertIntoChain splices rule into the priority-descending chain headed
// by head. If a chain member already has rule's exact priority, it is
// evicted and returned as replaced (the caller's Replace contract);
// otherwise rule is inserted at the position preserving descending
// priority and replaced is nil.
func insertIntoChain(head, rule *Rule) (newHead, replaced *Rule) {
	var prev *Rule
	cur := head

	for cur != nil {
		if cur.Priority == rule.Priority {
			rule.next = cur.next
			if prev == nil {
				newHead = rule
			} else {
				prev.next = rule
				newHead = head
			}
			cur.next = nil
			cur.table = nil
			return newHead, cur
		}
		if rule.Priority > cur.Priority {
			break
		}
		prev = cur
		cur = cur.next
	}

	rule.next = cur
	if prev == nil {
		newHead = rule
	} else {
		prev.next = rule
		newHead = head
	}

	return newHead, nil
}

// removeFromChain unlinks rule (found by pointer identity) from the chain
// headed by head.
func removeFromChain(head, rule *Rule) (newHead *Rule, ok bool) {
	if head == rule {
		return head.next, true
	}

	prev := head
	cur := head.next
	for cur != nil {
		if cur == rule {
			prev.next = cur.next
			return head, true
		}
		prev = cur
		cur = cur.next
	}

	return head, false
}

// insert adds rule to the subtable, splicing it into the priority chain
// for its exact (value, mask), or starting a new chain if this is the
// first rule with this value. It returns the rule evicted by an
// equal-priority replace, if any.
func (st *Subtable) insert(rule *Rule) (replaced *Rule) {
	h := rule.Hash(st.basis)
	bucket := st.buckets[h]

	for i, head := range bucket {
		if head.Match.Value != rule.Match.Value {
			continue
		}

		newHead, evicted := insertIntoChain(head, rule)
		bucket[i] = newHead
		st.buckets[h] = bucket

		rule.table = st
		if evicted == nil {
			st.n++
		}
		if rule.Priority > st.maxPriority {
			st.maxPriority = rule.Priority
		}

		return evicted
	}

	// brand-new distinct value for this subtable.
	rule.next = nil
	rule.table = st
	st.buckets[h] = append(bucket, rule)
	st.indexValueAdd(rule.Match.Value)
	st.n++

	if rule.Priority > st.maxPriority {
		st.maxPriority = rule.Priority
	}

	return nil
}

// remove deletes rule from the subtable. It reports whether rule was
// found.
func (st *Subtable) remove(rule *Rule) bool {
	h := rule.Hash(st.basis)
	bucket := st.buckets[h]

	for i, head := range bucket {
		if head.Match.Value != rule.Match.Value {
			continue
		}

		newHead, ok := removeFromChain(head, rule)
		if !ok {
			return false
		}

		rule.table = nil
		rule.next = nil
		st.n--

		if newHead == nil {
			// last rule for this value: drop the bucket slot entirely.
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(st.buckets, h)
			} else {
				st.buckets[h] = bucket
			}
			st.indexValueRemove(rule.Match.Value)
		} else {
			bucket[i] = newHead
			st.buckets[h] = bucket
		}

		st.recomputeMaxPriority()

		return true
	}

	return false
}

func (st *Subtable) recomputeMaxPriority() {
	var max uint32
	for _, bucket := range st.buckets {
		for _, head := range bucket {
			if head.Priority > max {
				max = head.Priority
			}
		}
	}
	st.maxPriority = max
}

// isEmpty reports whether the subtable holds no rules.
func (st *Subtable) isEmpty() bool { return st.n == 0 }

// lookup runs the staged probe against flow, recording into wc exactly
// the mask bits examined. It returns the matching rule, if any.
func (st *Subtable) lookup(flow miniflow.Key, wc *miniflow.Key) (*Rule, bool) {
	prev := 0

	for i, boundary := range st.boundaries {
		final := i == len(st.boundaries)-1

		if !final {
			h := st.hashPrefix(flow, boundary)
			wc.OrRange(st.mask, prev, boundary)
			if _, ok := st.stageIdx[i][h]; !ok {
				return nil, false
			}
			prev = boundary

			continue
		}

		wc.OrRange(st.mask, prev, boundary)

		h := rule0Hash(flow, st.mask, st.basis)
		masked := flow.And(st.mask)
		for _, head := range st.buckets[h] {
			if head.Match.Value == masked {
				return head, true
			}
		}

		return nil, false
	}

	return nil, false
}

func rule0Hash(value, mask miniflow.Key, basis uint64) uint64 {
	return miniflow.HashMasked(value, mask, basis)
}

// findExact returns the rule carrying exactly value and priority within
// this subtable, or nil.
func (st *Subtable) findExact(value miniflow.Key, priority uint32) *Rule {
	h := miniflow.HashMasked(value, st.mask, st.basis)
	for _, head := range st.buckets[h] {
		if head.Match.Value != value {
			continue
		}
		for r := head; r != nil; r = r.next {
			if r.Priority == priority {
				return r
			}
		}
		return nil
	}
	return nil
}

// allRules returns every installed rule in this subtable, in an
// unspecified but stable-for-one-snapshot order: by bucket, then by
// descending priority within each chain.
func (st *Subtable) allRules() []*Rule {
	out := make([]*Rule, 0, st.n)
	for _, bucket := range st.buckets {
		for _, head := range bucket {
			for r := head; r != nil; r = r.next {
				out = append(out, r)
			}
		}
	}
	return out
}
