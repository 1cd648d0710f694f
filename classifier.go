package flowclass

import (
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/okt-artemii/flowclass/field"
	"github.com/okt-artemii/flowclass/internal/trie"
	"github.com/okt-artemii/flowclass/miniflow"
)

const defaultHashBasis uint64 = 0x9E3779B97F4A7C15

const defaultRecentMatchesCacheSize = 256

// boundTrie ties one prefix trie to the field it indexes.
type boundTrie struct {
	fieldID      field.ID
	offset, width uint32
	t            *trie.Trie
}

// Classifier is a priority-ordered flow classifier. The zero value is not
// usable; construct one with NewClassifier.
//
// Insert/Replace/Remove/SetPrefixFields serialize on an internal mutex,
// so only one of them mutates the Classifier at a time, but any
// number of goroutines may call Lookup concurrently with a writer and
// with each other, observing a consistent snapshot at every instant.
type Classifier struct {
	mu sync.Mutex

	reg *field.Registry

	// subtablesByMask is writer-only bookkeeping, guarded by mu.
	subtablesByMask map[miniflow.Key]*Subtable

	// subtables is the reader-visible snapshot: every live subtable,
	// sorted by descending maxPriority so Lookup can stop early.
	subtables atomic.Pointer[[]*Subtable]

	tries           atomic.Pointer[[]boundTrie]
	triesConfigured bool

	partition *partition

	basis uint64
	log   *logrus.Entry

	metadataFieldID  uint32
	hasMetadataField bool
	metadataOffset   uint32
	metadataWidth    uint32

	segments [ClsMaxIndices]int

	nextTagBit int

	n atomic.Int64

	recentCacheSize int
	recent          *lru.Cache[uint64, *Rule]
}

// NewClassifier returns an empty Classifier whose masks are validated
// against reg. reg may be nil to skip validation.
func NewClassifier(reg *field.Registry, opts ...Option) *Classifier {
	c := &Classifier{
		reg:             reg,
		subtablesByMask: make(map[miniflow.Key]*Subtable),
		partition:       newPartition(),
		basis:           defaultHashBasis,
		log:             defaultLogger(),
		segments:        [ClsMaxIndices]int{64, 128, 192},
		recentCacheSize: defaultRecentMatchesCacheSize,
	}

	empty := []*Subtable{}
	c.subtables.Store(&empty)

	emptyTries := []boundTrie{}
	c.tries.Store(&emptyTries)

	for _, opt := range opts {
		opt(c)
	}

	if c.hasMetadataField && c.reg != nil {
		if f, ok := c.reg.Lookup(field.ID(c.metadataFieldID)); ok {
			c.metadataOffset = f.Offset
			c.metadataWidth = f.Width
		}
	}

	if c.recentCacheSize > 0 {
		cache, err := lru.New[uint64, *Rule](c.recentCacheSize)
		if err == nil {
			c.recent = cache
		}
	}

	return c
}

// SetPrefixFields binds up to ClsMaxTries address-like registered fields
// to fresh prefix tries used to prune subtable lookups. It may only be
// called once, on an empty classifier.
func (c *Classifier) SetPrefixFields(ids []field.ID) error {
	if len(ids) > ClsMaxTries {
		return ErrConfigInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.triesConfigured {
		return ErrConfigInvalid
	}
	if c.n.Load() != 0 {
		return ErrConfigInvalid
	}

	bound := make([]boundTrie, 0, len(ids))
	for _, id := range ids {
		if c.reg == nil {
			return ErrConfigInvalid
		}
		f, ok := c.reg.Lookup(id)
		if !ok || !f.AddrLike || f.Width > 64 {
			return ErrConfigInvalid
		}
		bound = append(bound, boundTrie{
			fieldID: id,
			offset:  f.Offset,
			width:   f.Width,
			t:       trie.New(int(f.Width)),
		})
	}

	c.tries.Store(&bound)
	c.triesConfigured = true

	return nil
}

func (c *Classifier) getOrCreateSubtableLocked(mask miniflow.Key) *Subtable {
	if st, ok := c.subtablesByMask[mask]; ok {
		return st
	}

	st := newSubtable(mask, c.segments, c.basis, c.metadataOffset, metaWidthIf(c.hasMetadataField, c.metadataWidth))
	if st.metaSensitive {
		st.tagBit = c.nextTagBit
		c.nextTagBit++
	}
	c.subtablesByMask[mask] = st

	c.log.WithField("mask_popcount", miniflow.PopCount(mask)).Debug("subtable created")

	return st
}

func metaWidthIf(has bool, width uint32) uint32 {
	if !has {
		return 0
	}
	return width
}

// metadataMaskValid reports whether mask either pins every bit of the
// configured metadata field or none of it. Partition pruning keys a
// metadata-sensitive subtable's rules by one zero-padded field value;
// a mask that pins only some of the field's bits would admit a range of
// real metadata values that don't share a single padded key, silently
// producing false negatives at lookup (see DESIGN.md). Rejecting a
// partial mask up front keeps that indexing invariant load-bearing
// instead of merely assumed.
func (c *Classifier) metadataMaskValid(mask miniflow.Key) bool {
	if !c.hasMetadataField {
		return true
	}

	pinned := 0
	for i := c.metadataOffset; i < c.metadataOffset+c.metadataWidth; i++ {
		if mask.TestBit(i) {
			pinned++
		}
	}

	return pinned == 0 || uint32(pinned) == c.metadataWidth
}

// publishSubtablesLocked rebuilds and atomically publishes the
// descending-priority subtable snapshot and the partition index. Must be
// called with mu held, after every structural mutation.
func (c *Classifier) publishSubtablesLocked() {
	next := make([]*Subtable, 0, len(c.subtablesByMask))
	for mask, st := range c.subtablesByMask {
		if st.isEmpty() {
			delete(c.subtablesByMask, mask)
			c.log.Debug("subtable destroyed")
			continue
		}
		next = append(next, st)
	}

	sort.Slice(next, func(i, j int) bool { return next[i].maxPriority > next[j].maxPriority })

	c.subtables.Store(&next)
	c.partition.rebuild(next)
}

func (c *Classifier) bindTries(rule *Rule) {
	for _, bt := range *c.tries.Load() {
		plen := rule.Match.PrefixLen(bt.offset, bt.width)
		if plen == 0 {
			continue
		}
		addr := rule.Match.FieldValue(bt.offset, bt.width)
		bt.t.Insert(addr, plen)
	}
}

func (c *Classifier) unbindTries(rule *Rule) {
	for _, bt := range *c.tries.Load() {
		plen := rule.Match.PrefixLen(bt.offset, bt.width)
		if plen == 0 {
			continue
		}
		addr := rule.Match.FieldValue(bt.offset, bt.width)
		bt.t.Remove(addr, plen)
	}
}

// Insert adds rule to the classifier. It fails with ErrAlreadyInstalled
// if rule is already installed anywhere, or if a rule with the exact
// same match and priority is already present; use Replace to evict such
// a rule deliberately.
func (c *Classifier) Insert(rule *Rule) error {
	if rule == nil || (c.reg != nil && !c.reg.ValidMask(rule.Match.Mask)) {
		return ErrInvalidMatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.metadataMaskValid(rule.Match.Mask) {
		return ErrPartialMetadataMask
	}

	if rule.Installed() {
		return ErrAlreadyInstalled
	}

	if existing, ok := c.subtablesByMask[rule.Match.Mask]; ok {
		if existing.findExact(rule.Match.Value, rule.Priority) != nil {
			return ErrAlreadyInstalled
		}
	}

	st := c.getOrCreateSubtableLocked(rule.Match.Mask)
	st.insert(rule)
	c.bindTries(rule)
	c.n.Add(1)
	c.publishSubtablesLocked()

	return nil
}

// Replace adds rule to the classifier, evicting and returning any rule
// that shares rule's exact match and priority.
func (c *Classifier) Replace(rule *Rule) (*Rule, error) {
	if rule == nil || (c.reg != nil && !c.reg.ValidMask(rule.Match.Mask)) {
		return nil, ErrInvalidMatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.metadataMaskValid(rule.Match.Mask) {
		return nil, ErrPartialMetadataMask
	}

	if rule.Installed() {
		return nil, ErrAlreadyInstalled
	}

	st := c.getOrCreateSubtableLocked(rule.Match.Mask)
	evicted := st.insert(rule)

	c.bindTries(rule)
	if evicted != nil {
		c.unbindTries(evicted)
	} else {
		c.n.Add(1)
	}

	c.publishSubtablesLocked()

	return evicted, nil
}

// Remove deletes rule from the classifier. It fails with ErrNotInstalled
// if rule is not currently installed in c.
func (c *Classifier) Remove(rule *Rule) error {
	if rule == nil {
		return ErrNotInstalled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rule.table == nil {
		return ErrNotInstalled
	}

	st := rule.table
	if _, ok := c.subtablesByMask[st.mask]; !ok || c.subtablesByMask[st.mask] != st {
		return ErrNotInstalled
	}

	if !st.remove(rule) {
		return ErrNotInstalled
	}

	c.unbindTries(rule)
	c.n.Add(-1)
	c.publishSubtablesLocked()

	return nil
}

// Count returns the number of rules currently installed.
func (c *Classifier) Count() int { return int(c.n.Load()) }

// IsEmpty reports whether the classifier holds no rules.
func (c *Classifier) IsEmpty() bool { return c.n.Load() == 0 }

// passesTries checks every bound trie against flow, recording the bits
// each trie query actually examined into wc regardless of the outcome,
// and reports whether subtable st can possibly hold a matching rule.
func (c *Classifier) passesTries(st *Subtable, flow miniflow.Key, wc *miniflow.Key, tries []boundTrie) bool {
	ok := true

	for _, bt := range tries {
		required := miniflow.Match{Mask: st.mask}.PrefixLen(bt.offset, bt.width)
		if required == 0 {
			continue
		}

		addr := flow.ExtractField(bt.offset, bt.width)
		plenMatch, plenWC := bt.t.Query(addr)

		wc.OrRange(miniflow.AllBits, int(bt.offset), int(bt.offset)+plenWC)

		if plenMatch < required {
			ok = false
		}
	}

	return ok
}

// Lookup finds the highest-priority rule matching flow. It returns the
// rule (or nil if none matches) and the wildcard mask: the set of header
// bits the decision actually depended on, suitable for caching the
// result of this lookup against future flows that agree with flow on
// every bit the mask pins.
func (c *Classifier) Lookup(flow miniflow.Key) (*Rule, miniflow.Key) {
	subtables := *c.subtables.Load()
	tries := *c.tries.Load()

	var wc miniflow.Key
	var best *Rule
	var bestPriority uint32

	metaVal := uint64(0)
	if c.hasMetadataField {
		metaVal = flow.ExtractField(c.metadataOffset, c.metadataWidth)
	}
	tags := c.partition.tagsFor(metaVal)

	for _, st := range subtables {
		if best != nil && st.maxPriority <= bestPriority {
			break
		}
		if !visible(tags, st.metaSensitive, st.tagBit) {
			// the skip was decided by the flow's metadata value.
			wc.OrRange(miniflow.AllBits, int(c.metadataOffset), int(c.metadataOffset+c.metadataWidth))
			continue
		}
		if !c.passesTries(st, flow, &wc, tries) {
			continue
		}

		if r, ok := st.lookup(flow, &wc); ok {
			if best == nil || r.Priority > bestPriority {
				best = r
				bestPriority = r.Priority
			}
		}
	}

	if best != nil && c.recent != nil {
		c.recent.Add(best.Hash(c.basis), best)
	}

	return best, wc
}

// LookupMiniFlowBatch runs Lookup across flows, writing each result into
// the corresponding slot of results. flows and results must have equal
// length, at most ClassifierMaxBatch.
func (c *Classifier) LookupMiniFlowBatch(flows []miniflow.Key, results []*Rule) {
	n := len(flows)
	if n > len(results) {
		n = len(results)
	}
	if n > ClassifierMaxBatch {
		n = ClassifierMaxBatch
	}

	for i := 0; i < n; i++ {
		r, _ := c.Lookup(flows[i])
		results[i] = r
	}
}

// FindRuleExactly returns the installed rule with exactly this match and
// priority, or nil.
func (c *Classifier) FindRuleExactly(match miniflow.Match, priority uint32) *Rule {
	subtables := *c.subtables.Load()
	for _, st := range subtables {
		if st.mask != match.Mask {
			continue
		}
		return st.findExact(match.Value, priority)
	}
	return nil
}

// FindMatchExactly returns every installed rule sharing match's exact
// (value, mask), across all priorities, ordered by descending priority.
func (c *Classifier) FindMatchExactly(match miniflow.Match) []*Rule {
	subtables := *c.subtables.Load()
	for _, st := range subtables {
		if st.mask != match.Mask {
			continue
		}
		h := miniflow.HashMasked(match.Value, st.mask, st.basis)
		for _, head := range st.buckets[h] {
			if head.Match.Value != match.Value {
				continue
			}
			var out []*Rule
			for r := head; r != nil; r = r.next {
				out = append(out, r)
			}
			return out
		}
		return nil
	}
	return nil
}

// RuleOverlaps reports whether match overlaps any currently installed
// rule of exactly priority: whether some flow exists that both could
// match. Rules at different priorities are never considered overlapping
// since the higher-priority rule always wins outright between them.
func (c *Classifier) RuleOverlaps(match miniflow.Match, priority uint32) bool {
	subtables := *c.subtables.Load()
	for _, st := range subtables {
		for _, bucket := range st.buckets {
			for _, head := range bucket {
				for r := head; r != nil; r = r.next {
					if r.Priority == priority && overlaps(match, r.Match) {
						return true
					}
				}
			}
		}
	}
	return false
}

func overlaps(a, b miniflow.Match) bool {
	common := a.Mask.And(b.Mask)
	return a.Value.And(common) == b.Value.And(common)
}
