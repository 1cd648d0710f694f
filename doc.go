// Package flowclass provides a priority-ordered flow classifier: given a
// packet's header fields it returns the highest-priority matching rule
// and, as a side effect, the wildcard mask identifying exactly which
// header bits influenced the decision. It is the matching engine behind
// an OpenFlow-style forwarding table.
//
// A Classifier decomposes its rule set into Subtables, one per distinct
// mask shape, each holding a concurrent hash index keyed by staged
// partial-key hashes. Subtables are visited in descending max-priority
// order, pruned by a metadata partition index and by per-field prefix
// tries, so that a lookup need only examine the header bits its result
// actually depends on.
//
// The Classifier is safe for a single writer concurrent with many
// lock-free readers: every mutable shared structure (the subtable set,
// the priority ordering, the partition index, each prefix trie) is
// published through an atomic pointer, following the same copy-on-write
// discipline the teacher routing-table package uses for its persistent
// variants. Lookup takes no Classifier lock. When the recent-matches
// cache is enabled (the default), each Lookup that finds a rule records
// it in that cache, which takes the cache's own lock and may allocate.
package flowclass
