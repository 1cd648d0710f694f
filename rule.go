package flowclass

import (
	"github.com/okt-artemii/flowclass/field"
	"github.com/okt-artemii/flowclass/miniflow"
)

// Rule carries a value+mask pair and a priority; it is the identity unit
// for insert and remove. Rules are externally owned: the classifier
// stores the pointer, and the caller retains responsibility for the
// allocation's lifetime until the rule is removed.
type Rule struct {
	Match    miniflow.Match
	Priority uint32

	// next chains to the next-lower-priority rule sharing this subtable's
	// (value, mask); nil at the tail of the chain.
	next *Rule

	// table is non-nil exactly when the rule is installed.
	table *Subtable
}

// NewRule builds a Rule, failing with ErrInvalidMatch if match's mask
// pins any bit outside reg's registered fields.
func NewRule(match miniflow.Match, priority uint32, reg *field.Registry) (*Rule, error) {
	if reg != nil && !reg.ValidMask(match.Mask) {
		return nil, ErrInvalidMatch
	}

	return &Rule{Match: match, Priority: priority}, nil
}

// Clone returns a fresh, uninstalled Rule with the same match and
// priority.
func (r *Rule) Clone() *Rule {
	return &Rule{Match: r.Match, Priority: r.Priority}
}

// Equal reports whether r and o share the same mask, the same
// value-under-mask, and the same priority.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Priority == o.Priority && r.Match.Equal(o.Match)
}

// Hash returns a basis-salted hash of r's masked value.
func (r *Rule) Hash(basis uint64) uint64 {
	return r.Match.Hash(basis)
}

// IsCatchall reports whether r's mask is all-zero, i.e. it matches every
// flow.
func (r *Rule) IsCatchall() bool {
	return r.Match.IsCatchall()
}

// IsLooseMatch reports whether r pins, identically, every bit criteria
// pins.
func (r *Rule) IsLooseMatch(criteria miniflow.Match) bool {
	return r.Match.IsLooseMatch(criteria)
}

// Installed reports whether r is currently inserted into a classifier.
func (r *Rule) Installed() bool {
	return r.table != nil
}
