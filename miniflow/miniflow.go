// Package miniflow provides the compact (value, mask) packet-header
// representation consumed by the flow classifier.
//
// In the system this classifier is modeled on, the header representation
// and its mask/value compaction (flow, miniflow, match, minimatch) are
// owned by an external collaborator. This package is this module's own,
// minimal implementation of that collaborator's interface: a fixed-width
// bit space big enough to carry a handful of OpenFlow-style match fields
// (metadata register, Ethernet addresses, IPv4/IPv6 addresses, transport
// ports) addressed by bit offset, plus the masked hashing and masked
// equality operations the classifier's subtables are built on.
package miniflow

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// WordCount is the number of 64-bit words backing a Key.
const WordCount = 4

// Bits is the total addressable header width in bits.
const Bits = WordCount * 64

// Key is a fixed-width bit vector over the header space, used both as a
// packet's field values and as a rule's mask. Bit 0 is the most
// significant bit of word 0; bit i lives in word i/64 at position
// 63-(i%64). This mirrors a field registry that reports fields by
// big-endian byte/bit offset.
type Key [WordCount]uint64

// wordBit splits a global bit index into its word index and the bit's
// position within that word (MSB-first).
func wordBit(i uint32) (word int, shift uint) {
	return int(i / 64), 63 - uint(i%64)
}

// TestBit reports whether bit i is set.
func (k Key) TestBit(i uint32) bool {
	w, s := wordBit(i)
	return k[w]&(1<<s) != 0
}

// WithBit returns a copy of k with bit i set to 1.
func (k Key) WithBit(i uint32) Key {
	w, s := wordBit(i)
	k[w] |= 1 << s
	return k
}

// And returns the bitwise AND of k and mask.
func (k Key) And(mask Key) Key {
	var out Key
	for i := range k {
		out[i] = k[i] & mask[i]
	}
	return out
}

// Or returns the bitwise OR of k and o.
func (k Key) Or(o Key) Key {
	var out Key
	for i := range k {
		out[i] = k[i] | o[i]
	}
	return out
}

// AndNot returns k &^ o.
func (k Key) AndNot(o Key) Key {
	var out Key
	for i := range k {
		out[i] = k[i] &^ o[i]
	}
	return out
}

// IsZero reports whether no bit is set.
func (k Key) IsZero() bool {
	return k == Key{}
}

// rangeMask returns a Key with bits [from, to) set, 0 <= from <= to <= Bits.
func rangeMask(from, to uint32) Key {
	var out Key
	for i := from; i < to; i++ {
		w, s := wordBit(i)
		out[w] |= 1 << s
	}
	return out
}

// MaskedPrefix returns k with only bits [0, nbits) of k retained.
func (k Key) MaskedPrefix(nbits int) Key {
	return k.And(rangeMask(0, uint32(nbits)))
}

// OrRange sets, in place, the bits of mask that fall in [from, to) into k,
// un-wildcarding exactly the portion of mask examined by a lookup stage.
func (k *Key) OrRange(mask Key, from, to int) {
	seg := mask.And(rangeMask(uint32(from), uint32(to)))
	*k = k.Or(seg)
}

// AllBits is a Key with every bit set. It is used as the base mask
// passed to OrRange when the caller wants to record a bit range as
// examined unconditionally, independent of any rule's actual mask.
var AllBits = Key{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)}

// Bytes renders k as a big-endian byte slice suitable for hashing.
func (k Key) Bytes() [WordCount * 8]byte {
	var buf [WordCount * 8]byte
	for i, w := range k {
		binary.BigEndian.PutUint64(buf[i*8:], w)
	}
	return buf
}

// HashMasked computes a basis-salted hash of value restricted to mask,
// using xxhash as the underlying non-cryptographic hash.
func HashMasked(value, mask Key, basis uint64) uint64 {
	masked := value.And(mask)
	buf := masked.Bytes()
	h := xxhash.Sum64(buf[:])
	h ^= basis
	h *= 0x9E3779B97F4A7C15
	h ^= h >> 29
	return h
}

// ExtractField pulls out, as a right-justified uint64, the bits
// [offset, offset+width) of k. width must be <= 64.
func (k Key) ExtractField(offset, width uint32) uint64 {
	var v uint64
	for i := uint32(0); i < width; i++ {
		v <<= 1
		if k.TestBit(offset + i) {
			v |= 1
		}
	}
	return v
}

// WithField returns a copy of k with the low `width` bits of value written,
// MSB-first, starting at bit offset.
func (k Key) WithField(offset, width uint32, value uint64) Key {
	out := k
	for i := uint32(0); i < width; i++ {
		bit := offset + i
		if value&(1<<(width-1-i)) != 0 {
			out = out.WithBit(bit)
		}
	}
	return out
}

// Match is a (value, mask) pair: bit i of Mask = 1 means "the flow's bit i
// must equal Value's bit i". Value is always canonicalized to
// value.And(mask) so two Matches with equal Mask and equal masked Value
// compare equal.
type Match struct {
	Value Key
	Mask  Key
}

// NewMatch builds a canonicalized Match.
func NewMatch(value, mask Key) Match {
	return Match{Value: value.And(mask), Mask: mask}
}

// MatchesFlow reports whether flow satisfies m.
func (m Match) MatchesFlow(flow Key) bool {
	return flow.And(m.Mask) == m.Value
}

// ShapeEqual reports whether m and o share an identical mask.
func (m Match) ShapeEqual(o Match) bool {
	return m.Mask == o.Mask
}

// IsCatchall reports whether m's mask pins no bits at all.
func (m Match) IsCatchall() bool {
	return m.Mask.IsZero()
}

// IsLooseMatch reports whether m pins, identically, every bit criteria
// pins: m loose-matches criteria. Equivalently, m is at least as
// specific as criteria on every bit criteria cares about.
func (m Match) IsLooseMatch(criteria Match) bool {
	if !criteria.Mask.AndNot(m.Mask).IsZero() {
		// criteria pins a bit m doesn't pin.
		return false
	}
	return m.Value.And(criteria.Mask) == criteria.Value
}

// Equal reports whether m and o have identical mask and masked value.
func (m Match) Equal(o Match) bool {
	return m.Mask == o.Mask && m.Value == o.Value
}

// Hash returns a basis-salted hash of m's masked value.
func (m Match) Hash(basis uint64) uint64 {
	return HashMasked(m.Value, m.Mask, basis)
}

// PrefixLen returns the number of contiguous leading one-bits of m's mask
// within the field window [offset, offset+width), which is the prefix
// length a trie bound to that field must cover to justify this match.
// The field's bits are assumed canonically left-aligned (big-endian
// prefix orientation), i.e. prefix bits start at offset.
func (m Match) PrefixLen(offset, width uint32) int {
	n := 0
	for i := uint32(0); i < width; i++ {
		if !m.Mask.TestBit(offset + i) {
			break
		}
		n++
	}
	return n
}

// FieldValue extracts the field's value bits from m.Value.
func (m Match) FieldValue(offset, width uint32) uint64 {
	return m.Value.ExtractField(offset, width)
}

// PopCount returns the number of bits pinned by mask.
func PopCount(mask Key) int {
	n := 0
	for _, w := range mask {
		n += bits.OnesCount64(w)
	}
	return n
}
