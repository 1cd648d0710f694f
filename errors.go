package flowclass

import "errors"

// Sentinel errors, matching the taxonomy the teacher package uses for
// its own failure modes (plain errors.New / fmt.Errorf, no wrapping
// library): see stringify.go's "table not initialized" and
// fasttable.go's "nil writer" for the idiom this follows.
var (
	// ErrInvalidMatch is returned when a rule's mask pins bits outside
	// the registered field set.
	ErrInvalidMatch = errors.New("flowclass: match pins bits outside registered fields")

	// ErrAlreadyInstalled is returned by Insert/Replace when called on a
	// Rule that is already installed in some classifier.
	ErrAlreadyInstalled = errors.New("flowclass: rule already installed")

	// ErrNotInstalled is returned by Remove when called on a Rule that is
	// not installed in this classifier.
	ErrNotInstalled = errors.New("flowclass: rule not installed in this classifier")

	// ErrOutOfMemory is the out-of-memory member of the error taxonomy.
	// No function in this package returns it, and no rollback on
	// allocation failure is implemented.
	ErrOutOfMemory = errors.New("flowclass: out of memory")

	// ErrConfigInvalid is returned by SetPrefixFields when called on a
	// non-empty classifier, or with more than ClsMaxTries fields.
	ErrConfigInvalid = errors.New("flowclass: invalid classifier configuration")

	// ErrPartialMetadataMask is returned by Insert/Replace for a rule
	// whose mask pins some but not all bits of the configured metadata
	// field. Partition pruning indexes metadata as one opaque value per
	// subtable, which requires every metadata-sensitive subtable to pin
	// the field in full.
	ErrPartialMetadataMask = errors.New("flowclass: mask must pin the entire metadata field or none of it")
)
