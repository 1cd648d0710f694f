package flowclass

import "github.com/okt-artemii/flowclass/miniflow"

const (
	// ClsMaxIndices is the maximum number of staged segment boundaries a
	// subtable may be configured with, in addition to the final full-key
	// index.
	ClsMaxIndices = 3

	// ClsMaxTries is the maximum number of prefix tries a classifier may
	// bind.
	ClsMaxTries = 3

	// ClassifierMaxBatch is the largest cnt accepted by
	// Classifier.LookupMiniFlowBatch.
	ClassifierMaxBatch = 256
)

// fullStage is the implicit final segment boundary: the full header
// width, at which the staged lookup probes the subtable's real hash map.
const fullStage = miniflow.Bits
