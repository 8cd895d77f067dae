package match

const (
	// EngineVersion is the current version of the matching core
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1
)

// DefaultArenaCapacity is the per-market order arena size when the
// configuration does not override it.
const DefaultArenaCapacity int32 = 1 << 16

// GranularitySteps are the supported depth granularities, expressed as
// multiples of the market's current tick size.
var GranularitySteps = []int64{1, 5, 10, 50, 100}
