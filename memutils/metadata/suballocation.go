package metadata

import "math"

// BlockAllocationHandle identifies one range (allocated or free) inside a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
