package metadata

// AllocationStrategy exposes several options for choosing the location of a new allocation.
// If none is chosen, a balanced strategy will be used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory chooses the smallest-possible free range for the allocation to
	// minimize memory usage and fragmentation, possibly at the expense of allocation time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime chooses the first suitable free range that is cheap to find,
	// possibly at the expense of allocation quality.
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset chooses the lowest offset in available space. This keeps data
	// tightly packed toward the start of the block at some cost in speed.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	0:                           "Balanced",
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "Mixed"
	}
	return str
}
