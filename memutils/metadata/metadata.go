package metadata

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/shmalloc/memutils"
	"golang.org/x/exp/slog"
)

// BlockMetadata tracks which byte ranges of a single contiguous block of memory are in use.
// It never touches the memory itself: it deals only in offsets from the start of the block,
// so the same implementation can manage a region of shared memory, a slice of heap memory,
// or anything else that can be addressed by offset.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. size is the number of bytes
	// in the block that will be managed.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive.
	// When the implementation is functioning correctly, it should not be possible for this method
	// to return an error.
	Validate() error
	// AllocationCount returns the number of live allocations in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of distinct free ranges in the block. Adjacent free
	// ranges are always merged, so this is also a measure of fragmentation.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes in the block
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic indicating whether an allocation of size bytes
	// could possibly succeed. It may return false positives but never false negatives.
	MayHaveFreeBlock(size int) bool
	// IsEmpty will return true if this block has no live allocations
	IsEmpty() bool

	// DebugLogAllAllocations calls logFunc once for every live allocation in the block
	DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, userData any))
	// VisitAllRegions will call the provided callback once for each allocation and free range in
	// the block. This is slow and should be reserved for diagnostics.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset in bytes of the range identified by allocHandle
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size in bytes of the live allocation identified by allocHandle
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userData value attached to a live allocation
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData replaces the userData value attached to a live allocation
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this block's allocation statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption accepts a pointer to the start of the memory that this block manages and
	// returns an error if the guard bytes after any live allocation have been overwritten.
	// Guards only exist when built with the debug_mem_utils tag, and the consumer is responsible
	// for writing them with memutils.WriteMagicValue after each allocation.
	CheckCorruption(blockData unsafe.Pointer) error

	// CreateAllocationRequest finds a place for a new allocation without committing it.
	//
	// allocSize - the size in bytes of the requested allocation
	// allocAlignment - the required alignment of the allocation's offset. 1 means no alignment.
	// strategy - Whether to prioritize memory usage, memory offset, or allocation speed when choosing
	// a place for the requested allocation.
	//
	// The boolean return value is false when there is no room for the allocation; this is not an error.
	CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest returned by CreateAllocationRequest. The implementation
	// returns an error if the request is no longer valid.
	Alloc(request AllocationRequest, userData any) error

	// Free releases a live allocation, merging it with neighboring free ranges.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) blockJsonHeader(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
