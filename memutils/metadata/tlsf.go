package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/shmalloc/memutils"
	"golang.org/x/exp/slog"
)

const (
	SmallBufferSize        = 256
	SecondLevelIndex uint8 = 5
	MemoryClassShift       = 7
	MaxMemoryClasses       = 65 - MemoryClassShift
)

var nodePool = sync.Pool{
	New: func() any {
		return &tlsfNode{}
	},
}

// tlsfNode is one physical range of the block, either free or allocated. Physical neighbors
// are linked through prevPhysical/nextPhysical; free ranges are additionally threaded onto
// the segregated free lists through prevFree/nextFree.
type tlsfNode struct {
	offset       int
	size         int
	prevPhysical *tlsfNode
	nextPhysical *tlsfNode

	prevFree *tlsfNode
	nextFree *tlsfNode

	userData any
	handle   BlockAllocationHandle
}

// A taken node points prevFree at itself
func (b *tlsfNode) MarkFree() {
	b.prevFree = nil
}

func (b *tlsfNode) MarkTaken() {
	b.prevFree = b
}

func (b *tlsfNode) IsFree() bool {
	return b.prevFree != b
}

// TLSFBlockMetadata is a two-level segregated fit allocator over the offsets of a single block.
// Allocation and free are O(1); adjacent free ranges are merged eagerly. The trailing free range
// of the block (the "null block") is kept out of the free lists so that it can be grown into
// cheaply.
//
// TLSFBlockMetadata is not safe for concurrent use.
type TLSFBlockMetadata struct {
	BlockMetadataBase

	allocCount        int
	blocksFreeCount   int
	blocksFreeSize    int
	isFreeBitmap      uint32
	memoryClasses     int
	innerIsFreeBitmap [MaxMemoryClasses]uint32

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *tlsfNode]
	freeList             []*tlsfNode
	nullBlock            *tlsfNode
	tailBlock            *tlsfNode
}

var _ BlockMetadata = &TLSFBlockMetadata{}

func NewTLSFBlockMetadata() *TLSFBlockMetadata {
	return &TLSFBlockMetadata{}
}

func (m *TLSFBlockMetadata) allocateNode() *tlsfNode {
	b := nodePool.Get().(*tlsfNode)
	b.offset = 0
	b.size = 0
	b.prevPhysical = nil
	b.nextPhysical = nil
	b.nextFree = nil
	b.prevFree = nil
	b.userData = nil
	m.nextAllocationHandle++
	b.handle = m.nextAllocationHandle
	m.handleKey.Put(b.handle, b)
	return b
}

func (m *TLSFBlockMetadata) releaseNode(b *tlsfNode) {
	m.handleKey.Delete(b.handle)
	b.userData = nil
	nodePool.Put(b)
}

func (m *TLSFBlockMetadata) getNode(handle BlockAllocationHandle) (*tlsfNode, error) {
	node, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.Errorf("handle %d does not belong to this metadata", handle)
	}
	return node, nil
}

func (m *TLSFBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *tlsfNode](42)

	m.nullBlock = m.allocateNode()
	m.nullBlock.size = size
	m.nullBlock.MarkFree()
	m.tailBlock = m.nullBlock
	memoryClass := m.sizeToMemoryClass(size)
	sli := m.sizeToSecondIndex(size, memoryClass)

	listSize := 1
	sliMask := int(uint(1) << SecondLevelIndex)
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*sliMask + int(sli+1)
	}

	listSize += 4

	m.memoryClasses = int(memoryClass + 2)
	m.freeList = make([]*tlsfNode, listSize)
}

func (m *TLSFBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	calculatedSize := m.nullBlock.size
	calculatedFreeSize := m.nullBlock.size
	var allocCount, freeCount, freeListCount int

	// Check integrity of free lists
	for listIndex := 0; listIndex < len(m.freeList); listIndex++ {
		node := m.freeList[listIndex]
		if node == nil {
			continue
		}

		if !node.IsFree() {
			return errors.Errorf("range at offset %d is in the free list but is not free", node.offset)
		}

		if node.prevFree != nil {
			return errors.Errorf("range at offset %d is the head of a free list but has a previous range", node.offset)
		}

		freeListCount++
		for node.nextFree != nil {
			if !node.nextFree.IsFree() {
				return errors.Errorf("range at offset %d is in the free list but it is not free", node.nextFree.offset)
			}
			if node.nextFree.prevFree != node {
				return errors.Errorf("range at offset %d lists the range at offset %d as its next range, but the reverse reference is broken", node.offset, node.nextFree.offset)
			}

			freeListCount++
			node = node.nextFree
		}
	}

	if m.nullBlock.nextPhysical != nil {
		return errors.New("null block must be the tail of its physical chain")
	}

	if m.nullBlock.prevPhysical != nil && m.nullBlock.prevPhysical.nextPhysical != m.nullBlock {
		return errors.New("null block has a physical range before it in its chain, but the reverse reference is broken")
	}

	nextOffset := m.nullBlock.offset

	for prev := m.nullBlock.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Errorf("physical range at offset %d does not end at the next range's start offset", prev.offset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.IsFree() {
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			allocCount++
		}

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Errorf("range at offset %d has a previous physical range, but the reverse reference is broken", prev.offset)
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free ranges in the physical list and the number of ranges in the free list do not match! free list size: %d, physical list free ranges: %d", freeListCount, freeCount)
	}

	if nextOffset != 0 {
		return errors.Errorf("the first physical range should have an offset of 0, but instead it has an offset of %d", nextOffset)
	}

	if calculatedSize != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the ranges only added up to %d", m.size, calculatedSize)
	}

	if calculatedFreeSize != m.SumFreeSize() {
		return errors.Errorf("the free size of the metadata is %d, but the free ranges only added up to %d", m.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken ranges only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.blocksFreeCount {
		return errors.Errorf("the free range count of the metadata is %d, but there were only %d free ranges", m.blocksFreeCount, freeCount)
	}

	return nil
}

func (m *TLSFBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	if m.nullBlock.size > 0 {
		stats.AddUnusedRange(m.nullBlock.size)
	}

	for node := m.nullBlock.prevPhysical; node != nil; node = node.prevPhysical {
		if node.IsFree() {
			stats.AddUnusedRange(node.size)
		} else {
			stats.AddAllocation(node.size)
		}
	}
}

func (m *TLSFBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.SumFreeSize()
}

func (m *TLSFBlockMetadata) getListIndexFromSize(size int) int {
	memoryClass := m.sizeToMemoryClass(size)
	secondIndex := m.sizeToSecondIndex(size, memoryClass)
	return m.getListIndex(memoryClass, secondIndex)
}

func (m *TLSFBlockMetadata) getListIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	i := uint32(memoryClass-1)*uint32(uint(1)<<SecondLevelIndex) + uint32(secondIndex)

	return int(i) + 4
}

func (m *TLSFBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *TLSFBlockMetadata) FreeRegionsCount() int {
	count := m.blocksFreeCount
	if m.nullBlock.size > 0 {
		count++
	}
	return count
}

func (m *TLSFBlockMetadata) SumFreeSize() int {
	return m.blocksFreeSize + m.nullBlock.size
}

func (m *TLSFBlockMetadata) MayHaveFreeBlock(size int) bool {
	return size+memutils.DebugMargin <= m.SumFreeSize()
}

func (m *TLSFBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

func (m *TLSFBlockMetadata) sizeToMemoryClass(size int) uint8 {
	if size > SmallBufferSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - MemoryClassShift
	}

	return 0
}

func (m *TLSFBlockMetadata) sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		mask := uint(1) << SecondLevelIndex
		indexVal := uint(size) >> (memoryClass + MemoryClassShift - SecondLevelIndex)
		return uint16(indexVal ^ mask)
	}

	return uint16((size - 1) / 64)
}

func (m *TLSFBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	memutils.DebugCheckPow2(allocAlignment, "allocAlignment")
	memutils.DebugValidate(m)

	allocSize += memutils.DebugMargin

	// Is the block big enough?
	if allocSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	// Any free ranges other than the null block?
	if m.blocksFreeCount == 0 {
		success := m.checkNode(m.nullBlock, len(m.freeList), allocSize, allocAlignment, &allocRequest)
		return success, allocRequest, nil
	}

	// Round up to the next list
	sizeForNextList := allocSize

	smallSizeStep := SmallBufferSize / 4
	if allocSize > SmallBufferSize {
		mostSignificantBit := 63 - bits.LeadingZeros64(uint64(allocSize))
		sizeForNextList += int(uint(1) << (mostSignificantBit - int(SecondLevelIndex)))
	} else if allocSize > SmallBufferSize-smallSizeStep {
		sizeForNextList = SmallBufferSize + 1
	} else {
		sizeForNextList += smallSizeStep
	}

	nextListIndex := 0
	prevListIndex := 0
	doFullSearch := false
	var nextListNode, prevListNode *tlsfNode

	switch {
	case strategy&AllocationStrategyMinTime != 0:
		// Check the larger list first
		nextListNode, nextListIndex = m.findFreeNode(sizeForNextList)

		if nextListNode != nil {
			doFullSearch = true
			if m.checkNode(nextListNode, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}
		}

		// Then the null block
		if m.checkNode(m.nullBlock, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		// Then the rest of the larger list
		for nextListNode != nil {
			if m.checkNode(nextListNode, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			nextListNode = nextListNode.nextFree
		}

		// Finally the best fit list
		prevListNode, prevListIndex = m.findFreeNode(allocSize)

		for prevListNode != nil {
			if m.checkNode(prevListNode, prevListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			prevListNode = prevListNode.nextFree
		}
	case strategy&AllocationStrategyMinMemory != 0:
		// Best fit list
		prevListNode, prevListIndex = m.findFreeNode(allocSize)

		for prevListNode != nil {
			if m.checkNode(prevListNode, prevListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			prevListNode = prevListNode.nextFree
		}

		// Null block
		if m.checkNode(m.nullBlock, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		// Larger list
		nextListNode, nextListIndex = m.findFreeNode(sizeForNextList)

		for nextListNode != nil {
			doFullSearch = true
			if m.checkNode(nextListNode, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			nextListNode = nextListNode.nextFree
		}
	case strategy&AllocationStrategyMinOffset != 0:
		// Walk forward through physical ranges from offset 0
		if m.minOffsetCheckNodes(allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		if m.checkNode(m.nullBlock, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		// Whole range searched
		return false, allocRequest, nil
	default:
		// Larger list
		nextListNode, nextListIndex = m.findFreeNode(sizeForNextList)

		for nextListNode != nil {
			doFullSearch = true
			if m.checkNode(nextListNode, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			nextListNode = nextListNode.nextFree
		}

		// Null block
		if m.checkNode(m.nullBlock, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		// Best fit list
		prevListNode, prevListIndex = m.findFreeNode(allocSize)

		for prevListNode != nil {
			if m.checkNode(prevListNode, prevListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			prevListNode = prevListNode.nextFree
		}
	}

	if !doFullSearch {
		return false, allocRequest, nil
	}

	// Worst case, full search has to be done
	for nextListIndex++; nextListIndex < len(m.freeList); nextListIndex++ {
		nextListNode = m.freeList[nextListIndex]
		for nextListNode != nil {
			if m.checkNode(nextListNode, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}

			nextListNode = nextListNode.nextFree
		}
	}

	return false, allocRequest, nil
}

func (m *TLSFBlockMetadata) minOffsetCheckNodes(
	allocSize int,
	allocAlignment uint,
	allocRequest *AllocationRequest,
) bool {
	for node := m.tailBlock; node != nil; node = node.nextPhysical {
		if node.IsFree() && node.size >= allocSize && node != m.nullBlock {
			if m.checkNode(node, m.getListIndexFromSize(node.size), allocSize, allocAlignment, allocRequest) {
				return true
			}
		}
	}

	return false
}

func (m *TLSFBlockMetadata) checkNode(
	node *tlsfNode,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	allocRequest *AllocationRequest,
) bool {
	if !node.IsFree() {
		panic(fmt.Sprintf("range at offset %d is already taken", node.offset))
	}

	alignedOffset := memutils.AlignUp(node.offset, allocAlignment)

	if node.size < allocSize+alignedOffset-node.offset {
		return false
	}

	allocRequest.Type = AllocationRequestTLSF
	allocRequest.BlockAllocationHandle = node.handle
	allocRequest.Size = allocSize - memutils.DebugMargin
	allocRequest.Offset = alignedOffset

	// Move the node to the head of its list so the next lookup is fast
	if listIndex != len(m.freeList) && node.prevFree != nil {
		node.prevFree.nextFree = node.nextFree
		if node.nextFree != nil {
			node.nextFree.prevFree = node.prevFree
		}

		node.prevFree = nil
		node.nextFree = m.freeList[listIndex]
		m.freeList[listIndex] = node
		if node.nextFree != nil {
			node.nextFree.prevFree = node
		}
	}

	return true
}

func (m *TLSFBlockMetadata) findFreeNode(size int) (*tlsfNode, int) {
	memoryClass := m.sizeToMemoryClass(size)
	innerFreeMap := m.innerIsFreeBitmap[memoryClass] & (math.MaxUint32 << m.sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		// Check higher levels for available ranges
		freeMap := m.isFreeBitmap & (math.MaxUint32 << (memoryClass + 1))
		if freeMap == 0 {
			return nil, 0
		}

		// Lowest free class
		memoryClass = uint8(bits.TrailingZeros32(freeMap))
		innerFreeMap = m.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic("free bitmap is in an invalid state")
		}
	}

	listIndex := m.getListIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if m.freeList[listIndex] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free ranges, but no ranges were in the free list", listIndex))
	}

	return m.freeList[listIndex], listIndex
}

func (m *TLSFBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.blockJsonHeader(json, stats.BlockBytes-stats.AllocationBytes, stats.AllocationCount, stats.UnusedRangeCount)
	json.Name("FreeListBuckets").Int(len(m.freeList))
}

func (m *TLSFBlockMetadata) CheckCorruption(blockData unsafe.Pointer) error {
	for node := m.nullBlock.prevPhysical; node != nil; node = node.prevPhysical {
		if !node.IsFree() {
			if !memutils.ValidateMagicValue(blockData, node.offset+node.size) {
				return errors.Errorf("memory corruption detected after allocation at offset %d", node.offset)
			}
		}
	}

	return nil
}

func (m *TLSFBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	if req.Type != AllocationRequestTLSF {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	currentNode, err := m.getNode(req.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !currentNode.IsFree() {
		return errors.Errorf("allocation request targets the range at offset %d, which is no longer free", currentNode.offset)
	}

	offset := req.Offset
	if currentNode.offset > offset {
		return errors.New("allocation request had a range that was incompatible with the requested offset")
	}

	if currentNode != m.nullBlock {
		m.removeFreeNode(currentNode)
	}

	missingAlignment := offset - currentNode.offset

	// Hand the alignment padding to the previous range, or make a new free range for it
	if missingAlignment != 0 {
		prevNode := currentNode.prevPhysical

		if prevNode == nil {
			return errors.New("somehow had missing alignment at offset 0")
		}

		if prevNode.IsFree() && prevNode.size != memutils.DebugMargin {
			oldListIndex := m.getListIndexFromSize(prevNode.size)
			prevNode.size += missingAlignment

			if oldListIndex != m.getListIndexFromSize(prevNode.size) {
				prevNode.size -= missingAlignment
				m.removeFreeNode(prevNode)

				prevNode.size += missingAlignment
				m.insertFreeNode(prevNode)
			} else {
				m.blocksFreeSize += missingAlignment
			}
		} else {
			newNode := m.allocateNode()
			currentNode.prevPhysical = newNode
			prevNode.nextPhysical = newNode
			newNode.prevPhysical = prevNode
			newNode.nextPhysical = currentNode
			newNode.size = missingAlignment
			newNode.offset = currentNode.offset
			newNode.MarkTaken()

			m.insertFreeNode(newNode)
		}

		currentNode.size -= missingAlignment
		currentNode.offset += missingAlignment
	}

	size := req.Size + memutils.DebugMargin
	if currentNode.size == size {
		if currentNode == m.nullBlock {
			// The null block was consumed exactly, start a new empty one
			m.nullBlock = m.allocateNode()
			m.nullBlock.size = 0
			m.nullBlock.offset = currentNode.offset + size
			m.nullBlock.prevPhysical = currentNode
			m.nullBlock.nextPhysical = nil
			m.nullBlock.MarkFree()
			currentNode.nextPhysical = m.nullBlock
			currentNode.MarkTaken()
		}
	} else if currentNode.size < size {
		return errors.New("allocation request had a range too small for the request")
	} else {
		// Split off the remainder as a new free range
		newNode := m.allocateNode()
		newNode.size = currentNode.size - size
		newNode.offset = currentNode.offset + size
		newNode.prevPhysical = currentNode
		newNode.nextPhysical = currentNode.nextPhysical
		currentNode.nextPhysical = newNode
		currentNode.size = size

		if currentNode == m.nullBlock {
			m.nullBlock = newNode
			m.nullBlock.MarkFree()
			m.nullBlock.nextFree = nil
			m.nullBlock.prevFree = nil
			currentNode.MarkTaken()
		} else {
			newNode.nextPhysical.prevPhysical = newNode
			newNode.MarkTaken()
			m.insertFreeNode(newNode)
		}
	}

	currentNode.userData = userData

	if memutils.DebugMargin > 0 {
		currentNode.size -= memutils.DebugMargin
		newNode := m.allocateNode()
		newNode.size = memutils.DebugMargin
		newNode.offset = currentNode.offset + currentNode.size
		newNode.prevPhysical = currentNode
		newNode.nextPhysical = currentNode.nextPhysical
		newNode.MarkTaken()
		currentNode.nextPhysical.prevPhysical = newNode
		currentNode.nextPhysical = newNode
		m.insertFreeNode(newNode)
	}

	m.allocCount++

	return nil
}

func (m *TLSFBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	node, err := m.getNode(allocHandle)
	if err != nil {
		return err
	}
	if node.IsFree() {
		return errors.New("range is already free")
	}

	next := node.nextPhysical
	m.allocCount--
	node.userData = nil

	if memutils.DebugMargin > 0 {
		m.removeFreeNode(next)
		m.mergeNode(next, node)

		node = next
		next = next.nextPhysical
	}

	prev := node.prevPhysical
	if prev != nil && prev.IsFree() && prev.size != memutils.DebugMargin {
		m.removeFreeNode(prev)
		m.mergeNode(node, prev)
	}

	if !next.IsFree() {
		m.insertFreeNode(node)
	} else if next == m.nullBlock {
		m.mergeNode(m.nullBlock, node)
	} else {
		m.removeFreeNode(next)
		m.mergeNode(next, node)

		m.insertFreeNode(next)
	}

	return nil
}

func (m *TLSFBlockMetadata) removeFreeNode(node *tlsfNode) {
	if node == m.nullBlock {
		panic("cannot remove the null block")
	}
	if !node.IsFree() {
		panic("provided range is not free")
	}

	if node.nextFree != nil {
		node.nextFree.prevFree = node.prevFree
	}
	if node.prevFree != nil {
		node.prevFree.nextFree = node.nextFree
	} else {
		memClass := m.sizeToMemoryClass(node.size)
		secondIndex := m.sizeToSecondIndex(node.size, memClass)
		index := m.getListIndex(memClass, secondIndex)

		if m.freeList[index] != node {
			panic("range was not in the free list at the expected location")
		}
		m.freeList[index] = node.nextFree
		if node.nextFree == nil {
			m.innerIsFreeBitmap[memClass] &= ^(1 << secondIndex)
			if m.innerIsFreeBitmap[memClass] == 0 {
				m.isFreeBitmap &= ^(1 << memClass)
			}
		}
	}

	node.MarkTaken()
	node.userData = nil
	m.blocksFreeCount--
	m.blocksFreeSize -= node.size
}

func (m *TLSFBlockMetadata) insertFreeNode(node *tlsfNode) {
	if node == m.nullBlock {
		panic("cannot insert the null block")
	}

	if node.IsFree() {
		panic("range is already free")
	}

	memClass := m.sizeToMemoryClass(node.size)
	secondIndex := m.sizeToSecondIndex(node.size, memClass)
	index := m.getListIndex(memClass, secondIndex)

	if index >= len(m.freeList) {
		panic("invalid free list index found for range")
	}

	node.prevFree = nil
	node.nextFree = m.freeList[index]
	m.freeList[index] = node
	if node.nextFree != nil {
		node.nextFree.prevFree = node
	} else {
		m.innerIsFreeBitmap[memClass] |= 1 << secondIndex
		m.isFreeBitmap |= 1 << memClass
	}
	m.blocksFreeCount++
	m.blocksFreeSize += node.size
}

// mergeNode folds prev into node; prev must be node's physical predecessor and must already
// be out of the free lists
func (m *TLSFBlockMetadata) mergeNode(node *tlsfNode, prev *tlsfNode) {
	if node.prevPhysical != prev {
		panic("cannot merge separate physical ranges")
	}
	if prev.IsFree() {
		panic("cannot merge a range that belongs to the free list")
	}

	node.offset = prev.offset
	node.size += prev.size
	node.prevPhysical = prev.prevPhysical
	if node.prevPhysical != nil {
		node.prevPhysical.nextPhysical = node
	} else {
		m.tailBlock = node
	}

	m.releaseNode(prev)
}

func (m *TLSFBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for node := m.tailBlock; node != nil; node = node.nextPhysical {
		if node == m.nullBlock && node.size == 0 {
			continue
		}

		err := handleBlock(node.handle, node.offset, node.size, node.userData, node.IsFree())
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *TLSFBlockMetadata) Clear() {
	m.allocCount = 0
	m.blocksFreeCount = 0
	m.blocksFreeSize = 0
	m.isFreeBitmap = 0
	m.nullBlock.offset = 0
	m.nullBlock.size = m.size
	node := m.nullBlock.prevPhysical
	m.nullBlock.prevPhysical = nil
	m.tailBlock = m.nullBlock

	for node != nil {
		prev := node.prevPhysical
		m.releaseNode(node)
		node = prev
	}

	m.freeList = make([]*tlsfNode, len(m.freeList))
	m.innerIsFreeBitmap = [MaxMemoryClasses]uint32{}
}

// DebugLogAllAllocations calls logFunc once for every live allocation, in reverse offset order
func (m *TLSFBlockMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, userData any)) {
	for node := m.nullBlock.prevPhysical; node != nil; node = node.prevPhysical {
		if !node.IsFree() {
			logFunc(logger, node.offset, node.size, node.userData)
		}
	}
}

func (m *TLSFBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	node, err := m.getNode(allocHandle)
	if err != nil {
		return 0, err
	}

	return node.offset, nil
}

func (m *TLSFBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	node, err := m.getNode(allocHandle)
	if err != nil {
		return 0, err
	}

	if node.IsFree() {
		return 0, errors.New("size cannot be retrieved for a free range")
	}

	return node.size, nil
}

func (m *TLSFBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	node, err := m.getNode(allocHandle)
	if err != nil {
		return nil, err
	}

	if node.IsFree() {
		return nil, errors.New("user data cannot be retrieved for a free range")
	}

	return node.userData, nil
}

func (m *TLSFBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	node, err := m.getNode(allocHandle)
	if err != nil {
		return err
	}

	if node.IsFree() {
		return errors.New("user data cannot be set for a free range")
	}

	node.userData = userData
	return nil
}
