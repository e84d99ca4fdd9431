package metadata_test

import (
	"math"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/memutils/metadata"
)

func allocate(t *testing.T, tlsf *metadata.TLSFBlockMetadata, size int, alignment uint, strategy metadata.AllocationStrategy) metadata.BlockAllocationHandle {
	success, req, err := tlsf.CreateAllocationRequest(size, alignment, strategy)
	require.NoError(t, err)
	require.True(t, success)

	handle := req.BlockAllocationHandle
	err = tlsf.Alloc(req, size)
	require.NoError(t, err)

	return handle
}

func detailedStats(tlsf *metadata.TLSFBlockMetadata) memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)
	return stats
}

func emptyStats(size int) memutils.DetailedStatistics {
	return memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: size,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: size,
		UnusedRangeSizeMax: size,
	}
}

func TestTLSFBasicAlloc(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	require.Equal(t, emptyStats(1000), detailedStats(tlsf))
	require.True(t, tlsf.IsEmpty())

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, detailedStats(tlsf))
	require.False(t, tlsf.IsEmpty())

	offset, err := tlsf.AllocationOffset(alloc1)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	size, err := tlsf.AllocationSize(alloc1)
	require.NoError(t, err)
	require.Equal(t, 100, size)

	userData, err := tlsf.AllocationUserData(alloc1)
	require.NoError(t, err)
	require.Equal(t, 100, userData)

	err = tlsf.Free(alloc1)
	require.NoError(t, err)

	require.Equal(t, emptyStats(1000), detailedStats(tlsf))
	require.NoError(t, tlsf.Validate())
}

func TestTLSFSameSize(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(10000)

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc2 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc3 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc4 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 4,
			AllocationBytes: 400,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 9600,
		UnusedRangeSizeMax: 9600,
	}, detailedStats(tlsf))

	require.NoError(t, tlsf.Free(alloc1))
	require.NoError(t, tlsf.Free(alloc3))
	require.NoError(t, tlsf.Validate())
	require.Equal(t, 3, tlsf.FreeRegionsCount())

	require.NoError(t, tlsf.Free(alloc2))
	require.NoError(t, tlsf.Free(alloc4))

	require.Equal(t, emptyStats(10000), detailedStats(tlsf))
	require.Equal(t, 1, tlsf.FreeRegionsCount())
	require.NoError(t, tlsf.Validate())
}

func TestTLSFTripleSized(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(10000)

	alloc1 := allocate(t, tlsf, 10, 1, metadata.AllocationStrategyMinMemory)
	alloc2 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc3 := allocate(t, tlsf, 1000, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 3,
			AllocationBytes: 1110,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  10,
		AllocationSizeMax:  1000,
		UnusedRangeSizeMin: 8890,
		UnusedRangeSizeMax: 8890,
	}, detailedStats(tlsf))
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(alloc2))
	require.NoError(t, tlsf.Free(alloc1))
	require.NoError(t, tlsf.Free(alloc3))

	require.Equal(t, emptyStats(10000), detailedStats(tlsf))
}

func TestTLSFFreeSpaceHuntDiffTiers(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(10000)

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc3 := allocate(t, tlsf, 1000, 1, metadata.AllocationStrategyMinMemory)
	allocate(t, tlsf, 8800, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 4,
			AllocationBytes: 10000,
		},
		UnusedRangeCount:   0,
		AllocationSizeMin:  100,
		AllocationSizeMax:  8800,
		UnusedRangeSizeMin: math.MaxInt,
		UnusedRangeSizeMax: 0,
	}, detailedStats(tlsf))

	require.NoError(t, tlsf.Free(alloc1))
	require.NoError(t, tlsf.Free(alloc3))

	alloc5 := allocate(t, tlsf, 110, 1, metadata.AllocationStrategyMinMemory)

	offset, err := tlsf.AllocationOffset(alloc5)
	require.NoError(t, err)
	require.Equal(t, 200, offset)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 3,
			AllocationBytes: 9010,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  100,
		AllocationSizeMax:  8800,
		UnusedRangeSizeMin: 100,
		UnusedRangeSizeMax: 890,
	}, detailedStats(tlsf))
	require.NoError(t, tlsf.Validate())
}

func TestTLSFMinOffset(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1500)

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinOffset)
	allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinOffset)
	allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinOffset)

	require.NoError(t, tlsf.Free(alloc1))

	alloc4 := allocate(t, tlsf, 50, 1, metadata.AllocationStrategyMinOffset)
	offset, err := tlsf.AllocationOffset(alloc4)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	alloc5 := allocate(t, tlsf, 60, 1, metadata.AllocationStrategyMinOffset)
	offset, err = tlsf.AllocationOffset(alloc5)
	require.NoError(t, err)
	require.Equal(t, 300, offset)

	require.NoError(t, tlsf.Validate())
}

func TestTLSFMinTime(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(5000)

	var handles []metadata.BlockAllocationHandle
	for i := 0; i < 20; i++ {
		handles = append(handles, allocate(t, tlsf, 200, 1, metadata.AllocationStrategyMinTime))
	}

	for i := 0; i < len(handles); i += 2 {
		require.NoError(t, tlsf.Free(handles[i]))
	}
	require.NoError(t, tlsf.Validate())

	for i := 0; i < 10; i++ {
		allocate(t, tlsf, 150, 1, metadata.AllocationStrategyMinTime)
	}
	require.NoError(t, tlsf.Validate())
	require.Equal(t, 20, tlsf.AllocationCount())
}

func TestTLSFAlignedOffset(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	allocate(t, tlsf, 3, 1, 0)
	aligned := allocate(t, tlsf, 8, 16, 0)

	offset, err := tlsf.AllocationOffset(aligned)
	require.NoError(t, err)
	require.Equal(t, 16, offset)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 2,
			AllocationBytes: 11,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  3,
		AllocationSizeMax:  8,
		UnusedRangeSizeMin: 13,
		UnusedRangeSizeMax: 976,
	}, detailedStats(tlsf))
	require.Equal(t, 2, tlsf.FreeRegionsCount())
	require.NoError(t, tlsf.Validate())
}

func TestTLSFUnalignedPacking(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	first := allocate(t, tlsf, 17, 1, 0)
	second := allocate(t, tlsf, 5, 1, 0)

	offset, err := tlsf.AllocationOffset(first)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	offset, err = tlsf.AllocationOffset(second)
	require.NoError(t, err)
	require.Equal(t, 17, offset)
}

func TestTLSFExhaustion(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	success, _, err := tlsf.CreateAllocationRequest(101, 1, 0)
	require.NoError(t, err)
	require.False(t, success)
	require.False(t, tlsf.MayHaveFreeBlock(101))

	_, _, err = tlsf.CreateAllocationRequest(0, 1, 0)
	require.Error(t, err)

	allocate(t, tlsf, 100, 1, 0)
	require.Equal(t, 0, tlsf.SumFreeSize())

	success, _, err = tlsf.CreateAllocationRequest(1, 1, 0)
	require.NoError(t, err)
	require.False(t, success)
}

func TestTLSFBadHandles(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	handle := allocate(t, tlsf, 10, 1, 0)
	require.NoError(t, tlsf.Free(handle))
	require.Error(t, tlsf.Free(handle))
	require.Error(t, tlsf.Free(metadata.NoAllocation))

	_, err := tlsf.AllocationOffset(metadata.NoAllocation)
	require.Error(t, err)
}

func TestTLSFStaleRequest(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	alloc1 := allocate(t, tlsf, 10, 1, 0)
	allocate(t, tlsf, 10, 1, 0)
	require.NoError(t, tlsf.Free(alloc1))

	success, req, err := tlsf.CreateAllocationRequest(10, 1, metadata.AllocationStrategyMinOffset)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	require.Error(t, tlsf.Alloc(req, nil))
}

func TestTLSFVisitAllRegions(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	allocate(t, tlsf, 10, 1, 0)
	middle := allocate(t, tlsf, 20, 1, 0)
	allocate(t, tlsf, 30, 1, 0)
	require.NoError(t, tlsf.Free(middle))

	type visited struct {
		offset int
		size   int
		free   bool
	}
	var regions []visited
	err := tlsf.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		regions = append(regions, visited{offset: offset, size: size, free: free})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []visited{
		{offset: 0, size: 10, free: false},
		{offset: 10, size: 20, free: true},
		{offset: 30, size: 30, free: false},
		{offset: 60, size: 940, free: true},
	}, regions)
}

func TestTLSFClear(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	allocate(t, tlsf, 10, 1, 0)
	allocate(t, tlsf, 20, 1, 0)
	tlsf.Clear()

	require.Equal(t, emptyStats(1000), detailedStats(tlsf))
	require.NoError(t, tlsf.Validate())

	allocate(t, tlsf, 1000, 1, 0)
	require.NoError(t, tlsf.Validate())
}

func TestTLSFBlockJsonData(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)
	allocate(t, tlsf, 100, 1, 0)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	tlsf.BlockJsonData(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	json := string(writer.Bytes())
	require.Contains(t, json, `"TotalBytes":1000`)
	require.Contains(t, json, `"UnusedBytes":900`)
	require.Contains(t, json, `"Allocations":1`)
	require.Contains(t, json, `"UnusedRanges":1`)
}
