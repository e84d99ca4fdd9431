package psm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/memutils/metadata"
)

// Size returns the number of bytes in the region's heap, excluding its header. A dead region
// has a size of 0.
func (h *Handle) Size() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.metadata == nil {
		return 0
	}
	return h.metadata.Size()
}

// AddStatistics sums this region's allocation statistics into stats. A dead region adds nothing.
func (h *Handle) AddStatistics(stats *memutils.Statistics) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.metadata == nil {
		return
	}
	h.metadata.AddStatistics(stats)
}

// AddDetailedStatistics sums this region's detailed allocation statistics into stats.
// A dead region adds nothing.
func (h *Handle) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.metadata == nil {
		return
	}
	h.metadata.AddDetailedStatistics(stats)
}

// Validate runs consistency checks over the region's allocation bookkeeping. It is expensive.
func (h *Handle) Validate() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.metadata == nil {
		return errors.Newf("region %q is not mapped", h.name)
	}

	err := h.metadata.Validate()
	if err != nil {
		return errors.Wrapf(err, "region %q failed validation", h.name)
	}

	if h.offsets.Count() != h.metadata.AllocationCount() {
		return errors.Newf("region %q tracks %d block addresses but has %d allocations",
			h.name, h.offsets.Count(), h.metadata.AllocationCount())
	}

	return nil
}

// CheckCorruption verifies the guard bytes after every live block. Guards are only written
// when built with the debug_mem_utils tag; otherwise this always succeeds.
func (h *Handle) CheckCorruption() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.metadata == nil || memutils.DebugMargin == 0 {
		return nil
	}

	return h.metadata.CheckCorruption(h.heapBase())
}

// BuildStatsString writes the region's statistics as a json object. When detailed is true, every
// block and free range in the region is listed under "Suballocations".
func (h *Handle) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	h.PrintJson(&writer, detailed)
	return string(writer.Bytes())
}

// PrintJson writes the region's statistics as a json object into writer
func (h *Handle) PrintJson(writer *jwriter.Writer, detailed bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Name").String(h.name)
	if h.metadata == nil {
		obj.Name("Live").Bool(false)
		return
	}
	obj.Name("Live").Bool(true)
	obj.Name("Base").Int(int(uintptr(h.heapBase())))
	obj.Name("UserRoot").Int(int(*h.userRoot()))

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.metadata.AddDetailedStatistics(&stats)

	statsObj := obj.Name("Total").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	blockObj := obj.Name("Block").Object()
	h.metadata.BlockJsonData(&blockObj)
	if detailed {
		h.printSuballocations(&blockObj)
	}
	blockObj.End()
}

func (h *Handle) printSuballocations(json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = h.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)
			if free {
				obj.Name("Type").String("Free")
			} else {
				obj.Name("Type").String("Block")
				obj.Name("Address").Int(int(uintptr(unsafe.Add(h.heapBase(), offset))))
			}
			return nil
		})
}
