// Package shmalloc serves aligned allocations out of a shared-memory region whose own blocks
// carry no alignment guarantee.
//
// Every allocation over-requests a raw block large enough to slide the user range forward to
// the requested alignment and still fit a pointer-sized footer after it. The footer records
// where the raw block starts, so Deallocate can return the block given only the user address
// and the original size.
//
// Memory served by this package lives outside the Go heap and is not scanned by the garbage
// collector. Values stored in it must not contain Go pointers.
package shmalloc

import (
	"unsafe"

	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/psm"
	"github.com/vkngwrapper/shmalloc/region"
	"golang.org/x/exp/slog"
)

//go:generate mockgen -source allocator.go -destination ./mocks/raw_allocator.go

// RawAllocator hands out unaligned blocks of at least the requested size. *region.Handle
// satisfies this interface.
type RawAllocator interface {
	AllocateRaw(size int) unsafe.Pointer
	FreeRaw(address unsafe.Pointer)
}

// Allocator corrects the alignment of blocks obtained from a RawAllocator. It adds no locking:
// it is safe for concurrent use exactly when its RawAllocator is.
type Allocator struct {
	raw    RawAllocator
	region *region.Handle
}

var _ Backend = &Allocator{}

// Wrap returns an Allocator that serves aligned allocations from raw. The Allocator does not
// own raw.
func Wrap(raw RawAllocator) *Allocator {
	return &Allocator{raw: raw}
}

// NewAllocator initializes a region and returns an Allocator that owns it. Call Destroy to
// tear the region down. It panics under the same conditions as region.New.
func NewAllocator(logger *slog.Logger, name string, size int, preferredBase unsafe.Pointer, options psm.CreateOptions) *Allocator {
	r := region.New(logger, name, size, preferredBase, options)
	return &Allocator{raw: r, region: r}
}

// Region returns the region owned by this Allocator, or nil if it was created with Wrap
func (a *Allocator) Region() *region.Handle {
	return a.region
}

// Allocate returns a pointer to size bytes whose address is a multiple of alignment, or nil if
// the underlying region cannot satisfy the request. An alignment of 0 is treated as 1; any
// other alignment that is not a power of two panics.
func (a *Allocator) Allocate(size int, alignment uint) unsafe.Pointer {
	alignment = normalizeAlignment(alignment)

	full, ok := blockSize(size, alignment)
	if !ok {
		return nil
	}

	block := a.raw.AllocateRaw(full)
	if block == nil {
		return nil
	}

	user := placeUser(block, alignment)
	writeFooter(user, size, block)

	return user
}

// Deallocate releases memory returned by Allocate. size must be the size that was passed to
// Allocate; alignment is accepted for symmetry and is not consulted. Deallocating nil does
// nothing.
func (a *Allocator) Deallocate(ptr unsafe.Pointer, size int, alignment uint) {
	if ptr == nil {
		return
	}

	a.raw.FreeRaw(readFooter(ptr, size))
}

// Statistics reports the usage of the owned region. Allocators created with Wrap report
// empty statistics.
func (a *Allocator) Statistics() memutils.Statistics {
	if a.region == nil {
		return memutils.Statistics{}
	}
	return a.region.Statistics()
}

// Destroy tears down the owned region. It does nothing for Allocators created with Wrap.
func (a *Allocator) Destroy() {
	if a.region != nil {
		a.region.Destroy()
	}
}

func normalizeAlignment(alignment uint) uint {
	if alignment == 0 {
		return 1
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		panic(err)
	}

	return alignment
}
