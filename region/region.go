// Package region owns exactly one initialized shared-memory region for its lifetime.
//
// A Handle is created already initialized and must be destroyed exactly once. Raw block
// operations pass straight through to the region; the Handle adds no locking of its own.
package region

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/psm"
	"golang.org/x/exp/slog"
)

// MaxNameLength is the size of the fixed buffer that holds a region name and its terminator.
// Names must be strictly shorter than this.
const MaxNameLength = 0x1000

// ErrDestroyed is the panic value when a Handle is used after Destroy
var ErrDestroyed = errors.New("region handle used after destroy")

// Handle owns one region. The zero value is not usable: create handles with New.
type Handle struct {
	name      [MaxNameLength]byte
	nameLen   int
	destroyed atomic.Bool

	raw *psm.Handle
}

// New initializes the region backed by the file at name with at least size bytes and returns
// a handle that owns it. preferredBase is a placement hint and may be nil.
//
// New panics if name does not fit in MaxNameLength bytes including its terminator. This check
// happens before anything is mapped. A region that fails to map is still returned: it is logged
// by the region layer and every AllocateRaw on it returns nil.
func New(logger *slog.Logger, name string, size int, preferredBase unsafe.Pointer, options psm.CreateOptions) *Handle {
	if len(name) >= MaxNameLength {
		panic(errors.Newf("region name is %d bytes, but must be shorter than %d bytes", len(name), MaxNameLength))
	}

	h := &Handle{nameLen: len(name)}
	copy(h.name[:], name)
	h.name[h.nameLen] = 0

	h.raw = psm.Init(logger, h.Name(), size, preferredBase, options)
	return h
}

func (h *Handle) region() *psm.Handle {
	if h.destroyed.Load() {
		panic(ErrDestroyed)
	}
	return h.raw
}

// Name returns the name of the backing file
func (h *Handle) Name() string {
	return string(h.name[:h.nameLen])
}

// AllocateRaw returns at least size bytes with no alignment guarantee, or nil if the region
// cannot satisfy the request.
func (h *Handle) AllocateRaw(size int) unsafe.Pointer {
	return h.region().Alloc(size)
}

// FreeRaw returns a block to the region. address must have been returned by AllocateRaw on
// this handle.
func (h *Handle) FreeRaw(address unsafe.Pointer) {
	h.region().Free(address)
}

// UserRoot returns the pointer-sized slot in the region header reserved for the consumer,
// or nil if the region failed to map.
func (h *Handle) UserRoot() *uintptr {
	return h.region().User()
}

// Statistics returns a cheap summary of the region's usage
func (h *Handle) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	h.region().AddStatistics(&stats)
	return stats
}

// DetailedStatistics returns a full accounting of the region's allocations and free ranges
func (h *Handle) DetailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.region().AddDetailedStatistics(&stats)
	return stats
}

// BuildStatsString returns the region's statistics as json
func (h *Handle) BuildStatsString(detailed bool) string {
	return h.region().BuildStatsString(detailed)
}

// Validate performs expensive consistency checks on the region. In debug_mem_utils builds
// it also checks the guard bytes after every live block.
func (h *Handle) Validate() error {
	r := h.region()

	err := r.Validate()
	if err != nil {
		return err
	}

	return r.CheckCorruption()
}

// Destroy deinitializes the region. It must be called exactly once: a second call panics, as
// does any other use of the handle afterward.
func (h *Handle) Destroy() {
	if !h.destroyed.CompareAndSwap(false, true) {
		panic(ErrDestroyed)
	}

	h.raw.Deinit()
}
