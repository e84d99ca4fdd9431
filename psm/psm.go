// Package psm manages a named, memory-mapped region of shared memory and hands out raw byte
// blocks from it.
//
// Blocks come with no alignment guarantee: they are packed byte-exact, so the address of a
// block depends on the sizes of everything allocated before it. There is also no way to recover
// the size of a block from its address, and no way to query why an operation failed. Failures
// are written to the handle's logger and otherwise surface only as a nil result from Alloc.
//
// Allocation bookkeeping lives in process memory; only the bytes handed out and a small header
// holding the user root live in the region itself.
package psm

import (
	"context"
	"encoding/binary"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/shmalloc/internal/utils"
	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/memutils/metadata"
	"golang.org/x/exp/slog"
)

const (
	headerMagic  uint32 = 0x004d5350
	headerSize   int    = 64
	userRootOffs int    = 8
)

// Handle is one initialized region. The zero value is not usable: create handles with Init.
// A Handle is safe for concurrent use unless it was created with CreateExternallySynchronized.
type Handle struct {
	name     string
	logger   *slog.Logger
	strategy metadata.AllocationStrategy

	mutex    utils.OptionalRWMutex
	data     []byte
	unmap    func() error
	metadata metadata.BlockMetadata
	offsets  *swiss.Map[int, metadata.BlockAllocationHandle]
}

// Init creates or attaches the region backed by the file at name, sized to at least initSize
// bytes. reqAddress is a placement hint for the mapping and may be nil.
//
// Init never fails outright. If the region cannot be mapped the error is logged and the returned
// handle is dead: every Alloc on it returns nil.
func Init(logger *slog.Logger, name string, initSize int, reqAddress unsafe.Pointer, options CreateOptions) *Handle {
	h := &Handle{
		name:     name,
		logger:   logger,
		strategy: options.Strategy,
	}
	h.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0

	if initSize <= headerSize {
		logger.LogAttrs(context.Background(), slog.LevelError, "region initialization failed",
			slog.String("name", name),
			slog.Int("size", initSize),
			slog.String("error", "region is too small to hold its header"),
		)
		return h
	}

	data, unmap, err := mapRegion(name, initSize, reqAddress)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "region initialization failed",
			slog.String("name", name),
			slog.Int("size", initSize),
			slog.Any("error", err),
		)
		return h
	}

	h.data = data
	h.unmap = unmap

	binary.LittleEndian.PutUint32(data[0:4], headerMagic)
	*h.userRoot() = 0

	h.metadata = metadata.NewTLSFBlockMetadata()
	h.metadata.Init(len(data) - headerSize)
	h.offsets = swiss.NewMap[int, metadata.BlockAllocationHandle](64)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "region initialized",
		slog.String("name", name),
		slog.Int("size", len(data)),
		slog.String("flags", options.Flags.String()),
		slog.String("strategy", options.Strategy.String()),
	)

	return h
}

// Name returns the name the region was initialized with
func (h *Handle) Name() string {
	return h.name
}

// Live returns true if the region was mapped successfully and has not been deinitialized
func (h *Handle) Live() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.data != nil
}

func (h *Handle) heapBase() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(h.data)), headerSize)
}

func (h *Handle) userRoot() *uintptr {
	return (*uintptr)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(h.data)), userRootOffs))
}

// Alloc returns at least size bytes from the region, or nil if the region is dead, exhausted,
// or size is less than 1. The returned address has no particular alignment.
func (h *Handle) Alloc(size int) unsafe.Pointer {
	if size < 1 {
		return nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return nil
	}

	success, req, err := h.metadata.CreateAllocationRequest(size, 1, h.strategy)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "region allocation request failed",
			slog.String("name", h.name),
			slog.Int("size", size),
			slog.Any("error", err),
		)
		return nil
	}
	if !success {
		return nil
	}

	err = h.metadata.Alloc(req, nil)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "region allocation failed",
			slog.String("name", h.name),
			slog.Int("size", size),
			slog.Any("error", err),
		)
		return nil
	}

	h.offsets.Put(req.Offset, req.BlockAllocationHandle)
	memutils.DebugValidate(h.metadata)
	address := unsafe.Add(h.heapBase(), req.Offset)
	memutils.WriteMagicValue(address, req.Size)

	return address
}

// Free returns a block to the region. address must be exactly a value returned by Alloc on this
// handle. Any other address is logged and ignored. Freeing nil is a no-op.
func (h *Handle) Free(address unsafe.Pointer) {
	if address == nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "free on a dead region",
			slog.String("name", h.name),
		)
		return
	}

	base := uintptr(h.heapBase())
	addr := uintptr(address)
	if addr < base || addr >= base+uintptr(h.metadata.Size()) {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "free of an address outside the region",
			slog.String("name", h.name),
			slog.Any("address", addr),
		)
		return
	}

	offset := int(addr - base)
	handle, ok := h.offsets.Get(offset)
	if !ok {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "free of an address that does not start a block",
			slog.String("name", h.name),
			slog.Int("offset", offset),
		)
		return
	}

	if memutils.DebugMargin > 0 {
		size, err := h.metadata.AllocationSize(handle)
		if err == nil && !memutils.ValidateMagicValue(address, size) {
			panic("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION")
		}
	}

	h.offsets.Delete(offset)
	err := h.metadata.Free(handle)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "region free failed",
			slog.String("name", h.name),
			slog.Int("offset", offset),
			slog.Any("error", err),
		)
	}
	memutils.DebugValidate(h.metadata)
}

// User returns the pointer-sized user root slot stored in the region header. It is zeroed by
// Init and is otherwise never touched by the region. It returns nil for a dead region.
func (h *Handle) User() *uintptr {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.data == nil {
		return nil
	}

	return h.userRoot()
}

// Deinit unmaps the region. Blocks still allocated are logged as unreleased. Calling Deinit on
// a dead or already deinitialized handle does nothing.
func (h *Handle) Deinit() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.data == nil {
		return
	}

	if !h.metadata.IsEmpty() {
		h.metadata.DebugLogAllAllocations(h.logger, func(log *slog.Logger, offset int, size int, userData any) {
			log.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed block",
				slog.String("name", h.name),
				slog.Int("offset", offset),
				slog.Int("size", size),
			)
		})
	}

	err := h.unmap()
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "region unmap failed",
			slog.String("name", h.name),
			slog.Any("error", err),
		)
	}

	h.data = nil
	h.unmap = nil
	h.metadata = nil
	h.offsets = nil
}
