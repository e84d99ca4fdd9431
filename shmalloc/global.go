package shmalloc

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/shmalloc/memutils"
	"github.com/vkngwrapper/shmalloc/psm"
	"github.com/vkngwrapper/shmalloc/region"
	"golang.org/x/exp/slog"
)

const (
	// DefaultBackingName is the file backing the process-wide region, relative to the working directory
	DefaultBackingName = "test.psm"
	// DefaultRegionSize is the size of the process-wide region: 256 MiB
	DefaultRegionSize = 0x10000000
)

// GlobalAllocator is a lazily-initialized Allocator over a single region. The region is created
// on first use, no matter how many goroutines race to use it, and torn down by Shutdown.
//
// Every Allocate is logged. The logger allocates from the Go heap, never from the region, so
// logging cannot recurse into the allocator.
type GlobalAllocator struct {
	name          string
	size          int
	preferredBase unsafe.Pointer
	options       psm.CreateOptions

	logger atomic.Pointer[slog.Logger]

	initOnce     sync.Once
	shutdownOnce sync.Once
	initCount    atomic.Int32
	allocator    *Allocator
}

var _ Backend = &GlobalAllocator{}

var defaultAllocator = NewGlobalAllocator(DefaultBackingName, DefaultRegionSize, nil, psm.CreateOptions{})

// NewGlobalAllocator returns a lazily-initialized allocator over the region backed by name. Most
// programs should use Default instead.
func NewGlobalAllocator(name string, size int, preferredBase unsafe.Pointer, options psm.CreateOptions) *GlobalAllocator {
	g := &GlobalAllocator{
		name:          name,
		size:          size,
		preferredBase: preferredBase,
		options:       options,
	}
	g.logger.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return g
}

// Default returns the process-wide allocator backed by DefaultBackingName. The region is not
// mapped until the first allocation.
func Default() *GlobalAllocator {
	return defaultAllocator
}

// SetDefaultLogger replaces the logger used by the process-wide allocator. It may be called
// before or after first use; the region keeps the logger it was created with.
func SetDefaultLogger(logger *slog.Logger) {
	defaultAllocator.SetLogger(logger)
}

// SetLogger replaces the logger used for allocation diagnostics
func (g *GlobalAllocator) SetLogger(logger *slog.Logger) {
	g.logger.Store(logger)
}

func (g *GlobalAllocator) get() *Allocator {
	g.initOnce.Do(func() {
		g.initCount.Add(1)
		g.allocator = NewAllocator(g.logger.Load(), g.name, g.size, g.preferredBase, g.options)
	})

	if g.allocator == nil {
		panic(region.ErrDestroyed)
	}
	return g.allocator
}

// Allocate behaves like Allocator.Allocate, initializing the region first if needed. Each call
// logs either "memory allocation ok" or "memory allocation failed".
func (g *GlobalAllocator) Allocate(size int, alignment uint) unsafe.Pointer {
	ptr := g.get().Allocate(size, alignment)

	logger := g.logger.Load()
	if ptr == nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "memory allocation failed",
			slog.Int("bytes", size),
			slog.Uint64("alignment", uint64(alignment)),
		)
		return nil
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "memory allocation ok",
		slog.Int("bytes", size),
	)
	return ptr
}

// Deallocate behaves like Allocator.Deallocate
func (g *GlobalAllocator) Deallocate(ptr unsafe.Pointer, size int, alignment uint) {
	if ptr == nil {
		return
	}
	g.get().Deallocate(ptr, size, alignment)
}

// Statistics reports the usage of the region, initializing it first if needed
func (g *GlobalAllocator) Statistics() memutils.Statistics {
	return g.get().Statistics()
}

// BuildStatsString returns the region's statistics as json, initializing it first if needed
func (g *GlobalAllocator) BuildStatsString(detailed bool) string {
	return g.get().Region().BuildStatsString(detailed)
}

// PrintJson writes the allocator's configuration and region statistics into writer
func (g *GlobalAllocator) PrintJson(writer *jwriter.Writer, detailed bool) {
	r := g.get().Region()

	obj := writer.Object()
	defer obj.End()

	obj.Name("RegionName").String(g.name)
	obj.Name("RegionSize").Int(g.size)
	obj.Name("Strategy").String(g.options.Strategy.String())

	stats := r.DetailedStatistics()
	statsObj := obj.Name("Total").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	if detailed {
		obj.Name("Region").Raw([]byte(r.BuildStatsString(true)))
	}
}

// Shutdown tears down the region exactly once. Calls after the first do nothing. If the region
// was never used, it is never created, and any use after Shutdown panics.
func (g *GlobalAllocator) Shutdown() {
	g.shutdownOnce.Do(func() {
		// Consume initOnce so the region cannot be created afterward
		g.initOnce.Do(func() {})

		if g.allocator != nil {
			g.allocator.Destroy()
		}
	})
}
