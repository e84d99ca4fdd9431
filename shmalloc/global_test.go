package shmalloc

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/shmalloc/psm"
	"github.com/vkngwrapper/shmalloc/region"
	"golang.org/x/exp/slog"
)

func newTestGlobal(t *testing.T, size int) (*GlobalAllocator, *bytes.Buffer, string) {
	var buf bytes.Buffer
	name := filepath.Join(t.TempDir(), "test.psm")

	g := NewGlobalAllocator(name, size, nil, psm.CreateOptions{})
	g.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	return g, &buf, name
}

func TestDefault(t *testing.T) {
	g := Default()
	require.Same(t, g, Default())
	require.Equal(t, DefaultBackingName, g.name)
	require.Equal(t, DefaultRegionSize, g.size)
	require.Nil(t, g.preferredBase)
}

func TestGlobalAllocator_Lazy(t *testing.T) {
	g, _, name := newTestGlobal(t, 1<<20)
	defer g.Shutdown()

	_, err := os.Stat(name)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, int32(0), g.initCount.Load())

	ptr := g.Allocate(16, 8)
	require.NotNil(t, ptr)
	require.Equal(t, int32(1), g.initCount.Load())

	_, err = os.Stat(name)
	require.NoError(t, err)

	g.Deallocate(ptr, 16, 8)
}

func TestGlobalAllocator_ConcurrentFirstUse(t *testing.T) {
	g, _, _ := newTestGlobal(t, 1<<20)
	defer g.Shutdown()

	const goroutines = 32
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			ptr := g.Allocate(64, 16)
			if ptr != nil {
				g.Deallocate(ptr, 64, 16)
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Equal(t, int32(1), g.initCount.Load())
	require.Equal(t, 0, g.Statistics().AllocationCount)
	require.Equal(t, 1, g.Statistics().BlockCount)
}

func TestGlobalAllocator_Logging(t *testing.T) {
	g, buf, _ := newTestGlobal(t, 4096)
	defer g.Shutdown()

	ptr := g.Allocate(16, 8)
	require.NotNil(t, ptr)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "memory allocation ok")
	require.Contains(t, lines[0], "bytes=16")

	g.Deallocate(ptr, 16, 8)
	require.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 1)

	require.Nil(t, g.Allocate(1<<20, 8))
	require.Contains(t, buf.String(), "memory allocation failed")
	require.Contains(t, buf.String(), "bytes=1048576")
}

func TestGlobalAllocator_ShutdownOnce(t *testing.T) {
	g, buf, _ := newTestGlobal(t, 4096)

	ptr := g.Allocate(8, 8)
	require.NotNil(t, ptr)
	g.Deallocate(ptr, 8, 8)

	g.Shutdown()
	g.Shutdown()

	require.NotContains(t, buf.String(), "[UNRELEASED MEMORY]")
	require.PanicsWithValue(t, region.ErrDestroyed, func() {
		g.Allocate(8, 8)
	})
}

func TestGlobalAllocator_ShutdownUnused(t *testing.T) {
	g, _, name := newTestGlobal(t, 4096)

	g.Shutdown()
	require.Equal(t, int32(0), g.initCount.Load())

	_, err := os.Stat(name)
	require.True(t, os.IsNotExist(err))

	require.PanicsWithValue(t, region.ErrDestroyed, func() {
		g.Allocate(8, 8)
	})
}

func TestGlobalAllocator_PrintJson(t *testing.T) {
	g, _, _ := newTestGlobal(t, 1<<16)
	defer g.Shutdown()

	s, ok := CloneString(g, "value")
	require.True(t, ok)
	defer FreeString(g, s)

	writer := jwriter.NewWriter()
	g.PrintJson(&writer, true)
	require.NoError(t, writer.Error())

	out := string(writer.Bytes())
	require.Contains(t, out, `"RegionSize":65536`)
	require.Contains(t, out, `"AllocationCount":1`)
	require.Contains(t, out, `"Suballocations"`)
}
