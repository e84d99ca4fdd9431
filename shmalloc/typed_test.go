package shmalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/shmalloc/psm"
)

type entry struct {
	Key     uint64
	Weight  float32
	Flags   [3]byte
	Version uint16
}

type entryWithName struct {
	Key  uint64
	Name string
}

func TestNew_Delete(t *testing.T) {
	allocator, _ := newTestAllocator(t, 1<<16, psm.CreateOptions{})
	defer allocator.Destroy()

	e := New[entry](allocator)
	require.NotNil(t, e)
	require.Equal(t, entry{}, *e)
	require.Zero(t, uintptr(unsafe.Pointer(e))%unsafe.Alignof(*e))

	e.Key = 42
	e.Flags[2] = 7
	require.Equal(t, 1, allocator.Statistics().AllocationCount)

	Delete(allocator, e)
	require.Equal(t, 0, allocator.Statistics().AllocationCount)

	Delete[entry](allocator, nil)
}

func TestNew_RejectsPointers(t *testing.T) {
	allocator, _ := newTestAllocator(t, 1<<16, psm.CreateOptions{})
	defer allocator.Destroy()

	require.Panics(t, func() { New[entryWithName](allocator) })
	require.Panics(t, func() { New[*int](allocator) })
	require.Panics(t, func() { MakeSlice[[]byte](allocator, 4) })
	require.Panics(t, func() { New[map[int]int](allocator) })
	require.NotPanics(t, func() { Delete(allocator, New[[0]*int](allocator)) })

	require.Equal(t, 0, allocator.Statistics().AllocationCount)
}

func TestMakeSlice_FreeSlice(t *testing.T) {
	allocator, _ := newTestAllocator(t, 1<<16, psm.CreateOptions{})
	defer allocator.Destroy()

	values := MakeSlice[uint64](allocator, 100)
	require.Len(t, values, 100)
	require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(values)))%8)
	for i := range values {
		require.Zero(t, values[i])
		values[i] = uint64(i)
	}

	empty := MakeSlice[uint64](allocator, 0)
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.Nil(t, MakeSlice[uint64](allocator, -1))
	require.Nil(t, MakeSlice[uint64](allocator, 1<<60))
	require.Nil(t, MakeSlice[uint64](allocator, 1<<20))

	// Reslicing keeps the capacity, which is what FreeSlice relies on
	FreeSlice(allocator, values[:10])
	FreeSlice(allocator, empty)
	FreeSlice[uint64](allocator, nil)

	require.Equal(t, 0, allocator.Statistics().AllocationCount)
}

func TestCloneString(t *testing.T) {
	allocator, _ := newTestAllocator(t, 1<<16, psm.CreateOptions{})
	defer allocator.Destroy()

	s, ok := CloneString(allocator, "hello, region")
	require.True(t, ok)
	require.Equal(t, "hello, region", s)

	base := uintptr(unsafe.Pointer(allocator.Region().UserRoot()))
	require.Greater(t, uintptr(unsafe.Pointer(unsafe.StringData(s))), base)

	empty, ok := CloneString(allocator, "")
	require.True(t, ok)
	require.Equal(t, "", empty)
	require.Equal(t, 1, allocator.Statistics().AllocationCount)

	FreeString(allocator, s)
	FreeString(allocator, empty)
	require.Equal(t, 0, allocator.Statistics().AllocationCount)
}

func TestCloneString_Exhausted(t *testing.T) {
	allocator, _ := newTestAllocator(t, 1024, psm.CreateOptions{})
	defer allocator.Destroy()

	big := make([]byte, 4096)
	s, ok := CloneString(allocator, string(big))
	require.False(t, ok)
	require.Equal(t, "", s)
}
