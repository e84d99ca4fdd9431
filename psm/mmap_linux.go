//go:build linux

package psm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// The hint is advisory: without MAP_FIXED the kernel is free to place the mapping elsewhere
func mmapShared(fd int, size int, hint unsafe.Pointer) ([]byte, error) {
	ptr, err := unix.MmapPtr(fd, 0, hint, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(ptr), size), nil
}

func munmapShared(data []byte) error {
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(data)), uintptr(len(data)))
}
