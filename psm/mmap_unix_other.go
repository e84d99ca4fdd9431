//go:build unix && !linux

package psm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Placement hints are ignored on this platform
func mmapShared(fd int, size int, hint unsafe.Pointer) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapShared(data []byte) error {
	return unix.Munmap(data)
}
