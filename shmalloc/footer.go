package shmalloc

import (
	"encoding/binary"
	"math"
	"math/bits"
	"unsafe"

	"github.com/vkngwrapper/shmalloc/memutils"
)

// maxAlignment is the largest power of two whose padding arithmetic fits in an int
const maxAlignment uint = 1 << (bits.UintSize - 2)

// blockSize returns the number of raw bytes needed to serve size bytes at alignment. The block
// holds the user range at any correction up to alignment-1 plus the footer after it:
//
//	correction + size + PointerSize <= (alignment-1) + padded size + PointerSize
//
// The boolean return is false if the total cannot be represented.
func blockSize(size int, alignment uint) (int, bool) {
	if alignment > maxAlignment {
		return 0, false
	}

	padded, err := memutils.PadToAlign(size, alignment)
	if err != nil {
		return 0, false
	}

	extra := int(alignment-1) + memutils.PointerSize
	if padded > math.MaxInt-extra {
		return 0, false
	}

	return padded + extra, true
}

// placeUser returns the first address in block that is a multiple of alignment
func placeUser(block unsafe.Pointer, alignment uint) unsafe.Pointer {
	correction := memutils.AlignAddress(uintptr(block), alignment)
	return unsafe.Add(block, correction)
}

// writeFooter records block's address in the PointerSize bytes immediately after the user
// range. The footer location is usually not pointer-aligned, so it is written bytewise.
func writeFooter(user unsafe.Pointer, size int, block unsafe.Pointer) {
	footer := unsafe.Slice((*byte)(unsafe.Add(user, size)), memutils.PointerSize)

	if memutils.PointerSize == 4 {
		binary.NativeEndian.PutUint32(footer, uint32(uintptr(block)))
		return
	}
	binary.NativeEndian.PutUint64(footer, uint64(uintptr(block)))
}

// readFooter recovers the block that user was placed in
func readFooter(user unsafe.Pointer, size int) unsafe.Pointer {
	footer := unsafe.Slice((*byte)(unsafe.Add(user, size)), memutils.PointerSize)

	var stored uintptr
	if memutils.PointerSize == 4 {
		stored = uintptr(binary.NativeEndian.Uint32(footer))
	} else {
		stored = uintptr(binary.NativeEndian.Uint64(footer))
	}

	// Derive the block from user rather than converting the stored integer back to a pointer
	return unsafe.Add(user, -int(uintptr(user)-stored))
}
