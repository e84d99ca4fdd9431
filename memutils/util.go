package memutils

import (
	"math"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

// PointerSize is the width in bytes of a machine address on the current platform
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignAddress returns the number of bytes that must be added to address so that it becomes
// a multiple of alignment. The result is always less than alignment.
func AlignAddress(address uintptr, alignment uint) uintptr {
	a := uintptr(alignment)
	return (a - address%a) % a
}

// PadToAlign rounds size up to the next multiple of alignment, the same way a type's
// size is padded so that consecutive elements stay aligned. It returns OverflowError
// if the padded size cannot be represented.
func PadToAlign(size int, alignment uint) (int, error) {
	if size < 0 {
		return 0, cerrors.Newf("size %d is negative", size)
	}
	if size > math.MaxInt-int(alignment-1) {
		return 0, cerrors.Wrapf(OverflowError, "padding %d to alignment %d", size, alignment)
	}
	return AlignUp(size, alignment), nil
}
