//go:build debug_mem_utils

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes placed after every raw block handed out by a region.
	DebugMargin int = 16
	// corruptionDetectionMagicValue is the 4-byte pattern repeated across each guard
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes the guard pattern across DebugMargin bytes at data+offset.
// The destination does not need to be aligned.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Slice((*byte)(unsafe.Add(data, offset)), DebugMargin)
	for i := 0; i < DebugMargin; i += 4 {
		putMagic(dest[i : i+4])
	}
}

// ValidateMagicValue verifies that the guard written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Slice((*byte)(unsafe.Add(data, offset)), DebugMargin)
	var want [4]byte
	putMagic(want[:])
	for i := 0; i < DebugMargin; i += 4 {
		if source[i] != want[0] || source[i+1] != want[1] || source[i+2] != want[2] || source[i+3] != want[3] {
			return false
		}
	}

	return true
}

func putMagic(dest []byte) {
	dest[0] = byte(corruptionDetectionMagicValue)
	dest[1] = byte(corruptionDetectionMagicValue >> 8)
	dest[2] = byte(corruptionDetectionMagicValue >> 16)
	dest[3] = byte(corruptionDetectionMagicValue >> 24)
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
