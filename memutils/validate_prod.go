//go:build !debug_mem_utils

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes placed after every raw block handed out by a region.
	// It is 0 unless the debug_mem_utils build tag is present.
	DebugMargin int = 0
)

// ValidateMagicValue verifies that the guard written by WriteMagicValue is still present.
// This method no-ops unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue writes the guard pattern across DebugMargin bytes at data+offset.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
