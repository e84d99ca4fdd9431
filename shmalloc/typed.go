package shmalloc

import (
	"math"
	"reflect"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Backend is anything that can serve and release aligned allocations. *Allocator and
// *GlobalAllocator both satisfy it.
type Backend interface {
	Allocate(size int, alignment uint) unsafe.Pointer
	Deallocate(ptr unsafe.Pointer, size int, alignment uint)
}

var pointerFreeTypes sync.Map

// containsPointers reports whether values of t hold anything the garbage collector would
// need to trace
func containsPointers(t reflect.Type) bool {
	if cached, ok := pointerFreeTypes.Load(t); ok {
		return !cached.(bool)
	}

	has := typeHasPointers(t)
	pointerFreeTypes.Store(t, !has)
	return has
}

func typeHasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && typeHasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if typeHasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func checkPointerFree[T any]() {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if containsPointers(t) {
		panic(errors.Newf("%s contains Go pointers and cannot be stored in shared memory", t))
	}
}

// New allocates a zeroed T from backend and returns a pointer to it, or nil if backend is
// exhausted. It panics if T contains Go pointers.
func New[T any](backend Backend) *T {
	checkPointerFree[T]()

	var zero T
	size := int(unsafe.Sizeof(zero))
	ptr := backend.Allocate(size, uint(unsafe.Alignof(zero)))
	if ptr == nil {
		return nil
	}

	value := (*T)(ptr)
	*value = zero
	return value
}

// Delete releases a value created with New. Deleting nil does nothing.
func Delete[T any](backend Backend, value *T) {
	if value == nil {
		return
	}

	var zero T
	backend.Deallocate(unsafe.Pointer(value), int(unsafe.Sizeof(zero)), uint(unsafe.Alignof(zero)))
}

// MakeSlice allocates a zeroed slice of n elements from backend. It returns nil if n is
// negative, the total size overflows, or backend is exhausted. It panics if T contains Go
// pointers.
func MakeSlice[T any](backend Backend, n int) []T {
	checkPointerFree[T]()

	if n < 0 {
		return nil
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize > 0 && n > math.MaxInt/elemSize {
		return nil
	}

	ptr := backend.Allocate(n*elemSize, uint(unsafe.Alignof(zero)))
	if ptr == nil {
		return nil
	}

	slice := unsafe.Slice((*T)(ptr), n)
	clear(slice)
	return slice
}

// FreeSlice releases a slice created with MakeSlice. The slice may have been resliced, but its
// capacity must be unchanged.
func FreeSlice[T any](backend Backend, slice []T) {
	if slice == nil {
		return
	}

	var zero T
	backend.Deallocate(unsafe.Pointer(unsafe.SliceData(slice)), cap(slice)*int(unsafe.Sizeof(zero)), uint(unsafe.Alignof(zero)))
}

// CloneString copies s into memory from backend. The empty string is returned without
// allocating. The boolean return is false if backend is exhausted.
func CloneString(backend Backend, s string) (string, bool) {
	if len(s) == 0 {
		return "", true
	}

	ptr := backend.Allocate(len(s), 1)
	if ptr == nil {
		return "", false
	}

	copy(unsafe.Slice((*byte)(ptr), len(s)), s)
	return unsafe.String((*byte)(ptr), len(s)), true
}

// FreeString releases a string created with CloneString
func FreeString(backend Backend, s string) {
	if len(s) == 0 {
		return
	}

	backend.Deallocate(unsafe.Pointer(unsafe.StringData(s)), len(s), 1)
}
