package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OverflowError is returned when padding a size for alignment would overflow the platform int
var OverflowError error = errors.New("size arithmetic overflowed")
