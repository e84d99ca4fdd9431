//go:build !unix

package psm

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// mapRegion has no shared mapping to offer on this platform, so the region lives in private
// process memory. Its contents are written to the backing file when it is unmapped.
func mapRegion(name string, size int, hint unsafe.Pointer) ([]byte, func() error, error) {
	data := make([]byte, size)

	unmap := func() error {
		err := os.WriteFile(name, data, 0600)
		if err != nil {
			return errors.Wrapf(err, "failed to write region file %q", name)
		}
		return nil
	}

	return data, unmap, nil
}
