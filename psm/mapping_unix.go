//go:build unix

package psm

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapRegion opens or creates the backing file and maps it shared. A file that is already larger
// than size is mapped in full.
func mapRegion(name string, size int, hint unsafe.Pointer) ([]byte, func() error, error) {
	file, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open region file %q", name)
	}
	defer file.Close() // the mapping keeps the pages alive

	info, err := file.Stat()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to stat region file %q", name)
	}

	if info.Size() < int64(size) {
		err = file.Truncate(int64(size))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to grow region file %q to %d bytes", name, size)
		}
	} else {
		size = int(info.Size())
	}

	data, err := mmapShared(int(file.Fd()), size, hint)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to map region file %q", name)
	}

	cleanup := func() error {
		syncErr := unix.Msync(data, unix.MS_SYNC)
		return errors.CombineErrors(syncErr, munmapShared(data))
	}

	return data, cleanup, nil
}
