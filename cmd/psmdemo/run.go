package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/shmalloc/shmalloc"
)

// record is the value half of a stored entry. It lives in the region, so it holds no Go pointers.
type record struct {
	ID      uint64
	Hits    uint32
	Version uint16
	Flags   uint16
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var key string
	var id uint64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Store an entry in the region, remove it, and shut down",
		Long: `The run command installs the process-wide allocator, stores one key/value
entry in the region, reads it back, removes it, and shuts the region down.

Example:
  psmdemo run
  psmdemo run --name /dev/shm/demo.psm --size 1048576 --key greeting --id 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.allocator(cmd)
			if err != nil {
				return err
			}
			defer g.Shutdown()

			return runDemo(cmd.OutOrStdout(), g, key, id)
		},
	}

	cmd.Flags().StringVar(&key, "key", "hello", "Key of the stored entry")
	cmd.Flags().Uint64Var(&id, "id", 42, "ID of the stored entry")

	return cmd
}

func runDemo(out io.Writer, backend shmalloc.Backend, key string, id uint64) error {
	entries := make(map[string]*record)

	storedKey, ok := shmalloc.CloneString(backend, key)
	if !ok {
		return errors.New("region has no room for the key")
	}

	value := shmalloc.New[record](backend)
	if value == nil {
		shmalloc.FreeString(backend, storedKey)
		return errors.New("region has no room for the value")
	}
	value.ID = id
	value.Version = 1

	entries[storedKey] = value
	fmt.Fprintf(out, "inserted %q -> id=%d\n", storedKey, value.ID)

	found, ok := entries[key]
	if !ok {
		return fmt.Errorf("entry %q was not found after insert", key)
	}
	found.Hits++
	fmt.Fprintf(out, "found %q -> id=%d hits=%d\n", key, found.ID, found.Hits)

	for k, v := range entries {
		delete(entries, k)
		shmalloc.Delete(backend, v)
		shmalloc.FreeString(backend, k)
	}
	fmt.Fprintf(out, "removed %q\n", key)

	return nil
}
