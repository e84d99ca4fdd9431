package psm

import "github.com/vkngwrapper/shmalloc/memutils/metadata"

// CreateFlags indicate specific region behaviors to activate or deactivate
type CreateFlags uint32

const (
	// CreateExternallySynchronized ensures that the region will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized
	// by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}
	str, ok := createFlagsMapping[f]
	if !ok {
		return "Unknown"
	}
	return str
}

// CreateOptions contains optional settings for Init. The zero value is valid.
type CreateOptions struct {
	// Flags indicates specific region behaviors to activate or deactivate
	Flags CreateFlags
	// Strategy selects how free space is chosen for new blocks. The zero value is a balanced strategy.
	Strategy metadata.AllocationStrategy
}
