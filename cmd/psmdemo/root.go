package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/shmalloc/memutils/metadata"
	"github.com/vkngwrapper/shmalloc/psm"
	"github.com/vkngwrapper/shmalloc/shmalloc"
	"golang.org/x/exp/slog"
)

type rootOptions struct {
	name     string
	size     int
	strategy string
	verbose  bool
}

var strategies = map[string]metadata.AllocationStrategy{
	"balanced":   0,
	"min-memory": metadata.AllocationStrategyMinMemory,
	"min-time":   metadata.AllocationStrategyMinTime,
	"min-offset": metadata.AllocationStrategyMinOffset,
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "psmdemo",
		Short: "Exercise the shared-memory allocator",
		Long: `psmdemo places data in a named shared-memory region through the
process-wide allocator and reports on the region's usage.

With no flags it uses the default region, test.psm in the working directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.name, "name", shmalloc.DefaultBackingName, "File backing the region")
	cmd.PersistentFlags().IntVar(&opts.size, "size", shmalloc.DefaultRegionSize, "Size of the region in bytes")
	cmd.PersistentFlags().StringVar(&opts.strategy, "strategy", "balanced", "Placement strategy: balanced, min-memory, min-time or min-offset")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log region diagnostics")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))

	return cmd
}

// allocator returns the process-wide allocator when the flags describe the default region,
// and a dedicated one otherwise
func (o *rootOptions) allocator(cmd *cobra.Command) (*shmalloc.GlobalAllocator, error) {
	strategy, ok := strategies[o.strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", o.strategy)
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if o.name == shmalloc.DefaultBackingName && o.size == shmalloc.DefaultRegionSize && strategy == 0 {
		shmalloc.SetDefaultLogger(logger)
		return shmalloc.Default(), nil
	}

	g := shmalloc.NewGlobalAllocator(o.name, o.size, nil, psm.CreateOptions{Strategy: strategy})
	g.SetLogger(logger)
	return g, nil
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
