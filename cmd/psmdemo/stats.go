package main

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print region statistics as JSON",
		Long: `The stats command maps the region and prints its usage as JSON.
With --detailed, every block and free range is listed.

Example:
  psmdemo stats
  psmdemo stats --name /dev/shm/demo.psm --detailed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.allocator(cmd)
			if err != nil {
				return err
			}
			defer g.Shutdown()

			writer := jwriter.NewWriter()
			g.PrintJson(&writer, detailed)
			if err := writer.Error(); err != nil {
				return fmt.Errorf("failed to encode statistics: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(writer.Bytes()))
			return err
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "List every block and free range")

	return cmd
}
