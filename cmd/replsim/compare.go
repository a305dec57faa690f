package main

import (
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/sibexico/ReplEngine/internal/sim"
	"github.com/sibexico/ReplEngine/replacement"
	"github.com/spf13/cobra"
)

var bestColor = color.New(color.FgGreen, color.Bold)

func highlight(s string) string {
	return bestColor.Sprint(s)
}

func newCompareCmd(opts *options) *cobra.Command {
	var policies []string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Replay the same access stream through several policies in parallel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs := make([]sim.Job, 0, len(policies))
			for _, name := range policies {
				if !replacement.ValidPolicy(name) {
					return replacement.ErrUnknownPolicy("compare", name)
				}
				cfg := opts.cfg.Clone()
				cfg.Policy = name
				// Parallel runs must not race on one snapshot file.
				cfg.SnapshotPath = ""
				jobs = append(jobs, sim.Job{Config: cfg, Source: opts.openSource, Warmup: opts.warmup})
			}

			ctx, stop := contextFromCmd(cmd)
			defer stop()

			results, err := sim.Compare(ctx, opts.geometry(), jobs, opts.logger, opts.cacheOptions()...)
			if err != nil {
				return err
			}
			for _, r := range results {
				r.Engine.Log(opts.logger)
			}

			g := opts.geometry()
			fmt.Fprintf(cmd.OutOrStdout(), "%d sets x %d ways, %d-byte blocks\n\n", g.NumSets, g.NumWays, g.BlockSize)
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policies, "policies", replacement.PolicyNames(), "policies to compare")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if len(policies) == 0 {
			return fmt.Errorf("no policies to compare")
		}
		policies = slices.Compact(policies)
		return nil
	}
	return cmd
}
