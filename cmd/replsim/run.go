package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sibexico/ReplEngine/internal/sim"
	"github.com/sibexico/ReplEngine/replacement"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		policy    string
		loadState string
		saveState string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the access stream through one policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg.Clone()
			if cmd.Flags().Changed("policy") {
				cfg.Policy = policy
			}

			engine, err := replacement.New(cfg, opts.geometry(), replacement.WithLogger(opts.logger))
			if err != nil {
				return err
			}
			if loadState != "" {
				if err := engine.LoadState(loadState); err != nil {
					return err
				}
			}

			src, err := opts.openSource()
			if err != nil {
				return err
			}
			if c, ok := src.(io.Closer); ok {
				defer c.Close()
			}

			ctx, stop := contextFromCmd(cmd)
			defer stop()

			res, err := sim.RunWarm(ctx, sim.NewCache(engine, opts.cacheOptions()...), src, opts.warmup)
			if err != nil {
				return err
			}
			if err := engine.Close(); err != nil {
				return err
			}
			if saveState != "" {
				if err := engine.SaveState(saveState); err != nil {
					return err
				}
			}

			res.Engine.Log(opts.logger)
			if cfg.EnableMetrics {
				engine.Metrics().LogMetrics(opts.logger)
			}
			printResults(cmd.OutOrStdout(), []sim.Result{res})
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&policy, "policy", replacement.PolicyLRU, fmt.Sprintf("replacement policy %v", replacement.PolicyNames()))
	f.StringVar(&loadState, "load-state", "", "restore learned state before the run")
	f.StringVar(&saveState, "save-state", "", "write learned state after the run")
	return cmd
}

// printResults writes one row per result. The best hit rate is highlighted
// when more than one result is shown.
func printResults(out io.Writer, results []sim.Result) {
	best := -1
	if len(results) > 1 {
		for i, r := range results {
			if best < 0 || r.Cache.HitRate() > results[best].Cache.HitRate() {
				best = i
			}
		}
	}

	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Policy\tAccesses\tHits\tMisses\tEvictions\tThroughput\tHit rate")
	for i, r := range results {
		rate := fmt.Sprintf("%.2f%%", 100*r.Cache.HitRate())
		if i == best {
			rate = highlight(rate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Policy,
			humanize.Comma(int64(r.Cache.Accesses)),
			humanize.Comma(int64(r.Cache.Hits)),
			humanize.Comma(int64(r.Cache.Misses)),
			humanize.Comma(int64(r.Cache.Evictions)),
			throughput(r),
			rate,
		)
	}
	w.Flush()
}

func throughput(r sim.Result) string {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return "-"
	}
	return humanize.SIWithDigits(float64(r.Cache.Accesses)/secs, 2, "acc/s")
}

// contextFromCmd returns the command context, cancelled on interrupt.
func contextFromCmd(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}
