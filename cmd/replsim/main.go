// Command replsim replays a memory trace or a synthetic workload through a
// set-associative cache driven by a replacement engine.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/sibexico/ReplEngine/internal/sim"
	"github.com/sibexico/ReplEngine/replacement"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	envFile    string
	logLevel   string
	seed       uint64

	sets      uint32
	ways      uint32
	blockSize uint64

	trace         string
	workload      sim.WorkloadConfig
	consultOnFree bool
	warmup        int

	// resolved in PersistentPreRunE
	cfg    *replacement.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{workload: sim.DefaultWorkloadConfig()}

	root := &cobra.Command{
		Use:           "replsim",
		Short:         "Evaluate cache replacement policies on traces and synthetic workloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "JSON engine configuration file")
	f.StringVar(&opts.envFile, "env-file", ".env", "file of REPLENGINE_* variables loaded before the environment")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.Uint64Var(&opts.seed, "seed", 1, "policy and workload RNG seed")

	f.Uint32Var(&opts.sets, "sets", 2048, "number of cache sets")
	f.Uint32Var(&opts.ways, "ways", 16, "cache associativity")
	f.Uint64Var(&opts.blockSize, "block-size", 64, "cache block size in bytes")

	f.StringVar(&opts.trace, "trace", "", "text trace of 'ip addr [type]' lines (.lz4 and .snappy accepted)")
	f.StringVar(&opts.workload.Kind, "workload", opts.workload.Kind, "synthetic workload when no trace is given: loop, random or zipf")
	f.IntVar(&opts.workload.Footprint, "footprint", opts.workload.Footprint, "distinct blocks touched by the workload")
	f.IntVar(&opts.workload.Length, "length", opts.workload.Length, "accesses generated by the workload")
	f.Float64Var(&opts.workload.WriteRatio, "write-ratio", opts.workload.WriteRatio, "share of workload accesses issued as writebacks")
	f.Float64Var(&opts.workload.ZipfS, "zipf-s", opts.workload.ZipfS, "zipf skew exponent")
	f.IntVar(&opts.warmup, "warmup", 0, "accesses replayed before statistics are collected")
	f.BoolVar(&opts.consultOnFree, "consult-on-free", false, "ask the policy for a victim even when the set has an empty way")

	root.AddCommand(newRunCmd(opts), newCompareCmd(opts))
	return root
}

// resolve layers configuration: defaults, then --config, then the env file
// and environment, then explicit flags.
func (o *options) resolve(cmd *cobra.Command) error {
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", o.envFile, err)
	}

	cfg := replacement.DefaultConfig()
	if o.configPath != "" {
		loaded, err := replacement.LoadConfigFromFile(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	o.workload.Seed = cfg.Seed
	o.workload.BlockSize = o.blockSize

	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return nil
}

func (o *options) geometry() replacement.Geometry {
	return replacement.Geometry{NumSets: o.sets, NumWays: o.ways, BlockSize: o.blockSize}
}

func (o *options) cacheOptions() []sim.CacheOption {
	if o.consultOnFree {
		return []sim.CacheOption{sim.ConsultPolicyOnFree()}
	}
	return nil
}

// openSource returns a fresh access stream; every call replays from the start.
func (o *options) openSource() (sim.Source, error) {
	if o.trace != "" {
		return sim.OpenTrace(o.trace)
	}
	return sim.NewWorkload(o.workload)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replsim:", err)
		os.Exit(1)
	}
}
