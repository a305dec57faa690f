package sim

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sibexico/ReplEngine/replacement"
	"gonum.org/v1/gonum/mathext/prng"
)

// Synthetic workload kinds.
const (
	WorkloadLoop   = "loop"   // sequential sweep over the footprint, repeated
	WorkloadRandom = "random" // uniform over the footprint
	WorkloadZipf   = "zipf"   // skewed popularity, block k drawn with weight 1/(k+1)^s
)

// WorkloadNames lists the supported synthetic workloads.
func WorkloadNames() []string {
	return []string{WorkloadLoop, WorkloadRandom, WorkloadZipf}
}

// WorkloadConfig describes a synthetic access stream.
type WorkloadConfig struct {
	Kind       string
	Footprint  int     // distinct blocks touched
	Length     int     // accesses generated
	BlockSize  uint64  // bytes per block
	WriteRatio float64 // share of accesses issued as writebacks
	ZipfS      float64 // skew exponent, zipf only
	Seed       uint64
}

// DefaultWorkloadConfig returns a zipf stream over 64Ki blocks.
func DefaultWorkloadConfig() WorkloadConfig {
	return WorkloadConfig{
		Kind:       WorkloadZipf,
		Footprint:  1 << 16,
		Length:     1 << 20,
		BlockSize:  64,
		WriteRatio: 0.1,
		ZipfS:      1.0,
		Seed:       1,
	}
}

// Workload generates a synthetic access stream. It implements Source.
type Workload struct {
	cfg  WorkloadConfig
	rng  *rand.Rand
	cdf  []float64 // zipf only
	next int
}

// workloadBase keeps synthetic addresses away from address zero.
const workloadBase = 0x10000000

// NewWorkload validates cfg and returns a generator positioned at its start.
func NewWorkload(cfg WorkloadConfig) (*Workload, error) {
	if cfg.Footprint <= 0 {
		return nil, fmt.Errorf("workload footprint must be greater than 0, got %d", cfg.Footprint)
	}
	if cfg.Length < 0 {
		return nil, fmt.Errorf("workload length must not be negative, got %d", cfg.Length)
	}
	if cfg.BlockSize == 0 || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		return nil, fmt.Errorf("workload block size must be a power of two, got %d", cfg.BlockSize)
	}
	if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
		return nil, fmt.Errorf("workload write ratio must be within [0, 1], got %g", cfg.WriteRatio)
	}

	w := &Workload{cfg: cfg, rng: rand.New(prng.NewSplitMix64(cfg.Seed))}
	switch cfg.Kind {
	case WorkloadLoop, WorkloadRandom:
	case WorkloadZipf:
		if cfg.ZipfS <= 0 {
			return nil, fmt.Errorf("zipf exponent must be greater than 0, got %g", cfg.ZipfS)
		}
		w.cdf = zipfCDF(cfg.Footprint, cfg.ZipfS)
	default:
		return nil, fmt.Errorf("unknown workload %q (must be one of %v)", cfg.Kind, WorkloadNames())
	}
	return w, nil
}

func zipfCDF(n int, s float64) []float64 {
	cdf := make([]float64, n)
	var sum float64
	for k := range n {
		sum += 1 / math.Pow(float64(k+1), s)
		cdf[k] = sum
	}
	for k := range cdf {
		cdf[k] /= sum
	}
	return cdf
}

func (w *Workload) block(i int) int {
	switch w.cfg.Kind {
	case WorkloadLoop:
		return i % w.cfg.Footprint
	case WorkloadRandom:
		return w.rng.IntN(w.cfg.Footprint)
	default:
		k := sort.SearchFloat64s(w.cdf, w.rng.Float64())
		return min(k, w.cfg.Footprint-1)
	}
}

// Next returns the next access or io.EOF once Length accesses were produced.
func (w *Workload) Next() (replacement.Access, error) {
	if w.next >= w.cfg.Length {
		return replacement.Access{}, io.EOF
	}
	i := w.next
	w.next++

	block := w.block(i)
	typ := replacement.AccessLoad
	if w.cfg.WriteRatio > 0 && w.rng.Float64() < w.cfg.WriteRatio {
		typ = replacement.AccessWrite
	}
	return replacement.Access{
		InstrID: uint64(i),
		IP:      0x400000 + uint64(block%64)*4,
		Address: workloadBase + uint64(block)*w.cfg.BlockSize,
		Type:    typ,
	}, nil
}
