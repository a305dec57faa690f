package replacement

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/bits"
	"os"
	"time"

	"github.com/rs/xid"
)

// DefaultBlockSize is used when Geometry.BlockSize is left zero.
const DefaultBlockSize = 64

// Engine owns one replacement policy and all of its state for a single
// cache instance. Calls must be sequential; the host serialises them.
type Engine struct {
	id          xid.ID
	cfg         *Config
	geom        Geometry
	policy      Policy
	metrics     *Metrics
	logger      *slog.Logger
	compression CompressionType
}

// Option customises an Engine at construction.
type Option func(*Engine)

// WithLogger sets the logger; the engine adds an instance attribute to it.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics makes the engine record into m instead of a private tracker.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// validateGeometry fills defaults and rejects shapes no policy can serve.
func validateGeometry(geom Geometry) (Geometry, error) {
	const op = "New"
	if geom.NumSets == 0 {
		return geom, ErrInvalidGeometry(op, "num_sets", 0)
	}
	if geom.NumWays == 0 {
		return geom, ErrInvalidGeometry(op, "num_ways", 0)
	}
	if geom.BlockSize == 0 {
		geom.BlockSize = DefaultBlockSize
	}
	if bits.OnesCount64(geom.BlockSize) != 1 {
		return geom, NewEngineError(ErrCodeInvalidGeometry, op,
			fmt.Sprintf("block_size must be a power of two, got %d", geom.BlockSize), nil)
	}
	return geom, nil
}

// New initialises an engine for one cache instance. A nil cfg selects
// DefaultConfig. When cfg.SnapshotPath names an existing file, the learned
// state in it is restored before the engine is returned.
func New(cfg *Config, geom Geometry, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	geom, err := validateGeometry(geom)
	if err != nil {
		return nil, err
	}

	policy, err := newPolicy(cfg, geom, newRNG(cfg.Seed))
	if err != nil {
		return nil, err
	}
	compression, _ := parseCompression(cfg.SnapshotCompression)

	e := &Engine{
		id:          xid.New(),
		cfg:         cfg,
		geom:        geom,
		policy:      policy,
		logger:      slog.Default(),
		compression: compression,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		samples := 0
		if cfg.EnableMetrics {
			samples = cfg.LatencySamples
		}
		e.metrics = NewMetrics(samples)
	}
	e.logger = e.logger.With(slog.String("instance", e.id.String()))

	if cfg.SnapshotPath != "" {
		if _, ok := policy.(Snapshotter); ok {
			if err := e.LoadState(cfg.SnapshotPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	e.logger.Info("Replacement engine initialized",
		slog.String("policy", policy.Name()),
		slog.Group("geometry",
			slog.Uint64("sets", uint64(geom.NumSets)),
			slog.Uint64("ways", uint64(geom.NumWays)),
			slog.Uint64("block_size", geom.BlockSize),
		),
		slog.Uint64("seed", cfg.Seed),
		slog.String("reward_mode", cfg.RewardMode),
	)
	return e, nil
}

func (e *Engine) debugEnabled() bool {
	return e.logger.Enabled(context.Background(), slog.LevelDebug)
}

func (e *Engine) checkSet(op string, set uint32) {
	mustInRange(op, "set", uint64(set), uint64(e.geom.NumSets))
}

func (e *Engine) checkWay(op string, way uint32) {
	mustInRange(op, "way", uint64(way), uint64(e.geom.NumWays))
}

// FindVictim returns the way to evict from set. current must describe
// exactly NumWays ways.
func (e *Engine) FindVictim(set uint32, current []Block, acc Access) uint32 {
	const op = "Engine.FindVictim"
	e.checkSet(op, set)
	if len(current) != int(e.geom.NumWays) {
		panic(NewEngineError(ErrCodeOutOfBounds, op,
			fmt.Sprintf("set snapshot has %d ways, cache has %d", len(current), e.geom.NumWays), nil))
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	way := e.policy.FindVictim(set, current, acc)
	e.checkWay(op, way)
	e.metrics.RecordVictim(time.Since(start))

	if e.debugEnabled() {
		e.logger.Debug("victim selected",
			slog.Uint64("set", uint64(set)),
			slog.Uint64("way", uint64(way)),
			slog.Bool("victim_valid", current[way].Valid),
			slog.String("type", acc.Type.String()),
			slog.Uint64("ip", acc.IP),
		)
	}
	return way
}

// UpdateReplacementState reports the outcome of an access to (set, way).
func (e *Engine) UpdateReplacementState(set, way uint32, acc Access, victimAddr uint64, hit bool) {
	const op = "Engine.UpdateReplacementState"
	e.checkSet(op, set)
	e.checkWay(op, way)

	if hit {
		e.metrics.RecordHit(acc.Type == AccessWrite)
	} else {
		e.metrics.RecordMiss()
	}
	e.policy.UpdateReplacementState(set, way, acc, victimAddr, hit)

	if e.debugEnabled() {
		e.logger.Debug("replacement state updated",
			slog.Uint64("set", uint64(set)),
			slog.Uint64("way", uint64(way)),
			slog.Bool("hit", hit),
			slog.String("type", acc.Type.String()),
		)
	}
}

// ReplacementCacheFill reports that a new line was installed in (set, way).
func (e *Engine) ReplacementCacheFill(set, way uint32, acc Access, victimAddr uint64) {
	const op = "Engine.ReplacementCacheFill"
	e.checkSet(op, set)
	e.checkWay(op, way)

	e.metrics.RecordFill()
	e.policy.ReplacementCacheFill(set, way, acc, victimAddr)

	if e.debugEnabled() {
		e.logger.Debug("line filled",
			slog.Uint64("set", uint64(set)),
			slog.Uint64("way", uint64(way)),
			slog.Uint64("address", acc.Address),
			slog.Uint64("victim_address", victimAddr),
		)
	}
}

// Stats is the end-of-run report of one engine.
type Stats struct {
	Instance      string
	Geometry      Geometry
	Hits          uint64
	Misses        uint64
	WritebackHits uint64
	Fills         uint64
	Evictions     uint64 // FindVictim calls
	HitRate       float64
	VictimLatency HistogramSnapshot // nanoseconds, zero unless metrics are enabled
	Policy        PolicyStats
}

// FinalStats collects the end-of-run report. It does not touch decision state.
func (e *Engine) FinalStats() Stats {
	return Stats{
		Instance:      e.id.String(),
		Geometry:      e.geom,
		Hits:          e.metrics.GetHits(),
		Misses:        e.metrics.GetMisses(),
		WritebackHits: e.metrics.GetWritebackHits(),
		Fills:         e.metrics.GetFills(),
		Evictions:     e.metrics.GetVictimRequests(),
		HitRate:       e.metrics.GetHitRate(),
		VictimLatency: e.metrics.GetVictimLatency(),
		Policy:        e.policy.FinalStats(),
	}
}

// ResetStats zeroes the access counters and latency samples. Learned policy
// state is kept, so a host can discard statistics gathered while warming up.
func (e *Engine) ResetStats() {
	e.metrics.Reset()
}

// Log writes s as one structured record.
func (s Stats) Log(logger *slog.Logger) {
	p := s.Policy
	attrs := []any{
		slog.String("instance", s.Instance),
		slog.String("policy", p.Name),
		slog.Group("accesses",
			slog.Uint64("hits", s.Hits),
			slog.Uint64("misses", s.Misses),
			slog.Float64("hit_rate", s.HitRate),
			slog.Uint64("writeback_hits", s.WritebackHits),
			slog.Uint64("fills", s.Fills),
			slog.Uint64("evictions", s.Evictions),
		),
	}

	switch p.Name {
	case PolicyEHC:
		attrs = append(attrs, slog.Group("history",
			slog.Int("entries", p.HistoryEntries),
			slog.Int("capacity", p.HistoryCapacity),
		))
	case PolicyQLearning:
		attrs = append(attrs, slog.Group("learning",
			slog.Float64("epsilon", p.Epsilon),
			slog.Uint64("explorations", p.Explorations),
			slog.Uint64("exploitations", p.Exploitations),
			slog.Int("q_table_entries", p.QTableEntries),
			slog.Uint64("q_updates", p.QUpdates),
		))
	case PolicyDQN:
		attrs = append(attrs, slog.Group("learning",
			slog.Float64("epsilon", p.Epsilon),
			slog.Uint64("explorations", p.Explorations),
			slog.Uint64("exploitations", p.Exploitations),
			slog.Int("buffer_len", p.BufferLen),
			slog.Int("buffer_capacity", p.BufferCapacity),
			slog.Uint64("training_steps", p.TrainingSteps),
		))
	}

	if s.VictimLatency.Count > 0 {
		attrs = append(attrs, slog.Group("find_victim_latency_ns",
			slog.Int("count", s.VictimLatency.Count),
			slog.Float64("mean", s.VictimLatency.Mean),
			slog.Float64("p50", s.VictimLatency.P50),
			slog.Float64("p99", s.VictimLatency.P99),
		))
	}

	logger.Info("Replacement final stats", attrs...)
}

func (e *Engine) snapshotter(op string) (Snapshotter, error) {
	snap, ok := e.policy.(Snapshotter)
	if !ok {
		return nil, NewEngineError(ErrCodeSnapshotUnsupported, op,
			fmt.Sprintf("policy %s has no learned state", e.policy.Name()), nil)
	}
	return snap, nil
}

// SaveState writes the policy's learned state to path.
func (e *Engine) SaveState(path string) error {
	const op = "Engine.SaveState"
	snap, err := e.snapshotter(op)
	if err != nil {
		return err
	}
	s := snap.Snapshot()
	s.RunID = e.id
	s.Policy = e.policy.Name()
	if err := WriteSnapshotFile(path, s, e.compression); err != nil {
		return err
	}
	e.logger.Info("Learned state saved",
		slog.String("path", path),
		slog.String("kind", s.Kind.String()),
		slog.String("compression", e.compression.String()),
	)
	return nil
}

// LoadState replaces the policy's learned state with the one stored at path.
// It is meant to be called before the first access.
func (e *Engine) LoadState(path string) error {
	const op = "Engine.LoadState"
	snap, err := e.snapshotter(op)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return ErrIO(op, err)
	}
	s, err := ReadSnapshotFile(path)
	if err != nil {
		return err
	}
	if s.Policy != e.policy.Name() {
		return ErrSnapshotMismatch(op,
			fmt.Sprintf("snapshot was written by policy %q, engine runs %q", s.Policy, e.policy.Name()))
	}
	if err := snap.Restore(s); err != nil {
		return err
	}
	e.logger.Info("Learned state restored",
		slog.String("path", path),
		slog.String("written_by", s.RunID.String()),
		slog.String("kind", s.Kind.String()),
	)
	return nil
}

// Close persists learned state to Config.SnapshotPath when one is set and
// the policy supports it.
func (e *Engine) Close() error {
	if e.cfg.SnapshotPath == "" {
		return nil
	}
	if _, ok := e.policy.(Snapshotter); !ok {
		return nil
	}
	return e.SaveState(e.cfg.SnapshotPath)
}

// ID returns the instance id attached to this engine's logs and snapshots.
func (e *Engine) ID() xid.ID { return e.id }

// Policy returns the policy driven by this engine.
func (e *Engine) Policy() Policy { return e.policy }

// Geometry returns the validated cache shape.
func (e *Engine) Geometry() Geometry { return e.geom }

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config { return e.cfg.Clone() }

// Metrics returns the engine's metrics tracker.
func (e *Engine) Metrics() *Metrics { return e.metrics }
