package replacement

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"go.uber.org/multierr"
)

// Reward attribution modes for the reinforcement-learning policies.
const (
	// RewardImmediate credits the outcome of an access to the accessed way
	// in the state recorded at the set's last decision.
	RewardImmediate = "immediate"
	// RewardLagged credits the outcome of an access to the eviction decision
	// previously taken for the same set.
	RewardLagged = "lagged"
)

// EHCConfig tunes the expected-hit-count policy.
type EHCConfig struct {
	HitCounterBits  uint8  `json:"hit_counter_bits"` // Width of the per-line hit register
	HistoryEntries  int    `json:"history_entries"`  // Hit-history table capacity
	HistoryLength   int    `json:"history_length"`   // Residencies remembered per entry
	HistoryEviction string `json:"history_eviction"` // largest-tag or lru
}

// QLearningConfig tunes the tabular Q-learning policy.
type QLearningConfig struct {
	Alpha   float64 `json:"alpha"`   // Learning rate
	Gamma   float64 `json:"gamma"`   // Discount factor
	Epsilon float64 `json:"epsilon"` // Exploration rate (fixed)
}

// DQNConfig tunes the approximate Q-learning policy.
type DQNConfig struct {
	Gamma          float64 `json:"gamma"`
	LearningRate   float64 `json:"learning_rate"`
	EpsilonStart   float64 `json:"epsilon_start"`
	EpsilonDecay   float64 `json:"epsilon_decay"` // Applied after every training step
	EpsilonMin     float64 `json:"epsilon_min"`
	BatchSize      int     `json:"batch_size"`
	BufferCapacity int     `json:"buffer_capacity"`
	InitScale      float64 `json:"init_scale"` // Initial weights drawn from [-InitScale, InitScale)
}

// Config holds replacement engine configuration
type Config struct {
	// Policy selection
	Policy        string `json:"policy"`         // lru, lfu, ehc, qlearning, dqn
	FrequencyBits uint8  `json:"frequency_bits"` // LFU counter width, 0 = 64 bits
	RewardMode    string `json:"reward_mode"`    // immediate or lagged
	Seed          uint64 `json:"seed"`           // Policy RNG seed

	EHC       EHCConfig       `json:"ehc"`
	QLearning QLearningConfig `json:"qlearning"`
	DQN       DQNConfig       `json:"dqn"`

	// Observability
	EnableMetrics  bool   `json:"enable_metrics"`  // Sample decision latency
	LatencySamples int    `json:"latency_samples"` // Histogram window
	LogLevel       string `json:"log_level"`       // debug, info, warn, error

	// Persistence
	SnapshotPath        string `json:"snapshot_path"`        // Learned state file, empty disables
	SnapshotCompression string `json:"snapshot_compression"` // none, lz4, snappy
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Policy:        PolicyLRU,
		FrequencyBits: 0,
		RewardMode:    RewardImmediate,
		Seed:          1,
		EHC: EHCConfig{
			HitCounterBits:  3,
			HistoryEntries:  2048,
			HistoryLength:   4,
			HistoryEviction: HistoryEvictLargestTag,
		},
		QLearning: QLearningConfig{
			Alpha:   0.1,
			Gamma:   0.9,
			Epsilon: 0.1,
		},
		DQN: DQNConfig{
			Gamma:          0.99,
			LearningRate:   0.01,
			EpsilonStart:   1.0,
			EpsilonDecay:   0.995,
			EpsilonMin:     0.01,
			BatchSize:      64,
			BufferCapacity: 10000,
			InitScale:      0.01,
		},
		EnableMetrics:       false,
		LatencySamples:      10000,
		LogLevel:            "info",
		SnapshotCompression: "lz4",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from REPLENGINE_* environment
// variables. Unset or unparsable variables keep their default.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	config.ApplyEnv()
	return config
}

// ApplyEnv overrides fields of c from REPLENGINE_* environment variables.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("REPLENGINE_POLICY"); val != "" {
		c.Policy = val
	}

	if val := os.Getenv("REPLENGINE_REWARD_MODE"); val != "" {
		c.RewardMode = val
	}

	if val := os.Getenv("REPLENGINE_SEED"); val != "" {
		if seed, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.Seed = seed
		}
	}

	if val := os.Getenv("REPLENGINE_FREQUENCY_BITS"); val != "" {
		if bits, err := strconv.ParseUint(val, 10, 8); err == nil {
			c.FrequencyBits = uint8(bits)
		}
	}

	// EHC
	if val := os.Getenv("REPLENGINE_HISTORY_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.EHC.HistoryEntries = n
		}
	}

	if val := os.Getenv("REPLENGINE_HISTORY_EVICTION"); val != "" {
		c.EHC.HistoryEviction = val
	}

	// Q-learning
	if val := os.Getenv("REPLENGINE_QLEARNING_EPSILON"); val != "" {
		if eps, err := strconv.ParseFloat(val, 64); err == nil {
			c.QLearning.Epsilon = eps
		}
	}

	// DQN
	if val := os.Getenv("REPLENGINE_DQN_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DQN.BatchSize = n
		}
	}

	if val := os.Getenv("REPLENGINE_DQN_BUFFER_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DQN.BufferCapacity = n
		}
	}

	// Observability
	if val := os.Getenv("REPLENGINE_ENABLE_METRICS"); val != "" {
		c.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("REPLENGINE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	// Persistence
	if val := os.Getenv("REPLENGINE_SNAPSHOT_PATH"); val != "" {
		c.SnapshotPath = val
	}

	if val := os.Getenv("REPLENGINE_SNAPSHOT_COMPRESSION"); val != "" {
		c.SnapshotCompression = val
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every invalid field, not just the first one.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var err error

	if !ValidPolicy(c.Policy) {
		err = multierr.Append(err, ErrUnknownPolicy(op, c.Policy))
	}

	if c.RewardMode != RewardImmediate && c.RewardMode != RewardLagged {
		err = multierr.Append(err, ErrInvalidConfig(op, "reward_mode",
			fmt.Sprintf("%q must be %s or %s", c.RewardMode, RewardImmediate, RewardLagged)))
	}

	if c.FrequencyBits > 64 {
		err = multierr.Append(err, ErrInvalidConfig(op, "frequency_bits", "must be at most 64"))
	}

	// EHC
	if c.EHC.HitCounterBits == 0 || c.EHC.HitCounterBits > 8 {
		err = multierr.Append(err, ErrInvalidConfig(op, "ehc.hit_counter_bits", "must be between 1 and 8"))
	}
	if c.EHC.HistoryEntries <= 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "ehc.history_entries", "must be greater than 0"))
	}
	if c.EHC.HistoryLength <= 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "ehc.history_length", "must be greater than 0"))
	}
	if c.EHC.HistoryEviction != HistoryEvictLargestTag && c.EHC.HistoryEviction != HistoryEvictLRU {
		err = multierr.Append(err, ErrInvalidConfig(op, "ehc.history_eviction",
			fmt.Sprintf("%q must be %s or %s", c.EHC.HistoryEviction, HistoryEvictLargestTag, HistoryEvictLRU)))
	}

	// Q-learning
	err = multierr.Append(err, checkUnit(op, "qlearning.alpha", c.QLearning.Alpha))
	err = multierr.Append(err, checkUnit(op, "qlearning.gamma", c.QLearning.Gamma))
	err = multierr.Append(err, checkUnit(op, "qlearning.epsilon", c.QLearning.Epsilon))

	// DQN
	err = multierr.Append(err, checkUnit(op, "dqn.gamma", c.DQN.Gamma))
	err = multierr.Append(err, checkUnit(op, "dqn.epsilon_start", c.DQN.EpsilonStart))
	err = multierr.Append(err, checkUnit(op, "dqn.epsilon_decay", c.DQN.EpsilonDecay))
	err = multierr.Append(err, checkUnit(op, "dqn.epsilon_min", c.DQN.EpsilonMin))
	if c.DQN.EpsilonMin > c.DQN.EpsilonStart {
		err = multierr.Append(err, ErrInvalidConfig(op, "dqn.epsilon_min", "must not exceed dqn.epsilon_start"))
	}
	if math.IsNaN(c.DQN.LearningRate) || c.DQN.LearningRate <= 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "dqn.learning_rate", "must be greater than 0"))
	}
	if c.DQN.BatchSize <= 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "dqn.batch_size", "must be greater than 0"))
	}
	if c.DQN.BufferCapacity < c.DQN.BatchSize {
		err = multierr.Append(err, ErrInvalidConfig(op, "dqn.buffer_capacity", "must be at least dqn.batch_size"))
	}
	if math.IsNaN(c.DQN.InitScale) || c.DQN.InitScale < 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "dqn.init_scale", "must not be negative"))
	}

	if c.EnableMetrics && c.LatencySamples <= 0 {
		err = multierr.Append(err, ErrInvalidConfig(op, "latency_samples", "must be greater than 0 when metrics are enabled"))
	}

	if _, ok := parseLogLevel(c.LogLevel); !ok {
		err = multierr.Append(err, ErrInvalidConfig(op, "log_level",
			fmt.Sprintf("%q must be debug, info, warn, or error", c.LogLevel)))
	}

	if _, ok := parseCompression(c.SnapshotCompression); !ok {
		err = multierr.Append(err, ErrInvalidConfig(op, "snapshot_compression",
			fmt.Sprintf("%q must be none, lz4, or snappy", c.SnapshotCompression)))
	}

	return err
}

func checkUnit(op, param string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ErrInvalidConfig(op, param, fmt.Sprintf("must be within [0, 1], got %g", v))
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	level, _ := parseLogLevel(c.LogLevel)
	return level
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
