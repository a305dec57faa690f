package replacement

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mathext/prng"
)

// AccessType is the host's access classification, numbered as the host
// simulator numbers it.
type AccessType uint8

const (
	AccessLoad AccessType = iota
	AccessRFO
	AccessPrefetch
	AccessWrite // writeback
	AccessTranslation

	numAccessTypes
)

var accessTypeNames = [...]string{"load", "rfo", "prefetch", "write", "translation"}

func (t AccessType) String() string {
	if t < numAccessTypes {
		return accessTypeNames[t]
	}
	return "invalid"
}

// ParseAccessType maps a name or its numeric code to an AccessType.
func ParseAccessType(s string) (AccessType, bool) {
	for i, name := range accessTypeNames {
		if s == name || (len(s) == 1 && s[0] == byte('0'+i)) {
			return AccessType(i), true
		}
	}
	return 0, false
}

// Access describes the memory access that triggered a policy call.
type Access struct {
	CPU     uint32
	InstrID uint64
	IP      uint64
	Address uint64
	Type    AccessType
}

// Block is the host's view of one way, passed to FindVictim as the
// current contents of the target set.
type Block struct {
	Valid   bool
	Address uint64
}

// Geometry is the cache shape supplied by the host at initialisation.
type Geometry struct {
	NumSets   uint32
	NumWays   uint32
	BlockSize uint64 // bytes, power of two
}

// Policy is the replacement contract the host cache calls into.
// Calls for one policy instance are strictly sequential: FindVictim for an
// access always precedes the matching fill/update calls.
type Policy interface {
	// Name returns the configured policy name.
	Name() string

	// FindVictim picks the way to evict from set. current holds NumWays
	// entries describing what the host has stored in the set.
	FindVictim(set uint32, current []Block, acc Access) uint32

	// UpdateReplacementState is called once the outcome of an access is known.
	UpdateReplacementState(set, way uint32, acc Access, victimAddr uint64, hit bool)

	// ReplacementCacheFill is called when a new line is installed in a way.
	ReplacementCacheFill(set, way uint32, acc Access, victimAddr uint64)

	// FinalStats reports policy-level counters. It never changes decision state.
	FinalStats() PolicyStats
}

// PolicyStats is the policy-specific part of the end-of-run report.
// Fields that do not apply to a policy are left zero.
type PolicyStats struct {
	Name            string
	Epsilon         float64
	Explorations    uint64
	Exploitations   uint64
	QTableEntries   int
	HistoryEntries  int
	HistoryCapacity int
	BufferLen       int
	BufferCapacity  int
	TrainingSteps   uint64
	QUpdates        uint64
}

// Policy names accepted by Config.Policy.
const (
	PolicyLRU       = "lru"
	PolicyLFU       = "lfu"
	PolicyEHC       = "ehc"
	PolicyQLearning = "qlearning"
	PolicyDQN       = "dqn"
)

// PolicyNames lists every supported policy.
func PolicyNames() []string {
	return []string{PolicyLRU, PolicyLFU, PolicyEHC, PolicyQLearning, PolicyDQN}
}

// ValidPolicy reports whether name selects a known policy.
func ValidPolicy(name string) bool {
	return slices.Contains(PolicyNames(), name)
}

// newPolicy creates the policy selected by cfg.Policy
func newPolicy(cfg *Config, geom Geometry, rng *rand.Rand) (Policy, error) {
	switch cfg.Policy {
	case PolicyLRU:
		return NewLRUPolicy(geom), nil
	case PolicyLFU:
		return NewLFUPolicy(geom, cfg.FrequencyBits), nil
	case PolicyEHC:
		return NewEHCPolicy(geom, cfg.EHC)
	case PolicyQLearning:
		return NewQLearningPolicy(geom, cfg.QLearning, cfg.RewardMode, rng), nil
	case PolicyDQN:
		return NewDQNPolicy(geom, cfg.DQN, cfg.RewardMode, rng)
	default:
		return nil, ErrUnknownPolicy("newPolicy", cfg.Policy)
	}
}

// newRNG returns a policy-owned generator. Two engines built with the same
// seed make the same decisions.
func newRNG(seed uint64) *rand.Rand {
	return rand.New(prng.NewSplitMix64(seed))
}

// rewardFor maps an access outcome to the RL reward.
func rewardFor(hit bool) float64 {
	if hit {
		return 1
	}
	return -1
}

// isWritebackHit reports the one access kind that never refreshes metadata.
func isWritebackHit(acc Access, hit bool) bool {
	return hit && acc.Type == AccessWrite
}
