package replacement

import "math/rand/v2"

// decision remembers what a policy chose for a set until the outcome arrives.
type decision struct {
	valid  bool
	state  uint32
	action uint32
}

// QLearningPolicy learns a value for every (occupancy, way) pair and evicts
// epsilon-greedily. Hits are rewarded with +1, misses with -1.
type QLearningPolicy struct {
	cfg        QLearningConfig
	rewardMode string

	meta    *MetadataStore
	table   *QTable
	rng     *rand.Rand
	pending []decision // one per set

	explorations, exploitations, updates uint64
}

// NewQLearningPolicy creates a tabular Q-learning policy. rng must be owned
// by the caller's engine and not shared.
func NewQLearningPolicy(geom Geometry, cfg QLearningConfig, rewardMode string, rng *rand.Rand) *QLearningPolicy {
	return &QLearningPolicy{
		cfg:        cfg,
		rewardMode: rewardMode,
		meta:       NewMetadataStore(geom, 0, 0),
		table:      NewQTable(geom.NumWays),
		rng:        rng,
		pending:    make([]decision, geom.NumSets),
	}
}

func (p *QLearningPolicy) Name() string { return PolicyQLearning }

// FindVictim observes the set occupancy and picks a way epsilon-greedily.
func (p *QLearningPolicy) FindVictim(set uint32, current []Block, _ Access) uint32 {
	p.meta.SyncValid(set, current)
	state := p.meta.Occupancy(set)
	action := p.chooseAction(state)
	p.pending[set] = decision{valid: true, state: state, action: action}
	return action
}

func (p *QLearningPolicy) chooseAction(state uint32) uint32 {
	if p.rng.Float64() < p.cfg.Epsilon {
		p.explorations++
		return uint32(p.rng.IntN(int(p.table.NumActions())))
	}
	p.exploitations++
	action, _ := p.table.Best(state)
	return action
}

// UpdateReplacementState applies one Bellman update for the access outcome.
// The next state is the set occupancy after the access.
func (p *QLearningPolicy) UpdateReplacementState(set, way uint32, _ Access, _ uint64, hit bool) {
	reward := rewardFor(hit)
	next := p.meta.Occupancy(set)
	d := p.pending[set]
	p.pending[set] = decision{}

	state, action := next, way
	switch {
	case p.rewardMode == RewardLagged:
		if !d.valid {
			return
		}
		state, action = d.state, d.action
	case d.valid:
		state = d.state
	}
	p.table.Update(state, action, reward, next, p.cfg.Alpha, p.cfg.Gamma)
	p.updates++
}

// ReplacementCacheFill records that the way now holds a line.
func (p *QLearningPolicy) ReplacementCacheFill(set, way uint32, _ Access, _ uint64) {
	p.meta.SetValid(set, way, true)
}

func (p *QLearningPolicy) FinalStats() PolicyStats {
	return PolicyStats{
		Name:          PolicyQLearning,
		Epsilon:       p.cfg.Epsilon,
		Explorations:  p.explorations,
		Exploitations: p.exploitations,
		QTableEntries: p.table.Len(),
		QUpdates:      p.updates,
	}
}

// Table exposes the learned values.
func (p *QLearningPolicy) Table() *QTable { return p.table }

// Snapshot captures the full Q-table.
func (p *QLearningPolicy) Snapshot() *Snapshot {
	return &Snapshot{
		Kind:     SnapshotQTable,
		NumWays:  p.table.NumActions(),
		Epsilon:  p.cfg.Epsilon,
		QEntries: p.table.Entries(),
	}
}

// Restore replaces the Q-table with the one in s.
func (p *QLearningPolicy) Restore(s *Snapshot) error {
	if s.Kind != SnapshotQTable {
		return ErrSnapshotMismatch("QLearningPolicy.Restore", "snapshot does not hold a Q-table")
	}
	if s.NumWays != p.table.NumActions() {
		return ErrSnapshotMismatch("QLearningPolicy.Restore", "snapshot way count differs from cache geometry")
	}
	return p.table.Load(s.QEntries)
}
