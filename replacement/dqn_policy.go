package replacement

import "math/rand/v2"

// dqnFeatures is the length of the DQN state vector.
const dqnFeatures = 5

type dqnDecision struct {
	valid  bool
	state  []float64
	action uint32
}

// DQNPolicy replaces the Q-table with a linear approximator over a feature
// vector, trained by experience replay. Exploration starts high and decays
// geometrically toward a floor after every training step.
type DQNPolicy struct {
	cfg        DQNConfig
	rewardMode string
	numSets    uint32
	numWays    uint32
	shift      int

	meta    *MetadataStore
	net     *Approximator
	buffer  *ExperienceBuffer
	rng     *rand.Rand
	pending []dqnDecision
	batch   []Experience

	epsilon float64

	explorations, exploitations, trainingSteps uint64
}

// NewDQNPolicy creates a DQN policy. rng must be owned by the caller's
// engine and not shared.
func NewDQNPolicy(geom Geometry, cfg DQNConfig, rewardMode string, rng *rand.Rand) (*DQNPolicy, error) {
	net, err := NewApproximator(dqnFeatures, int(geom.NumWays), cfg.LearningRate, cfg.InitScale, rng)
	if err != nil {
		return nil, err
	}
	return &DQNPolicy{
		cfg:        cfg,
		rewardMode: rewardMode,
		numSets:    geom.NumSets,
		numWays:    geom.NumWays,
		shift:      blockShift(geom),
		meta:       NewMetadataStore(geom, 0, 0),
		net:        net,
		buffer:     NewExperienceBuffer(cfg.BufferCapacity),
		rng:        rng,
		pending:    make([]dqnDecision, geom.NumSets),
		batch:      make([]Experience, 0, cfg.BatchSize),
		epsilon:    cfg.EpsilonStart,
	}, nil
}

func (p *DQNPolicy) Name() string { return PolicyDQN }

// features builds the state vector, every component scaled into [0, 1]:
// set index, age of the set's oldest line, IP hashed onto the ways,
// low block-address bits, access type.
func (p *DQNPolicy) features(set uint32, acc Access) []float64 {
	now := p.meta.Cycle()
	age := float64(now-p.meta.OldestLastUsed(set)) / float64(now+1)
	return []float64{
		float64(set) / float64(p.numSets),
		age,
		float64(acc.IP%uint64(p.numWays)) / float64(p.numWays),
		float64((acc.Address>>p.shift)&0xFFFF) / 65536,
		float64(acc.Type) / float64(numAccessTypes),
	}
}

// forward evaluates the approximator. The policy always builds vectors of
// the configured length, so an error here is an invariant failure.
func (p *DQNPolicy) forward(x []float64) []float64 {
	q, err := p.net.Forward(x)
	if err != nil {
		panic(err)
	}
	return q
}

// FindVictim evaluates the approximator on the current features and picks a
// way epsilon-greedily.
func (p *DQNPolicy) FindVictim(set uint32, current []Block, acc Access) uint32 {
	p.meta.SyncValid(set, current)
	state := p.features(set, acc)
	action := p.act(state)
	p.pending[set] = dqnDecision{valid: true, state: state, action: action}
	return action
}

func (p *DQNPolicy) act(state []float64) uint32 {
	if p.rng.Float64() < p.epsilon {
		p.explorations++
		return uint32(p.rng.IntN(int(p.numWays)))
	}
	p.exploitations++
	return argmax(p.forward(state))
}

// argmax returns the index of the largest value; ties go to the lowest index.
func argmax(values []float64) uint32 {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return uint32(best)
}

// UpdateReplacementState stamps the way, logs the transition and runs one
// replay step once enough experience is buffered.
func (p *DQNPolicy) UpdateReplacementState(set, way uint32, acc Access, _ uint64, hit bool) {
	if !isWritebackHit(acc, hit) {
		p.meta.Touch(set, way)
	}
	reward := rewardFor(hit)
	next := p.features(set, acc)
	d := p.pending[set]
	p.pending[set] = dqnDecision{}

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
	p.buffer.Push(Experience{State: state, Action: action, Reward: reward, NextState: next})
	p.replay()
}

// ReplacementCacheFill records that the way now holds a line.
func (p *DQNPolicy) ReplacementCacheFill(set, way uint32, _ Access, _ uint64) {
	p.meta.SetValid(set, way, true)
}

// replay trains on a uniform sample of the buffer, then decays epsilon.
// It does nothing until the buffer holds a full batch.
func (p *DQNPolicy) replay() {
	if p.buffer.Len() < p.cfg.BatchSize {
		return
	}
	p.batch = p.buffer.Sample(p.rng, p.cfg.BatchSize, p.batch)
	for _, e := range p.batch {
		q := p.forward(e.State)
		next := p.forward(e.NextState)
		q[e.Action] = e.Reward + p.cfg.Gamma*next[argmax(next)]
		if err := p.net.Train(e.State, q); err != nil {
			panic(err)
		}
	}
	p.trainingSteps++
	p.epsilon = max(p.cfg.EpsilonMin, p.epsilon*p.cfg.EpsilonDecay)
}

func (p *DQNPolicy) FinalStats() PolicyStats {
	return PolicyStats{
		Name:           PolicyDQN,
		Epsilon:        p.epsilon,
		Explorations:   p.explorations,
		Exploitations:  p.exploitations,
		BufferLen:      p.buffer.Len(),
		BufferCapacity: p.buffer.Cap(),
		TrainingSteps:  p.trainingSteps,
	}
}

// Epsilon returns the current exploration rate.
func (p *DQNPolicy) Epsilon() float64 { return p.epsilon }

// Approximator exposes the value network.
func (p *DQNPolicy) Approximator() *Approximator { return p.net }

// Buffer exposes the replay buffer.
func (p *DQNPolicy) Buffer() *ExperienceBuffer { return p.buffer }

// Snapshot captures the approximator parameters and exploration rate.
func (p *DQNPolicy) Snapshot() *Snapshot {
	weights, bias := p.net.Parameters()
	return &Snapshot{
		Kind:    SnapshotApproximator,
		NumWays: p.numWays,
		Epsilon: p.epsilon,
		Inputs:  uint32(p.net.Inputs()),
		Outputs: uint32(p.net.Outputs()),
		Weights: weights,
		Bias:    bias,
	}
}

// Restore loads approximator parameters and exploration rate from s.
func (p *DQNPolicy) Restore(s *Snapshot) error {
	if s.Kind != SnapshotApproximator {
		return ErrSnapshotMismatch("DQNPolicy.Restore", "snapshot does not hold approximator weights")
	}
	if s.NumWays != p.numWays || int(s.Inputs) != p.net.Inputs() || int(s.Outputs) != p.net.Outputs() {
		return ErrSnapshotMismatch("DQNPolicy.Restore", "snapshot shape differs from approximator")
	}
	if err := p.net.SetParameters(s.Weights, s.Bias); err != nil {
		return err
	}
	p.epsilon = max(p.cfg.EpsilonMin, min(s.Epsilon, p.cfg.EpsilonStart))
	return nil
}
