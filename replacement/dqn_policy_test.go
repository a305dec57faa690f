package replacement

import (
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func smallDQNConfig() DQNConfig {
	cfg := DefaultConfig().DQN
	cfg.BatchSize = 4
	cfg.BufferCapacity = 16
	cfg.EpsilonDecay = 0.9
	cfg.EpsilonMin = 0.05
	return cfg
}

func mustDQN(t *testing.T, geom Geometry, cfg DQNConfig, rewardMode string, seed uint64) *DQNPolicy {
	t.Helper()
	p, err := NewDQNPolicy(geom, cfg, rewardMode, newRNG(seed))
	if err != nil {
		t.Fatalf("NewDQNPolicy failed: %v", err)
	}
	return p
}

// drive runs n miss/fill/update rounds against one set.
func drive(p *DQNPolicy, geom Geometry, n int, observe func()) {
	current := make([]Block, geom.NumWays)
	for i := range n {
		set := uint32(i) % geom.NumSets
		acc := Access{IP: uint64(i * 13), Address: uint64(i) << 6, Type: AccessType(i % 3)}
		way := p.FindVictim(set, current, acc)
		p.ReplacementCacheFill(set, way, acc, 0)
		p.UpdateReplacementState(set, way, acc, 0, i%4 == 0)
		if observe != nil {
			observe()
		}
	}
}

// TestDQNFeaturesInUnitRange tests feature normalisation
func TestDQNFeaturesInUnitRange(t *testing.T) {
	geom := Geometry{NumSets: 4, NumWays: 8, BlockSize: 64}
	p := mustDQN(t, geom, smallDQNConfig(), RewardImmediate, 1)

	drive(p, geom, 50, nil)
	x := p.features(3, Access{IP: 1 << 40, Address: 1 << 50, Type: AccessTranslation})

	if len(x) != dqnFeatures {
		t.Fatalf("Expected %d features, got %d", dqnFeatures, len(x))
	}
	for i, v := range x {
		if v < 0 || v > 1 {
			t.Errorf("Feature %d = %g outside [0, 1]", i, v)
		}
	}
}

// TestDQNBufferBounded tests that replay memory never exceeds its capacity
func TestDQNBufferBounded(t *testing.T) {
	geom := Geometry{NumSets: 2, NumWays: 4, BlockSize: 64}
	cfg := smallDQNConfig()
	p := mustDQN(t, geom, cfg, RewardImmediate, 2)

	drive(p, geom, 200, func() {
		if p.Buffer().Len() > cfg.BufferCapacity {
			t.Fatalf("Buffer grew to %d, capacity %d", p.Buffer().Len(), cfg.BufferCapacity)
		}
	})
	if p.Buffer().Len() != cfg.BufferCapacity {
		t.Errorf("Expected full buffer of %d, got %d", cfg.BufferCapacity, p.Buffer().Len())
	}
}

// TestDQNEpsilonDecaysToFloor tests monotone decay down to EpsilonMin
func TestDQNEpsilonDecaysToFloor(t *testing.T) {
	geom := Geometry{NumSets: 1, NumWays: 4, BlockSize: 64}
	cfg := smallDQNConfig()
	p := mustDQN(t, geom, cfg, RewardImmediate, 3)
	if p.Epsilon() != cfg.EpsilonStart {
		t.Fatalf("Expected initial epsilon %g, got %g", cfg.EpsilonStart, p.Epsilon())
	}

	prev := p.Epsilon()
	drive(p, geom, 300, func() {
		eps := p.Epsilon()
		if eps > prev || eps < cfg.EpsilonMin {
			t.Fatalf("Epsilon moved from %g to %g (floor %g)", prev, eps, cfg.EpsilonMin)
		}
		prev = eps
	})
	if p.Epsilon() != cfg.EpsilonMin {
		t.Errorf("Expected epsilon at floor %g, got %g", cfg.EpsilonMin, p.Epsilon())
	}
}

// TestDQNTrainsOnlyWithFullBatch tests that replay waits for a full batch
func TestDQNTrainsOnlyWithFullBatch(t *testing.T) {
	geom := Geometry{NumSets: 1, NumWays: 4, BlockSize: 64}
	cfg := smallDQNConfig()
	p := mustDQN(t, geom, cfg, RewardImmediate, 4)

	drive(p, geom, cfg.BatchSize-1, nil)
	if n := p.FinalStats().TrainingSteps; n != 0 {
		t.Errorf("Expected no training before a full batch, got %d steps", n)
	}
	if p.Epsilon() != cfg.EpsilonStart {
		t.Errorf("Expected epsilon unchanged, got %g", p.Epsilon())
	}

	drive(p, geom, 1, nil)
	if n := p.FinalStats().TrainingSteps; n != 1 {
		t.Errorf("Expected 1 training step, got %d", n)
	}
	if want := cfg.EpsilonStart * cfg.EpsilonDecay; math.Abs(p.Epsilon()-want) > 1e-12 {
		t.Errorf("Expected epsilon %g, got %g", want, p.Epsilon())
	}
}

// TestDQNReplayCorrectsChosenAction tests the replay target r + gamma*max Q(next)
// and that only the chosen action's output moves.
func TestDQNReplayCorrectsChosenAction(t *testing.T) {
	geom := Geometry{NumSets: 1, NumWays: 4, BlockSize: 64}
	cfg := smallDQNConfig()
	cfg.BatchSize = 1
	cfg.BufferCapacity = 1
	p := mustDQN(t, geom, cfg, RewardImmediate, 10)

	state := []float64{1, 0, 0, 0, 0}
	next := []float64{0, 0, 1, 0, 0}
	const action, reward = 1, 1.0

	q0 := mustForward(t, p.Approximator(), state)
	target := reward + cfg.Gamma*slices.Max(mustForward(t, p.Approximator(), next))

	p.buffer.Push(Experience{State: state, Action: action, Reward: reward, NextState: next})
	p.replay()

	if n := p.FinalStats().TrainingSteps; n != 1 {
		t.Fatalf("Expected 1 training step, got %d", n)
	}

	// With a one-hot input, one step moves the output by 2*lr*(target-q):
	// once through the weight row, once through the bias.
	q1 := mustForward(t, p.Approximator(), state)
	for j := range q1 {
		want := q0[j]
		if j == action {
			want = q0[j] + 2*cfg.LearningRate*(target-q0[j])
		}
		if math.Abs(q1[j]-want) > 1e-12 {
			t.Errorf("Output %d: expected %g, got %g", j, want, q1[j])
		}
	}
}

// TestDQNLaggedSkipsWithoutDecision tests lagged mode ignores outcomes without a decision
func TestDQNLaggedSkipsWithoutDecision(t *testing.T) {
	geom := Geometry{NumSets: 1, NumWays: 2, BlockSize: 64}
	p := mustDQN(t, geom, smallDQNConfig(), RewardLagged, 5)

	p.UpdateReplacementState(0, 0, Access{}, 0, true)
	if p.Buffer().Len() != 0 {
		t.Fatalf("Expected empty buffer, got %d", p.Buffer().Len())
	}

	p.FindVictim(0, []Block{{}, {}}, Access{})
	p.UpdateReplacementState(0, 1, Access{}, 0, true)
	if p.Buffer().Len() != 1 {
		t.Fatalf("Expected 1 experience, got %d", p.Buffer().Len())
	}
	if e, _ := p.Buffer().Oldest(); e.Reward != 1 {
		t.Errorf("Expected reward 1, got %g", e.Reward)
	}
}

// TestDQNVictimInRange tests that every victim is a valid way
func TestDQNVictimInRange(t *testing.T) {
	geom := Geometry{NumSets: 8, NumWays: 16, BlockSize: 64}
	p := mustDQN(t, geom, smallDQNConfig(), RewardImmediate, 6)

	current := make([]Block, 16)
	for i := range 500 {
		way := p.FindVictim(uint32(i)%8, current, Access{Address: uint64(i) << 6})
		if way >= 16 {
			t.Fatalf("Victim %d out of range at step %d", way, i)
		}
		p.UpdateReplacementState(uint32(i)%8, way, Access{}, 0, false)
	}
}

// TestDQNSnapshotRestore tests weights, bias and epsilon survive a restore
func TestDQNSnapshotRestore(t *testing.T) {
	geom := Geometry{NumSets: 1, NumWays: 4, BlockSize: 64}
	src := mustDQN(t, geom, smallDQNConfig(), RewardImmediate, 7)
	drive(src, geom, 40, nil)

	dst := mustDQN(t, geom, smallDQNConfig(), RewardImmediate, 8)
	if err := dst.Restore(src.Snapshot()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	wantW, wantB := src.Approximator().Parameters()
	gotW, gotB := dst.Approximator().Parameters()
	if diff := cmp.Diff(wantW, gotW); diff != "" {
		t.Errorf("Weights mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantB, gotB); diff != "" {
		t.Errorf("Bias mismatch (-want +got):\n%s", diff)
	}
	if src.Epsilon() != dst.Epsilon() {
		t.Errorf("Expected epsilon %g, got %g", src.Epsilon(), dst.Epsilon())
	}

	wide := mustDQN(t, Geometry{NumSets: 1, NumWays: 8, BlockSize: 64}, smallDQNConfig(), RewardImmediate, 9)
	if err := wide.Restore(src.Snapshot()); !IsErrorCode(err, ErrCodeSnapshotMismatch) {
		t.Errorf("Expected snapshot mismatch, got %v", err)
	}
}
