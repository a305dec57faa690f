package replacement

import (
	"testing"
)

// TestLFUPolicy tests basic LFU victim selection
func TestLFUPolicy(t *testing.T) {
	p := NewLFUPolicy(Geometry{NumSets: 1, NumWays: 4}, 0)

	if victim := p.FindVictim(0, nil, Access{}); victim != 0 {
		t.Errorf("Expected way 0 on all-zero tie, got %d", victim)
	}

	hits := map[uint32]int{0: 3, 1: 1, 2: 2, 3: 5}
	for way, n := range hits {
		for range n {
			p.UpdateReplacementState(0, way, Access{Type: AccessLoad}, 0, true)
		}
	}
	if victim := p.FindVictim(0, nil, Access{}); victim != 1 {
		t.Errorf("Expected least frequent way 1, got %d", victim)
	}

	p.UpdateReplacementState(0, 1, Access{Type: AccessLoad}, 0, false)
	if victim := p.FindVictim(0, nil, Access{}); victim != 1 {
		t.Errorf("Expected way 1 to win tie with way 2 at count 2, got %d", victim)
	}
}

// TestLFUPolicyWritebackHitNotCounted tests that writebacks do not count
func TestLFUPolicyWritebackHitNotCounted(t *testing.T) {
	p := NewLFUPolicy(Geometry{NumSets: 1, NumWays: 2}, 0)

	p.UpdateReplacementState(0, 0, Access{Type: AccessWrite}, 0, true)
	if got := p.Metadata().Frequency(0, 0); got != 0 {
		t.Errorf("Expected writeback hit not to count, got %d", got)
	}
	p.UpdateReplacementState(0, 0, Access{Type: AccessWrite}, 0, false)
	if got := p.Metadata().Frequency(0, 0); got != 1 {
		t.Errorf("Expected writeback miss to count, got %d", got)
	}
}

// TestLFUPolicySaturation tests frequency saturation
func TestLFUPolicySaturation(t *testing.T) {
	p := NewLFUPolicy(Geometry{NumSets: 1, NumWays: 2}, 4)

	for range 100 {
		p.UpdateReplacementState(0, 0, Access{}, 0, true)
	}
	if got := p.Metadata().Frequency(0, 0); got != 15 {
		t.Errorf("Expected 4-bit counter to saturate at 15, got %d", got)
	}
}

// TestLFUPolicyFillKeepsCount tests frequency after a fill
func TestLFUPolicyFillKeepsCount(t *testing.T) {
	p := NewLFUPolicy(Geometry{NumSets: 1, NumWays: 2}, 0)

	p.UpdateReplacementState(0, 0, Access{}, 0, true)
	p.ReplacementCacheFill(0, 0, Access{Address: 0x1000}, 0)
	if got := p.Metadata().Frequency(0, 0); got != 1 {
		t.Errorf("Expected fill to leave the counter alone, got %d", got)
	}
}
