package replacement

import (
	"testing"
)

func newTestEHC(t *testing.T, geom Geometry) *EHCPolicy {
	t.Helper()
	p, err := NewEHCPolicy(geom, DefaultConfig().EHC)
	if err != nil {
		t.Fatalf("Failed to create EHC policy: %v", err)
	}
	return p
}

// residency fills addr into (0, 0), hits it n times and evicts it.
func residency(p *EHCPolicy, addr uint64, n int) {
	acc := Access{Address: addr}
	p.ReplacementCacheFill(0, 0, acc, 0)
	for range n {
		p.UpdateReplacementState(0, 0, acc, 0, true)
	}
	p.FindVictim(0, []Block{{Valid: true, Address: addr}}, acc)
}

// TestEHCUnknownBlockExpectsOneHit tests the default prediction for unseen blocks
func TestEHCUnknownBlockExpectsOneHit(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 4, BlockSize: 64})

	p.ReplacementCacheFill(0, 2, Access{Address: 0x1000}, 0)

	if got := p.Metadata().ExpectedHits(0, 2); got != 1 {
		t.Errorf("Expected 1 expected hit for unknown block, got %g", got)
	}
	if _, ok := p.History().Lookup(0x1000 >> 6); !ok {
		t.Error("Expected fill of unknown block to allocate a history entry")
	}
}

// TestEHCExpectedHitsFromHistory tests predictions from recorded residencies
func TestEHCExpectedHitsFromHistory(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 1, BlockSize: 64})
	const addr = 0xABC0

	for _, hits := range []int{3, 5, 2, 4} {
		residency(p, addr, hits)
	}

	entry, ok := p.History().Lookup(addr >> 6)
	if !ok {
		t.Fatal("Expected history entry for block")
	}
	want := []uint8{4, 2, 5, 3}
	got := entry.Queue()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected queue %v, got %v", want, got)
		}
	}

	p.ReplacementCacheFill(0, 0, Access{Address: addr}, 0)
	if exp := p.Metadata().ExpectedHits(0, 0); exp != 3.5 {
		t.Errorf("Expected 3.5 expected hits, got %g", exp)
	}
}

// TestEHCHitCountSaturatesInHistory tests hit counter saturation
func TestEHCHitCountSaturatesInHistory(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 1, BlockSize: 64})

	residency(p, 0x40, 20)

	entry, _ := p.History().Lookup(1)
	if got := entry.Queue()[0]; got != 7 {
		t.Errorf("Expected 3-bit hit count to saturate at 7, got %d", got)
	}
}

// TestEHCVictimHasFewestExpectedHits tests victim selection
func TestEHCVictimHasFewestExpectedHits(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 4, BlockSize: 64})
	current := make([]Block, 4)
	for way := range uint32(4) {
		addr := uint64(way+1) << 12
		p.ReplacementCacheFill(0, way, Access{Address: addr}, 0)
		current[way] = Block{Valid: true, Address: addr}
	}

	// Every line expects one hit; spending it on way 2 makes it the victim.
	p.UpdateReplacementState(0, 2, Access{}, 0, true)

	if victim := p.FindVictim(0, current, Access{}); victim != 2 {
		t.Errorf("Expected way 2, got %d", victim)
	}
	entry, ok := p.History().Lookup(current[2].Address >> 6)
	if !ok || entry.Queue()[0] != 1 {
		t.Errorf("Expected evicted line's single hit to be recorded, got %v", entry)
	}
	if p.Metadata().HitCount(0, 2) != 0 {
		t.Error("Expected victim hit register to be cleared")
	}
}

// TestEHCMissDoesNotCount tests that misses leave counters alone
func TestEHCMissDoesNotCount(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 2, BlockSize: 64})
	p.ReplacementCacheFill(0, 0, Access{Address: 0x80}, 0)

	p.UpdateReplacementState(0, 0, Access{}, 0, false)
	if p.Metadata().HitCount(0, 0) != 0 || p.Metadata().ExpectedHits(0, 0) != 1 {
		t.Error("Expected a miss to leave the line's counters untouched")
	}
}

// TestEHCInvalidVictimNotRecorded tests that empty ways leave no history
func TestEHCInvalidVictimNotRecorded(t *testing.T) {
	p := newTestEHC(t, Geometry{NumSets: 1, NumWays: 2, BlockSize: 64})

	victim := p.FindVictim(0, []Block{{}, {}}, Access{})
	if victim != 0 {
		t.Errorf("Expected way 0, got %d", victim)
	}
	if p.History().Len() != 0 {
		t.Errorf("Expected no history for an empty way, got %d entries", p.History().Len())
	}
}
