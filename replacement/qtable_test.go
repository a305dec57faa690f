package replacement

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestQTableDefaults tests that missing pairs read as zero
func TestQTableDefaults(t *testing.T) {
	q := NewQTable(4)

	if v := q.Get(3, 2); v != 0 {
		t.Errorf("Expected missing pair to read 0, got %g", v)
	}
	if q.Len() != 0 {
		t.Errorf("Expected reads not to insert, got %d entries", q.Len())
	}

	action, value := q.Best(7)
	if action != 0 || value != 0 {
		t.Errorf("Expected Best on empty state to be (0, 0), got (%d, %g)", action, value)
	}
}

// TestQTableBestTieBreak tests ties resolve to the lowest action
func TestQTableBestTieBreak(t *testing.T) {
	q := NewQTable(4)
	q.Set(1, 1, 0.5)
	q.Set(1, 3, 0.5)

	if action, _ := q.Best(1); action != 1 {
		t.Errorf("Expected lowest action among ties, got %d", action)
	}

	q.Set(2, 2, -1)
	if action, value := q.Best(2); action != 0 || value != 0 {
		t.Errorf("Expected unset action 0 to beat a negative value, got (%d, %g)", action, value)
	}
}

// TestQTableUpdate tests one Bellman update
func TestQTableUpdate(t *testing.T) {
	q := NewQTable(4)

	// Q = 0 + 0.1 * (1 + 0.9*0 - 0)
	if v := q.Update(2, 0, 1, 2, 0.1, 0.9); math.Abs(v-0.1) > 1e-12 {
		t.Errorf("Expected 0.1 after first update, got %g", v)
	}

	// Q = 0.1 + 0.1 * (1 + 0.9*0.1 - 0.1)
	if v := q.Update(2, 0, 1, 2, 0.1, 0.9); math.Abs(v-0.199) > 1e-12 {
		t.Errorf("Expected 0.199 after second update, got %g", v)
	}
}

// TestQTableConvergesToFixedPoint tests convergence under constant reward
func TestQTableConvergesToFixedPoint(t *testing.T) {
	q := NewQTable(1)

	// Reward 1 forever in a single state: Q* = 1 / (1 - 0.9) = 10.
	prev := 0.0
	for i := range 2000 {
		v := q.Update(0, 0, 1, 0, 0.1, 0.9)
		if v < prev {
			t.Fatalf("Estimate decreased at step %d: %g < %g", i, v, prev)
		}
		prev = v
	}
	if math.Abs(prev-10) > 1e-3 {
		t.Errorf("Expected convergence to 10, got %g", prev)
	}
}

// TestQTableActionOutOfRange tests action bounds
func TestQTableActionOutOfRange(t *testing.T) {
	q := NewQTable(4)

	defer func() {
		err, ok := recover().(*EngineError)
		if !ok || err.Code != ErrCodeOutOfBounds {
			t.Errorf("Expected out-of-bounds panic, got %v", err)
		}
	}()
	q.Set(0, 4, 1)
}

// TestQTableEntriesRoundTrip tests ordered export and import
func TestQTableEntriesRoundTrip(t *testing.T) {
	q := NewQTable(3)
	q.Set(2, 1, -0.5)
	q.Set(0, 2, 0.25)
	q.Set(2, 0, 1)

	want := []QEntry{
		{State: 0, Action: 2, Value: 0.25},
		{State: 2, Action: 0, Value: 1},
		{State: 2, Action: 1, Value: -0.5},
	}
	if diff := cmp.Diff(want, q.Entries()); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}

	restored := NewQTable(3)
	if err := restored.Load(q.Entries()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, restored.Entries()); diff != "" {
		t.Errorf("Restored entries mismatch (-want +got):\n%s", diff)
	}

	if err := NewQTable(2).Load(want); !IsErrorCode(err, ErrCodeSnapshotMismatch) {
		t.Errorf("Expected mismatch loading action 2 into a 2-way table, got %v", err)
	}
}
