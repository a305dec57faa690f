package replacement

import (
	"cmp"
	"slices"
)

type qKey struct {
	state, action uint32
}

// QEntry is one stored (state, action) estimate.
type QEntry struct {
	State  uint32
	Action uint32
	Value  float64
}

// QTable is a sparse (state, action) -> value map. Pairs that were never
// written read as 0.
type QTable struct {
	values     map[qKey]float64
	numActions uint32
}

// NewQTable creates an empty table over actions [0, numActions).
func NewQTable(numActions uint32) *QTable {
	return &QTable{
		values:     make(map[qKey]float64),
		numActions: numActions,
	}
}

// Get returns Q[state, action].
func (q *QTable) Get(state, action uint32) float64 {
	mustInRange("QTable.Get", "action", uint64(action), uint64(q.numActions))
	return q.values[qKey{state, action}]
}

// Set stores Q[state, action].
func (q *QTable) Set(state, action uint32, v float64) {
	mustInRange("QTable.Set", "action", uint64(action), uint64(q.numActions))
	q.values[qKey{state, action}] = v
}

// Best returns the greedy action for state and its value; ties go to the
// lowest action.
func (q *QTable) Best(state uint32) (uint32, float64) {
	best, bestValue := uint32(0), q.values[qKey{state, 0}]
	for a := uint32(1); a < q.numActions; a++ {
		if v := q.values[qKey{state, a}]; v > bestValue {
			best, bestValue = a, v
		}
	}
	return best, bestValue
}

// Update applies one Bellman step and returns the new estimate:
// Q[s,a] += alpha * (reward + gamma*max_a' Q[next,a'] - Q[s,a]).
func (q *QTable) Update(state, action uint32, reward float64, next uint32, alpha, gamma float64) float64 {
	old := q.Get(state, action)
	_, maxNext := q.Best(next)
	v := old + alpha*(reward+gamma*maxNext-old)
	q.Set(state, action, v)
	return v
}

// Len returns the number of stored pairs.
func (q *QTable) Len() int { return len(q.values) }

// NumActions returns the action count the table was sized for.
func (q *QTable) NumActions() uint32 { return q.numActions }

// Entries returns every stored pair ordered by state, then action.
func (q *QTable) Entries() []QEntry {
	out := make([]QEntry, 0, len(q.values))
	for k, v := range q.values {
		out = append(out, QEntry{State: k.state, Action: k.action, Value: v})
	}
	slices.SortFunc(out, func(a, b QEntry) int {
		if c := cmp.Compare(a.State, b.State); c != 0 {
			return c
		}
		return cmp.Compare(a.Action, b.Action)
	})
	return out
}

// Load replaces the table contents with entries.
func (q *QTable) Load(entries []QEntry) error {
	values := make(map[qKey]float64, len(entries))
	for _, e := range entries {
		if e.Action >= q.numActions {
			return ErrSnapshotMismatch("QTable.Load", "action outside the configured way count")
		}
		values[qKey{e.State, e.Action}] = e.Value
	}
	q.values = values
	return nil
}
