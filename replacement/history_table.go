package replacement

import (
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// History table eviction rules accepted by EHCConfig.HistoryEviction.
const (
	// HistoryEvictLargestTag evicts an invalid entry first, else the entry
	// whose tag is numerically largest.
	HistoryEvictLargestTag = "largest-tag"
	// HistoryEvictLRU evicts the entry touched least recently.
	HistoryEvictLRU = "lru"
)

// HistoryEntry keeps the hit counts of the last few residencies of one block,
// most recent first.
type HistoryEntry struct {
	Valid bool
	Tag   uint64
	queue []uint8
}

// Push records the hit count of a finished residency, dropping the oldest.
func (e *HistoryEntry) Push(hits uint8) {
	copy(e.queue[1:], e.queue[:len(e.queue)-1])
	e.queue[0] = hits
}

// Mean averages the queue over its full depth; missing history counts as 0.
func (e *HistoryEntry) Mean() float64 {
	var sum int
	for _, v := range e.queue {
		sum += int(v)
	}
	return float64(sum) / float64(len(e.queue))
}

// Queue returns a copy of the recorded hit counts, most recent first.
func (e *HistoryEntry) Queue() []uint8 {
	return append([]uint8(nil), e.queue...)
}

func (e *HistoryEntry) reset(tag uint64) {
	e.Valid = true
	e.Tag = tag
	clear(e.queue)
}

// HistoryTable is a bounded tag -> HistoryEntry map. A lookup miss is not an
// error; a full table makes room according to its eviction rule.
type HistoryTable interface {
	// Lookup returns the valid entry for tag.
	Lookup(tag uint64) (*HistoryEntry, bool)
	// Allocate returns the entry for tag, creating an empty one if needed.
	Allocate(tag uint64) *HistoryEntry
	// Len returns the number of valid entries.
	Len() int
	// Cap returns the fixed capacity.
	Cap() int
}

// NewHistoryTable builds a table of capacity entries keeping depth counts each.
func NewHistoryTable(eviction string, capacity, depth int) (HistoryTable, error) {
	if capacity <= 0 {
		return nil, ErrInvalidConfig("NewHistoryTable", "history_entries", "must be greater than 0")
	}
	if depth <= 0 {
		return nil, ErrInvalidConfig("NewHistoryTable", "history_length", "must be greater than 0")
	}
	switch eviction {
	case HistoryEvictLargestTag, "":
		return newScanHistoryTable(capacity, depth), nil
	case HistoryEvictLRU:
		return newLRUHistoryTable(capacity, depth)
	default:
		return nil, ErrInvalidConfig("NewHistoryTable", "history_eviction",
			fmt.Sprintf("%q is not one of %q, %q", eviction, HistoryEvictLargestTag, HistoryEvictLRU))
	}
}

// scanHistoryTable is a fixed array searched linearly.
type scanHistoryTable struct {
	entries []HistoryEntry
	valid   int
}

func newScanHistoryTable(capacity, depth int) *scanHistoryTable {
	arena := make([]uint8, capacity*depth)
	t := &scanHistoryTable{entries: make([]HistoryEntry, capacity)}
	for i := range t.entries {
		t.entries[i].queue = arena[i*depth : (i+1)*depth : (i+1)*depth]
	}
	return t
}

func (t *scanHistoryTable) Lookup(tag uint64) (*HistoryEntry, bool) {
	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].Tag == tag {
			return &t.entries[i], true
		}
	}
	return nil, false
}

func (t *scanHistoryTable) Allocate(tag uint64) *HistoryEntry {
	if e, ok := t.Lookup(tag); ok {
		return e
	}
	e := &t.entries[t.victim()]
	if !e.Valid {
		t.valid++
	}
	e.reset(tag)
	return e
}

// victim prefers the first invalid slot, then the largest tag.
func (t *scanHistoryTable) victim() int {
	best := 0
	for i := range t.entries {
		if !t.entries[i].Valid {
			return i
		}
		if t.entries[i].Tag > t.entries[best].Tag {
			best = i
		}
	}
	return best
}

func (t *scanHistoryTable) Len() int { return t.valid }

func (t *scanHistoryTable) Cap() int { return len(t.entries) }

// lruHistoryTable orders entries by last touch.
type lruHistoryTable struct {
	lru      *simplelru.LRU[uint64, *HistoryEntry]
	capacity int
	depth    int
	spare    *HistoryEntry
}

func newLRUHistoryTable(capacity, depth int) (*lruHistoryTable, error) {
	t := &lruHistoryTable{capacity: capacity, depth: depth}
	lru, err := simplelru.NewLRU[uint64, *HistoryEntry](capacity, t.onEvict)
	if err != nil {
		return nil, fmt.Errorf("history table: %w", err)
	}
	t.lru = lru
	return t, nil
}

// onEvict keeps the evicted entry's queue for the next allocation.
func (t *lruHistoryTable) onEvict(_ uint64, e *HistoryEntry) {
	e.Valid = false
	t.spare = e
}

func (t *lruHistoryTable) Lookup(tag uint64) (*HistoryEntry, bool) {
	return t.lru.Get(tag)
}

func (t *lruHistoryTable) Allocate(tag uint64) *HistoryEntry {
	if e, ok := t.lru.Get(tag); ok {
		return e
	}
	var e *HistoryEntry
	if t.lru.Len() >= t.capacity {
		t.lru.RemoveOldest()
	}
	if t.spare != nil {
		e, t.spare = t.spare, nil
	} else {
		e = &HistoryEntry{queue: make([]uint8, t.depth)}
	}
	e.reset(tag)
	t.lru.Add(tag, e)
	return e
}

func (t *lruHistoryTable) Len() int { return t.lru.Len() }

func (t *lruHistoryTable) Cap() int { return t.capacity }

// recordResidency pushes the hit count of an evicted line into its entry.
func recordResidency(t HistoryTable, tag uint64, hits uint8) {
	t.Allocate(tag).Push(hits)
}
