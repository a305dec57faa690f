package replacement

import "math"

// satMax returns the largest value representable in bits (0 means 64).
func satMax(bits uint8) uint64 {
	if bits == 0 || bits >= 64 {
		return math.MaxUint64
	}
	return 1<<bits - 1
}

// MetadataStore holds per-way replacement metadata for one cache instance.
// Every array is a single arena indexed by set*NumWays+way.
type MetadataStore struct {
	numSets, numWays uint32

	lastUsed     []uint64
	frequency    []uint64
	hitCount     []uint8
	expectedHits []float64
	valid        []bool

	frequencyMax uint64
	hitCountMax  uint8

	cycle uint64
}

// NewMetadataStore allocates zeroed metadata for geom. Counter widths are in
// bits; a frequency width of 0 leaves the counter effectively unbounded.
func NewMetadataStore(geom Geometry, frequencyBits, hitCounterBits uint8) *MetadataStore {
	n := int(geom.NumSets) * int(geom.NumWays)
	hitMax := satMax(hitCounterBits)
	if hitMax > math.MaxUint8 {
		hitMax = math.MaxUint8
	}
	return &MetadataStore{
		numSets:      geom.NumSets,
		numWays:      geom.NumWays,
		lastUsed:     make([]uint64, n),
		frequency:    make([]uint64, n),
		hitCount:     make([]uint8, n),
		expectedHits: make([]float64, n),
		valid:        make([]bool, n),
		frequencyMax: satMax(frequencyBits),
		hitCountMax:  uint8(hitMax),
	}
}

func (m *MetadataStore) index(set, way uint32) int {
	mustInRange("MetadataStore", "set", uint64(set), uint64(m.numSets))
	mustInRange("MetadataStore", "way", uint64(way), uint64(m.numWays))
	return int(set)*int(m.numWays) + int(way)
}

func (m *MetadataStore) span(set uint32) (int, int) {
	mustInRange("MetadataStore", "set", uint64(set), uint64(m.numSets))
	begin := int(set) * int(m.numWays)
	return begin, begin + int(m.numWays)
}

// NumWays returns the associativity the store was sized for.
func (m *MetadataStore) NumWays() uint32 { return m.numWays }

// NumSets returns the number of sets the store was sized for.
func (m *MetadataStore) NumSets() uint32 { return m.numSets }

// Cycle returns the current value of the instance cycle counter.
func (m *MetadataStore) Cycle() uint64 { return m.cycle }

// NextCycle advances the cycle counter and returns the new value.
// The first value handed out is 1, so unused ways (0) are always oldest.
func (m *MetadataStore) NextCycle() uint64 {
	m.cycle++
	return m.cycle
}

// Touch stamps (set, way) with a fresh cycle.
func (m *MetadataStore) Touch(set, way uint32) {
	m.lastUsed[m.index(set, way)] = m.NextCycle()
}

// LastUsed returns the stamp of (set, way).
func (m *MetadataStore) LastUsed(set, way uint32) uint64 {
	return m.lastUsed[m.index(set, way)]
}

// OldestLastUsed returns the smallest stamp in set.
func (m *MetadataStore) OldestLastUsed(set uint32) uint64 {
	begin, end := m.span(set)
	oldest := m.lastUsed[begin]
	for _, v := range m.lastUsed[begin+1 : end] {
		oldest = min(oldest, v)
	}
	return oldest
}

// Frequency returns the access counter of (set, way).
func (m *MetadataStore) Frequency(set, way uint32) uint64 {
	return m.frequency[m.index(set, way)]
}

// IncrementFrequency bumps the access counter, saturating at its width.
func (m *MetadataStore) IncrementFrequency(set, way uint32) {
	i := m.index(set, way)
	if m.frequency[i] < m.frequencyMax {
		m.frequency[i]++
	}
}

// FrequencyMax returns the saturation value of the frequency counter.
func (m *MetadataStore) FrequencyMax() uint64 { return m.frequencyMax }

// HitCount returns the hits collected by the current occupant of (set, way).
func (m *MetadataStore) HitCount(set, way uint32) uint8 {
	return m.hitCount[m.index(set, way)]
}

// IncrementHitCount bumps the per-line hit register, saturating at its width.
func (m *MetadataStore) IncrementHitCount(set, way uint32) {
	i := m.index(set, way)
	if m.hitCount[i] < m.hitCountMax {
		m.hitCount[i]++
	}
}

// HitCountMax returns the saturation value of the hit register.
func (m *MetadataStore) HitCountMax() uint8 { return m.hitCountMax }

// ExpectedHits returns the remaining predicted hits of (set, way).
func (m *MetadataStore) ExpectedHits(set, way uint32) float64 {
	return m.expectedHits[m.index(set, way)]
}

// SetExpectedHits overwrites the prediction of (set, way).
func (m *MetadataStore) SetExpectedHits(set, way uint32, v float64) {
	m.expectedHits[m.index(set, way)] = v
}

// ConsumeExpectedHit counts one predicted hit down, never below zero.
func (m *MetadataStore) ConsumeExpectedHit(set, way uint32) {
	i := m.index(set, way)
	m.expectedHits[i] = max(m.expectedHits[i]-1, 0)
}

// ResetLine clears the per-line counters of (set, way) for a new occupant.
func (m *MetadataStore) ResetLine(set, way uint32) {
	i := m.index(set, way)
	m.hitCount[i] = 0
	m.expectedHits[i] = 0
}

// SetValid records whether (set, way) holds a line.
func (m *MetadataStore) SetValid(set, way uint32, valid bool) {
	m.valid[m.index(set, way)] = valid
}

// SyncValid refreshes the valid bits of set from the host's view.
func (m *MetadataStore) SyncValid(set uint32, current []Block) {
	begin, end := m.span(set)
	for i := begin; i < end && i-begin < len(current); i++ {
		m.valid[i] = current[i-begin].Valid
	}
}

// Occupancy counts the valid ways of set.
func (m *MetadataStore) Occupancy(set uint32) uint32 {
	begin, end := m.span(set)
	var n uint32
	for _, v := range m.valid[begin:end] {
		if v {
			n++
		}
	}
	return n
}

// minWay returns the index of the smallest value; ties go to the lowest index.
func minWay[T uint8 | uint64 | float64](values []T) uint32 {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] < values[best] {
			best = i
		}
	}
	return uint32(best)
}

// LeastRecentWay returns the way of set with the oldest stamp.
func (m *MetadataStore) LeastRecentWay(set uint32) uint32 {
	begin, end := m.span(set)
	return minWay(m.lastUsed[begin:end])
}

// LeastFrequentWay returns the way of set with the lowest frequency.
func (m *MetadataStore) LeastFrequentWay(set uint32) uint32 {
	begin, end := m.span(set)
	return minWay(m.frequency[begin:end])
}

// FewestExpectedHitsWay returns the way of set predicted to hit least.
func (m *MetadataStore) FewestExpectedHitsWay(set uint32) uint32 {
	begin, end := m.span(set)
	return minWay(m.expectedHits[begin:end])
}
