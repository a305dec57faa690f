package replacement

// LFUPolicy evicts the way with the fewest recorded accesses. Counts never
// decay or reset, so lines that were hot long ago stay protected.
type LFUPolicy struct {
	meta *MetadataStore
}

// NewLFUPolicy creates an LFU policy with frequencyBits-wide counters
// (0 selects a 64-bit counter).
func NewLFUPolicy(geom Geometry, frequencyBits uint8) *LFUPolicy {
	return &LFUPolicy{meta: NewMetadataStore(geom, frequencyBits, 0)}
}

func (p *LFUPolicy) Name() string { return PolicyLFU }

// FindVictim returns the least frequently used way, lowest index on ties.
func (p *LFUPolicy) FindVictim(set uint32, _ []Block, _ Access) uint32 {
	return p.meta.LeastFrequentWay(set)
}

// UpdateReplacementState counts the access unless it is a writeback hit.
func (p *LFUPolicy) UpdateReplacementState(set, way uint32, acc Access, _ uint64, hit bool) {
	if isWritebackHit(acc, hit) {
		return
	}
	p.meta.IncrementFrequency(set, way)
}

func (p *LFUPolicy) ReplacementCacheFill(uint32, uint32, Access, uint64) {}

func (p *LFUPolicy) FinalStats() PolicyStats {
	return PolicyStats{Name: PolicyLFU}
}

// Metadata exposes the per-way state, mainly for inspection in tests.
func (p *LFUPolicy) Metadata() *MetadataStore { return p.meta }
