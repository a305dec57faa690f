package replacement

// LRUPolicy evicts the way used least recently.
type LRUPolicy struct {
	meta *MetadataStore
}

// NewLRUPolicy creates an LRU policy sized for geom
func NewLRUPolicy(geom Geometry) *LRUPolicy {
	return &LRUPolicy{meta: NewMetadataStore(geom, 0, 0)}
}

func (p *LRUPolicy) Name() string { return PolicyLRU }

// FindVictim returns the way with the oldest stamp; never-used ways are
// stamped 0 and go first, lowest index first.
func (p *LRUPolicy) FindVictim(set uint32, _ []Block, _ Access) uint32 {
	return p.meta.LeastRecentWay(set)
}

// UpdateReplacementState marks the way as most recently used, except for
// writeback hits.
func (p *LRUPolicy) UpdateReplacementState(set, way uint32, acc Access, _ uint64, hit bool) {
	if isWritebackHit(acc, hit) {
		return
	}
	p.meta.Touch(set, way)
}

// ReplacementCacheFill stamps the newly filled way.
func (p *LRUPolicy) ReplacementCacheFill(set, way uint32, _ Access, _ uint64) {
	p.meta.Touch(set, way)
}

func (p *LRUPolicy) FinalStats() PolicyStats {
	return PolicyStats{Name: PolicyLRU}
}

// Metadata exposes the per-way state, mainly for inspection in tests.
func (p *LRUPolicy) Metadata() *MetadataStore { return p.meta }
