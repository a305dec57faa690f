package replacement

import "math/bits"

// EHCPolicy evicts the line predicted to collect the fewest further hits.
//
// Each resident line carries a hit register and a prediction budget. A fill
// seeds the budget from the mean of the block's last residencies in the
// hit-history table (1 if the block is unknown), every hit spends one unit,
// and the victim is the way with the smallest remaining budget. When a valid
// line is chosen as victim, the hits of its residency are pushed into its
// history entry.
type EHCPolicy struct {
	meta    *MetadataStore
	history HistoryTable
	shift   int
}

// NewEHCPolicy creates an expected-hit-count policy for geom.
func NewEHCPolicy(geom Geometry, cfg EHCConfig) (*EHCPolicy, error) {
	history, err := NewHistoryTable(cfg.HistoryEviction, cfg.HistoryEntries, cfg.HistoryLength)
	if err != nil {
		return nil, err
	}
	return &EHCPolicy{
		meta:    NewMetadataStore(geom, 0, cfg.HitCounterBits),
		history: history,
		shift:   blockShift(geom),
	}, nil
}

// blockShift is log2 of the block size; block addresses are address >> shift.
func blockShift(geom Geometry) int {
	if geom.BlockSize == 0 {
		return 0
	}
	return bits.TrailingZeros64(geom.BlockSize)
}

func (p *EHCPolicy) tag(address uint64) uint64 {
	return address >> p.shift
}

func (p *EHCPolicy) Name() string { return PolicyEHC }

// FindVictim returns the way with the fewest expected hits and retires the
// outgoing line into the history table.
func (p *EHCPolicy) FindVictim(set uint32, current []Block, _ Access) uint32 {
	p.meta.SyncValid(set, current)
	way := p.meta.FewestExpectedHitsWay(set)
	if int(way) < len(current) && current[way].Valid {
		recordResidency(p.history, p.tag(current[way].Address), p.meta.HitCount(set, way))
	}
	p.meta.ResetLine(set, way)
	return way
}

// UpdateReplacementState counts a hit for the resident line and spends one
// unit of its prediction.
func (p *EHCPolicy) UpdateReplacementState(set, way uint32, _ Access, _ uint64, hit bool) {
	if !hit {
		return
	}
	p.meta.IncrementHitCount(set, way)
	p.meta.ConsumeExpectedHit(set, way)
}

// ReplacementCacheFill seeds the prediction of the new occupant.
func (p *EHCPolicy) ReplacementCacheFill(set, way uint32, acc Access, _ uint64) {
	p.meta.SetValid(set, way, true)
	p.meta.ResetLine(set, way)

	tag := p.tag(acc.Address)
	if entry, ok := p.history.Lookup(tag); ok {
		p.meta.SetExpectedHits(set, way, entry.Mean())
		return
	}
	p.history.Allocate(tag)
	p.meta.SetExpectedHits(set, way, 1)
}

func (p *EHCPolicy) FinalStats() PolicyStats {
	return PolicyStats{
		Name:            PolicyEHC,
		HistoryEntries:  p.history.Len(),
		HistoryCapacity: p.history.Cap(),
	}
}

// Metadata exposes the per-way state, mainly for inspection in tests.
func (p *EHCPolicy) Metadata() *MetadataStore { return p.meta }

// History exposes the hit-history table.
func (p *EHCPolicy) History() HistoryTable { return p.history }
