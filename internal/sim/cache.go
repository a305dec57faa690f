// Package sim is a minimal set-associative host cache that drives a
// replacement engine the way a cycle-level simulator would: lookup, victim
// selection on a miss, fill, then outcome update.
package sim

import (
	"math/bits"

	"github.com/sibexico/ReplEngine/replacement"
)

// CacheStats counts host-side outcomes.
type CacheStats struct {
	Accesses  uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64 // misses that displaced a valid line
}

// HitRate returns hits / accesses, or 0 before the first access.
func (s CacheStats) HitRate() float64 {
	if s.Accesses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Accesses)
}

// Cache is a tag store with no data. Every block lives in arena
// blocks[set*NumWays+way].
type Cache struct {
	engine *replacement.Engine
	geom   replacement.Geometry
	shift  int
	blocks []replacement.Block

	consultOnFree bool
	stats         CacheStats
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// ConsultPolicyOnFree makes the cache ask the policy for a victim even when
// the set still has an invalid way. By default invalid ways are filled
// first, lowest index first.
func ConsultPolicyOnFree() CacheOption {
	return func(c *Cache) { c.consultOnFree = true }
}

// NewCache builds an empty cache shaped like the engine's geometry.
func NewCache(engine *replacement.Engine, opts ...CacheOption) *Cache {
	geom := engine.Geometry()
	c := &Cache{
		engine: engine,
		geom:   geom,
		shift:  bits.TrailingZeros64(geom.BlockSize),
		blocks: make([]replacement.Block, int(geom.NumSets)*int(geom.NumWays)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the replacement engine behind the cache.
func (c *Cache) Engine() *replacement.Engine { return c.engine }

// Stats returns the host-side counters.
func (c *Cache) Stats() CacheStats { return c.stats }

// ResetStats clears the cache counters and the engine's metrics. Cached
// blocks and policy state are kept.
func (c *Cache) ResetStats() {
	c.stats = CacheStats{}
	c.engine.ResetStats()
}

func (c *Cache) setOf(addr uint64) uint32 {
	return uint32((addr >> c.shift) % uint64(c.geom.NumSets))
}

func (c *Cache) ways(set uint32) []replacement.Block {
	begin := int(set) * int(c.geom.NumWays)
	return c.blocks[begin : begin+int(c.geom.NumWays)]
}

// Set returns a copy of the blocks in set.
func (c *Cache) Set(set uint32) []replacement.Block {
	return append([]replacement.Block(nil), c.ways(set)...)
}

// Lookup reports where addr is cached, if anywhere.
func (c *Cache) Lookup(addr uint64) (set, way uint32, ok bool) {
	set = c.setOf(addr)
	tag := addr >> c.shift
	for i, b := range c.ways(set) {
		if b.Valid && b.Address>>c.shift == tag {
			return set, uint32(i), true
		}
	}
	return set, 0, false
}

// Access performs one lookup and reports whether it hit. On a miss the line
// is installed, evicting a victim if the set is full.
func (c *Cache) Access(acc replacement.Access) bool {
	c.stats.Accesses++

	set, way, hit := c.Lookup(acc.Address)
	if hit {
		c.stats.Hits++
		c.engine.UpdateReplacementState(set, way, acc, 0, true)
		return true
	}
	c.stats.Misses++

	way = c.chooseWay(set, acc)
	line := &c.ways(set)[way]
	var victimAddr uint64
	if line.Valid {
		victimAddr = line.Address
		c.stats.Evictions++
	}
	*line = replacement.Block{Valid: true, Address: acc.Address &^ (c.geom.BlockSize - 1)}

	c.engine.ReplacementCacheFill(set, way, acc, victimAddr)
	c.engine.UpdateReplacementState(set, way, acc, victimAddr, false)
	return false
}

func (c *Cache) chooseWay(set uint32, acc replacement.Access) uint32 {
	current := c.ways(set)
	if !c.consultOnFree {
		for i, b := range current {
			if !b.Valid {
				return uint32(i)
			}
		}
	}
	return c.engine.FindVictim(set, current, acc)
}
