package l1

import (
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/internal/policy"
	"github.com/sarchlab/mipsim/mem/cache/l2"
)

// Builder can build L1 caches.
type Builder struct {
	coreID     int
	isICache   bool
	numSets    uint32
	numWays    uint32
	blockSize  uint32
	policyKind policy.Kind
	armLatency uint64
	l2         *l2.Comp
}

// MakeBuilder creates a builder with the default L1-D parameters.
func MakeBuilder() Builder {
	return Builder{
		numSets:    256,
		numWays:    8,
		blockSize:  32,
		policyKind: policy.LRU,
		armLatency: 5,
	}
}

// WithCoreID sets the owning core.
func (b Builder) WithCoreID(coreID int) Builder {
	b.coreID = coreID
	return b
}

// AsICache marks the cache as the instruction side.
func (b Builder) AsICache() Builder {
	b.isICache = true
	return b
}

// WithGeometry sets the set count, associativity, and line size.
func (b Builder) WithGeometry(numSets, numWays, blockSize uint32) Builder {
	b.numSets = numSets
	b.numWays = numWays
	b.blockSize = blockSize
	return b
}

// WithPolicy sets the replacement policy.
func (b Builder) WithPolicy(kind policy.Kind) Builder {
	b.policyKind = kind
	return b
}

// WithArmLatency sets the delay charged when a miss is satisfied by a
// snoop or an L2 probe.
func (b Builder) WithArmLatency(latency uint64) Builder {
	b.armLatency = latency
	return b
}

// WithL2 sets the shared L2.
func (b Builder) WithL2(l2Cache *l2.Comp) Builder {
	b.l2 = l2Cache
	return b
}

// Build creates the L1 and registers it with the L2.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		name:     name,
		coreID:   b.coreID,
		isICache: b.isICache,
		array: cache.MakeBuilder().
			WithGeometry(b.numSets, b.numWays, b.blockSize).
			WithPolicy(b.policyKind).
			WithMissPenalty(b.armLatency).
			Build(),
		l2:         b.l2,
		armLatency: b.armLatency,
	}

	if b.l2 != nil {
		b.l2.RegisterL1(b.coreID, b.isICache, c)
	}

	return c
}
