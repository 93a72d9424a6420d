package l2

import (
	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/internal/mshr"
	"github.com/sarchlab/mipsim/mem/cache/internal/policy"
)

// Builder can build L2 caches.
type Builder struct {
	numSets     uint32
	numWays     uint32
	blockSize   uint32
	numMSHRs    int
	policyKind  policy.Kind
	inclusion   InclusionPolicy
	sendLatency uint64
	fillLatency uint64
	hitLatency  uint64
	storage     *mem.Storage
	dram        RequestSink
}

// MakeBuilder creates a builder with the default L2 parameters:
// 512 sets, 16 ways, 32-byte lines, 16 MSHRs, inclusive.
func MakeBuilder() Builder {
	return Builder{
		numSets:     512,
		numWays:     16,
		blockSize:   32,
		numMSHRs:    16,
		policyKind:  policy.LRU,
		inclusion:   Inclusive,
		sendLatency: 5,
		fillLatency: 5,
		hitLatency:  15,
	}
}

// WithGeometry sets the set count, associativity, and line size.
func (b Builder) WithGeometry(numSets, numWays, blockSize uint32) Builder {
	b.numSets = numSets
	b.numWays = numWays
	b.blockSize = blockSize
	return b
}

// WithNumMSHRs sets the MSHR table capacity.
func (b Builder) WithNumMSHRs(numMSHRs int) Builder {
	b.numMSHRs = numMSHRs
	return b
}

// WithPolicy sets the replacement policy.
func (b Builder) WithPolicy(kind policy.Kind) Builder {
	b.policyKind = kind
	return b
}

// WithInclusion sets the inclusion policy.
func (b Builder) WithInclusion(inclusion InclusionPolicy) Builder {
	b.inclusion = inclusion
	return b
}

// WithSendLatency sets the L2-to-memory delay.
func (b Builder) WithSendLatency(latency uint64) Builder {
	b.sendLatency = latency
	return b
}

// WithFillLatency sets the memory-to-L2 delay.
func (b Builder) WithFillLatency(latency uint64) Builder {
	b.fillLatency = latency
	return b
}

// WithHitLatency sets the L2 hit latency the L1s charge.
func (b Builder) WithHitLatency(latency uint64) Builder {
	b.hitLatency = latency
	return b
}

// WithStorage sets the backing store.
func (b Builder) WithStorage(storage *mem.Storage) Builder {
	b.storage = storage
	return b
}

// WithDRAM sets the memory request sink.
func (b Builder) WithDRAM(sink RequestSink) Builder {
	b.dram = sink
	return b
}

// Build creates the L2 cache.
func (b Builder) Build(name string) *Comp {
	return &Comp{
		name: name,
		array: cache.MakeBuilder().
			WithGeometry(b.numSets, b.numWays, b.blockSize).
			WithPolicy(b.policyKind).
			WithMissPenalty(b.hitLatency).
			Build(),
		mshrs: mshr.NewTable(
			b.numMSHRs, b.blockSize, b.sendLatency, b.fillLatency),
		inclusion:   b.inclusion,
		storage:     b.storage,
		dram:        b.dram,
		sendLatency: b.sendLatency,
		fillLatency: b.fillLatency,
		hitLatency:  b.hitLatency,
	}
}
