package sim

import (
	"fmt"

	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/l1"
	"github.com/sarchlab/mipsim/mem/cache/l2"
	"github.com/sarchlab/mipsim/mem/dram"
)

// Builder can build simulators.
type Builder struct {
	numCores int

	l1ISets uint32
	l1IWays uint32
	l1DSets uint32
	l1DWays uint32
	l2Sets  uint32
	l2Ways  uint32

	blockSize uint32
	numMSHRs  int

	policyKind cache.Policy
	inclusion  l2.InclusionPolicy

	l2HitLatency  uint64
	l2ToMem       uint64
	memToL2       uint64
	memCapacity   uint64
	dramQueueCap  int
}

// MakeBuilder creates a builder with the default configuration:
// one core, 16x4 L1-I, 256x8 L1-D, 512x16 L2, 32-byte lines, 16 MSHRs,
// LRU everywhere, inclusive L2, 64 MB of memory.
func MakeBuilder() Builder {
	return Builder{
		numCores:     1,
		l1ISets:      16,
		l1IWays:      4,
		l1DSets:      256,
		l1DWays:      8,
		l2Sets:       512,
		l2Ways:       16,
		blockSize:    32,
		numMSHRs:     16,
		policyKind:   cache.LRU,
		inclusion:    l2.Inclusive,
		l2HitLatency: 15,
		l2ToMem:      5,
		memToL2:      5,
		memCapacity:  64 * 1 << 20,
		dramQueueCap: 256,
	}
}

// WithNumCores sets the core count.
func (b Builder) WithNumCores(numCores int) Builder {
	b.numCores = numCores
	return b
}

// WithL1IGeometry sets the instruction cache's sets and ways.
func (b Builder) WithL1IGeometry(numSets, numWays uint32) Builder {
	b.l1ISets = numSets
	b.l1IWays = numWays
	return b
}

// WithL1DGeometry sets the data cache's sets and ways.
func (b Builder) WithL1DGeometry(numSets, numWays uint32) Builder {
	b.l1DSets = numSets
	b.l1DWays = numWays
	return b
}

// WithL2Geometry sets the L2's sets and ways.
func (b Builder) WithL2Geometry(numSets, numWays uint32) Builder {
	b.l2Sets = numSets
	b.l2Ways = numWays
	return b
}

// WithBlockSize sets the line size of every level.
func (b Builder) WithBlockSize(blockSize uint32) Builder {
	b.blockSize = blockSize
	return b
}

// WithNumMSHRs sets the shared MSHR count.
func (b Builder) WithNumMSHRs(numMSHRs int) Builder {
	b.numMSHRs = numMSHRs
	return b
}

// WithPolicy sets the replacement policy of every level.
func (b Builder) WithPolicy(kind cache.Policy) Builder {
	b.policyKind = kind
	return b
}

// WithInclusion sets the L2 inclusion policy.
func (b Builder) WithInclusion(inclusion l2.InclusionPolicy) Builder {
	b.inclusion = inclusion
	return b
}

// WithMemCapacity sets the backing store size in bytes.
func (b Builder) WithMemCapacity(capacity uint64) Builder {
	b.memCapacity = capacity
	return b
}

// Build creates a simulator and wires the hierarchy.
func (b Builder) Build() *Simulator {
	s := &Simulator{
		storage: mem.NewStorage(b.memCapacity),
	}

	s.dram = dram.MakeBuilder().
		WithQueueCapacity(b.dramQueueCap).
		Build("DRAM")

	s.l2 = l2.MakeBuilder().
		WithGeometry(b.l2Sets, b.l2Ways, b.blockSize).
		WithNumMSHRs(b.numMSHRs).
		WithPolicy(b.policyKind).
		WithInclusion(b.inclusion).
		WithSendLatency(b.l2ToMem).
		WithFillLatency(b.memToL2).
		WithHitLatency(b.l2HitLatency).
		WithStorage(s.storage).
		WithDRAM(s.dram).
		Build("L2")

	s.dram.SetCompletionSink(s.l2)

	for i := 0; i < b.numCores; i++ {
		core := &Core{
			ICache: l1.MakeBuilder().
				WithCoreID(i).
				AsICache().
				WithGeometry(b.l1ISets, b.l1IWays, b.blockSize).
				WithPolicy(b.policyKind).
				WithL2(s.l2).
				Build(fmt.Sprintf("Core%d.L1I", i)),
			DCache: l1.MakeBuilder().
				WithCoreID(i).
				WithGeometry(b.l1DSets, b.l1DWays, b.blockSize).
				WithPolicy(b.policyKind).
				WithL2(s.l2).
				Build(fmt.Sprintf("Core%d.L1D", i)),
		}
		s.cores = append(s.cores, core)
	}

	// Each cache snoops its same-core sibling too: a line fetched as
	// code and loaded as data must still have a single owner.
	for i, core := range s.cores {
		icPeers := []l1.Snooper{core.DCache}
		dcPeers := []l1.Snooper{core.ICache}

		for j, other := range s.cores {
			if i == j {
				continue
			}
			icPeers = append(icPeers, other.ICache, other.DCache)
			dcPeers = append(dcPeers, other.ICache, other.DCache)
		}

		core.ICache.SetPeers(icPeers)
		core.DCache.SetPeers(dcPeers)
	}

	return s
}
