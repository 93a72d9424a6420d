package cache

import (
	"github.com/sarchlab/mipsim/mem/cache/internal/policy"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

// Builder can build cache arrays.
type Builder struct {
	numSets     uint32
	numWays     uint32
	blockSize   uint32
	policyKind  policy.Kind
	missPenalty uint64
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numSets:    512,
		numWays:    16,
		blockSize:  32,
		policyKind: policy.LRU,
	}
}

// WithGeometry sets the set count, associativity, and line size. All
// three must be powers of two.
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

// WithMissPenalty sets the fill latency the MRU insertion position
// accounts for.
func (b Builder) WithMissPenalty(missPenalty uint64) Builder {
	b.missPenalty = missPenalty
	return b
}

// Build creates the array.
func (b Builder) Build() *Array {
	return &Array{
		tags: tagging.NewTagArray(b.numSets, b.numWays, b.blockSize),
		policy: policy.New(
			b.policyKind, b.numSets, b.numWays, b.missPenalty),
	}
}
