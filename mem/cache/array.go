// Package cache provides the set-associative array shared by the L1
// and L2 caches: tag storage plus a pluggable replacement policy.
package cache

import (
	"github.com/sarchlab/mipsim/mem/cache/internal/policy"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

// An Array is one cache's tag and data storage together with its
// replacement policy. It has no notion of latency; the L1 and L2
// components in front of it own the timing.
type Array struct {
	tags   tagging.TagArray
	policy policy.Policy
}

// An EvictedLine describes the victim an installation displaced.
type EvictedLine struct {
	Valid bool
	Dirty bool
	Addr  uint32
	Data  []byte
}

// Tags exposes the underlying tag array for address decomposition.
func (a *Array) Tags() tagging.TagArray {
	return a.tags
}

// Probe returns the valid block holding addr without updating any
// replacement state.
func (a *Array) Probe(addr uint32) *tagging.Block {
	return a.tags.Lookup(addr)
}

// Touch promotes a block on a hit.
func (a *Array) Touch(block *tagging.Block, now uint64) {
	a.policy.OnHit(block, now)
}

// RecordMiss reports a miss to the policy's set-dueling machinery.
func (a *Array) RecordMiss(addr uint32) {
	a.policy.OnMiss(a.tags.SetIndex(addr))
}

// Install places a line into the array, evicting a victim if the line
// is not already present. The victim's address and a copy of its bytes
// are returned so the caller can write it back.
func (a *Array) Install(
	addr uint32,
	data []byte,
	now uint64,
) (*tagging.Block, EvictedLine) {
	lineAddr := a.tags.LineAddr(addr)
	evicted := EvictedLine{}

	block := a.tags.Lookup(lineAddr)
	victimTouch := uint64(0)

	if block != nil {
		victimTouch = block.LastTouch
	} else {
		set, _ := a.tags.GetSet(lineAddr)
		victim := a.policy.Victim(set)
		victimTouch = victim.LastTouch
		evicted = a.evict(victim)
		block = victim
	}

	block.Tag = a.tags.Tag(lineAddr)
	block.State = tagging.Exclusive
	block.Dirty = false
	if data != nil {
		copy(block.Data, data)
	}

	a.policy.OnFill(block, lineAddr, victimTouch, now)

	return block, evicted
}

// Evict removes a block from the array, reporting its address and a
// copy of its bytes.
func (a *Array) Evict(block *tagging.Block) EvictedLine {
	return a.evict(block)
}

func (a *Array) evict(block *tagging.Block) EvictedLine {
	if block.State == tagging.Invalid {
		return EvictedLine{}
	}

	evicted := EvictedLine{
		Valid: true,
		Dirty: block.Dirty,
		Addr:  a.tags.BlockAddr(block),
		Data:  make([]byte, len(block.Data)),
	}
	copy(evicted.Data, block.Data)

	block.State = tagging.Invalid
	block.Dirty = false

	a.policy.OnEvict(evicted.Addr)

	return evicted
}

// Invalidate drops the block holding addr, if present. The block's
// dirty data is discarded; callers that need it must Probe first.
func (a *Array) Invalidate(addr uint32) bool {
	block := a.tags.Lookup(addr)
	if block == nil {
		return false
	}

	block.State = tagging.Invalid
	block.Dirty = false

	return true
}

// Reset invalidates the whole array.
func (a *Array) Reset() {
	a.tags.Reset()
}
