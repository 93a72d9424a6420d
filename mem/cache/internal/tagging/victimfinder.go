package tagging

// A VictimFinder decides which block of a set should be evicted.
type VictimFinder interface {
	FindVictim(set *Set) *Block
}

// LRUVictimFinder evicts the least recently touched block.
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed LRU evictor.
func NewLRUVictimFinder() *LRUVictimFinder {
	return &LRUVictimFinder{}
}

// FindVictim returns the first invalid block of the set, or the valid
// block with the smallest LastTouch.
func (e *LRUVictimFinder) FindVictim(set *Set) *Block {
	for _, block := range set.Blocks {
		if block.State == Invalid {
			return block
		}
	}

	victim := set.Blocks[0]
	for _, block := range set.Blocks[1:] {
		if block.LastTouch < victim.LastTouch {
			victim = block
		}
	}

	return victim
}

// RRPVMax is the distant re-reference value. Blocks at RRPVMax are
// eviction candidates for the RRIP family.
const RRPVMax = uint8(3)

// RRIPVictimFinder evicts the first block predicted to be re-referenced
// in the distant future.
type RRIPVictimFinder struct {
}

// NewRRIPVictimFinder returns a newly constructed RRIP evictor.
func NewRRIPVictimFinder() *RRIPVictimFinder {
	return &RRIPVictimFinder{}
}

// FindVictim returns the first invalid block, or the first block with
// RRPV == RRPVMax. If no block qualifies, it ages every block below
// RRPVMax and retries. The loop terminates within RRPVMax rounds.
func (e *RRIPVictimFinder) FindVictim(set *Set) *Block {
	for _, block := range set.Blocks {
		if block.State == Invalid {
			return block
		}
	}

	for {
		for _, block := range set.Blocks {
			if block.RRPV >= RRPVMax {
				return block
			}
		}

		for _, block := range set.Blocks {
			if block.RRPV < RRPVMax {
				block.RRPV++
			}
		}
	}
}
