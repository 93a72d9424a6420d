// Package policy implements the replacement policies of the cache
// arrays: LRU, DIP, DRRIP, and EAF.
//
// A policy owns three decision points. Victim selection picks the way
// to evict. Insertion assigns the metadata of a newly filled way. Hit
// update promotes a way on access. DIP and DRRIP additionally run set
// dueling: two groups of leader sets each follow one fixed insertion
// flavor, and a saturating PSEL counter picks the flavor the follower
// sets use.
package policy

import (
	"fmt"

	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

// Kind names a replacement policy.
type Kind int

// The supported replacement policies.
const (
	LRU Kind = iota
	DIP
	DRRIP
	EAF
)

func (k Kind) String() string {
	switch k {
	case LRU:
		return "LRU"
	case DIP:
		return "DIP"
	case DRRIP:
		return "DRRIP"
	case EAF:
		return "EAF"
	}

	return "?"
}

// ParseKind converts a policy name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "lru", "LRU":
		return LRU, nil
	case "dip", "DIP":
		return DIP, nil
	case "drrip", "DRRIP":
		return DRRIP, nil
	case "eaf", "EAF":
		return EAF, nil
	}

	return 0, fmt.Errorf("unknown replacement policy %q", name)
}

// A Policy makes victim, insertion, and promotion decisions for one
// cache array.
type Policy interface {
	// Victim picks the way to evict from the set.
	Victim(set *tagging.Set) *tagging.Block

	// OnHit promotes a way that was accessed.
	OnHit(block *tagging.Block, now uint64)

	// OnFill assigns the metadata of a newly installed way. lineAddr is
	// the incoming line address; victimTouch is the prior LastTouch of
	// the way being overwritten, used by BIP's LRU-position insertion.
	OnFill(block *tagging.Block, lineAddr uint32, victimTouch, now uint64)

	// OnMiss reports a miss in the given set, driving PSEL dueling.
	OnMiss(setID uint32)

	// OnEvict reports an evicted line address, feeding the EAF filter.
	OnEvict(lineAddr uint32)
}

// Leader-set selection for the dueling policies: one leader set in
// every 32 per flavor.
const leaderMask = 0x1F

func isLeader0(setID uint32) bool { return setID&leaderMask == 0 }
func isLeader1(setID uint32) bool { return setID&leaderMask == 1 }

// psel is a 10-bit saturating policy selector. At or above the midpoint
// the followers use the leader-1 flavor (BIP or BRRIP).
type psel struct {
	value int
}

const (
	pselMax  = 1023
	pselInit = 512
)

func (p *psel) inc() {
	if p.value < pselMax {
		p.value++
	}
}

func (p *psel) dec() {
	if p.value > 0 {
		p.value--
	}
}

func (p *psel) preferLeader1() bool {
	return p.value >= pselInit
}

// bipCounter deterministically emits one "take" out of every 32 calls,
// standing in for BIP's probability-1/32 MRU insertion.
type bipCounter struct {
	count uint32
}

func (c *bipCounter) take() bool {
	c.count++
	return c.count&0x1F == 0
}

// New creates a policy. missPenalty is the fill latency the MRU
// insertion position accounts for.
func New(kind Kind, numSets, numWays uint32, missPenalty uint64) Policy {
	lru := lruPolicy{
		finder:      tagging.NewLRUVictimFinder(),
		missPenalty: missPenalty,
	}

	switch kind {
	case LRU:
		return &lru
	case DIP:
		return &dipPolicy{
			lruPolicy: lru,
			selector:  psel{value: pselInit},
		}
	case DRRIP:
		return &drripPolicy{
			finder:   tagging.NewRRIPVictimFinder(),
			selector: psel{value: pselInit},
		}
	case EAF:
		return &eafPolicy{
			lruPolicy: lru,
			filter:    newEvictedAddressFilter(numSets * numWays),
			clearAt:   numSets * numWays,
		}
	}

	panic(fmt.Sprintf("unknown replacement policy kind %d", kind))
}

type lruPolicy struct {
	finder      *tagging.LRUVictimFinder
	missPenalty uint64
}

func (p *lruPolicy) Victim(set *tagging.Set) *tagging.Block {
	return p.finder.FindVictim(set)
}

func (p *lruPolicy) OnHit(block *tagging.Block, now uint64) {
	block.LastTouch = now
}

func (p *lruPolicy) OnFill(
	block *tagging.Block,
	lineAddr uint32,
	victimTouch, now uint64,
) {
	block.LastTouch = now + p.missPenalty
}

func (p *lruPolicy) OnMiss(setID uint32) {}

func (p *lruPolicy) OnEvict(lineAddr uint32) {}

// mruInsert and lruInsert are the two insertion positions BIP picks
// between.
func (p *lruPolicy) mruInsert(block *tagging.Block, now uint64) {
	block.LastTouch = now + p.missPenalty
}

func lruInsert(block *tagging.Block, victimTouch uint64) {
	block.LastTouch = victimTouch
}

type dipPolicy struct {
	lruPolicy

	selector psel
	bip      bipCounter
}

func (p *dipPolicy) OnFill(
	block *tagging.Block,
	lineAddr uint32,
	victimTouch, now uint64,
) {
	setID := uint32(block.SetID)

	switch {
	case isLeader0(setID):
		p.mruInsert(block, now)
	case isLeader1(setID):
		p.bipInsert(block, victimTouch, now)
	case p.selector.preferLeader1():
		p.bipInsert(block, victimTouch, now)
	default:
		p.mruInsert(block, now)
	}
}

func (p *dipPolicy) bipInsert(
	block *tagging.Block,
	victimTouch, now uint64,
) {
	if p.bip.take() {
		p.mruInsert(block, now)
		return
	}

	lruInsert(block, victimTouch)
}

func (p *dipPolicy) OnMiss(setID uint32) {
	// A miss in a leader set is a vote against that leader's flavor.
	if isLeader0(setID) {
		p.selector.inc()
	} else if isLeader1(setID) {
		p.selector.dec()
	}
}

type drripPolicy struct {
	finder   *tagging.RRIPVictimFinder
	selector psel
	bip      bipCounter
}

func (p *drripPolicy) Victim(set *tagging.Set) *tagging.Block {
	return p.finder.FindVictim(set)
}

func (p *drripPolicy) OnHit(block *tagging.Block, now uint64) {
	block.RRPV = 0
}

func (p *drripPolicy) OnFill(
	block *tagging.Block,
	lineAddr uint32,
	victimTouch, now uint64,
) {
	setID := uint32(block.SetID)

	switch {
	case isLeader0(setID):
		p.srripInsert(block)
	case isLeader1(setID):
		p.brripInsert(block)
	case p.selector.preferLeader1():
		p.brripInsert(block)
	default:
		p.srripInsert(block)
	}
}

func (p *drripPolicy) srripInsert(block *tagging.Block) {
	block.RRPV = tagging.RRPVMax - 1
}

func (p *drripPolicy) brripInsert(block *tagging.Block) {
	if p.bip.take() {
		block.RRPV = tagging.RRPVMax - 1
		return
	}

	block.RRPV = tagging.RRPVMax
}

func (p *drripPolicy) OnMiss(setID uint32) {
	if isLeader0(setID) {
		p.selector.inc()
	} else if isLeader1(setID) {
		p.selector.dec()
	}
}

func (p *drripPolicy) OnEvict(lineAddr uint32) {}

type eafPolicy struct {
	lruPolicy

	filter  *evictedAddressFilter
	bip     bipCounter
	evicted uint32
	clearAt uint32
}

func (p *eafPolicy) OnFill(
	block *tagging.Block,
	lineAddr uint32,
	victimTouch, now uint64,
) {
	// A line that was evicted recently is likely to be reused: protect
	// it at MRU. Everything else takes the BIP position.
	if p.filter.Test(lineAddr) {
		p.mruInsert(block, now)
		return
	}

	if p.bip.take() {
		p.mruInsert(block, now)
		return
	}

	lruInsert(block, victimTouch)
}

func (p *eafPolicy) OnEvict(lineAddr uint32) {
	p.filter.Insert(lineAddr)

	p.evicted++
	if p.evicted >= p.clearAt {
		p.filter.Clear()
		p.evicted = 0
	}
}
