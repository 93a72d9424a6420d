// Package l1 implements the per-core L1 caches. An L1 is blocking: it
// owns a single pending slot and stalls the pipeline stage behind it
// until the slot's fill arrives.
package l1

import (
	"log"
	"math"

	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/internal/mshr"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
	"github.com/sarchlab/mipsim/mem/cache/l2"
)

// waitForFill marks a pending slot whose latency is unknown until the
// L2 MSHR completes.
const waitForFill = uint64(math.MaxUint64)

// A Snooper is a peer L1 probed on misses.
type Snooper interface {
	// ProbeCoherence services a coherence probe. A write request
	// invalidates the local copy; a read downgrades it to Shared. The
	// line bytes are returned whenever the line was present;
	// wasModified reports that they are the only up-to-date copy.
	ProbeCoherence(addr uint32, isWriteReq bool) (
		present, wasModified bool, data []byte)

	// PendingConflict reports whether this L1 has a pending miss on
	// lineAddr that conflicts with an access, i.e. either side writes.
	PendingConflict(lineAddr uint32, isWrite bool) bool
}

type pendingSlot struct {
	valid      bool
	lineAddr   uint32
	readyCycle uint64
	isWrite    bool
	target     tagging.MESIState
	data       []byte
	hasData    bool
	mshrIdx    int
}

// Stats counts L1 outcomes.
type Stats struct {
	Hits          uint64
	Misses        uint64
	UpgradeMisses uint64
	SnoopFills    uint64
	Stalls        uint64
}

// Comp is one L1 cache, I or D side of one core.
type Comp struct {
	name     string
	coreID   int
	isICache bool

	array *cache.Array
	l2    *l2.Comp
	peers []Snooper

	armLatency uint64
	pending    pendingSlot

	Stats Stats
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}

// SetPeers wires the L1s of the other cores for snooping.
func (c *Comp) SetPeers(peers []Snooper) {
	c.peers = peers
}

// Array exposes the cache array for probing.
func (c *Comp) Array() *cache.Array {
	return c.array
}

// HasPending reports whether the single pending slot is armed.
func (c *Comp) HasPending() bool {
	return c.pending.valid
}

func (c *Comp) token(isWrite bool) mshr.WakeToken {
	return mshr.WakeToken{
		CoreID:   c.coreID,
		IsICache: c.isICache,
		IsWrite:  isWrite,
	}
}

// Read services a load (or a fetch, on the I side).
func (c *Comp) Read(addr uint32, now uint64) mem.AccessResult {
	return c.access(addr, false, 0, now)
}

// Write services a store. The word is applied to the L1 line on the
// cycle the access finally hits.
func (c *Comp) Write(addr, value uint32, now uint64) mem.AccessResult {
	return c.access(addr, true, value, now)
}

func (c *Comp) access(
	addr uint32,
	isWrite bool,
	value uint32,
	now uint64,
) mem.AccessResult {
	lineAddr := c.array.Tags().LineAddr(addr)

	if c.pending.valid {
		if c.pending.lineAddr != lineAddr || now < c.pending.readyCycle {
			c.Stats.Stalls++
			return mem.Pending()
		}

		c.consumeFill(now)
	}

	if res, ok := c.probe(addr, isWrite, value, now); ok {
		return res
	}

	return c.miss(addr, isWrite, now)
}

// probe checks for a hit. A write to a Shared line is an upgrade miss
// and falls through to the miss path.
func (c *Comp) probe(
	addr uint32,
	isWrite bool,
	value uint32,
	now uint64,
) (mem.AccessResult, bool) {
	block := c.array.Probe(addr)
	if block == nil {
		return mem.AccessResult{}, false
	}

	offset := c.array.Tags().Offset(addr)

	if !isWrite {
		c.array.Touch(block, now)
		c.Stats.Hits++

		return mem.Hit(mem.WordFromBytes(block.Data, offset)), true
	}

	if block.State == tagging.Modified || block.State == tagging.Exclusive {
		c.array.Touch(block, now)
		block.State = tagging.Modified
		block.Dirty = true
		mem.PutWord(block.Data, offset, value)
		c.Stats.Hits++

		return mem.Hit(value), true
	}

	// Shared: the write needs exclusive ownership first.
	c.Stats.UpgradeMisses++

	return mem.AccessResult{}, false
}

func (c *Comp) miss(addr uint32, isWrite bool, now uint64) mem.AccessResult {
	lineAddr := c.array.Tags().LineAddr(addr)
	c.Stats.Misses++

	// A conflicting miss in flight on another core serializes writes:
	// stall until it drains.
	for _, peer := range c.peers {
		if peer.PendingConflict(lineAddr, isWrite) {
			c.Stats.Stalls++
			return mem.Pending()
		}
	}

	if res, ok := c.snoop(lineAddr, isWrite, now); ok {
		return res
	}

	// A write cannot join a read miss in flight (or vice versa); wait
	// for the covering MSHR to drain.
	if idx := c.l2.MSHRs().Lookup(lineAddr); idx >= 0 {
		entry := c.l2.MSHRs().Entry(idx)
		if entry.IsWrite || isWrite {
			c.Stats.Stalls++
			return mem.Pending()
		}
	}

	status, mshrIdx, data := c.l2.Access(
		addr, isWrite, c.token(isWrite), now)

	switch status {
	case l2.Busy:
		c.Stats.Stalls++
		return mem.Pending()

	case l2.Hit:
		penalty := c.armLatency + c.l2.HitLatency()
		target := tagging.Exclusive
		if isWrite {
			target = tagging.Modified
		}

		c.arm(lineAddr, isWrite, target, now+penalty, data, -1)

		return mem.MissWithPenalty(penalty)

	default: // l2.Miss
		target := tagging.Exclusive
		if isWrite {
			target = tagging.Modified
		}

		c.arm(lineAddr, isWrite, target, waitForFill, nil, mshrIdx)

		return mem.Pending()
	}
}

// snoop probes the other cores' L1s. Finding the line there avoids the
// L2 entirely: the slot arms with the short snoop-transfer latency.
func (c *Comp) snoop(
	lineAddr uint32,
	isWrite bool,
	now uint64,
) (mem.AccessResult, bool) {
	found := false
	var lineData []byte

	for _, peer := range c.peers {
		present, wasModified, data := peer.ProbeCoherence(lineAddr, isWrite)
		if !present {
			continue
		}

		found = true
		lineData = data

		if wasModified {
			// The peer held the only up-to-date copy; it goes to
			// memory now, bypassing the L2.
			c.l2.WritebackToDRAM(lineAddr, data, now)
		}
	}

	if !found {
		return mem.AccessResult{}, false
	}

	c.Stats.SnoopFills++

	target := tagging.Shared
	if isWrite {
		target = tagging.Modified
	}

	c.arm(lineAddr, isWrite, target, now+c.armLatency, lineData, -1)

	return mem.MissWithPenalty(c.armLatency), true
}

func (c *Comp) arm(
	lineAddr uint32,
	isWrite bool,
	target tagging.MESIState,
	readyCycle uint64,
	data []byte,
	mshrIdx int,
) {
	c.pending = pendingSlot{
		valid:      true,
		lineAddr:   lineAddr,
		readyCycle: readyCycle,
		isWrite:    isWrite,
		target:     target,
		mshrIdx:    mshrIdx,
	}

	if data != nil {
		c.pending.data = append([]byte(nil), data...)
		c.pending.hasData = true
	}
}

// consumeFill installs the pending line and releases the slot.
func (c *Comp) consumeFill(now uint64) {
	if !c.pending.hasData {
		log.Panicf("%s: consuming a fill without data", c.name)
	}

	block, evicted := c.array.Install(c.pending.lineAddr, c.pending.data, now)
	block.State = c.pending.target
	block.Dirty = c.pending.target == tagging.Modified

	c.pending = pendingSlot{}

	if evicted.Valid {
		if evicted.Dirty || c.l2.Inclusion() == l2.Exclusive {
			// Dirty victims always go to the L2; in exclusive mode
			// clean victims do too (victim-cache behavior).
			c.l2.HandleL1Writeback(
				evicted.Addr, evicted.Data, evicted.Dirty, now)
		}
	}
}

// Fill delivers a completed L2 miss. The slot becomes consumable on
// the same cycle.
func (c *Comp) Fill(addr uint32, state tagging.MESIState, data []byte) {
	if !c.pending.valid || c.pending.lineAddr != addr {
		return
	}

	c.pending.target = state
	c.pending.data = append(c.pending.data[:0], data...)
	c.pending.hasData = true
	c.pending.readyCycle = 0
	c.pending.mshrIdx = -1
}

// InvalidateCollect serves L2 back-invalidation.
func (c *Comp) InvalidateCollect(addr uint32) (
	present, wasModified bool, data []byte,
) {
	block := c.array.Probe(addr)
	if block == nil {
		return false, false, nil
	}

	wasModified = block.State == tagging.Modified
	if wasModified {
		data = append([]byte(nil), block.Data...)
	}

	c.array.Invalidate(addr)

	return true, wasModified, data
}

// ProbeCoherence implements Snooper for the peer L1s.
func (c *Comp) ProbeCoherence(addr uint32, isWriteReq bool) (
	present, wasModified bool, data []byte,
) {
	block := c.array.Probe(addr)
	if block == nil {
		return false, false, nil
	}

	wasModified = block.State == tagging.Modified
	data = append([]byte(nil), block.Data...)

	if isWriteReq {
		block.State = tagging.Invalid
		block.Dirty = false
	} else if block.State == tagging.Modified ||
		block.State == tagging.Exclusive {
		// The probing core joins as a sharer; the writeback, if any,
		// is the prober's responsibility.
		block.State = tagging.Shared
		block.Dirty = false
	}

	return true, wasModified, data
}

// PendingConflict implements Snooper.
func (c *Comp) PendingConflict(lineAddr uint32, isWrite bool) bool {
	if !c.pending.valid || c.pending.lineAddr != lineAddr {
		return false
	}

	return c.pending.isWrite || isWrite
}

// SquashPending releases the pending slot on a pipeline squash. The
// L2-side miss, if any, keeps running; its fill is discarded unless
// other waiters remain coalesced on it.
func (c *Comp) SquashPending() {
	if !c.pending.valid {
		return
	}

	if c.pending.mshrIdx >= 0 {
		c.l2.MSHRs().RemoveWaiter(c.pending.mshrIdx, c.token(c.pending.isWrite))
	}

	c.pending = pendingSlot{}
}
