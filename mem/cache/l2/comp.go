// Package l2 implements the shared L2 cache: the cache array combined
// with the MSHR table, the L2-to-memory delay queues, and the
// inclusion machinery that keeps the L1s consistent.
package l2

import (
	"fmt"
	"log"

	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/internal/mshr"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
	"github.com/sarchlab/mipsim/mem/dram"
)

// InclusionPolicy relates the L2's contents to the L1s'.
type InclusionPolicy int

// The supported inclusion policies.
const (
	// Inclusive: every L1 line is present in L2. Evicting an L2 line
	// back-invalidates all L1 copies.
	Inclusive InclusionPolicy = iota

	// Exclusive: L2 is a victim cache. An L2 hit moves the line to the
	// L1 and invalidates the L2 copy; L1 evictions always push back.
	Exclusive

	// NINE: non-inclusive, non-exclusive. No containment is enforced.
	NINE
)

func (p InclusionPolicy) String() string {
	switch p {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	case NINE:
		return "nine"
	}

	return "?"
}

// ParseInclusionPolicy converts a policy name.
func ParseInclusionPolicy(name string) (InclusionPolicy, error) {
	switch name {
	case "inclusive":
		return Inclusive, nil
	case "exclusive":
		return Exclusive, nil
	case "nine", "NINE":
		return NINE, nil
	}

	return 0, fmt.Errorf("unknown inclusion policy %q", name)
}

// Status is the result of an L2 access.
type Status int

// The access outcomes. Busy means no MSHR could serve the miss; the
// caller stalls and retries.
const (
	Busy Status = iota
	Hit
	Miss
)

// A RequestSink accepts memory requests. The DRAM controller
// implements it.
type RequestSink interface {
	Enqueue(addr uint32, isWrite bool, source dram.Source, now uint64)
}

// An L1 is one per-core cache the L2 can fill or back-invalidate,
// identified by the core id and I/D side it was registered with.
type L1 interface {
	// Fill delivers a completed miss. The L1 consumes it only if its
	// pending slot covers addr.
	Fill(addr uint32, state tagging.MESIState, data []byte)

	// InvalidateCollect drops the L1's copy of the line, reporting
	// whether it was present and returning the bytes of a Modified
	// copy.
	InvalidateCollect(addr uint32) (present, wasModified bool, data []byte)
}

type registeredL1 struct {
	coreID   int
	isICache bool
	l1       L1
}

type reqItem struct {
	addr       uint32
	isWrite    bool
	isFetch    bool
	readyCycle uint64
}

type retItem struct {
	addr       uint32
	readyCycle uint64
}

// Stats counts L2 outcomes.
type Stats struct {
	Hits              uint64
	Misses            uint64
	Coalesced         uint64
	BusyStalls        uint64
	Writebacks        uint64
	BackInvalidations uint64
	MSHRHighWater     int
}

// Comp is the shared L2 cache.
type Comp struct {
	name string

	array     *cache.Array
	mshrs     *mshr.Table
	inclusion InclusionPolicy
	storage   *mem.Storage
	dram      RequestSink

	l1s []registeredL1

	reqQueue []reqItem
	retQueue []retItem

	sendLatency uint64
	fillLatency uint64
	hitLatency  uint64

	Stats Stats
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}

// HitLatency is the extra delay an L1 charges for a fill served from
// an L2 hit.
func (c *Comp) HitLatency() uint64 {
	return c.hitLatency
}

// Inclusion returns the configured inclusion policy.
func (c *Comp) Inclusion() InclusionPolicy {
	return c.inclusion
}

// MSHRs exposes the MSHR table. The L1s peek it to detect lines with
// an in-flight miss; tests use it to check invariants.
func (c *Comp) MSHRs() *mshr.Table {
	return c.mshrs
}

// Array exposes the cache array for probing.
func (c *Comp) Array() *cache.Array {
	return c.array
}

// RegisterL1 wires one L1 for fills, snoops, and back-invalidation.
func (c *Comp) RegisterL1(coreID int, isICache bool, l1 L1) {
	c.l1s = append(c.l1s, registeredL1{
		coreID:   coreID,
		isICache: isICache,
		l1:       l1,
	})
}

// ReadLine pulls a line from the backing store. It serves the MSHR
// fill stage.
func (c *Comp) ReadLine(lineAddr uint32) []byte {
	size := uint64(c.array.Tags().BlockSize())

	data, err := c.storage.Read(uint64(lineAddr), size)
	if err != nil {
		log.Panicf("%s: %v", c.name, err)
	}

	return data
}

// Access probes the L2 for one L1 miss. A free or covering MSHR is a
// prerequisite; without one the access is Busy and the L1 retries.
// On a hit the returned bytes are a copy of the line. On a miss the
// returned index identifies the MSHR that will complete the fill.
func (c *Comp) Access(
	addr uint32,
	isWrite bool,
	requester mshr.WakeToken,
	now uint64,
) (Status, int, []byte) {
	lineAddr := c.array.Tags().LineAddr(addr)
	pending := c.mshrs.Lookup(lineAddr)

	if pending < 0 && !c.mshrs.HasFree() {
		c.Stats.BusyStalls++
		return Busy, -1, nil
	}

	if block := c.array.Probe(addr); block != nil {
		return c.hit(block, isWrite, now)
	}

	c.array.RecordMiss(addr)

	if pending >= 0 {
		idx, ok := c.mshrs.Coalesce(lineAddr, requester)
		if !ok {
			// The covering entry is already Ready; it completes this
			// cycle, so the L1 simply retries.
			c.Stats.BusyStalls++
			return Busy, -1, nil
		}

		c.Stats.Coalesced++

		return Miss, idx, nil
	}

	idx, ok := c.mshrs.Allocate(
		lineAddr, isWrite, requester.IsICache, requester, now)
	if !ok {
		log.Panicf("%s: MSHR allocation failed with a free slot", c.name)
	}

	c.Stats.Misses++
	if occupied := c.mshrs.Occupied(); occupied > c.Stats.MSHRHighWater {
		c.Stats.MSHRHighWater = occupied
	}

	c.reqQueue = append(c.reqQueue, reqItem{
		addr:       lineAddr,
		isWrite:    isWrite,
		isFetch:    requester.IsICache,
		readyCycle: now + c.sendLatency,
	})

	return Miss, idx, nil
}

func (c *Comp) hit(
	block *tagging.Block,
	isWrite bool,
	now uint64,
) (Status, int, []byte) {
	c.Stats.Hits++
	c.array.Touch(block, now)

	data := make([]byte, len(block.Data))
	copy(data, block.Data)

	// On a write the dirty copy lives in the L1 from here on; the L2
	// line stays clean until the L1 victim comes back.

	if c.inclusion == Exclusive {
		// The line moves to the L1; drop the L2 copy.
		block.State = tagging.Invalid
		block.Dirty = false
	}

	return Hit, -1, data
}

// Tick advances the MSHR state machine and the two delay queues.
func (c *Comp) Tick(now uint64) {
	c.mshrs.Tick(now, c)
	c.drainReqQueue(now)
	c.drainRetQueue(now)
}

func (c *Comp) drainReqQueue(now uint64) {
	kept := c.reqQueue[:0]
	for _, item := range c.reqQueue {
		if now < item.readyCycle {
			kept = append(kept, item)
			continue
		}

		source := dram.SourceMemory
		if item.isFetch {
			source = dram.SourceFetch
		}

		c.dram.Enqueue(item.addr, item.isWrite, source, now)
	}

	c.reqQueue = kept
}

func (c *Comp) drainRetQueue(now uint64) {
	kept := c.retQueue[:0]
	for _, item := range c.retQueue {
		if now < item.readyCycle {
			kept = append(kept, item)
			continue
		}

		c.completeMSHR(item.addr, now)
	}

	c.retQueue = kept
}

// OnDRAMComplete receives retired DRAM requests. Read fills head for
// the return queue; writeback completions have no MSHR and fall
// through silently.
func (c *Comp) OnDRAMComplete(addr uint32, now uint64) {
	lineAddr := c.array.Tags().LineAddr(addr)

	if c.mshrs.Lookup(lineAddr) < 0 {
		return
	}

	c.mshrs.OnDRAMComplete(lineAddr, now)
	c.retQueue = append(c.retQueue, retItem{
		addr:       lineAddr,
		readyCycle: now + c.fillLatency,
	})
}

// completeMSHR installs a finished fill and wakes the waiters. A fill
// whose MSHR was freed by a squash is discarded.
func (c *Comp) completeMSHR(lineAddr uint32, now uint64) {
	idx := c.mshrs.Lookup(lineAddr)
	if idx < 0 || !c.mshrs.IsReady(idx) {
		return
	}

	entry := c.mshrs.Entry(idx)

	// In exclusive mode the fill goes straight to the L1; lines enter
	// the L2 only as L1 victims.
	if c.inclusion != Exclusive {
		_, evicted := c.array.Install(lineAddr, entry.Data, now)
		c.handleEviction(evicted, now)
	}

	waiters := entry.Waiters
	shared := len(waiters) > 1

	for _, w := range waiters {
		state := tagging.Exclusive
		switch {
		case w.IsWrite:
			state = tagging.Modified
		case shared:
			state = tagging.Shared
		}

		if target := c.findL1(w.CoreID, w.IsICache); target != nil {
			target.Fill(lineAddr, state, entry.Data)
		}
	}

	c.mshrs.Free(idx)
}

func (c *Comp) findL1(coreID int, isICache bool) L1 {
	for _, r := range c.l1s {
		if r.coreID == coreID && r.isICache == isICache {
			return r.l1
		}
	}

	return nil
}

// handleEviction writes back a dirty victim and, in inclusive mode,
// back-invalidates the L1 copies of the victim line.
func (c *Comp) handleEviction(evicted cache.EvictedLine, now uint64) {
	if !evicted.Valid {
		return
	}

	if c.inclusion == Inclusive {
		c.backInvalidate(evicted.Addr, now)
	}

	if evicted.Dirty {
		c.writeToMemory(evicted.Addr, evicted.Data, now)
		c.Stats.Writebacks++
	}
}

// backInvalidate drops every L1 copy of the line. A Modified copy is
// written to memory directly, bypassing L2 allocation: the L2 is
// evicting this line, so there is nowhere else for the data to live.
func (c *Comp) backInvalidate(lineAddr uint32, now uint64) {
	for _, r := range c.l1s {
		present, wasModified, data := r.l1.InvalidateCollect(lineAddr)
		if !present {
			continue
		}

		c.Stats.BackInvalidations++

		if wasModified {
			c.writeToMemory(lineAddr, data, now)
		}
	}
}

// HandleL1Writeback accepts an evicted L1 line. Dirty victims install
// as a write; in exclusive mode clean victims install too.
func (c *Comp) HandleL1Writeback(
	addr uint32,
	data []byte,
	dirty bool,
	now uint64,
) {
	lineAddr := c.array.Tags().LineAddr(addr)

	if block := c.array.Probe(lineAddr); block != nil {
		copy(block.Data, data)
		block.Dirty = block.Dirty || dirty
		c.array.Touch(block, now)

		return
	}

	block, evicted := c.array.Install(lineAddr, data, now)
	block.Dirty = dirty

	c.handleEviction(evicted, now)
}

// WritebackToDRAM writes a line to memory on behalf of an L1 snoop
// that caught a Modified peer. The store is functionally immediate;
// the request models the timing.
func (c *Comp) WritebackToDRAM(addr uint32, data []byte, now uint64) {
	lineAddr := c.array.Tags().LineAddr(addr)
	c.writeToMemory(lineAddr, data, now)
}

func (c *Comp) writeToMemory(lineAddr uint32, data []byte, now uint64) {
	if err := c.storage.Write(uint64(lineAddr), data); err != nil {
		log.Panicf("%s: %v", c.name, err)
	}

	c.dram.Enqueue(lineAddr, true, dram.SourceMemory, now)
}
