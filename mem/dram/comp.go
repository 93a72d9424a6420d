// Package dram models a bank-interleaved DRAM controller with FR-FCFS
// scheduling and single command and data buses.
package dram

import (
	"log"

	"github.com/sarchlab/mipsim/mem/dram/internal/addressmapping"
	"github.com/sarchlab/mipsim/mem/dram/internal/org"
	"github.com/sarchlab/mipsim/mem/dram/internal/signal"
)

// Timing constants, in cycles.
const (
	// CmdBusOccupancy is how long each command holds the command bus.
	CmdBusOccupancy = 4

	// BankBusyDelay is how long a bank stays busy after each of PRE,
	// ACT, and RD/WR.
	BankBusyDelay = 100

	// DataDelay separates the RD/WR command from the start of the data
	// transfer.
	DataDelay = 100

	// DataBusOccupancy is how long the transfer holds the data bus.
	DataBusOccupancy = 50
)

// A CompletionSink receives retired requests.
type CompletionSink interface {
	OnDRAMComplete(addr uint32, now uint64)
}

// Stats counts scheduling outcomes.
type Stats struct {
	RowHits      uint64
	RowEmpties   uint64
	RowConflicts uint64
	Retired      uint64
}

// Comp is the DRAM controller. Requests enter a queue in arrival order; each
// cycle the controller retires finished requests and commits at most
// one new command sequence, picked by FR-FCFS priority.
type Comp struct {
	name string

	mapper addressmapping.Mapper
	banks  []org.Bank
	queue  []*signal.Request

	queueCap  int
	nextReqID uint64

	// Bus reservations are kept as the next cycle each bus is free.
	cmdBusFree  uint64
	dataBusFree uint64

	sink CompletionSink

	Stats Stats
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}

// SetCompletionSink wires the component notified on retirement.
func (c *Comp) SetCompletionSink(sink CompletionSink) {
	c.sink = sink
}

// Enqueue adds a request to the controller's queue. The bank and row
// are decoded immediately.
func (c *Comp) Enqueue(
	addr uint32,
	isWrite bool,
	source signal.Source,
	now uint64,
) {
	if len(c.queue) >= c.queueCap {
		log.Panicf("%s: request queue overflow at cycle %d", c.name, now)
	}

	req := &signal.Request{
		ID:           c.nextReqID,
		Addr:         addr,
		IsWrite:      isWrite,
		Source:       source,
		ArrivalCycle: now,
		BankID:       c.mapper.Bank(addr),
		RowIndex:     c.mapper.Row(addr),
	}
	c.nextReqID++

	c.queue = append(c.queue, req)
}

// PendingCount returns the number of queued requests.
func (c *Comp) PendingCount() int {
	return len(c.queue)
}

// Tick retires finished requests and commits at most one new command
// sequence.
func (c *Comp) Tick(now uint64) {
	c.retire(now)
	c.schedule(now)
}

func (c *Comp) retire(now uint64) {
	kept := c.queue[:0]
	for _, req := range c.queue {
		if req.Scheduled && req.CompletionCycle <= now {
			c.Stats.Retired++
			if c.sink != nil {
				c.sink.OnDRAMComplete(req.Addr, now)
			}
			continue
		}

		kept = append(kept, req)
	}

	c.queue = kept
}

func (c *Comp) schedule(now uint64) {
	var best *signal.Request

	for _, req := range c.queue {
		if req.Scheduled || !c.isSchedulable(req, now) {
			continue
		}

		if best == nil || c.beats(req, best) {
			best = req
		}
	}

	if best != nil {
		c.commit(best, now)
	}
}

// beats implements the FR-FCFS priority order: row hit, then arrival
// cycle, then memory stage over fetch. Queue order breaks full ties.
func (c *Comp) beats(req, best *signal.Request) bool {
	reqHit := c.rowState(req) == org.RowHit
	bestHit := c.rowState(best) == org.RowHit
	if reqHit != bestHit {
		return reqHit
	}

	if req.ArrivalCycle != best.ArrivalCycle {
		return req.ArrivalCycle < best.ArrivalCycle
	}

	if req.Source != best.Source {
		return req.Source == signal.SourceMemory
	}

	return false
}

func (c *Comp) rowState(req *signal.Request) org.RowState {
	return c.banks[req.BankID].StateFor(req.RowIndex)
}

// commandTiming returns the start of the last command of the sequence
// and the start of the data transfer, for a sequence issued at now.
func commandTiming(state org.RowState, now uint64) (lastCmd, dataStart uint64) {
	switch state {
	case org.RowHit:
		return now, now + DataDelay
	case org.RowEmpty:
		return now + BankBusyDelay, now + BankBusyDelay + DataDelay
	default: // RowConflict
		return now + 2*BankBusyDelay, now + 2*BankBusyDelay + DataDelay
	}
}

// isSchedulable checks the bank and both buses. The command windows of
// a sequence start at now, so checking the first window against the
// command bus covers the later ones as well.
func (c *Comp) isSchedulable(req *signal.Request, now uint64) bool {
	bank := &c.banks[req.BankID]
	if !bank.IsFree(now) {
		return false
	}

	if now < c.cmdBusFree {
		return false
	}

	_, dataStart := commandTiming(bank.StateFor(req.RowIndex), now)

	return dataStart >= c.dataBusFree
}

func (c *Comp) commit(req *signal.Request, now uint64) {
	bank := &c.banks[req.BankID]
	state := bank.StateFor(req.RowIndex)
	lastCmd, dataStart := commandTiming(state, now)

	switch state {
	case org.RowHit:
		c.Stats.RowHits++
	case org.RowEmpty:
		c.Stats.RowEmpties++
		bank.Activate(req.RowIndex)
	case org.RowConflict:
		c.Stats.RowConflicts++
		bank.Activate(req.RowIndex)
	}

	c.cmdBusFree = lastCmd + CmdBusOccupancy
	c.dataBusFree = dataStart + DataBusOccupancy
	bank.BusyUntil = dataStart

	req.Scheduled = true
	req.CompletionCycle = dataStart + DataBusOccupancy
}
