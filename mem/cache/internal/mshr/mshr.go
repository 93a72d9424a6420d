// Package mshr tracks the outstanding misses of the shared L2 cache.
package mshr

import (
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

// State is the stage an outstanding miss is in.
type State int

// The miss lifecycle. WaitSend models the L2-to-memory send delay,
// WaitDram waits for the controller's completion callback, WaitFill
// models the memory-to-L2 fill delay, and Ready holds the line until
// the L2 consumes it.
const (
	WaitSend State = iota
	WaitDram
	WaitFill
	Ready
)

func (s State) String() string {
	switch s {
	case WaitSend:
		return "WaitSend"
	case WaitDram:
		return "WaitDram"
	case WaitFill:
		return "WaitFill"
	case Ready:
		return "Ready"
	}

	return "?"
}

// A WakeToken identifies one pipeline waiter to wake when the fill is
// ready: the L1 of one core, I or D side.
type WakeToken struct {
	CoreID   int
	IsICache bool
	IsWrite  bool
}

// An Entry records one outstanding miss and its coalesced waiters.
type Entry struct {
	Valid           bool
	LineAddr        uint32
	State           State
	AllocCycle      uint64
	CompletionCycle uint64
	Data            []byte
	IsWrite         bool
	IsInstFetch     bool
	RequesterCore   int
	Waiters         []WakeToken
	TargetState     tagging.MESIState
}

// A LineSource supplies line bytes when a fill completes.
type LineSource interface {
	ReadLine(lineAddr uint32) []byte
}

// A Table is a fixed-size array of MSHR entries.
type Table struct {
	entries     []Entry
	lineSize    uint32
	sendLatency uint64
	fillLatency uint64
}

// NewTable creates a table of capacity entries for lineSize-byte lines.
// sendLatency is the L2-to-memory delay charged before the DRAM request
// is issued; fillLatency is the memory-to-L2 delay charged after DRAM
// completes.
func NewTable(
	capacity int,
	lineSize uint32,
	sendLatency, fillLatency uint64,
) *Table {
	t := &Table{
		entries:     make([]Entry, capacity),
		lineSize:    lineSize,
		sendLatency: sendLatency,
		fillLatency: fillLatency,
	}

	for i := range t.entries {
		t.entries[i].Data = make([]byte, lineSize)
	}

	return t
}

// Capacity returns the number of entries in the table.
func (t *Table) Capacity() int {
	return len(t.entries)
}

// Lookup returns the index of the valid entry holding lineAddr, or -1.
func (t *Table) Lookup(lineAddr uint32) int {
	lineAddr &^= t.lineSize - 1

	for i := range t.entries {
		if t.entries[i].Valid && t.entries[i].LineAddr == lineAddr {
			return i
		}
	}

	return -1
}

// HasFree reports whether an entry can be allocated.
func (t *Table) HasFree() bool {
	for i := range t.entries {
		if !t.entries[i].Valid {
			return true
		}
	}

	return false
}

// Occupied returns the number of valid entries.
func (t *Table) Occupied() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Valid {
			n++
		}
	}

	return n
}

// Allocate claims a free entry for a new miss. It fails if the table is
// full or if a valid entry already covers lineAddr; the caller must
// coalesce or stall in those cases.
func (t *Table) Allocate(
	lineAddr uint32,
	isWrite, isFetch bool,
	requester WakeToken,
	now uint64,
) (int, bool) {
	lineAddr &^= t.lineSize - 1

	if t.Lookup(lineAddr) >= 0 {
		return -1, false
	}

	for i := range t.entries {
		e := &t.entries[i]
		if e.Valid {
			continue
		}

		e.Valid = true
		e.LineAddr = lineAddr
		e.State = WaitSend
		e.AllocCycle = now
		e.CompletionCycle = now + t.sendLatency
		e.IsWrite = isWrite
		e.IsInstFetch = isFetch
		e.RequesterCore = requester.CoreID
		e.Waiters = append(e.Waiters[:0], requester)
		e.TargetState = tagging.Exclusive
		if isWrite {
			e.TargetState = tagging.Modified
		}

		return i, true
	}

	return -1, false
}

// Coalesce attaches a waiter to the valid entry covering lineAddr, if
// one exists in a non-terminal state.
func (t *Table) Coalesce(lineAddr uint32, waiter WakeToken) (int, bool) {
	idx := t.Lookup(lineAddr)
	if idx < 0 {
		return -1, false
	}

	e := &t.entries[idx]
	if e.State == Ready {
		return -1, false
	}

	e.Waiters = append(e.Waiters, waiter)

	return idx, true
}

// Tick advances the staged state machine. The WaitSend expiry does not
// itself issue the DRAM request; the L2's request queue expires on the
// same cycle and performs the enqueue.
func (t *Table) Tick(now uint64, src LineSource) {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.Valid {
			continue
		}

		switch e.State {
		case WaitSend:
			if now >= e.CompletionCycle {
				e.State = WaitDram
			}
		case WaitDram:
			// Waiting for OnDRAMComplete.
		case WaitFill:
			// A stale pending fill completes as soon as observed.
			if now >= e.CompletionCycle {
				copy(e.Data, src.ReadLine(e.LineAddr))
				e.State = Ready
			}
		case Ready:
		}
	}
}

// OnDRAMComplete moves every entry waiting on lineAddr from WaitDram to
// WaitFill.
func (t *Table) OnDRAMComplete(lineAddr uint32, now uint64) {
	lineAddr &^= t.lineSize - 1

	for i := range t.entries {
		e := &t.entries[i]
		if e.Valid && e.LineAddr == lineAddr && e.State == WaitDram {
			e.State = WaitFill
			e.CompletionCycle = now + t.fillLatency
		}
	}
}

// Entry returns the entry at index, or nil if it is free.
func (t *Table) Entry(index int) *Entry {
	if index < 0 || index >= len(t.entries) || !t.entries[index].Valid {
		return nil
	}

	return &t.entries[index]
}

// IsReady reports whether the entry at index holds a completed fill.
func (t *Table) IsReady(index int) bool {
	e := t.Entry(index)
	return e != nil && e.State == Ready
}

// Free invalidates the entry at index. Waiters that have not consumed
// the fill are dropped; an in-flight DRAM request is not cancelled and
// its completion will find no entry to fill.
func (t *Table) Free(index int) {
	if index < 0 || index >= len(t.entries) {
		return
	}

	t.entries[index].Valid = false
	t.entries[index].Waiters = t.entries[index].Waiters[:0]
}

// RemoveWaiter detaches one waiter from the entry at index, leaving the
// miss in flight for the remaining waiters. It frees the entry if the
// detached waiter was the last one.
func (t *Table) RemoveWaiter(index int, waiter WakeToken) {
	e := t.Entry(index)
	if e == nil {
		return
	}

	kept := e.Waiters[:0]
	for _, w := range e.Waiters {
		if w != waiter {
			kept = append(kept, w)
		}
	}
	e.Waiters = kept

	if len(e.Waiters) == 0 {
		t.Free(index)
	}
}
