// Package sim assembles the memory hierarchy and drives it one cycle
// at a time. The Simulator owns every component; there is no global
// state.
package sim

import (
	"fmt"

	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache"
	"github.com/sarchlab/mipsim/mem/cache/l1"
	"github.com/sarchlab/mipsim/mem/cache/l2"
	"github.com/sarchlab/mipsim/mem/dram"
)

// Slot names the two pipeline slots that can hold a pending miss.
type Slot int

// The pipeline slots.
const (
	SlotFetch Slot = iota
	SlotMem
)

// A Core bundles the private caches of one simulated core.
type Core struct {
	ICache *l1.Comp
	DCache *l1.Comp
}

// A Simulator owns the whole memory hierarchy.
type Simulator struct {
	now uint64

	storage *mem.Storage
	dram    *dram.Comp
	l2      *l2.Comp
	cores   []*Core
}

// Now returns the current cycle.
func (s *Simulator) Now() uint64 {
	return s.now
}

// Storage returns the backing store.
func (s *Simulator) Storage() *mem.Storage {
	return s.storage
}

// DRAM returns the memory controller.
func (s *Simulator) DRAM() *dram.Comp {
	return s.dram
}

// L2 returns the shared L2 cache.
func (s *Simulator) L2() *l2.Comp {
	return s.l2
}

// NumCores returns the core count.
func (s *Simulator) NumCores() int {
	return len(s.cores)
}

// Core returns the caches of one core.
func (s *Simulator) Core(id int) *Core {
	return s.cores[id]
}

// Tick advances the hierarchy one cycle. Sub-ticks run in a fixed
// order: the DRAM controller retires and schedules, then the MSHRs and
// L2 queues advance, which delivers fills to the L1 slots. Pipeline
// stages issue their accesses after Tick returns, at the new cycle.
func (s *Simulator) Tick() {
	s.now++

	s.dram.Tick(s.now)
	s.l2.Tick(s.now)
}

// Fetch services an instruction fetch for the pipeline.
func (s *Simulator) Fetch(core int, pc uint32) mem.AccessResult {
	return s.cores[core].ICache.Read(pc, s.now)
}

// Load services a data read.
func (s *Simulator) Load(core int, addr uint32) mem.AccessResult {
	return s.cores[core].DCache.Read(addr, s.now)
}

// Store services a data write.
func (s *Simulator) Store(core int, addr, value uint32) mem.AccessResult {
	return s.cores[core].DCache.Write(addr, value, s.now)
}

// FreePending squashes the pending miss of one pipeline slot, as on a
// branch recovery or a syscall halt. The in-flight DRAM request is not
// cancelled; its completion is discarded.
func (s *Simulator) FreePending(core int, slot Slot) {
	if slot == SlotFetch {
		s.cores[core].ICache.SquashPending()
		return
	}

	s.cores[core].DCache.SquashPending()
}

// CheckInvariants verifies the structural invariants of the hierarchy.
// It is meant for tests; a violation indicates a simulator bug, never
// a workload property.
func (s *Simulator) CheckInvariants() error {
	if err := s.checkCoherence(); err != nil {
		return err
	}

	return s.checkInclusion()
}

type l1Line struct {
	core   int
	icache bool
	state  cache.MESIState
}

func (s *Simulator) l1Holders(collect func(lineAddr uint32, line l1Line)) {
	for coreID, core := range s.cores {
		for _, side := range []struct {
			comp   *l1.Comp
			icache bool
		}{{core.ICache, true}, {core.DCache, false}} {
			tags := side.comp.Array().Tags()
			for set := uint32(0); set < tags.NumSets(); set++ {
				blockSet, _ := tags.GetSet(set * tags.BlockSize())
				for _, block := range blockSet.Blocks {
					if block.State == cache.Invalid {
						continue
					}

					collect(tags.BlockAddr(block), l1Line{
						core:   coreID,
						icache: side.icache,
						state:  block.State,
					})
				}
			}
		}
	}
}

func (s *Simulator) checkCoherence() error {
	holders := map[uint32][]l1Line{}
	s.l1Holders(func(lineAddr uint32, line l1Line) {
		holders[lineAddr] = append(holders[lineAddr], line)
	})

	for lineAddr, lines := range holders {
		owners := 0
		hasModified := false
		for _, line := range lines {
			if line.state == cache.Modified || line.state == cache.Exclusive {
				owners++
			}
			if line.state == cache.Modified {
				hasModified = true
			}
		}

		if owners > 1 {
			return fmt.Errorf(
				"line 0x%08x is owned by %d caches", lineAddr, owners)
		}

		if hasModified && len(lines) > 1 {
			return fmt.Errorf(
				"line 0x%08x is Modified with %d holders", lineAddr, len(lines))
		}
	}

	return nil
}

func (s *Simulator) checkInclusion() error {
	switch s.l2.Inclusion() {
	case l2.Inclusive:
		var err error
		s.l1Holders(func(lineAddr uint32, line l1Line) {
			if err == nil && s.l2.Array().Probe(lineAddr) == nil {
				err = fmt.Errorf(
					"line 0x%08x in an L1 but not in the inclusive L2",
					lineAddr)
			}
		})
		return err

	case l2.Exclusive:
		var err error
		s.l1Holders(func(lineAddr uint32, line l1Line) {
			if err == nil && s.l2.Array().Probe(lineAddr) != nil {
				err = fmt.Errorf(
					"line 0x%08x in both an L1 and the exclusive L2",
					lineAddr)
			}
		})
		return err
	}

	return nil
}
