package l1

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mipsim/mem"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
	"github.com/sarchlab/mipsim/mem/cache/l2"
	"github.com/sarchlab/mipsim/mem/dram"
)

type sinkRequest struct {
	addr    uint32
	isWrite bool
	source  dram.Source
}

type fakeSink struct {
	requests []sinkRequest
}

func (s *fakeSink) Enqueue(
	addr uint32,
	isWrite bool,
	source dram.Source,
	now uint64,
) {
	s.requests = append(s.requests, sinkRequest{addr, isWrite, source})
}

var _ = Describe("Comp", func() {
	var (
		storage *mem.Storage
		sink    *fakeSink
		l2Cache *l2.Comp
		dcache  *Comp
	)

	BeforeEach(func() {
		storage = mem.NewStorage(1 << 21)
		sink = &fakeSink{}
		l2Cache = l2.MakeBuilder().
			WithGeometry(16, 4, 32).
			WithNumMSHRs(4).
			WithStorage(storage).
			WithDRAM(sink).
			Build("L2")
		dcache = MakeBuilder().
			WithCoreID(0).
			WithGeometry(4, 2, 32).
			WithL2(l2Cache).
			Build("Core0.L1D")
	})

	// completeMiss walks an outstanding L2 miss through DRAM completion
	// so the L1 fill is delivered.
	completeMiss := func(lineAddr uint32, allocCycle uint64) uint64 {
		l2Cache.Tick(allocCycle + 5)
		l2Cache.OnDRAMComplete(lineAddr, allocCycle+300)
		fillCycle := allocCycle + 305
		l2Cache.Tick(fillCycle)
		return fillCycle
	}

	It("should stall on a cold read and hit after the fill", func() {
		storage.WriteWord(0x1_0004, 0xDEAD_BEEF)

		res := dcache.Read(0x1_0004, 0)
		Expect(res.Kind).To(Equal(mem.AccessPending))

		fillCycle := completeMiss(0x1_0000, 0)

		res = dcache.Read(0x1_0004, fillCycle)
		Expect(res.Kind).To(Equal(mem.AccessHit))
		Expect(res.Word).To(Equal(uint32(0xDEAD_BEEF)))
	})

	It("should install a read fill as Exclusive", func() {
		dcache.Read(0x1_0000, 0)
		fillCycle := completeMiss(0x1_0000, 0)
		dcache.Read(0x1_0000, fillCycle)

		block := dcache.Array().Probe(0x1_0000)
		Expect(block).NotTo(BeNil())
		Expect(block.State).To(Equal(tagging.Exclusive))
		Expect(block.Dirty).To(BeFalse())
	})

	It("should apply a store once its fill arrives", func() {
		res := dcache.Write(0x1_0008, 0x5555_AAAA, 0)
		Expect(res.Kind).To(Equal(mem.AccessPending))

		fillCycle := completeMiss(0x1_0000, 0)

		res = dcache.Write(0x1_0008, 0x5555_AAAA, fillCycle)
		Expect(res.Kind).To(Equal(mem.AccessHit))

		block := dcache.Array().Probe(0x1_0000)
		Expect(block.State).To(Equal(tagging.Modified))
		Expect(block.Dirty).To(BeTrue())
		Expect(mem.WordFromBytes(block.Data, 8)).To(Equal(uint32(0x5555_AAAA)))

		res = dcache.Read(0x1_0008, fillCycle+1)
		Expect(res.Kind).To(Equal(mem.AccessHit))
		Expect(res.Word).To(Equal(uint32(0x5555_AAAA)))
	})

	It("should upgrade an Exclusive line on a write hit", func() {
		dcache.Read(0x1_0000, 0)
		fillCycle := completeMiss(0x1_0000, 0)
		dcache.Read(0x1_0000, fillCycle)

		res := dcache.Write(0x1_0000, 7, fillCycle+1)

		Expect(res.Kind).To(Equal(mem.AccessHit))
		Expect(dcache.Array().Probe(0x1_0000).State).To(Equal(tagging.Modified))
	})

	It("should treat a write to a Shared line as an upgrade miss", func() {
		block, _ := dcache.Array().Install(0x1_0000, make([]byte, 32), 0)
		block.State = tagging.Shared

		res := dcache.Write(0x1_0000, 7, 10)

		Expect(res.Kind).NotTo(Equal(mem.AccessHit))
		Expect(dcache.Stats.UpgradeMisses).To(Equal(uint64(1)))
	})

	It("should arm a known penalty on an L2 hit", func() {
		storage.WriteWord(0x1_0000, 0x0BAD_F00D)
		l2Cache.Array().Install(0x1_0000, storage.MustRead(0x1_0000, 32), 0)

		res := dcache.Read(0x1_0000, 10)

		Expect(res.Kind).To(Equal(mem.AccessMissWithPenalty))
		Expect(res.Cycles).To(Equal(uint64(20)))

		Expect(dcache.Read(0x1_0000, 29).Kind).To(Equal(mem.AccessPending))

		res = dcache.Read(0x1_0000, 30)
		Expect(res.Kind).To(Equal(mem.AccessHit))
		Expect(res.Word).To(Equal(uint32(0x0BAD_F00D)))
	})

	It("should stall while a different line is pending", func() {
		dcache.Read(0x1_0000, 0)

		res := dcache.Read(0x2_0000, 1)

		Expect(res.Kind).To(Equal(mem.AccessPending))
	})

	It("should push a dirty victim to the L2, not to memory", func() {
		// Write A, then force A's eviction by filling two more lines of
		// the same L1 set.
		dcache.Write(0x1_0000, 0x1111_2222, 0)
		cycle := completeMiss(0x1_0000, 0)
		dcache.Write(0x1_0000, 0x1111_2222, cycle)

		for i, addr := range []uint32{0x1_0080, 0x1_0100} {
			start := cycle + uint64(i+1)*1000
			dcache.Read(addr, start)
			fill := completeMiss(addr, start)
			dcache.Read(addr, fill)
		}

		block := l2Cache.Array().Probe(0x1_0000)
		Expect(block).NotTo(BeNil())
		Expect(block.Dirty).To(BeTrue())
		Expect(mem.WordFromBytes(block.Data, 0)).To(Equal(uint32(0x1111_2222)))

		// The dirty victim never produced a memory write: the only
		// request for its line is the original allocate miss.
		lineRequests := 0
		for _, req := range sink.requests {
			if req.addr == 0x1_0000 {
				lineRequests++
			}
		}
		Expect(lineRequests).To(Equal(1))
	})

	It("should squash the pending miss and free the L2 MSHR", func() {
		dcache.Read(0x1_0000, 0)
		Expect(l2Cache.MSHRs().Lookup(0x1_0000)).NotTo(Equal(-1))

		dcache.SquashPending()

		Expect(dcache.HasPending()).To(BeFalse())
		Expect(l2Cache.MSHRs().Lookup(0x1_0000)).To(Equal(-1))
	})

	It("should issue a fresh miss after a squash", func() {
		dcache.Read(0x1_0000, 0)
		dcache.SquashPending()

		res := dcache.Read(0x1_0000, 1)
		Expect(res.Kind).To(Equal(mem.AccessPending))

		fillCycle := completeMiss(0x1_0000, 1)

		Expect(dcache.Read(0x1_0000, fillCycle).Kind).To(Equal(mem.AccessHit))
	})

	Context("with a peer core", func() {
		var peer *Comp

		BeforeEach(func() {
			peer = MakeBuilder().
				WithCoreID(1).
				WithGeometry(4, 2, 32).
				WithL2(l2Cache).
				Build("Core1.L1D")

			dcache.SetPeers([]Snooper{peer})
			peer.SetPeers([]Snooper{dcache})
		})

		installModified := func(c *Comp, addr, word uint32) {
			line := make([]byte, 32)
			mem.PutWord(line, 0, word)
			block, _ := c.Array().Install(addr, line, 0)
			block.State = tagging.Modified
			block.Dirty = true
		}

		It("should fill a read from a Modified peer and write it back", func() {
			installModified(peer, 0x1_0000, 0x7777_8888)

			res := dcache.Read(0x1_0000, 10)
			Expect(res.Kind).To(Equal(mem.AccessMissWithPenalty))
			Expect(res.Cycles).To(Equal(uint64(5)))

			// The peer's dirty data went to memory at once.
			word, _ := storage.ReadWord(0x1_0000)
			Expect(word).To(Equal(uint32(0x7777_8888)))
			Expect(sink.requests).To(HaveLen(1))
			Expect(sink.requests[0].isWrite).To(BeTrue())

			res = dcache.Read(0x1_0000, 15)
			Expect(res.Kind).To(Equal(mem.AccessHit))
			Expect(res.Word).To(Equal(uint32(0x7777_8888)))

			Expect(dcache.Array().Probe(0x1_0000).State).
				To(Equal(tagging.Shared))
			Expect(peer.Array().Probe(0x1_0000).State).
				To(Equal(tagging.Shared))
		})

		It("should invalidate the peer on a write snoop", func() {
			installModified(peer, 0x1_0000, 0x7777_8888)

			dcache.Write(0x1_0000, 0x9999_0000, 10)

			Expect(peer.Array().Probe(0x1_0000)).To(BeNil())

			res := dcache.Write(0x1_0000, 0x9999_0000, 15)
			Expect(res.Kind).To(Equal(mem.AccessHit))
			Expect(dcache.Array().Probe(0x1_0000).State).
				To(Equal(tagging.Modified))
		})

		It("should stall a write while the peer's write miss is in flight",
			func() {
				peer.Write(0x1_0000, 1, 0)

				res := dcache.Write(0x1_0000, 2, 1)

				Expect(res.Kind).To(Equal(mem.AccessPending))
				Expect(dcache.HasPending()).To(BeFalse())
			})
	})
})
