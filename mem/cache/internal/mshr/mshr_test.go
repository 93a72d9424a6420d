package mshr

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

type stubLineSource struct {
	line []byte
}

func (s *stubLineSource) ReadLine(lineAddr uint32) []byte {
	return s.line
}

var _ = ginkgo.Describe("Table", func() {
	var (
		table *Table
		src   *stubLineSource
		token WakeToken
	)

	ginkgo.BeforeEach(func() {
		table = NewTable(4, 32, 5, 5)
		src = &stubLineSource{line: make([]byte, 32)}
		token = WakeToken{CoreID: 0, IsICache: false}
	})

	ginkgo.It("should allocate and line-align", func() {
		idx, ok := table.Allocate(0x1000_0004, false, false, token, 10)

		Expect(ok).To(BeTrue())
		entry := table.Entry(idx)
		Expect(entry.LineAddr).To(Equal(uint32(0x1000_0000)))
		Expect(entry.State).To(Equal(WaitSend))
		Expect(entry.AllocCycle).To(Equal(uint64(10)))
		Expect(entry.Waiters).To(HaveLen(1))
	})

	ginkgo.It("should refuse a second entry for the same line", func() {
		table.Allocate(0x1000_0000, false, false, token, 10)

		_, ok := table.Allocate(0x1000_0010, false, false, token, 11)

		Expect(ok).To(BeFalse())
		Expect(table.Occupied()).To(Equal(1))
	})

	ginkgo.It("should refuse allocation when full", func() {
		for i := 0; i < 4; i++ {
			_, ok := table.Allocate(uint32(i*32), false, false, token, 10)
			Expect(ok).To(BeTrue())
		}

		Expect(table.HasFree()).To(BeFalse())

		_, ok := table.Allocate(0x2000_0000, false, false, token, 10)
		Expect(ok).To(BeFalse())
	})

	ginkgo.It("should grant Modified target for writes", func() {
		idx, _ := table.Allocate(0x1000_0000, true, false, token, 10)

		Expect(table.Entry(idx).TargetState).To(Equal(tagging.Modified))
	})

	ginkgo.It("should walk the staged state machine", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)

		table.Tick(14, src)
		Expect(table.Entry(idx).State).To(Equal(WaitSend))

		table.Tick(15, src)
		Expect(table.Entry(idx).State).To(Equal(WaitDram))

		table.OnDRAMComplete(0x1000_0000, 300)
		Expect(table.Entry(idx).State).To(Equal(WaitFill))
		Expect(table.Entry(idx).CompletionCycle).To(Equal(uint64(305)))

		table.Tick(305, src)
		Expect(table.Entry(idx).State).To(Equal(Ready))
		Expect(table.IsReady(idx)).To(BeTrue())
	})

	ginkgo.It("should pull line bytes on fill completion", func() {
		src.line[0] = 0xAB
		src.line[31] = 0xCD
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)

		table.Tick(15, src)
		table.OnDRAMComplete(0x1000_0000, 300)
		table.Tick(305, src)

		Expect(table.Entry(idx).Data[0]).To(Equal(byte(0xAB)))
		Expect(table.Entry(idx).Data[31]).To(Equal(byte(0xCD)))
	})

	ginkgo.It("should complete a stale pending fill as soon as observed", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)
		table.Tick(15, src)
		table.OnDRAMComplete(0x1000_0000, 300)

		table.Tick(400, src)

		Expect(table.Entry(idx).State).To(Equal(Ready))
	})

	ginkgo.It("should ignore completions for unknown lines", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)
		table.Tick(15, src)

		table.OnDRAMComplete(0x2000_0000, 300)

		Expect(table.Entry(idx).State).To(Equal(WaitDram))
	})

	ginkgo.It("should coalesce a second waiter", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)

		other := WakeToken{CoreID: 1, IsICache: true}
		cIdx, ok := table.Coalesce(0x1000_0010, other)

		Expect(ok).To(BeTrue())
		Expect(cIdx).To(Equal(idx))
		Expect(table.Entry(idx).Waiters).To(HaveLen(2))
	})

	ginkgo.It("should not coalesce onto a Ready entry", func() {
		table.Allocate(0x1000_0000, false, false, token, 10)
		table.Tick(15, src)
		table.OnDRAMComplete(0x1000_0000, 300)
		table.Tick(305, src)

		_, ok := table.Coalesce(0x1000_0000, WakeToken{CoreID: 1})

		Expect(ok).To(BeFalse())
	})

	ginkgo.It("should drop waiters on free", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)
		table.Coalesce(0x1000_0000, WakeToken{CoreID: 1})

		table.Free(idx)

		Expect(table.Entry(idx)).To(BeNil())
		Expect(table.Lookup(0x1000_0000)).To(Equal(-1))
	})

	ginkgo.It("should keep the miss alive when one of two waiters detaches", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)
		other := WakeToken{CoreID: 1, IsICache: true}
		table.Coalesce(0x1000_0000, other)

		table.RemoveWaiter(idx, token)

		Expect(table.Entry(idx)).NotTo(BeNil())
		Expect(table.Entry(idx).Waiters).To(ConsistOf(other))
	})

	ginkgo.It("should free the entry when the last waiter detaches", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)

		table.RemoveWaiter(idx, token)

		Expect(table.Entry(idx)).To(BeNil())
	})

	ginkgo.It("should discard a completion that arrives after a free", func() {
		idx, _ := table.Allocate(0x1000_0000, false, false, token, 10)
		table.Tick(15, src)
		table.Free(idx)

		table.OnDRAMComplete(0x1000_0000, 300)
		table.Tick(305, src)

		Expect(table.Entry(idx)).To(BeNil())
		Expect(table.Occupied()).To(Equal(0))
	})
})
