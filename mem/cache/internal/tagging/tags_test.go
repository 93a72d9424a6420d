package tagging

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TagArray", func() {
	var (
		tags *tagArrayImpl
	)

	BeforeEach(func() {
		tags = NewTagArray(512, 16, 32).(*tagArrayImpl)
	})

	It("should decompose addresses", func() {
		// 32-byte lines, 512 sets: offset bits [4:0], index [13:5].
		addr := uint32(0x1000_0CA4)

		Expect(tags.Offset(addr)).To(Equal(uint32(0x04)))
		Expect(tags.SetIndex(addr)).To(Equal(uint32(0x65)))
		Expect(tags.Tag(addr)).To(Equal(addr >> 14))
		Expect(tags.LineAddr(addr)).To(Equal(uint32(0x1000_0CA0)))
	})

	It("should lookup a valid block", func() {
		addr := uint32(0x1000_0CA0)
		set, _ := tags.GetSet(addr)
		set.Blocks[3].Tag = tags.Tag(addr)
		set.Blocks[3].State = Exclusive

		block := tags.Lookup(addr)

		Expect(block).NotTo(BeNil())
		Expect(block.WayID).To(Equal(3))
	})

	It("should not lookup an invalid block", func() {
		addr := uint32(0x1000_0CA0)
		set, _ := tags.GetSet(addr)
		set.Blocks[3].Tag = tags.Tag(addr)
		set.Blocks[3].State = Invalid

		Expect(tags.Lookup(addr)).To(BeNil())
	})

	It("should reconstruct block addresses", func() {
		addr := uint32(0x1000_0CA0)
		set, _ := tags.GetSet(addr)
		block := set.Blocks[0]
		block.Tag = tags.Tag(addr)
		block.State = Shared

		Expect(tags.BlockAddr(block)).To(Equal(addr))
	})

	It("should reset all blocks to invalid", func() {
		addr := uint32(0x1000_0CA0)
		set, _ := tags.GetSet(addr)
		set.Blocks[0].Tag = tags.Tag(addr)
		set.Blocks[0].State = Modified

		tags.Reset()

		Expect(tags.Lookup(addr)).To(BeNil())
	})
})
