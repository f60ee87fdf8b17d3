package vm

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pagewalk/mem/physmem"
	"github.com/sarchlab/pagewalk/tracing"
)

var _ = Describe("Sv39 translation", func() {
	var (
		memSys   *MemorySystem
		alloc    *BumpAllocator
		root     PageTable
		recorder *tracing.Recorder
	)

	BeforeEach(func() {
		memSys = MakeBuilder().
			WithCapacity(16 * 1024 * 1024).
			WithMode(Sv39).
			WithRootPPN(1).
			Build()
		alloc = NewBumpAllocator(memSys.Storage(), 0x10)
		recorder = tracing.NewRecorder()

		var err error
		root, err = memSys.RootTable()
		Expect(err).NotTo(HaveOccurred())
	})

	Context("with a megapage under root entry 2", func() {
		BeforeEach(func() {
			Expect(memSys.Map(0x80004000, 1, PTE{
				PPN:   0x30000,
				Flags: FlagValid | FlagRead | FlagExecute,
			}, alloc)).To(Succeed())
		})

		It("should install the mapping once, at the decoded path", func() {
			pte2, _ := root.Entry(2)
			Expect(pte2.IsPointer()).To(BeTrue())

			pte4, _ := root.Entry(4)
			Expect(pte4.IsValid()).To(BeFalse())

			level1, _ := memSys.Table(pte2.PPN)
			pte1, _ := level1.Entry(0)
			Expect(pte1).To(Equal(PTE{
				PPN:   0x30000,
				Flags: FlagValid | FlagRead | FlagExecute,
			}))
		})

		It("should carry the VPN into the address with the PPN check", func() {
			memSys.SetSuperpageCheck(CheckPPN)

			pAddr, err := memSys.Translate(0x0000000080004000, recorder)

			Expect(err).NotTo(HaveOccurred())
			Expect(pAddr).To(Equal(uint64(0x30004000)))
			Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(2))
		})

		It("should reject the nonzero VPN[0] with the VPN check", func() {
			_, err := memSys.Translate(0x0000000080004000, recorder)

			f := mustFault(err)
			Expect(f.Kind).To(Equal(FaultMisalignedSuperpage))
			Expect(f.Level).To(Equal(1))
			Expect(f.Kind.IsPageFault()).To(BeTrue())
		})

		It("should translate the aligned address with the VPN check", func() {
			pAddr, err := memSys.Translate(0x80000123, recorder)

			Expect(err).NotTo(HaveOccurred())
			Expect(pAddr).To(Equal(uint64(0x30000123)))
		})
	})

	It("should translate a gigapage", func() {
		Expect(memSys.Map(0x40000000, 2, PTE{
			PPN:   0x40000,
			Flags: FlagValid | FlagRead,
		}, alloc)).To(Succeed())

		pAddr, err := memSys.Translate(0x40000abc, recorder)
		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x40000abc)))
		Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(1))

		_, err = memSys.Translate(0x40200000, recorder)
		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultMisalignedSuperpage))
		Expect(f.Level).To(Equal(2))

		_, err = memSys.Translate(0x40001000, recorder)
		Expect(mustFault(err).Kind).To(Equal(FaultMisalignedSuperpage))
	})

	It("should translate a base page through three levels", func() {
		Expect(memSys.Map(0x12345000, 0, PTE{
			PPN:   0x999,
			Flags: FlagValid | FlagRead | FlagWrite,
		}, alloc)).To(Succeed())

		pAddr, err := memSys.Translate(0x12345678, recorder)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x999678)))
		Expect(eventKinds(recorder.Events())).To(Equal([]tracing.EventKind{
			tracing.EventWalkStart,
			tracing.EventDecode,
			tracing.EventDecode,
			tracing.EventDecode,
			tracing.EventTableBase,
			tracing.EventPTEFetch,
			tracing.EventDecision,
			tracing.EventTableBase,
			tracing.EventPTEFetch,
			tracing.EventDecision,
			tracing.EventTableBase,
			tracing.EventPTEFetch,
			tracing.EventDecision,
			tracing.EventResult,
		}))

		fetches := []tracing.Event{}
		for _, e := range recorder.Events() {
			if e.Kind == tracing.EventPTEFetch {
				fetches = append(fetches, e)
			}
		}
		Expect(fetches[0].Index).To(Equal(uint64(0)))
		Expect(fetches[1].Index).To(Equal(uint64(0x91)))
		Expect(fetches[2].Index).To(Equal(uint64(0x145)))
		Expect(fetches[2].PPN).To(Equal(uint64(0x999)))
	})

	It("should fault on a non-canonical address before any fetch", func() {
		Expect(memSys.Map(0, 2, PTE{PPN: 0, Flags: FlagValid | FlagRead},
			alloc)).To(Succeed())

		_, err := memSys.Translate(0x0000004000000000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultNonCanonical))
		Expect(f.Level).To(Equal(NoLevel))
		Expect(f.Kind.IsPageFault()).To(BeFalse())
		Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(0))
		Expect(recorder.Count(tracing.EventDecode)).To(Equal(0))
		Expect(recorder.Count(tracing.EventFault)).To(Equal(1))
	})

	It("should translate upper-half addresses", func() {
		Expect(memSys.Map(0xffffffc000000000, 2, PTE{
			PPN:   0x80000,
			Flags: FlagValid | FlagRead,
		}, alloc)).To(Succeed())

		pAddr, err := memSys.Translate(0xffffffc000000010, recorder)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x80000010)))

		pte, _ := root.Entry(256)
		Expect(pte.IsLeaf()).To(BeTrue())
	})

	It("should fault on an invalid root entry", func() {
		_, err := memSys.Translate(0x100000000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultInvalid))
		Expect(f.Level).To(Equal(2))
	})

	It("should fault on a pointer at level 0", func() {
		Expect(root.SetEntry(3, PTE{PPN: 0x20, Flags: FlagValid})).To(Succeed())
		level1, _ := memSys.Table(0x20)
		Expect(level1.SetEntry(0, PTE{PPN: 0x22, Flags: FlagValid})).
			To(Succeed())
		level0, _ := memSys.Table(0x22)
		Expect(level0.SetEntry(0, PTE{PPN: 0x50, Flags: FlagValid})).
			To(Succeed())

		_, err := memSys.Translate(0xc0000000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultMalformedTable))
		Expect(f.Level).To(Equal(0))
		Expect(f.PAddr).To(Equal(level0.Base()))
		Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(3))
	})

	It("should fault when a next-level table is outside memory", func() {
		Expect(root.SetEntry(5, PTE{PPN: 0xfffff, Flags: FlagValid})).
			To(Succeed())

		_, err := memSys.Translate(5<<30, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultOutOfBounds))
		Expect(f.Level).To(Equal(1))
		Expect(err).To(MatchError(physmem.ErrOutOfBounds))
	})

	It("should fault on a leaf whose PPN overflows", func() {
		raw := make([]byte, PTESize)
		binary.LittleEndian.PutUint64(raw, ^uint64(0))
		raw[8] = uint8(FlagValid | FlagRead)
		Expect(memSys.Storage().Write(root.Base()+6*PTESize, raw)).
			To(Succeed())

		_, err := memSys.Translate(6<<30, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultOutOfBounds))
		Expect(err).To(MatchError(ErrPPNOverflow))
	})

	It("should refuse to translate in Sv48", func() {
		_, err := Translate(memSys.Storage(), Sv48, 1, 0x1000, recorder)

		Expect(err).To(MatchError(ErrUnsupportedMode))

		var f *Fault
		Expect(err).NotTo(BeAssignableToTypeOf(f))
	})

	It("should refuse to configure Sv48", func() {
		err := memSys.Configure(Sv48, 1)

		Expect(err).To(MatchError(ErrUnsupportedMode))
		Expect(memSys.Mode()).To(Equal(Sv39))
	})

	It("should panic when building an Sv48 memory system", func() {
		Expect(func() { MakeBuilder().WithMode(Sv48).Build() }).To(Panic())
	})
})
