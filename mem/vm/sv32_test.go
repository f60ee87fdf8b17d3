package vm

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pagewalk/mem/physmem"
	"github.com/sarchlab/pagewalk/tracing"
	"go.uber.org/mock/gomock"
)

func eventKinds(events []tracing.Event) []tracing.EventKind {
	kinds := make([]tracing.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}

	return kinds
}

func mustFault(err error) *Fault {
	var f *Fault
	ExpectWithOffset(1, errors.As(err, &f)).To(BeTrue(), "%v is not a fault", err)

	return f
}

var _ = Describe("Sv32 translation", func() {
	var (
		memSys   *MemorySystem
		root     PageTable
		recorder *tracing.Recorder
	)

	BeforeEach(func() {
		memSys = MakeBuilder().
			WithCapacity(16 * 1024 * 1024).
			WithMode(Sv32).
			WithRootPPN(1).
			Build()
		recorder = tracing.NewRecorder()

		var err error
		root, err = memSys.RootTable()
		Expect(err).NotTo(HaveOccurred())

		Expect(root.SetEntry(0x100, PTE{
			PPN:   0x10000,
			Flags: FlagValid | FlagRead,
		})).To(Succeed())
	})

	It("should translate through a superpage", func() {
		pAddr, err := memSys.Translate(0x40000000, recorder)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x10000000)))
		Expect(eventKinds(recorder.Events())).To(Equal([]tracing.EventKind{
			tracing.EventWalkStart,
			tracing.EventDecode,
			tracing.EventDecode,
			tracing.EventTableBase,
			tracing.EventPTEFetch,
			tracing.EventDecision,
			tracing.EventResult,
		}))
	})

	It("should keep the page offset", func() {
		pAddr, err := memSys.Translate(0x40000abc, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x10000abc)))
	})

	It("should fault on an invalid root entry", func() {
		_, err := memSys.Translate(0x40400000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultInvalid))
		Expect(f.Level).To(Equal(1))
		Expect(f.PAddr).To(Equal(root.Base() + 0x101*PTESize))
		Expect(errors.Is(err, FaultInvalid)).To(BeTrue())

		events := recorder.Events()
		last := events[len(events)-1]
		Expect(last.Kind).To(Equal(tracing.EventFault))
		Expect(last.Fault).To(Equal("Invalid"))
		Expect(last.Level).To(Equal(1))
	})

	It("should fault on a misaligned superpage", func() {
		_, err := memSys.Translate(0x40001000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultMisalignedSuperpage))
		Expect(f.Level).To(Equal(1))
		Expect(recorder.Count(tracing.EventResult)).To(Equal(0))
	})

	Context("with a level-0 table", func() {
		BeforeEach(func() {
			Expect(root.SetEntry(0x200, PTE{PPN: 0x10, Flags: FlagValid})).
				To(Succeed())

			level0, err := memSys.Table(0x10)
			Expect(err).NotTo(HaveOccurred())
			Expect(level0.SetEntry(5, PTE{
				PPN:   0x777,
				Flags: FlagValid | FlagRead | FlagWrite,
			})).To(Succeed())
			Expect(level0.SetEntry(7, PTE{PPN: 0x888, Flags: FlagValid})).
				To(Succeed())
		})

		It("should translate a base page", func() {
			pAddr, err := memSys.Translate(0x80005abc, recorder)

			Expect(err).NotTo(HaveOccurred())
			Expect(pAddr).To(Equal(uint64(0x777abc)))
			Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(2))
		})

		It("should fault on an invalid level-0 entry", func() {
			_, err := memSys.Translate(0x80006000, recorder)

			f := mustFault(err)
			Expect(f.Kind).To(Equal(FaultInvalid))
			Expect(f.Level).To(Equal(0))
		})

		It("should end the walk at a level-0 entry without permissions",
			func() {
				pAddr, err := memSys.Translate(0x80007010, recorder)

				Expect(err).NotTo(HaveOccurred())
				Expect(pAddr).To(Equal(uint64(0x888010)))

				events := recorder.Events()
				Expect(events[len(events)-2].Decision).
					To(Equal(tracing.DecisionTerminal))
			})
	})

	It("should fault when the level-0 table is outside memory", func() {
		Expect(root.SetEntry(0x300, PTE{PPN: 0x1000000, Flags: FlagValid})).
			To(Succeed())

		_, err := memSys.Translate(0xc0000000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultOutOfBounds))
		Expect(f.Level).To(Equal(0))
		Expect(f.PAddr).To(Equal(uint64(0x1000000000)))
		Expect(err).To(MatchError(physmem.ErrOutOfBounds))
		Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(1))
	})

	It("should fault when the root table is outside memory", func() {
		Expect(memSys.Configure(Sv32, 0x1000)).To(Succeed())

		_, err := memSys.Translate(0x40000000, recorder)

		f := mustFault(err)
		Expect(f.Kind).To(Equal(FaultOutOfBounds))
		Expect(f.Level).To(Equal(1))
		Expect(recorder.Count(tracing.EventPTEFetch)).To(Equal(0))
	})

	It("should only look at the low 32 bits", func() {
		pAddr, err := memSys.Translate(0xffffffff40000008, recorder)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x10000008)))
		Expect(recorder.Events()[0].VAddr).To(Equal(uint64(0x40000008)))
	})

	It("should merge the VPN into the address with the PPN check", func() {
		memSys.SetSuperpageCheck(CheckPPN)

		pAddr, err := memSys.Translate(0x40001234, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x10001234)))

		Expect(root.SetEntry(0x100, PTE{
			PPN:   0x10001,
			Flags: FlagValid | FlagRead,
		})).To(Succeed())

		_, err = memSys.Translate(0x40000000, nil)
		Expect(mustFault(err).Kind).To(Equal(FaultMisalignedSuperpage))
	})

	It("should translate through the package-level function", func() {
		pAddr, err := Translate(memSys.Storage(), Sv32, 1, 0x40000000, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(0x10000000)))
	})

	It("should reset the sink before emitting", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		defer mockCtrl.Finish()

		sink := NewMockSink(mockCtrl)
		reset := sink.EXPECT().Reset()
		sink.EXPECT().Append(gomock.Any()).After(reset).Times(7)

		_, err := memSys.Translate(0x40000000, sink)

		Expect(err).NotTo(HaveOccurred())
	})
})
