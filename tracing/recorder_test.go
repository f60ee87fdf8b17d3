package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Recorder", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *Recorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewRecorder()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should number events within a walk", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventDecode, Level: 1})
		recorder.Append(Event{Kind: EventDecode, Level: 0})

		events := recorder.Events()
		Expect(events).To(HaveLen(3))
		Expect(events[2].Seq).To(Equal(2))
		Expect(recorder.Count(EventDecode)).To(Equal(2))
		Expect(recorder.Walk()).To(Equal(uint64(1)))
	})

	It("should drop old events on reset", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventFault})

		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})

		Expect(recorder.Len()).To(Equal(1))
		Expect(recorder.Count(EventFault)).To(Equal(0))
		Expect(recorder.Walk()).To(Equal(uint64(2)))
	})

	It("should return copies of the events", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventResult, PAddr: 0x1000})

		events := recorder.Events()
		events[0].PAddr = 0

		Expect(recorder.Events()[0].PAddr).To(Equal(uint64(0x1000)))
	})

	It("should drain", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})

		events := recorder.Drain()

		Expect(events).To(HaveLen(1))
		Expect(recorder.Len()).To(Equal(0))
	})

	It("should invoke hooks", func() {
		hook := NewMockHook(mockCtrl)
		recorder.AcceptHook(hook)

		reset := hook.EXPECT().Func(HookCtx{
			Domain: recorder,
			Pos:    HookPosWalkReset,
			Walk:   1,
		})
		start := hook.EXPECT().Func(HookCtx{
			Domain: recorder,
			Pos:    HookPosWalkStart,
			Walk:   1,
			Item:   Event{Kind: EventWalkStart, Seq: 0},
		}).After(reset)
		step := hook.EXPECT().Func(HookCtx{
			Domain: recorder,
			Pos:    HookPosWalkStep,
			Walk:   1,
			Item:   Event{Kind: EventPTEFetch, Seq: 1},
		}).After(start)
		hook.EXPECT().Func(HookCtx{
			Domain: recorder,
			Pos:    HookPosFault,
			Walk:   1,
			Item:   Event{Kind: EventFault, Seq: 2},
		}).After(step)

		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventPTEFetch})
		recorder.Append(Event{Kind: EventFault})
	})

	It("should refuse the same hook twice", func() {
		hook := NewMockHook(mockCtrl)
		recorder.AcceptHook(hook)

		Expect(func() { recorder.AcceptHook(hook) }).To(Panic())
		Expect(recorder.NumHooks()).To(Equal(1))
	})

	It("should map event kinds to hook positions", func() {
		Expect(HookPosOf(EventWalkStart)).To(BeIdenticalTo(HookPosWalkStart))
		Expect(HookPosOf(EventDecision)).To(BeIdenticalTo(HookPosWalkStep))
		Expect(HookPosOf(EventFault)).To(BeIdenticalTo(HookPosFault))
		Expect(HookPosOf(EventResult)).To(BeIdenticalTo(HookPosWalkEnd))
	})

	It("should discard", func() {
		Discard.Reset()
		Discard.Append(Event{Kind: EventWalkStart})
	})
})
