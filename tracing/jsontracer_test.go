package tracing

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JSONTracer", func() {
	var (
		buf      *bytes.Buffer
		tracer   *JSONTracer
		recorder *Recorder
	)

	BeforeEach(func() {
		buf = new(bytes.Buffer)
		tracer = NewJSONTracer(buf)
		recorder = NewRecorder()
		recorder.AcceptHook(tracer)
	})

	It("should write finished walks as an array", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart, VAddr: 0x1000})
		recorder.Append(Event{Kind: EventResult, PAddr: 0x5000})

		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart, VAddr: 0x2000})
		recorder.Append(Event{Kind: EventFault, Fault: "Invalid"})

		tracer.Finish()
		tracer.Finish()

		var walks []JSONWalk
		Expect(json.Unmarshal(buf.Bytes(), &walks)).To(Succeed())
		Expect(walks).To(HaveLen(2))
		Expect(walks[0].Walk).To(Equal(uint64(1)))
		Expect(walks[0].Events[1].PAddr).To(Equal(uint64(0x5000)))
		Expect(walks[1].Walk).To(Equal(uint64(2)))
		Expect(walks[1].Events[1].Kind).To(Equal(EventFault))
	})

	It("should write an empty array without walks", func() {
		tracer.Finish()

		var walks []JSONWalk
		Expect(json.Unmarshal(buf.Bytes(), &walks)).To(Succeed())
		Expect(walks).To(BeEmpty())
	})

	It("should drop unfinished walks", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})

		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventResult})

		tracer.Finish()

		var walks []JSONWalk
		Expect(json.Unmarshal(buf.Bytes(), &walks)).To(Succeed())
		Expect(walks).To(HaveLen(1))
		Expect(walks[0].Events).To(HaveLen(2))
	})

	It("should ignore walks that end after Finish", func() {
		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventResult})

		tracer.Finish()

		recorder.Reset()
		recorder.Append(Event{Kind: EventWalkStart})
		recorder.Append(Event{Kind: EventResult})

		var walks []JSONWalk
		Expect(json.Unmarshal(buf.Bytes(), &walks)).To(Succeed())
		Expect(walks).To(HaveLen(1))
	})
})
