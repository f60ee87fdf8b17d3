package tracing

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TextFormatter", func() {
	var formatter *TextFormatter

	BeforeEach(func() {
		formatter = NewTextFormatter()
	})

	It("should format flags", func() {
		Expect(FormatFlags(0)).To(Equal("--------"))
		Expect(FormatFlags(0x0b)).To(Equal("VR-X----"))
		Expect(FormatFlags(0xff)).To(Equal("VRWXUGAD"))
	})

	It("should format a walk", func() {
		events := []Event{
			{Kind: EventWalkStart, Mode: "sv32", VAddr: 0x40000000,
				PAddr: 0x1000, PPN: 1, Level: 1},
			{Kind: EventDecode, Level: 1, Index: 0x100},
			{Kind: EventTableBase, Level: 1, PAddr: 0x1000, PPN: 1},
			{Kind: EventPTEFetch, Level: 1, Index: 0x100, PAddr: 0x2000,
				PPN: 0x10000, Flags: 0x03},
			{Kind: EventDecision, Level: 1, Decision: DecisionLeaf},
			{Kind: EventResult, Level: 1, PAddr: 0x10000000},
		}

		Expect(formatter.String(events)).To(Equal(
			"translate sv32 va=0x40000000 root=0x1000 (ppn=0x1) offset=0\n" +
				"  L1 vpn=0x100\n" +
				"  L1 table base=0x1000 (ppn=0x1)\n" +
				"  L1 pte[0x100] @0x2000 ppn=0x10000 flags=VR------\n" +
				"  L1 leaf\n" +
				"  pa=0x10000000 (leaf at L1)\n"))
	})

	It("should format faults", func() {
		Expect(formatter.Format(Event{
			Kind:  EventFault,
			Level: -1,
			Fault: "NonCanonical",
		})).To(Equal("  fault NonCanonical"))

		Expect(formatter.Format(Event{
			Kind:  EventFault,
			Level: 0,
			PAddr: 0x5010,
			Fault: "Invalid",
		})).To(Equal("  fault Invalid at L0 addr=0x5010"))
	})

	It("should use the indent", func() {
		formatter.Indent = "> "

		var buf bytes.Buffer
		err := formatter.Write(&buf, []Event{{Kind: EventDecode, Level: 2}})

		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(Equal("> L2 vpn=0\n"))
	})

	It("should marshal events with names", func() {
		data, err := json.Marshal(Event{
			Kind:     EventDecision,
			Decision: DecisionDescend,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"decision"`))
		Expect(string(data)).To(ContainSubstring(`"descend"`))
	})
})
