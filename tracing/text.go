package tracing

import (
	"fmt"
	"io"
	"strings"
)

const flagLetters = "VRWXUGAD"

// FormatFlags renders PTE flag bits as a fixed-width string such as
// "VR-X----", one position per bit from Valid to Dirty.
func FormatFlags(flags uint8) string {
	var b strings.Builder

	for i := 0; i < len(flagLetters); i++ {
		if flags&(1<<i) != 0 {
			b.WriteByte(flagLetters[i])
		} else {
			b.WriteByte('-')
		}
	}

	return b.String()
}

// A TextFormatter renders events as human-readable lines.
type TextFormatter struct {
	// Indent is prepended to every line except walk headers.
	Indent string
}

// NewTextFormatter creates a TextFormatter with a two-space indent.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{Indent: "  "}
}

// Format renders a single event without a trailing newline.
func (f *TextFormatter) Format(e Event) string {
	switch e.Kind {
	case EventWalkStart:
		return fmt.Sprintf("translate %s va=%#x root=%#x (ppn=%#x) offset=%#x",
			e.Mode, e.VAddr, e.PAddr, e.PPN, e.Offset)
	case EventDecode:
		return fmt.Sprintf("%sL%d vpn=%#x", f.Indent, e.Level, e.Index)
	case EventTableBase:
		return fmt.Sprintf("%sL%d table base=%#x (ppn=%#x)",
			f.Indent, e.Level, e.PAddr, e.PPN)
	case EventPTEFetch:
		return fmt.Sprintf("%sL%d pte[%#x] @%#x ppn=%#x flags=%s",
			f.Indent, e.Level, e.Index, e.PAddr, e.PPN, FormatFlags(e.Flags))
	case EventDecision:
		return fmt.Sprintf("%sL%d %s", f.Indent, e.Level, e.Decision)
	case EventFault:
		return f.formatFault(e)
	case EventResult:
		return fmt.Sprintf("%spa=%#x (leaf at L%d)", f.Indent, e.PAddr, e.Level)
	default:
		return fmt.Sprintf("%sunknown event %d", f.Indent, e.Kind)
	}
}

func (f *TextFormatter) formatFault(e Event) string {
	s := fmt.Sprintf("%sfault %s", f.Indent, e.Fault)

	if e.Level >= 0 {
		s += fmt.Sprintf(" at L%d", e.Level)
	}

	if e.PAddr != 0 {
		s += fmt.Sprintf(" addr=%#x", e.PAddr)
	}

	return s
}

// Write renders the events, one per line.
func (f *TextFormatter) Write(w io.Writer, events []Event) error {
	for _, e := range events {
		_, err := fmt.Fprintln(w, f.Format(e))
		if err != nil {
			return err
		}
	}

	return nil
}

// String renders the events into a single string.
func (f *TextFormatter) String(events []Event) string {
	var b strings.Builder

	// strings.Builder never fails to write.
	_ = f.Write(&b, events)

	return b.String()
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
