// Package tracing records what a page walk does, step by step, as structured
// events. Rendering the events into text, CSV rows or database records is
// left to the consumers in this package and elsewhere.
package tracing

import "fmt"

// EventKind identifies what step of a walk an Event describes.
type EventKind uint8

// The kinds of events a walk emits, in the order they usually appear.
const (
	EventWalkStart EventKind = iota + 1
	EventDecode
	EventTableBase
	EventPTEFetch
	EventDecision
	EventFault
	EventResult
)

var eventKindNames = map[EventKind]string{
	EventWalkStart: "walk_start",
	EventDecode:    "decode",
	EventTableBase: "table_base",
	EventPTEFetch:  "pte_fetch",
	EventDecision:  "decision",
	EventFault:     "fault",
	EventResult:    "result",
}

func (k EventKind) String() string {
	name, ok := eventKindNames[k]
	if !ok {
		return "unknown"
	}

	return name
}

// MarshalText lets the kind appear by name in JSON.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name written by MarshalText.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}

	return fmt.Errorf("unknown event kind %q", text)
}

// Decision is what the walker concluded after looking at a PTE.
type Decision uint8

// The decisions a walker can make.
const (
	DecisionNone Decision = iota
	DecisionDescend
	DecisionLeaf
	DecisionTerminal
	DecisionFault
)

var decisionNames = map[Decision]string{
	DecisionNone:     "",
	DecisionDescend:  "descend",
	DecisionLeaf:     "leaf",
	DecisionTerminal: "terminal",
	DecisionFault:    "fault",
}

func (d Decision) String() string {
	return decisionNames[d]
}

// MarshalText lets the decision appear by name in JSON.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a decision name written by MarshalText.
func (d *Decision) UnmarshalText(text []byte) error {
	for decision, name := range decisionNames {
		if name == string(text) {
			*d = decision
			return nil
		}
	}

	return fmt.Errorf("unknown decision %q", text)
}

// An Event is one step of a page walk.
//
// Only the fields that are meaningful for the Kind are set:
//
//   - EventWalkStart: Mode, VAddr, Offset, Level (top level), PAddr (root
//     table base), PPN (root PPN).
//   - EventDecode: Level, Index (the VPN field of that level).
//   - EventTableBase: Level, PPN, PAddr (table base).
//   - EventPTEFetch: Level, Index, PAddr (entry address), PPN, Flags.
//   - EventDecision: Level, Decision.
//   - EventFault: Level (-1 if none), Fault, PAddr (offending address if any).
//   - EventResult: Level (level of the leaf), PAddr.
type Event struct {
	Seq      int       `json:"seq"`
	Kind     EventKind `json:"kind"`
	Mode     string    `json:"mode,omitempty"`
	Level    int       `json:"level"`
	Index    uint64    `json:"index"`
	VAddr    uint64    `json:"vaddr"`
	Offset   uint64    `json:"offset"`
	PAddr    uint64    `json:"paddr"`
	PPN      uint64    `json:"ppn"`
	Flags    uint8     `json:"flags"`
	Decision Decision  `json:"decision,omitempty"`
	Fault    string    `json:"fault,omitempty"`
}

// A Sink receives the events of one walk at a time.
//
// A walk calls Reset before appending its first event and owns the sink until
// it returns. Concurrent walks must use different sinks.
type Sink interface {
	Reset()
	Append(e Event)
}
