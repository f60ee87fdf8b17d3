package tracing

// A Recorder is a Sink that keeps the events of the most recent walk in
// memory and forwards every event to its hooks as it arrives.
//
// The recorder is not safe for concurrent use. Give each concurrent walker its
// own recorder.
type Recorder struct {
	HookableBase

	events []Event
	walk   uint64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Reset drops the events of the previous walk and starts a new one.
func (r *Recorder) Reset() {
	r.events = r.events[:0]
	r.walk++

	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosWalkReset,
		Walk:   r.walk,
	})
}

// Append adds an event to the current walk. The event is numbered by its
// position in the walk.
func (r *Recorder) Append(e Event) {
	e.Seq = len(r.events)
	r.events = append(r.events, e)

	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosOf(e.Kind),
		Walk:   r.walk,
		Item:   e,
	})
}

// Walk returns the sequence number of the current walk. It is 0 before the
// first walk.
func (r *Recorder) Walk() uint64 {
	return r.walk
}

// Len returns the number of events recorded for the current walk.
func (r *Recorder) Len() int {
	return len(r.events)
}

// Events returns a copy of the events of the current walk.
func (r *Recorder) Events() []Event {
	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}

// Drain returns the events of the current walk and empties the recorder.
func (r *Recorder) Drain() []Event {
	events := r.Events()
	r.events = r.events[:0]

	return events
}

// Count returns how many recorded events are of the given kind.
func (r *Recorder) Count(kind EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}

	return n
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Reset()       {}
func (discard) Append(Event) {}
