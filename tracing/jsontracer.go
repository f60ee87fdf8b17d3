package tracing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A JSONWalk is one walk as written by the JSONTracer.
type JSONWalk struct {
	Walk   uint64  `json:"walk"`
	Events []Event `json:"events"`
}

// JSONTracer is a hook that writes every finished walk as an element of a JSON
// array. A walk is finished by its result or its fault event.
type JSONTracer struct {
	w         io.Writer
	closer    io.Closer
	lock      sync.Mutex
	firstWalk bool
	current   JSONWalk
	finished  bool
}

// NewJSONTracer creates a JSONTracer that writes to w.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{
		w:         w,
		firstWalk: true,
	}

	t.mustWrite([]byte("[\n"))

	return t
}

// NewJSONTraceFile creates a JSONTracer that writes to path + ".json". An
// empty path picks a unique name. The array is closed at exit.
func NewJSONTraceFile(path string) *JSONTracer {
	if path == "" {
		path = "pagewalk_trace_" + xid.New().String()
	}

	filename := path + ".json"

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Recording walks in %s\n", filename)

	t := NewJSONTracer(f)
	t.closer = f

	atexit.Register(t.Finish)

	return t
}

// Func collects the events of a walk and writes the walk when it ends. Walks
// that end after Finish are dropped.
func (t *JSONTracer) Func(ctx HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.finished {
		return
	}

	if ctx.Pos == HookPosWalkReset {
		t.current = JSONWalk{Walk: ctx.Walk}
		return
	}

	e, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	t.current.Walk = ctx.Walk
	t.current.Events = append(t.current.Events, e)

	if e.Kind == EventResult || e.Kind == EventFault {
		t.writeWalk()
	}
}

func (t *JSONTracer) writeWalk() {
	if t.firstWalk {
		t.firstWalk = false
	} else {
		t.mustWrite([]byte(",\n"))
	}

	b, err := json.Marshal(t.current)
	if err != nil {
		panic(err)
	}

	t.mustWrite(b)

	t.current = JSONWalk{}
}

// Finish closes the JSON array. Calling Finish more than once has no effect.
func (t *JSONTracer) Finish() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.finished {
		return
	}

	t.finished = true

	t.mustWrite([]byte("\n]\n"))

	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			panic(err)
		}
	}
}

func (t *JSONTracer) mustWrite(b []byte) {
	_, err := t.w.Write(b)
	if err != nil {
		panic(err)
	}
}
