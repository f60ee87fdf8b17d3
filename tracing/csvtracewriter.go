package tracing

import (
	"fmt"
	"os"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

type walkEvent struct {
	walk  uint64
	event Event
}

// CSVTraceWriter is a hook that stores walk events into a CSV file.
type CSVTraceWriter struct {
	path string
	file *os.File

	events     []walkEvent
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter. The file is path + ".csv".
// An empty path picks a unique name.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the name of the CSV file.
func (t *CSVTraceWriter) Path() string {
	return t.path + ".csv"
}

// Init creates the tracing csv file. It panics if the file already exists.
func (t *CSVTraceWriter) Init() {
	if t.path == "" {
		t.path = "pagewalk_trace_" + xid.New().String()
	}

	filename := t.Path()
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	t.file = file

	fmt.Fprintf(file, "Walk, Seq, Kind, Mode, Level, Index, VAddr, "+
		"Offset, PAddr, PPN, Flags, Decision, Fault\n")

	atexit.Register(t.Close)
}

// Func buffers the event carried by the hook context.
func (t *CSVTraceWriter) Func(ctx HookCtx) {
	e, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	t.Write(ctx.Walk, e)
}

// Write buffers an event of the given walk.
func (t *CSVTraceWriter) Write(walk uint64, e Event) {
	t.events = append(t.events, walkEvent{walk: walk, event: e})
	if len(t.events) >= t.bufferSize {
		t.Flush()
	}
}

// Flush writes the buffered events to the CSV file. Without an open file the
// events are dropped.
func (t *CSVTraceWriter) Flush() {
	if t.file == nil {
		t.events = nil
		return
	}

	for _, we := range t.events {
		e := we.event
		fmt.Fprintf(t.file, "%d, %d, %s, %s, %d, %#x, %#x, %#x, %#x, %#x, %s, %s, %s\n",
			we.walk,
			e.Seq,
			e.Kind,
			e.Mode,
			e.Level,
			e.Index,
			e.VAddr,
			e.Offset,
			e.PAddr,
			e.PPN,
			FormatFlags(e.Flags),
			e.Decision,
			e.Fault,
		)
	}

	t.events = nil
}

// Close flushes the remaining events and closes the file. Calling Close more
// than once has no effect.
func (t *CSVTraceWriter) Close() {
	if t.file == nil {
		return
	}

	t.Flush()

	err := t.file.Close()
	if err != nil {
		panic(err)
	}

	t.file = nil
}
