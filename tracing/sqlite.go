package tracing

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteTraceWriter is a hook that writes walk events to a SQLite database.
type SQLiteTraceWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName    string
	events    []walkEvent
	batchSize int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter. The database file is
// path + ".sqlite3". An empty path picks a unique name.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	w := &SQLiteTraceWriter{
		dbName:    path,
		batchSize: 100000,
	}

	return w
}

// Path returns the name of the database file.
func (t *SQLiteTraceWriter) Path() string {
	return t.dbName + ".sqlite3"
}

// Init establishes a connection to the database and creates the event table.
func (t *SQLiteTraceWriter) Init() {
	t.createDatabase()
	t.createTable()
	t.prepareStatement()

	atexit.Register(t.Flush)
}

// Func buffers the event carried by the hook context.
func (t *SQLiteTraceWriter) Func(ctx HookCtx) {
	e, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	t.Write(ctx.Walk, e)
}

// Write buffers an event of the given walk.
func (t *SQLiteTraceWriter) Write(walk uint64, e Event) {
	t.events = append(t.events, walkEvent{walk: walk, event: e})
	if len(t.events) >= t.batchSize {
		t.Flush()
	}
}

// Flush writes all the buffered events to the database.
func (t *SQLiteTraceWriter) Flush() {
	if len(t.events) == 0 {
		return
	}

	t.mustExecute("BEGIN TRANSACTION")
	defer t.mustExecute("COMMIT TRANSACTION")

	for _, we := range t.events {
		e := we.event
		_, err := t.statement.Exec(
			int64(we.walk),
			e.Seq,
			e.Kind.String(),
			e.Mode,
			e.Level,
			int64(e.Index),
			fmt.Sprintf("%#x", e.VAddr),
			int64(e.Offset),
			fmt.Sprintf("%#x", e.PAddr),
			fmt.Sprintf("%#x", e.PPN),
			int(e.Flags),
			e.Decision.String(),
			e.Fault,
		)
		if err != nil {
			panic(err)
		}
	}

	t.events = nil
}

func (t *SQLiteTraceWriter) createDatabase() {
	if t.dbName == "" {
		t.dbName = "pagewalk_trace_" + xid.New().String()
	}

	filename := t.Path()
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Trace is collected in database: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	// BEGIN, the inserts and COMMIT must share one connection.
	db.SetMaxOpenConns(1)

	t.DB = db
}

func (t *SQLiteTraceWriter) createTable() {
	t.mustExecute(`
		create table walk_event
		(
			walk       integer      not null,
			seq        integer      not null,
			kind       varchar(32)  not null,
			mode       varchar(8)   default '',
			level      integer      not null,
			idx        integer      default 0,
			vaddr      varchar(20)  default '0x0',
			page_off   integer      default 0,
			paddr      varchar(20)  default '0x0',
			ppn        varchar(20)  default '0x0',
			flags      integer      default 0,
			decision   varchar(16)  default '',
			fault      varchar(32)  default ''
		);
	`)

	t.mustExecute(`
		create index walk_event_walk_index
			on walk_event (walk);
	`)

	t.mustExecute(`
		create index walk_event_fault_index
			on walk_event (fault);
	`)
}

func (t *SQLiteTraceWriter) prepareStatement() {
	sqlStr := `
		INSERT INTO walk_event VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := t.Prepare(sqlStr)
	if err != nil {
		panic(err)
	}

	t.statement = stmt
}

func (t *SQLiteTraceWriter) mustExecute(query string) sql.Result {
	res, err := t.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}
