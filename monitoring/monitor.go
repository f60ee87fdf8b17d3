package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/pagewalk/mem/vm"
	"github.com/sarchlab/pagewalk/monitoring/web"
	"github.com/sarchlab/pagewalk/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// maxScanSize limits how many addresses a single scan request may translate.
const maxScanSize = 1 << 20

// Monitor turns a memory system into a server that translates addresses and
// shows the page tables on request.
//
// All walks started by the monitor share one recorder, so the monitor
// serializes them.
type Monitor struct {
	lock       sync.Mutex
	memSys     *vm.MemorySystem
	recorder   *tracing.Recorder
	formatter  *tracing.TextFormatter
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		recorder:  tracing.NewRecorder(),
		formatter: tracing.NewTextFormatter(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterMemorySystem sets the memory system to be monitored.
func (m *Monitor) RegisterMemorySystem(memSys *vm.MemorySystem) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.memSys = memSys
}

// Recorder returns the recorder the walks of the monitor append to. Hooks
// added to it see every walk the monitor runs.
func (m *Monitor) Recorder() *tracing.Recorder {
	return m.recorder
}

// Router returns the handler that serves the monitor API and web page.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/config", m.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", m.setConfig).
		Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/api/translate/{va}", m.translate)
	r.HandleFunc("/api/pte/{ppn}/{index}", m.getPTE)
	r.HandleFunc("/api/table/{ppn}", m.listTable)
	r.HandleFunc("/api/mappings", m.listMappings)
	r.HandleFunc("/api/memsys", m.serializeMemSys)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/scan", m.scan)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring page walks with %s\n", url)

	go func() {
		err := http.Serve(listener, m.Router())
		dieOnErr(err)
	}()

	return url
}

type configRsp struct {
	Mode           string `json:"mode"`
	RootPPN        string `json:"root_ppn"`
	ArenaSize      uint64 `json:"arena_size"`
	SuperpageCheck string `json:"superpage_check"`
}

func (m *Monitor) getConfig(w http.ResponseWriter, _ *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	m.lock.Lock()
	rsp := configRsp{
		Mode:           m.memSys.Mode().String(),
		RootPPN:        hex(m.memSys.RootPPN()),
		ArenaSize:      m.memSys.Storage().Capacity(),
		SuperpageCheck: m.memSys.SuperpageCheck().String(),
	}
	m.lock.Unlock()

	writeJSON(w, rsp)
}

type configReq struct {
	Mode           string `json:"mode,omitempty"`
	RootPPN        string `json:"root_ppn,omitempty"`
	SuperpageCheck string `json:"superpage_check,omitempty"`
}

func (m *Monitor) setConfig(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	req := configReq{}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		badRequest(w, err)
		return
	}

	m.lock.Lock()
	err := m.applyConfig(req)
	m.lock.Unlock()

	if err != nil {
		badRequest(w, err)
		return
	}

	m.getConfig(w, r)
}

func (m *Monitor) applyConfig(req configReq) error {
	mode := m.memSys.Mode()
	rootPPN := m.memSys.RootPPN()
	check := m.memSys.SuperpageCheck()

	var err error

	if req.Mode != "" {
		if mode, err = vm.ParseMode(req.Mode); err != nil {
			return err
		}
	}

	if req.RootPPN != "" {
		if rootPPN, err = parseNumber(req.RootPPN); err != nil {
			return err
		}
	}

	if req.SuperpageCheck != "" {
		if check, err = vm.ParseSuperpageCheck(req.SuperpageCheck); err != nil {
			return err
		}
	}

	if err = m.memSys.Configure(mode, rootPPN); err != nil {
		return err
	}

	m.memSys.SetSuperpageCheck(check)

	return nil
}

type faultRsp struct {
	Kind        string `json:"kind"`
	Level       int    `json:"level"`
	PAddr       string `json:"paddr"`
	IsPageFault bool   `json:"is_page_fault"`
	Message     string `json:"message"`
}

type translateRsp struct {
	VAddr  string          `json:"va"`
	PAddr  string          `json:"pa,omitempty"`
	Fault  *faultRsp       `json:"fault,omitempty"`
	Events []tracing.Event `json:"events"`
}

func (m *Monitor) translate(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	vAddr, err := parseNumber(mux.Vars(r)["va"])
	if err != nil {
		badRequest(w, err)
		return
	}

	m.lock.Lock()
	pAddr, err := m.memSys.Translate(vAddr, m.recorder)
	events := m.recorder.Events()
	m.lock.Unlock()

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		dieOnErr(m.formatter.Write(w, events))

		return
	}

	rsp := translateRsp{
		VAddr:  hex(vAddr),
		Events: events,
	}

	var fault *vm.Fault

	switch {
	case err == nil:
		rsp.PAddr = hex(pAddr)
	case errors.As(err, &fault):
		rsp.Fault = &faultRsp{
			Kind:        fault.Kind.String(),
			Level:       fault.Level,
			PAddr:       hex(fault.PAddr),
			IsPageFault: fault.Kind.IsPageFault(),
			Message:     fault.Error(),
		}
	default:
		badRequest(w, err)
		return
	}

	writeJSON(w, rsp)
}

type pteRsp struct {
	Index   string `json:"index"`
	Addr    string `json:"addr"`
	PPN     string `json:"ppn"`
	Flags   string `json:"flags"`
	Valid   bool   `json:"valid"`
	Leaf    bool   `json:"leaf"`
	Pointer bool   `json:"pointer"`
}

func makePTERsp(index, addr uint64, pte vm.PTE) pteRsp {
	return pteRsp{
		Index:   hex(index),
		Addr:    hex(addr),
		PPN:     hex(pte.PPN),
		Flags:   pte.Flags.String(),
		Valid:   pte.IsValid(),
		Leaf:    pte.IsValid() && pte.IsLeaf(),
		Pointer: pte.IsPointer(),
	}
}

func (m *Monitor) getPTE(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	ppn, err := parseNumber(mux.Vars(r)["ppn"])
	if err != nil {
		badRequest(w, err)
		return
	}

	index, err := parseNumber(mux.Vars(r)["index"])
	if err != nil {
		badRequest(w, err)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	t, err := m.memSys.Table(ppn)
	if err != nil {
		notFound(w, err)
		return
	}

	pte, err := t.Entry(index)
	if err != nil {
		notFound(w, err)
		return
	}

	addr, _ := t.EntryAddr(index)

	writeJSON(w, makePTERsp(index, addr, pte))
}

func (m *Monitor) listTable(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	ppn, err := parseNumber(mux.Vars(r)["ppn"])
	if err != nil {
		badRequest(w, err)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	t, err := m.memSys.Table(ppn)
	if err != nil {
		notFound(w, err)
		return
	}

	entries, err := t.ValidEntries()
	dieOnErr(err)

	rsp := make([]pteRsp, 0, len(entries))
	for _, e := range entries {
		addr, _ := t.EntryAddr(e.Index)
		rsp = append(rsp, makePTERsp(e.Index, addr, e.PTE))
	}

	writeJSON(w, rsp)
}

type mappingRsp struct {
	VAddr string `json:"va"`
	Level int    `json:"level"`
	Size  uint64 `json:"size"`
	PPN   string `json:"ppn"`
	Flags string `json:"flags"`
}

func (m *Monitor) listMappings(w http.ResponseWriter, _ *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	m.lock.Lock()
	mappings, err := m.memSys.Mappings()
	m.lock.Unlock()

	if err != nil {
		badRequest(w, err)
		return
	}

	rsp := make([]mappingRsp, 0, len(mappings))
	for _, mapping := range mappings {
		rsp = append(rsp, mappingRsp{
			VAddr: hex(mapping.VAddr),
			Level: mapping.Level,
			Size:  mapping.Size,
			PPN:   hex(mapping.PTE.PPN),
			Flags: mapping.PTE.Flags.String(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) serializeMemSys(w http.ResponseWriter, _ *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.memSys)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		badRequest(w, err)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.memSys)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		badRequest(w, err)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type scanRsp struct {
	Start    string            `json:"start"`
	Total    uint64            `json:"total"`
	Outcomes map[string]uint64 `json:"outcomes"`
}

// scan translates every step-th address in [start, end) and counts the
// outcomes by fault kind.
func (m *Monitor) scan(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveMemSys(w) {
		return
	}

	start, end, step, err := scanParseParams(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	total := scanSize(start, end, step)

	bar := m.CreateProgressBar("scan "+hex(start), total)

	rsp := scanRsp{
		Start:    hex(start),
		Total:    total,
		Outcomes: make(map[string]uint64),
	}

	for i := uint64(0); i < total; i++ {
		vAddr := start + i*step

		bar.IncrementInProgress(1)

		m.lock.Lock()
		_, err := m.memSys.Translate(vAddr, nil)
		m.lock.Unlock()

		rsp.Outcomes[outcomeOf(err)]++

		bar.MoveInProgressToFinished(1)
	}

	m.CompleteProgressBar(bar)

	writeJSON(w, rsp)
}

func scanParseParams(r *http.Request) (start, end, step uint64, err error) {
	query := r.URL.Query()

	start, err = parseNumber(query.Get("start"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("start: %w", err)
	}

	end, err = parseNumber(query.Get("end"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("end: %w", err)
	}

	step = vm.PageSize
	if s := query.Get("step"); s != "" {
		step, err = parseNumber(s)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("step: %w", err)
		}
	}

	if step == 0 || end <= start {
		return 0, 0, 0, errors.New("empty scan range")
	}

	if scanSize(start, end, step) > maxScanSize {
		return 0, 0, 0, fmt.Errorf("scan covers more than %d addresses",
			maxScanSize)
	}

	return start, end, step, nil
}

// scanSize counts the addresses start + i*step below end.
func scanSize(start, end, step uint64) uint64 {
	n := end - start

	total := n / step
	if n%step != 0 {
		total++
	}

	return total
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}

	var fault *vm.Fault
	if errors.As(err, &fault) {
		return fault.Kind.String()
	}

	return "error"
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) mustHaveMemSys(w http.ResponseWriter) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.memSys == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, err := w.Write([]byte("No memory system registered"))
		dieOnErr(err)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Error: %s", err)
}

func notFound(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "Error: %s", err)
}

func parseNumber(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
