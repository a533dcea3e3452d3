// Package monitoring serves the live state of a co-simulation run over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a run into a server that external tools can poll.
type Monitor struct {
	portNumber     int
	openBrowser    bool
	profileTime    time.Duration
	statusSource   func() driver.Status
	archSource     func() arch.ArchState
	progressSource func() Progress
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		profileTime: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithOpenBrowser makes the monitor open the status page in a browser once
// the server is up.
func (m *Monitor) WithOpenBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterStatusSource sets where the run status comes from. The source may
// be called from any goroutine.
func (m *Monitor) RegisterStatusSource(f func() driver.Status) {
	m.statusSource = f
}

// RegisterArchSource sets where the reference model state comes from.
func (m *Monitor) RegisterArchSource(f func() arch.ArchState) {
	m.archSource = f
}

// RegisterProgressSource sets where the progress counters come from.
func (m *Monitor) RegisterProgressSource(f func() Progress) {
	m.progressSource = f
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/arch", m.archState)
	r.HandleFunc("/api/arch/{field}", m.archState)
	r.HandleFunc("/api/progress", m.progress)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts serving on the configured port, or a random one, and
// returns the address it listens on.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("localhost:%d", listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with http://%s\n", addr)

	go func() {
		err := http.Serve(listener, m.Handler())
		if err != nil {
			log.Printf("monitor stopped: %v", err)
		}
	}()

	if m.openBrowser {
		err = browser.OpenURL("http://" + addr + "/api/status")
		if err != nil {
			log.Printf("cannot open browser: %v", err)
		}
	}

	return addr, nil
}

type statusRsp struct {
	driver.Status
	StateName string `json:"state_name"`
	ExitCode  int    `json:"exit_code"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	if m.statusSource == nil {
		http.Error(w, "no status source", http.StatusNotFound)
		return
	}

	s := m.statusSource()

	writeJSON(w, statusRsp{
		Status:    s,
		StateName: s.State.String(),
		ExitCode:  s.State.ExitCode(),
	})
}

// archView is the reference model state with registers keyed by name, so
// that /api/arch/GPR.a0 or /api/arch/CSR.mepc select a single register.
type archView struct {
	PC  uint64
	GPR map[string]uint64
	CSR map[string]uint64
}

func newArchView(s arch.ArchState) *archView {
	v := &archView{
		PC:  s.PC,
		GPR: make(map[string]uint64, arch.NumGPR),
		CSR: make(map[string]uint64, arch.NumCSR),
	}

	for i, r := range s.GPR {
		v.GPR[arch.GPRName(i)] = r
	}

	for i, r := range s.CSR {
		v.CSR[arch.CSRName(i)] = r
	}

	return v
}

func (m *Monitor) archState(w http.ResponseWriter, r *http.Request) {
	if m.archSource == nil {
		http.Error(w, "no reference state source", http.StatusNotFound)
		return
	}

	view := newArchView(m.archSource())

	serializer := goseth.NewSerializer()
	serializer.SetRoot(view)
	serializer.SetMaxDepth(2)

	if field := mux.Vars(r)["field"]; field != "" {
		err := serializer.SetEntryPoint(strings.Split(field, "."))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	buf := new(bytes.Buffer)

	err := serializer.Serialize(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = w.Write(buf.Bytes())
	logOnErr(err)
}

func (m *Monitor) progress(w http.ResponseWriter, _ *http.Request) {
	if m.progressSource == nil {
		http.Error(w, "no progress source", http.StatusNotFound)
		return
	}

	writeJSON(w, m.progressSource())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()

	process, err := process.NewProcess(int32(pid))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := process.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memorySize, err := process.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileTime)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	logOnErr(err)
}

func logOnErr(err error) {
	if err != nil {
		log.Printf("monitor: %v", err)
	}
}
