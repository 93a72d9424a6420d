// Package monitoring turns a running simulation into a small HTTP
// server so long runs can be watched from a browser.
package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"

	"github.com/sarchlab/mipsim/sim"
)

// Monitor serves the state of one simulator over HTTP.
type Monitor struct {
	simulator  *sim.Simulator
	portNumber int
	runID      string
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		runID: xid.New().String(),
	}
}

// WithSimulator sets the simulator to monitor.
func (m *Monitor) WithSimulator(s *sim.Simulator) *Monitor {
	m.simulator = s
	return m
}

// WithPortNumber sets the port to serve on. Port 0 picks a free one.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	m.portNumber = portNumber
	return m
}

// StartServer starts serving in the background and opens the
// dashboard. It returns the address served on.
func (m *Monitor) StartServer() string {
	listener, err := net.Listen(
		"tcp", fmt.Sprintf("127.0.0.1:%d", m.portNumber))
	if err != nil {
		log.Panic(err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/now", m.handleNow)
	router.HandleFunc("/api/stats", m.handleStats)
	router.HandleFunc("/api/resources", m.handleResources)

	url := "http://" + listener.Addr().String()
	fmt.Fprintf(os.Stderr, "Monitoring simulation at %s\n", url)

	go func() {
		if serveErr := http.Serve(listener, router); serveErr != nil {
			log.Print(serveErr)
		}
	}()

	_ = browser.OpenURL(url + "/api/now")

	return url
}

func (m *Monitor) handleNow(w http.ResponseWriter, r *http.Request) {
	m.writeJSON(w, map[string]any{
		"run_id": m.runID,
		"cycle":  m.simulator.Now(),
	})
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	s := m.simulator

	stats := map[string]any{
		"dram": s.DRAM().Stats,
		"l2":   s.L2().Stats,
	}

	for i := 0; i < s.NumCores(); i++ {
		stats[fmt.Sprintf("core%d_l1i", i)] = s.Core(i).ICache.Stats
		stats[fmt.Sprintf("core%d_l1d", i)] = s.Core(i).DCache.Stats
	}

	m.writeJSON(w, stats)
}

func (m *Monitor) handleResources(w http.ResponseWriter, r *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, map[string]any{
		"rss_bytes":   memInfo.RSS,
		"cpu_percent": cpuPercent,
	})
}

func (m *Monitor) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Print(err)
	}
}
