// Package monitoring serves the state of a registry and its purge scheduler
// over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/weakref/idgen"
	"github.com/sarchlab/weakref/purge"
	"github.com/sarchlab/weakref/registry"
)

// Monitor turns a registry and its scheduler into a web server.
type Monitor struct {
	registry   *registry.Registry
	scheduler  *purge.Scheduler
	hostStats  func() any
	portNumber int
	log        zerolog.Logger

	server *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{log: zerolog.Nop()}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		m.log.Warn().
			Int("port", portNumber).
			Msg("port not allowed for the monitor, using a random port")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(log zerolog.Logger) *Monitor {
	m.log = log.With().Str("component", "monitor").Logger()
	return m
}

// RegisterRegistry sets the registry to report.
func (m *Monitor) RegisterRegistry(r *registry.Registry) {
	m.registry = r
}

// RegisterScheduler sets the scheduler to report and control.
func (m *Monitor) RegisterScheduler(s *purge.Scheduler) {
	m.scheduler = s
}

// RegisterHostStats sets a source of host statistics added to /api/stats.
func (m *Monitor) RegisterHostStats(fn func() any) {
	m.hostStats = fn
}

// Router returns the handler that serves the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/purging", m.purging).Methods(http.MethodGet)
	r.HandleFunc("/api/purging", m.setPurging).Methods(http.MethodPost)
	r.HandleFunc("/api/purge", m.purgeNow).Methods(http.MethodPost)
	r.HandleFunc("/api/sweeps/last", m.lastSweep).Methods(http.MethodGet)
	r.HandleFunc("/api/handle/{id}", m.handleDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.HandleFunc("/", m.page).Methods(http.MethodGet)

	return r
}

// StartServer starts serving in the background and returns the port.
func (m *Monitor) StartServer() (int, error) {
	listener, err := net.Listen("tcp", m.listenAddr())
	if err != nil {
		return 0, fmt.Errorf("monitoring: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(os.Stderr, "Monitoring weak references with http://localhost:%d\n", port)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("monitor stopped")
		}
	}()

	return port, nil
}

// listenAddr is the address StartServer binds. Port 0 asks for a random one.
func (m *Monitor) listenAddr() string {
	return ":" + strconv.Itoa(m.portNumber)
}

// Shutdown stops the server.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type statsRsp struct {
	Registry      registry.Stats `json:"registry"`
	Host          any            `json:"host,omitempty"`
	Purging       bool           `json:"purging"`
	SweepCount    int            `json:"sweep_count"`
	SweepInterval string         `json:"sweep_interval,omitempty"`
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	rsp := statsRsp{}

	if m.registry != nil {
		rsp.Registry = m.registry.Stats()
	}

	if m.hostStats != nil {
		rsp.Host = m.hostStats()
	}

	if m.scheduler != nil {
		rsp.Purging = m.scheduler.IsEnabled()
		rsp.SweepCount = m.scheduler.SweepCount()
		rsp.SweepInterval = m.scheduler.Interval().String()
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) schedulerOr404(w http.ResponseWriter) *purge.Scheduler {
	if m.scheduler == nil {
		http.Error(w, "no scheduler registered", http.StatusNotFound)
	}

	return m.scheduler
}

func (m *Monitor) purging(w http.ResponseWriter, _ *http.Request) {
	s := m.schedulerOr404(w)
	if s == nil {
		return
	}

	m.writeJSON(w, map[string]bool{"enabled": s.IsEnabled()})
}

func (m *Monitor) setPurging(w http.ResponseWriter, r *http.Request) {
	s := m.schedulerOr404(w)
	if s == nil {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch strings.TrimSpace(string(body)) {
	case "enable":
		s.Enable()
	case "disable":
		s.Disable()
	default:
		http.Error(w, "expecting enable or disable", http.StatusBadRequest)
		return
	}

	m.writeJSON(w, map[string]bool{"enabled": s.IsEnabled()})
}

func (m *Monitor) purgeNow(w http.ResponseWriter, _ *http.Request) {
	s := m.schedulerOr404(w)
	if s == nil {
		return
	}

	m.writeJSON(w, s.PurgeNow())
}

func (m *Monitor) lastSweep(w http.ResponseWriter, _ *http.Request) {
	s := m.schedulerOr404(w)
	if s == nil {
		return
	}

	stats, ok := s.LastStats()
	if !ok {
		http.Error(w, "no sweep yet", http.StatusNotFound)
		return
	}

	m.writeJSON(w, stats)
}

func (m *Monitor) handleDetails(w http.ResponseWriter, r *http.Request) {
	if m.registry == nil {
		http.Error(w, "no registry registered", http.StatusNotFound)
		return
	}

	id := idgen.ID(mux.Vars(r)["id"])

	h, ok := m.registry.Lookup(id)
	if !ok {
		http.Error(w, "handle not found", http.StatusNotFound)
		return
	}

	referent, err := h.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(referent)
	serializer.SetMaxDepth(1)

	buf := bytes.NewBuffer(nil)
	if err := serializer.Serialize(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	m.write(w, buf.Bytes())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	m.write(w, data)
}

func (m *Monitor) write(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		m.log.Debug().Err(err).Msg("write response")
	}
}
