// Package status exposes the runtime's pool and container state over
// HTTP: a JSON snapshot endpoint, a live WebSocket push, and a
// Prometheus /metrics endpoint. Structure follows the donor's
// announce-webui-simple server (gorilla/mux router, a
// map[*websocket.Conn]chan Snapshot client registry guarded by its
// own mutex, a broadcast loop that drops messages for a full client
// channel rather than blocking).
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fathomlabs/taskrun/pkg/logging"
	"github.com/fathomlabs/taskrun/pkg/pool"
)

// Snapshot is the JSON-serializable view of runtime state this server
// reports through the API and WebSocket endpoints.
type Snapshot struct {
	Workers        int `json:"workers"`
	Pending        int `json:"pending"`
	Dequeued       uint64 `json:"dequeued"`
	ContainerSize  int `json:"container_size"`
	ContainerCap   int `json:"container_capacity"`
}

// SourceFunc produces the current Snapshot on demand; the caller (the
// demo driver) supplies one that reads its pool and container.
type SourceFunc func() Snapshot

// Server serves a JSON snapshot, a live WebSocket feed, and Prometheus
// metrics describing a running Pool and Container.
type Server struct {
	logger *logging.Logger
	source SourceFunc

	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]chan Snapshot
	wsMutex    sync.RWMutex

	workersGauge  prometheus.Gauge
	pendingGauge  prometheus.Gauge
	dequeuedGauge prometheus.Gauge
	sizeGauge     prometheus.Gauge
	capGauge      prometheus.Gauge

	registry *prometheus.Registry
}

// NewServer builds a status server that reports whatever source
// returns each time it is polled.
func NewServer(logger *logging.Logger, source SourceFunc) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	registry := prometheus.NewRegistry()

	s := &Server{
		logger: logger.WithTag("status"),
		source: source,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients: make(map[*websocket.Conn]chan Snapshot),
		registry:  registry,

		workersGauge:  promauto.With(registry).NewGauge(prometheus.GaugeOpts{Name: "taskrun_pool_workers", Help: "Number of pool worker goroutines."}),
		pendingGauge:  promauto.With(registry).NewGauge(prometheus.GaugeOpts{Name: "taskrun_pool_pending", Help: "Number of thunks waiting in the pool queue."}),
		dequeuedGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{Name: "taskrun_pool_dequeued_total", Help: "Number of thunks dequeued by workers so far."}),
		sizeGauge:     promauto.With(registry).NewGauge(prometheus.GaugeOpts{Name: "taskrun_container_size", Help: "Current logical record count."}),
		capGauge:      promauto.With(registry).NewGauge(prometheus.GaugeOpts{Name: "taskrun_container_capacity", Help: "Current backing capacity in records."}),
	}

	return s
}

// Router builds the mux.Router serving this status server's endpoints.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/pool", s.handleSnapshot).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return router
}

// ListenAndServe serves the status router at addr and returns only when
// the underlying HTTP server fails; it has no shutdown path of its own.
// Call Broadcast periodically (e.g. from a ticker goroutine) to push
// updates to connected WebSocket clients.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Infof("status server listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source()); err != nil {
		s.logger.Errorf("snapshot encode error: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientChan := make(chan Snapshot, 10)

	s.wsMutex.Lock()
	s.wsClients[conn] = clientChan
	s.wsMutex.Unlock()

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		close(clientChan)
	}()

	for msg := range clientChan {
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Errorf("websocket write error: %v", err)
			break
		}
	}
}

// Broadcast pushes the current snapshot to every connected WebSocket
// client, dropping it for any client whose channel is currently full
// rather than blocking the broadcaster.
func (s *Server) Broadcast() {
	snap := s.source()

	s.workersGauge.Set(float64(snap.Workers))
	s.pendingGauge.Set(float64(snap.Pending))
	s.dequeuedGauge.Set(float64(snap.Dequeued))
	s.sizeGauge.Set(float64(snap.ContainerSize))
	s.capGauge.Set(float64(snap.ContainerCap))

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()
	for _, clientChan := range s.wsClients {
		select {
		case clientChan <- snap:
		default:
		}
	}
}

// RunBroadcastLoop calls Broadcast every interval until stop is closed.
func (s *Server) RunBroadcastLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Broadcast()
		case <-stop:
			return
		}
	}
}

// SnapshotFromPool is a convenience constructor for a SourceFunc reading
// a live pool's stats, with the container size and capacity taken from
// the two supplied functions each time a snapshot is produced.
func SnapshotFromPool(p *pool.Pool, workerCount int, containerSize, containerCap func() int) SourceFunc {
	return func() Snapshot {
		stats := p.Snapshot(workerCount)
		return Snapshot{
			Workers:       stats.Workers,
			Pending:       stats.Pending,
			Dequeued:      stats.Dequeued,
			ContainerSize: containerSize(),
			ContainerCap:  containerCap(),
		}
	}
}
