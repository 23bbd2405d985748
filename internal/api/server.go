package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"kvstorm/internal/cluster"
	"kvstorm/internal/events"
	"kvstorm/internal/fault"
	"kvstorm/internal/logger"
	"kvstorm/internal/metrics"
)

// Source はサーバーが公開する状態の提供元（scenario.Engine が満たす）
type Source interface {
	Probe() cluster.Probe
	Controller() *fault.Controller
	Counters() *metrics.Counters
}

// Server はAPIサーバー
type Server struct {
	addr     string
	source   Source
	bus      *events.Bus
	registry *prometheus.Registry

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
// bus が nil なら /ws はイベントを配信しない
func NewServer(addr string, source Source, bus *events.Bus) *Server {
	s := &Server{
		addr:     addr,
		source:   source,
		bus:      bus,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(sourceCollector{source: source})
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kvstorm",
		Name:      "fault_active",
		Help:      "1 while a fault window is applied.",
	}, func() float64 {
		c := source.Controller()
		if c == nil || c.Status().Active == nil {
			return 0
		}
		return 1
	}))
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/counters", s.handleCounters)
	mux.HandleFunc("/api/fault", s.handleFault)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Converged bool              `json:"converged"`
	Snapshot  *cluster.Snapshot `json:"snapshot,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	probe := s.source.Probe()
	if probe == nil {
		http.Error(w, "Cluster not set up", http.StatusServiceUnavailable)
		return
	}

	snap, err := probe.Snapshot(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Converged: snap.Converged(), Snapshot: snap})
}

// CountersResponse はカウンタレスポンス
type CountersResponse struct {
	metrics.Snapshot
	OverallOPS   float64 `json:"overall_ops"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := s.source.Counters()
	if c == nil {
		http.Error(w, "Load generation disabled", http.StatusNotFound)
		return
	}

	snap := c.Snapshot()
	s.writeJSON(w, http.StatusOK, CountersResponse{
		Snapshot:     snap,
		OverallOPS:   snap.OverallOPS(),
		AvgLatencyMs: float64(snap.Delta.AverageLatency()) / float64(time.Millisecond),
	})
}

// FaultResponse はフォールト状態レスポンス
type FaultResponse struct {
	Enabled bool          `json:"enabled"`
	Status  *fault.Status `json:"status,omitempty"`
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := FaultResponse{}
	if c := s.source.Controller(); c != nil {
		st := c.Status()
		resp.Enabled = true
		resp.Status = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket はイベントバスのイベントをJSONで配信する
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	defer func() { _ = ws.Close() }()

	if s.bus == nil {
		return
	}
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	// クライアントからの受信はすべて読み捨て、切断を検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var msg string
		for {
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	ctx := ws.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				logger.Debug("", "WebSocket send failed: %v", err)
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}

// sourceCollector はスクレイプ時点のカウンタを収集する
// カウンタは Setup 後に決まるため unchecked collector として登録する
type sourceCollector struct {
	source Source
}

func (sourceCollector) Describe(chan<- *prometheus.Desc) {}

func (c sourceCollector) Collect(ch chan<- prometheus.Metric) {
	if counters := c.source.Counters(); counters != nil {
		counters.Collect(ch)
	}
}
