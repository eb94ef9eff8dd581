// Diagnostics HTTP/WebSocket server for the surface driver
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package monitor serves driver diagnostics over HTTP: a JSON status
// snapshot and a WebSocket stream of periodic status frames for
// factory bring-up tooling.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/log"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/metrics"
)

// StatusSource is the driver surface queried for diagnostics. The
// monitor only reads cached driver state; it never touches the bus.
type StatusSource interface {
	ActiveKnobs() []int
	FirmwareVersion(knob int) (string, error)
	KnobHapticMode(knob int) string
}

// Config holds monitor server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g., ":9120").
	Addr string

	// Source supplies the driver state to report.
	Source StatusSource

	// StreamInterval is the WebSocket status frame period
	// (default: 500ms).
	StreamInterval time.Duration

	// Metrics, when non-nil, is served at /metrics in Prometheus
	// text format.
	Metrics *metrics.Registry

	// Logger for server events. Defaults to a "monitor" logger.
	Logger *log.Logger
}

// KnobStatus is one knob's entry in a status report.
type KnobStatus struct {
	Knob       int    `json:"knob"`
	Firmware   string `json:"firmware"`
	HapticMode string `json:"haptic_mode"`
}

// Status is the diagnostics snapshot served over HTTP and streamed
// over the WebSocket.
type Status struct {
	Uptime      float64      `json:"uptime"`
	ActiveKnobs int          `json:"active_knobs"`
	Knobs       []KnobStatus `json:"knobs"`
}

// Server is the diagnostics server.
type Server struct {
	source  StatusSource
	addr    string
	logger  *log.Logger
	metrics *metrics.Registry

	httpServer *http.Server
	upgrader   websocket.Upgrader
	interval   time.Duration

	clientMu sync.Mutex
	clients  map[int64]*wsClient
	nextID   int64

	running   atomic.Bool
	startTime time.Time
}

// New creates a diagnostics server for the given driver.
func New(cfg Config) *Server {
	if cfg.StreamInterval == 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New("monitor")
	}
	s := &Server{
		source:    cfg.Source,
		addr:      cfg.Addr,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		interval:  cfg.StreamInterval,
		clients:   make(map[int64]*wsClient),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP handler serving the monitor endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/surface/status", s.handleStatus)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	if s.metrics != nil {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}
	return mux
}

// Start serves until the listener fails or Stop is called. Blocks the
// calling goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	s.logger.Info("diagnostics server listening on %s", s.addr)

	go s.streamLoop()

	return s.httpServer.ListenAndServe()
}

// Stop closes all WebSocket clients and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// snapshot builds the current status report from the driver's cached
// state.
func (s *Server) snapshot() Status {
	st := Status{
		Uptime: time.Since(s.startTime).Seconds(),
	}
	if s.source == nil {
		return st
	}

	active := s.source.ActiveKnobs()
	st.ActiveKnobs = len(active)
	for _, i := range active {
		fw, _ := s.source.FirmwareVersion(i)
		st.Knobs = append(st.Knobs, KnobStatus{
			Knob:       i,
			Firmware:   fw,
			HapticMode: s.source.KnobHapticMode(i),
		})
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := s.metrics.WritePrometheus(w); err != nil {
		s.logger.Warn("metrics write failed: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:   atomic.AddInt64(&s.nextID, 1),
		conn: conn,
	}

	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.logger.Info("websocket client %d connected", c.id)

	// Initial frame so the client need not wait a full interval.
	c.send(s.snapshot())

	// Block draining control frames until the peer disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	c.close()
	s.logger.Info("websocket client %d disconnected", c.id)
}

// streamLoop pushes a status frame to every connected client at the
// configured interval.
func (s *Server) streamLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		st := s.snapshot()

		s.clientMu.Lock()
		for _, c := range s.clients {
			c.send(st)
		}
		s.clientMu.Unlock()
	}
}

// wsClient is one WebSocket subscriber.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) send(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(st); err != nil {
		c.conn.Close()
		c.closed = true
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.conn.Close()
	c.closed = true
}
