package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics, a liveness probe and a readiness probe that
// reports which stages have a live process.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	live     map[string]int
}

// NewServer creates a metrics server exposing gatherer. A nil gatherer
// selects the default registry.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:   addr,
		logger: logger,
		live:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// StageStarted marks a process of stage as live.
func (s *Server) StageStarted(stage string) {
	s.mu.Lock()
	s.live[stage]++
	s.mu.Unlock()
}

// StageExited marks one process of stage as gone.
func (s *Server) StageExited(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[stage] <= 1 {
		delete(s.live, stage)
		return
	}
	s.live[stage]--
}

// LiveStages returns the stages with a live process, sorted.
func (s *Server) LiveStages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := make([]string, 0, len(s.live))
	for stage := range s.live {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

// handleReady answers 200 with the live stages, or 503 "idle" when no
// process is running.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	stages := s.LiveStages()
	if len(stages) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "idle")
		return
	}
	fmt.Fprintln(w, "running "+strings.Join(stages, ","))
}

// Start binds the listen address and serves in a goroutine. Bind errors
// are returned; serve errors are logged. Use Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("metrics_server_starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
