// Package debugsrv serves /metrics, /healthz and optionally /debug/pprof on a
// side port. It is reconfigurable at runtime.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "scuttlebot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

type Config struct {
	Enabled      bool
	Addr         string
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// HealthFunc reports liveness and a JSON-serialisable detail payload.
type HealthFunc func() (ok bool, detail any)

type Server struct {
	log     logx.Logger
	metrics http.Handler
	health  HealthFunc

	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	addr string
}

func New(log logx.Logger, metrics http.Handler, health HealthFunc) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log, metrics: metrics, health: health}
}

// Router builds the handler tree for cfg.
func (s *Server) Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	ok, detail := true, any(nil)
	if s.health != nil {
		ok, detail = s.health()
	}
	code := http.StatusOK
	status := "ok"
	if !ok {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "detail": detail})
}

// Addr is the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Apply starts, stops or restarts the server to match cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s.mu.Lock()
	prev, running := s.cfg, s.srv != nil
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		s.Stop(ctx)
		running = false
	}
	if !cfg.Enabled || running {
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}
	return s.start(cfg)
}

func (s *Server) start(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.cfg = cfg
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server stopped", logx.Err(err))
		}
	}()
	s.log.Info("debug server listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cfg.Pprof))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("debug server stopped")
}
