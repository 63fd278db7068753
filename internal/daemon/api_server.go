package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/intake"
	"animdb/internal/logging"
	"animdb/internal/stage"
	"animdb/internal/status"
	"animdb/internal/workflow"
)

// maxReadBytes bounds how much of an oversized body is read to report its
// size.
const maxReadBytes = 4 << 20

// HealthReport is the /healthz response body.
type HealthReport struct {
	Ready  bool           `json:"ready"`
	Stages []stage.Health `json:"stages"`
}

// GatesResponse is the /gates response body.
type GatesResponse struct {
	Exists   bool             `json:"exists"`
	Registry control.Document `json:"registry"`
}

type apiServer struct {
	bind     string
	cfg      *config.Config
	logger   *slog.Logger
	registry *control.Registry
	intake   *intake.Service
	workflow *workflow.Manager
	now      func() time.Time

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, intakeSvc *intake.Service, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Server.Bind),
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		registry: d.registry,
		intake:   intakeSvc,
		workflow: d.workflow,
		now:      time.Now,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	// Without configured origins cors would allow every origin.
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", intakeNameHeader},
			MaxAge:         300,
		}))
	}

	r.Post("/intake", s.handleIntake)
	r.Get("/status", s.handleStatus)
	r.Get("/gates", s.handleGates)
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.bind, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	paths := make(map[string]string, len(stage.Names()))
	for _, name := range stage.Names() {
		paths[name] = s.cfg.StatusPath(name)
	}
	s.writeJSON(w, http.StatusOK, status.Collect(paths, s.now()))
}

func (s *apiServer) handleGates(w http.ResponseWriter, _ *http.Request) {
	doc, exists, err := s.registry.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, GatesResponse{Exists: exists, Registry: doc})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Ready: true}
	report.Stages = append(report.Stages, stage.CheckDirs(stage.Intake, s.cfg.Paths.StagingDir, s.cfg.Paths.StateDir))
	summary := s.workflow.Status(r.Context())
	for _, name := range stage.Names() {
		if h, ok := summary.StageHealth[name]; ok {
			report.Stages = append(report.Stages, h)
		}
	}
	for _, h := range report.Stages {
		if !h.Ready {
			report.Ready = false
		}
	}
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, report)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func readBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxReadBytes))
}
