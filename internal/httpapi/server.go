package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stupiduntilnot/wonder/internal/control"
	"github.com/stupiduntilnot/wonder/internal/observability"
)

// UserCounter reports how many users have conversation state.
type UserCounter interface {
	Users() int
}

// Server exposes health and metrics endpoints next to the bot.
type Server struct {
	metrics *observability.Metrics
	circuit *control.CircuitBreaker
	users   UserCounter
	logger  *slog.Logger
}

func New(metrics *observability.Metrics, circuit *control.CircuitBreaker, users UserCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{metrics: metrics, circuit: circuit, users: users, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Circuit string `json:"circuit,omitempty"`
	Users   int    `json:"users"`
}

// handleHealth answers 503 while polling is suspended by an open circuit.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.users != nil {
		resp.Users = s.users.Users()
	}
	status := http.StatusOK
	if s.circuit != nil {
		state := s.circuit.State()
		resp.Circuit = string(state)
		if state == control.CircuitOpen {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
