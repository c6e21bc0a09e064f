// Package server exposes the read API over persisted signals and alerts,
// plus the administrative model endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/lifecycle"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ModelAdmin is the lifecycle surface the admin endpoints need.
type ModelAdmin interface {
	Refit(ctx context.Context) (lifecycle.RefitResult, error)
	Health() domain.ModelHealth
}

// Server serves the HTTP API.
type Server struct {
	signals storage.SignalStore
	alerts  storage.AlertStore
	models  ModelAdmin
	log     zerolog.Logger
	port    int
}

// New creates a Server.
func New(signals storage.SignalStore, alerts storage.AlertStore, models ModelAdmin, port int, log zerolog.Logger) *Server {
	return &Server{
		signals: signals,
		alerts:  alerts,
		models:  models,
		log:     log.With().Str("component", "server").Logger(),
		port:    port,
	}
}

// Router builds the route tree. Exposed separately so tests can drive it
// with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	}))

	r.Get("/healthz", s.getHealthz)
	r.Get("/metrics", observability.Handler().ServeHTTP)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/signals", s.getSignals)
		r.Get("/signals/{id}", s.getSignal)
		r.Get("/alerts", s.getAlerts)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/model", s.getModel)
			r.Post("/refit", s.postRefit)
		})
	})
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.models.Health(),
	})
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r)

	var (
		sigs []*domain.Signal
		err  error
	)
	if entity := r.URL.Query().Get("entity_key"); entity != "" {
		source := domain.Source(r.URL.Query().Get("source"))
		if !source.IsValid() {
			writeError(w, http.StatusBadRequest, "entity_key filter requires a valid source")
			return
		}
		sigs, err = s.signals.GetRecentByEntity(ctx, source, entity, limit)
	} else {
		sigs, err = s.signals.GetRecent(ctx, limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("list signals failed")
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": sigs,
		"count":   len(sigs),
	})
}

func (s *Server) getSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sig, err := s.signals.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "signal not found")
			return
		}
		s.log.Error().Err(err).Str("id", id).Msg("get signal failed")
		writeError(w, http.StatusInternalServerError, "failed to load signal")
		return
	}

	resp := map[string]any{"signal": sig}
	if alert, err := s.alerts.GetBySignalID(r.Context(), id); err == nil {
		resp["alert"] = alert
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.log.Error().Err(err).Str("id", id).Msg("get signal alert failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.GetRecent(r.Context(), queryLimit(r))
	if err != nil {
		s.log.Error().Err(err).Msg("list alerts failed")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models.Health())
}

func (s *Server) postRefit(w http.ResponseWriter, r *http.Request) {
	res, err := s.models.Refit(r.Context())
	if err != nil {
		if errors.Is(err, lifecycle.ErrInsufficientHistory) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("refit failed")
		writeError(w, http.StatusInternalServerError, "refit failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
