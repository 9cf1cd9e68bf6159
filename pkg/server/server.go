// Package server exposes the HTTP surface: chat fulfillment, connect
// URL building, and documentation sync.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/appbridge-ai/appbridge/pkg/apps"
	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/appbridge-ai/appbridge/pkg/pipeline"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// Fulfiller runs one chat turn. Satisfied by pipeline.Pipeline.
type Fulfiller interface {
	Fulfill(ctx context.Context, input pipeline.Input) (*pipeline.Result, error)
}

// Server wires the fulfillment pipeline, the adapter registry, and the
// relational store behind a chi router.
type Server struct {
	cfg        config.ServerConfig
	store      *storage.Store
	registry   *apps.Registry
	pipeline   Fulfiller
	httpServer *http.Server
}

func New(cfg config.ServerConfig, store *storage.Store, registry *apps.Registry, p Fulfiller) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		pipeline: p,
	}
}

// Start blocks serving HTTP until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("HTTP server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// Handler builds the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/handle-connect/{appID}", s.handleConnect)
		r.Get("/user-app/{appID}", s.handleGetUserApp)
		r.Delete("/user-app/{appID}", s.handleDisconnect)
		r.Post("/app/{appID}/documentation", s.handleSyncDocumentation)
		r.Patch("/documentation/{vecID}", s.handleEditDocumentation)
	})

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
