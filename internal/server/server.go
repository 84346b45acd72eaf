// Package server provides the HTTP server and routing for the valuation
// engine's read API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/coveylabs/valuation-engine/internal/database"
	portfoliohandlers "github.com/coveylabs/valuation-engine/internal/modules/portfolio/handlers"
)

// Config holds server configuration
type Config struct {
	Log              zerolog.Logger
	Port             int
	DevMode          bool
	PortfolioHandler *portfoliohandlers.Handler
	Databases        []*database.DB
}

// Server is the read-only HTTP surface over sealed valuation output
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	databases []*database.DB
	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		databases: cfg.Databases,
		startedAt: time.Now().UTC(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if cfg.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/api/health", s.handleHealth)
	cfg.PortfolioHandler.RegisterRoutes(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /api/health: database liveness plus host load
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := make(map[string]string)
	for _, db := range s.databases {
		if err := db.HealthCheck(ctx); err != nil {
			dbStatus[db.Name()] = err.Error()
			status = "degraded"
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	health := map[string]interface{}{
		"status":         status,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"databases":      dbStatus,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(health)
}
