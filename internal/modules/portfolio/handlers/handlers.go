// Package handlers provides the read-only HTTP surface over sealed
// valuation output.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
	"github.com/coveylabs/valuation-engine/internal/modules/portfolio"
	"github.com/coveylabs/valuation-engine/internal/modules/trading"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	snapshots *portfolio.SnapshotRepository
	trades    *trading.Repository
	log       zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(snapshots *portfolio.SnapshotRepository, trades *trading.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		trades:    trades,
		log:       log.With().Str("handler", "portfolio").Logger(),
	}
}

// RegisterRoutes registers the portfolio routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/portfolio/latest", h.HandleGetLatest)
	r.Get("/api/portfolio/snapshots", h.HandleGetSnapshots)
	r.Get("/api/portfolio/positions", h.HandleGetPositions)
	r.Get("/api/portfolio/fills", h.HandleGetFills)
	r.Get("/api/portfolio/stats", h.HandleGetStats)
	r.Get("/api/portfolio/runs/{id}/artifact", h.HandleGetArtifact)
}

// HandleGetLatest handles GET /api/portfolio/latest
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.snapshots.LatestRun()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest run")
		respondError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no valuation runs yet")
		return
	}

	snaps, err := h.snapshots.GetSnapshots(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}

	response := map[string]interface{}{
		"run": run,
	}
	if len(snaps) > 0 {
		response["snapshot"] = snaps[len(snaps)-1]
	}

	respondJSON(w, http.StatusOK, response)
}

// HandleGetSnapshots handles GET /api/portfolio/snapshots
func (h *Handler) HandleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.snapshots.LatestRun()
	if err != nil || !ok {
		respondError(w, http.StatusNotFound, "no valuation runs yet")
		return
	}

	snaps, err := h.snapshots.GetSnapshots(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    run.ID,
		"snapshots": snaps,
	})
}

// HandleGetPositions handles GET /api/portfolio/positions?timestamp=<unix>.
// Without a timestamp it returns the final checkpoint's positions.
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.snapshots.LatestRun()
	if err != nil || !ok {
		respondError(w, http.StatusNotFound, "no valuation runs yet")
		return
	}

	var ts time.Time
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "timestamp must be a unix timestamp")
			return
		}
		ts = time.Unix(unix, 0).UTC()
	} else {
		latest, ok, err := h.snapshots.LatestCheckpoint(run.ID)
		if err != nil || !ok {
			respondError(w, http.StatusNotFound, "run has no checkpoints")
			return
		}
		ts = latest
	}

	positions, err := h.snapshots.GetPositions(run.ID, ts)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load positions")
		respondError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    run.ID,
		"timestamp": ts.Unix(),
		"positions": positions,
	})
}

// HandleGetFills handles GET /api/portfolio/fills?symbol=<ticker>.
// Without a symbol it returns the run's full fill history in ID order;
// with one, that symbol's fill chain in market-entry order.
func (h *Handler) HandleGetFills(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.snapshots.LatestRun()
	if err != nil || !ok {
		respondError(w, http.StatusNotFound, "no valuation runs yet")
		return
	}

	var fills []domain.ResolvedFill
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		fills, err = h.trades.GetSymbolFills(run.ID, strings.ToUpper(symbol))
	} else {
		fills, err = h.trades.GetRunFills(run.ID)
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load fills")
		respondError(w, http.StatusInternalServerError, "failed to load fills")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": run.ID,
		"fills":  fills,
	})
}

// HandleGetStats handles GET /api/portfolio/stats
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.snapshots.LatestRun()
	if err != nil || !ok {
		respondError(w, http.StatusNotFound, "no valuation runs yet")
		return
	}

	snaps, err := h.snapshots.GetSnapshots(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": run.ID,
		"stats":  portfolio.ComputeStats(snaps),
	})
}

// HandleGetArtifact handles GET /api/portfolio/runs/{id}/artifact, returning
// the raw msgpack blob
func (h *Handler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	blob, err := h.snapshots.GetArtifact(runID)
	if err != nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "application/x-msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
