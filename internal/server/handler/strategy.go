package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Publisher is satisfied by *agent.Manager.
type Publisher interface {
	Active() *strategy.Compiled
	Publish(ctx context.Context, cfg domain.StrategyConfig) (int64, error)
}

// StrategyHandler serves the active config and accepts manual revisions.
type StrategyHandler struct {
	publisher Publisher
	revisions domain.RevisionStore
	logger    *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. revisions may be nil.
func NewStrategyHandler(publisher Publisher, revisions domain.RevisionStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{publisher: publisher, revisions: revisions, logger: logger}
}

// GetActive handles GET /api/strategy.
func (h *StrategyHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	c := h.publisher.Active()
	if c == nil {
		writeError(w, http.StatusNotFound, "no active revision")
		return
	}
	writeJSON(w, http.StatusOK, c.Config())
}

// PublishRevision compiles the posted config and makes it the active
// revision. The revision number is assigned by the publisher.
// POST /api/strategy/revisions
func (h *StrategyHandler) PublishRevision(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rev, err := h.publisher.Publish(r.Context(), cfg)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if h.revisions != nil {
		if active := h.publisher.Active(); active != nil {
			if err := h.revisions.Save(r.Context(), active.Config(), 0); err != nil {
				h.logger.ErrorContext(r.Context(), "save manual revision failed",
					slog.Int64("revision", rev),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"revision": rev, "name": cfg.Name})
}
