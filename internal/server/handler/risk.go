package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/risk"
)

// Resetter is satisfied by *agent.Manager.
type Resetter interface {
	RequestReset()
}

// RiskHandler exposes operator controls over the risk state.
type RiskHandler struct {
	resetter Resetter
	limits   *risk.LimitsHolder
	reload   func() (domain.RiskLimits, error)
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler. reload re-reads limits from the
// config file; audit may be nil.
func NewRiskHandler(resetter Resetter, limits *risk.LimitsHolder, reload func() (domain.RiskLimits, error), audit domain.AuditStore, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{resetter: resetter, limits: limits, reload: reload, audit: audit, logger: logger}
}

// Reset starts a new risk day and re-arms the breaker.
// POST /api/risk/reset
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.resetter.RequestReset()
	h.record(r, "risk.reset", nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}

// Reload swaps in freshly loaded limits. A file that fails validation
// leaves the active limits untouched.
// POST /api/risk/reload
func (h *RiskHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeError(w, http.StatusNotImplemented, "no config file to reload from")
		return
	}
	next, err := h.reload()
	if err == nil {
		err = h.limits.Store(next)
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "risk limits reload rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "risk limits reloaded")
	h.record(r, "risk.reload", map[string]any{"limits": next})
	writeJSON(w, http.StatusOK, next)
}

func (h *RiskHandler) record(r *http.Request, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), event, detail); err != nil {
		h.logger.WarnContext(r.Context(), "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
