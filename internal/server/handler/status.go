package handler

import (
	"net/http"

	"github.com/alanyoungcy/agentdesk/internal/agent"
)

// StatusHandler serves the run mode and manager health.
type StatusHandler struct {
	mode   string
	status func() agent.Status
}

// NewStatusHandler creates a StatusHandler. status is usually
// (*agent.Manager).Status.
func NewStatusHandler(mode string, status func() agent.Status) *StatusHandler {
	return &StatusHandler{mode: mode, status: status}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"manager": h.status(),
	})
}
