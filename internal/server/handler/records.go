package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// RecordsHandler serves stored backtests, fills and audit entries. Any
// store may be nil, in which case its route answers 503.
type RecordsHandler struct {
	results domain.ResultLister
	fills   domain.FillStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(results domain.ResultLister, fills domain.FillStore, audit domain.AuditStore, logger *slog.Logger) *RecordsHandler {
	return &RecordsHandler{results: results, fills: fills, audit: audit, logger: logger}
}

func (h *RecordsHandler) list(w http.ResponseWriter, r *http.Request, what string, fetch func(domain.ListOpts) (any, error)) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := fetch(opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed", slog.String("records", what), slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list "+what)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{what: out})
}

// ListBacktests handles GET /api/backtests.
func (h *RecordsHandler) ListBacktests(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	h.list(w, r, "backtests", func(o domain.ListOpts) (any, error) { return h.results.ListRecent(r.Context(), o) })
}

// ListFills handles GET /api/fills?symbol=BTCUSDT.
func (h *RecordsHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	if h.fills == nil {
		writeError(w, http.StatusServiceUnavailable, "fill store not configured")
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	h.list(w, r, "fills", func(o domain.ListOpts) (any, error) { return h.fills.ListBySymbol(r.Context(), symbol, o) })
}

// ListAudit handles GET /api/audit.
func (h *RecordsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	h.list(w, r, "entries", func(o domain.ListOpts) (any, error) { return h.audit.List(r.Context(), o) })
}
