package handler

import (
	"net/http"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/risk"
)

// PortfolioReader is satisfied by *risk.Book.
type PortfolioReader interface {
	Snapshot() domain.PortfolioState
}

// PortfolioHandler serves the live book and its risk assessment.
type PortfolioHandler struct {
	book   PortfolioReader
	limits *risk.LimitsHolder
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(book PortfolioReader, limits *risk.LimitsHolder) *PortfolioHandler {
	return &PortfolioHandler{book: book, limits: limits}
}

// GetPortfolio handles GET /api/portfolio.
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p := h.book.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": p,
		"equity":    p.Equity(),
		"exposure":  p.Exposure(),
	})
}

// GetRisk handles GET /api/risk.
func (h *PortfolioHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	limits := h.limits.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"limits":     limits,
		"assessment": risk.Assess(h.book.Snapshot(), limits),
	})
}
