// Package handler serves the bot's read-only HTTP endpoints.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

const defaultExecutionLimit = 50

// Store is what the status endpoints read.
type Store interface {
	SystemStatus(ctx context.Context) (datastore.SystemStatus, error)
	ListExecutions(ctx context.Context, f datastore.ExecutionFilter) ([]ledger.Execution, error)
	Strategies(ctx context.Context) ([]strategy.Strategy, error)
}

// StatusHandler serves system status, recent executions and strategies.
type StatusHandler struct {
	store Store
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(store Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// RegisterRoutes registers the status routes on a chi router.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/status", h.GetStatus)
	r.Get("/executions", h.GetExecutions)
	r.Get("/strategies", h.GetStrategies)
}

// Health is the liveness probe. It fails when the store cannot be read.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.SystemStatus(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// GetStatus returns the system_status row.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.SystemStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch system status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

// GetExecutions returns recent ledger rows, newest first. Query parameters:
// symbol, status, since (RFC3339) and limit.
func (h *StatusHandler) GetExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := datastore.ExecutionFilter{
		Symbol: q.Get("symbol"),
		Status: ledger.Status(q.Get("status")),
		Limit:  defaultExecutionLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		f.Since = t
	}

	rows, err := h.store.ListExecutions(r.Context(), f)
	if err != nil {
		http.Error(w, "Failed to fetch executions", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []ledger.Execution{}
	}
	writeJSON(w, rows)
}

type strategyView struct {
	Symbol string              `json:"symbol"`
	Active bool                `json:"active"`
	RunID  string              `json:"run_id,omitempty"`
	Params strategy.Parameters `json:"params"`
}

// GetStrategies returns every stored strategy.
func (h *StatusHandler) GetStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Strategies(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch strategies", http.StatusInternalServerError)
		return
	}
	out := make([]strategyView, 0, len(list))
	for _, s := range list {
		out = append(out, strategyView{Symbol: s.Symbol, Active: s.Active, RunID: s.RunID, Params: s.Params})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response to JSON", http.StatusInternalServerError)
	}
}
