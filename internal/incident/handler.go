package incident

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/diff"
)

// Handler serves the incident admin endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler creates an incident HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes registers incident endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/incidents", h.handleList)
	mux.HandleFunc("/api/v1/incidents/stats", h.handleStats)
	mux.HandleFunc("/api/v1/incidents/", h.handleByID)
}

// handleList returns incidents matching the query filters.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f := Filter{
		Status:      Status(r.URL.Query().Get("status")),
		Protocol:    contract.Protocol(r.URL.Query().Get("protocol")),
		OperationID: r.URL.Query().Get("operation_id"),
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		var s diff.Severity
		if err := s.UnmarshalJSON([]byte(strconv.Quote(sev))); err != nil {
			http.Error(w, "unknown severity", http.StatusBadRequest)
			return
		}
		f.Severity = &s
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	incidents, err := h.manager.List(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// handleStats returns aggregate incident counts.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// handleByID dispatches /api/v1/incidents/{id}[/acknowledge|/resolve].
func (h *Handler) handleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
	if rest == "" {
		h.handleList(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		inc, err := h.manager.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, inc)
	case "acknowledge":
		h.handleTransition(w, r, id, StatusAcknowledged)
	case "resolve":
		h.handleTransition(w, r, id, StatusResolved)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id string, to Status) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var (
		inc *Incident
		err error
	)
	if to == StatusAcknowledged {
		inc, err = h.manager.Acknowledge(r.Context(), id)
	} else {
		inc, err = h.manager.Resolve(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, inc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
