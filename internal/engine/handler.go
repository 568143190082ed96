package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/driftd/internal/logging"
	"github.com/example/driftd/internal/metrics"
)

// Handler serves the contract registration and comparison endpoints.
type Handler struct {
	registry  *Registry
	engine    *Engine
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewHandler creates the admin HTTP handler.
func NewHandler(registry *Registry, engine *Engine, collector *metrics.Collector) *Handler {
	return &Handler{
		registry:  registry,
		engine:    engine,
		collector: collector,
		logger:    logging.Named("api"),
	}
}

// RegisterRoutes registers engine endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/contracts", h.handleRegister)
	mux.HandleFunc("/api/v1/diff", h.handleDiff)
	mux.HandleFunc("/api/v1/validate", h.handleValidate)
	mux.HandleFunc("/health", h.handleHealth)
	if h.collector != nil {
		mux.HandleFunc("/metrics", h.handleMetrics)
	}
}

// handleRegister stores a new contract version.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	c, err := BuildContract(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.registry.Put(c); err != nil {
		if errors.Is(err, ErrVersionExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var parseErrors []string
	for _, perr := range c.ParseErrors() {
		parseErrors = append(parseErrors, perr.Error())
	}
	h.logger.Info("contract registered",
		zap.String("contract", c.ID),
		zap.String("version", c.Version),
		zap.String("protocol", string(c.Protocol)),
		zap.Int("operations", len(c.Operations)),
		zap.Int("parse_errors", len(parseErrors)))

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"contract_id":  c.ID,
		"version":      c.Version,
		"protocol":     c.Protocol,
		"operations":   len(c.Operations),
		"parse_errors": parseErrors,
	})
}

// diffRequest selects two registered versions of one contract.
type diffRequest struct {
	ContractID string `json:"contract_id"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

// handleDiff compares two registered versions.
func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	oldC, err := h.registry.Get(req.ContractID, req.OldVersion)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	newC, err := h.registry.Get(req.ContractID, req.NewVersion)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	out, err := h.engine.Compare(r.Context(), oldC, newC)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

// validateRequest checks an example payload against an operation schema.
type validateRequest struct {
	ContractID  string          `json:"contract_id"`
	Version     string          `json:"version"`
	OperationID string          `json:"operation_id"`
	Payload     json.RawMessage `json:"payload"`
}

// handleValidate validates an example payload against a registered
// operation's compiled schema.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.registry.Get(req.ContractID, req.Version)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	op, ok := c.Operation(req.OperationID)
	if !ok {
		http.Error(w, "unknown operation "+req.OperationID, http.StatusNotFound)
		return
	}

	var payload any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := op.ValidateExample(payload); err != nil {
		writeJSON(w, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, map[string]any{"valid": true})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h.collector.WritePrometheus(w)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrContractNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
