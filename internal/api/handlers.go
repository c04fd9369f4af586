package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chainsweep/internal/bridge"
	"chainsweep/internal/models"
	"chainsweep/internal/tracker"
	"chainsweep/internal/worker"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	aggregator *bridge.Aggregator
	tracker    *tracker.Tracker
	monitor    *worker.Monitor
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	aggregator *bridge.Aggregator,
	tr *tracker.Tracker,
	monitor *worker.Monitor,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		aggregator: aggregator,
		tracker:    tr,
		monitor:    monitor,
		logger:     logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Quotes ====================

// HandleGetQuotes handles POST /api/v1/quotes
// Fans the request out to every enabled provider and returns their quotes
func (h *Handler) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuoteRequest(w, r)
	if !ok {
		return
	}

	quotes, err := h.aggregator.GetQuotes(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to get quotes", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get quotes", err)
		return
	}

	respondJSON(w, http.StatusOK, QuotesResponse{Quotes: quotes})
}

// HandleCompareQuotes handles POST /api/v1/quotes/compare
// Returns all quotes ranked by score together with the best one
func (h *Handler) HandleCompareQuotes(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuoteRequest(w, r)
	if !ok {
		return
	}

	comparison, err := h.aggregator.CompareQuotes(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to compare quotes", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to compare quotes", err)
		return
	}

	respondJSON(w, http.StatusOK, comparison)
}

// HandleOptimalRoute handles POST /api/v1/routes/optimal
// Finds the best direct route, or the best two-hop route when no provider
// serves the pair directly
func (h *Handler) HandleOptimalRoute(w http.ResponseWriter, r *http.Request) {
	var req OptimalRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SourceChain == "" || req.DestinationChain == "" || req.Token == "" {
		respondError(w, http.StatusBadRequest, "sourceChain, destinationChain and token are required", nil)
		return
	}
	if req.Amount.IsNil() || !req.Amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "amount must be a positive integer", nil)
		return
	}

	route, err := h.aggregator.OptimalRoute(r.Context(),
		req.SourceChain, req.DestinationChain, req.Token, req.Amount, req.Sender, req.Recipient)
	if errors.Is(err, bridge.ErrNoRoute) {
		respondError(w, http.StatusNotFound, "No route found", err)
		return
	}
	if err != nil {
		h.logger.Error("Failed to find route", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to find route", err)
		return
	}

	respondJSON(w, http.StatusOK, route)
}

// HandleBuildTransaction handles POST /api/v1/transactions
// Builds the unsigned transaction for a previously issued quote
func (h *Handler) HandleBuildTransaction(w http.ResponseWriter, r *http.Request) {
	var req BuildTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Quote == nil {
		respondError(w, http.StatusBadRequest, "quote is required", nil)
		return
	}

	tx, err := h.aggregator.BuildTransaction(r.Context(), req.Quote)
	switch {
	case errors.Is(err, bridge.ErrQuoteExpired):
		respondError(w, http.StatusGone, "Quote expired", err)
		return
	case errors.Is(err, bridge.ErrProviderNotEnabled):
		respondError(w, http.StatusBadRequest, "Unknown provider", err)
		return
	case err != nil:
		h.logger.Error("Failed to build transaction",
			zap.String("quote_id", req.Quote.QuoteID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to build transaction", err)
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// HandleBridgeStatus handles GET /api/v1/bridge/status
// Probes providers for the state of a submitted bridge transaction
func (h *Handler) HandleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	txHash := r.URL.Query().Get("txHash")
	chain := r.URL.Query().Get("chain")
	provider := r.URL.Query().Get("provider")

	if txHash == "" || chain == "" {
		respondError(w, http.StatusBadRequest, "txHash and chain are required", nil)
		return
	}

	receipt, err := h.aggregator.Status(r.Context(), txHash, chain, provider)
	if err != nil {
		h.logger.Error("Failed to probe bridge status",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to probe bridge status", err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

func (h *Handler) decodeQuoteRequest(w http.ResponseWriter, r *http.Request) (*models.QuoteRequest, bool) {
	var req models.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	if req.SourceChain == "" || req.DestinationChain == "" {
		respondError(w, http.StatusBadRequest, "sourceChain and destinationChain are required", nil)
		return nil, false
	}
	if req.SourceToken == "" || req.DestinationToken == "" {
		respondError(w, http.StatusBadRequest, "sourceToken and destinationToken are required", nil)
		return nil, false
	}
	if req.Amount.IsNil() || !req.Amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "amount must be a positive integer", nil)
		return nil, false
	}
	return &req, true
}

// ==================== Consolidations ====================

// HandleCreateConsolidation handles POST /api/v1/consolidations
// Stores the plan and initializes lifecycle tracking for it
func (h *Handler) HandleCreateConsolidation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsolidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}
	if req.DestinationChain == "" || req.DestinationToken == "" {
		respondError(w, http.StatusBadRequest, "destinationChain and destinationToken are required", nil)
		return
	}
	if len(req.Chains) == 0 {
		respondError(w, http.StatusBadRequest, "at least one chain is required", nil)
		return
	}

	plan := &models.ConsolidationPlan{
		UserID:             req.UserID,
		DestinationChain:   req.DestinationChain,
		DestinationToken:   req.DestinationToken,
		TotalInputValueUsd: req.TotalInputValueUsd,
		Chains:             req.Chains,
	}
	if err := h.tracker.StorePlan(r.Context(), plan); err != nil {
		h.logger.Error("Failed to store plan", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to store plan", err)
		return
	}

	detail, err := h.tracker.InitializeStatus(r.Context(), plan)
	if err != nil {
		h.logger.Error("Failed to initialize consolidation",
			zap.String("consolidation_id", plan.ID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to initialize consolidation", err)
		return
	}

	respondJSON(w, http.StatusCreated, detail)
}

// HandleGetConsolidation handles GET /api/v1/consolidations/{id}
func (h *Handler) HandleGetConsolidation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	detail, err := h.tracker.GetStatus(r.Context(), id)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}

	respondJSON(w, http.StatusOK, detail)
}

// HandleGetEvents handles GET /api/v1/consolidations/{id}/events
func (h *Handler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 0)

	events, err := h.tracker.GetEvents(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to get events",
			zap.String("consolidation_id", id),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get events", err)
		return
	}

	respondJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// HandleGetUserHistory handles GET /api/v1/users/{userId}/consolidations
func (h *Handler) HandleGetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	history, err := h.tracker.GetUserHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to get history",
			zap.String("user_id", userID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get history", err)
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{Consolidations: history})
}

// HandleSwapStarted handles POST /api/v1/consolidations/{id}/chains/{chain}/swap-started
func (h *Handler) HandleSwapStarted(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req SwapStartedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TxHash == "" {
		respondError(w, http.StatusBadRequest, "txHash is required", nil)
		return
	}

	detail, err := h.tracker.MarkSwapStarted(r.Context(), id, chain, req.TxHash)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// HandleSwapCompleted handles POST /api/v1/consolidations/{id}/chains/{chain}/swap-completed
func (h *Handler) HandleSwapCompleted(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req SwapCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	detail, err := h.tracker.MarkSwapCompleted(r.Context(), id, chain, req.TxHash)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// HandleBridgeStarted handles POST /api/v1/consolidations/{id}/chains/{chain}/bridge-started
// Besides recording the deposit it registers the consolidation with the fill
// monitor, which takes over completing or failing the bridge leg.
func (h *Handler) HandleBridgeStarted(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req BridgeStartedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TxHash == "" {
		respondError(w, http.StatusBadRequest, "txHash is required", nil)
		return
	}

	detail, err := h.tracker.MarkBridgeStarted(r.Context(), id, chain, req.TxHash, req.Provider)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	h.monitor.Watch(id)
	respondJSON(w, http.StatusOK, detail)
}

// HandleBridgeCompleted handles POST /api/v1/consolidations/{id}/chains/{chain}/bridge-completed
func (h *Handler) HandleBridgeCompleted(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req BridgeCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OutputAmount.IsNil() {
		respondError(w, http.StatusBadRequest, "outputAmount is required", nil)
		return
	}

	detail, err := h.tracker.MarkBridgeCompleted(r.Context(), id, chain,
		req.DestinationTxHash, req.OutputAmount, req.OutputValueUsd)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// HandleSameChainCompleted handles POST /api/v1/consolidations/{id}/chains/{chain}/completed
// For chains whose funds were already on the destination chain
func (h *Handler) HandleSameChainCompleted(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req SameChainCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OutputAmount.IsNil() {
		respondError(w, http.StatusBadRequest, "outputAmount is required", nil)
		return
	}

	detail, err := h.tracker.MarkSameChainCompleted(r.Context(), id, chain,
		req.OutputAmount, req.OutputValueUsd)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// HandleChainFailed handles POST /api/v1/consolidations/{id}/chains/{chain}/failed
func (h *Handler) HandleChainFailed(w http.ResponseWriter, r *http.Request) {
	id, chain := mux.Vars(r)["id"], mux.Vars(r)["chain"]

	var req ChainFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Stage != models.StageSwap && req.Stage != models.StageBridge {
		respondError(w, http.StatusBadRequest, "stage must be swap or bridge", nil)
		return
	}
	if req.Error == "" {
		respondError(w, http.StatusBadRequest, "error is required", nil)
		return
	}

	detail, err := h.tracker.MarkChainFailed(r.Context(), id, chain, req.Stage, req.Error)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// HandleAbortConsolidation handles POST /api/v1/consolidations/{id}/abort
func (h *Handler) HandleAbortConsolidation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AbortConsolidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	detail, err := h.tracker.MarkConsolidationFailed(r.Context(), id, req.Error)
	if err != nil {
		h.respondTrackerError(w, id, err)
		return
	}
	h.monitor.Unwatch(id)
	respondJSON(w, http.StatusOK, detail)
}

// respondTrackerError maps tracker errors onto HTTP statuses
func (h *Handler) respondTrackerError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		respondError(w, http.StatusNotFound, "Consolidation not found", err)
	case errors.Is(err, tracker.ErrChainNotInPlan):
		respondError(w, http.StatusNotFound, "Chain not part of consolidation", err)
	case errors.Is(err, tracker.ErrAlreadyFinal):
		respondError(w, http.StatusConflict, "Consolidation already finalized", err)
	case errors.Is(err, tracker.ErrAlreadyInitialized):
		respondError(w, http.StatusConflict, "Consolidation already initialized", err)
	default:
		h.logger.Error("Tracker operation failed",
			zap.String("consolidation_id", id),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Operation failed", err)
	}
}

// ==================== Helper Functions ====================

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
