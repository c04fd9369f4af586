package api

import (
	"cosmossdk.io/math"

	"chainsweep/internal/models"
)

// ==================== Quotes ====================

// QuotesResponse carries every quote the enabled providers returned
type QuotesResponse struct {
	Quotes []*models.Quote `json:"quotes"`
}

// OptimalRouteRequest asks for the best direct or two-hop route
type OptimalRouteRequest struct {
	SourceChain      string   `json:"sourceChain"`
	DestinationChain string   `json:"destinationChain"`
	Token            string   `json:"token"`
	Amount           math.Int `json:"amount"`
	Sender           string   `json:"sender"`
	Recipient        string   `json:"recipient"`
}

// BuildTransactionRequest carries a previously issued quote back for execution
type BuildTransactionRequest struct {
	Quote *models.Quote `json:"quote"`
}

// ==================== Consolidations ====================

// CreateConsolidationRequest starts tracking a consolidation across chains
type CreateConsolidationRequest struct {
	UserID             string             `json:"userId"`
	DestinationChain   string             `json:"destinationChain"`
	DestinationToken   string             `json:"destinationToken"`
	TotalInputValueUsd float64            `json:"totalInputValueUsd"`
	Chains             []models.ChainPlan `json:"chains"`
}

// SwapStartedRequest marks a chain's swap as submitted
type SwapStartedRequest struct {
	TxHash string `json:"txHash"`
}

// SwapCompletedRequest marks a chain's swap as confirmed
type SwapCompletedRequest struct {
	TxHash string `json:"txHash,omitempty"`
}

// BridgeStartedRequest marks a chain's bridge deposit as submitted
type BridgeStartedRequest struct {
	TxHash   string `json:"txHash"`
	Provider string `json:"provider"`
}

// BridgeCompletedRequest marks a chain's bridge as filled on the destination
type BridgeCompletedRequest struct {
	DestinationTxHash string   `json:"destinationTxHash"`
	OutputAmount      math.Int `json:"outputAmount"`
	OutputValueUsd    float64  `json:"outputValueUsd"`
}

// SameChainCompletedRequest finishes a chain that needed no bridge
type SameChainCompletedRequest struct {
	OutputAmount   math.Int `json:"outputAmount"`
	OutputValueUsd float64  `json:"outputValueUsd"`
}

// ChainFailedRequest records a swap or bridge failure on one chain
type ChainFailedRequest struct {
	Stage models.OperationStage `json:"stage"`
	Error string                `json:"error"`
}

// AbortConsolidationRequest aborts a whole consolidation
type AbortConsolidationRequest struct {
	Error string `json:"error"`
}

// EventsResponse carries a consolidation's event log, newest first
type EventsResponse struct {
	Events []models.ConsolidationEvent `json:"events"`
}

// HistoryResponse is one page of a user's consolidations, newest first
type HistoryResponse struct {
	Consolidations []models.ConsolidationStatusDetail `json:"consolidations"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
