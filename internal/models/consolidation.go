package models

import (
	"time"

	"cosmossdk.io/math"
)

// ChainStatus is the state of one source chain's operation within a consolidation
//
// per-chain status change graph:
//
//	PENDING -> SWAPPING -> SWAP_COMPLETE -> BRIDGING -> COMPLETED
//	           |           |                |
//	           +-----------+----------------+--> FAILED
//
//	PENDING -> COMPLETED            (same-chain, no bridge needed)
//	PENDING -> SKIPPED              (written by upstream planners)
type ChainStatus string

const (
	ChainPending        ChainStatus = "PENDING"
	ChainSwapping       ChainStatus = "SWAPPING"
	ChainSwapComplete   ChainStatus = "SWAP_COMPLETE"
	ChainBridging       ChainStatus = "BRIDGING"
	ChainBridgeComplete ChainStatus = "BRIDGE_COMPLETE"
	ChainCompleted      ChainStatus = "COMPLETED"
	ChainSkipped        ChainStatus = "SKIPPED"
	ChainFailed         ChainStatus = "FAILED"
)

// Done reports whether the chain has finished its work, successfully or not.
// This is the exact set that maps to the 100% progress stage.
func (s ChainStatus) Done() bool {
	switch s {
	case ChainBridgeComplete, ChainCompleted, ChainSkipped, ChainFailed:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the chain finished without failing
func (s ChainStatus) Succeeded() bool {
	return s.Done() && s != ChainFailed
}

// ConsolidationStatus is the aggregate state of a consolidation
type ConsolidationStatus string

const (
	ConsolidationPending        ConsolidationStatus = "PENDING"
	ConsolidationExecuting      ConsolidationStatus = "EXECUTING"
	ConsolidationCompleted      ConsolidationStatus = "COMPLETED"
	ConsolidationPartialSuccess ConsolidationStatus = "PARTIAL_SUCCESS"
	ConsolidationFailed         ConsolidationStatus = "FAILED"
)

// Terminal reports whether the aggregate status can no longer change
func (s ConsolidationStatus) Terminal() bool {
	switch s {
	case ConsolidationCompleted, ConsolidationPartialSuccess, ConsolidationFailed:
		return true
	default:
		return false
	}
}

// OperationStage tags where in a chain operation a failure occurred
type OperationStage string

const (
	StageSwap   OperationStage = "swap"
	StageBridge OperationStage = "bridge"
)

// ChainPlan is the per-source-chain portion of a consolidation plan
type ChainPlan struct {
	Chain         string   `json:"chain"`
	SourceToken   string   `json:"sourceToken"`
	InputAmount   math.Int `json:"inputAmount"`
	InputValueUsd float64  `json:"inputValueUsd"`
	NeedsBridge   bool     `json:"needsBridge"`
}

// ConsolidationPlan is the upstream-produced description of a multi-chain
// consolidation. Created once, read-only afterward, referenced by ID.
type ConsolidationPlan struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"userId"`
	DestinationChain   string      `json:"destinationChain"`
	DestinationToken   string      `json:"destinationToken"`
	TotalInputValueUsd float64     `json:"totalInputValueUsd"`
	Chains             []ChainPlan `json:"chains"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// ChainOperationStatus is the mutable per-chain sub-state of a consolidation.
// Owned exclusively by the tracker.
type ChainOperationStatus struct {
	Chain                   string      `json:"chain"`
	Status                  ChainStatus `json:"status"`
	InputValueUsd           float64     `json:"inputValueUsd"`
	SwapTxHash              string      `json:"swapTxHash,omitempty"`
	BridgeTxHash            string      `json:"bridgeTxHash,omitempty"`
	BridgeDestinationTxHash string      `json:"bridgeDestinationTxHash,omitempty"`
	BridgeProvider          string      `json:"bridgeProvider,omitempty"`
	OutputAmount            math.Int    `json:"outputAmount"`
	OutputValueUsd          float64     `json:"outputValueUsd"`
	StartedAt               *time.Time  `json:"startedAt,omitempty"`
	CompletedAt             *time.Time  `json:"completedAt,omitempty"`
	SwapError               string      `json:"swapError,omitempty"`
	BridgeError             string      `json:"bridgeError,omitempty"`
}

// ConsolidationError records one per-chain failure
type ConsolidationError struct {
	Chain string         `json:"chain"`
	Stage OperationStage `json:"stage"`
	Error string         `json:"error"`
}

// ConsolidationStatusDetail is the lifecycle record of a consolidation, one per
// plan ID. ChainOperations keeps the order fixed at creation and its length
// always equals TotalChains; CompletedChains is recomputed from it on every
// update and never set independently.
type ConsolidationStatusDetail struct {
	ConsolidationID     string                 `json:"consolidationId"`
	UserID              string                 `json:"userId"`
	Status              ConsolidationStatus    `json:"status"`
	DestinationChain    string                 `json:"destinationChain"`
	DestinationToken    string                 `json:"destinationToken"`
	ChainOperations     []ChainOperationStatus `json:"chainOperations"`
	CompletedChains     int                    `json:"completedChains"`
	TotalChains         int                    `json:"totalChains"`
	ProgressPercent     int                    `json:"progressPercent"`
	TotalInputValueUsd  float64                `json:"totalInputValueUsd"`
	TotalOutputValueUsd float64                `json:"totalOutputValueUsd"`
	ActualFeesUsd       float64                `json:"actualFeesUsd"`
	FinalOutputAmount   math.Int               `json:"finalOutputAmount"`
	Errors              []ConsolidationError   `json:"errors"`
	CreatedAt           time.Time              `json:"createdAt"`
	CompletedAt         *time.Time             `json:"completedAt,omitempty"`
}

// Operation returns the chain operation for the given chain, or nil
func (d *ConsolidationStatusDetail) Operation(chain string) *ChainOperationStatus {
	for i := range d.ChainOperations {
		if d.ChainOperations[i].Chain == chain {
			return &d.ChainOperations[i]
		}
	}
	return nil
}
