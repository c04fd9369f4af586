package models

import (
	"encoding/json"
	"time"

	"cosmossdk.io/math"
)

// EventType enumerates every fact the tracker can emit
type EventType string

const (
	EventConsolidationStarted   EventType = "consolidation_started"
	EventChainSwapStarted       EventType = "chain_swap_started"
	EventChainSwapCompleted     EventType = "chain_swap_completed"
	EventChainBridgeStarted     EventType = "chain_bridge_started"
	EventChainBridgeCompleted   EventType = "chain_bridge_completed"
	EventChainFailed            EventType = "chain_failed"
	EventConsolidationCompleted EventType = "consolidation_completed"
	EventConsolidationFailed    EventType = "consolidation_failed"
)

// ConsolidationEvent is an immutable, timestamped fact appended to a
// consolidation's capped log and broadcast once. Data carries the payload for
// the event's type; the constructors below are the only way to populate it.
type ConsolidationEvent struct {
	Type            EventType       `json:"type"`
	ConsolidationID string          `json:"consolidationId"`
	UserID          string          `json:"userId"`
	Chain           string          `json:"chain,omitempty"`
	TxHash          string          `json:"txHash,omitempty"`
	Error           string          `json:"error,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// StartedData is the payload of consolidation_started
type StartedData struct {
	TotalChains        int     `json:"totalChains"`
	TotalInputValueUsd float64 `json:"totalInputValueUsd"`
}

// BridgeStartedData is the payload of chain_bridge_started
type BridgeStartedData struct {
	Provider string `json:"provider"`
}

// BridgeCompletedData is the payload of chain_bridge_completed and of
// chain_swap_completed for same-chain operations that finish without a bridge
type BridgeCompletedData struct {
	OutputAmount   math.Int `json:"outputAmount"`
	OutputValueUsd float64  `json:"outputValueUsd"`
}

// FailedData is the payload of chain_failed
type FailedData struct {
	Stage OperationStage `json:"stage"`
}

// FinishedData is the payload of consolidation_completed / consolidation_failed
type FinishedData struct {
	Status              ConsolidationStatus `json:"status"`
	CompletedChains     int                 `json:"completedChains"`
	TotalChains         int                 `json:"totalChains"`
	TotalOutputValueUsd float64             `json:"totalOutputValueUsd"`
	ActualFeesUsd       float64             `json:"actualFeesUsd"`
}

func newEvent(typ EventType, consolidationID, userID string, now time.Time) ConsolidationEvent {
	return ConsolidationEvent{
		Type:            typ,
		ConsolidationID: consolidationID,
		UserID:          userID,
		Timestamp:       now,
	}
}

func withData(ev ConsolidationEvent, payload any) ConsolidationEvent {
	// payloads above are plain structs, marshal cannot fail
	raw, err := json.Marshal(payload)
	if err == nil {
		ev.Data = raw
	}
	return ev
}

// NewStartedEvent builds a consolidation_started event
func NewStartedEvent(id, userID string, data StartedData, now time.Time) ConsolidationEvent {
	return withData(newEvent(EventConsolidationStarted, id, userID, now), data)
}

// NewSwapStartedEvent builds a chain_swap_started event
func NewSwapStartedEvent(id, userID, chain, txHash string, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainSwapStarted, id, userID, now)
	ev.Chain = chain
	ev.TxHash = txHash
	return ev
}

// NewSwapCompletedEvent builds a chain_swap_completed event
func NewSwapCompletedEvent(id, userID, chain, txHash string, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainSwapCompleted, id, userID, now)
	ev.Chain = chain
	ev.TxHash = txHash
	return ev
}

// NewSameChainCompletedEvent builds the chain_swap_completed event emitted for
// operations that finish on their own chain without bridging
func NewSameChainCompletedEvent(id, userID, chain string, data BridgeCompletedData, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainSwapCompleted, id, userID, now)
	ev.Chain = chain
	return withData(ev, data)
}

// NewBridgeStartedEvent builds a chain_bridge_started event
func NewBridgeStartedEvent(id, userID, chain, txHash, provider string, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainBridgeStarted, id, userID, now)
	ev.Chain = chain
	ev.TxHash = txHash
	return withData(ev, BridgeStartedData{Provider: provider})
}

// NewBridgeCompletedEvent builds a chain_bridge_completed event
func NewBridgeCompletedEvent(id, userID, chain, txHash string, data BridgeCompletedData, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainBridgeCompleted, id, userID, now)
	ev.Chain = chain
	ev.TxHash = txHash
	return withData(ev, data)
}

// NewChainFailedEvent builds a chain_failed event
func NewChainFailedEvent(id, userID, chain string, stage OperationStage, errMsg string, now time.Time) ConsolidationEvent {
	ev := newEvent(EventChainFailed, id, userID, now)
	ev.Chain = chain
	ev.Error = errMsg
	return withData(ev, FailedData{Stage: stage})
}

// NewFinishedEvent builds the terminal consolidation_completed or
// consolidation_failed event from the finalized record
func NewFinishedEvent(d *ConsolidationStatusDetail, errMsg string, now time.Time) ConsolidationEvent {
	typ := EventConsolidationCompleted
	if d.Status == ConsolidationFailed {
		typ = EventConsolidationFailed
	}
	ev := newEvent(typ, d.ConsolidationID, d.UserID, now)
	ev.Error = errMsg
	return withData(ev, FinishedData{
		Status:              d.Status,
		CompletedChains:     d.CompletedChains,
		TotalChains:         d.TotalChains,
		TotalOutputValueUsd: d.TotalOutputValueUsd,
		ActualFeesUsd:       d.ActualFeesUsd,
	})
}
