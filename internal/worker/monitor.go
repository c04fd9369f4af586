// Package worker runs the background fill monitor: it polls bridge providers
// for deposits that are in flight and feeds confirmed fills and failures back
// into the consolidation tracker.
package worker

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"chainsweep/internal/models"
	"chainsweep/internal/tracker"
)

// MonitorTimeout bounds one full poll cycle
const MonitorTimeout = 30 * time.Second

// StatusProber resolves the current state of a bridge transfer
type StatusProber interface {
	Status(ctx context.Context, txHash, sourceChain, provider string) (*models.BridgeReceipt, error)
}

// StatusTracker is the slice of the tracker the monitor drives
type StatusTracker interface {
	GetStatus(ctx context.Context, id string) (*models.ConsolidationStatusDetail, error)
	MarkBridgeCompleted(ctx context.Context, id, chain, destinationTxHash string, outputAmount sdkmath.Int, outputValueUsd float64) (*models.ConsolidationStatusDetail, error)
	MarkChainFailed(ctx context.Context, id, chain string, stage models.OperationStage, errMsg string) (*models.ConsolidationStatusDetail, error)
}

// Monitor polls bridge providers for the fill state of every watched
// consolidation's in-flight transfers
type Monitor struct {
	prober   StatusProber
	tracker  StatusTracker
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewMonitor creates a fill monitor polling at the given interval
func NewMonitor(prober StatusProber, tr StatusTracker, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		tracker:  tr,
		logger:   logger.Named("monitor"),
		interval: interval,
		watched:  make(map[string]struct{}),
	}
}

// Watch registers a consolidation for polling. Watching is idempotent; the
// monitor drops the id on its own once the consolidation reaches a terminal
// state or its record expires.
func (m *Monitor) Watch(id string) {
	m.mu.Lock()
	m.watched[id] = struct{}{}
	m.mu.Unlock()
}

// Unwatch removes a consolidation from polling
func (m *Monitor) Unwatch(id string) {
	m.mu.Lock()
	delete(m.watched, id)
	m.mu.Unlock()
}

// Run starts the polling loop and blocks until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started", zap.Duration("poll_interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll executes one polling cycle over every watched consolidation
func (m *Monitor) Poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	for _, id := range m.snapshot() {
		select {
		case <-pollCtx.Done():
			return
		default:
		}
		m.pollConsolidation(pollCtx, id)
	}
}

func (m *Monitor) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	return ids
}

// pollConsolidation probes every chain of one consolidation that has a bridge
// deposit in flight
func (m *Monitor) pollConsolidation(ctx context.Context, id string) {
	detail, err := m.tracker.GetStatus(ctx, id)
	if err != nil {
		// Expired or missing records have nothing left to track
		m.logger.Warn("Dropping unresolvable consolidation",
			zap.String("consolidation_id", id),
			zap.Error(err))
		m.Unwatch(id)
		return
	}
	if detail.Status.Terminal() {
		m.Unwatch(id)
		return
	}

	for i := range detail.ChainOperations {
		op := &detail.ChainOperations[i]
		if op.Status != models.ChainBridging || op.BridgeTxHash == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		m.checkBridge(ctx, detail, op)
	}
}

func (m *Monitor) checkBridge(ctx context.Context, detail *models.ConsolidationStatusDetail, op *models.ChainOperationStatus) {
	receipt, err := m.prober.Status(ctx, op.BridgeTxHash, op.Chain, op.BridgeProvider)
	if err != nil {
		m.logger.Error("Failed to probe bridge status",
			zap.String("consolidation_id", detail.ConsolidationID),
			zap.String("chain", op.Chain),
			zap.String("tx_hash", op.BridgeTxHash),
			zap.Error(err))
		return
	}

	switch receipt.Status {
	case models.ReceiptFilled:
		output := sdkmath.ZeroInt()
		if receipt.OutputAmount != nil {
			output = *receipt.OutputAmount
		}
		// No price source here; value the fill at the chain's input estimate
		updated, err := m.tracker.MarkBridgeCompleted(ctx,
			detail.ConsolidationID, op.Chain, receipt.DestinationTxHash, output, op.InputValueUsd)
		if err != nil {
			m.logger.Error("Failed to record bridge fill",
				zap.String("consolidation_id", detail.ConsolidationID),
				zap.String("chain", op.Chain),
				zap.Error(err))
			return
		}
		m.logger.Info("Bridge fill detected",
			zap.String("consolidation_id", detail.ConsolidationID),
			zap.String("chain", op.Chain),
			zap.String("destination_tx", receipt.DestinationTxHash),
			zap.String("output", output.String()))
		if updated.Status.Terminal() {
			m.Unwatch(detail.ConsolidationID)
		}

	case models.ReceiptFailed:
		updated, err := m.tracker.MarkChainFailed(ctx,
			detail.ConsolidationID, op.Chain, models.StageBridge, "bridge transfer failed")
		if err != nil {
			m.logger.Error("Failed to record bridge failure",
				zap.String("consolidation_id", detail.ConsolidationID),
				zap.String("chain", op.Chain),
				zap.Error(err))
			return
		}
		m.logger.Warn("Bridge transfer failed",
			zap.String("consolidation_id", detail.ConsolidationID),
			zap.String("chain", op.Chain),
			zap.String("tx_hash", op.BridgeTxHash))
		if updated.Status.Terminal() {
			m.Unwatch(detail.ConsolidationID)
		}
	}
}

var _ StatusTracker = (*tracker.Tracker)(nil)
