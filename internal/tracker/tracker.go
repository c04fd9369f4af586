// Package tracker owns the lifecycle state of multi-chain consolidations:
// per-chain stage tracking, aggregate status derivation, progress and an
// append-only event log broadcast to subscribers.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainsweep/internal/config"
	"chainsweep/internal/models"
	"chainsweep/internal/store"
)

var (
	// ErrNotFound is returned when no status record exists for an id
	ErrNotFound = errors.New("consolidation not found")
	// ErrChainNotInPlan is returned for updates naming a chain the plan does not contain
	ErrChainNotInPlan = errors.New("chain not part of consolidation")
	// ErrAlreadyFinal is returned for mutations of a terminal record
	ErrAlreadyFinal = errors.New("consolidation already finalized")
	// ErrAlreadyInitialized is returned when a plan id already has a status record
	ErrAlreadyInitialized = errors.New("consolidation already initialized")
)

func planKey(id string) string      { return "consolidation:plan:" + id }
func statusKey(id string) string    { return "consolidation:status:" + id }
func eventsKey(id string) string    { return "consolidation:events:" + id }
func historyKey(user string) string { return "consolidation:history:" + user }

// Tracker mutates consolidation status records through read-modify-write
// cycles against the store. The store offers no compare-and-swap, so every
// mutation for a given consolidation id is serialized through a per-id mutex;
// different ids proceed concurrently.
type Tracker struct {
	store  store.Store
	cfg    config.TrackerConfig
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock is a per-consolidation mutex with a holder/waiter count so the
// tracker can drop map entries once nobody needs them
type idLock struct {
	sync.Mutex
	refs int
}

// New creates a tracker over the given store
func New(st store.Store, cfg config.TrackerConfig, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  st,
		cfg:    cfg,
		logger: logger.Named("tracker"),
		now:    time.Now,
		locks:  make(map[string]*idLock),
	}
}

// lock serializes mutations for one consolidation id and returns the unlock.
// The map entry lives only while mutations hold or wait on it, so the map is
// bounded by in-flight updates rather than by every id ever seen.
func (t *Tracker) lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &idLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

// StorePlan persists an upstream-produced plan under its short TTL, assigning
// an id when the producer did not
func (t *Tracker) StorePlan(ctx context.Context, plan *models.ConsolidationPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = t.now()
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return t.store.Set(ctx, planKey(plan.ID), data, t.cfg.PlanTTL)
}

// LoadPlan fetches a stored plan by id
func (t *Tracker) LoadPlan(ctx context.Context, id string) (*models.ConsolidationPlan, error) {
	data, err := t.store.Get(ctx, planKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var plan models.ConsolidationPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", id, err)
	}
	return &plan, nil
}

// InitializeStatus creates the lifecycle record for a plan with every chain
// PENDING, registers the id in the user's history and emits
// consolidation_started
func (t *Tracker) InitializeStatus(ctx context.Context, plan *models.ConsolidationPlan) (*models.ConsolidationStatusDetail, error) {
	unlock := t.lock(plan.ID)
	defer unlock()

	if _, err := t.store.Get(ctx, statusKey(plan.ID)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, plan.ID)
	}

	now := t.now()
	ops := make([]models.ChainOperationStatus, 0, len(plan.Chains))
	for _, cp := range plan.Chains {
		ops = append(ops, models.ChainOperationStatus{
			Chain:         cp.Chain,
			Status:        models.ChainPending,
			InputValueUsd: cp.InputValueUsd,
			OutputAmount:  sdkmath.ZeroInt(),
		})
	}

	detail := &models.ConsolidationStatusDetail{
		ConsolidationID:    plan.ID,
		UserID:             plan.UserID,
		Status:             models.ConsolidationPending,
		DestinationChain:   plan.DestinationChain,
		DestinationToken:   plan.DestinationToken,
		ChainOperations:    ops,
		TotalChains:        len(ops),
		TotalInputValueUsd: plan.TotalInputValueUsd,
		FinalOutputAmount:  sdkmath.ZeroInt(),
		Errors:             []models.ConsolidationError{},
		CreatedAt:          now,
	}

	if err := t.saveStatus(ctx, detail); err != nil {
		return nil, err
	}
	t.appendHistory(ctx, plan.UserID, plan.ID)

	t.emit(ctx, models.NewStartedEvent(plan.ID, plan.UserID, models.StartedData{
		TotalChains:        detail.TotalChains,
		TotalInputValueUsd: detail.TotalInputValueUsd,
	}, now))

	t.logger.Info("consolidation initialized",
		zap.String("consolidation_id", plan.ID),
		zap.String("user_id", plan.UserID),
		zap.Int("total_chains", detail.TotalChains))

	return detail, nil
}

// MarkSwapStarted records a chain's swap being submitted
func (t *Tracker) MarkSwapStarted(ctx context.Context, id, chain, txHash string) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainSwapping
		op.SwapTxHash = txHash
		if op.StartedAt == nil {
			op.StartedAt = &now
		}
		return models.NewSwapStartedEvent(id, d.UserID, chain, txHash, now)
	})
}

// MarkSwapCompleted records a chain's swap confirmation
func (t *Tracker) MarkSwapCompleted(ctx context.Context, id, chain, txHash string) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainSwapComplete
		if txHash != "" {
			op.SwapTxHash = txHash
		}
		return models.NewSwapCompletedEvent(id, d.UserID, chain, op.SwapTxHash, now)
	})
}

// MarkBridgeStarted records a chain's bridge deposit being submitted
func (t *Tracker) MarkBridgeStarted(ctx context.Context, id, chain, txHash, provider string) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainBridging
		op.BridgeTxHash = txHash
		op.BridgeProvider = provider
		if op.StartedAt == nil {
			op.StartedAt = &now
		}
		return models.NewBridgeStartedEvent(id, d.UserID, chain, txHash, provider, now)
	})
}

// MarkBridgeCompleted records a chain's bridge fill on the destination chain
func (t *Tracker) MarkBridgeCompleted(ctx context.Context, id, chain, destinationTxHash string, outputAmount sdkmath.Int, outputValueUsd float64) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainCompleted
		op.BridgeDestinationTxHash = destinationTxHash
		op.OutputAmount = outputAmount
		op.OutputValueUsd = outputValueUsd
		op.CompletedAt = &now
		return models.NewBridgeCompletedEvent(id, d.UserID, chain, destinationTxHash, models.BridgeCompletedData{
			OutputAmount:   outputAmount,
			OutputValueUsd: outputValueUsd,
		}, now)
	})
}

// MarkSameChainCompleted finishes a chain whose funds were already on the
// destination chain and needed no bridge
func (t *Tracker) MarkSameChainCompleted(ctx context.Context, id, chain string, outputAmount sdkmath.Int, outputValueUsd float64) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainCompleted
		op.OutputAmount = outputAmount
		op.OutputValueUsd = outputValueUsd
		if op.StartedAt == nil {
			op.StartedAt = &now
		}
		op.CompletedAt = &now
		return models.NewSameChainCompletedEvent(id, d.UserID, chain, models.BridgeCompletedData{
			OutputAmount:   outputAmount,
			OutputValueUsd: outputValueUsd,
		}, now)
	})
}

// MarkChainFailed records a swap or bridge failure for one chain. Sibling
// chains keep progressing; repeated failures accumulate in the errors list.
func (t *Tracker) MarkChainFailed(ctx context.Context, id, chain string, stage models.OperationStage, errMsg string) (*models.ConsolidationStatusDetail, error) {
	return t.updateChain(ctx, id, chain, func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent {
		op.Status = models.ChainFailed
		switch stage {
		case models.StageSwap:
			op.SwapError = errMsg
		case models.StageBridge:
			op.BridgeError = errMsg
		}
		op.CompletedAt = &now
		d.Errors = append(d.Errors, models.ConsolidationError{
			Chain: chain,
			Stage: stage,
			Error: errMsg,
		})
		return models.NewChainFailedEvent(id, d.UserID, chain, stage, errMsg, now)
	})
}

// MarkConsolidationFailed is the external abort path: it forces the aggregate
// status to FAILED regardless of per-chain state
func (t *Tracker) MarkConsolidationFailed(ctx context.Context, id, errMsg string) (*models.ConsolidationStatusDetail, error) {
	unlock := t.lock(id)
	defer unlock()

	detail, err := t.loadStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}

	now := t.now()
	detail.Status = models.ConsolidationFailed
	detail.CompletedAt = &now
	t.applyTotals(detail)

	if err := t.saveStatus(ctx, detail); err != nil {
		return nil, err
	}
	t.emit(ctx, models.NewFinishedEvent(detail, errMsg, now))

	t.logger.Warn("consolidation aborted",
		zap.String("consolidation_id", id),
		zap.String("error", errMsg))

	return detail, nil
}

// GetStatus returns the current lifecycle record for a consolidation
func (t *Tracker) GetStatus(ctx context.Context, id string) (*models.ConsolidationStatusDetail, error) {
	return t.loadStatus(ctx, id)
}

// updateChain runs one serialized read-modify-write cycle: load the record,
// apply the chain mutation, recompute the derived fields, persist, emit the
// operation's event and, when the update completed the last chain, finalize
// and emit the terminal event.
func (t *Tracker) updateChain(
	ctx context.Context,
	id, chain string,
	apply func(d *models.ConsolidationStatusDetail, op *models.ChainOperationStatus, now time.Time) models.ConsolidationEvent,
) (*models.ConsolidationStatusDetail, error) {
	unlock := t.lock(id)
	defer unlock()

	detail, err := t.loadStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}
	op := detail.Operation(chain)
	if op == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrChainNotInPlan, chain, id)
	}

	now := t.now()
	event := apply(detail, op, now)

	recompute(detail)

	var finished *models.ConsolidationEvent
	if detail.CompletedChains == detail.TotalChains {
		t.finalize(detail, now)
		ev := models.NewFinishedEvent(detail, "", now)
		finished = &ev
	}

	if err := t.saveStatus(ctx, detail); err != nil {
		return nil, err
	}

	t.emit(ctx, event)
	if finished != nil {
		t.emit(ctx, *finished)
	}

	return detail, nil
}

// recompute rederives CompletedChains, the aggregate status and the progress
// percentage from the chain operations. CompletedChains is never written any
// other way.
func recompute(d *models.ConsolidationStatusDetail) {
	done := 0
	for i := range d.ChainOperations {
		if d.ChainOperations[i].Status.Done() {
			done++
		}
	}
	d.CompletedChains = done
	d.ProgressPercent = calculateProgress(d.ChainOperations)
	d.Status = deriveStatus(d.ChainOperations)
}

// calculateProgress gives every chain an equal share and maps stages to
// 0/25/50/75/100. A FAILED chain counts as fully progressed: the bar measures
// completion of work, not success.
func calculateProgress(ops []models.ChainOperationStatus) int {
	if len(ops) == 0 {
		return 0
	}
	total := 0
	for i := range ops {
		total += stageProgress(ops[i].Status)
	}
	return total / len(ops)
}

func stageProgress(s models.ChainStatus) int {
	switch s {
	case models.ChainPending:
		return 0
	case models.ChainSwapping:
		return 25
	case models.ChainSwapComplete:
		return 50
	case models.ChainBridging:
		return 75
	default: // BRIDGE_COMPLETE, COMPLETED, SKIPPED, FAILED
		return 100
	}
}

func deriveStatus(ops []models.ChainOperationStatus) models.ConsolidationStatus {
	allPending := true
	allDone := true
	anyFailed := false
	anySucceeded := false

	for i := range ops {
		s := ops[i].Status
		if s != models.ChainPending {
			allPending = false
		}
		if !s.Done() {
			allDone = false
		}
		if s == models.ChainFailed {
			anyFailed = true
		}
		if s.Succeeded() {
			anySucceeded = true
		}
	}

	switch {
	case allPending:
		return models.ConsolidationPending
	case !allDone:
		return models.ConsolidationExecuting
	case anyFailed && anySucceeded:
		return models.ConsolidationPartialSuccess
	case anyFailed:
		return models.ConsolidationFailed
	default:
		return models.ConsolidationCompleted
	}
}

// finalize stamps the terminal aggregate state and the running totals once
// every chain is done
func (t *Tracker) finalize(d *models.ConsolidationStatusDetail, now time.Time) {
	t.applyTotals(d)
	d.ProgressPercent = 100
	d.CompletedAt = &now

	t.logger.Info("consolidation finalized",
		zap.String("consolidation_id", d.ConsolidationID),
		zap.String("status", string(d.Status)),
		zap.Int("completed_chains", d.CompletedChains),
		zap.Float64("total_output_usd", d.TotalOutputValueUsd))
}

func (t *Tracker) applyTotals(d *models.ConsolidationStatusDetail) {
	totalUsd := 0.0
	output := sdkmath.ZeroInt()
	for i := range d.ChainOperations {
		op := &d.ChainOperations[i]
		totalUsd += op.OutputValueUsd
		if !op.OutputAmount.IsNil() {
			output = output.Add(op.OutputAmount)
		}
	}
	d.TotalOutputValueUsd = totalUsd
	d.ActualFeesUsd = d.TotalInputValueUsd - totalUsd
	d.FinalOutputAmount = output
}

func (t *Tracker) loadStatus(ctx context.Context, id string) (*models.ConsolidationStatusDetail, error) {
	data, err := t.store.Get(ctx, statusKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("consolidation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var detail models.ConsolidationStatusDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status %s: %w", id, err)
	}
	return &detail, nil
}

func (t *Tracker) saveStatus(ctx context.Context, d *models.ConsolidationStatusDetail) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return t.store.Set(ctx, statusKey(d.ConsolidationID), data, t.cfg.StatusTTL)
}
