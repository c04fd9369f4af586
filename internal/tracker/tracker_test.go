package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"chainsweep/internal/config"
	"chainsweep/internal/models"
	"chainsweep/internal/store"
)

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		PlanTTL:      30 * time.Minute,
		StatusTTL:    168 * time.Hour,
		EventTTL:     24 * time.Hour,
		HistoryTTL:   720 * time.Hour,
		EventLogCap:  100,
		HistoryCap:   100,
		PollInterval: time.Second,
	}
}

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	tr := New(mem, testTrackerConfig(), zap.NewNop())
	return tr, mem
}

func testPlan(id string, chains ...models.ChainPlan) *models.ConsolidationPlan {
	total := 0.0
	for _, c := range chains {
		total += c.InputValueUsd
	}
	return &models.ConsolidationPlan{
		ID:                 id,
		UserID:             "user-1",
		DestinationChain:   "base",
		DestinationToken:   "USDC",
		TotalInputValueUsd: total,
		Chains:             chains,
		CreatedAt:          time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func chainPlan(chain string, valueUsd float64, needsBridge bool) models.ChainPlan {
	return models.ChainPlan{
		Chain:         chain,
		SourceToken:   "USDC",
		InputAmount:   sdkmath.NewInt(1_000_000),
		InputValueUsd: valueUsd,
		NeedsBridge:   needsBridge,
	}
}

func TestSingleChainFullLifecycle(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	detail, err := tr.InitializeStatus(ctx, testPlan("c-1", chainPlan("arbitrum", 100, true)))
	if err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if detail.Status != models.ConsolidationPending {
		t.Fatalf("expected PENDING after init, got %s", detail.Status)
	}
	if detail.ProgressPercent != 0 {
		t.Fatalf("expected 0%% after init, got %d", detail.ProgressPercent)
	}

	steps := []struct {
		name     string
		run      func() (*models.ConsolidationStatusDetail, error)
		status   models.ConsolidationStatus
		progress int
	}{
		{
			name: "swap started",
			run: func() (*models.ConsolidationStatusDetail, error) {
				return tr.MarkSwapStarted(ctx, "c-1", "arbitrum", "0xswap")
			},
			status:   models.ConsolidationExecuting,
			progress: 25,
		},
		{
			name: "swap completed",
			run: func() (*models.ConsolidationStatusDetail, error) {
				return tr.MarkSwapCompleted(ctx, "c-1", "arbitrum", "")
			},
			status:   models.ConsolidationExecuting,
			progress: 50,
		},
		{
			name: "bridge started",
			run: func() (*models.ConsolidationStatusDetail, error) {
				return tr.MarkBridgeStarted(ctx, "c-1", "arbitrum", "0xbridge", "across")
			},
			status:   models.ConsolidationExecuting,
			progress: 75,
		},
		{
			name: "bridge completed",
			run: func() (*models.ConsolidationStatusDetail, error) {
				return tr.MarkBridgeCompleted(ctx, "c-1", "arbitrum", "0xdest", sdkmath.NewInt(995_000), 99.5)
			},
			status:   models.ConsolidationCompleted,
			progress: 100,
		},
	}

	for _, step := range steps {
		detail, err = step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if detail.Status != step.status {
			t.Errorf("%s: expected status %s, got %s", step.name, step.status, detail.Status)
		}
		if detail.ProgressPercent != step.progress {
			t.Errorf("%s: expected %d%%, got %d%%", step.name, step.progress, detail.ProgressPercent)
		}
	}

	if detail.CompletedChains != 1 {
		t.Errorf("expected 1 completed chain, got %d", detail.CompletedChains)
	}
	if detail.CompletedAt == nil {
		t.Error("expected completedAt to be set on finalization")
	}
	if detail.TotalOutputValueUsd != 99.5 {
		t.Errorf("expected total output 99.5, got %v", detail.TotalOutputValueUsd)
	}
	if got := detail.ActualFeesUsd; got < 0.49 || got > 0.51 {
		t.Errorf("expected fees ~0.5, got %v", got)
	}
	if !detail.FinalOutputAmount.Equal(sdkmath.NewInt(995_000)) {
		t.Errorf("expected final output 995000, got %s", detail.FinalOutputAmount)
	}

	op := detail.Operation("arbitrum")
	if op == nil || op.Status != models.ChainCompleted {
		t.Fatalf("expected arbitrum COMPLETED, got %+v", op)
	}
	if op.BridgeDestinationTxHash != "0xdest" {
		t.Errorf("expected destination tx recorded, got %q", op.BridgeDestinationTxHash)
	}
}

func TestPartialSuccess(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.InitializeStatus(ctx, testPlan("c-2",
		chainPlan("arbitrum", 60, true),
		chainPlan("optimism", 40, true)))
	if err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}

	if _, err := tr.MarkSwapStarted(ctx, "c-2", "arbitrum", "0xa"); err != nil {
		t.Fatalf("MarkSwapStarted: %v", err)
	}
	if _, err := tr.MarkChainFailed(ctx, "c-2", "arbitrum", models.StageSwap, "slippage exceeded"); err != nil {
		t.Fatalf("MarkChainFailed: %v", err)
	}

	if _, err := tr.MarkSwapStarted(ctx, "c-2", "optimism", "0xb"); err != nil {
		t.Fatalf("MarkSwapStarted: %v", err)
	}
	if _, err := tr.MarkSwapCompleted(ctx, "c-2", "optimism", ""); err != nil {
		t.Fatalf("MarkSwapCompleted: %v", err)
	}
	if _, err := tr.MarkBridgeStarted(ctx, "c-2", "optimism", "0xc", "across"); err != nil {
		t.Fatalf("MarkBridgeStarted: %v", err)
	}
	detail, err := tr.MarkBridgeCompleted(ctx, "c-2", "optimism", "0xd", sdkmath.NewInt(398_000), 39.8)
	if err != nil {
		t.Fatalf("MarkBridgeCompleted: %v", err)
	}

	if detail.Status != models.ConsolidationPartialSuccess {
		t.Fatalf("expected PARTIAL_SUCCESS, got %s", detail.Status)
	}
	if detail.ProgressPercent != 100 {
		t.Errorf("expected 100%%, got %d%%", detail.ProgressPercent)
	}
	if detail.CompletedChains != 2 {
		t.Errorf("expected 2 done chains, got %d", detail.CompletedChains)
	}
	if len(detail.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(detail.Errors))
	}
	if e := detail.Errors[0]; e.Chain != "arbitrum" || e.Stage != models.StageSwap || e.Error != "slippage exceeded" {
		t.Errorf("unexpected error record: %+v", e)
	}

	failed := detail.Operation("arbitrum")
	if failed.Status != models.ChainFailed || failed.SwapError != "slippage exceeded" {
		t.Errorf("unexpected failed op: %+v", failed)
	}
}

func TestAllChainsFailedMeansFailed(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-3",
		chainPlan("arbitrum", 50, true),
		chainPlan("optimism", 50, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkChainFailed(ctx, "c-3", "arbitrum", models.StageSwap, "nope"); err != nil {
		t.Fatalf("MarkChainFailed: %v", err)
	}
	detail, err := tr.MarkChainFailed(ctx, "c-3", "optimism", models.StageBridge, "nope")
	if err != nil {
		t.Fatalf("MarkChainFailed: %v", err)
	}

	if detail.Status != models.ConsolidationFailed {
		t.Fatalf("expected FAILED, got %s", detail.Status)
	}
	if detail.ProgressPercent != 100 {
		t.Errorf("expected 100%% on all-failed, got %d%%", detail.ProgressPercent)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-4",
		chainPlan("arbitrum", 30, true),
		chainPlan("optimism", 30, true),
		chainPlan("polygon", 40, false))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}

	updates := []func() (*models.ConsolidationStatusDetail, error){
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkSwapStarted(ctx, "c-4", "arbitrum", "0x1")
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkSwapStarted(ctx, "c-4", "optimism", "0x2")
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkSameChainCompleted(ctx, "c-4", "polygon", sdkmath.NewInt(400_000), 40)
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkChainFailed(ctx, "c-4", "optimism", models.StageSwap, "reverted")
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkSwapCompleted(ctx, "c-4", "arbitrum", "")
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkBridgeStarted(ctx, "c-4", "arbitrum", "0x3", "across")
		},
		func() (*models.ConsolidationStatusDetail, error) {
			return tr.MarkBridgeCompleted(ctx, "c-4", "arbitrum", "0x4", sdkmath.NewInt(298_000), 29.8)
		},
	}

	last := 0
	for i, update := range updates {
		detail, err := update()
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if detail.ProgressPercent < last {
			t.Fatalf("update %d: progress went backwards, %d%% -> %d%%", i, last, detail.ProgressPercent)
		}
		last = detail.ProgressPercent
	}
	if last != 100 {
		t.Fatalf("expected 100%% at the end, got %d%%", last)
	}
}

func TestStatusRecordRoundTripsThroughStore(t *testing.T) {
	tr, mem := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-5", chainPlan("arbitrum", 100, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkBridgeStarted(ctx, "c-5", "arbitrum", "0xb", "across"); err != nil {
		t.Fatalf("MarkBridgeStarted: %v", err)
	}
	detail, err := tr.MarkBridgeCompleted(ctx, "c-5", "arbitrum", "0xd", sdkmath.NewInt(995_000), 99.5)
	if err != nil {
		t.Fatalf("MarkBridgeCompleted: %v", err)
	}

	stored, err := mem.Get(ctx, "consolidation:status:c-5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var decoded models.ConsolidationStatusDetail
	if err := json.Unmarshal(stored, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.FinalOutputAmount.Equal(detail.FinalOutputAmount) {
		t.Errorf("big integer amount lost in round trip: %s vs %s",
			decoded.FinalOutputAmount, detail.FinalOutputAmount)
	}

	reencoded, err := json.Marshal(&decoded)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(stored, reencoded) {
		t.Errorf("status record does not round trip byte for byte:\nstored: %s\nre-encoded: %s", stored, reencoded)
	}
}

func TestEventLogOrderingAndPayloads(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-6", chainPlan("arbitrum", 100, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkBridgeStarted(ctx, "c-6", "arbitrum", "0xb", "across"); err != nil {
		t.Fatalf("MarkBridgeStarted: %v", err)
	}
	if _, err := tr.MarkBridgeCompleted(ctx, "c-6", "arbitrum", "0xd", sdkmath.NewInt(995_000), 99.5); err != nil {
		t.Fatalf("MarkBridgeCompleted: %v", err)
	}

	events, err := tr.GetEvents(ctx, "c-6", 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}

	wantNewestFirst := []models.EventType{
		models.EventConsolidationCompleted,
		models.EventChainBridgeCompleted,
		models.EventChainBridgeStarted,
		models.EventConsolidationStarted,
	}
	if len(events) != len(wantNewestFirst) {
		t.Fatalf("expected %d events, got %d", len(wantNewestFirst), len(events))
	}
	for i, want := range wantNewestFirst {
		if events[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}

	var payload models.FinishedData
	if err := json.Unmarshal(events[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal finished payload: %v", err)
	}
	if payload.Status != models.ConsolidationCompleted || payload.CompletedChains != 1 {
		t.Errorf("unexpected finished payload: %+v", payload)
	}

	limited, err := tr.GetEvents(ctx, "c-6", 2)
	if err != nil {
		t.Fatalf("GetEvents limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events with limit, got %d", len(limited))
	}
}

func TestEventLogCapKeepsNewest(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := testTrackerConfig()
	cfg.EventLogCap = 3
	tr := New(mem, cfg, zap.NewNop())
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-cap", chainPlan("arbitrum", 100, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkSwapStarted(ctx, "c-cap", "arbitrum", "0x1"); err != nil {
		t.Fatalf("MarkSwapStarted: %v", err)
	}
	if _, err := tr.MarkSwapCompleted(ctx, "c-cap", "arbitrum", ""); err != nil {
		t.Fatalf("MarkSwapCompleted: %v", err)
	}
	if _, err := tr.MarkBridgeStarted(ctx, "c-cap", "arbitrum", "0x2", "across"); err != nil {
		t.Fatalf("MarkBridgeStarted: %v", err)
	}

	events, err := tr.GetEvents(ctx, "c-cap", 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected log capped at 3, got %d", len(events))
	}
	// oldest (consolidation_started) must be the one trimmed away
	want := []models.EventType{
		models.EventChainBridgeStarted,
		models.EventChainSwapCompleted,
		models.EventChainSwapStarted,
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
}

func TestUserHistoryPagination(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"h-1", "h-2", "h-3"} {
		if _, err := tr.InitializeStatus(ctx, testPlan(id, chainPlan("arbitrum", 10, true))); err != nil {
			t.Fatalf("InitializeStatus %s: %v", id, err)
		}
	}

	page, err := tr.GetUserHistory(ctx, "user-1", 2, 0)
	if err != nil {
		t.Fatalf("GetUserHistory: %v", err)
	}
	if len(page) != 2 || page[0].ConsolidationID != "h-3" || page[1].ConsolidationID != "h-2" {
		t.Fatalf("expected newest-first page [h-3 h-2], got %+v", ids(page))
	}

	rest, err := tr.GetUserHistory(ctx, "user-1", 2, 2)
	if err != nil {
		t.Fatalf("GetUserHistory offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ConsolidationID != "h-1" {
		t.Fatalf("expected [h-1], got %+v", ids(rest))
	}
}

func ids(details []models.ConsolidationStatusDetail) []string {
	out := make([]string, len(details))
	for i := range details {
		out[i] = details[i].ConsolidationID
	}
	return out
}

func TestHistoryDropsExpiredRecords(t *testing.T) {
	tr, mem := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"h-1", "h-2"} {
		if _, err := tr.InitializeStatus(ctx, testPlan(id, chainPlan("arbitrum", 10, true))); err != nil {
			t.Fatalf("InitializeStatus %s: %v", id, err)
		}
	}
	if err := mem.Delete(ctx, "consolidation:status:h-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	page, err := tr.GetUserHistory(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("GetUserHistory: %v", err)
	}
	if len(page) != 1 || page[0].ConsolidationID != "h-2" {
		t.Fatalf("expected only h-2, got %+v", ids(page))
	}
}

func TestTerminalRecordRejectsUpdates(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.InitializeStatus(ctx, testPlan("c-7", chainPlan("arbitrum", 10, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkConsolidationFailed(ctx, "c-7", "user cancelled"); err != nil {
		t.Fatalf("MarkConsolidationFailed: %v", err)
	}

	if _, err := tr.MarkSwapStarted(ctx, "c-7", "arbitrum", "0x1"); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
	if _, err := tr.MarkConsolidationFailed(ctx, "c-7", "again"); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal on double abort, got %v", err)
	}
}

func TestUpdateUnknownChainOrConsolidation(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.MarkSwapStarted(ctx, "missing", "arbitrum", "0x1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := tr.InitializeStatus(ctx, testPlan("c-8", chainPlan("arbitrum", 10, true))); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.MarkSwapStarted(ctx, "c-8", "solana", "0x1"); !errors.Is(err, ErrChainNotInPlan) {
		t.Fatalf("expected ErrChainNotInPlan, got %v", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	plan := testPlan("", chainPlan("arbitrum", 10, true))
	if err := tr.StorePlan(ctx, plan); err != nil {
		t.Fatalf("StorePlan: %v", err)
	}
	if plan.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	loaded, err := tr.LoadPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.UserID != plan.UserID || len(loaded.Chains) != 1 {
		t.Fatalf("plan did not round trip: %+v", loaded)
	}
	if !loaded.Chains[0].InputAmount.Equal(plan.Chains[0].InputAmount) {
		t.Errorf("plan amount lost in round trip")
	}

	if _, err := tr.LoadPlan(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDoubleInitializeRejected(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	plan := testPlan("c-9", chainPlan("arbitrum", 10, true))
	if _, err := tr.InitializeStatus(ctx, plan); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}
	if _, err := tr.InitializeStatus(ctx, plan); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestConcurrentChainUpdatesAreSerialized(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	const chains = 8
	plans := make([]models.ChainPlan, 0, chains)
	for i := 0; i < chains; i++ {
		plans = append(plans, chainPlan(fmt.Sprintf("chain-%d", i), 10, false))
	}
	if _, err := tr.InitializeStatus(ctx, testPlan("c-conc", plans...)); err != nil {
		t.Fatalf("InitializeStatus: %v", err)
	}

	// every goroutine completes a distinct chain; without per-id
	// serialization the read-modify-write cycles would lose updates
	var wg sync.WaitGroup
	errs := make(chan error, chains)
	for i := 0; i < chains; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chain := fmt.Sprintf("chain-%d", i)
			_, err := tr.MarkSameChainCompleted(ctx, "c-conc", chain, sdkmath.NewInt(1_000_000), 10)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}

	detail, err := tr.GetStatus(ctx, "c-conc")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if detail.CompletedChains != chains {
		t.Fatalf("expected %d completed chains, got %d", chains, detail.CompletedChains)
	}
	if detail.Status != models.ConsolidationCompleted {
		t.Fatalf("expected COMPLETED, got %s", detail.Status)
	}
	if detail.ProgressPercent != 100 {
		t.Fatalf("expected 100%%, got %d", detail.ProgressPercent)
	}
	if detail.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	tr.mu.Lock()
	remaining := len(tr.locks)
	tr.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected lock map to be empty after updates, got %d entries", remaining)
	}
}
