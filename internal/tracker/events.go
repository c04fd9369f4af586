package tracker

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chainsweep/internal/models"
)

// emit appends an event to the consolidation's capped log and broadcasts it on
// the consolidation's channel. Event delivery is best effort: a failed append
// or publish is logged and never fails the mutation that produced it.
func (t *Tracker) emit(ctx context.Context, ev models.ConsolidationEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("failed to marshal event",
			zap.String("consolidation_id", ev.ConsolidationID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}

	key := eventsKey(ev.ConsolidationID)
	if err := t.store.ListPush(ctx, key, data); err != nil {
		t.logger.Error("failed to append event",
			zap.String("consolidation_id", ev.ConsolidationID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}
	if err := t.store.ListTrim(ctx, key, 0, t.cfg.EventLogCap-1); err != nil {
		t.logger.Warn("failed to trim event log",
			zap.String("consolidation_id", ev.ConsolidationID),
			zap.Error(err))
	}
	if err := t.store.Expire(ctx, key, t.cfg.EventTTL); err != nil {
		t.logger.Warn("failed to refresh event log ttl",
			zap.String("consolidation_id", ev.ConsolidationID),
			zap.Error(err))
	}
	if err := t.store.Publish(ctx, key, data); err != nil {
		t.logger.Warn("failed to publish event",
			zap.String("consolidation_id", ev.ConsolidationID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// GetEvents returns up to limit events for a consolidation, newest first.
// A non-positive limit returns the whole retained log.
func (t *Tracker) GetEvents(ctx context.Context, id string, limit int) ([]models.ConsolidationEvent, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := t.store.ListRange(ctx, eventsKey(id), 0, stop)
	if err != nil {
		return nil, err
	}

	events := make([]models.ConsolidationEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.ConsolidationEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			t.logger.Warn("skipping undecodable event",
				zap.String("consolidation_id", id),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// appendHistory registers a consolidation id in the user's capped history
// list. Like event delivery this is best effort.
func (t *Tracker) appendHistory(ctx context.Context, userID, id string) {
	key := historyKey(userID)
	if err := t.store.ListPush(ctx, key, []byte(id)); err != nil {
		t.logger.Error("failed to record history",
			zap.String("user_id", userID),
			zap.String("consolidation_id", id),
			zap.Error(err))
		return
	}
	if err := t.store.ListTrim(ctx, key, 0, t.cfg.HistoryCap-1); err != nil {
		t.logger.Warn("failed to trim history",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	if err := t.store.Expire(ctx, key, t.cfg.HistoryTTL); err != nil {
		t.logger.Warn("failed to refresh history ttl",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// GetUserHistory pages through a user's consolidations, newest first. Ids
// whose status record has already expired are dropped from the page rather
// than surfaced as errors, so a page can come back shorter than limit.
func (t *Tracker) GetUserHistory(ctx context.Context, userID string, limit, offset int) ([]models.ConsolidationStatusDetail, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	start := int64(offset)
	stop := start + int64(limit) - 1

	ids, err := t.store.ListRange(ctx, historyKey(userID), start, stop)
	if err != nil {
		return nil, err
	}

	history := make([]models.ConsolidationStatusDetail, 0, len(ids))
	for _, raw := range ids {
		detail, err := t.loadStatus(ctx, string(raw))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		history = append(history, *detail)
	}
	return history, nil
}
