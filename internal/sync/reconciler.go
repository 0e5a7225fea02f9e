package sync

import (
	"context"
	"sort"
	gosync "sync"

	"github.com/rmaciel7/aide/internal/observability"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

// Deliverer acknowledges a scheduled message delivery to the backend.
type Deliverer interface {
	MarkDelivered(ctx context.Context, serverID string) error
}

// Reconciler merges message batches from different sources (REST fetch,
// realtime push, scheduled poller) into one chronological feed without
// duplicates, and acknowledges scheduled deliveries exactly once.
type Reconciler struct {
	logger *zap.Logger

	mu    gosync.Mutex
	acked map[string]bool
}

// NewReconciler creates a new reconciler.
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{
		logger: logger,
		acked:  make(map[string]bool),
	}
}

// Merge folds incoming messages into existing ones. A message is a duplicate
// when its scheduled message id already materialized, or when an un-keyed row
// collides on the composite content+timestamp key. Survivors are appended and
// the whole feed is stably sorted by creation time, so equal timestamps keep
// arrival order. Returns the merged feed and the messages that were new.
func (r *Reconciler) Merge(existing, incoming []store.Message) (merged, added []store.Message) {
	scheduledIDs := make(map[string]bool, len(existing))
	composite := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.ScheduledMessageID != "" {
			scheduledIDs[m.ScheduledMessageID] = true
		}
		composite[compositeKey(&m)] = true
	}

	merged = append(merged, existing...)
	for _, m := range incoming {
		if m.ScheduledMessageID != "" {
			if scheduledIDs[m.ScheduledMessageID] {
				continue
			}
			scheduledIDs[m.ScheduledMessageID] = true
		} else if composite[compositeKey(&m)] {
			continue
		}
		composite[compositeKey(&m)] = true
		merged = append(merged, m)
		added = append(added, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged, added
}

// compositeKey is the fallback identity for rows without a scheduled message
// id: a prefix of the content plus a prefix of the raw timestamp. Two
// distinct messages sharing both prefixes collapse into one; the prefixes are
// long enough that this has not mattered in practice.
func compositeKey(m *store.Message) string {
	content := m.Body
	if len(content) > 200 {
		content = content[:200]
	}
	ts := m.CreatedAtRaw
	if len(ts) > 16 {
		ts = ts[:16]
	}
	return content + "|" + ts
}

// AcknowledgeDeliveries issues one deliver call per scheduled message the
// server still marks undelivered. A failed ack is logged and dropped, never
// retried: the message stays visible either way, and the server flag is the
// only thing gating a retry on the next poll. Returns the server ids acked
// in this call.
func (r *Reconciler) AcknowledgeDeliveries(ctx context.Context, d Deliverer, sms []store.ScheduledMessage) []string {
	var acked []string
	for _, sm := range sms {
		if sm.IsDelivered {
			continue
		}
		r.mu.Lock()
		already := r.acked[sm.ServerID]
		if !already {
			r.acked[sm.ServerID] = true
		}
		r.mu.Unlock()
		if already {
			continue
		}

		if err := d.MarkDelivered(ctx, sm.ServerID); err != nil {
			r.logger.Warn("deliver ack failed",
				zap.String("server_id", sm.ServerID),
				zap.Error(err))
			observability.IncDeliveryAck("error")
			continue
		}
		observability.IncDeliveryAck("ok")
		acked = append(acked, sm.ServerID)
	}
	return acked
}
