package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rmaciel7/aide/internal/backend"
	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/observability"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

// BackendAPI is the slice of the backend client the engine needs.
type BackendAPI interface {
	ListConversations(ctx context.Context) ([]backend.ConversationRow, error)
	ListScheduledMessages(ctx context.Context) ([]backend.ScheduledRow, error)
	MarkDelivered(ctx context.Context, serverID string) error
}

// Engine handles idempotent ingestion of messages into the store. It
// subscribes to "backend.*" events on the bus, runs a full fetch when the
// realtime channel connects, and polls the scheduled messages endpoint
// between pushes.
type Engine struct {
	db           *store.DB
	bus          *bus.Bus
	api          BackendAPI
	reconciler   *Reconciler
	logger       *zap.Logger
	pollInterval time.Duration
	cancel       context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, api BackendAPI, logger *zap.Logger) *Engine {
	return &Engine{
		db:           db,
		bus:          b,
		api:          api,
		reconciler:   NewReconciler(logger),
		logger:       logger,
		pollInterval: 30 * time.Second,
	}
}

// Start subscribes to backend events on the bus and starts the scheduled
// messages poller.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("backend.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.PollScheduled(ctx); err != nil {
					e.logger.Warn("scheduled poll failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "backend.connected":
		if err := e.SyncNow(ctx); err != nil {
			e.logger.Error("full sync failed", zap.Error(err))
			return
		}
		e.bus.Publish(bus.Event{Kind: "backend.synced", Timestamp: time.Now()})
	case "backend.conversation_row":
		row, ok := evt.Payload.(*backend.ConversationRow)
		if !ok {
			return
		}
		msg, err := backend.ParseConversationRow(row)
		if err != nil {
			e.logger.Warn("dropping unparseable row", zap.Error(err))
			return
		}
		if err := e.ingest("realtime", []store.Message{*msg}); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	}
}

// SyncNow runs a full reconciliation pass: conversation history, scheduled
// messages, delivery acks, checkpoint. Safe to run repeatedly; everything
// downstream is idempotent.
func (e *Engine) SyncNow(ctx context.Context) error {
	rows, err := e.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	incoming := make([]store.Message, 0, len(rows))
	for i := range rows {
		msg, err := backend.ParseConversationRow(&rows[i])
		if err != nil {
			e.logger.Warn("dropping unparseable row", zap.Error(err))
			continue
		}
		incoming = append(incoming, *msg)
	}
	if err := e.ingest("rest", incoming); err != nil {
		return fmt.Errorf("ingest conversations: %w", err)
	}

	if err := e.PollScheduled(ctx); err != nil {
		return err
	}

	if err := e.db.UpdateCheckpoint("last_sync", time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	e.logger.Info("full sync complete", zap.Int("rows", len(rows)))
	return nil
}

// PollScheduled fetches scheduled messages, materializes them into the feed
// and acknowledges new deliveries.
func (e *Engine) PollScheduled(ctx context.Context) error {
	rows, err := e.api.ListScheduledMessages(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled: %w", err)
	}

	incoming := make([]store.Message, 0, len(rows))
	pending := make([]store.ScheduledMessage, 0, len(rows))
	for i := range rows {
		sm, msg, err := backend.ParseScheduledRow(&rows[i])
		if err != nil {
			e.logger.Warn("dropping unparseable scheduled row", zap.Error(err))
			continue
		}
		if err := e.db.UpsertScheduledMessage(sm); err != nil {
			return fmt.Errorf("upsert scheduled: %w", err)
		}
		incoming = append(incoming, *msg)
		pending = append(pending, *sm)
	}
	if err := e.ingest("scheduled", incoming); err != nil {
		return fmt.Errorf("ingest scheduled: %w", err)
	}

	for _, id := range e.reconciler.AcknowledgeDeliveries(ctx, e.api, pending) {
		if err := e.db.MarkScheduledAcked(id); err != nil {
			e.logger.Warn("failed to record ack", zap.Error(err), zap.String("server_id", id))
		}
	}
	return nil
}

// ingest merges a batch against the current feed and inserts what is new.
// The store's unique indexes back up the in-memory dedup against races
// between the realtime push and a concurrent fetch.
func (e *Engine) ingest(source string, incoming []store.Message) error {
	if len(incoming) == 0 {
		return nil
	}

	existing, err := e.db.ListMessagesSince(0)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	_, added := e.reconciler.Merge(existing, incoming)
	for i := range added {
		inserted, err := e.db.InsertMessage(&added[i])
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if !inserted {
			continue
		}
		observability.IncMessagesIngested(source)
		e.bus.Publish(bus.Event{
			Kind:      "message.upserted",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"msg_id": added[i].MsgID,
			},
		})
	}
	return nil
}
