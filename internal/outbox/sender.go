package outbox

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rmaciel7/aide/internal/backend"
	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/observability"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

// ChatAPI is the slice of the backend client the sender needs: the SSE
// endpoint for normal prompts, the plain endpoint for voice prompts.
type ChatAPI interface {
	ChatStream(ctx context.Context, prompt string) (io.ReadCloser, error)
	Chat(ctx context.Context, prompt string) (string, error)
}

// Sender drains the outbox and sends prompts to the chatbot backend. Sends
// are serialized: entries are processed one at a time, and the local API
// refuses to queue while one is in flight.
type Sender struct {
	db     *store.DB
	api    ChatAPI
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, api ChatAPI, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		api:    api,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending prompts.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		s.Process(ctx, entry)
	}
}

// Process sends a single outbox entry: optimistic user echo, assistant
// placeholder, then either the streaming or the voice path. Queued entries
// are picked up by the 500ms poll loop; Process is the single-entry unit of
// work it runs.
func (s *Sender) Process(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	// Optimistic insert: the prompt shows up in the feed immediately.
	now := time.Now()
	_, _ = s.db.InsertMessage(&store.Message{
		MsgID:        entry.ClientMsgID,
		Role:         "user",
		Body:         entry.Body,
		Sender:       store.SenderDefault,
		Status:       "sending",
		CreatedAt:    now.UnixMilli(),
		CreatedAtRaw: now.UTC().Format(time.RFC3339),
	})
	s.publishUpserted(entry.ClientMsgID)

	// Placeholder for the reply; the stream fills it in.
	replyID := uuid.NewString()
	_, _ = s.db.InsertMessage(&store.Message{
		MsgID:        replyID,
		Role:         "assistant",
		Sender:       store.SenderDefault,
		Streaming:    true,
		Status:       "streaming",
		CreatedAt:    now.UnixMilli() + 1,
		CreatedAtRaw: now.UTC().Format(time.RFC3339),
	})
	s.publishUpserted(replyID)

	var err error
	if entry.Voice {
		err = s.sendVoice(ctx, entry, replyID)
	} else {
		err = s.sendStream(ctx, entry, replyID)
	}
	if err != nil {
		s.fail(entry, replyID, err)
		return
	}
	observability.IncSend("sent")

	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	_ = s.db.SetMessageBody(entry.ClientMsgID, entry.Body, false, "sent")
	s.publishUpserted(entry.ClientMsgID)

	s.logger.Info("prompt answered",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("reply_id", replyID),
		zap.Bool("voice", entry.Voice))
}

func (s *Sender) sendStream(ctx context.Context, entry store.OutboxEntry, replyID string) error {
	if err := s.db.MarkOutboxStreaming(entry.ClientMsgID); err != nil {
		return err
	}

	body, err := s.api.ChatStream(ctx, entry.Body)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	var acc *backend.Accumulator
	acc = backend.NewAccumulator(func(content string) {
		observability.IncStreamEvent()
		// Past the clear-progress marker the reply renders as settled text;
		// only the body keeps growing.
		_ = s.db.SetMessageBody(replyID, content, !acc.Cleared(), "streaming")
		s.bus.Publish(bus.Event{
			Kind:      "message.stream_delta",
			Timestamp: time.Now(),
			Payload:   map[string]string{"msg_id": replyID, "body": content},
		})
	}, s.logger)

	if err := backend.ReadStream(ctx, body, acc); err != nil {
		return err
	}

	if err := s.db.SetMessageBody(replyID, acc.Content(), false, "received"); err != nil {
		return err
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.stream_done",
		Timestamp: time.Now(),
		Payload:   map[string]string{"msg_id": replyID, "body": acc.Content()},
	})
	return nil
}

func (s *Sender) sendVoice(ctx context.Context, entry store.OutboxEntry, replyID string) error {
	reply, err := s.api.Chat(ctx, entry.Body)
	if err != nil {
		return err
	}
	if err := s.db.SetMessageBody(replyID, reply, false, "received"); err != nil {
		return err
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.stream_done",
		Timestamp: time.Now(),
		Payload:   map[string]string{"msg_id": replyID, "body": reply},
	})
	return nil
}

// fail records a failed send. The user echo keeps its text with a failed
// status; the reply placeholder is replaced by the standing error text so
// the feed never shows an empty bubble.
func (s *Sender) fail(entry store.OutboxEntry, replyID string, err error) {
	s.logger.Error("failed to send prompt", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	observability.IncSend("failed")
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
	_ = s.db.SetMessageBody(entry.ClientMsgID, entry.Body, false, "failed")
	_ = s.db.SetMessageBody(replyID, backend.StreamErrorText, false, "error")
	s.publishUpserted(replyID)
	s.bus.Publish(bus.Event{
		Kind:      "message.send_failed",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"error":         err.Error(),
		},
	})
}

func (s *Sender) publishUpserted(msgID string) {
	s.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: time.Now(),
		Payload:   map[string]string{"msg_id": msgID},
	})
}
