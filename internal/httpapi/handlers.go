package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/status"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

// BackendControl is the slice of the backend client the local API forwards
// to directly, bypassing the outbox.
type BackendControl interface {
	GenerateToday(ctx context.Context) error
	DeleteConversation(ctx context.Context, id string) error
	TTS(ctx context.Context, text string) ([]byte, error)
}

// Handlers serves the daemon's local control API over the session socket.
type Handlers struct {
	db        *store.DB
	machine   *status.Machine
	api       BackendControl
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
	startedAt time.Time
}

// NewHandlers builds the local API handlers.
func NewHandlers(db *store.DB, machine *status.Machine, api BackendControl, b *bus.Bus, logger *zap.Logger, session string) *Handlers {
	return &Handlers{
		db:        db,
		machine:   machine,
		api:       api,
		bus:       b,
		logger:    logger,
		session:   session,
		startedAt: time.Now(),
	}
}

// Status reports daemon state for aidectl and the TUI status bar.
func (h *Handlers) Status(c *gin.Context) {
	lastSync, err := h.db.GetCheckpoint("last_sync")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":           h.session,
		"state":             string(h.machine.Current()),
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"last_sync_unix_ms": lastSync,
	})
}

type messageResponse struct {
	MsgID              string `json:"msg_id"`
	Role               string `json:"role"`
	Body               string `json:"body"`
	Sender             string `json:"sender"`
	Metadata           string `json:"metadata,omitempty"`
	ScheduledMessageID string `json:"scheduled_message_id,omitempty"`
	Streaming          bool   `json:"streaming"`
	Status             string `json:"status"`
	CreatedAtUnixMs    int64  `json:"created_at_unix_ms"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		MsgID:              m.MsgID,
		Role:               m.Role,
		Body:               m.Body,
		Sender:             m.Sender,
		Metadata:           m.Metadata,
		ScheduledMessageID: m.ScheduledMessageID,
		Streaming:          m.Streaming,
		Status:             m.Status,
		CreatedAtUnixMs:    m.CreatedAt,
	}
}

// ListMessages returns one local calendar day of the feed, ascending.
// Switching days is a full replacement in the client, never a merge.
func (h *Handlers) ListMessages(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}
	start, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)

	msgs, err := h.db.ListMessagesBetween(start.UnixMilli(), end.UnixMilli())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	responses := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		responses = append(responses, toMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "messages": responses})
}

// SendMessage queues a prompt. Sends are serialized: while one is queued or
// in flight the endpoint answers 409 and the client shows "still answering".
func (h *Handlers) SendMessage(c *gin.Context) {
	var req struct {
		Body  string `json:"body" binding:"required"`
		Voice bool   `json:"voice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	busy, err := h.db.HasActiveOutbox()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check outbox"})
		return
	}
	if busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a send is already in progress"})
		return
	}

	clientMsgID := uuid.NewString()
	if err := h.db.QueueOutbox(clientMsgID, req.Body, req.Voice); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue message"})
		return
	}
	h.logger.Info("prompt queued", zap.String("client_msg_id", clientMsgID), zap.Bool("voice", req.Voice))
	c.JSON(http.StatusAccepted, gin.H{"client_msg_id": clientMsgID})
}

// ListScheduled returns the known scheduled messages.
func (h *Handlers) ListScheduled(c *gin.Context) {
	sms, err := h.db.ListScheduledMessages()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scheduled messages"})
		return
	}

	type scheduledResponse struct {
		ServerID           string `json:"server_id"`
		Content            string `json:"content"`
		ScheduledForUnixMs int64  `json:"scheduled_for_unix_ms"`
		IsDelivered        bool   `json:"is_delivered"`
	}
	responses := make([]scheduledResponse, 0, len(sms))
	for _, sm := range sms {
		responses = append(responses, scheduledResponse{
			ServerID:           sm.ServerID,
			Content:            sm.Content,
			ScheduledForUnixMs: sm.ScheduledFor,
			IsDelivered:        sm.IsDelivered,
		})
	}
	c.JSON(http.StatusOK, gin.H{"scheduled_messages": responses})
}

// GenerateScheduled asks the backend to generate today's scheduled messages.
// The poller picks them up on its next pass.
func (h *Handlers) GenerateScheduled(c *gin.Context) {
	if err := h.api.GenerateToday(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "generate failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// DeleteConversation removes a conversation row server-side and locally.
func (h *Handlers) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := h.api.DeleteConversation(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "delete failed"})
		return
	}
	if err := h.db.DeleteMessage("conv-" + id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deleted remotely but not locally"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TTS synthesizes speech for the given text and streams the audio back.
func (h *Handlers) TTS(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audio, err := h.api.TTS(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "tts failed"})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// eventEnvelope is one SSE event on /v1/events.
type eventEnvelope struct {
	EventID        string `json:"event_id"`
	Kind           string `json:"kind"`
	OccurredAtUnix int64  `json:"occurred_at_unix_ms"`
	Data           any    `json:"data,omitempty"`
}

// Events streams bus events to the client as SSE. The TUI drives its
// repaints from this instead of polling.
func (h *Handlers) Events(c *gin.Context) {
	msgCh, unsubMsg := h.bus.Subscribe("message.", 256)
	defer unsubMsg()
	sessCh, unsubSess := h.bus.Subscribe("session.", 64)
	defer unsubSess()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		var evt bus.Event
		select {
		case evt = <-msgCh:
		case evt = <-sessCh:
		case <-ctx.Done():
			return
		}
		c.SSEvent("", eventEnvelope{
			EventID:        uuid.NewString(),
			Kind:           evt.Kind,
			OccurredAtUnix: evt.Timestamp.UnixMilli(),
			Data:           evt.Payload,
		})
		c.Writer.Flush()
	}
}
