package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/observability"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
)

// Realtime subscribes to row inserts on chatbot_conversations over the
// database's realtime websocket, filtered by user id. Rows arrive in the
// same shape as the REST conversation rows and are published on the bus;
// the sync engine ingests them independently.
type Realtime struct {
	url     string
	anonKey string
	tokens  TokenSource
	userID  string
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewRealtime creates a realtime subscriber. url is the auth project URL;
// the websocket endpoint is derived from it.
func NewRealtime(url, anonKey string, tokens TokenSource, userID string, b *bus.Bus, logger *zap.Logger) *Realtime {
	return &Realtime{
		url:     url,
		anonKey: anonKey,
		tokens:  tokens,
		userID:  userID,
		bus:     b,
		logger:  logger,
	}
}

// phoenixFrame is the channel protocol envelope.
type phoenixFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type insertPayload struct {
	Record ConversationRow `json:"record"`
}

// Start runs the subscription loop until Stop. Connection losses reconnect
// with a fixed delay; each transition is published on the bus so the state
// machine can degrade and recover.
func (r *Realtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop terminates the subscription loop.
func (r *Realtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Realtime) loop(ctx context.Context) {
	for {
		if err := r.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("realtime connection lost", zap.Error(err))
			observability.SetRealtimeConnected(false)
			r.bus.Publish(bus.Event{Kind: "backend.disconnected", Timestamp: time.Now()})
		}
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Realtime) runOnce(ctx context.Context) error {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("realtime token: %w", err)
	}

	wsURL := websocketURL(r.url) + "/realtime/v1/websocket?apikey=" + r.anonKey + "&vsn=1.0.0"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer func() { _ = conn.Close() }()

	topic := "realtime:public:chatbot_conversations:user_id=eq." + r.userID
	join := phoenixFrame{
		Topic:   topic,
		Event:   "phx_join",
		Payload: mustJSON(map[string]string{"user_token": token}),
		Ref:     "1",
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}

	r.logger.Info("realtime channel joined", zap.String("topic", topic))
	observability.SetRealtimeConnected(true)
	r.bus.Publish(bus.Event{Kind: "backend.connected", Timestamp: time.Now()})

	// Close the connection when the context ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go r.heartbeat(ctx, conn)

	for {
		var frame phoenixFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		r.handleFrame(&frame)
	}
}

func (r *Realtime) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hb := phoenixFrame{Topic: "phoenix", Event: "heartbeat", Payload: mustJSON(map[string]string{})}
			if err := conn.WriteJSON(hb); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Realtime) handleFrame(frame *phoenixFrame) {
	switch frame.Event {
	case "INSERT":
		var payload insertPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			r.logger.Warn("skipping malformed realtime insert", zap.Error(err))
			return
		}
		r.bus.Publish(bus.Event{
			Kind:      "backend.conversation_row",
			Timestamp: time.Now(),
			Payload:   &payload.Record,
		})
	case "phx_reply", "phx_error":
		// Join acks and channel errors are logged only; the read loop
		// surfaces a broken channel as a read error.
		if frame.Event == "phx_error" {
			r.logger.Warn("realtime channel error", zap.String("topic", frame.Topic))
		}
	}
}

func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
