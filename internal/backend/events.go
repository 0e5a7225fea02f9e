package backend

import (
	"context"

	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/status"
	"go.uber.org/zap"
)

// EventHandler drives the daemon state machine from backend connection
// events. It does NOT touch the store; the sync engine subscribes to the
// same events independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start subscribes to backend events on the bus.
func (h *EventHandler) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	ch, unsub := h.bus.Subscribe("backend.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				h.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the handler.
func (h *EventHandler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *EventHandler) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "backend.connected":
		current := h.machine.Current()
		if current == status.Reconnecting || current == status.Degraded {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
	case "backend.disconnected":
		// REST polling keeps working without the realtime channel, so a
		// websocket drop degrades instead of erroring.
		if h.machine.Current() == status.Ready {
			_ = h.machine.Transition(status.Degraded)
		}
	case "backend.synced":
		if h.machine.Current() == status.Syncing {
			_ = h.machine.Transition(status.Ready)
		}
	case "backend.auth_expired":
		h.logger.Warn("backend session expired, auth required")
		_ = h.machine.Transition(status.AuthRequired)
	}
}
