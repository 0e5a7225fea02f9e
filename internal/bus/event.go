package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "backend.*" for rows arriving from the Aide
// API or the realtime channel, "message.*" for store mutations the UI
// should reflect, "session.*" for daemon lifecycle changes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
