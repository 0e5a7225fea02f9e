package store

// Sender discriminants for the message metadata variant. A row carries at
// most one payload shape, selected by the sender tag.
const (
	SenderDefault = "default"
	SenderChase   = "chase"
	SenderLeo     = "leo"
)

// Message represents one row of the conversation feed.
//
// MsgID is the durable identity: "conv-<server id>" for REST/realtime rows,
// "scheduled-<server id>" for scheduled messages, or a local uuid for
// optimistic sends. ScheduledMessageID, when non-empty, is the dedup key
// that keeps a delivered scheduled message from showing up twice once its
// conversation row arrives.
type Message struct {
	ID                 int64
	MsgID              string
	Role               string // "user" or "assistant"
	Body               string
	Sender             string // SenderDefault, SenderChase, SenderLeo
	Metadata           string // JSON payload of the sender variant, empty for default
	ScheduledMessageID string
	Streaming          bool
	Status             string // received, sending, streaming, sent, failed, error
	CreatedAt          int64  // unix milliseconds, sort key
	CreatedAtRaw       string // RFC 3339 as received, feeds the fallback dedup key
}

// ScheduledMessage represents a server-generated message tied to a
// time-of-day delivery slot.
type ScheduledMessage struct {
	ID              int64
	ServerID        string
	Content         string
	ScheduledFor    int64
	ScheduledForRaw string
	IsDelivered     bool // server-supplied; the only guard against re-acking
	AckedAt         int64
}

// OutboxEntry represents a pending outgoing prompt.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	Body         string
	Voice        bool // voice mode uses the non-streaming chat endpoint
	Status       string
	ErrorMessage string
}
