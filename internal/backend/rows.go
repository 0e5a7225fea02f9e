package backend

import "encoding/json"

// ConversationRow is the wire shape of a chatbot conversation row, shared by
// the REST fetch and the realtime insert push.
type ConversationRow struct {
	ID          json.Number  `json:"id"`
	MessageType string       `json:"message_type"` // "user" or "bot"
	Content     string       `json:"content"`
	CreatedAt   string       `json:"created_at"` // RFC 3339
	Metadata    *RowMetadata `json:"metadata"`
}

// RowMetadata carries the sender variant and the dedup key linking a
// conversation row back to its scheduled message.
type RowMetadata struct {
	Sender             string        `json:"sender,omitempty"`
	ScheduledMessageID string        `json:"scheduled_message_id,omitempty"`
	Email              *EmailPayload `json:"email,omitempty"`
	Post               *PostPayload  `json:"post,omitempty"`
}

// EmailPayload is the chase-variant payload: a drafted outreach email.
type EmailPayload struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Recipient string `json:"recipient,omitempty"`
}

// PostPayload is the leo-variant payload: a drafted social post card.
type PostPayload struct {
	Title    string `json:"title"`
	Caption  string `json:"caption"`
	ImageURL string `json:"image_url,omitempty"`
}

// ScheduledRow is the wire shape of a scheduled message.
type ScheduledRow struct {
	ID           json.Number `json:"id"`
	Content      string      `json:"content"`
	ScheduledFor string      `json:"scheduled_for"`
	IsDelivered  bool        `json:"is_delivered"`
}
