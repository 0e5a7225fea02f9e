package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmaciel7/aide/internal/store"
)

// ParseConversationRow normalizes a conversation row for ingestion.
func ParseConversationRow(row *ConversationRow) (*store.Message, error) {
	createdAt, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", row.ID.String(), err)
	}

	sender, metadata := extractSenderVariant(row.Metadata)

	return &store.Message{
		MsgID:              "conv-" + row.ID.String(),
		Role:               detectRole(row.MessageType),
		Body:               row.Content,
		Sender:             sender,
		Metadata:           metadata,
		ScheduledMessageID: scheduledID(row.Metadata),
		Status:             "received",
		CreatedAt:          createdAt,
		CreatedAtRaw:       row.CreatedAt,
	}, nil
}

// ParseScheduledRow normalizes a scheduled message for both the scheduled
// bookkeeping table and its materialized feed row.
func ParseScheduledRow(row *ScheduledRow) (*store.ScheduledMessage, *store.Message, error) {
	scheduledFor, err := parseTimestamp(row.ScheduledFor)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduled %s: %w", row.ID.String(), err)
	}

	sm := &store.ScheduledMessage{
		ServerID:        row.ID.String(),
		Content:         row.Content,
		ScheduledFor:    scheduledFor,
		ScheduledForRaw: row.ScheduledFor,
		IsDelivered:     row.IsDelivered,
	}
	msg := &store.Message{
		MsgID:              "scheduled-" + row.ID.String(),
		Role:               "assistant",
		Body:               row.Content,
		Sender:             store.SenderDefault,
		ScheduledMessageID: row.ID.String(),
		Status:             "received",
		CreatedAt:          scheduledFor,
		CreatedAtRaw:       row.ScheduledFor,
	}
	return sm, msg, nil
}

func detectRole(messageType string) string {
	if messageType == "user" {
		return "user"
	}
	return "assistant"
}

// extractSenderVariant maps the loose metadata object onto the closed
// sender variant: exactly one payload shape per tag, anything unrecognized
// collapses to default.
func extractSenderVariant(md *RowMetadata) (sender, metadata string) {
	if md == nil {
		return store.SenderDefault, ""
	}
	switch md.Sender {
	case store.SenderChase:
		if md.Email == nil {
			return store.SenderDefault, ""
		}
		raw, err := json.Marshal(md.Email)
		if err != nil {
			return store.SenderDefault, ""
		}
		return store.SenderChase, string(raw)
	case store.SenderLeo:
		if md.Post == nil {
			return store.SenderDefault, ""
		}
		raw, err := json.Marshal(md.Post)
		if err != nil {
			return store.SenderDefault, ""
		}
		return store.SenderLeo, string(raw)
	default:
		return store.SenderDefault, ""
	}
}

func scheduledID(md *RowMetadata) string {
	if md == nil {
		return ""
	}
	return md.ScheduledMessageID
}

func parseTimestamp(raw string) (int64, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts.UnixMilli(), nil
}
