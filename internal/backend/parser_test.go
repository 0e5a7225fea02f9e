package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rmaciel7/aide/internal/store"
)

func TestParseConversationRow(t *testing.T) {
	row := &ConversationRow{
		ID:          json.Number("42"),
		MessageType: "bot",
		Content:     "Here is your plan",
		CreatedAt:   "2024-01-15T12:00:00Z",
		Metadata:    &RowMetadata{ScheduledMessageID: "s7"},
	}

	msg, err := ParseConversationRow(row)
	if err != nil {
		t.Fatalf("ParseConversationRow() error = %v", err)
	}

	if msg.MsgID != "conv-42" {
		t.Errorf("MsgID = %q, want conv-42", msg.MsgID)
	}
	if msg.Role != "assistant" {
		t.Errorf("Role = %q, want assistant", msg.Role)
	}
	if msg.ScheduledMessageID != "s7" {
		t.Errorf("ScheduledMessageID = %q, want s7", msg.ScheduledMessageID)
	}
	want := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	if msg.CreatedAt != want {
		t.Errorf("CreatedAt = %d, want %d", msg.CreatedAt, want)
	}
	if msg.CreatedAtRaw != "2024-01-15T12:00:00Z" {
		t.Errorf("CreatedAtRaw = %q, raw timestamp must be preserved", msg.CreatedAtRaw)
	}
}

func TestParseConversationRowRole(t *testing.T) {
	tests := []struct {
		messageType string
		want        string
	}{
		{"user", "user"},
		{"bot", "assistant"},
		{"assistant", "assistant"},
		{"", "assistant"},
	}
	for _, tt := range tests {
		t.Run(tt.messageType, func(t *testing.T) {
			if got := detectRole(tt.messageType); got != tt.want {
				t.Errorf("detectRole(%q) = %q, want %q", tt.messageType, got, tt.want)
			}
		})
	}
}

func TestParseConversationRowBadTimestamp(t *testing.T) {
	row := &ConversationRow{ID: json.Number("1"), MessageType: "user", CreatedAt: "yesterday"}
	if _, err := ParseConversationRow(row); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestExtractSenderVariant(t *testing.T) {
	tests := []struct {
		name       string
		md         *RowMetadata
		wantSender string
		wantEmpty  bool
	}{
		{"nil metadata", nil, store.SenderDefault, true},
		{"no sender tag", &RowMetadata{}, store.SenderDefault, true},
		{"chase with email", &RowMetadata{Sender: "chase", Email: &EmailPayload{Subject: "Follow up", Body: "Hi"}}, store.SenderChase, false},
		{"chase missing payload", &RowMetadata{Sender: "chase"}, store.SenderDefault, true},
		{"leo with post", &RowMetadata{Sender: "leo", Post: &PostPayload{Title: "Launch", Caption: "New!"}}, store.SenderLeo, false},
		{"leo missing payload", &RowMetadata{Sender: "leo"}, store.SenderDefault, true},
		{"unknown sender", &RowMetadata{Sender: "mystery"}, store.SenderDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, metadata := extractSenderVariant(tt.md)
			if sender != tt.wantSender {
				t.Errorf("sender = %q, want %q", sender, tt.wantSender)
			}
			if (metadata == "") != tt.wantEmpty {
				t.Errorf("metadata = %q, wantEmpty = %v", metadata, tt.wantEmpty)
			}
		})
	}
}

func TestChaseVariantRoundTrips(t *testing.T) {
	md := &RowMetadata{Sender: "chase", Email: &EmailPayload{Subject: "Intro", Body: "Hello there", Recipient: "lead@example.com"}}
	sender, metadata := extractSenderVariant(md)
	if sender != store.SenderChase {
		t.Fatalf("sender = %q, want chase", sender)
	}

	var email EmailPayload
	if err := json.Unmarshal([]byte(metadata), &email); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if email.Subject != "Intro" || email.Recipient != "lead@example.com" {
		t.Errorf("email payload = %+v, lost fields in round trip", email)
	}
}

func TestParseScheduledRow(t *testing.T) {
	row := &ScheduledRow{
		ID:           json.Number("9"),
		Content:      "Morning check-in",
		ScheduledFor: "2024-01-15T09:00:00Z",
		IsDelivered:  true,
	}

	sm, msg, err := ParseScheduledRow(row)
	if err != nil {
		t.Fatalf("ParseScheduledRow() error = %v", err)
	}
	if sm.ServerID != "9" || !sm.IsDelivered {
		t.Errorf("scheduled = %+v, want server id 9 delivered", sm)
	}
	if msg.MsgID != "scheduled-9" {
		t.Errorf("MsgID = %q, want scheduled-9", msg.MsgID)
	}
	if msg.ScheduledMessageID != "9" {
		t.Errorf("ScheduledMessageID = %q, want 9 (dedup key against conversation rows)", msg.ScheduledMessageID)
	}
	if msg.Role != "assistant" {
		t.Errorf("Role = %q, want assistant", msg.Role)
	}
}
