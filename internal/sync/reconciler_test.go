package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

func msg(msgID, scheduledID, body, raw string) store.Message {
	ts, _ := time.Parse(time.RFC3339, raw)
	return store.Message{
		MsgID:              msgID,
		Role:               "assistant",
		Body:               body,
		ScheduledMessageID: scheduledID,
		CreatedAt:          ts.UnixMilli(),
		CreatedAtRaw:       raw,
	}
}

func ids(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MsgID
	}
	return out
}

func TestMergeDropsMaterializedScheduled(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	existing := []store.Message{
		msg("conv-1", "s1", "Morning plan", "2024-01-01T10:00:00Z"),
	}
	incoming := []store.Message{
		msg("scheduled-s1", "s1", "Morning plan", "2024-01-01T10:00:00Z"),
		msg("scheduled-s2", "s2", "Afternoon nudge", "2024-01-01T09:00:00Z"),
	}

	merged, added := r.Merge(existing, incoming)

	if got, want := ids(merged), []string{"scheduled-s2", "conv-1"}; !equal(got, want) {
		t.Errorf("merged = %v, want %v", got, want)
	}
	if len(added) != 1 || added[0].MsgID != "scheduled-s2" {
		t.Errorf("added = %v, want only scheduled-s2", ids(added))
	}
}

func TestMergeCompositeKeyDedup(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	existing := []store.Message{
		msg("conv-1", "", "Hello there", "2024-01-01T10:00:00Z"),
	}
	incoming := []store.Message{
		// same content + timestamp, different id: duplicate by fallback key
		msg("conv-1-refetch", "", "Hello there", "2024-01-01T10:00:00Z"),
		// same content, different minute: distinct
		msg("conv-2", "", "Hello there", "2024-01-01T10:01:00Z"),
	}

	merged, added := r.Merge(existing, incoming)

	if got, want := ids(merged), []string{"conv-1", "conv-2"}; !equal(got, want) {
		t.Errorf("merged = %v, want %v", got, want)
	}
	if len(added) != 1 || added[0].MsgID != "conv-2" {
		t.Errorf("added = %v", ids(added))
	}
}

func TestMergeCompositeKeyTruncation(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	long := strings.Repeat("x", 200)
	existing := []store.Message{
		msg("conv-1", "", long+" tail one", "2024-01-01T10:00:00Z"),
	}
	// Differs only past the 200th content char and past the 16th timestamp
	// char: collapses under the fallback key. The collision risk is accepted.
	incoming := []store.Message{
		msg("conv-2", "", long+" tail two", "2024-01-01T10:00:00.500Z"),
	}

	merged, _ := r.Merge(existing, incoming)
	if len(merged) != 1 {
		t.Errorf("got %d messages, want truncated keys to collide", len(merged))
	}
}

func TestMergeStableSortKeepsArrivalOrder(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	raw := "2024-01-01T10:00:00Z"
	existing := []store.Message{
		msg("conv-1", "", "first", raw),
		msg("conv-2", "", "second", raw),
	}
	incoming := []store.Message{
		msg("conv-3", "", "third", raw),
	}

	merged, _ := r.Merge(existing, incoming)
	if got, want := ids(merged), []string{"conv-1", "conv-2", "conv-3"}; !equal(got, want) {
		t.Errorf("equal timestamps reordered: %v, want %v", got, want)
	}
}

func TestMergeDedupsWithinIncoming(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	incoming := []store.Message{
		msg("scheduled-s1", "s1", "once", "2024-01-01T08:00:00Z"),
		msg("conv-9", "s1", "once", "2024-01-01T08:00:01Z"),
	}

	merged, _ := r.Merge(nil, incoming)
	if len(merged) != 1 {
		t.Errorf("got %d messages, want incoming batch self-deduped", len(merged))
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	merged, added := r.Merge(nil, nil)
	if len(merged) != 0 || len(added) != 0 {
		t.Errorf("merged = %v, added = %v, want empty", merged, added)
	}

	existing := []store.Message{msg("conv-1", "", "hi", "2024-01-01T10:00:00Z")}
	merged, added = r.Merge(existing, nil)
	if len(merged) != 1 || len(added) != 0 {
		t.Errorf("merged = %v, added = %v", ids(merged), ids(added))
	}
}

type fakeDeliverer struct {
	calls []string
	fail  map[string]bool
}

func (d *fakeDeliverer) MarkDelivered(_ context.Context, serverID string) error {
	d.calls = append(d.calls, serverID)
	if d.fail[serverID] {
		return errors.New("deliver failed")
	}
	return nil
}

func TestAcknowledgeDeliveriesOncePerMessage(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	d := &fakeDeliverer{}

	sms := []store.ScheduledMessage{
		{ServerID: "s1", IsDelivered: false},
		{ServerID: "s2", IsDelivered: true},
		{ServerID: "s3", IsDelivered: false},
	}

	acked := r.AcknowledgeDeliveries(context.Background(), d, sms)
	if got, want := acked, []string{"s1", "s3"}; !equal(got, want) {
		t.Errorf("acked = %v, want %v", got, want)
	}

	// Same batch again before the server flips is_delivered: no new calls.
	acked = r.AcknowledgeDeliveries(context.Background(), d, sms)
	if len(acked) != 0 {
		t.Errorf("second pass acked = %v, want none", acked)
	}
	if got, want := d.calls, []string{"s1", "s3"}; !equal(got, want) {
		t.Errorf("deliver calls = %v, want exactly one per undelivered message", d.calls)
	}
}

func TestAcknowledgeDeliveriesFailureNotRetried(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	d := &fakeDeliverer{fail: map[string]bool{"s1": true}}

	sms := []store.ScheduledMessage{{ServerID: "s1", IsDelivered: false}}

	acked := r.AcknowledgeDeliveries(context.Background(), d, sms)
	if len(acked) != 0 {
		t.Errorf("acked = %v, want none on failure", acked)
	}

	r.AcknowledgeDeliveries(context.Background(), d, sms)
	if len(d.calls) != 1 {
		t.Errorf("deliver calls = %d, failed acks must not be retried", len(d.calls))
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
