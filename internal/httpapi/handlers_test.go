package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/status"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

type backendStub struct {
	generateErr error
	deleted     []string
	ttsAudio    []byte
	ttsErr      error
}

func (b *backendStub) GenerateToday(context.Context) error { return b.generateErr }

func (b *backendStub) DeleteConversation(_ context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *backendStub) TTS(context.Context, string) ([]byte, error) {
	return b.ttsAudio, b.ttsErr
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupRouter(t *testing.T, db *store.DB, api BackendControl) (*gin.Engine, *status.Machine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	machine := status.NewMachine(bus.New())
	h := NewHandlers(db, machine, api, bus.New(), zap.NewNop(), "main")
	return NewRouter(h), machine
}

func TestStatus(t *testing.T) {
	db := testDB(t)
	router, machine := setupRouter(t, db, &backendStub{})
	require.NoError(t, machine.Transition(status.Connecting))

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "main", resp["session"])
	assert.Equal(t, "CONNECTING", resp["state"])
	// Fresh database: no sync has run yet, reported as zero, not an error.
	assert.Equal(t, float64(0), resp["last_sync_unix_ms"])
}

func TestStatusAfterSyncReportsCheckpoint(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})
	require.NoError(t, db.UpdateCheckpoint("last_sync", 1704103200000))

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(1704103200000), resp["last_sync_unix_ms"])
}

func TestListMessagesByDay(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local)
	insert := func(msgID string, at time.Time) {
		_, err := db.InsertMessage(&store.Message{
			MsgID: msgID, Role: "user", Body: msgID, Sender: store.SenderDefault,
			Status: "received", CreatedAt: at.UnixMilli(), CreatedAtRaw: at.Format(time.RFC3339),
		})
		require.NoError(t, err)
	}
	insert("before", day.Add(-time.Hour))
	insert("late", day.Add(20*time.Hour))
	insert("early", day.Add(8*time.Hour))
	insert("after", day.Add(25*time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/v1/messages?day=2024-01-15", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Day      string `json:"day"`
		Messages []struct {
			MsgID string `json:"msg_id"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2024-01-15", resp.Day)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "early", resp.Messages[0].MsgID)
	assert.Equal(t, "late", resp.Messages[1].MsgID)
}

func TestListMessagesBadDay(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})

	req := httptest.NewRequest(http.MethodGet, "/v1/messages?day=January", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageQueues(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})

	body := bytes.NewBufferString(`{"body":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["client_msg_id"])

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "hello", pending[0].Body)
}

// TestSendMessageBusy verifies send serialization: a second prompt while one
// is queued or streaming gets a 409, not a second outbox row.
func TestSendMessageBusy(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})
	require.NoError(t, db.QueueOutbox("in-flight", "first", false))

	body := bytes.NewBufferString(`{"body":"second"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSendMessageRequiresBody(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListScheduled(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})
	require.NoError(t, db.UpsertScheduledMessage(&store.ScheduledMessage{
		ServerID: "7", Content: "Morning check-in", ScheduledFor: 1000, IsDelivered: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduled", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ScheduledMessages []struct {
			ServerID    string `json:"server_id"`
			IsDelivered bool   `json:"is_delivered"`
		} `json:"scheduled_messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.ScheduledMessages, 1)
	assert.Equal(t, "7", resp.ScheduledMessages[0].ServerID)
	assert.True(t, resp.ScheduledMessages[0].IsDelivered)
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	stub := &backendStub{}
	router, _ := setupRouter(t, db, stub)
	_, err := db.InsertMessage(&store.Message{
		MsgID: "conv-5", Role: "user", Body: "bye", Sender: store.SenderDefault,
		Status: "received", CreatedAt: 1000, CreatedAtRaw: "2024-01-01T10:00:00Z",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/v1/conversations/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"5"}, stub.deleted)

	msg, err := db.GetMessage("conv-5")
	require.NoError(t, err)
	assert.Nil(t, msg, "local row must go with the server row")
}

func TestTTSReturnsAudio(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{ttsAudio: []byte("mp3-bytes")})

	body := bytes.NewBufferString(`{"text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tts", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp3-bytes", rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	db := testDB(t)
	router, _ := setupRouter(t, db, &backendStub{})

	// Warm up the request counter so the vector has at least one series.
	warm := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	router.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aide_http_requests_total")
}
