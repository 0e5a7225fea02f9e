package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/httpapi"
	"github.com/rmaciel7/aide/internal/lock"
	"github.com/rmaciel7/aide/internal/status"
	"github.com/rmaciel7/aide/internal/store"
	"go.uber.org/zap"
)

type nullBackend struct{}

func (nullBackend) GenerateToday(context.Context) error              { return nil }
func (nullBackend) DeleteConversation(context.Context, string) error { return nil }
func (nullBackend) TTS(context.Context, string) ([]byte, error)      { return nil, nil }

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "aide-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(sessionDir, "d.sock")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "aide.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	handlers := httpapi.NewHandlers(db, machine, nullBackend{}, b, logger, "test")

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, handlers)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perms = %o, want 600", perm)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	resp, err := client.Get("http://aide/v1/status")
	if err != nil {
		t.Fatalf("status over socket: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Session string `json:"session"`
		State   string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Session != "test" || body.State != string(status.Booting) {
		t.Errorf("status = %+v, want fresh booting session", body)
	}
}

func TestServerCleansStaleSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "aide-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	// Leave a dead socket file behind, as a crashed daemon would.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	db, err := store.Open(filepath.Join(tmpDir, "aide.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	handlers := httpapi.NewHandlers(db, status.NewMachine(b), nullBackend{}, b, zap.NewNop(), "test")
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), handlers)
	if err != nil {
		t.Fatalf("NewServer with stale socket: %v", err)
	}
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file left behind after Stop")
	}
}
