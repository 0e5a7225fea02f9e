package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Client talks to the daemon's local API over its Unix domain socket.
type Client struct {
	hc *http.Client
}

// New returns a client dialing the daemon's Unix domain socket.
func New(socketPath string) *Client {
	return &Client{
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status is the daemon status report.
type Status struct {
	Session        string `json:"session"`
	State          string `json:"state"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	LastSyncUnixMs int64  `json:"last_sync_unix_ms"`
}

// Message is one feed row as served by the daemon.
type Message struct {
	MsgID              string `json:"msg_id"`
	Role               string `json:"role"`
	Body               string `json:"body"`
	Sender             string `json:"sender"`
	Metadata           string `json:"metadata,omitempty"`
	ScheduledMessageID string `json:"scheduled_message_id,omitempty"`
	Streaming          bool   `json:"streaming"`
	Status             string `json:"status"`
	CreatedAtUnixMs    int64  `json:"created_at_unix_ms"`
}

// Scheduled is one scheduled message as served by the daemon.
type Scheduled struct {
	ServerID           string `json:"server_id"`
	Content            string `json:"content"`
	ScheduledForUnixMs int64  `json:"scheduled_for_unix_ms"`
	IsDelivered        bool   `json:"is_delivered"`
}

// Event is one envelope from the daemon's event stream.
type Event struct {
	EventID        string          `json:"event_id"`
	Kind           string          `json:"kind"`
	OccurredAtUnix int64           `json:"occurred_at_unix_ms"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.get(ctx, "/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Messages fetches one local calendar day of the feed. day is YYYY-MM-DD,
// empty for today.
func (c *Client) Messages(ctx context.Context, day string) ([]Message, error) {
	path := "/v1/messages"
	if day != "" {
		path += "?day=" + day
	}
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ErrBusy is returned by Send while another prompt is still being answered.
var ErrBusy = fmt.Errorf("still answering the previous prompt")

// Send queues a prompt. Returns ErrBusy when a send is already in flight.
func (c *Client) Send(ctx context.Context, body string, voice bool) (clientMsgID string, err error) {
	raw, err := json.Marshal(map[string]any{"body": body, "voice": voice})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://aided/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return "", ErrBusy
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("send: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ClientMsgID, nil
}

// Scheduled fetches the known scheduled messages.
func (c *Client) Scheduled(ctx context.Context) ([]Scheduled, error) {
	var resp struct {
		ScheduledMessages []Scheduled `json:"scheduled_messages"`
	}
	if err := c.get(ctx, "/v1/scheduled", &resp); err != nil {
		return nil, err
	}
	return resp.ScheduledMessages, nil
}

// GenerateScheduled asks the backend to generate today's scheduled messages.
func (c *Client) GenerateScheduled(ctx context.Context) error {
	return c.post(ctx, "/v1/scheduled/generate", nil)
}

// DeleteConversation removes a conversation row by server id.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, "http://aided/v1/conversations/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete conversation: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// TTS synthesizes speech for the given text and returns the audio bytes.
func (c *Client) TTS(ctx context.Context, text string) ([]byte, error) {
	raw, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://aided/v1/tts", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Events opens the daemon's SSE stream and delivers decoded envelopes until
// the context ends or the stream breaks. The channel is closed either way.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://aided/v1/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("events: unexpected status %d", resp.StatusCode)
	}

	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			payload, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			payload = strings.TrimSpace(payload)
			if payload == "" {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://aided"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://aided"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
