package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the Aide chatbot API with a bearer token.
type Client struct {
	baseURL string
	hc      *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// NewClient creates a new API client. The zero timeout on the underlying
// http.Client is intentional: chat streams stay open for minutes; per-call
// deadlines come from the caller's context.
func NewClient(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{},
		tokens:  tokens,
		logger:  logger,
	}
}

// ListConversations fetches all conversation rows for the user.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationRow, error) {
	var out struct {
		Success       bool              `json:"success"`
		Conversations []ConversationRow `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chatbot/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// ChatStream sends a prompt and returns the raw SSE body. The caller owns
// the ReadCloser and must drain it through an Accumulator.
func (c *Client) ChatStream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chatbot/chat/stream", map[string]string{"message": prompt})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("chat stream: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Chat sends a prompt over the non-streaming endpoint, used in voice mode
// where the reply is handed to TTS in one piece.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Response string `json:"response"`
		Content  string `json:"content"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chatbot/chat", map[string]string{"message": prompt}, &out); err != nil {
		return "", err
	}
	// The backend answers with either field depending on version.
	if out.Response != "" {
		return out.Response, nil
	}
	return out.Content, nil
}

// ListScheduledMessages fetches the scheduled messages for the user.
func (c *Client) ListScheduledMessages(ctx context.Context) ([]ScheduledRow, error) {
	var out struct {
		Success           bool           `json:"success"`
		ScheduledMessages []ScheduledRow `json:"scheduled_messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chatbot/scheduled-messages", nil, &out); err != nil {
		return nil, err
	}
	return out.ScheduledMessages, nil
}

// GenerateToday asks the backend to generate today's scheduled messages.
func (c *Client) GenerateToday(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/chatbot/scheduled-messages/generate-today", nil, nil)
}

// MarkDelivered acknowledges delivery of one scheduled message.
func (c *Client) MarkDelivered(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/chatbot/scheduled-messages/"+id+"/deliver", nil, nil)
}

// DeleteConversation removes a conversation row server-side.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chatbot/conversations/"+id, nil, nil)
}

// TTS synthesizes speech for the given text and returns the audio blob.
func (c *Client) TTS(ctx context.Context, text string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chatbot/tts", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
