package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func frame(json string) string {
	return "data: " + json + "\n\n"
}

func feedAll(t *testing.T, a *Accumulator, body string, chunkSize int) {
	t.Helper()
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if a.Feed([]byte(body[i:end])) {
			return
		}
	}
	a.Finish()
}

func TestAccumulatorAppendsFragments(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	body := frame(`{"content":"Hello"}`) + frame(`{"content":", world"}`) + frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if a.Content() != "Hello, world" {
		t.Errorf("content = %q, want %q", a.Content(), "Hello, world")
	}
	if !a.Done() {
		t.Error("done = false after terminal event")
	}
}

// TestAccumulatorChunkBoundaryIndependence verifies the central contract:
// splitting the byte stream at arbitrary boundaries never changes the
// reconstructed message.
func TestAccumulatorChunkBoundaryIndependence(t *testing.T) {
	body := frame(`{"content":"The quick"}`) +
		frame(`{"content":" brown fox"}`) +
		frame(`{"content":" jumps"}`) +
		frame(`{"done":true}`)

	whole := NewAccumulator(nil, zap.NewNop())
	feedAll(t, whole, body, len(body))
	want := whole.Content()

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 64} {
		a := NewAccumulator(nil, zap.NewNop())
		feedAll(t, a, body, chunkSize)
		if a.Content() != want {
			t.Errorf("chunkSize=%d: content = %q, want %q", chunkSize, a.Content(), want)
		}
		if !a.Done() {
			t.Errorf("chunkSize=%d: done = false", chunkSize)
		}
	}
}

func TestAccumulatorClearProgress(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	body := frame(`{"content":"Thinking about your leads...\n"}`) +
		frame(`{"content":"Searching recent campaigns\n"}`) +
		frame(`{"content":"---CLEAR_PROGRESS---Here is your plan"}`) +
		frame(`{"content":" for today."}`) +
		frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if got := a.Content(); got != "Here is your plan for today." {
		t.Errorf("content = %q, want only post-marker text", got)
	}
	if !a.Cleared() {
		t.Error("cleared = false after marker")
	}
}

func TestAccumulatorClearProgressKeepsNonProgressLines(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	// A line not matching a progress prefix survives retraction.
	body := frame(`{"content":"Good morning!\nThinking...\n"}`) +
		frame(`{"content":"---CLEAR_PROGRESS---Done."}`) +
		frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if got := a.Content(); got != "Good morning!\nDone." {
		t.Errorf("content = %q, want %q", got, "Good morning!\nDone.")
	}
}

func TestAccumulatorMalformedEventSkipped(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	body := frame(`{"content":"before"}`) +
		"data: {not json\n\n" +
		frame(`{"content":" after"}`) +
		frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if a.Content() != "before after" {
		t.Errorf("content = %q, want malformed line skipped", a.Content())
	}
	if !a.Done() {
		t.Error("stream should continue past a malformed event")
	}
}

func TestAccumulatorEmptyDataLine(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	body := "data: \n\n" + frame(`{"content":"x"}`) + frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if a.Content() != "x" {
		t.Errorf("content = %q, want %q", a.Content(), "x")
	}
}

func TestAccumulatorIgnoresAfterDone(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())

	body := frame(`{"content":"final"}`) + frame(`{"done":true}`) + frame(`{"content":"late"}`)
	feedAll(t, a, body, len(body))

	if a.Content() != "final" {
		t.Errorf("content = %q, events after done must be ignored", a.Content())
	}
}

func TestAccumulatorOnUpdateFires(t *testing.T) {
	var updates []string
	a := NewAccumulator(func(content string) {
		updates = append(updates, content)
	}, zap.NewNop())

	body := frame(`{"content":"a"}`) + frame(`{"content":"b"}`) + frame(`{"done":true}`)
	feedAll(t, a, body, len(body))

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0] != "a" || updates[1] != "ab" {
		t.Errorf("updates = %v, want [a ab]", updates)
	}
}

type errReader struct {
	data string
	read bool
}

func (r *errReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestReadStreamTransportError(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())
	r := &errReader{data: frame(`{"content":"partial"}`)}

	err := ReadStream(context.Background(), r, a)
	if err == nil {
		t.Fatal("ReadStream should surface the transport error")
	}
	if a.Content() != "partial" {
		t.Errorf("content = %q, want what arrived before the error", a.Content())
	}
}

func TestReadStreamStopsAtDone(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())
	body := frame(`{"content":"hi"}`) + frame(`{"done":true}`)

	if err := ReadStream(context.Background(), io.NopCloser(strings.NewReader(body)), a); err != nil {
		t.Fatalf("ReadStream error = %v", err)
	}
	if !a.Done() {
		t.Error("done = false")
	}
}

func TestReadStreamEOFWithoutDone(t *testing.T) {
	a := NewAccumulator(nil, zap.NewNop())
	// Stream ends without a terminal event and without a trailing newline.
	body := frame(`{"content":"hi"}`) + `data: {"content":" there"}`

	if err := ReadStream(context.Background(), strings.NewReader(body), a); err != nil {
		t.Fatalf("ReadStream error = %v", err)
	}
	if a.Content() != "hi there" {
		t.Errorf("content = %q, trailing partial line must be flushed at EOF", a.Content())
	}
}
