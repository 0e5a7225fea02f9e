package backend

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

// StreamErrorText replaces the assistant reply when the stream transport
// fails. The conversation stays usable; only this one reply is lost.
const StreamErrorText = "Sorry, something went wrong while answering. Please try again."

// clearProgressMarker is the sentinel the backend embeds in a fragment once
// real content begins. It retracts the interim progress lines emitted while
// the assistant was still working.
const clearProgressMarker = "---CLEAR_PROGRESS---"

// progressPrefixes identify the transient status lines subject to retraction.
var progressPrefixes = []string{
	"Thinking",
	"Searching",
	"Analyzing",
	"Drafting",
}

// StreamEvent is one decoded `data: {...}` event.
type StreamEvent struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Accumulator reconstructs a single logical assistant message from an SSE
// body. It never assumes one transport chunk equals one event: a partial
// trailing line is carried over to the next chunk, so the final content is
// independent of how the network splits the byte stream.
type Accumulator struct {
	carry    string
	content  string
	done     bool
	cleared  bool
	onUpdate func(content string)
	logger   *zap.Logger
}

// NewAccumulator creates an accumulator. onUpdate fires after every content
// change with the full accumulated text; it may be nil.
func NewAccumulator(onUpdate func(content string), logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{onUpdate: onUpdate, logger: logger}
}

// Feed consumes one transport chunk. Returns true once the terminal event
// has been seen; later chunks are ignored.
func (a *Accumulator) Feed(chunk []byte) bool {
	if a.done {
		return true
	}
	data := a.carry + string(chunk)
	lines := strings.Split(data, "\n")
	a.carry = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		a.processLine(line)
		if a.done {
			return true
		}
	}
	return false
}

// Finish processes a leftover partial line at end of stream.
func (a *Accumulator) Finish() {
	if a.carry != "" && !a.done {
		a.processLine(a.carry)
	}
	a.carry = ""
}

// Content returns the accumulated message text.
func (a *Accumulator) Content() string { return a.content }

// Done reports whether the terminal event arrived.
func (a *Accumulator) Done() bool { return a.done }

// Cleared reports whether the clear-progress marker has been seen. Once it
// has, the message is past its progress phase and presentation may stop
// treating it as streaming.
func (a *Accumulator) Cleared() bool { return a.cleared }

func (a *Accumulator) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	payload, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		// Blank separators and comment lines carry no data.
		return
	}
	// An empty payload is a valid event contributing no text.
	if payload == "" {
		return
	}

	var evt StreamEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		// Malformed events are skipped; the stream continues.
		a.logger.Warn("skipping malformed stream event", zap.Error(err))
		return
	}

	if evt.Done {
		a.done = true
		return
	}
	if evt.Content == "" {
		return
	}

	if idx := strings.Index(evt.Content, clearProgressMarker); idx >= 0 {
		before := a.content + evt.Content[:idx]
		after := evt.Content[idx+len(clearProgressMarker):]
		a.content = stripProgressLines(before) + after
		a.cleared = true
	} else {
		a.content += evt.Content
	}
	if a.onUpdate != nil {
		a.onUpdate(a.content)
	}
}

// stripProgressLines drops every line starting with a known progress prefix.
func stripProgressLines(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isProgressLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isProgressLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range progressPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// ReadStream drains r into the accumulator until the terminal event, EOF or
// context cancellation. A transport error mid-stream is returned to the
// caller, which substitutes StreamErrorText for the message body.
func ReadStream(ctx context.Context, r io.Reader, a *Accumulator) error {
	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if a.Feed(buf[:n]) {
				return nil
			}
		}
		if err == io.EOF {
			a.Finish()
			return nil
		}
		if err != nil {
			return err
		}
	}
}
