// Package stream writes the UI message stream protocol over server-sent events.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Chunk types of the UI message stream.
const (
	ChunkStart               = "start"
	ChunkStartStep           = "start-step"
	ChunkTextStart           = "text-start"
	ChunkTextDelta           = "text-delta"
	ChunkTextEnd             = "text-end"
	ChunkReasoningStart      = "reasoning-start"
	ChunkReasoningDelta      = "reasoning-delta"
	ChunkReasoningEnd        = "reasoning-end"
	ChunkToolInputAvailable  = "tool-input-available"
	ChunkToolOutputAvailable = "tool-output-available"
	ChunkToolOutputError     = "tool-output-error"
	ChunkFinishStep          = "finish-step"
	ChunkFinish              = "finish"
	ChunkError               = "error"
)

// ProtocolHeader advertises the stream format to clients.
const ProtocolHeader = "x-vercel-ai-ui-message-stream"

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

// ErrClosed is returned for writes after Done.
var ErrClosed = errors.New("stream already closed")

// Chunk is one event of the UI message stream.
type Chunk struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// ChunkWriter is the sink an orchestrated turn writes to.
type ChunkWriter interface {
	WriteChunk(c Chunk) error
	Done() error
}

// SetHeaders prepares w for a UI message stream response.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ProtocolHeader, "v1")
}

// Writer serializes chunks as "data: <json>\n\n" frames and flushes each one.
// It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter wraps w. Headers should already be set with SetHeaders.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteChunk writes a single chunk.
func (s *Writer) WriteChunk(c Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	return s.writeFrame(data)
}

// Done writes the terminal [DONE] frame. Later writes fail with ErrClosed.
func (s *Writer) Done() error {
	if err := s.writeFrame([]byte("[DONE]")); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Writer) writeFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
