package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "v1", rec.Header().Get(ProtocolHeader))
}

func TestWriter_Frames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteChunk(Chunk{Type: ChunkStart, MessageID: "m1"}))
	require.NoError(t, w.WriteChunk(Chunk{Type: ChunkTextDelta, ID: "t1", Delta: "Hi "}))
	require.NoError(t, w.Done())

	want := `data: {"type":"start","messageId":"m1"}` + "\n\n" +
		`data: {"type":"text-delta","id":"t1","delta":"Hi "}` + "\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestWriter_ClosedAfterDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Done())
	assert.ErrorIs(t, w.WriteChunk(Chunk{Type: ChunkFinish}), ErrClosed)
	assert.ErrorIs(t, w.Done(), ErrClosed)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
}

type plainWriter struct{ header http.Header }

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(int)             {}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(&plainWriter{header: http.Header{}})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}
