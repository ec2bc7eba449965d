package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunk(delta string, finishReason string) string {
	fr := "null"
	if finishReason != "" {
		fr = `"` + finishReason + `"`
	}
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`, delta, fr)
}

func TestOpenAIModel_StreamText(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		chunk(`{"role":"assistant","content":"Hel"}`, ""),
		chunk(`{"content":"lo"}`, ""),
		chunk(`{}`, "stop"),
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
	}, &body)

	model := &openAIModel{client: newOpenAIClient("test-key", srv.URL), model: "gpt-4o-mini"}
	ch, err := model.Stream(context.Background(), CompletionRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	evs := drain(ch)

	require.Equal(t, []EventType{EventTextDelta, EventTextDelta, EventFinish}, eventTypes(evs))
	assert.Equal(t, "Hel", evs[0].Delta)
	assert.Equal(t, "lo", evs[1].Delta)
	assert.Equal(t, FinishStop, evs[2].FinishReason)
	assert.Equal(t, Usage{InputTokens: 3, OutputTokens: 2}, evs[2].Usage)

	assert.Equal(t, true, body["stream"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIModel_StreamToolCalls(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	}, &body)

	model := &openAIModel{client: newOpenAIClient("test-key", srv.URL), model: "gpt-4o-mini"}
	ch, err := model.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "look up x"}},
		Tools:    ToolSet{"lookup": {Description: "Look up", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	evs := drain(ch)

	require.Equal(t, []EventType{EventToolCall, EventFinish}, eventTypes(evs))
	assert.Equal(t, "call_1", evs[0].ToolCall.ID)
	assert.Equal(t, "lookup", evs[0].ToolCall.Name)
	assert.JSONEq(t, `{"q":"x"}`, string(evs[0].ToolCall.Arguments))
	assert.Equal(t, FinishToolCalls, evs[1].FinishReason)

	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
}

func TestOpenAIModel_StreamRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	model := &openAIModel{client: newOpenAIClient("bad", srv.URL), model: "gpt-4o-mini"}
	_, err := model.Stream(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create stream")
}

func TestOpenAIModel_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Trip ideas"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	model := &openAIModel{client: newOpenAIClient("k", srv.URL), model: "gpt-4o-mini"}
	out, err := model.Generate(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "plan a trip"}}})
	require.NoError(t, err)
	assert.Equal(t, "Trip ideas", out)
}

func TestOpenAIImageModel_GenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/images/generations") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"created":1,"data":[{"b64_json":"aGVsbG8="}]}`)
	}))
	defer srv.Close()

	model := &openAIImageModel{client: newOpenAIClient("k", srv.URL), model: "dall-e-3"}
	img, err := model.GenerateImage(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", img.Base64)
	assert.Equal(t, "image/png", img.MediaType)
}

func TestToOpenAIMessages_ToolHistory(t *testing.T) {
	msgs := toOpenAIMessages("", []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}},
		{Role: RoleTool, Content: `{"ok":true}`, ToolCallID: "c1", ToolName: "lookup"},
	})

	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
}
