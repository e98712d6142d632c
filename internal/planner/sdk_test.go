package planner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path   string
	header http.Header
	body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{path: r.URL.Path, header: r.Header.Clone(), body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

const openaiReply = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": "gpt-4o",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"success\": true}"}}]
}`

func TestOpenAICompleter(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK, openaiReply)
	c := NewOpenAICompleter("openai", srv.URL+"/v1/", "gpt-4o", []string{"key-a", "key-b"})

	prompt := Prompt{System: "be brief", User: "did it work?", Images: []Image{{Data: []byte("img"), MIMEType: "image/png"}}, MaxTokens: 100}
	for i := 0; i < 2; i++ {
		reply, err := c.Complete(context.Background(), prompt)
		require.NoError(t, err)
		assert.Equal(t, `{"success": true}`, reply)
	}

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.True(t, strings.HasSuffix(reqs[0].path, "/chat/completions"))
	assert.Equal(t, "Bearer key-a", reqs[0].header.Get("Authorization"))
	assert.Equal(t, "Bearer key-b", reqs[1].header.Get("Authorization"))

	body := reqs[0].body
	assert.Equal(t, "gpt-4o", body["model"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"]
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("img")), imageURL)
}

func TestOpenAICompleter_APIError(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, `{"error": {"message": "image too large", "type": "invalid_request_error"}}`)
	c := NewOpenAICompleter("openai", srv.URL+"/v1/", "gpt-4o", []string{"key"})

	_, err := c.Complete(context.Background(), Prompt{User: "hi"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, "openai", perr.Provider)
	assert.False(t, perr.Retryable())
}

const anthropicReply = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
  "content": [{"type": "text", "text": "Which window?"}],
  "stop_reason": "end_turn", "usage": {"input_tokens": 10, "output_tokens": 3}
}`

func TestAnthropicCompleter(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK, anthropicReply)
	c := NewAnthropicCompleter("claude", srv.URL, "claude-sonnet-4-5", []string{"sk-1"})

	reply, err := c.Complete(context.Background(), Prompt{
		System: "ask questions",
		User:   "open it",
		Images: []Image{{Data: []byte("img"), MIMEType: "image/jpeg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Which window?", reply)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].path, "/messages"))
	assert.Equal(t, "sk-1", reqs[0].header.Get("X-Api-Key"))

	body := reqs[0].body
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	source := image["source"].(map[string]any)
	assert.Equal(t, "image/jpeg", source["media_type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), source["data"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
}
