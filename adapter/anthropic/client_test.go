package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu    sync.Mutex
	body  map[string]any
	calls int
	code  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/messages" {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls++
	_ = json.Unmarshal(raw, &f.body)
	code := f.code
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if code != 0 {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku-20240307",
		"content":[{"type":"text","text":"Hello <h3>you</h3>"}],
		"stop_reason":"end_turn","usage":{"input_tokens":9,"output_tokens":4}}`))
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestClient_RouteGenerate(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := newTestClient(t, api)

	turns := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "raw prompt"),
		universalis.TextTurn(universalis.RoleUser, "a"),
		universalis.TextTurn(universalis.RoleUser, "b"),
	}
	p := adapter.Params{
		Model:        "claude-3-haiku-20240307",
		Temperature:  0.2,
		MaxTokens:    128,
		SystemPrompt: "Today is {{DAY}}",
		Now:          time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC),
	}
	resp, err := c.Route().Generate(context.Background(), turns, p)
	require.NoError(t, err)
	assert.Equal(t, universalis.Response{InputTokens: 9, OutputTokens: 4, Role: universalis.RoleAssistant, Text: "Hello <i>you</i>"}, resp)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "claude-3-haiku-20240307", api.body["model"])
	assert.InDelta(t, 128, api.body["max_tokens"], 0)
	system, ok := api.body["system"].([]any)
	require.True(t, ok)
	assert.Equal(t, "Today is Monday", system[0].(map[string]any)["text"])
	msgs := api.body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestClient_EmptySystemPromptOmitted(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := newTestClient(t, api)

	_, err := c.Route().Generate(context.Background(),
		[]universalis.Turn{universalis.TextTurn(universalis.RoleUser, "hi")},
		adapter.Params{Model: "claude-3-haiku-20240307", MaxTokens: 16})
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	_, present := api.body["system"]
	assert.False(t, present)
}

func TestClient_NoRetryOnOverload(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{code: http.StatusServiceUnavailable}
	c := newTestClient(t, api)

	_, err := c.Route().Generate(context.Background(),
		[]universalis.Turn{universalis.TextTurn(universalis.RoleUser, "hi")},
		adapter.Params{Model: "claude-3-haiku-20240307", MaxTokens: 16})
	require.ErrorIs(t, err, universalis.ErrProviderCall)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.calls)
}

func TestClient_Models(t *testing.T) {
	t.Parallel()
	c := NewClient()
	got, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "claude-3-haiku-20240307")
	got[0] = "mutated"
	again, _ := c.Models(context.Background())
	assert.NotEqual(t, "mutated", again[0])
}
