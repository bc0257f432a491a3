package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu   sync.Mutex
	path string
	body map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		raw, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.path = r.URL.Path
		_ = json.Unmarshal(raw, &f.body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"<h1>Hey</h1>"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`))
	case strings.HasSuffix(r.URL.Path, "/models"):
		_, _ = w.Write([]byte(`{"models":[
			{"name":"models/gemini-1.5-pro"},
			{"name":"models/text-embedding-004"},
			{"name":"models/gemini-1.5-flash"}]}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), WithAPIKey("test-key"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestClient_RouteGenerate(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := newTestClient(t, api)

	turns := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.TextTurn(universalis.RoleUser, "hi"),
	}
	resp, err := c.Route().Generate(context.Background(), turns, adapter.Params{
		Model:        "gemini-1.5-flash",
		Temperature:  0.5,
		MaxTokens:    50,
		SystemPrompt: "be brief",
		UserMessage:  "hi",
		Now:          thursday,
	})
	require.NoError(t, err)
	assert.Equal(t, universalis.Response{InputTokens: 5, OutputTokens: 2, Role: universalis.RoleAssistant, Text: "<b><u>Hey</u></b>"}, resp)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Contains(t, api.path, "gemini-1.5-flash")
	contents, ok := api.body["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 2)
	_, hasSystem := api.body["systemInstruction"]
	assert.True(t, hasSystem)
}

func TestClient_Models(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeAPI{})
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-1.5-pro"}, models)
}
