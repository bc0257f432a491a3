package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// ProbeTimeout bounds the liveness check.
const ProbeTimeout = 2500 * time.Millisecond

// Client calls an Ollama server.
type Client struct {
	api *api.Client
}

// NewClient returns a Client for the server at rawURL. A nil httpClient uses http.DefaultClient.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ollama: parse url: %q is not absolute", rawURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{api: api.NewClient(u, httpClient)}, nil
}

// Ping checks that the server answers within ProbeTimeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	return c.api.Heartbeat(ctx)
}

// Invoke sends req and returns the single non-streamed response.
func (c *Client) Invoke(ctx context.Context, req *api.ChatRequest, _ adapter.Params) (*api.ChatResponse, error) {
	var out *api.ChatResponse
	err := c.api.Chat(ctx, req, func(r api.ChatResponse) error {
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Route returns the dispatcher route for this client. Generation is preceded by Ping.
func (c *Client) Route() adapter.Route[*api.ChatRequest, *api.ChatResponse] {
	return adapter.Route[*api.ChatRequest, *api.ChatResponse]{
		Provider:  universalis.ProviderOllama,
		Ping:      c.Ping,
		Build:     Build,
		Invoke:    c.Invoke,
		Normalize: Normalize,
	}
}

// Models lists installed models except embedding models, sorted.
// An unreachable server yields an empty list.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	if err := c.Ping(ctx); err != nil {
		return []string{}, nil
	}
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	out := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		if !strings.Contains(m.Name, "embed") {
			out = append(out, m.Name)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Compile-time check that Client implements ModelLister.
var _ adapter.ModelLister = (*Client)(nil)
