package gemini

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// Client calls the Gemini API.
type Client struct {
	sdk *genai.Client
}

type clientConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*clientConfig)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = h }
}

// NewClient returns a Client for the Gemini Developer API.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{sdk: sdk}, nil
}

// Invoke calls GenerateContent with p.Model.
func (c *Client) Invoke(ctx context.Context, req *Request, p adapter.Params) (*genai.GenerateContentResponse, error) {
	return c.sdk.Models.GenerateContent(ctx, p.Model, req.Contents, req.Config)
}

// Route returns the dispatcher route for this client.
func (c *Client) Route() adapter.Route[*Request, *genai.GenerateContentResponse] {
	return adapter.Route[*Request, *genai.GenerateContentResponse]{
		Provider:  universalis.ProviderGoogle,
		Build:     Build,
		Invoke:    c.Invoke,
		Normalize: Normalize,
	}
}

// Models lists model ids containing "gemini", with the "models/" prefix removed, sorted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out []string
	for m, err := range c.sdk.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("gemini: list models: %w", err)
		}
		name := m.Name[strings.LastIndex(m.Name, "/")+1:]
		if strings.Contains(name, "gemini") {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Compile-time check that Client implements ModelLister.
var _ adapter.ModelLister = (*Client)(nil)
