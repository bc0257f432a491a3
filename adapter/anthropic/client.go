package anthropic

import (
	"context"
	"net/http"
	"slices"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// There is no endpoint the bot relies on for model discovery; this list is maintained by hand.
var models = []string{
	"claude-3-haiku-20240307",
	"claude-3-sonnet-20240229",
	"claude-3-opus-20240229",
	"claude-3-5-sonnet-20240620",
}

// Client calls the Anthropic API. Automatic retries are disabled.
type Client struct {
	sdk anthropic.Client
}

type clientConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*clientConfig)

// WithAPIKey sets the API key. Without it the SDK reads ANTHROPIC_API_KEY.
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

// NewClient returns a Client configured by opts.
func NewClient(opts ...Option) *Client {
	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &Client{sdk: anthropic.NewClient(reqOpts...)}
}

// Invoke sends msgs to the Messages API. The system prompt is expanded here, at call time.
func (c *Client) Invoke(ctx context.Context, msgs []anthropic.MessageParam, p adapter.Params) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.Model),
		MaxTokens:   int64(p.MaxTokens),
		Temperature: anthropic.Float(p.Temperature),
		Messages:    msgs,
	}
	if sys := universalis.ExpandPrompt(p.SystemPrompt, p.Now); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	return c.sdk.Messages.New(ctx, params)
}

// Route returns the dispatcher route for this client.
func (c *Client) Route() adapter.Route[[]anthropic.MessageParam, *anthropic.Message] {
	return adapter.Route[[]anthropic.MessageParam, *anthropic.Message]{
		Provider:  universalis.ProviderClaude,
		Build:     Build,
		Invoke:    c.Invoke,
		Normalize: Normalize,
	}
}

// Models returns the hand-maintained model list.
func (c *Client) Models(context.Context) ([]string, error) {
	return slices.Clone(models), nil
}

// Compile-time check that Client implements ModelLister.
var _ adapter.ModelLister = (*Client)(nil)
