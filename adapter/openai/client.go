package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
	"github.com/skosovsky/universalis/mediafetch"
)

// ErrNoImage is returned when image generation yields neither a URL nor inline data.
var ErrNoImage = errors.New("openai: image generation returned no image")

// Client calls the OpenAI API. Automatic retries are disabled: a failed call is reported once.
type Client struct {
	sdk     openai.Client
	fetcher *mediafetch.Fetcher
}

type clientConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	fetcher    *mediafetch.Fetcher
}

// Option configures a Client.
type Option func(*clientConfig)

// WithAPIKey sets the API key. Without it the SDK reads OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithBaseURL points the client at a different API root (e.g. a test server).
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = h }
}

// WithFetcher sets the fetcher used to download generated images.
func WithFetcher(f *mediafetch.Fetcher) Option {
	return func(c *clientConfig) { c.fetcher = f }
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
	if cfg.fetcher == nil {
		cfg.fetcher = mediafetch.New()
	}
	return &Client{sdk: openai.NewClient(reqOpts...), fetcher: cfg.fetcher}
}

// Invoke sends msgs to the chat completions endpoint.
func (c *Client) Invoke(ctx context.Context, msgs []Message, p adapter.Params) (*openai.ChatCompletion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.Model),
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.N > 1 {
		params.N = openai.Int(int64(p.N))
	}
	return c.sdk.Chat.Completions.New(ctx, params, option.WithJSONSet("messages", msgs))
}

// Route returns the dispatcher route for this client.
func (c *Client) Route() adapter.Route[[]Message, *openai.ChatCompletion] {
	return adapter.Route[[]Message, *openai.ChatCompletion]{
		Provider:  universalis.ProviderOpenAI,
		Build:     Build,
		Invoke:    c.Invoke,
		Normalize: Normalize,
	}
}

// GenerateImage creates one image for prompt and returns it as base64 JPEG.
func (c *Client) GenerateImage(ctx context.Context, prompt string, s universalis.ImageSettings) (string, error) {
	resp, err := c.sdk.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(s.Model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(s.Size),
	})
	if err != nil {
		return "", fmt.Errorf("openai: generate image: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", ErrNoImage
	}
	img := resp.Data[0]
	switch {
	case img.B64JSON != "":
		raw, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return "", fmt.Errorf("openai: decode image: %w", err)
		}
		return mediafetch.ToJPEGBase64(raw)
	case img.URL != "":
		return c.fetcher.FetchJPEG(ctx, img.URL)
	default:
		return "", ErrNoImage
	}
}

// Models lists chat model ids (those containing "gpt"), sorted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	page, err := c.sdk.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	var out []string
	for _, m := range page.Data {
		if strings.Contains(m.ID, "gpt") {
			out = append(out, m.ID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Compile-time check that Client implements ModelLister.
var _ adapter.ModelLister = (*Client)(nil)
