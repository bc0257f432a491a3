// Package mediafetch downloads images for the chat history: photos users send through the
// messenger's file server and pictures returned by image generation. Every image is stored
// as base64 JPEG, so ToJPEGBase64 re-encodes whatever format was fetched.
package mediafetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultMaxBodySize is the default limit for media download (10 MiB).
	DefaultMaxBodySize = 10 << 20
	// DefaultJPEGQuality is used when re-encoding to JPEG.
	DefaultJPEGQuality = 90
)

var (
	// ErrUnsafeScheme is returned when the URL scheme is not https.
	ErrUnsafeScheme = errors.New("mediafetch: only https scheme is allowed")
	// ErrBodyTooLarge is returned when the response exceeds the size limit.
	ErrBodyTooLarge = errors.New("mediafetch: response body exceeds size limit")
	// ErrUnsupportedType is returned when Content-Type is not allowed.
	ErrUnsupportedType = errors.New("mediafetch: unsupported content type")
	// ErrNotImage is returned when the payload cannot be decoded as an image.
	ErrNotImage = errors.New("mediafetch: payload is not a decodable image")
)

// DefaultAllowedTypes are Content-Type prefixes accepted by a zero-configured Fetcher.
// application/octet-stream is what the Telegram file server answers with.
var DefaultAllowedTypes = []string{"image/", "application/octet-stream"}

// Fetcher downloads media over https with a size limit and a Content-Type allow-list.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	allowedTypes []string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client (e.g. httptest TLS client in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes sets the download size limit. Values <= 0 keep DefaultMaxBodySize.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithAllowedTypes replaces the Content-Type prefix allow-list.
func WithAllowedTypes(prefixes ...string) Option {
	return func(f *Fetcher) { f.allowedTypes = prefixes }
}

// New returns a Fetcher using http.DefaultClient and DefaultMaxBodySize.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       http.DefaultClient,
		maxBytes:     DefaultMaxBodySize,
		allowedTypes: DefaultAllowedTypes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL with ctx. Only https is allowed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (data []byte, contentType string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("mediafetch: parse URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, "", ErrUnsafeScheme
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("mediafetch: new request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("mediafetch: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("mediafetch: status %s", resp.Status)
	}
	contentType = resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType != "" && !f.allowed(contentType) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("mediafetch: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", ErrBodyTooLarge
	}
	return data, contentType, nil
}

// FetchJPEG downloads rawURL and returns it as base64-encoded JPEG.
func (f *Fetcher) FetchJPEG(ctx context.Context, rawURL string) (string, error) {
	data, _, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return ToJPEGBase64(data)
}

func (f *Fetcher) allowed(contentType string) bool {
	for _, prefix := range f.allowedTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// ToJPEGBase64 decodes a PNG, GIF or JPEG image and returns it re-encoded as base64 JPEG.
// JPEG input is passed through unchanged.
func ToJPEGBase64(data []byte) (string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	if format == "jpeg" {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return "", fmt.Errorf("mediafetch: encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
