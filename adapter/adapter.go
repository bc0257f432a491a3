package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/skosovsky/universalis"
)

// ImageMIMEType is the media type declared for every inline image sent upstream.
const ImageMIMEType = "image/jpeg"

// Sentinel errors for normalizers. Callers should use errors.Is.
var (
	ErrNilResponse   = errors.New("adapter: response is nil")
	ErrEmptyResponse = errors.New("adapter: response contains no content")
)

// Params holds the per-call knobs shared by every provider.
// SystemPrompt is the raw prompt; providers that send it out of band expand
// {{DAY}}/{{DATE}} against Now when they invoke.
type Params struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	N            int
	SystemPrompt string
	UserMessage  string
	Now          time.Time
}

// Route binds the build, invoke and normalize steps of one provider.
// Req and Resp are the provider-native request and response types.
type Route[Req, Resp any] struct {
	Provider  universalis.Provider
	Ping      func(ctx context.Context) error
	Build     func(turns []universalis.Turn, p Params) Req
	Invoke    func(ctx context.Context, req Req, p Params) (Resp, error)
	Normalize func(raw Resp) (universalis.Response, error)
}

// Generator is the type-erased view of a Route.
type Generator interface {
	ID() universalis.Provider
	Probe(ctx context.Context) error
	Generate(ctx context.Context, turns []universalis.Turn, p Params) (universalis.Response, error)
}

// ModelLister lists the model ids a provider currently offers.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// ID returns the provider this route serves.
func (r Route[Req, Resp]) ID() universalis.Provider { return r.Provider }

// Probe runs the liveness check, if any. Failures match universalis.ErrProviderUnavailable.
func (r Route[Req, Resp]) Probe(ctx context.Context) error {
	if r.Ping == nil {
		return nil
	}
	if err := r.Ping(ctx); err != nil {
		return universalis.Unavailable(r.Provider, err)
	}
	return nil
}

// Generate builds the request from turns, invokes the provider once and normalizes the reply.
func (r Route[Req, Resp]) Generate(ctx context.Context, turns []universalis.Turn, p Params) (universalis.Response, error) {
	if err := ctx.Err(); err != nil {
		return universalis.Response{}, err
	}
	req := r.Build(turns, p)
	raw, err := r.Invoke(ctx, req, p)
	if err != nil {
		return universalis.Response{}, universalis.CallFailed(r.Provider, err)
	}
	resp, err := r.Normalize(raw)
	if err != nil {
		return universalis.Response{}, universalis.NormalizeFailed(r.Provider, err)
	}
	return resp, nil
}

// Compile-time check that Route implements Generator.
var _ Generator = Route[struct{}, struct{}]{}
