package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// ErrNotConfigured is wrapped into ErrProviderUnavailable when a provider has no route (e.g. no API key).
var ErrNotConfigured = errors.New("dispatch: provider not configured")

const tracerName = "github.com/skosovsky/universalis/dispatch"

// HistoryReader reads the persisted turns of a conversation in insertion order.
type HistoryReader interface {
	ReadTurns(ctx context.Context, conversationID int64) ([]universalis.Turn, error)
}

// Table is the closed set of provider routes. A nil field means the provider is not configured.
type Table struct {
	OpenAI adapter.Generator
	Claude adapter.Generator
	Google adapter.Generator
	Ollama adapter.Generator
}

func (t Table) lookup(p universalis.Provider) (adapter.Generator, error) {
	var g adapter.Generator
	switch p {
	case universalis.ProviderOpenAI:
		g = t.OpenAI
	case universalis.ProviderClaude:
		g = t.Claude
	case universalis.ProviderGoogle:
		g = t.Google
	case universalis.ProviderOllama:
		g = t.Ollama
	default:
		return nil, fmt.Errorf("%w: %q", universalis.ErrUnknownProvider, p)
	}
	if g == nil {
		return nil, universalis.Unavailable(p, ErrNotConfigured)
	}
	return g, nil
}

// Dispatcher routes a conversation to its provider: probe, build, invoke once, normalize.
// It never retries and never writes to the store.
type Dispatcher struct {
	history HistoryReader
	table   Table
	now     func() time.Time
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used to resolve {{DAY}} and {{DATE}}. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracerProvider sets the tracer provider. Default: otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// New returns a Dispatcher reading history from h.
func New(h HistoryReader, table Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		history: h,
		table:   table,
		now:     time.Now,
		logger:  zap.NewNop(),
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch reads the history of conversationID, appends pending (turns not yet persisted) and
// generates a reply with provider. An empty p.SystemPrompt is taken from the history's leading
// system turn; an empty p.UserMessage from the last user text turn.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID int64, provider universalis.Provider, p adapter.Params, pending ...universalis.Turn) (universalis.Response, error) {
	history, err := d.history.ReadTurns(ctx, conversationID)
	if err != nil {
		return universalis.Response{}, fmt.Errorf("dispatch: read history: %w", err)
	}
	turns := make([]universalis.Turn, 0, len(history)+len(pending))
	turns = append(turns, history...)
	turns = append(turns, pending...)
	if p.SystemPrompt == "" {
		p.SystemPrompt = universalis.SystemPrompt(turns)
	}
	return d.generate(ctx, provider, turns, p, zap.Int64("conversation_id", conversationID))
}

// Generate runs the pipeline over an explicit turn slice, without reading history.
func (d *Dispatcher) Generate(ctx context.Context, provider universalis.Provider, turns []universalis.Turn, p adapter.Params) (universalis.Response, error) {
	return d.generate(ctx, provider, turns, p)
}

func (d *Dispatcher) generate(ctx context.Context, provider universalis.Provider, turns []universalis.Turn, p adapter.Params, fields ...zap.Field) (universalis.Response, error) {
	g, err := d.table.lookup(provider)
	if err != nil {
		return universalis.Response{}, err
	}
	if p.Now.IsZero() {
		p.Now = d.now()
	}
	if p.UserMessage == "" {
		p.UserMessage = lastUserText(turns)
	}

	ctx, span := d.tracer.Start(ctx, "universalis.generate", trace.WithAttributes(
		attribute.String("universalis.provider", string(provider)),
		attribute.String("universalis.model", p.Model),
		attribute.Int("universalis.turns", len(turns)),
	))
	defer span.End()

	log := d.logger.With(append(fields, zap.String("provider", string(provider)), zap.String("model", p.Model))...)

	if err := g.Probe(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		log.Warn("provider probe failed", zap.Error(err))
		return universalis.Response{}, err
	}

	start := d.now()
	resp, err := g.Generate(ctx, turns, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		log.Error("provider call failed", zap.Error(err))
		return universalis.Response{}, err
	}
	span.SetAttributes(
		attribute.Int64("universalis.input_tokens", resp.InputTokens),
		attribute.Int64("universalis.output_tokens", resp.OutputTokens),
	)
	log.Debug("provider replied",
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens),
		zap.Duration("elapsed", d.now().Sub(start)),
	)
	return resp, nil
}

// Health probes every configured provider that has a liveness check.
// The map holds one entry per configured provider; a nil value means healthy.
func (d *Dispatcher) Health(ctx context.Context) map[universalis.Provider]error {
	out := make(map[universalis.Provider]error)
	for _, p := range universalis.Providers() {
		g, err := d.table.lookup(p)
		if err != nil {
			continue
		}
		out[p] = g.Probe(ctx)
	}
	return out
}

// Configured reports whether provider has a route.
func (d *Dispatcher) Configured(provider universalis.Provider) bool {
	_, err := d.table.lookup(provider)
	return err == nil
}

func lastUserText(turns []universalis.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if t := turns[i]; t.Role == universalis.RoleUser && t.Kind == universalis.KindText {
			return t.Payload
		}
	}
	return ""
}
