package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// DefaultTTL is how long a model list stays cached.
const DefaultTTL = 10 * time.Minute

// detachCancel returns a context that survives cancellation of parent but keeps its deadline,
// so one caller giving up does not fail the shared fetch for the others.
func detachCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if dl, ok := parent.Deadline(); ok {
		return context.WithDeadline(ctx, dl)
	}
	return context.WithCancel(ctx)
}

type cacheEntry struct {
	models    []string
	expiresAt time.Time
}

// Catalog caches the model lists of the configured providers.
// Concurrent misses for one provider share a single upstream call.
type Catalog struct {
	listers map[universalis.Provider]adapter.ModelLister
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[universalis.Provider]*cacheEntry
	sf    singleflight.Group
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL sets the cache lifetime. A TTL <= 0 caches forever.
func WithTTL(d time.Duration) Option {
	return func(c *Catalog) { c.ttl = d }
}

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithLister registers the lister for provider. A nil lister is ignored.
func WithLister(p universalis.Provider, l adapter.ModelLister) Option {
	return func(c *Catalog) {
		if l != nil {
			c.listers[p] = l
		}
	}
}

// New returns a Catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		listers: make(map[universalis.Provider]adapter.ModelLister),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
		cache:   make(map[universalis.Provider]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the providers that have a lister, in canonical order.
func (c *Catalog) Providers() []universalis.Provider {
	var out []universalis.Provider
	for _, p := range universalis.Providers() {
		if _, ok := c.listers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Models returns provider's model ids. The returned slice is a copy.
func (c *Catalog) Models(ctx context.Context, p universalis.Provider) ([]string, error) {
	lister, ok := c.listers[p]
	if !ok {
		return nil, universalis.Unavailable(p, fmt.Errorf("catalog: no model lister for %s", p))
	}

	c.mu.RLock()
	ent, hit := c.cache[p]
	if hit && c.valid(ent) {
		models := slices.Clone(ent.models)
		c.mu.RUnlock()
		return models, nil
	}
	c.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, shared := c.sf.Do(string(p), func() (any, error) {
		fetchCtx, cancel := detachCancel(ctx)
		defer cancel()
		models, err := lister.Models(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[p] = &cacheEntry{models: models, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		c.logger.Warn("model list fetch failed", zap.String("provider", string(p)), zap.Error(err))
		return nil, universalis.CallFailed(p, err)
	}
	c.logger.Debug("model list fetched", zap.String("provider", string(p)), zap.Bool("shared", shared))
	return slices.Clone(v.([]string)), nil
}

// Evict drops the cached list of provider.
func (c *Catalog) Evict(p universalis.Provider) {
	c.mu.Lock()
	delete(c.cache, p)
	c.mu.Unlock()
}

func (c *Catalog) valid(ent *cacheEntry) bool {
	return c.ttl <= 0 || c.now().Before(ent.expiresAt)
}
