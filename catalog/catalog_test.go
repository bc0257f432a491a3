package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skosovsky/universalis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingLister struct {
	calls   atomic.Int32
	models  []string
	err     error
	release chan struct{}
}

func (l *countingLister) Models(ctx context.Context) ([]string, error) {
	l.calls.Add(1)
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.models, l.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestModels_CachesUntilTTL(t *testing.T) {
	t.Parallel()
	l := &countingLister{models: []string{"gpt-4o", "gpt-4o-mini"}}
	clk := &clock{now: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)}
	c := New(WithLister(universalis.ProviderOpenAI, l), WithClock(clk.Now), WithTTL(time.Minute))
	ctx := context.Background()

	for range 3 {
		got, err := c.Models(ctx, universalis.ProviderOpenAI)
		require.NoError(t, err)
		assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, got)
	}
	assert.Equal(t, int32(1), l.calls.Load())

	clk.Advance(2 * time.Minute)
	_, err := c.Models(ctx, universalis.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load())

	c.Evict(universalis.ProviderOpenAI)
	_, err = c.Models(ctx, universalis.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, int32(3), l.calls.Load())
}

func TestModels_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c := New(WithLister(universalis.ProviderClaude, &countingLister{models: []string{"a", "b"}}))
	got, err := c.Models(context.Background(), universalis.ProviderClaude)
	require.NoError(t, err)
	got[0] = "mutated"
	again, err := c.Models(context.Background(), universalis.ProviderClaude)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0])
}

func TestModels_ConcurrentMissesShareFetch(t *testing.T) {
	t.Parallel()
	l := &countingLister{models: []string{"llama3"}, release: make(chan struct{})}
	c := New(WithLister(universalis.ProviderOllama, l))

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Models(context.Background(), universalis.ProviderOllama)
		}()
	}
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(l.release)
	wg.Wait()

	assert.Equal(t, int32(1), l.calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"llama3"}, r)
	}
}

func TestModels_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("401")
	c := New(WithLister(universalis.ProviderGoogle, &countingLister{err: boom}))

	_, err := c.Models(context.Background(), universalis.ProviderGoogle)
	require.ErrorIs(t, err, universalis.ErrProviderCall)
	require.ErrorIs(t, err, boom)

	_, err = c.Models(context.Background(), universalis.ProviderOpenAI)
	require.ErrorIs(t, err, universalis.ErrProviderUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Models(ctx, universalis.ProviderGoogle)
	require.ErrorIs(t, err, context.Canceled)
}

func TestProviders(t *testing.T) {
	t.Parallel()
	c := New(
		WithLister(universalis.ProviderOllama, &countingLister{}),
		WithLister(universalis.ProviderOpenAI, &countingLister{}),
		WithLister(universalis.ProviderClaude, nil),
	)
	assert.Equal(t, []universalis.Provider{universalis.ProviderOpenAI, universalis.ProviderOllama}, c.Providers())
}
