// Package pricing provides the venue feeds that turn exchange and on-chain
// data into normalized quotes.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/config"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Dependencies are the shared services a source factory may use.
type Dependencies struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer

	// Solana access, required by on-chain sources.
	Accounts   AccountFetcher
	Subscriber AccountSubscriber
}

// SourceFactory builds a source from configuration.
type SourceFactory func(ctx context.Context, deps Dependencies) (quote.Source, error)

// Registry maps venue names to source factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]SourceFactory
}

// NewRegistry returns a registry with the built-in venues.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]SourceFactory)}
	r.Register("binance", newBinanceFromConfig)
	r.Register("raydium_clmm", newRaydiumFromConfig)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds the named source. With feeds.reconnect.enabled the source is
// wrapped in a Resubscriber.
func (r *Registry) Create(ctx context.Context, name string, deps Dependencies) (quote.Source, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown venue type: %s (available: %v)", name, r.Names())
	}

	src, err := factory(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("create %s source: %w", name, err)
	}

	if deps.Config != nil && deps.Config.Feeds.Reconnect.Enabled {
		rc := deps.Config.Feeds.Reconnect
		src = NewResubscriber(src, ResubscriberConfig{
			Backoff:     resilienceBackoff(rc),
			MaxAttempts: rc.MaxAttempts,
			Logger:      deps.Logger,
			Metrics:     deps.Metrics,
		})
	}
	return src, nil
}

// Names returns the registered venue types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newBinanceFromConfig(_ context.Context, deps Dependencies) (quote.Source, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := deps.Config
	feeRate := c.Binance.FeeRate
	return NewBinanceSource(BinanceConfig{
		WSURL:      c.Binance.WSURL,
		Channel:    c.Binance.Channel,
		FeeRate:    &feeRate,
		BufferSize: c.Feeds.BufferSize,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})
}

func newRaydiumFromConfig(ctx context.Context, deps Dependencies) (quote.Source, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := deps.Config
	pool, err := blockchain.ParsePublicKey(c.Raydium.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("raydium pool address: %w", err)
	}
	return NewRaydiumSource(ctx, RaydiumConfig{
		Pool:            pool,
		Encoding:        c.Raydium.Encoding,
		Commitment:      c.Raydium.Commitment,
		HalfSpreadBps:   c.Raydium.HalfSpreadBps,
		FeeRateOverride: c.Raydium.FeeRateOverride,
		BufferSize:      c.Feeds.BufferSize,
		Fetcher:         deps.Accounts,
		Subscriber:      deps.Subscriber,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		Tracer:          deps.Tracer,
	})
}

func resilienceBackoff(rc config.ReconnectConfig) resilience.Backoff {
	return resilience.Backoff{Base: rc.BaseDelay, Max: rc.MaxDelay, Jitter: rc.Jitter}
}
