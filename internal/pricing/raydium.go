package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/config"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/pricing/clmm"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// AccountFetcher reads a single account snapshot over JSON-RPC.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, account blockchain.PublicKey, opts blockchain.AccountInfoOptions) (*blockchain.AccountInfo, error)
}

// AccountSubscriber streams account changes.
type AccountSubscriber interface {
	Subscribe(ctx context.Context, account blockchain.PublicKey) (<-chan blockchain.AccountUpdate, error)
}

// RaydiumConfig holds Raydium CLMM source configuration
type RaydiumConfig struct {
	Pool            blockchain.PublicKey
	Encoding        string // base64 or base64+zstd
	Commitment      string
	HalfSpreadBps   float64
	FeeRateOverride *float64
	BufferSize      int

	Fetcher    AccountFetcher
	Subscriber AccountSubscriber
	Model      clmm.Model // defaults to the tick model with a mid/half-spread fallback

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// RaydiumSource turns Raydium CLMM pool account pushes into quotes.
type RaydiumSource struct {
	venue      quote.Venue
	pool       blockchain.PublicKey
	bufferSize int
	subscriber AccountSubscriber
	model      clmm.Model
	feeRate    float64

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
	health  *healthTracker

	mu    sync.RWMutex
	state *clmm.PoolState // last decoded pool state
}

// NewRaydiumSource fetches the pool and its fee config once and resolves the
// fee rate every quote will carry.
func NewRaydiumSource(ctx context.Context, cfg RaydiumConfig) (*RaydiumSource, error) {
	if cfg.Fetcher == nil || cfg.Subscriber == nil {
		return nil, fmt.Errorf("raydium source needs an account fetcher and subscriber")
	}
	if cfg.Pool.IsZero() {
		return nil, fmt.Errorf("raydium pool address is required")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = clmm.EncodingBase64Zstd
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	venue := quote.NewVenue("raydium_clmm")
	r := &RaydiumSource{
		venue:      venue,
		pool:       cfg.Pool,
		bufferSize: cfg.BufferSize,
		subscriber: cfg.Subscriber,
		logger:     cfg.Logger.Venue(venue.Name),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		health:     newHealthTracker(venue.Name),
	}

	model := cfg.Model
	if model == nil {
		pricer := clmm.NewPricer(cfg.HalfSpreadBps)
		pricer.OnFallback = func(err error) {
			reason := "invalid_tick_spacing"
			if errors.Is(err, clmm.ErrNoLiquidity) {
				reason = "no_liquidity"
			}
			r.metrics.RecordPricingFallback(context.Background(), reason)
		}
		model = pricer
	}
	r.model = model

	opts := blockchain.AccountInfoOptions{Encoding: cfg.Encoding, Commitment: cfg.Commitment}

	poolInfo, err := cfg.Fetcher.GetAccountInfo(ctx, cfg.Pool, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch pool %s: %v", quote.ErrConnection, cfg.Pool, err)
	}
	state, err := clmm.DecodePoolStatePayload(poolInfo.Data, poolInfo.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decode pool %s: %w", cfg.Pool, err)
	}
	r.state = state

	if cfg.FeeRateOverride != nil {
		r.feeRate = *cfg.FeeRateOverride
		r.logger.Info("using configured pool fee rate", "fee_rate", r.feeRate)
	} else {
		cfgInfo, err := cfg.Fetcher.GetAccountInfo(ctx, state.AmmConfig, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch amm config %s: %v", quote.ErrConnection, state.AmmConfig, err)
		}
		ammCfg, err := clmm.DecodeAmmConfigPayload(cfgInfo.Data, cfgInfo.Encoding)
		if err != nil {
			return nil, fmt.Errorf("decode amm config %s: %w", state.AmmConfig, err)
		}
		r.feeRate = clmm.FeeRate(ammCfg)
		r.logger.Info("resolved raydium pool fee rate",
			"fee_rate", r.feeRate,
			"trade_fee_rate_ppm", ammCfg.TradeFeeRate,
			"amm_config", state.AmmConfig.String(),
		)
	}

	r.logger.Info("loaded raydium pool",
		"pool", cfg.Pool.String(),
		"mint0", state.TokenMint0.String(),
		"mint1", state.TokenMint1.String(),
		"decimals0", state.MintDecimals0,
		"decimals1", state.MintDecimals1,
		"tick_spacing", state.TickSpacing,
		"slot", poolInfo.Slot,
	)
	return r, nil
}

// Venue implements quote.Source.
func (r *RaydiumSource) Venue() quote.Venue { return r.venue }

// FeeRate is the fee attached to every update.
func (r *RaydiumSource) FeeRate() float64 { return r.feeRate }

// Health implements HealthProvider.
func (r *RaydiumSource) Health() FeedHealth { return r.health.snapshot() }

// PoolState returns the most recently decoded pool state.
func (r *RaydiumSource) PoolState() *clmm.PoolState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Subscribe implements quote.Source.
func (r *RaydiumSource) Subscribe(ctx context.Context, inst quote.Instrument) (<-chan quote.Update, error) {
	initial := r.PoolState()
	mismatch := config.CheckPoolMints(inst, initial.TokenMint0, initial.TokenMint1)
	if mismatch.Reason != "" {
		r.logger.LogWarn(ctx, "pool mints do not match instrument",
			"instrument", inst.Symbol(), "reason", mismatch.Reason, "inverted", mismatch.Inverted)
	}

	pushes, err := r.subscriber.Subscribe(ctx, r.pool)
	if err != nil {
		r.health.failure(err)
		return nil, fmt.Errorf("%w: raydium pool %s: %v", quote.ErrConnection, r.pool, err)
	}

	r.health.connected(inst.Symbol())
	r.metrics.SetFeedConnected(ctx, r.venue.Name, true)

	out := make(chan quote.Update, r.bufferSize)
	go func() {
		defer close(out)
		defer func() {
			r.health.disconnected()
			r.metrics.SetFeedConnected(context.Background(), r.venue.Name, false)
		}()

		for {
			var push blockchain.AccountUpdate
			var ok bool
			select {
			case push, ok = <-pushes:
				if !ok {
					if ctx.Err() == nil {
						r.health.failure(errors.New("account stream ended"))
					}
					return
				}
			case <-ctx.Done():
				return
			}

			upd, err := r.price(ctx, inst, push, mismatch.Inverted)
			if err != nil {
				continue
			}

			r.health.update(push.ReceivedAt)
			r.metrics.RecordQuoteUpdate(ctx, r.venue.Name, inst.Symbol())
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// price decodes and prices one push. Failures are logged, counted and
// reported to the caller so the push is skipped.
func (r *RaydiumSource) price(ctx context.Context, inst quote.Instrument, push blockchain.AccountUpdate, inverted bool) (quote.Update, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanPoolUpdate,
		attribute.String("pool", r.pool.String()),
		attribute.Int64("slot", int64(push.Info.Slot)),
	)
	defer span.End()

	state, err := clmm.DecodePoolStatePayload(push.Info.Data, push.Info.Encoding)
	if err != nil {
		span.NoticeError(err)
		r.health.decodeError(err)
		r.metrics.RecordDecodeError(ctx, "PoolState", decodeKind(err))
		r.logger.LogWarn(ctx, "skipping undecodable pool update", "slot", push.Info.Slot, "error", err.Error())
		return quote.Update{}, err
	}

	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	bq, err := r.model.Quote(state)
	if err != nil {
		span.NoticeError(err)
		r.metrics.RecordError(ctx, "clmm_pricing")
		r.logger.LogWarn(ctx, "skipping unpriceable pool update", "slot", push.Info.Slot, "error", err.Error())
		return quote.Update{}, err
	}
	if inverted {
		bq = invertQuote(bq)
	}

	return quote.Update{
		TS:         push.ReceivedAt.UnixMilli(),
		Venue:      r.venue,
		Instrument: inst,
		Quote:      bq,
		FeeRate:    r.feeRate,
	}, nil
}

// invertQuote restates a token1-per-token0 quote as token0-per-token1.
// Buying token1 means selling token0 at the pool bid, and vice versa.
func invertQuote(q quote.BestQuote) quote.BestQuote {
	var out quote.BestQuote
	if q.AskPrice > 0 {
		out.BidPrice = 1 / q.AskPrice
		out.BidSize = q.AskSize * q.AskPrice
	}
	if q.BidPrice > 0 {
		out.AskPrice = 1 / q.BidPrice
		out.AskSize = q.BidSize * q.BidPrice
	}
	return out
}

func decodeKind(err error) string {
	switch {
	case errors.Is(err, clmm.ErrTooShort):
		return "too_short"
	case errors.Is(err, clmm.ErrUnexpectedLayout):
		return "unexpected_layout"
	case errors.Is(err, clmm.ErrEncoding):
		return "encoding"
	case errors.Is(err, clmm.ErrCompression):
		return "compression"
	default:
		return "unknown"
	}
}
