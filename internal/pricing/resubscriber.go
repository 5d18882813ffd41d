package pricing

import (
	"context"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// ResubscriberConfig holds resubscription settings
type ResubscriberConfig struct {
	Backoff     resilience.Backoff
	MaxAttempts int // resubscriptions in a row without a delivered update; 0 = unlimited
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Resubscriber wraps a source and calls Subscribe again with backoff each
// time its stream ends, presenting one uninterrupted channel to the caller.
// The first Subscribe error is returned as is.
type Resubscriber struct {
	quote.Source
	cfg     ResubscriberConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResubscriber wraps src.
func NewResubscriber(src quote.Source, cfg ResubscriberConfig) *Resubscriber {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	return &Resubscriber{
		Source:  src,
		cfg:     cfg,
		logger:  cfg.Logger.Venue(src.Venue().Name),
		metrics: cfg.Metrics,
	}
}

// Health forwards to the wrapped source when it reports health.
func (r *Resubscriber) Health() FeedHealth {
	if hp, ok := r.Source.(HealthProvider); ok {
		return hp.Health()
	}
	return FeedHealth{Venue: r.Venue().Name}
}

// Subscribe implements quote.Source.
func (r *Resubscriber) Subscribe(ctx context.Context, inst quote.Instrument) (<-chan quote.Update, error) {
	in, err := r.Source.Subscribe(ctx, inst)
	if err != nil {
		return nil, err
	}

	out := make(chan quote.Update, cap(in))
	go func() {
		defer close(out)

		failures := 0
		for {
			delivered := r.forward(ctx, in, out)
			if ctx.Err() != nil {
				return
			}
			if delivered {
				failures = 0
			}

			for {
				if r.cfg.MaxAttempts > 0 && failures >= r.cfg.MaxAttempts {
					r.logger.LogWarn(ctx, "giving up on feed", "attempts", failures)
					return
				}
				delay := r.cfg.Backoff.Delay(failures)
				r.logger.LogWarn(ctx, "feed ended, resubscribing", "attempt", failures+1, "delay", delay.String())
				if err := resilience.Sleep(ctx, delay); err != nil {
					return
				}

				failures++
				r.metrics.RecordFeedReconnection(ctx, r.Venue().Name, failures)
				in, err = r.Source.Subscribe(ctx, inst)
				if err == nil {
					break
				}
				r.logger.LogWarn(ctx, "resubscribe failed", "attempt", failures, "error", err.Error())
			}
		}
	}()

	return out, nil
}

// forward copies updates until in closes or ctx is done and reports whether
// anything came through.
func (r *Resubscriber) forward(ctx context.Context, in <-chan quote.Update, out chan<- quote.Update) bool {
	delivered := false
	for {
		select {
		case upd, ok := <-in:
			if !ok {
				return delivered
			}
			select {
			case out <- upd:
				delivered = true
			case <-ctx.Done():
				return delivered
			}
		case <-ctx.Done():
			return delivered
		}
	}
}
