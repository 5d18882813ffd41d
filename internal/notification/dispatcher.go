package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/worker"
)

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Publisher Publisher
	Workers   int
	QueueSize int

	// MinNetSpread drops opportunities whose spread net of fees is at or
	// below the bound. nil forwards everything.
	MinNetSpread *float64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Dispatcher hands opportunities to a publisher on a bounded worker pool.
// When the queue is full the newest opportunity is dropped, so a slow sink
// never blocks the caller.
type Dispatcher struct {
	publisher    Publisher
	pool         *worker.Pool
	minNetSpread *float64
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewDispatcher starts the worker pool. Close must be called to drain it.
// Cancelling ctx does not discard queued opportunities; only Close ends the pool.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	d := &Dispatcher{
		publisher:    cfg.Publisher,
		minNetSpread: cfg.MinNetSpread,
		logger:       cfg.Logger.Component("dispatcher"),
		metrics:      cfg.Metrics,
	}
	d.pool = worker.NewPool(context.WithoutCancel(ctx), worker.PoolConfig{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		DropPolicy: worker.DropPolicyNewest,
		OnError: func(err error) {
			d.logger.LogError(context.Background(), "publish failed", err, "publisher", d.publisher.Name())
		},
	})
	return d, nil
}

// PublishOpportunity queues opp for delivery. It returns without waiting for
// the publisher; a full queue drops opp and reports worker.ErrBackpressure.
func (d *Dispatcher) PublishOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	if d.minNetSpread != nil && opp.NetSpread <= *d.minNetSpread {
		d.logger.LogDebug(ctx, "opportunity below net spread filter",
			"opportunity_id", opp.ID, "net_spread", opp.NetSpread, "min_net_spread", *d.minNetSpread)
		return nil
	}

	name := d.publisher.Name()
	err := d.pool.Submit(func(taskCtx context.Context) error {
		err := d.publisher.Publish(taskCtx, opp)
		d.metrics.RecordNotification(taskCtx, name, err == nil)
		if err != nil {
			return fmt.Errorf("%s: opportunity %s: %w", name, opp.ID, err)
		}
		return nil
	})
	if errors.Is(err, worker.ErrBackpressure) {
		d.metrics.RecordNotificationDropped(ctx, name)
	}
	return err
}

// Stats returns the worker pool counters.
func (d *Dispatcher) Stats() worker.Stats {
	return d.pool.Stats()
}

// Close stops accepting opportunities and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.pool.Close()
}
