package fusion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/pricing"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// ErrFeedsEnded is returned by Run when every feed closed on its own.
var ErrFeedsEnded = errors.New("all quote feeds ended")

// OpportunityPublisher receives every opportunity the engine detects.
type OpportunityPublisher interface {
	PublishOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error
}

// EngineConfig holds engine configuration
type EngineConfig struct {
	Instrument quote.Instrument
	SourceA    quote.Source
	SourceB    quote.Source
	Detector   *arbitrage.Detector
	Publisher  OpportunityPublisher // optional

	// MaxQuoteAge suppresses evaluation while either slot is older than
	// this bound. 0 disables the guard.
	MaxQuoteAge time.Duration
	Cache       *Cache

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Engine subscribes both sources, keeps the latest update per venue and
// evaluates the pair on every update. Run has a single consumer loop.
type Engine struct {
	cfg     EngineConfig
	cache   *Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
	now     func() time.Time

	running       atomic.Bool
	evaluations   atomic.Uint64
	suppressed    atomic.Uint64
	opportunities atomic.Uint64

	mu   sync.RWMutex
	last *arbitrage.Opportunity

	// endedMu makes the ended check and the slot write in Handle atomic with
	// respect to feedEnded, so a dead venue's slot cannot be repopulated.
	endedMu sync.Mutex
	ended   map[quote.Venue]bool
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SourceA == nil || cfg.SourceB == nil {
		return nil, fmt.Errorf("two quote sources are required")
	}
	if cfg.SourceA.Venue() == cfg.SourceB.Venue() {
		return nil, fmt.Errorf("sources must be distinct venues, both are %s", cfg.SourceA.Venue())
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if cfg.MaxQuoteAge < 0 {
		return nil, fmt.Errorf("max quote age must be >= 0")
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
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

	return &Engine{
		cfg:     cfg,
		cache:   cfg.Cache,
		logger:  cfg.Logger.Component("fusion"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		now:     time.Now,
		ended:   make(map[quote.Venue]bool),
	}, nil
}

// Cache returns the latest-quote store.
func (e *Engine) Cache() *Cache { return e.cache }

// Run subscribes both sources under one derived context and processes
// updates until ctx is done (returns nil) or every feed has ended (returns
// ErrFeedsEnded). If either subscription fails the other is torn down
// before Run returns. A feed that ends while the other keeps running has its
// slot cleared, so no opportunity is computed against its last quote.
func (e *Engine) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	feedA, err := e.cfg.SourceA.Subscribe(ctx, e.cfg.Instrument)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", e.cfg.SourceA.Venue(), err)
	}
	feedB, err := e.cfg.SourceB.Subscribe(ctx, e.cfg.Instrument)
	if err != nil {
		cancel()
		drain(feedA)
		return fmt.Errorf("subscribe %s: %w", e.cfg.SourceB.Venue(), err)
	}

	e.endedMu.Lock()
	clear(e.ended)
	e.endedMu.Unlock()

	e.running.Store(true)
	defer e.running.Store(false)

	e.logger.Info("fusion engine started",
		"instrument", e.cfg.Instrument.Symbol(),
		"venue_a", e.cfg.SourceA.Venue().Name,
		"venue_b", e.cfg.SourceB.Venue().Name,
		"min_spread", e.cfg.Detector.MinSpread(),
		"max_quote_age", e.cfg.MaxQuoteAge.String(),
	)

	merged := Merge(ctx,
		e.watch(ctx, e.cfg.SourceA.Venue(), feedA),
		e.watch(ctx, e.cfg.SourceB.Venue(), feedB),
	)
	for u := range merged {
		e.Handle(ctx, u)
	}

	// Wait for both adapters to release their connections.
	cancel()
	drain(feedA)
	drain(feedB)

	if parent.Err() != nil {
		return nil
	}
	e.logger.LogWarn(parent, "all quote feeds ended")
	return ErrFeedsEnded
}

// watch forwards in and marks venue ended if in closes before ctx is done.
func (e *Engine) watch(ctx context.Context, venue quote.Venue, in <-chan quote.Update) <-chan quote.Update {
	out := make(chan quote.Update)
	go func() {
		defer close(out)
		for u := range in {
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			e.feedEnded(ctx, venue)
		}
	}()
	return out
}

// feedEnded clears venue's slot and stops accepting its updates for the rest
// of the run.
func (e *Engine) feedEnded(ctx context.Context, venue quote.Venue) {
	e.endedMu.Lock()
	e.ended[venue] = true
	e.cache.Delete(venue)
	e.endedMu.Unlock()

	e.metrics.RecordError(ctx, "feed_ended")
	e.logger.LogWarn(ctx, "quote feed ended, evaluations paused until restart", "venue", venue.Name)
}

// Handle overwrites the update's slot and, when both venues have a quote,
// evaluates them. Updates from a feed that has ended are ignored.
func (e *Engine) Handle(ctx context.Context, u quote.Update) {
	e.endedMu.Lock()
	if e.ended[u.Venue] {
		e.endedMu.Unlock()
		return
	}
	e.cache.Put(u)
	e.endedMu.Unlock()

	a, b, ok := e.cache.Pair(e.cfg.SourceA.Venue(), e.cfg.SourceB.Venue())
	if !ok {
		return
	}

	if e.cfg.MaxQuoteAge > 0 {
		nowMs := e.now().UnixMilli()
		for _, slot := range []quote.Update{a, b} {
			if time.Duration(nowMs-slot.TS)*time.Millisecond > e.cfg.MaxQuoteAge {
				e.suppressed.Add(1)
				e.metrics.RecordEvaluationSuppressed(ctx, slot.Venue.Name)
				e.logger.LogDebug(ctx, "quote too old, skipping evaluation",
					"venue", slot.Venue.Name, "age_ms", nowMs-slot.TS)
				return
			}
		}
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanEvaluate,
		attribute.String("trigger_venue", u.Venue.Name),
	)
	defer span.End()

	opps := e.cfg.Detector.Evaluate(a, b)
	e.evaluations.Add(1)
	e.metrics.RecordEvaluation(ctx, 2, len(opps))
	span.SetAttributes(attribute.Int("opportunities", len(opps)))

	for _, opp := range opps {
		e.opportunities.Add(1)
		e.mu.Lock()
		e.last = opp
		e.mu.Unlock()

		e.metrics.RecordOpportunity(ctx, opp.BuyVenue.Name, opp.SellVenue.Name, opp.Spread,
			time.Duration(opp.StalenessMs)*time.Millisecond)
		e.logger.Info(opp.FormatOutput(),
			"opportunity_id", opp.ID,
			"net_spread", opp.NetSpread,
		)

		if e.cfg.Publisher == nil {
			continue
		}
		if err := e.cfg.Publisher.PublishOpportunity(ctx, opp); err != nil {
			span.NoticeError(err)
			e.logger.LogWarn(ctx, "opportunity not published", "opportunity_id", opp.ID, "error", err.Error())
		}
	}
}

// Status is the engine view served on /status.
type Status struct {
	Instrument      string               `json:"instrument"`
	Running         bool                 `json:"running"`
	Quotes          []quote.Update       `json:"quotes"`
	Feeds           []pricing.FeedHealth `json:"feeds"`
	EndedFeeds      []string             `json:"ended_feeds,omitempty"`
	Evaluations     uint64               `json:"evaluations"`
	Suppressed      uint64               `json:"suppressed"`
	Opportunities   uint64               `json:"opportunities"`
	LastOpportunity *arbitrage.Summary   `json:"last_opportunity,omitempty"`
}

// Status returns a snapshot safe to call from other goroutines.
func (e *Engine) Status() Status {
	st := Status{
		Instrument:    e.cfg.Instrument.Symbol(),
		Running:       e.running.Load(),
		Quotes:        e.cache.Snapshot(),
		Evaluations:   e.evaluations.Load(),
		Suppressed:    e.suppressed.Load(),
		Opportunities: e.opportunities.Load(),
	}
	for _, src := range []quote.Source{e.cfg.SourceA, e.cfg.SourceB} {
		if hp, ok := src.(pricing.HealthProvider); ok {
			st.Feeds = append(st.Feeds, hp.Health())
		}
	}

	e.endedMu.Lock()
	for v := range e.ended {
		st.EndedFeeds = append(st.EndedFeeds, v.Name)
	}
	e.endedMu.Unlock()
	sort.Strings(st.EndedFeeds)

	e.mu.RLock()
	if e.last != nil {
		s := e.last.ToSummary()
		st.LastOpportunity = &s
	}
	e.mu.RUnlock()
	return st
}

// Ready reports whether both venues have delivered a quote.
func (e *Engine) Ready() bool {
	_, _, ok := e.cache.Pair(e.cfg.SourceA.Venue(), e.cfg.SourceB.Venue())
	return ok && e.running.Load()
}

func drain(ch <-chan quote.Update) {
	for range ch {
	}
}
