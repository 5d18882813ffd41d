package blockchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/cache"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
)

// ErrNoHealthyEndpoints is returned when every endpoint is marked down.
var ErrNoHealthyEndpoints = errors.New("no healthy RPC endpoints available")

// Endpoint is a single Solana JSON-RPC endpoint.
type Endpoint struct {
	URL    string
	Weight int

	client  *rpc.Client
	breaker *resilience.CircuitBreaker
	healthy atomic.Bool
}

// EndpointConfig represents endpoint configuration
type EndpointConfig struct {
	URL    string
	Weight int
}

// ClientPoolConfig holds client pool configuration
type ClientPoolConfig struct {
	Endpoints           []EndpointConfig
	Logger              *observability.Logger
	Metrics             *observability.Metrics
	Tracer              observability.Tracer
	HealthCheckInterval time.Duration // 0 disables background checks
	RequestTimeout      time.Duration
	RateLimiter         *resilience.RateLimiter // optional, shared by all endpoints
	Retry               *resilience.RetryConfig

	// AccountCache, if set, holds getAccountInfo results for CacheTTL.
	AccountCache cache.Cache
	CacheTTL     time.Duration
}

// ClientPool spreads JSON-RPC calls over weighted endpoints and fails over
// to the next healthy one when a call fails at the transport level.
type ClientPool struct {
	endpoints []*Endpoint
	schedule  []int // endpoint indexes, each repeated Weight times

	mu   sync.Mutex
	next int

	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer
	limiter  *resilience.RateLimiter
	retry    resilience.RetryConfig
	timeout  time.Duration
	cache    cache.Cache
	cacheTTL time.Duration

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewClientPool dials every endpoint. HTTP dials are lazy, so an endpoint
// only turns unhealthy once a call or health check fails against it.
func NewClientPool(ctx context.Context, cfg ClientPoolConfig) (*ClientPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
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
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.MaxAttempts < len(cfg.Endpoints) {
		// give every endpoint one chance before giving up
		retry.MaxAttempts = len(cfg.Endpoints)
	}

	pool := &ClientPool{
		logger:   cfg.Logger.Component("rpc-pool"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		limiter:  cfg.RateLimiter,
		retry:    retry,
		timeout:  cfg.RequestTimeout,
		cache:    cfg.AccountCache,
		cacheTTL: cfg.CacheTTL,
	}

	for i, epCfg := range cfg.Endpoints {
		client, err := rpc.DialContext(ctx, epCfg.URL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("dial %s: %w", epCfg.URL, err)
		}

		ep := &Endpoint{URL: epCfg.URL, Weight: max(epCfg.Weight, 1), client: client}
		ep.healthy.Store(true)
		ep.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "rpc:" + epCfg.URL,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			OpenTimeout:      30 * time.Second,
			IsFailure:        isEndpointFailure,
			OnStateChange: func(name string, from, to resilience.State) {
				pool.logger.Warn("circuit breaker state changed", "endpoint", epCfg.URL, "from", from.String(), "to", to.String())
				pool.metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
			},
		})
		pool.endpoints = append(pool.endpoints, ep)
		for w := 0; w < ep.Weight; w++ {
			pool.schedule = append(pool.schedule, i)
		}

		pool.logger.Info("registered RPC endpoint", "url", ep.URL, "weight", ep.Weight)
	}

	if cfg.HealthCheckInterval > 0 {
		hcCtx, cancel := context.WithCancel(context.Background())
		pool.stop = cancel
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			pool.runHealthChecks(hcCtx, cfg.HealthCheckInterval)
		}()
	}

	return pool, nil
}

// isEndpointFailure reports whether err says something about the endpoint
// rather than the request. JSON-RPC error responses prove the node is up.
func isEndpointFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

// pick returns the next healthy endpoint in weighted round-robin order.
func (cp *ClientPool) pick() (*Endpoint, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for range cp.schedule {
		ep := cp.endpoints[cp.schedule[cp.next]]
		cp.next = (cp.next + 1) % len(cp.schedule)
		if ep.healthy.Load() && ep.breaker.State() != resilience.StateOpen {
			return ep, nil
		}
	}
	// Everything is marked down: keep probing whatever the breakers still allow.
	for _, ep := range cp.endpoints {
		if ep.breaker.State() != resilience.StateOpen {
			return ep, nil
		}
	}
	return nil, ErrNoHealthyEndpoints
}

// Call invokes method on a healthy endpoint, retrying on the next one when
// the failure is transient. result must be a pointer as for rpc.Client.CallContext.
func (cp *ClientPool) Call(ctx context.Context, result any, method string, args ...any) error {
	ctx, span := cp.tracer.StartSpan(ctx, observability.SpanRPCCall, attribute.String("rpc.method", method))
	defer span.End()

	err := resilience.Retry(ctx, cp.retry, func(ctx context.Context) error {
		if cp.limiter != nil {
			if err := cp.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		ep, err := cp.pick()
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("rpc.endpoint", ep.URL))
		return cp.callEndpoint(ctx, ep, result, method, args...)
	})
	if err != nil {
		span.NoticeError(err)
	}
	return err
}

func (cp *ClientPool) callEndpoint(ctx context.Context, ep *Endpoint, result any, method string, args ...any) error {
	start := time.Now()
	err := ep.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, cp.timeout)
		defer cancel()
		return ep.client.CallContext(callCtx, result, method, args...)
	})

	status := "ok"
	switch {
	case err == nil:
		if !ep.healthy.Swap(true) {
			cp.logger.Info("RPC endpoint is answering again", "url", ep.URL)
			cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, true)
		}
	case isEndpointFailure(err) && ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitOpen):
		status = "error"
		cp.MarkUnhealthy(ep.URL)
	default:
		status = "error"
	}
	cp.metrics.RecordRPCCall(ctx, method, status, time.Since(start))

	if err != nil {
		return fmt.Errorf("%s via %s: %w", method, ep.URL, err)
	}
	return nil
}

// MarkUnhealthy takes an endpoint out of rotation until the next passing
// health check.
func (cp *ClientPool) MarkUnhealthy(url string) {
	for _, ep := range cp.endpoints {
		if ep.URL == url {
			if ep.healthy.Swap(false) {
				cp.logger.Warn("marking RPC endpoint as unhealthy", "url", url)
				cp.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
			}
			return
		}
	}
}

func (cp *ClientPool) runHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.CheckHealth(ctx)
		}
	}
}

// CheckHealth calls getHealth on every endpoint and updates its status.
func (cp *ClientPool) CheckHealth(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range cp.endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			cp.checkEndpoint(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (cp *ClientPool) checkEndpoint(ctx context.Context, ep *Endpoint) {
	checkCtx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	var status string
	err := ep.client.CallContext(checkCtx, &status, "getHealth")
	if err == nil && status != "ok" {
		err = fmt.Errorf("node reports %q", status)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if ep.healthy.Swap(false) {
			cp.logger.LogError(ctx, "RPC endpoint health check failed", err, "url", ep.URL)
		}
		cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, false)
		return
	}

	if !ep.healthy.Swap(true) {
		cp.logger.Info("RPC endpoint is now healthy", "url", ep.URL)
	}
	cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, true)
}

// HealthyEndpointCount returns the number of healthy endpoints
func (cp *ClientPool) HealthyEndpointCount() int {
	n := 0
	for _, ep := range cp.endpoints {
		if ep.healthy.Load() {
			n++
		}
	}
	return n
}

// EndpointStatus returns status of all endpoints
func (cp *ClientPool) EndpointStatus() map[string]bool {
	status := make(map[string]bool, len(cp.endpoints))
	for _, ep := range cp.endpoints {
		status[ep.URL] = ep.healthy.Load()
	}
	return status
}

// Close stops health checks and closes all clients.
func (cp *ClientPool) Close() {
	if cp.stop != nil {
		cp.stop()
		cp.wg.Wait()
	}
	for _, ep := range cp.endpoints {
		ep.client.Close()
	}
}

// AccountInfoOptions are the getAccountInfo config fields.
type AccountInfoOptions struct {
	Encoding   string `json:"encoding,omitempty"`
	Commitment string `json:"commitment,omitempty"`
}

// AccountInfo is an account snapshot. Data is still encoded with Encoding.
type AccountInfo struct {
	Slot       uint64    `json:"slot"`
	Lamports   uint64    `json:"lamports"`
	Owner      PublicKey `json:"owner"`
	Executable bool      `json:"executable"`
	Data       string    `json:"data"`
	Encoding   string    `json:"encoding"`
}

// ErrAccountNotFound is returned when getAccountInfo reports a null value.
var ErrAccountNotFound = errors.New("account not found")

// GetAccountInfo fetches an account, going through the account cache first
// when one is configured.
func (cp *ClientPool) GetAccountInfo(ctx context.Context, account PublicKey, opts AccountInfoOptions) (*AccountInfo, error) {
	key := "account:" + account.String() + ":" + opts.Encoding + ":" + opts.Commitment

	if cp.cache != nil {
		if raw, err := cp.cache.Get(ctx, key); err == nil {
			var info AccountInfo
			if err := json.Unmarshal(raw, &info); err == nil {
				return &info, nil
			}
		} else if !errors.Is(err, cache.ErrNotFound) {
			cp.logger.LogWarn(ctx, "account cache lookup failed", "account", account.String(), "error", err.Error())
		}
	}

	var res json.RawMessage
	if err := cp.Call(ctx, &res, "getAccountInfo", account.String(), opts); err != nil {
		return nil, err
	}
	info, err := ParseAccountResult(res)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", account, err)
	}

	if cp.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			if err := cp.cache.Set(ctx, key, raw, cp.cacheTTL); err != nil {
				cp.logger.LogWarn(ctx, "account cache store failed", "account", account.String(), "error", err.Error())
			}
		}
	}
	return info, nil
}
