package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/fusion"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/notification"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/aws"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/cache"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/config"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/pricing"
)

const subscriberHeartbeat = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Printf("detector stopped: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Observability first; everything below logs through it.
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics(cfg.Observability.ServiceName, cfg.Observability.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	defer metrics.Shutdown(context.Background())

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Observability.Environment,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("create tracer: %w", err)
	}
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer()

	inst := cfg.TradedInstrument()
	logger.Info("starting detector",
		"instrument", inst.Symbol(),
		"pool", cfg.Raydium.PoolAddress,
		"binance_channel", cfg.Binance.Channel,
		"min_spread", cfg.Arbitrage.MinSpread,
	)

	// Account fetch cache: memory L1, Redis L2 when enabled. The Redis
	// client is shared with the pub/sub publisher.
	var redisClient *redis.Client
	if cfg.Cache.L2Enabled || cfg.Notification.Type == config.NotifyRedis {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()
	var accountCache cache.Cache = memCache
	cacheTTL := cfg.Cache.L1TTL
	if cfg.Cache.L2Enabled {
		layered := cache.NewLayeredCache(memCache, cache.NewRedisCache(redisClient, "clmm-arb:"))
		layered.L1MaxTTL = cfg.Cache.L1TTL
		layered.OnLookup = func(layer string, hit bool) {
			if hit {
				metrics.RecordCacheHit(context.Background(), layer)
			} else {
				metrics.RecordCacheMiss(context.Background(), layer)
			}
		}
		accountCache = layered
		cacheTTL = cfg.Cache.L2TTL
	}

	// Solana access: JSON-RPC pool for one-time fetches, PubSub for pushes.
	endpoints := make([]blockchain.EndpointConfig, len(cfg.Raydium.RPCEndpoints))
	for i, ep := range cfg.Raydium.RPCEndpoints {
		endpoints[i] = blockchain.EndpointConfig{URL: ep.URL, Weight: ep.Weight}
	}
	rpcPool, err := blockchain.NewClientPool(ctx, blockchain.ClientPoolConfig{
		Endpoints:           endpoints,
		Logger:              logger,
		Metrics:             metrics,
		Tracer:              tracer,
		HealthCheckInterval: cfg.Raydium.HealthCheckInterval,
		RequestTimeout:      cfg.Raydium.RequestTimeout,
		RateLimiter:         resilience.NewRateLimiterFromRPM(cfg.Raydium.RateLimit.RequestsPerMinute, cfg.Raydium.RateLimit.Burst),
		AccountCache:        accountCache,
		CacheTTL:            cacheTTL,
	})
	if err != nil {
		return fmt.Errorf("create RPC pool: %w", err)
	}
	defer rpcPool.Close()

	subscriber, err := blockchain.NewSubscriber(blockchain.SubscriberConfig{
		WebSocketURL:      cfg.Raydium.WSURL,
		Commitment:        cfg.Raydium.Commitment,
		Encoding:          cfg.Raydium.Encoding,
		BufferSize:        cfg.Feeds.BufferSize,
		Logger:            logger,
		Tracer:            tracer,
		HeartbeatInterval: subscriberHeartbeat,
	})
	if err != nil {
		return fmt.Errorf("create account subscriber: %w", err)
	}

	deps := pricing.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Accounts:   rpcPool,
		Subscriber: subscriber,
	}
	registry := pricing.NewRegistry()
	cexFeed, err := registry.Create(ctx, "binance", deps)
	if err != nil {
		return err
	}
	ammFeed, err := registry.Create(ctx, "raydium_clmm", deps)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(ctx, cfg, redisClient, logger, metrics, tracer)
	if err != nil {
		return err
	}
	dispatcher, err := notification.NewDispatcher(ctx, notification.DispatcherConfig{
		Publisher:    publisher,
		Workers:      cfg.Notification.Workers,
		QueueSize:    cfg.Notification.QueueSize,
		MinNetSpread: cfg.Notification.MinNetSpread,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	engine, err := fusion.NewEngine(fusion.EngineConfig{
		Instrument:  inst,
		SourceA:     cexFeed,
		SourceB:     ammFeed,
		Detector:    arbitrage.NewDetector(arbitrage.DetectorConfig{MinSpread: cfg.Arbitrage.MinSpread}),
		Publisher:   dispatcher,
		MaxQuoteAge: cfg.Arbitrage.MaxQuoteAge,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: (&server{
			engine:        engine,
			rpcEndpoints:  rpcPool.EndpointStatus,
			notifications: dispatcher.Stats,
			metrics:       metrics.Handler(),
		}).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer logger.Info("fusion engine stopped")
		return engine.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("detector stopped", "received_notifications", subscriber.Received())
	return err
}

// newPublisher builds the sink selected by notification.type.
func newPublisher(
	ctx context.Context,
	cfg *config.Config,
	redisClient *redis.Client,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer observability.Tracer,
) (notification.Publisher, error) {
	switch cfg.Notification.Type {
	case config.NotifySNS:
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
		if err != nil {
			return nil, err
		}
		return notification.NewSNSPublisher(notification.SNSPublisherConfig{
			Client: aws.NewSNSClient(aws.SNSClientConfig{
				AWSConfig: awsCfg,
				Logger:    logger,
				Metrics:   metrics,
			}),
			TopicARN: cfg.Notification.SNSTopicARN,
			Logger:   logger,
			Tracer:   tracer,
		})
	case config.NotifyRedis:
		return notification.NewRedisPublisher(redisClient, cfg.Notification.RedisChannel, logger, tracer)
	default:
		return notification.NewLogPublisher(logger), nil
	}
}
