// Package notification forwards detected opportunities to external sinks.
package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/aws"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
)

// Publisher delivers one opportunity to a sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, opp *arbitrage.Opportunity) error
}

// LogPublisher writes opportunities to the log. Used when no external sink
// is configured.
type LogPublisher struct {
	logger *observability.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger *observability.Logger) *LogPublisher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogPublisher{logger: logger.Component("log-publisher")}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(ctx context.Context, opp *arbitrage.Opportunity) error {
	p.logger.LogInfo(ctx, "opportunity",
		"opportunity_id", opp.ID,
		"instrument", opp.Instrument.Symbol(),
		"buy_venue", opp.BuyVenue.Name,
		"sell_venue", opp.SellVenue.Name,
		"spread", opp.Spread,
		"total_fee", opp.TotalFee,
		"net_spread", opp.NetSpread,
		"trade_size", opp.TradeSize,
		"staleness_ms", opp.StalenessMs,
	)
	return nil
}

// SNSPublisher publishes opportunities as JSON to an SNS topic.
type SNSPublisher struct {
	client   *aws.SNSClient
	topicARN string
	logger   *observability.Logger
	tracer   observability.Tracer
}

// SNSPublisherConfig holds SNS publisher configuration
type SNSPublisherConfig struct {
	Client   *aws.SNSClient
	TopicARN string
	Logger   *observability.Logger
	Tracer   observability.Tracer
}

// NewSNSPublisher creates a new SNS opportunity publisher
func NewSNSPublisher(cfg SNSPublisherConfig) (*SNSPublisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	return &SNSPublisher{
		client:   cfg.Client,
		topicARN: cfg.TopicARN,
		logger:   cfg.Logger.Component("sns-publisher"),
		tracer:   cfg.Tracer,
	}, nil
}

func (p *SNSPublisher) Name() string { return "sns" }

// Publish sends the opportunity with attributes subscribers can filter on.
func (p *SNSPublisher) Publish(ctx context.Context, opp *arbitrage.Opportunity) error {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanNotification,
		attribute.String("publisher", "sns"),
		attribute.String("opportunity_id", opp.ID),
	)
	defer span.End()

	payload, err := opp.ToJSON()
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("failed to marshal opportunity: %w", err)
	}

	attributes := map[string]string{
		"instrument":  opp.Instrument.Symbol(),
		"buyVenue":    opp.BuyVenue.Name,
		"sellVenue":   opp.SellVenue.Name,
		"netPositive": strconv.FormatBool(opp.NetSpread > 0),
		"spread":      strconv.FormatFloat(opp.Spread, 'f', 6, 64),
	}

	if err := p.client.Publish(ctx, p.topicARN, payload, attributes); err != nil {
		span.NoticeError(err)
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	p.logger.LogDebug(ctx, "published opportunity to SNS", "opportunity_id", opp.ID, "topic_arn", p.topicARN)
	return nil
}

// RedisPublishAPI is the subset of the Redis client used by RedisPublisher.
type RedisPublishAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes opportunities as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  RedisPublishAPI
	channel string
	logger  *observability.Logger
	tracer  observability.Tracer
}

// NewRedisPublisher creates a Redis pub/sub publisher.
func NewRedisPublisher(client RedisPublishAPI, channel string, logger *observability.Logger, tracer observability.Tracer) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.Component("redis-publisher"),
		tracer:  tracer,
	}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, opp *arbitrage.Opportunity) error {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanNotification,
		attribute.String("publisher", "redis"),
		attribute.String("opportunity_id", opp.ID),
	)
	defer span.End()

	payload, err := opp.ToJSON()
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("failed to marshal opportunity: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("redis publish to %s failed: %w", p.channel, err)
	}
	if receivers == 0 {
		p.logger.LogDebug(ctx, "no subscribers on channel", "channel", p.channel)
	}
	return nil
}
