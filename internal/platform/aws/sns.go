package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes to SNS through retry and a circuit breaker.
type SNSClient struct {
	api     SNSAPI
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig aws.Config
	API       SNSAPI // overrides the client built from AWSConfig
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Retry     *resilience.RetryConfig
}

// NewSNSClient creates a new SNS client with resilience patterns
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	api := cfg.API
	if api == nil {
		api = sns.NewFromConfig(cfg.AWSConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "sns",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			cfg.Logger.Info("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
			cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
		},
	})

	return &SNSClient{
		api:     api,
		breaker: breaker,
		retry:   retry,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Publish sends body to topicARN with string message attributes.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, body []byte, attributes map[string]string) error {
	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(attributes)),
	}
	for k, v := range attributes {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
			if _, err := s.api.Publish(ctx, input); err != nil {
				return fmt.Errorf("SNS publish failed: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		s.logger.LogError(ctx, "SNS publish failed", err, "topic_arn", topicARN)
		return err
	}
	return nil
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.breaker.State()
}
