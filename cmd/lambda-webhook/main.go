package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
)

// HTTPError is a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// isRetryable retries 5xx, 429 and transport errors.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return resilience.IsRetryable(err)
}

// webhookBody is what the webhook receives: a chat-friendly line plus the
// full opportunity.
type webhookBody struct {
	Text        string                 `json:"text"`
	Opportunity *arbitrage.Opportunity `json:"opportunity"`
}

type handler struct {
	client     *http.Client
	webhookURL string
	retry      resilience.RetryConfig
	logger     *observability.Logger
}

func newHandler(webhookURL string, logger *observability.Logger) *handler {
	return &handler{
		client:     &http.Client{Timeout: 5 * time.Second},
		webhookURL: webhookURL,
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			Backoff:     resilience.Backoff{Base: time.Second, Max: 4 * time.Second, Jitter: 0.1},
			Retryable:   isRetryable,
		},
		logger: logger,
	}
}

// Handle processes SNS-over-SQS records. Failed records are reported back so
// SQS redelivers only those.
func (h *handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	delivered := 0

	for _, record := range ev.Records {
		opp, err := decodeRecord(record)
		if err != nil {
			h.logger.LogError(ctx, "undecodable record", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		url := h.webhookURL
		if url == "" {
			if attr, ok := record.MessageAttributes["webhookURL"]; ok && attr.StringValue != nil {
				url = *attr.StringValue
			}
		}
		if url == "" {
			h.logger.LogWarn(ctx, "no webhook URL configured, skipping", "opportunity_id", opp.ID)
			continue
		}

		err = resilience.Retry(ctx, h.retry, func(ctx context.Context) error {
			return h.send(ctx, url, opp)
		})
		if err != nil {
			h.logger.LogError(ctx, "webhook delivery failed", err, "opportunity_id", opp.ID, "url", maskURL(url))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		delivered++
	}

	h.logger.Info("batch processed",
		"records", len(ev.Records),
		"delivered", delivered,
		"failed", len(failures),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// decodeRecord unwraps the SNS envelope SQS delivers and parses the
// opportunity. Raw message delivery (no envelope) is accepted too.
func decodeRecord(record events.SQSMessage) (*arbitrage.Opportunity, error) {
	body := record.Body
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Message != "" {
		body = envelope.Message
	}
	return arbitrage.ParseOpportunity([]byte(body))
}

func (h *handler) send(ctx context.Context, url string, opp *arbitrage.Opportunity) error {
	payload, err := json.Marshal(webhookBody{Text: opp.FormatOutput(), Opportunity: opp})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cex-clmm-arbitrage-webhook/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// maskURL keeps webhook tokens out of logs.
func maskURL(url string) string {
	if len(url) > 30 {
		return url[:15] + "..." + url[len(url)-10:]
	}
	return url
}

func main() {
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"), "json").Component("webhook")
	lambda.Start(newHandler(os.Getenv("WEBHOOK_URL"), logger).Handle)
}
