package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/arbitrage"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/resilience"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

func snsRecord(t *testing.T, id string, opp *arbitrage.Opportunity) events.SQSMessage {
	t.Helper()
	data, err := opp.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := json.Marshal(map[string]string{"Type": "Notification", "Message": string(data)})
	if err != nil {
		t.Fatal(err)
	}
	return events.SQSMessage{MessageId: id, Body: string(envelope)}
}

func testHandler(url string) *handler {
	h := newHandler(url, observability.NewNopLogger())
	h.retry.Backoff = resilience.Backoff{Base: time.Millisecond}
	return h
}

func sampleOpportunity() *arbitrage.Opportunity {
	return &arbitrage.Opportunity{
		ID:         "opp-1",
		TS:         1700000000000,
		Instrument: quote.NewInstrument("SOL", "USDC"),
		BuyVenue:   quote.NewVenue("raydium_clmm"),
		SellVenue:  quote.NewVenue("binance"),
		BuyPrice:   142,
		SellPrice:  142.5,
		Spread:     0.5,
		TradeSize:  1,
	}
}

func TestHandle_Delivers(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := testHandler(srv.URL).Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{snsRecord(t, "m1", sampleOpportunity())},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("failures = %v", resp.BatchItemFailures)
	}
	if got.Opportunity == nil || got.Opportunity.ID != "opp-1" {
		t.Errorf("opportunity = %+v", got.Opportunity)
	}
	if !strings.HasPrefix(got.Text, "[Arb] ts=1700000000000") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		wantFail  bool
	}{
		{"server error retried", http.StatusBadGateway, 3, true},
		{"rate limited retried", http.StatusTooManyRequests, 3, true},
		{"client error not retried", http.StatusBadRequest, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			resp, _ := testHandler(srv.URL).Handle(context.Background(), events.SQSEvent{
				Records: []events.SQSMessage{snsRecord(t, "m1", sampleOpportunity())},
			})
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if failed := len(resp.BatchItemFailures) == 1; failed != tt.wantFail {
				t.Errorf("failures = %v", resp.BatchItemFailures)
			}
		})
	}
}

func TestHandle_BadRecordReportedAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	resp, _ := testHandler(srv.URL).Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			{MessageId: "bad", Body: "not json"},
			snsRecord(t, "good", sampleOpportunity()),
		},
	})
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad" {
		t.Errorf("failures = %v, want only bad", resp.BatchItemFailures)
	}
}

func TestHandle_URLFromAttribute(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { calls.Add(1) }))
	defer srv.Close()

	url := srv.URL
	rec := snsRecord(t, "m1", sampleOpportunity())
	rec.MessageAttributes = map[string]events.SQSMessageAttribute{"webhookURL": {StringValue: &url, DataType: "String"}}

	h := testHandler("")
	if _, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{rec}}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	// Without any URL the record is skipped, not failed.
	resp, _ := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{snsRecord(t, "m2", sampleOpportunity())}})
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %v", resp.BatchItemFailures)
	}
}

func TestDecodeRecord_RawDelivery(t *testing.T) {
	data, _ := sampleOpportunity().ToJSON()
	opp, err := decodeRecord(events.SQSMessage{Body: string(data)})
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if opp.ID != "opp-1" {
		t.Errorf("id = %q", opp.ID)
	}
}
