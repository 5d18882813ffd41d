package pricing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Binance stream channels.
const (
	ChannelDepth5     = "depth5@100ms"
	ChannelBookTicker = "bookTicker"
)

// DefaultBinanceFeeRate is the taker fee applied to Binance quotes.
const DefaultBinanceFeeRate = 0.000135

// ErrEmptyBook is returned for depth frames with no bid or no ask level.
var ErrEmptyBook = errors.New("book side is empty")

// ParseError describes an exchange frame that could not be normalized.
type ParseError struct {
	Venue string
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: parse frame: %v", e.Venue, e.Err)
	}
	return fmt.Sprintf("%s: parse %s %q: %v", e.Venue, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BinanceConfig holds Binance source configuration
type BinanceConfig struct {
	WSURL      string // e.g. wss://stream.binance.com:9443
	Channel    string
	FeeRate    *float64 // nil uses DefaultBinanceFeeRate; 0 is a valid fee
	BufferSize int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Dialer     *websocket.Dialer
}

// BinanceSource streams top of book from the Binance public websocket.
type BinanceSource struct {
	venue   quote.Venue
	cfg     BinanceConfig
	feeRate float64
	logger  *observability.Logger
	metrics *observability.Metrics
	health  *healthTracker
	now     func() time.Time
}

// NewBinanceSource creates a Binance source.
func NewBinanceSource(cfg BinanceConfig) (*BinanceSource, error) {
	if cfg.WSURL == "" {
		cfg.WSURL = "wss://stream.binance.com:9443"
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelDepth5
	}
	if cfg.Channel != ChannelDepth5 && cfg.Channel != ChannelBookTicker {
		return nil, fmt.Errorf("unsupported binance channel %q", cfg.Channel)
	}
	feeRate := DefaultBinanceFeeRate
	if cfg.FeeRate != nil {
		feeRate = *cfg.FeeRate
	}
	if feeRate < 0 {
		return nil, fmt.Errorf("binance fee rate must be >= 0, got %v", feeRate)
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
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	venue := quote.NewVenue("binance")
	return &BinanceSource{
		venue:   venue,
		cfg:     cfg,
		feeRate: feeRate,
		logger:  cfg.Logger.Venue(venue.Name),
		metrics: cfg.Metrics,
		health:  newHealthTracker(venue.Name),
		now:     time.Now,
	}, nil
}

// Venue implements quote.Source.
func (b *BinanceSource) Venue() quote.Venue { return b.venue }

// FeeRate is the fee attached to every update.
func (b *BinanceSource) FeeRate() float64 { return b.feeRate }

// Health implements HealthProvider.
func (b *BinanceSource) Health() FeedHealth { return b.health.snapshot() }

// StreamURL returns the raw stream URL for inst, e.g. .../ws/solusdc@depth5@100ms.
func (b *BinanceSource) StreamURL(inst quote.Instrument) string {
	return strings.TrimRight(b.cfg.WSURL, "/") + "/ws/" + inst.StreamSymbol() + "@" + b.cfg.Channel
}

// Subscribe implements quote.Source.
func (b *BinanceSource) Subscribe(ctx context.Context, inst quote.Instrument) (<-chan quote.Update, error) {
	url := b.StreamURL(inst)
	conn, _, err := b.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		b.health.failure(err)
		return nil, fmt.Errorf("%w: binance %s: %v", quote.ErrConnection, url, err)
	}

	b.logger.Info("subscribed to binance stream", "url", url, "fee_rate", b.feeRate)
	b.health.connected(inst.Symbol())
	b.metrics.SetFeedConnected(ctx, b.venue.Name, true)

	out := make(chan quote.Update, b.cfg.BufferSize)
	done := make(chan struct{})

	// Closing the socket is what unblocks ReadMessage on cancel.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		defer func() {
			b.health.disconnected()
			b.metrics.SetFeedConnected(context.Background(), b.venue.Name, false)
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.LogWarn(ctx, "binance stream ended", "error", err.Error())
					b.health.failure(err)
				}
				return
			}
			receivedAt := b.now()

			if !looksLikeJSONObject(raw) {
				continue
			}
			bq, err := ParseBinanceFrame(raw)
			if err != nil {
				if errors.Is(err, ErrEmptyBook) {
					continue
				}
				b.health.parseError(err)
				b.metrics.RecordError(ctx, "binance_parse")
				b.logger.LogWarn(ctx, "skipping unparseable binance frame", "error", err.Error())
				continue
			}

			upd := quote.Update{
				TS:         receivedAt.UnixMilli(),
				Venue:      b.venue,
				Instrument: inst,
				Quote:      bq,
				FeeRate:    b.feeRate,
			}
			b.health.update(receivedAt)
			b.metrics.RecordQuoteUpdate(ctx, b.venue.Name, inst.Symbol())
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func looksLikeJSONObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// depthFrame is the partial book depth payload: {"lastUpdateId":..,"bids":[[p,q]..],"asks":[..]}.
type depthFrame struct {
	LastUpdateID *uint64     `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// ParseBinanceFrame normalizes a depth5 snapshot or a bookTicker push into a
// BestQuote. Depth frames use level 0 of each side.
func ParseBinanceFrame(raw []byte) (quote.BestQuote, error) {
	var depth depthFrame
	if err := sonnet.Unmarshal(raw, &depth); err != nil {
		return quote.BestQuote{}, &ParseError{Venue: "binance", Err: err}
	}
	if depth.LastUpdateID != nil {
		return parseDepth(depth)
	}

	// bookTicker keys differ only by case ("b" price, "B" qty), so read them
	// from a map rather than relying on case-insensitive struct matching.
	var ticker map[string]any
	if err := sonnet.Unmarshal(raw, &ticker); err != nil {
		return quote.BestQuote{}, &ParseError{Venue: "binance", Err: err}
	}
	if _, ok := ticker["b"]; !ok {
		return quote.BestQuote{}, &ParseError{Venue: "binance", Err: errors.New("neither a depth snapshot nor a book ticker")}
	}

	var bq quote.BestQuote
	fields := []struct {
		key string
		dst *float64
	}{
		{"b", &bq.BidPrice},
		{"B", &bq.BidSize},
		{"a", &bq.AskPrice},
		{"A", &bq.AskSize},
	}
	for _, f := range fields {
		s, _ := ticker[f.key].(string)
		v, err := parseAmount(f.key, s)
		if err != nil {
			return quote.BestQuote{}, err
		}
		*f.dst = v
	}
	return bq, nil
}

func parseDepth(d depthFrame) (quote.BestQuote, error) {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return quote.BestQuote{}, ErrEmptyBook
	}

	var bq quote.BestQuote
	var err error
	if bq.BidPrice, err = parseAmount("bids[0].price", d.Bids[0][0]); err != nil {
		return quote.BestQuote{}, err
	}
	if bq.BidSize, err = parseAmount("bids[0].qty", d.Bids[0][1]); err != nil {
		return quote.BestQuote{}, err
	}
	if bq.AskPrice, err = parseAmount("asks[0].price", d.Asks[0][0]); err != nil {
		return quote.BestQuote{}, err
	}
	if bq.AskSize, err = parseAmount("asks[0].qty", d.Asks[0][1]); err != nil {
		return quote.BestQuote{}, err
	}
	return bq, nil
}

// parseAmount parses an exchange decimal string. Exponents, blanks and
// negative values are rejected.
func parseAmount(field, s string) (float64, error) {
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, &ParseError{Venue: "binance", Field: field, Value: s, Err: errors.New("not a plain decimal")}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ParseError{Venue: "binance", Field: field, Value: s, Err: err}
	}
	if d.IsNegative() {
		return 0, &ParseError{Venue: "binance", Field: field, Value: s, Err: errors.New("negative value")}
	}
	return d.InexactFloat64(), nil
}
