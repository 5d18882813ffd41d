// Package quote holds the venue-neutral value types shared by feeds, fusion and detection.
package quote

import (
	"context"
	"errors"
	"strings"
)

// ErrConnection is wrapped by sources when the initial subscription cannot be established.
var ErrConnection = errors.New("quote: connection failed")

// Venue identifies a trading venue. Two venues are equal when their names are equal.
type Venue struct {
	Name string `json:"name"`
}

// NewVenue returns a venue with the given name.
func NewVenue(name string) Venue {
	return Venue{Name: name}
}

func (v Venue) String() string {
	return v.Name
}

// Instrument is a base/quote asset pair.
type Instrument struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewInstrument returns an instrument with upper-cased asset symbols.
func NewInstrument(base, quote string) Instrument {
	return Instrument{
		Base:  strings.ToUpper(base),
		Quote: strings.ToUpper(quote),
	}
}

// Symbol returns the display symbol, e.g. "SOL-USDC".
func (i Instrument) Symbol() string {
	return i.Base + "-" + i.Quote
}

// StreamSymbol returns the lowercase concatenation used by exchange stream paths, e.g. "solusdc".
func (i Instrument) StreamSymbol() string {
	return strings.ToLower(i.Base + i.Quote)
}

func (i Instrument) String() string {
	return i.Symbol()
}

// BestQuote is the top of book on one venue. Prices are in quote currency,
// sizes in base currency. A crossed or zero-size quote is legal.
type BestQuote struct {
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
}

// Mid returns the midpoint of bid and ask.
func (q BestQuote) Mid() float64 {
	return (q.BidPrice + q.AskPrice) / 2
}

// Update is one normalized quote emitted by a source.
// TS is the local receive time in milliseconds since the epoch.
type Update struct {
	TS         int64      `json:"ts"`
	Venue      Venue      `json:"venue"`
	Instrument Instrument `json:"instrument"`
	Quote      BestQuote  `json:"quote"`
	FeeRate    float64    `json:"fee_rate"`
}

// Source produces a live stream of updates for one venue.
//
// Subscribe returns an error wrapping ErrConnection when the stream cannot be
// opened. Once open, the channel is closed when the transport ends or ctx is
// cancelled; the source releases its network resources before closing it.
type Source interface {
	Venue() Venue
	Subscribe(ctx context.Context, instrument Instrument) (<-chan Update, error)
}
