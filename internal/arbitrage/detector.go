// Package arbitrage compares the latest quotes of two venues and reports
// cross-venue spreads.
package arbitrage

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Compare evaluates both directions between a and b. Direction one buys on a
// and sells on b; direction two is the reverse. A direction is reported when
// its gross spread exceeds minSpread. Fees are reported, not subtracted.
func Compare(a, b quote.Update, minSpread, feeA, feeB float64, nowMs int64) []Opportunity {
	ts := min(a.TS, b.TS)
	staleness := max(nowMs-ts, 0)

	var out []Opportunity
	if opp, ok := direction(a, b, minSpread, feeA, feeB); ok {
		opp.TS, opp.StalenessMs = ts, staleness
		out = append(out, opp)
	}
	if opp, ok := direction(b, a, minSpread, feeB, feeA); ok {
		opp.TS, opp.StalenessMs = ts, staleness
		out = append(out, opp)
	}
	return out
}

func direction(buy, sell quote.Update, minSpread, buyFee, sellFee float64) (Opportunity, bool) {
	buyPrice := buy.Quote.AskPrice
	sellPrice := sell.Quote.BidPrice
	spread := sellPrice - buyPrice
	if math.IsNaN(spread) || !(spread > minSpread) {
		return Opportunity{}, false
	}

	totalFee := (buyFee + sellFee) * buyPrice
	return Opportunity{
		Instrument: buy.Instrument,
		BuyVenue:   buy.Venue,
		SellVenue:  sell.Venue,
		BuyPrice:   buyPrice,
		SellPrice:  sellPrice,
		Spread:     spread,
		TotalFee:   totalFee,
		NetSpread:  spread - totalFee,
		TradeSize:  min(buy.Quote.AskSize, sell.Quote.BidSize),
	}, true
}

// DetectorConfig holds detector configuration
type DetectorConfig struct {
	MinSpread float64
}

// Detector applies Compare with a configured threshold and stamps each
// opportunity with an ID. It keeps no state between calls.
type Detector struct {
	minSpread float64
	now       func() time.Time
	newID     func() string
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		minSpread: cfg.MinSpread,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// MinSpread returns the gross spread threshold.
func (d *Detector) MinSpread() float64 { return d.minSpread }

// Evaluate compares the two latest updates using the fee rate each carries.
// It returns zero, one or two opportunities.
func (d *Detector) Evaluate(a, b quote.Update) []*Opportunity {
	found := Compare(a, b, d.minSpread, a.FeeRate, b.FeeRate, d.now().UnixMilli())
	if len(found) == 0 {
		return nil
	}

	out := make([]*Opportunity, len(found))
	for i := range found {
		found[i].ID = d.newID()
		out[i] = &found[i]
	}
	return out
}
