package arbitrage

import (
	"encoding/json"
	"fmt"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Opportunity is a fee-annotated price dislocation between two venues:
// buy on BuyVenue at its ask, sell on SellVenue at its bid.
type Opportunity struct {
	ID          string           `json:"opportunity_id"`
	TS          int64            `json:"ts"` // earlier of the two quote timestamps, ms
	StalenessMs int64            `json:"staleness_ms"`
	Instrument  quote.Instrument `json:"instrument"`
	BuyVenue    quote.Venue      `json:"buy_venue"`
	SellVenue   quote.Venue      `json:"sell_venue"`
	BuyPrice    float64          `json:"buy_price"`
	SellPrice   float64          `json:"sell_price"`
	Spread      float64          `json:"spread"`
	TotalFee    float64          `json:"total_fee"`
	NetSpread   float64          `json:"net_spread"` // Spread - TotalFee
	TradeSize   float64          `json:"trade_size"`
}

// FormatOutput formats the opportunity as a single console line.
func (o *Opportunity) FormatOutput() string {
	return fmt.Sprintf("[Arb] ts=%d staleness=%dms | Buy %s @ %.4f, Sell %s @ %.4f, Spread %.4f, Fees %.4f, Size %.4f",
		o.TS,
		o.StalenessMs,
		o.BuyVenue,
		o.BuyPrice,
		o.SellVenue,
		o.SellPrice,
		o.Spread,
		o.TotalFee,
		o.TradeSize,
	)
}

// ToJSON encodes the opportunity for publishers.
func (o *Opportunity) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// ParseOpportunity decodes a published opportunity.
func ParseOpportunity(data []byte) (*Opportunity, error) {
	var o Opportunity
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode opportunity: %w", err)
	}
	if o.BuyVenue.Name == "" || o.SellVenue.Name == "" {
		return nil, fmt.Errorf("decode opportunity: missing venue")
	}
	return &o, nil
}

// Summary is the compact form kept on /status.
type Summary struct {
	ID        string  `json:"id"`
	TS        int64   `json:"ts"`
	Direction string  `json:"direction"`
	Spread    float64 `json:"spread"`
	NetSpread float64 `json:"net_spread"`
	TradeSize float64 `json:"trade_size"`
}

// ToSummary creates a compact summary of the opportunity
func (o *Opportunity) ToSummary() Summary {
	return Summary{
		ID:        o.ID,
		TS:        o.TS,
		Direction: o.BuyVenue.Name + " -> " + o.SellVenue.Name,
		Spread:    o.Spread,
		NetSpread: o.NetSpread,
		TradeSize: o.TradeSize,
	}
}
