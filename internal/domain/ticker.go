package domain

import "github.com/shopspring/decimal"

// Greeks of an option, as reported by the venue's option summary.
type Greeks struct {
	Delta float64 `msgpack:"delta" json:"delta"`
	Gamma float64 `msgpack:"gamma" json:"gamma"`
	Theta float64 `msgpack:"theta" json:"theta"`
	Vega  float64 `msgpack:"vega" json:"vega"`
}

// TickerFields are the optional annotations carried next to an order book.
// A nil field means "not reported".
type TickerFields struct {
	MarkPrice *decimal.Decimal
	MarkIV    *decimal.Decimal // percent
	BidIV     *decimal.Decimal // percent
	AskIV     *decimal.Decimal // percent
	Greeks    *Greeks
}

// PublicTicker is the published 24h ticker of an instrument.
type PublicTicker struct {
	InstrumentName string  `msgpack:"instrument_name" json:"instrument_name"`
	BestBidPrice   float64 `msgpack:"best_bid_price" json:"best_bid_price"`
	BestBidAmount  float64 `msgpack:"best_bid_amount" json:"best_bid_amount"`
	BestAskPrice   float64 `msgpack:"best_ask_price" json:"best_ask_price"`
	BestAskAmount  float64 `msgpack:"best_ask_amount" json:"best_ask_amount"`
	LastPrice      float64 `msgpack:"last_price" json:"last_price"`
	High24h        float64 `msgpack:"high_24h" json:"high_24h"`
	Low24h         float64 `msgpack:"low_24h" json:"low_24h"`
	Volume24h      float64 `msgpack:"volume_24h" json:"volume_24h"`
	VolumeCcy24h   float64 `msgpack:"volume_ccy_24h" json:"volume_ccy_24h"`
	Timestamp      int64   `msgpack:"timestamp" json:"timestamp"`
}

// OpenInterest is the published open interest of a derivative.
type OpenInterest struct {
	InstrumentName  string  `msgpack:"instrument_name" json:"instrument_name"`
	OpenInterest    float64 `msgpack:"open_interest" json:"open_interest"`
	OpenInterestCcy float64 `msgpack:"open_interest_ccy" json:"open_interest_ccy"`
	Timestamp       int64   `msgpack:"timestamp" json:"timestamp"`
}

// FundingRate is the published funding rate of a perpetual swap.
type FundingRate struct {
	InstrumentName  string  `msgpack:"instrument_name" json:"instrument_name"`
	FundingRate     float64 `msgpack:"funding_rate" json:"funding_rate"`
	NextFundingRate float64 `msgpack:"next_funding_rate" json:"next_funding_rate"`
	FundingTime     int64   `msgpack:"funding_time" json:"funding_time"`
	NextFundingTime int64   `msgpack:"next_funding_time" json:"next_funding_time"`
}

// PricePoint carries a single price: mark, underlying (forward) or index.
type PricePoint struct {
	InstrumentName string  `msgpack:"instrument_name" json:"instrument_name"`
	Price          float64 `msgpack:"price" json:"price"`
	Timestamp      int64   `msgpack:"timestamp" json:"timestamp"`
	ExpirationAt   *int64  `msgpack:"expiration_at,omitempty" json:"expiration_at,omitempty"`
}

// Float converts an optional decimal into an optional float for publication.
func Float(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
