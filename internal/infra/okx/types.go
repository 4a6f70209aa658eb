package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spider_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Channel names of the public v5 stream.
const (
	ChannelInstruments  = "instruments"
	ChannelOptSummary   = "opt-summary"
	ChannelMarkPrice    = "mark-price"
	ChannelTickers      = "tickers"
	ChannelOpenInterest = "open-interest"
	ChannelFundingRate  = "funding-rate"
	ChannelIndexTickers = "index-tickers"
)

// request is an outbound op frame: {"id":"..","op":"subscribe","args":[..]}.
type request struct {
	ID   string `json:"id,omitempty"`
	Op   string `json:"op"`
	Args any    `json:"args"`
}

// ChannelArg addresses one subscription.
type ChannelArg struct {
	Channel    string `json:"channel"`
	InstID     string `json:"instId,omitempty"`
	InstType   string `json:"instType,omitempty"`
	InstFamily string `json:"instFamily,omitempty"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// frame is any inbound JSON frame: event replies and channel pushes.
type frame struct {
	ID     string          `json:"id"`
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	ConnID string          `json:"connId"`
	Arg    ChannelArg      `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// bookData is one element of a books/books5 push. Levels are
// [price, size, deprecated, orders].
type bookData struct {
	Bids  [][]string `json:"bids"`
	Asks  [][]string `json:"asks"`
	Ts    string     `json:"ts"`
	SeqID int64      `json:"seqId"`
}

// InstrumentData is one listed instrument, from REST or the instruments channel.
type InstrumentData struct {
	InstType  string `json:"instType"`
	InstID    string `json:"instId"`
	Uly       string `json:"uly"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	CtVal     string `json:"ctVal"`
	CtMult    string `json:"ctMult"`
	CtValCcy  string `json:"ctValCcy"`
	ExpTime   string `json:"expTime"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	State     string `json:"state"`
}

type optSummaryData struct {
	InstID  string `json:"instId"`
	Delta   string `json:"delta"`
	Gamma   string `json:"gamma"`
	Theta   string `json:"theta"`
	Vega    string `json:"vega"`
	MarkVol string `json:"markVol"`
	BidVol  string `json:"bidVol"`
	AskVol  string `json:"askVol"`
	FwdPx   string `json:"fwdPx"`
	Ts      string `json:"ts"`
}

type markPriceData struct {
	InstType string `json:"instType"`
	InstID   string `json:"instId"`
	MarkPx   string `json:"markPx"`
	Ts       string `json:"ts"`
}

type tickerData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	VolCcy24h string `json:"volCcy24h"`
	Vol24h    string `json:"vol24h"`
	Ts        string `json:"ts"`
}

type openInterestData struct {
	InstID string `json:"instId"`
	Oi     string `json:"oi"`
	OiCcy  string `json:"oiCcy"`
	Ts     string `json:"ts"`
}

type fundingRateData struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

type indexTickerData struct {
	InstID string `json:"instId"`
	IdxPx  string `json:"idxPx"`
	Ts     string `json:"ts"`
}

// ToInstrument converts listing data into a domain instrument.
func (d InstrumentData) ToInstrument(exchange string) (domain.Instrument, error) {
	category, err := CategoryOf(d.InstType, d.InstID)
	if err != nil {
		return domain.Instrument{}, err
	}
	base, quote := splitPair(d.InstID)
	if d.BaseCcy != "" {
		base = d.BaseCcy
	}
	if d.QuoteCcy != "" {
		quote = d.QuoteCcy
	}

	inst := domain.Instrument{
		Name:               ToSystem(d.InstID),
		ExchangeID:         d.InstID,
		Exchange:           exchange,
		Category:           category,
		Base:               base,
		Quote:              quote,
		Settle:             d.SettleCcy,
		ContractValue:      decimalOrZero(d.CtVal),
		ContractMultiplier: decimalOrZero(d.CtMult),
		TickSize:           decimalOrZero(d.TickSz),
		LotSize:            decimalOrZero(d.LotSz),
		MinSize:            decimalOrZero(d.MinSz),
	}
	if d.ExpTime != "" {
		ms, err := strconv.ParseInt(d.ExpTime, 10, 64)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("instrument %s expTime: %w", d.InstID, err)
		}
		inst.ExpiresAt = time.UnixMilli(ms)
	}
	return inst, nil
}

func splitPair(instID string) (base, quote string) {
	parts := strings.SplitN(instID, "-", 3)
	if len(parts) < 2 {
		return instID, ""
	}
	return parts[0], parts[1]
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}

// parseFloat reads an optional numeric field. Empty means zero.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	ms, _ := strconv.ParseInt(s, 10, 64)
	return ms
}
