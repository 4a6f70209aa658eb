package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"spider_go/internal/book"
	"spider_go/internal/domain"
	"spider_go/internal/stream"

	"github.com/shopspring/decimal"
)

func (c *Client) handleLogin(_ context.Context, sess *stream.Session, f *frame) error {
	// The reply itself is consumed by the login waiter.
	c.logger.Debug("login reply", slog.String("code", f.Code), slog.Uint64("token", sess.Token()))
	return nil
}

func (c *Client) handleSubscribe(_ context.Context, _ *stream.Session, f *frame) error {
	c.logger.Debug("subscribed",
		slog.String("channel", f.Arg.Channel),
		slog.String("inst_id", f.Arg.InstID),
		slog.String("inst_type", f.Arg.InstType),
		slog.String("inst_family", f.Arg.InstFamily),
	)
	return nil
}

func (c *Client) handleError(_ context.Context, _ *stream.Session, f *frame) error {
	if c.gate.Allow() {
		c.logger.Warn("⚠️ exchange error event", slog.String("code", f.Code), slog.String("msg", f.Msg))
	}
	return nil
}

func decodeData[T any](kind string, f *frame) ([]T, error) {
	var out []T
	if err := json.Unmarshal(f.Data, &out); err != nil {
		return nil, &domain.DecodeError{Kind: kind, Err: err}
	}
	return out, nil
}

// handleBooks applies a books push to the replica of its instrument and
// publishes the result. A push without action is a full snapshot.
func (c *Client) handleBooks(ctx context.Context, sess *stream.Session, f *frame) error {
	inst, ok := c.catalog.ByExchangeID(f.Arg.InstID)
	if !ok {
		return &domain.DecodeError{Kind: "books", Err: fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, f.Arg.InstID)}
	}
	items, err := decodeData[bookData]("books", f)
	if err != nil {
		return err
	}

	var replica *book.Replica
	if f.Action == "update" {
		if replica, ok = c.registry.Get(inst.Name); !ok {
			return &domain.DecodeError{Kind: "books", Err: fmt.Errorf("%w: %s", domain.ErrNoBook, inst.Name)}
		}
		// Everything is parsed first so a rejected frame leaves the book untouched.
		updates, err := parseUpdates(items)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := replica.ApplyUpdate(u.side, u.levels, u.ts); err != nil {
				return &domain.DecodeError{Kind: "books", Err: err}
			}
		}
	} else {
		replica = c.registry.GetOrCreate(inst)
		for _, item := range items {
			bids, err := parseLevels(item.Bids)
			if err != nil {
				return err
			}
			asks, err := parseLevels(item.Asks)
			if err != nil {
				return err
			}
			if err := replica.ApplySnapshot(bids, asks, item.SeqID, parseMillis(item.Ts)); err != nil {
				return &domain.DecodeError{Kind: "books", Err: err}
			}
		}
	}

	c.metrics.RecordBook()
	return c.publishBook(ctx, sess, replica.Serialize(c.opt.PublishDepth))
}

type sideUpdate struct {
	side   book.Side
	levels []book.PriceLevel
	ts     int64
}

func parseUpdates(items []bookData) ([]sideUpdate, error) {
	var out []sideUpdate
	for _, item := range items {
		ts := parseMillis(item.Ts)
		for _, side := range []book.Side{book.Bid, book.Ask} {
			raw := item.Bids
			if side == book.Ask {
				raw = item.Asks
			}
			if len(raw) == 0 {
				continue
			}
			levels, err := parseLevels(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, sideUpdate{side: side, levels: levels, ts: ts})
		}
	}
	return out, nil
}

// parseLevels reads [price, size, ...] string tuples. Sizes stay in venue
// units; the replica scales them.
func parseLevels(raw [][]string) ([]book.PriceLevel, error) {
	levels := make([]book.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			return nil, &domain.DecodeError{Kind: "books", Err: fmt.Errorf("%w: %v", domain.ErrMalformedLevel, lv)}
		}
		price, err := parseDecimal("price", lv[0])
		if err != nil {
			return nil, &domain.DecodeError{Kind: "books", Err: err}
		}
		size, err := parseDecimal("size", lv[1])
		if err != nil {
			return nil, &domain.DecodeError{Kind: "books", Err: err}
		}
		if !price.IsPositive() || size.IsNegative() {
			return nil, &domain.DecodeError{Kind: "books", Err: fmt.Errorf("%w: %v", domain.ErrMalformedLevel, lv)}
		}
		levels = append(levels, book.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// handleInstruments tracks instruments announced on the instruments channel.
func (c *Client) handleInstruments(_ context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[InstrumentData](ChannelInstruments, f)
	if err != nil {
		return err
	}
	return c.track(sess, items)
}

// handleOptSummary annotates option books with greeks and implied
// volatilities and publishes the forward price as the underlying price.
func (c *Client) handleOptSummary(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[optSummaryData](ChannelOptSummary, f)
	if err != nil {
		return err
	}
	hundred := decimal.NewFromInt(100)
	for _, item := range items {
		name := ToSystem(item.InstID)
		fields := domain.TickerFields{
			Greeks: &domain.Greeks{
				Delta: parseFloat(item.Delta),
				Gamma: parseFloat(item.Gamma),
				Theta: parseFloat(item.Theta),
				Vega:  parseFloat(item.Vega),
			},
			MarkIV: percent(item.MarkVol, hundred),
			BidIV:  percent(item.BidVol, hundred),
			AskIV:  percent(item.AskVol, hundred),
		}
		if mark, ok := c.markPrices[name]; ok {
			fields.MarkPrice = &mark
		}
		c.registry.UpdateTicker(name, fields)

		if fwd := parseFloat(item.FwdPx); fwd != 0 {
			inst, ok := c.catalog.ByName(name)
			if !ok {
				continue
			}
			if err := c.publishPrice(ctx, sess, inst, domain.KindUnderlyingPrice, fwd); err != nil {
				return err
			}
		}
	}
	return nil
}

// percent scales a venue volatility ratio to percent. Empty stays unset.
func percent(s string, hundred decimal.Decimal) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	d = d.Mul(hundred)
	return &d
}

// handleMarkPrice caches mark prices for the option annotations, publishes
// them and, for swaps and futures, refreshes the book annotation.
func (c *Client) handleMarkPrice(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[markPriceData](ChannelMarkPrice, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		mark, err := parseDecimal("markPx", item.MarkPx)
		if err != nil {
			return &domain.DecodeError{Kind: ChannelMarkPrice, Err: err}
		}
		name := ToSystem(item.InstID)
		c.markPrices[name] = mark

		inst, ok := c.catalog.ByName(name)
		if !ok {
			continue
		}
		if err := c.publishPrice(ctx, sess, inst, domain.KindMarkPrice, mark.InexactFloat64()); err != nil {
			return err
		}
		if item.InstType == InstSwap || item.InstType == InstFutures {
			c.registry.UpdateTicker(name, domain.TickerFields{MarkPrice: &mark})
		}
	}
	return nil
}

func (c *Client) handleTickers(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[tickerData](ChannelTickers, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		inst, ok := c.catalog.ByExchangeID(item.InstID)
		if !ok {
			continue
		}
		scale := inst.ContractSize().InexactFloat64()
		payload := domain.PublicTicker{
			InstrumentName: inst.Name,
			BestBidPrice:   parseFloat(item.BidPx),
			BestBidAmount:  parseFloat(item.BidSz) * scale,
			BestAskPrice:   parseFloat(item.AskPx),
			BestAskAmount:  parseFloat(item.AskSz) * scale,
			LastPrice:      parseFloat(item.Last),
			High24h:        parseFloat(item.High24h),
			Low24h:         parseFloat(item.Low24h),
			Volume24h:      parseFloat(item.Vol24h) * scale,
			VolumeCcy24h:   parseFloat(item.VolCcy24h),
			Timestamp:      parseMillis(item.Ts),
		}
		if err := c.cache(ctx, sess, inst, domain.KindTicker, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleOpenInterest(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[openInterestData](ChannelOpenInterest, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		inst, ok := c.catalog.ByExchangeID(item.InstID)
		if !ok {
			continue
		}
		payload := domain.OpenInterest{
			InstrumentName:  inst.Name,
			OpenInterest:    parseFloat(item.Oi),
			OpenInterestCcy: parseFloat(item.OiCcy),
			Timestamp:       parseMillis(item.Ts),
		}
		if err := c.cache(ctx, sess, inst, domain.KindOpenInterest, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleFundingRate(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[fundingRateData](ChannelFundingRate, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		inst, ok := c.catalog.ByExchangeID(item.InstID)
		if !ok {
			continue
		}
		payload := domain.FundingRate{
			InstrumentName:  inst.Name,
			FundingRate:     parseFloat(item.FundingRate),
			NextFundingRate: parseFloat(item.NextFundingRate),
			FundingTime:     parseMillis(item.FundingTime),
			NextFundingTime: parseMillis(item.NextFundingTime),
		}
		if err := c.publish(ctx, sess, inst, domain.KindFundingRate, payload); err != nil {
			return err
		}
	}
	return nil
}

// handleIndexTickers publishes index prices. Index "BTC-USD" is filed as BTC_USD.
func (c *Client) handleIndexTickers(ctx context.Context, sess *stream.Session, f *frame) error {
	items, err := decodeData[indexTickerData](ChannelIndexTickers, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		price, err := parseDecimal("idxPx", item.IdxPx)
		if err != nil {
			return &domain.DecodeError{Kind: ChannelIndexTickers, Err: err}
		}
		index := strings.ReplaceAll(item.InstID, "-", "_")
		if err := c.publishIndex(ctx, sess, index, price.InexactFloat64(), parseMillis(item.Ts)); err != nil {
			return err
		}
	}
	return nil
}
