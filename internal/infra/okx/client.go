package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"spider_go/internal/book"
	"spider_go/internal/dispatch"
	"spider_go/internal/domain"
	"spider_go/internal/infra"
	"spider_go/internal/instrument"
	"spider_go/internal/sink"
	"spider_go/internal/stream"

	"github.com/shopspring/decimal"
)

// subscribePage caps the number of channels in one subscribe request.
const subscribePage = 500

// Discoverer lists instruments over REST. *RestClient satisfies it.
type Discoverer interface {
	Instruments(ctx context.Context, q InstrumentQuery) ([]InstrumentData, error)
}

// InstrumentStore persists discovered instruments.
type InstrumentStore interface {
	UpsertInstruments(insts []domain.Instrument) error
}

// Options configures a Client.
type Options struct {
	Exchange     string
	WSURL        string // base url, without the /ws/v5 path
	Testnet      bool
	Currencies   []string
	Kinds        []string
	BookChannel  string
	PublishDepth int
	MarkPrice    bool
	FundingRate  bool
	IndexTickers bool
	LoginTimeout time.Duration

	APIKey     string
	SecretKey  string
	Passphrase string

	Logger  *slog.Logger
	Metrics *infra.Metrics
	Gate    *infra.RateGate
	Now     func() time.Time
}

// Client is the OKX side of the stream: it resolves the endpoint, logs in,
// discovers and subscribes instruments, and turns channel pushes into
// published market data.
type Client struct {
	opt      Options
	filter   *Filter
	signer   *Signer
	rest     Discoverer
	store    InstrumentStore
	catalog  *instrument.Catalog
	registry *book.Registry
	dispatch *dispatch.Dispatcher
	sink     sink.Sink
	logger   *slog.Logger
	metrics  *infra.Metrics
	gate     *infra.RateGate
	now      func() time.Time

	handlers map[string]handlerFunc

	// Owned by the receive loop.
	markPrices  map[string]decimal.Decimal
	publishedAt map[string]time.Time
}

type handlerFunc func(ctx context.Context, sess *stream.Session, f *frame) error

// NewClient wires a client. store may be nil.
func NewClient(
	opt Options,
	rest Discoverer,
	store InstrumentStore,
	catalog *instrument.Catalog,
	registry *book.Registry,
	dispatcher *dispatch.Dispatcher,
	out sink.Sink,
) (*Client, error) {
	filter, err := NewFilter(opt.Currencies, opt.Kinds)
	if err != nil {
		return nil, err
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Gate == nil {
		opt.Gate = infra.NewRateGate(100, 0.2)
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.BookChannel == "" {
		opt.BookChannel = "books5"
	}
	if opt.LoginTimeout <= 0 {
		opt.LoginTimeout = 10 * time.Second
	}

	c := &Client{
		opt:         opt,
		filter:      filter,
		rest:        rest,
		store:       store,
		catalog:     catalog,
		registry:    registry,
		dispatch:    dispatcher,
		sink:        out,
		logger:      opt.Logger.With(slog.String("module", "okx")),
		metrics:     opt.Metrics,
		gate:        opt.Gate,
		now:         opt.Now,
		markPrices:  make(map[string]decimal.Decimal),
		publishedAt: make(map[string]time.Time),
	}
	if opt.APIKey != "" && opt.SecretKey != "" {
		c.signer = NewSigner(opt.APIKey, opt.SecretKey, opt.Passphrase)
	}
	c.handlers = map[string]handlerFunc{
		"login":             c.handleLogin,
		"subscribe":         c.handleSubscribe,
		"error":             c.handleError,
		"books":             c.handleBooks,
		ChannelInstruments:  c.handleInstruments,
		ChannelOptSummary:   c.handleOptSummary,
		ChannelMarkPrice:    c.handleMarkPrice,
		ChannelTickers:      c.handleTickers,
		ChannelOpenInterest: c.handleOpenInterest,
		ChannelFundingRate:  c.handleFundingRate,
		ChannelIndexTickers: c.handleIndexTickers,
	}
	return c, nil
}

// Endpoint returns the public v5 url. Testnet connections carry the demo broker id.
func (c *Client) Endpoint(context.Context) (string, error) {
	url := strings.TrimSuffix(c.opt.WSURL, "/") + "/ws/v5/public"
	if c.opt.Testnet {
		url += "?brokerId=9999"
	}
	return url, nil
}

// OnConnect starts a fresh replica set for the new connection.
func (c *Client) OnConnect(sess *stream.Session) {
	c.registry.Reset(c.now().UnixMilli())
	c.logger.Info("📚 replicas reset",
		slog.Int64("connection_id", c.registry.ConnectionID()),
		slog.Uint64("token", sess.Token()),
	)
}

// Setup logs in when credentials are configured, then discovers instruments
// and subscribes their channels.
func (c *Client) Setup(ctx context.Context, sess *stream.Session) error {
	if c.signer != nil {
		if err := c.login(ctx, sess); err != nil {
			return err
		}
	}

	insts, err := c.discover(ctx)
	if err != nil {
		return err
	}
	if err := c.track(sess, insts); err != nil {
		return err
	}
	if err := c.subscribe(sess, c.streamChannels()); err != nil {
		return err
	}

	c.logger.Info("✅ stream setup finished",
		slog.Int("instruments", c.catalog.Len()),
		slog.Uint64("token", sess.Token()),
	)
	return nil
}

func (c *Client) login(ctx context.Context, sess *stream.Session) error {
	err := sess.SendAndWait(ctx, c.signer.LoginRequest(c.now()), loginReply, c.opt.LoginTimeout)
	switch {
	case err == nil:
		c.logger.Info("🔑 logged in", slog.Uint64("token", sess.Token()))
		return nil
	case errors.Is(err, stream.ErrReplyTimeout):
		return &domain.AuthError{Err: domain.ErrAuthTimeout}
	}
	return err
}

// loginReply accepts the login event, or an error event, as the reply to login.
func loginReply(raw []byte) (bool, error) {
	var f frame
	if json.Unmarshal(raw, &f) != nil {
		return false, nil
	}
	switch f.Event {
	case "login":
		if f.Code == "" || f.Code == "0" {
			return true, nil
		}
		return true, &domain.AuthError{Code: f.Code, Msg: f.Msg}
	case "error":
		return true, &domain.AuthError{Code: f.Code, Msg: f.Msg}
	}
	return false, nil
}

// discover lists every configured instrument type. A failed listing is
// skipped; discovery fails only when nothing could be listed.
func (c *Client) discover(ctx context.Context) ([]InstrumentData, error) {
	var (
		all    []InstrumentData
		listed int
		errs   []error
	)
	for _, q := range c.queries() {
		items, err := c.rest.Instruments(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			c.logger.Warn("instrument listing failed",
				slog.String("inst_type", q.InstType),
				slog.String("inst_family", q.InstFamily),
				slog.Any("error", err),
			)
			continue
		}
		listed++
		all = append(all, items...)
	}
	if listed == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("discover instruments: %w", errors.Join(errs...))
	}
	return all, nil
}

func (c *Client) queries() []InstrumentQuery {
	var out []InstrumentQuery
	for _, instType := range c.filter.InstTypes() {
		if instType != InstOption {
			out = append(out, InstrumentQuery{InstType: instType})
			continue
		}
		for _, family := range c.filter.OptionFamilies() {
			base, _, _ := strings.Cut(family, "-")
			out = append(out, InstrumentQuery{InstType: InstOption, Uly: base + "-USD", InstFamily: family})
		}
	}
	return out
}

// track filters listed instruments, records the accepted ones and
// subscribes their market channels.
func (c *Client) track(sess *stream.Session, items []InstrumentData) error {
	now := c.now()
	accepted := make([]domain.Instrument, 0, len(items))
	for _, item := range items {
		if !c.filter.Accept(item.InstType, item.InstID) {
			continue
		}
		inst, err := item.ToInstrument(c.opt.Exchange)
		if err != nil {
			c.logger.Warn("instrument skipped", slog.String("inst_id", item.InstID), slog.Any("error", err))
			continue
		}
		if inst.Expired(now) {
			continue
		}
		accepted = append(accepted, inst)
	}
	if len(accepted) == 0 {
		return nil
	}

	c.catalog.Put(accepted...)
	if c.store != nil {
		if err := c.store.UpsertInstruments(accepted); err != nil {
			c.logger.Warn("instrument persist failed", slog.Any("error", err))
		}
	}
	c.logger.Debug("instruments tracked", slog.Int("count", len(accepted)))
	return c.subscribe(sess, c.marketChannels(accepted))
}

// marketChannels lists the per-instrument subscriptions.
func (c *Client) marketChannels(insts []domain.Instrument) []ChannelArg {
	args := make([]ChannelArg, 0, len(insts)*3)
	for _, inst := range insts {
		id := inst.ExchangeID
		args = append(args, ChannelArg{Channel: c.opt.BookChannel, InstID: id})
		if inst.Category.IsDerivative() {
			args = append(args,
				ChannelArg{Channel: ChannelOpenInterest, InstID: id},
				ChannelArg{Channel: ChannelTickers, InstID: id},
			)
		}
		if c.opt.MarkPrice && (inst.Category.IsDerivative() || inst.Category.IsOption()) {
			args = append(args, ChannelArg{Channel: ChannelMarkPrice, InstID: id})
		}
		if c.opt.FundingRate && strings.HasPrefix(string(inst.Category), "SWAP") {
			args = append(args, ChannelArg{Channel: ChannelFundingRate, InstID: id})
		}
	}
	return args
}

// streamChannels lists the subscriptions that are not tied to one instrument.
func (c *Client) streamChannels() []ChannelArg {
	var args []ChannelArg
	for _, instType := range c.filter.InstTypes() {
		args = append(args, ChannelArg{Channel: ChannelInstruments, InstType: instType})
	}
	for _, family := range c.filter.OptionFamilies() {
		args = append(args, ChannelArg{Channel: ChannelOptSummary, InstFamily: family})
	}
	if c.opt.IndexTickers {
		for _, ccy := range c.filter.sortedCurrencies() {
			if ccy == "USDT" || ccy == "USDC" {
				continue
			}
			for _, quote := range []string{"USD", "USDT", "BTC"} {
				if ccy == quote {
					continue
				}
				args = append(args, ChannelArg{Channel: ChannelIndexTickers, InstID: ccy + "-" + quote})
			}
		}
	}
	return args
}

// subscribe sends args in pages of subscribePage.
func (c *Client) subscribe(sess *stream.Session, args []ChannelArg) error {
	for start := 0; start < len(args); start += subscribePage {
		end := min(start+subscribePage, len(args))
		if err := sess.Send(request{Op: "subscribe", Args: args[start:end]}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	return nil
}

// HandleFrame classifies a frame and runs its handler on the receive loop.
func (c *Client) HandleFrame(ctx context.Context, sess *stream.Session, raw []byte) error {
	if string(raw) == "pong" {
		return nil
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return &domain.DecodeError{Kind: "frame", Err: err}
	}

	kind := classify(&f)
	handle, ok := c.handlers[kind]
	if !ok {
		c.logger.Debug("unknown message", slog.String("kind", kind), slog.String("raw", string(raw)))
		return nil
	}
	return handle(ctx, sess, &f)
}

// classify names the handler of a frame: the event for replies, the
// channel for pushes, with every books variant folded into "books".
func classify(f *frame) string {
	if f.Event != "" {
		return f.Event
	}
	channel := f.Arg.Channel
	switch {
	case channel == "":
		return "unknown"
	case strings.HasPrefix(channel, "books"), channel == "bbo-tbt":
		return "books"
	case strings.HasPrefix(channel, "candle"):
		return "candle"
	}
	return channel
}
