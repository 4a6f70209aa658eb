package okx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spider_go/internal/book"
	"spider_go/internal/dispatch"
	"spider_go/internal/domain"
	"spider_go/internal/infra"
	"spider_go/internal/instrument"
	"spider_go/internal/sink"
	"spider_go/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenko/msgpack/v5"
)

const (
	swapUSD  = "EXECUTE_ENGINE.SPIDER.OKEX.SWAP_USD.BTC.BTC-PERPETUAL"
	swapUSDT = "EXECUTE_ENGINE.SPIDER.OKEX.SWAP_USDT.BTC.BTC-USDT-PERPETUAL"
	option   = "EXECUTE_ENGINE.SPIDER.OKEX.OPTION.BTC.BTC-28JUN30-45000-C"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRest struct {
	mu      sync.Mutex
	queries []InstrumentQuery
	listing map[string][]InstrumentData
}

func (f *fakeRest) Instruments(_ context.Context, q InstrumentQuery) ([]InstrumentData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.listing[q.InstType+"/"+q.InstFamily], nil
}

func (f *fakeRest) Queries() []InstrumentQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InstrumentQuery(nil), f.queries...)
}

func defaultListing() map[string][]InstrumentData {
	return map[string][]InstrumentData{
		"SWAP/": {
			{InstType: InstSwap, InstID: "BTC-USD-SWAP", CtVal: "100", CtMult: "1", SettleCcy: "BTC"},
			{InstType: InstSwap, InstID: "BTC-USDT-SWAP", CtVal: "0.01", CtMult: "1", SettleCcy: "USDT"},
			{InstType: InstSwap, InstID: "BTC-USDC-SWAP", CtVal: "0.0001", CtMult: "1"},
			{InstType: InstSwap, InstID: "ETH-USD-SWAP", CtVal: "10", CtMult: "1"},
		},
		"OPTION/BTC-USD": {
			{InstType: InstOption, InstID: "BTC-USD-300628-45000-C", CtVal: "1", CtMult: "0.01", ExpTime: "1908864000000"},
			{InstType: InstOption, InstID: "BTC-USD-291228-40000-P", CtVal: "1", CtMult: "0.01", ExpTime: "1893139200000"},
		},
	}
}

type fakeStore struct {
	mu    sync.Mutex
	saved []domain.Instrument
}

func (s *fakeStore) UpsertInstruments(insts []domain.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, insts...)
	return nil
}

func (s *fakeStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, inst := range s.saved {
		out = append(out, inst.Name)
	}
	return out
}

type inbound struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// exchange is a scripted OKX websocket endpoint.
type exchange struct {
	url        string
	loginReply string

	mu    sync.Mutex
	conn  *websocket.Conn
	conns int
	ops   []inbound

	writeMu sync.Mutex
}

func newExchange(t *testing.T, loginReply string) *exchange {
	t.Helper()
	ex := &exchange{loginReply: loginReply}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/v5/public" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ex.mu.Lock()
		ex.conn = conn
		ex.conns++
		ex.mu.Unlock()
		ex.serve(conn)
	}))
	t.Cleanup(srv.Close)
	ex.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ex
}

func (ex *exchange) serve(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req inbound
		if json.Unmarshal(raw, &req) != nil {
			continue
		}
		ex.mu.Lock()
		ex.ops = append(ex.ops, req)
		ex.mu.Unlock()
		if req.Op == "login" && ex.loginReply != "" {
			ex.write(conn, ex.loginReply)
		}
	}
}

func (ex *exchange) write(conn *websocket.Conn, msg string) {
	ex.writeMu.Lock()
	defer ex.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Send pushes a frame on the current connection.
func (ex *exchange) Send(msg string) {
	ex.mu.Lock()
	conn := ex.conn
	ex.mu.Unlock()
	ex.write(conn, msg)
}

func (ex *exchange) Ops(op string) []inbound {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	var out []inbound
	for _, req := range ex.ops {
		if req.Op == op {
			out = append(out, req)
		}
	}
	return out
}

// Subscribed returns every channel argument sent so far.
func (ex *exchange) Subscribed() []ChannelArg {
	var out []ChannelArg
	for _, req := range ex.Ops("subscribe") {
		var args []ChannelArg
		if json.Unmarshal(req.Args, &args) == nil {
			out = append(out, args...)
		}
	}
	return out
}

type harness struct {
	ex      *exchange
	rest    *fakeRest
	store   *fakeStore
	sink    *sink.Memory
	metrics *infra.Metrics
	clock   *clock
	disp    *dispatch.Dispatcher
	sup     *stream.Supervisor
}

func newHarness(t *testing.T, loginReply string, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{
		ex:      newExchange(t, loginReply),
		rest:    &fakeRest{listing: defaultListing()},
		store:   &fakeStore{},
		sink:    sink.NewMemory(),
		metrics: infra.NewMetrics(prometheus.NewRegistry()),
		clock:   &clock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := dispatch.New(ctx, dispatch.Options{Workers: 4, QueueSize: 64, Metrics: h.metrics})
	h.disp = dispatcher

	opt := Options{
		Exchange:    "OKEX",
		WSURL:       h.ex.url,
		Currencies:  []string{"BTC"},
		Kinds:       []string{"SWAP_USD", "SWAP_USDT", "OPTION"},
		MarkPrice:   true,
		FundingRate: true,
		Metrics:     h.metrics,
		Now:         h.clock.Now,
	}
	if configure != nil {
		configure(&opt)
	}
	client, err := NewClient(opt, h.rest, h.store, instrument.NewCatalog(), book.NewRegistry(5), dispatcher, h.sink)
	require.NoError(t, err)

	h.sup = stream.NewSupervisor(client, stream.WSDialer{HandshakeTimeout: time.Second}, stream.Options{
		StaleThreshold:   10 * time.Second,
		WatchdogCooldown: time.Second,
		ReconnectBackoff: 10 * time.Millisecond,
		WriteTimeout:     time.Second,
		Metrics:          h.metrics,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		dispatcher.Close()
	})
	return h
}

// ready waits until setup has subscribed the stream channels.
func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, arg := range h.ex.Subscribed() {
			if arg.Channel == ChannelInstruments {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "setup did not subscribe")
}

type bookPayload struct {
	InstrumentName string         `msgpack:"instrument_name"`
	Bids           [][]float64    `msgpack:"bids"`
	Asks           [][]float64    `msgpack:"asks"`
	DueTime        float64        `msgpack:"due_time"`
	DataMs         int64          `msgpack:"data_ms"`
	MsgMs          int64          `msgpack:"msg_ms"`
	Greeks         *domain.Greeks `msgpack:"greeks"`
	MarkPrice      *float64       `msgpack:"mark_price"`
	MarkIV         float64        `msgpack:"mark_iv"`
	BidIV          float64        `msgpack:"bid_iv"`
	AskIV          float64        `msgpack:"ask_iv"`
	ConnectionID   int64          `msgpack:"connection_id"`
	ExpirationAt   *int64         `msgpack:"expiration_at"`
	ExpirationDays *int64         `msgpack:"expiration_days"`
}

func (h *harness) book(topic string) (bookPayload, bool) {
	raw, ok := h.sink.Cached(topic + ".BOOK")
	if !ok {
		return bookPayload{}, false
	}
	var p bookPayload
	if msgpack.Unmarshal(raw, &p) != nil {
		return bookPayload{}, false
	}
	return p, true
}

func (h *harness) waitBook(t *testing.T, topic string, cond func(bookPayload) bool) bookPayload {
	t.Helper()
	var last bookPayload
	require.Eventually(t, func() bool {
		p, ok := h.book(topic)
		last = p
		return ok && cond(p)
	}, 2*time.Second, 5*time.Millisecond, "book %s never matched, last %+v", topic, last)
	return last
}

func TestClient_SetupDiscoversAndSubscribes(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	assert.Equal(t, []InstrumentQuery{
		{InstType: InstSwap},
		{InstType: InstOption, Uly: "BTC-USD", InstFamily: "BTC-USD"},
	}, h.rest.Queries())

	args := h.ex.Subscribed()
	for _, want := range []ChannelArg{
		{Channel: "books5", InstID: "BTC-USD-SWAP"},
		{Channel: "books5", InstID: "BTC-USDT-SWAP"},
		{Channel: "books5", InstID: "BTC-USD-300628-45000-C"},
		{Channel: ChannelTickers, InstID: "BTC-USD-SWAP"},
		{Channel: ChannelOpenInterest, InstID: "BTC-USDT-SWAP"},
		{Channel: ChannelMarkPrice, InstID: "BTC-USD-300628-45000-C"},
		{Channel: ChannelFundingRate, InstID: "BTC-USD-SWAP"},
		{Channel: ChannelInstruments, InstType: InstSwap},
		{Channel: ChannelInstruments, InstType: InstOption},
		{Channel: ChannelOptSummary, InstFamily: "BTC-USD"},
	} {
		assert.Contains(t, args, want)
	}
	for _, arg := range args {
		assert.NotEqual(t, "ETH-USD-SWAP", arg.InstID, "other currencies are filtered")
		assert.NotEqual(t, "BTC-USDC-SWAP", arg.InstID, "unconfigured kinds are filtered")
		assert.NotEqual(t, "BTC-USD-291228-40000-P", arg.InstID, "expired options are dropped")
		if arg.InstID == "BTC-USD-300628-45000-C" {
			assert.NotEqual(t, ChannelTickers, arg.Channel, "options get no ticker channel")
		}
	}
	assert.ElementsMatch(t, []string{"BTC-PERPETUAL", "BTC-USDT-PERPETUAL", "BTC-28JUN30-45000-C"}, h.store.Names())
	assert.Empty(t, h.ex.Ops("login"), "no credentials, no login")
}

func TestClient_BookSnapshotThenUpdate(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["100","2","0","1"],["99","1","0","1"]],"asks":[["101","3","0","1"]],"ts":"1000","seqId":7}]}`)

	p := h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 1000 })
	assert.Equal(t, "BTC-PERPETUAL", p.InstrumentName)
	assert.Equal(t, [][]float64{{100, 200}, {99, 100}}, p.Bids, "sizes are scaled by the contract value")
	assert.Equal(t, [][]float64{{101, 300}}, p.Asks)
	assert.Equal(t, h.clock.Now().UnixMilli(), p.MsgMs)
	assert.Equal(t, h.clock.Now().UnixMilli(), p.ConnectionID)
	assert.Nil(t, p.ExpirationAt)

	h.ex.Send(`{"arg":{"channel":"books","instId":"BTC-USD-SWAP"},"action":"update","data":[{"bids":[["100","0","0","0"]],"asks":[["100.5","1","0","1"]],"ts":"2000"}]}`)

	p = h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 2000 })
	assert.Equal(t, [][]float64{{99, 100}}, p.Bids)
	assert.Equal(t, [][]float64{{100.5, 100}, {101, 300}}, p.Asks)
	assert.GreaterOrEqual(t, h.metrics.Snapshot().BooksApplied, uint64(2))
}

func TestClient_UpdateBeforeSnapshotIsDropped(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)
	token := h.sup.Token()

	h.ex.Send(`{"arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"action":"update","data":[{"bids":[["100","1"]],"asks":[],"ts":"1"}]}`)
	h.ex.Send(`{"arg":{"channel":"books5","instId":"SOL-USDT-SWAP"},"data":[{"bids":[["1","1"]],"asks":[],"ts":"1"}]}`)
	h.ex.Send(`not json`)

	require.Eventually(t, func() bool { return h.metrics.Snapshot().DecodeFailures >= 3 }, 2*time.Second, 5*time.Millisecond)
	_, ok := h.book(swapUSDT)
	assert.False(t, ok)

	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USDT-SWAP"},"data":[{"bids":[["100","1"]],"asks":[["101","1"]],"ts":"5"}]}`)
	p := h.waitBook(t, swapUSDT, func(p bookPayload) bool { return p.DataMs == 5 })
	assert.Equal(t, [][]float64{{100, 0.01}}, p.Bids)
	assert.Equal(t, token, h.sup.Token(), "bad frames never drop the connection")
}

func TestClient_RejectedUpdateLeavesBookUntouched(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["100","2"]],"asks":[["101","3"]],"ts":"1"}]}`)
	h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 1 })

	// Valid bid delete, malformed ask.
	h.ex.Send(`{"arg":{"channel":"books","instId":"BTC-USD-SWAP"},"action":"update","data":[{"bids":[["100","0"]],"asks":[["oops","1"]],"ts":"2"}]}`)
	require.Eventually(t, func() bool { return h.metrics.Snapshot().DecodeFailures >= 1 }, 2*time.Second, 5*time.Millisecond)

	h.ex.Send(`{"arg":{"channel":"books","instId":"BTC-USD-SWAP"},"action":"update","data":[{"asks":[["102","1"]],"ts":"3"}]}`)
	p := h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 3 })
	assert.Equal(t, [][]float64{{100, 200}}, p.Bids, "bid side of the rejected frame was not applied")
	assert.Equal(t, [][]float64{{101, 300}, {102, 100}}, p.Asks)
}

func TestClient_QueuedPublishDroppedAfterReconnect(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)
	require.Equal(t, uint64(1), h.sup.Token())

	release := make(chan struct{})
	require.NoError(t, h.disp.Dispatch(context.Background(), "BTC-PERPETUAL", func(context.Context) error {
		<-release
		return nil
	}))

	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["100","2"]],"asks":[["101","3"]],"ts":"1"}]}`)
	require.Eventually(t, func() bool { return h.metrics.Snapshot().BooksApplied >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.sup.Reconnect(errors.New("forced")))
	require.Eventually(t, func() bool { return h.sup.Token() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	drained := make(chan struct{})
	require.NoError(t, h.disp.Dispatch(context.Background(), "BTC-PERPETUAL", func(context.Context) error {
		close(drained)
		return nil
	}))
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}

	_, ok := h.book(swapUSD)
	assert.False(t, ok, "book queued by the replaced connection must not reach the sink")
	assert.Empty(t, h.sink.Topic(swapUSD+".BOOK"))
}

func TestClient_OptionAnnotations(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send(`{"arg":{"channel":"mark-price","instId":"BTC-USD-300628-45000-C"},"data":[{"instType":"OPTION","instId":"BTC-USD-300628-45000-C","markPx":"0.05","ts":"1"}]}`)
	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-300628-45000-C"},"data":[{"bids":[["0.04","100"]],"asks":[["0.06","200"]],"ts":"10"}]}`)
	h.ex.Send(`{"arg":{"channel":"opt-summary","instFamily":"BTC-USD"},"data":[{"instId":"BTC-USD-300628-45000-C","delta":"0.5","gamma":"0.1","theta":"-0.01","vega":"0.2","markVol":"0.5","bidVol":"0.45","askVol":"0.55","fwdPx":"60000","ts":"11"}]}`)
	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-300628-45000-C"},"data":[{"bids":[["0.04","100"]],"asks":[["0.06","200"]],"ts":"12"}]}`)

	p := h.waitBook(t, option, func(p bookPayload) bool { return p.DataMs == 12 })
	assert.Equal(t, [][]float64{{0.04, 1}}, p.Bids)
	assert.Equal(t, 50.0, p.MarkIV)
	assert.Equal(t, 45.0, p.BidIV)
	assert.Equal(t, 55.0, p.AskIV)
	require.NotNil(t, p.Greeks)
	assert.Equal(t, 0.5, p.Greeks.Delta)
	require.NotNil(t, p.MarkPrice)
	assert.Equal(t, 0.05, *p.MarkPrice)
	require.NotNil(t, p.ExpirationAt)
	assert.Equal(t, int64(1908864000000), *p.ExpirationAt)
	require.NotNil(t, p.ExpirationDays)
	assert.Equal(t, int64(178), *p.ExpirationDays)

	require.Eventually(t, func() bool { return len(h.sink.Topic(option+".UNDERLYING_PRICE")) == 1 }, time.Second, 5*time.Millisecond)
	var point domain.PricePoint
	require.NoError(t, msgpack.Unmarshal(h.sink.Topic(option+".UNDERLYING_PRICE")[0].Payload, &point))
	assert.Equal(t, 60000.0, point.Price)
	assert.False(t, h.sink.Topic(option + ".MARK_PRICE")[0].Cached, "mark prices are published, not cached")
}

func TestClient_MarkPriceThrottledPerInstrument(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	mark := func(px string) string {
		return `{"arg":{"channel":"mark-price","instId":"BTC-USD-SWAP"},"data":[{"instType":"SWAP","instId":"BTC-USD-SWAP","markPx":"` + px + `","ts":"1"}]}`
	}
	funding := `{"arg":{"channel":"funding-rate","instId":"BTC-USD-SWAP"},"data":[{"instId":"BTC-USD-SWAP","fundingRate":"0.0001","nextFundingRate":"0.0002","fundingTime":"1622822400000","nextFundingTime":"1622851200000"}]}`

	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["1","1"]],"asks":[["2","1"]],"ts":"3"}]}`)
	h.ex.Send(mark("50000"))
	h.ex.Send(mark("50001"))
	h.ex.Send(funding)
	require.Eventually(t, func() bool { return len(h.sink.Topic(swapUSD+".FUNDING_RATE")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.sink.Topic(swapUSD+".MARK_PRICE"), 1, "second mark within a second is throttled")

	h.clock.Advance(time.Second)
	h.ex.Send(mark("50002"))
	require.Eventually(t, func() bool { return len(h.sink.Topic(swapUSD+".MARK_PRICE")) == 2 }, time.Second, 5*time.Millisecond)

	var rate domain.FundingRate
	require.NoError(t, msgpack.Unmarshal(h.sink.Topic(swapUSD + ".FUNDING_RATE")[0].Payload, &rate))
	assert.Equal(t, "BTC-PERPETUAL", rate.InstrumentName)
	assert.Equal(t, 0.0002, rate.NextFundingRate)
	assert.Equal(t, int64(1622851200000), rate.NextFundingTime)

	// The swap book picks up the mark price as its annotation.
	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["1","1"]],"asks":[["2","1"]],"ts":"4"}]}`)
	p := h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 4 })
	require.NotNil(t, p.MarkPrice)
	assert.Equal(t, 50002.0, *p.MarkPrice)
}

func TestClient_TickerAndOpenInterestCached(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send(`{"arg":{"channel":"tickers","instId":"BTC-USD-SWAP"},"data":[{"instId":"BTC-USD-SWAP","last":"100","lastSz":"1","askPx":"101","askSz":"2","bidPx":"99","bidSz":"3","high24h":"110","low24h":"90","volCcy24h":"5","vol24h":"7","ts":"42"}]}`)
	h.ex.Send(`{"arg":{"channel":"open-interest","instId":"BTC-USD-SWAP"},"data":[{"instId":"BTC-USD-SWAP","oi":"5000","oiCcy":"555.5","ts":"43"}]}`)

	require.Eventually(t, func() bool {
		_, a := h.sink.Cached(swapUSD + ".TICKER")
		_, b := h.sink.Cached(swapUSD + ".OPEN_INTEREST")
		return a && b
	}, time.Second, 5*time.Millisecond)

	raw, _ := h.sink.Cached(swapUSD + ".TICKER")
	var ticker domain.PublicTicker
	require.NoError(t, msgpack.Unmarshal(raw, &ticker))
	assert.Equal(t, 99.0, ticker.BestBidPrice)
	assert.Equal(t, 300.0, ticker.BestBidAmount)
	assert.Equal(t, 700.0, ticker.Volume24h)
	assert.Equal(t, int64(42), ticker.Timestamp)

	raw, _ = h.sink.Cached(swapUSD + ".OPEN_INTEREST")
	var oi domain.OpenInterest
	require.NoError(t, msgpack.Unmarshal(raw, &oi))
	assert.Equal(t, 5000.0, oi.OpenInterest)
	assert.Equal(t, 555.5, oi.OpenInterestCcy)
}

func TestClient_IndexTickers(t *testing.T) {
	h := newHarness(t, "", func(o *Options) { o.IndexTickers = true })
	h.ready(t)
	assert.Contains(t, h.ex.Subscribed(), ChannelArg{Channel: ChannelIndexTickers, InstID: "BTC-USDT"})

	h.ex.Send(`{"arg":{"channel":"index-tickers","instId":"BTC-USD"},"data":[{"instId":"BTC-USD","idxPx":"64000.5","ts":"77"}]}`)

	topic := "EXECUTE_ENGINE.SPIDER.OKEX.INDEX.BTC.BTC_USD.INDEX_PRICE"
	require.Eventually(t, func() bool { return len(h.sink.Topic(topic)) == 2 }, time.Second, 5*time.Millisecond)

	msgs := h.sink.Topic(topic)
	assert.False(t, msgs[0].Cached)
	assert.True(t, msgs[1].Cached)
	assert.Equal(t, indexCacheTTL, msgs[1].TTL)

	var point domain.PricePoint
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &point))
	assert.Equal(t, "BTC_USD", point.InstrumentName)
	assert.Equal(t, 64000.5, point.Price)
	assert.Equal(t, int64(77), point.Timestamp)
}

func TestClient_InstrumentsChannelAddsListings(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send(`{"arg":{"channel":"instruments","instType":"OPTION"},"data":[{"instType":"OPTION","instId":"BTC-USD-300927-50000-P","ctVal":"1","ctMult":"0.01","expTime":"1916812800000"}]}`)

	require.Eventually(t, func() bool {
		for _, arg := range h.ex.Subscribed() {
			if arg.InstID == "BTC-USD-300927-50000-P" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.store.Names(), "BTC-27SEP30-50000-P")
}

func TestClient_PongAndUnknownFramesIgnored(t *testing.T) {
	h := newHarness(t, "", nil)
	h.ready(t)

	h.ex.Send("pong")
	h.ex.Send(`{"arg":{"channel":"candle1m","instId":"BTC-USD-SWAP"},"data":[]}`)
	h.ex.Send(`{"event":"subscribe","arg":{"channel":"books5","instId":"BTC-USD-SWAP"}}`)
	h.ex.Send(`{"event":"error","code":"60012","msg":"Invalid request"}`)
	h.ex.Send(`{"arg":{"channel":"books5","instId":"BTC-USD-SWAP"},"data":[{"bids":[["1","1"]],"asks":[["2","1"]],"ts":"9"}]}`)

	h.waitBook(t, swapUSD, func(p bookPayload) bool { return p.DataMs == 9 })
	assert.Zero(t, h.metrics.Snapshot().DecodeFailures)
}

func TestClient_LoginBeforeSubscribe(t *testing.T) {
	h := newHarness(t, `{"event":"login","code":"0","msg":"","connId":"a4d3ae55"}`, func(o *Options) {
		o.APIKey, o.SecretKey, o.Passphrase = "key", "secret", "pass"
	})
	h.ready(t)

	logins := h.ex.Ops("login")
	require.Len(t, logins, 1)
	var args []loginArg
	require.NoError(t, json.Unmarshal(logins[0].Args, &args))
	require.Len(t, args, 1)
	assert.Equal(t, "key", args[0].APIKey)
	assert.Equal(t, computeHmacSha256(args[0].Timestamp+"GET/users/self/verify", "secret"), args[0].Sign)
	assert.Zero(t, h.metrics.Snapshot().AuthFailures)
}

func TestClient_LoginRejectedRetriesWholeCycle(t *testing.T) {
	h := newHarness(t, `{"event":"error","code":"60009","msg":"Login failed."}`, func(o *Options) {
		o.APIKey, o.SecretKey, o.Passphrase = "key", "bad", "pass"
	})

	require.Eventually(t, func() bool { return h.metrics.Snapshot().AuthFailures >= 2 }, 3*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, len(h.ex.Ops("login")), 2, "each reconnect logs in again")
	assert.Empty(t, h.ex.Ops("subscribe"), "nothing is subscribed without a login")
}

func TestClient_Endpoint(t *testing.T) {
	c, err := NewClient(Options{WSURL: "wss://wspap.okx.com:8443", Testnet: true, Currencies: []string{"BTC"}, Kinds: []string{"SPOT"}},
		&fakeRest{}, nil, instrument.NewCatalog(), book.NewRegistry(5), nil, sink.NewMemory())
	require.NoError(t, err)

	url, err := c.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://wspap.okx.com:8443/ws/v5/public?brokerId=9999", url)
}
