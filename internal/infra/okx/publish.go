package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spider_go/internal/book"
	"spider_go/internal/domain"
	"spider_go/internal/stream"

	"github.com/vmihailenko/msgpack/v5"
)

const (
	// Mark and underlying prices are published at most once per interval per topic.
	priceInterval = time.Second
	indexCacheTTL = 72 * time.Hour
)

// submit queues fn on the dispatcher under key, so all output of one
// instrument is written in the order its frames arrived. Units of a
// connection that has since been replaced are dropped.
func (c *Client) submit(ctx context.Context, sess *stream.Session, key string, kind domain.DataKind, fn func(ctx context.Context) error) error {
	return c.dispatch.Dispatch(ctx, key, func(uctx context.Context) error {
		if sess.Stale() {
			return nil
		}
		if err := fn(uctx); err != nil {
			return fmt.Errorf("publish %s %s: %w", kind, key, err)
		}
		c.metrics.RecordPublish(string(kind))
		return nil
	})
}

// publishBook caches the msgpack encoded book under its BOOK topic.
func (c *Client) publishBook(ctx context.Context, sess *stream.Session, view book.View) error {
	topic := domain.InstrumentTopic(view.Instrument, domain.KindBook)
	return c.submit(ctx, sess, view.InstrumentName, domain.KindBook, func(uctx context.Context) error {
		view.Stamp(c.now())
		b, err := msgpack.Marshal(&view)
		if err != nil {
			return err
		}
		return c.sink.SetCache(uctx, topic, b, 0)
	})
}

// cache stores the latest payload of an instrument.
func (c *Client) cache(ctx context.Context, sess *stream.Session, inst domain.Instrument, kind domain.DataKind, payload any) error {
	topic := domain.InstrumentTopic(inst, kind)
	return c.submit(ctx, sess, inst.Name, kind, func(uctx context.Context) error {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return err
		}
		return c.sink.SetCache(uctx, topic, b, 0)
	})
}

// publish streams a payload of an instrument to subscribers.
func (c *Client) publish(ctx context.Context, sess *stream.Session, inst domain.Instrument, kind domain.DataKind, payload any) error {
	topic := domain.InstrumentTopic(inst, kind)
	return c.submit(ctx, sess, inst.Name, kind, func(uctx context.Context) error {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return err
		}
		return c.sink.Publish(uctx, topic, b)
	})
}

// publishPrice publishes a mark or underlying price, throttled per topic.
func (c *Client) publishPrice(ctx context.Context, sess *stream.Session, inst domain.Instrument, kind domain.DataKind, price float64) error {
	topic := domain.InstrumentTopic(inst, kind)
	now := c.now()
	if last, ok := c.publishedAt[topic]; ok && now.Sub(last) < priceInterval {
		return nil
	}
	c.publishedAt[topic] = now

	point := domain.PricePoint{
		InstrumentName: inst.Name,
		Price:          price,
		Timestamp:      now.UnixMilli(),
		ExpirationAt:   inst.ExpirationMillis(),
	}
	return c.publish(ctx, sess, inst, kind, point)
}

// publishIndex streams an index price and caches it as JSON for a few days.
func (c *Client) publishIndex(ctx context.Context, sess *stream.Session, index string, price float64, ms int64) error {
	if ms == 0 {
		ms = c.now().UnixMilli()
	}
	currency, _, _ := strings.Cut(index, "_")
	topic := domain.Topic(c.opt.Exchange, domain.CategoryIndex, currency, index, domain.KindIndexPrice)
	point := domain.PricePoint{InstrumentName: index, Price: price, Timestamp: ms}

	return c.submit(ctx, sess, index, domain.KindIndexPrice, func(uctx context.Context) error {
		packed, err := msgpack.Marshal(&point)
		if err != nil {
			return err
		}
		if err := c.sink.Publish(uctx, topic, packed); err != nil {
			return err
		}
		if price == 0 {
			return nil
		}
		cached, err := json.Marshal(&point)
		if err != nil {
			return err
		}
		return c.sink.SetCache(uctx, topic, cached, indexCacheTTL)
	})
}
